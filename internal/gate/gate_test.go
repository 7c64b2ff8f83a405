package gate

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viewmill/viewmill/internal/ids"
	"github.com/viewmill/viewmill/internal/storage"
)

func newGate() *Gate {
	return New(storage.NewMemoryProvider().Concurrency())
}

func TestGate_OrderingInvariant(t *testing.T) {
	ctx := context.Background()
	g := newGate()
	scope := ids.NewTenantScope("t1", "")
	obj := ids.NewObjectID("Order", "o-1")

	e1 := ids.OrderedID{Seq: 1, Kind: ids.OpAdd}
	e2 := ids.OrderedID{Seq: 2, Kind: ids.OpAdd}

	// Apply e2 first; e1 must then be rejected as stale.
	require.NoError(t, g.CheckOrder(ctx, scope, obj, "total", e2))
	require.NoError(t, g.Apply(ctx, scope, obj, "total", e2))

	err := g.CheckOrder(ctx, scope, obj, "total", e1)
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.True(t, IsConflict(fmt.Errorf("wrapped: %w", err)))
}

func TestGate_DuplicateIsConflict(t *testing.T) {
	ctx := context.Background()
	g := newGate()
	scope := ids.NewTenantScope("t1", "")
	obj := ids.NewObjectID("Order", "o-1")
	id := ids.OrderedID{Seq: 5, Kind: ids.OpAdd}

	require.NoError(t, g.Apply(ctx, scope, obj, "total", id))
	assert.True(t, IsConflict(g.CheckOrder(ctx, scope, obj, "total", id)))
}

func TestGate_FieldsAreIndependent(t *testing.T) {
	ctx := context.Background()
	g := newGate()
	scope := ids.NewTenantScope("t1", "")
	obj := ids.NewObjectID("Order", "o-1")

	require.NoError(t, g.Apply(ctx, scope, obj, "total", ids.OrderedID{Seq: 9}))
	// A smaller id on a different field of the same object is fine.
	assert.NoError(t, g.CheckOrder(ctx, scope, obj, "status", ids.OrderedID{Seq: 3}))
}

func TestGate_Existence(t *testing.T) {
	ctx := context.Background()
	g := newGate()
	scope := ids.NewTenantScope("t1", "")
	obj := ids.NewObjectID("Customer", "c-1")

	assert.True(t, IsConflict(g.CheckExists(ctx, scope, obj)))

	require.NoError(t, g.RecordExistence(ctx, scope, obj, ids.OrderedID{Seq: 1, Kind: ids.OpAdd}))
	assert.NoError(t, g.CheckExists(ctx, scope, obj))

	// Tombstone removes it again.
	require.NoError(t, g.RecordExistence(ctx, scope, obj, ids.OrderedID{Seq: 2, Kind: ids.OpRemove}))
	assert.True(t, IsConflict(g.CheckExists(ctx, scope, obj)))

	// A late-arriving older add must not resurrect the object.
	require.NoError(t, g.RecordExistence(ctx, scope, obj, ids.OrderedID{Seq: 1, Kind: ids.OpAdd}))
	exists, err := g.Exists(ctx, scope, obj)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGate_ScopesAreIsolated(t *testing.T) {
	ctx := context.Background()
	g := newGate()
	obj := ids.NewObjectID("Order", "o-1")

	require.NoError(t, g.Apply(ctx, ids.NewTenantScope("a", ""), obj, "total", ids.OrderedID{Seq: 9}))
	assert.NoError(t, g.CheckOrder(ctx, ids.NewTenantScope("b", ""), obj, "total", ids.OrderedID{Seq: 1}))
}
