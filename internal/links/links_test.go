package links

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viewmill/viewmill/internal/ids"
	"github.com/viewmill/viewmill/internal/model"
	"github.com/viewmill/viewmill/internal/storage"
)

var (
	order1    = ids.NewObjectID("Order", "o-1")
	order2    = ids.NewObjectID("Order", "o-2")
	customer1 = ids.NewObjectID("Customer", "c-1")
	customer2 = ids.NewObjectID("Customer", "c-2")
	region1   = ids.NewObjectID("Region", "r-1")
)

// orderCustomerRegion is Order -> Customer -> Region.
var orderCustomerRegion = model.PathDef{
	Refs: []model.Ref{
		{From: "Order", Field: "customerId", To: "Customer"},
		{From: "Customer", Field: "regionId", To: "Region"},
	},
	Leaf: model.Leaf{Class: "Region", Fields: []string{"name"}},
}

func TestStore_LinkAndInverse(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemoryProvider())
	scope := ids.NewTenantScope("t1", "")

	require.NoError(t, s.Link(ctx, scope, order1, "customerId", customer1, ids.OrderedID{Seq: 1}))

	targets, err := s.Targets(ctx, scope, order1, "customerId")
	require.NoError(t, err)
	assert.Equal(t, []ids.ObjectID{customer1}, targets)

	sources, err := s.Sources(ctx, scope, customer1, "Order", "customerId")
	require.NoError(t, err)
	assert.Equal(t, []ids.ObjectID{order1}, sources)
}

func TestStore_ReplaceDropsOldTarget(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemoryProvider())
	scope := ids.NewTenantScope("t1", "")

	require.NoError(t, s.Replace(ctx, scope, order1, "customerId", customer1, ids.OrderedID{Seq: 1}))
	require.NoError(t, s.Replace(ctx, scope, order1, "customerId", customer2, ids.OrderedID{Seq: 2}))

	targets, err := s.Targets(ctx, scope, order1, "customerId")
	require.NoError(t, err)
	assert.Equal(t, []ids.ObjectID{customer2}, targets)

	// The old back link must be gone too.
	sources, err := s.Sources(ctx, scope, customer1, "Order", "customerId")
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestStore_AncestorsAndDescendants(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemoryProvider())
	scope := ids.NewTenantScope("t1", "")

	// Two orders share customer1; customer1 lives in region1.
	require.NoError(t, s.Link(ctx, scope, order1, "customerId", customer1, ids.OrderedID{Seq: 1}))
	require.NoError(t, s.Link(ctx, scope, order2, "customerId", customer1, ids.OrderedID{Seq: 2}))
	require.NoError(t, s.Link(ctx, scope, customer1, "regionId", region1, ids.OrderedID{Seq: 3}))

	// Region1 at the leaf (step 2) is reached from both orders.
	up, err := s.Ancestors(ctx, scope, orderCustomerRegion, 2, region1)
	require.NoError(t, err)
	require.Len(t, up, 2)
	assert.Equal(t, order1, up[0].Root())
	assert.Equal(t, order2, up[1].Root())
	for _, chain := range up {
		assert.Equal(t, region1, chain.Leaf())
		assert.Len(t, chain, 3)
	}

	// From order1 at the root there is exactly one chain to the leaf.
	down, err := s.Descendants(ctx, scope, orderCustomerRegion, 0, order1)
	require.NoError(t, err)
	require.Len(t, down, 1)
	assert.Equal(t, []ids.ObjectID{order1, customer1, region1}, []ids.ObjectID(down[0]))
}

func TestStore_DescendantsStopAtMissingLink(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemoryProvider())
	scope := ids.NewTenantScope("t1", "")

	// Order links to a customer with no region yet: no complete chain.
	require.NoError(t, s.Link(ctx, scope, order1, "customerId", customer1, ids.OrderedID{Seq: 1}))

	down, err := s.Descendants(ctx, scope, orderCustomerRegion, 0, order1)
	require.NoError(t, err)
	assert.Empty(t, down)
}
