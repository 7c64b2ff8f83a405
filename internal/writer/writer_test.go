package writer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viewmill/viewmill/internal/commit"
	"github.com/viewmill/viewmill/internal/fragments"
	"github.com/viewmill/viewmill/internal/ids"
	"github.com/viewmill/viewmill/internal/ingress"
	"github.com/viewmill/viewmill/internal/model"
	"github.com/viewmill/viewmill/internal/pathkey"
	"github.com/viewmill/viewmill/internal/storage"
	"github.com/viewmill/viewmill/internal/view"
)

func orderModel(t *testing.T) *model.Views {
	t.Helper()
	v, err := model.New(ids.NewChainedVersion("0", "1"), []model.ViewDef{{
		Name: "OrderView",
		Root: "Order",
		Paths: []model.PathDef{
			{
				Refs: []model.Ref{{From: "Order", Field: "customerId", To: "Customer", DocKey: "customer"}},
				Leaf: model.Leaf{Class: "Customer", Fields: []string{"name"}},
			},
		},
	}})
	require.NoError(t, err)
	return v
}

func newWriter(t *testing.T, tweak func(*Config)) (*Writer, *fragments.Store) {
	t.Helper()

	provider := storage.NewMemoryProvider()
	keys := pathkey.XXHash{}
	store := fragments.New(provider, keys)
	swap := model.NewSwapProvider()
	swap.Install(orderModel(t))

	ing := ingress.New(ingress.Config{
		Processor: "write-time",
		Views:     swap,
		Storage:   provider,
		Keys:      keys,
		Commit:    commit.NewStoreCommitter(store, nil),
	})

	cfg := Config{
		Ingress:     ing,
		Instances:   ids.NewFixedInstanceIDs("i-1", "i-2", "i-3", "i-4"),
		BackoffBase: time.Millisecond,
	}
	if tweak != nil {
		tweak(&cfg)
	}
	return New(cfg), store
}

func TestWrite_AssignsIdentities(t *testing.T) {
	ctx := context.Background()
	w, _ := newWriter(t, nil)

	objects, err := w.Write(ctx, Event{
		Tenant: "t1",
		Actor:  "amy",
		Class:  "Customer",
		Fields: map[string]json.RawMessage{"name": json.RawMessage(`"Alice"`)},
	})
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, ids.NewObjectID("Customer", "i-1"), objects[0])
}

func TestWrite_DrainsDependencyOrder(t *testing.T) {
	ctx := context.Background()
	w, store := newWriter(t, nil)

	// Child first, parent second: the order conflicts on attempt one
	// because its customer does not exist yet, then drains once the
	// customer lands.
	objects, err := w.Write(ctx,
		Event{
			Tenant:   "t1",
			Actor:    "amy",
			Class:    "Order",
			Instance: "o-1",
			Refs:     map[string]ids.ObjectID{"customerId": ids.NewObjectID("Customer", "c-1")},
		},
		Event{
			Tenant:   "t1",
			Actor:    "amy",
			Class:    "Customer",
			Instance: "c-1",
			Fields:   map[string]json.RawMessage{"name": json.RawMessage(`"Alice"`)},
		},
	)
	require.NoError(t, err)
	require.Len(t, objects, 2)

	scope := ids.NewTenantScope("t1", "")
	path := view.Path{ids.NewObjectID("Order", "o-1"), ids.NewObjectID("Customer", "c-1")}
	frag, ok, getErr := store.Get(ctx, scope, store.HashPath(path), "name")
	require.NoError(t, getErr)
	require.True(t, ok, "drained batch must materialize the full path")
	assert.Equal(t, `"Alice"`, string(frag.Value))
}

func TestWrite_DrainExhaustion(t *testing.T) {
	ctx := context.Background()
	w, _ := newWriter(t, func(cfg *Config) { cfg.MaxAttempts = 2 })

	// The referenced customer is never written, so the order can never
	// drain.
	_, err := w.Write(ctx, Event{
		Tenant:   "t1",
		Actor:    "amy",
		Class:    "Order",
		Instance: "o-1",
		Refs:     map[string]ids.ObjectID{"customerId": ids.NewObjectID("Customer", "ghost")},
	})
	var drain *DrainError
	require.ErrorAs(t, err, &drain)
	assert.Equal(t, 2, drain.Attempts)
	require.Len(t, drain.Unprocessed, 1)
	assert.Equal(t, ids.NewObjectID("Order", "o-1"), drain.Unprocessed[0].Object)
}

func TestWrite_RejectsMalformedEvents(t *testing.T) {
	ctx := context.Background()
	w, _ := newWriter(t, nil)

	cases := map[string]Event{
		"missing tenant":          {Actor: "amy", Class: "Customer"},
		"missing class":           {Tenant: "t1", Actor: "amy"},
		"delete without instance": {Tenant: "t1", Actor: "amy", Class: "Customer", Delete: true},
		"empty ref target": {
			Tenant: "t1", Actor: "amy", Class: "Order", Instance: "o-1",
			Refs: map[string]ids.ObjectID{"customerId": {}},
		},
	}
	for name, ev := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := w.Write(ctx, ev)
			var werr *WriteError
			require.ErrorAs(t, err, &werr)
		})
	}
}

// brokenIngester fails every call with a storage error.
type brokenIngester struct{}

func (brokenIngester) Ingest(context.Context, []ingress.WrittenEvent) ([]ingress.WrittenEvent, error) {
	return nil, errors.New("disk full")
}

func TestWrite_IngestFailureIsWriteError(t *testing.T) {
	w := New(Config{
		Ingress:   brokenIngester{},
		Instances: ids.NewFixedInstanceIDs("i-1"),
	})

	_, err := w.Write(context.Background(), Event{Tenant: "t1", Actor: "amy", Class: "Customer"})
	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.ErrorContains(t, werr, "disk full")
}

// stuckIngester always returns its whole batch as failed.
type stuckIngester struct{}

func (stuckIngester) Ingest(_ context.Context, batch []ingress.WrittenEvent) ([]ingress.WrittenEvent, error) {
	return batch, nil
}

func TestWrite_CancelledContextStopsDrain(t *testing.T) {
	w := New(Config{
		Ingress:     stuckIngester{},
		Instances:   ids.NewFixedInstanceIDs("i-1"),
		BackoffBase: time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Write(ctx, Event{Tenant: "t1", Actor: "amy", Class: "Customer"})
	var drain *DrainError
	require.ErrorAs(t, err, &drain)
	assert.Len(t, drain.Unprocessed, 1)
}

func TestBackoff_DoublesAndCaps(t *testing.T) {
	base := 10 * time.Millisecond
	assert.Equal(t, 10*time.Millisecond, backoff(base, 0))
	assert.Equal(t, 40*time.Millisecond, backoff(base, 2))
	assert.Equal(t, maxBackoff, backoff(base, 20))
	assert.Equal(t, maxBackoff, backoff(base, 63))
}
