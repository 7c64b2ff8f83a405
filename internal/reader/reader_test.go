package reader

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

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

type fixture struct {
	reader   *Reader
	ingress  *ingress.Ingress
	store    *fragments.Store
	provider storage.Provider
	seq      *ids.OrderedIDProvider
	scope    ids.TenantScope
	stale    []string
}

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
			{
				Leaf: model.Leaf{Class: "Order", Fields: []string{"total"}},
			},
		},
	}})
	require.NoError(t, err)
	return v
}

func newFixture(t *testing.T, tweak func(*Config)) *fixture {
	t.Helper()

	provider := storage.NewMemoryProvider()
	keys := pathkey.XXHash{}
	store := fragments.New(provider, keys)
	swap := model.NewSwapProvider()
	swap.Install(orderModel(t))
	committer := commit.NewStoreCommitter(store, nil)

	f := &fixture{
		store:    store,
		provider: provider,
		seq:      ids.NewOrderedIDProvider(),
		scope:    ids.NewTenantScope("t1", ""),
	}

	cfg := Config{
		Processor: "write-time",
		Views:     swap,
		Storage:   provider,
		Fragments: store,
		OnStaleField: func(_ view.Descriptor, field string, _ view.Fragment) {
			f.stale = append(f.stale, field)
		},
	}
	if tweak != nil {
		tweak(&cfg)
	}
	f.reader = New(cfg)

	f.ingress = ingress.New(ingress.Config{
		Processor: "write-time",
		Views:     swap,
		Storage:   provider,
		Keys:      keys,
		Commit:    committer,
	})
	return f
}

func (f *fixture) ingest(t *testing.T, events ...ingress.WrittenEvent) {
	t.Helper()
	failed, err := f.ingress.Ingest(context.Background(), events)
	require.NoError(t, err)
	require.Empty(t, failed)
}

func (f *fixture) customerEvent(id, name string) ingress.WrittenEvent {
	return ingress.WrittenEvent{
		ID:     f.seq.Next(ids.OpAdd),
		Scope:  f.scope,
		Object: ids.NewObjectID("Customer", id),
		Fields: map[string]json.RawMessage{"name": json.RawMessage(`"` + name + `"`)},
	}
}

func (f *fixture) orderEvent(id, customerID string) ingress.WrittenEvent {
	return ingress.WrittenEvent{
		ID:     f.seq.Next(ids.OpAdd),
		Scope:  f.scope,
		Object: ids.NewObjectID("Order", id),
		Fields: map[string]json.RawMessage{"total": json.RawMessage(`42`)},
		Refs:   map[string]ids.ObjectID{"customerId": ids.NewObjectID("Customer", customerID)},
	}
}

func (f *fixture) descriptor(orderID string) view.Descriptor {
	return view.Descriptor{
		Scope: f.scope,
		Actor: ids.ActorID("reader"),
		Root:  ids.NewObjectID("Order", orderID),
	}
}

func TestReadView_MergesNestedDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	f.ingest(t, f.customerEvent("c-1", "Alice"))
	f.ingest(t, f.orderEvent("o-1", "c-1"))

	resp, err := f.reader.ReadView(ctx, f.descriptor("o-1"))
	require.NoError(t, err)
	require.Equal(t, view.StatusOK, resp.Status)
	require.True(t, resp.HasBody())

	var doc struct {
		ObjectID string `json:"objectId"`
		Total    int    `json:"total"`
		Customer struct {
			Name string `json:"name"`
		} `json:"customer"`
	}
	require.NoError(t, json.Unmarshal(resp.Body, &doc))
	assert.Equal(t, "Order_o-1", doc.ObjectID)
	assert.Equal(t, 42, doc.Total)
	assert.Equal(t, "Alice", doc.Customer.Name)
}

func TestReadView_UnknownRootIsNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	resp, err := f.reader.ReadView(ctx, f.descriptor("missing"))
	require.NoError(t, err)
	assert.Equal(t, view.StatusNotFound, resp.Status)
	assert.False(t, resp.HasBody())
}

type denyAll struct{}

func (denyAll) Check(context.Context, view.Descriptor) (bool, error) { return false, nil }

func TestReadView_DeniedReadHasNoBody(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(cfg *Config) { cfg.Permission = denyAll{} })

	f.ingest(t, f.customerEvent("c-1", "Alice"))
	f.ingest(t, f.orderEvent("o-1", "c-1"))

	resp, err := f.reader.ReadView(ctx, f.descriptor("o-1"))
	require.NoError(t, err)
	assert.Equal(t, view.StatusForbidden, resp.Status)
	assert.False(t, resp.HasBody(), "denied read must not leak a body")
}

func TestReadView_StaleFragmentStillMerges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	f.ingest(t, f.customerEvent("c-1", "Alice"))
	f.ingest(t, f.orderEvent("o-1", "c-1"))

	// Age the customer segment of the name fragment so it trails the
	// freshest vector observed under the same path instance.
	path := view.Path{ids.NewObjectID("Order", "o-1"), ids.NewObjectID("Customer", "c-1")}
	hash := f.store.HashPath(path)
	frag, ok, err := f.store.Get(ctx, f.scope, hash, "name")
	require.NoError(t, err)
	require.True(t, ok)
	aged := frag
	aged.Timestamps = append([]int64(nil), frag.Timestamps...)
	aged.Timestamps[1]--
	require.NoError(t, f.store.Put(ctx, f.scope, hash, "name", aged, aged.Timestamps[1]))
	require.NoError(t, f.store.Put(ctx, f.scope, hash, "email", view.Fragment{
		Timestamps: frag.Timestamps,
		Value:      []byte(`"a@example.com"`),
	}, frag.Timestamps[1]))

	resp, err := f.reader.ReadView(ctx, f.descriptor("o-1"))
	require.NoError(t, err)
	require.Equal(t, view.StatusOK, resp.Status)

	assert.Contains(t, f.stale, "name", "aged fragment must be reported stale")

	// Stale data is surfaced, never dropped.
	var doc map[string]any
	require.NoError(t, json.Unmarshal(resp.Body, &doc))
	customer, ok := doc["customer"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Alice", customer["name"])
}

func TestReadView_SizeCeiling(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(cfg *Config) { cfg.MaxViewSize = 16 })

	f.ingest(t, f.customerEvent("c-1", "Alice"))
	f.ingest(t, f.orderEvent("o-1", "c-1"))

	_, err := f.reader.ReadView(ctx, f.descriptor("o-1"))
	var sized *SizeExceededError
	require.ErrorAs(t, err, &sized)
	assert.Equal(t, 16, sized.Max)
	assert.Greater(t, sized.Size, sized.Max)
}

// discardCommitter accepts changes without storing them, simulating a
// deployment where ingest only records raw events and links.
type discardCommitter struct{}

func (discardCommitter) Commit(context.Context, ids.TenantScope, []view.FieldChange) error {
	return nil
}

func TestReadView_DerivesOnMiss(t *testing.T) {
	ctx := context.Background()

	provider := storage.NewMemoryProvider()
	keys := pathkey.XXHash{}
	store := fragments.New(provider, keys)
	swap := model.NewSwapProvider()
	swap.Install(orderModel(t))

	// Ingest with a discarding committer: raw events and links land, view
	// fragments do not.
	ing := ingress.New(ingress.Config{
		Processor: "sync-read",
		Views:     swap,
		Storage:   provider,
		Keys:      keys,
		Commit:    discardCommitter{},
	})
	seq := ids.NewOrderedIDProvider()
	scope := ids.NewTenantScope("t1", "")
	customer := ingress.WrittenEvent{
		ID:     seq.Next(ids.OpAdd),
		Scope:  scope,
		Object: ids.NewObjectID("Customer", "c-1"),
		Fields: map[string]json.RawMessage{"name": json.RawMessage(`"Alice"`)},
	}
	order := ingress.WrittenEvent{
		ID:     seq.Next(ids.OpAdd),
		Scope:  scope,
		Object: ids.NewObjectID("Order", "o-1"),
		Fields: map[string]json.RawMessage{"total": json.RawMessage(`42`)},
		Refs:   map[string]ids.ObjectID{"customerId": ids.NewObjectID("Customer", "c-1")},
	}
	for _, ev := range []ingress.WrittenEvent{customer, order} {
		failed, err := ing.Ingest(ctx, []ingress.WrittenEvent{ev})
		require.NoError(t, err)
		require.Empty(t, failed)
	}

	r := New(Config{
		Processor: "sync-read",
		Views:     swap,
		Storage:   provider,
		Fragments: store,
		Deriver:   NewCommitDeriver(provider, keys, commit.NewStoreCommitter(store, nil)),
	})

	d := view.Descriptor{Scope: scope, Root: ids.NewObjectID("Order", "o-1")}
	resp, err := r.ReadView(ctx, d)
	require.NoError(t, err)
	require.Equal(t, view.StatusOK, resp.Status)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(resp.Body, &doc))
	customerDoc, ok := doc["customer"].(map[string]any)
	require.True(t, ok, "derived read must include the ref'd subtree")
	assert.Equal(t, "Alice", customerDoc["name"])
	assert.Equal(t, float64(42), doc["total"])

	// The derivation caches fragments: the next read is a plain scan.
	path := view.Path{ids.NewObjectID("Order", "o-1"), ids.NewObjectID("Customer", "c-1")}
	frag, ok, err := store.Get(ctx, scope, store.HashPath(path), "name")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"Alice"`, string(frag.Value))
}

func TestSizeExceededError_Message(t *testing.T) {
	err := &SizeExceededError{Size: 100, Max: 10}
	assert.True(t, errors.As(error(err), new(*SizeExceededError)))
	assert.Contains(t, err.Error(), "exceeds maximum 10")
}
