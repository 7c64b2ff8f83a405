package fragments

import (
	"context"
	"testing"

	"github.com/viewmill/viewmill/internal/ids"
	"github.com/viewmill/viewmill/internal/pathkey"
	"github.com/viewmill/viewmill/internal/storage"
	"github.com/viewmill/viewmill/internal/view"
)

func TestScanReturnsFieldsInOrder(t *testing.T) {
	ctx := context.Background()
	store := New(storage.NewMemoryProvider(), pathkey.XXHash{})
	scope := ids.NewTenantScope("t1", "")
	hash := store.HashPath(view.Path{ids.NewObjectID("Order", "o-1")})

	for i, field := range []string{"total", "status", "placedAt"} {
		f := view.Fragment{Timestamps: []int64{int64(i + 1)}, Value: []byte(`1`)}
		if err := store.Put(ctx, scope, hash, field, f, int64(i+1)); err != nil {
			t.Fatalf("put %s: %v", field, err)
		}
	}

	frags, err := store.Scan(ctx, scope, hash)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	want := []string{"placedAt", "status", "total"}
	if len(frags) != len(want) {
		t.Fatalf("got %d fragments, want %d", len(frags), len(want))
	}
	for i, field := range want {
		if frags[i].Field != field {
			t.Errorf("fragment %d: got field %q, want %q", i, frags[i].Field, field)
		}
	}
}

func TestHashPathDiffersPerInstance(t *testing.T) {
	store := New(storage.NewMemoryProvider(), pathkey.XXHash{})
	a := store.HashPath(view.Path{ids.NewObjectID("Order", "o-1"), ids.NewObjectID("Customer", "c-1")})
	b := store.HashPath(view.Path{ids.NewObjectID("Order", "o-1"), ids.NewObjectID("Customer", "c-2")})
	if a == b {
		t.Fatalf("distinct chains hashed to the same key %x", a)
	}
}

func TestGetMissingFragment(t *testing.T) {
	ctx := context.Background()
	store := New(storage.NewMemoryProvider(), pathkey.XXHash{})
	scope := ids.NewTenantScope("t1", "")

	_, ok, err := store.Get(ctx, scope, 42, "total")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("missing fragment reported present")
	}
}
