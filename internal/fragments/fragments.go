// Package fragments is the view fragment store: versioned (timestamp
// vector, value) units addressed by (tenant scope, path hash, field).
// It adds only path-key translation over the underlying column table; the
// business rules for what gets written live in internal/commit.
package fragments

import (
	"context"
	"fmt"

	"github.com/viewmill/viewmill/internal/columns"
	"github.com/viewmill/viewmill/internal/ids"
	"github.com/viewmill/viewmill/internal/pathkey"
	"github.com/viewmill/viewmill/internal/storage"
	"github.com/viewmill/viewmill/internal/view"
)

// Store reads and writes fragments.
type Store struct {
	table columns.Table[uint64, string, view.Fragment]
	keys  pathkey.Provider
}

// New creates a fragment store over the provider's fragment table.
func New(p storage.Provider, keys pathkey.Provider) *Store {
	return &Store{table: p.ViewFragments(), keys: keys}
}

// HashPath returns the storage address of a concrete path instance.
func (s *Store) HashPath(members view.Path) uint64 {
	return s.keys.PathKey(members)
}

// Put stores a fragment, overwriting any previous value for the key.
func (s *Store) Put(ctx context.Context, scope ids.TenantScope, hash uint64, field string, f view.Fragment, ts int64) error {
	if err := s.table.Put(ctx, scope, hash, field, f, ts); err != nil {
		return fmt.Errorf("put fragment %x.%s: %w", hash, field, err)
	}
	return nil
}

// Get returns the fragment for (scope, hash, field), if present.
func (s *Store) Get(ctx context.Context, scope ids.TenantScope, hash uint64, field string) (view.Fragment, bool, error) {
	f, _, ok, err := s.table.Get(ctx, scope, hash, field)
	if err != nil {
		return view.Fragment{}, false, fmt.Errorf("get fragment %x.%s: %w", hash, field, err)
	}
	return f, ok, nil
}

// Scan returns all field fragments stored under a path hash, in field
// order.
func (s *Store) Scan(ctx context.Context, scope ids.TenantScope, hash uint64) ([]view.FieldFragment, error) {
	entries, err := s.table.Scan(ctx, scope, hash)
	if err != nil {
		return nil, fmt.Errorf("scan fragments %x: %w", hash, err)
	}
	out := make([]view.FieldFragment, len(entries))
	for i, e := range entries {
		out[i] = view.FieldFragment{Field: e.Col, Fragment: e.Val, WriteTime: e.Ts}
	}
	return out, nil
}
