// Package links maintains the forward and back reference indexes between
// objects and answers the two traversal questions both pipelines share:
// which concrete root chains reach an object (Ancestors, used on ingest to
// find affected view instances) and which concrete chains continue from an
// object down to a leaf (Descendants, used on read to enumerate path
// instances under a root).
package links

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/viewmill/viewmill/internal/columns"
	"github.com/viewmill/viewmill/internal/ids"
	"github.com/viewmill/viewmill/internal/model"
	"github.com/viewmill/viewmill/internal/storage"
	"github.com/viewmill/viewmill/internal/view"
)

// Store wraps the forward and back link tables. Both indexes are written
// together so traversal in either direction sees the same graph.
type Store struct {
	forward columns.Table[storage.LinkKey, ids.ObjectID, []byte]
	back    columns.Table[storage.LinkKey, ids.ObjectID, []byte]
}

// New creates a link store over the provider's two link tables.
func New(p storage.Provider) *Store {
	return &Store{forward: p.Links(), back: p.BackLinks()}
}

func linkBlob(id ids.OrderedID) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id.Encode()))
	return b[:]
}

// Link records from --field--> to as of the given event id.
func (s *Store) Link(ctx context.Context, scope ids.TenantScope, from ids.ObjectID, field string, to ids.ObjectID, id ids.OrderedID) error {
	blob := linkBlob(id)
	fwd := storage.LinkKey{Object: from, Class: from.Class, Field: field}
	if err := s.forward.Put(ctx, scope, fwd, to, blob, id.Encode()); err != nil {
		return fmt.Errorf("write forward link %s: %w", fwd, err)
	}
	bck := storage.LinkKey{Object: to, Class: from.Class, Field: field}
	if err := s.back.Put(ctx, scope, bck, from, blob, id.Encode()); err != nil {
		return fmt.Errorf("write back link %s: %w", bck, err)
	}
	return nil
}

// Unlink removes a link from both indexes.
func (s *Store) Unlink(ctx context.Context, scope ids.TenantScope, from ids.ObjectID, field string, to ids.ObjectID) error {
	fwd := storage.LinkKey{Object: from, Class: from.Class, Field: field}
	if err := s.forward.Delete(ctx, scope, fwd, to); err != nil {
		return fmt.Errorf("delete forward link %s: %w", fwd, err)
	}
	bck := storage.LinkKey{Object: to, Class: from.Class, Field: field}
	if err := s.back.Delete(ctx, scope, bck, from); err != nil {
		return fmt.Errorf("delete back link %s: %w", bck, err)
	}
	return nil
}

// Replace makes to the sole target of from.field, unlinking any previous
// targets. This is the single-valued ref update used by ingress; the
// underlying store stays multi-valued for models that want fan-out.
func (s *Store) Replace(ctx context.Context, scope ids.TenantScope, from ids.ObjectID, field string, to ids.ObjectID, id ids.OrderedID) error {
	existing, err := s.Targets(ctx, scope, from, field)
	if err != nil {
		return err
	}
	for _, old := range existing {
		if old == to {
			continue
		}
		if err := s.Unlink(ctx, scope, from, field, old); err != nil {
			return err
		}
	}
	return s.Link(ctx, scope, from, field, to, id)
}

// Targets returns the current targets of from.field.
func (s *Store) Targets(ctx context.Context, scope ids.TenantScope, from ids.ObjectID, field string) ([]ids.ObjectID, error) {
	key := storage.LinkKey{Object: from, Class: from.Class, Field: field}
	entries, err := s.forward.Scan(ctx, scope, key)
	if err != nil {
		return nil, fmt.Errorf("scan forward links %s: %w", key, err)
	}
	targets := make([]ids.ObjectID, len(entries))
	for i, e := range entries {
		targets[i] = e.Col
	}
	return targets, nil
}

// Sources returns the objects of srcClass whose field references to.
func (s *Store) Sources(ctx context.Context, scope ids.TenantScope, to ids.ObjectID, srcClass, field string) ([]ids.ObjectID, error) {
	key := storage.LinkKey{Object: to, Class: srcClass, Field: field}
	entries, err := s.back.Scan(ctx, scope, key)
	if err != nil {
		return nil, fmt.Errorf("scan back links %s: %w", key, err)
	}
	sources := make([]ids.ObjectID, len(entries))
	for i, e := range entries {
		sources[i] = e.Col
	}
	return sources, nil
}

// Ancestors returns every concrete chain [root .. obj] that places obj at
// step pos of the path definition. With pos == 0 the only chain is obj
// itself. Chains are returned in deterministic scan order.
func (s *Store) Ancestors(ctx context.Context, scope ids.TenantScope, def model.PathDef, pos int, obj ids.ObjectID) ([]view.Path, error) {
	if pos == 0 {
		return []view.Path{{obj}}, nil
	}
	hop := def.Refs[pos-1]
	parents, err := s.Sources(ctx, scope, obj, hop.From, hop.Field)
	if err != nil {
		return nil, err
	}

	var chains []view.Path
	for _, parent := range parents {
		upper, err := s.Ancestors(ctx, scope, def, pos-1, parent)
		if err != nil {
			return nil, err
		}
		for _, chain := range upper {
			full := make(view.Path, 0, len(chain)+1)
			full = append(full, chain...)
			full = append(full, obj)
			chains = append(chains, full)
		}
	}
	return chains, nil
}

// Descendants returns every concrete chain [obj .. leaf] continuing from
// step pos of the path definition down to the leaf class.
func (s *Store) Descendants(ctx context.Context, scope ids.TenantScope, def model.PathDef, pos int, obj ids.ObjectID) ([]view.Path, error) {
	if pos >= len(def.Refs) {
		return []view.Path{{obj}}, nil
	}
	hop := def.Refs[pos]
	children, err := s.Targets(ctx, scope, obj, hop.Field)
	if err != nil {
		return nil, err
	}

	var chains []view.Path
	for _, child := range children {
		lower, err := s.Descendants(ctx, scope, def, pos+1, child)
		if err != nil {
			return nil, err
		}
		for _, chain := range lower {
			full := make(view.Path, 0, len(chain)+1)
			full = append(full, obj)
			full = append(full, chain...)
			chains = append(chains, full)
		}
	}
	return chains, nil
}
