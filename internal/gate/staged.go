package gate

import (
	"context"

	"github.com/viewmill/viewmill/internal/ids"
)

type stageKey struct {
	scope ids.TenantScope
	obj   ids.ObjectID
	field string
}

// Staged buffers gate writes until the caller's effects have durably
// committed. Checks prefer staged state over the store, so ordering and
// existence hold across the events of one batch, while a failed commit
// leaves the store untouched and the batch safe to resubmit whole.
//
// A Staged value is not safe for concurrent use; create one per batch and
// abandon it on failure.
type Staged struct {
	gate    *Gate
	pending map[stageKey]ids.OrderedID
	order   []stageKey
}

// NewStaged creates a staging layer over g.
func NewStaged(g *Gate) *Staged {
	return &Staged{gate: g, pending: make(map[stageKey]ids.OrderedID)}
}

// Highest returns the last applied id for (obj, field), staged or stored.
func (s *Staged) Highest(ctx context.Context, scope ids.TenantScope, obj ids.ObjectID, field string) (ids.OrderedID, bool, error) {
	if id, ok := s.pending[stageKey{scope: scope, obj: obj, field: field}]; ok {
		return id, true, nil
	}
	return s.gate.Highest(ctx, scope, obj, field)
}

// Exists reports whether the object exists, counting staged markers.
func (s *Staged) Exists(ctx context.Context, scope ids.TenantScope, obj ids.ObjectID) (bool, error) {
	id, ok, err := s.Highest(ctx, scope, obj, existsField)
	if err != nil {
		return false, err
	}
	return ok && id.Kind == ids.OpAdd, nil
}

// CheckExists returns a ConflictError unless obj exists.
func (s *Staged) CheckExists(ctx context.Context, scope ids.TenantScope, obj ids.ObjectID) error {
	ok, err := s.Exists(ctx, scope, obj)
	if err != nil {
		return err
	}
	if !ok {
		return &ConflictError{Object: obj, Reason: "object does not exist yet"}
	}
	return nil
}

// CheckOrder returns a ConflictError when incoming does not supersede the
// last id applied to (obj, field), staged or stored.
func (s *Staged) CheckOrder(ctx context.Context, scope ids.TenantScope, obj ids.ObjectID, field string, incoming ids.OrderedID) error {
	highest, ok, err := s.Highest(ctx, scope, obj, field)
	if err != nil {
		return err
	}
	if ok && !incoming.After(highest) {
		return orderConflict(obj, field, incoming, highest)
	}
	return nil
}

// CheckInstanceOrder returns a ConflictError when incoming does not
// supersede the object's existence marker.
func (s *Staged) CheckInstanceOrder(ctx context.Context, scope ids.TenantScope, obj ids.ObjectID, incoming ids.OrderedID) error {
	return s.CheckOrder(ctx, scope, obj, existsField, incoming)
}

// ExistenceID returns the object's existence marker, staged or stored.
func (s *Staged) ExistenceID(ctx context.Context, scope ids.TenantScope, obj ids.ObjectID) (ids.OrderedID, bool, error) {
	return s.Highest(ctx, scope, obj, existsField)
}

// Apply stages incoming as the last applied id for (obj, field). The
// write reaches the store on Flush.
func (s *Staged) Apply(_ context.Context, scope ids.TenantScope, obj ids.ObjectID, field string, incoming ids.OrderedID) error {
	s.put(stageKey{scope: scope, obj: obj, field: field}, incoming)
	return nil
}

// RecordExistence stages an existence marker for obj. Older markers never
// overwrite newer ones, staged or stored.
func (s *Staged) RecordExistence(ctx context.Context, scope ids.TenantScope, obj ids.ObjectID, incoming ids.OrderedID) error {
	highest, ok, err := s.Highest(ctx, scope, obj, existsField)
	if err != nil {
		return err
	}
	if ok && !incoming.After(highest) {
		return nil
	}
	s.put(stageKey{scope: scope, obj: obj, field: existsField}, incoming)
	return nil
}

// Flush writes the scope's staged ids to the store and drops them from
// the stage. Call it only after the scope's changes have committed; other
// scopes' staged writes are untouched.
func (s *Staged) Flush(ctx context.Context, scope ids.TenantScope) error {
	var kept []stageKey
	for _, k := range s.order {
		if k.scope != scope {
			kept = append(kept, k)
			continue
		}
		if err := s.gate.Apply(ctx, k.scope, k.obj, k.field, s.pending[k]); err != nil {
			return err
		}
		delete(s.pending, k)
	}
	s.order = kept
	return nil
}

func (s *Staged) put(k stageKey, id ids.OrderedID) {
	if _, ok := s.pending[k]; !ok {
		s.order = append(s.order, k)
	}
	s.pending[k] = id
}
