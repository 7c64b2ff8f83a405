// Package gate implements the existence and ordering checks performed
// before an event's effects are committed.
//
// Per object the gate enforces increasing OrderedID: a replay or an
// out-of-order duplicate is rejected. Rejections are reported as
// *ConflictError values, not faults; a conflict now may resolve once a
// causally-prior event lands (a parent created by a concurrent batch), so
// callers collect conflicted events into a failed subset and retry them.
package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/viewmill/viewmill/internal/columns"
	"github.com/viewmill/viewmill/internal/ids"
)

// existsField is the reserved concurrency-store column tracking instance
// existence. The asterisks keep it outside the JSON field namespace.
const existsField = "*exists*"

// ConflictError reports a consistency conflict for one object. It is data,
// not a fault: the event carrying it belongs in the failed subset.
type ConflictError struct {
	Object ids.ObjectID
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("consistency conflict on %s: %s", e.Object, e.Reason)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// Gate checks and records applied event ids against the concurrency store.
type Gate struct {
	store columns.Table[ids.ObjectID, string, int64]
}

// New creates a gate over the provider's concurrency store.
func New(store columns.Table[ids.ObjectID, string, int64]) *Gate {
	return &Gate{store: store}
}

// Highest returns the last applied id for (obj, field).
func (g *Gate) Highest(ctx context.Context, scope ids.TenantScope, obj ids.ObjectID, field string) (ids.OrderedID, bool, error) {
	v, _, ok, err := g.store.Get(ctx, scope, obj, field)
	if err != nil {
		return ids.OrderedID{}, false, fmt.Errorf("read concurrency for %s.%s: %w", obj, field, err)
	}
	if !ok {
		return ids.OrderedID{}, false, nil
	}
	return ids.DecodeOrderedID(v), true, nil
}

// Exists reports whether the object currently exists: it has been created
// and its latest existence marker is not a tombstone.
func (g *Gate) Exists(ctx context.Context, scope ids.TenantScope, obj ids.ObjectID) (bool, error) {
	id, ok, err := g.Highest(ctx, scope, obj, existsField)
	if err != nil {
		return false, err
	}
	return ok && id.Kind == ids.OpAdd, nil
}

// CheckExists returns a ConflictError unless obj exists.
func (g *Gate) CheckExists(ctx context.Context, scope ids.TenantScope, obj ids.ObjectID) error {
	ok, err := g.Exists(ctx, scope, obj)
	if err != nil {
		return err
	}
	if !ok {
		return &ConflictError{Object: obj, Reason: "object does not exist yet"}
	}
	return nil
}

// CheckOrder returns a ConflictError when incoming does not supersede the
// last id applied to (obj, field). Equal ids are duplicates and conflict.
func (g *Gate) CheckOrder(ctx context.Context, scope ids.TenantScope, obj ids.ObjectID, field string, incoming ids.OrderedID) error {
	highest, ok, err := g.Highest(ctx, scope, obj, field)
	if err != nil {
		return err
	}
	if ok && !incoming.After(highest) {
		return orderConflict(obj, field, incoming, highest)
	}
	return nil
}

func orderConflict(obj ids.ObjectID, field string, incoming, highest ids.OrderedID) *ConflictError {
	return &ConflictError{
		Object: obj,
		Reason: fmt.Sprintf("event %s is not newer than applied %s for field %s", incoming, highest, field),
	}
}

// Apply records incoming as the last applied id for (obj, field).
func (g *Gate) Apply(ctx context.Context, scope ids.TenantScope, obj ids.ObjectID, field string, incoming ids.OrderedID) error {
	if err := g.store.Put(ctx, scope, obj, field, incoming.Encode(), incoming.Encode()); err != nil {
		return fmt.Errorf("record applied id for %s.%s: %w", obj, field, err)
	}
	return nil
}

// CheckInstanceOrder returns a ConflictError when incoming does not
// supersede the object's existence marker. Used for instance deletions,
// where the event carries no fields to order against.
func (g *Gate) CheckInstanceOrder(ctx context.Context, scope ids.TenantScope, obj ids.ObjectID, incoming ids.OrderedID) error {
	return g.CheckOrder(ctx, scope, obj, existsField, incoming)
}

// ExistenceID returns the ordered id recorded on the object's existence
// marker: the latest event known to have created or removed the instance.
func (g *Gate) ExistenceID(ctx context.Context, scope ids.TenantScope, obj ids.ObjectID) (ids.OrderedID, bool, error) {
	return g.Highest(ctx, scope, obj, existsField)
}

// RecordExistence marks obj as created (OpAdd) or tombstoned (OpRemove)
// as of the incoming id. Older markers never overwrite newer ones.
func (g *Gate) RecordExistence(ctx context.Context, scope ids.TenantScope, obj ids.ObjectID, incoming ids.OrderedID) error {
	highest, ok, err := g.Highest(ctx, scope, obj, existsField)
	if err != nil {
		return err
	}
	if ok && !incoming.After(highest) {
		return nil
	}
	return g.Apply(ctx, scope, obj, existsField, incoming)
}
