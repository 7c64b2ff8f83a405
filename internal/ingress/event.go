package ingress

import (
	"encoding/json"

	"github.com/viewmill/viewmill/internal/ids"
)

// WrittenEvent is the internal form of one domain event after the writer
// has assigned ids: a mutation of exactly one object's fields within one
// tenant scope.
type WrittenEvent struct {
	// ID orders this event against every other event touching the same
	// object. Its Kind is OpRemove for instance deletions.
	ID ids.OrderedID
	// Scope is the tenant scope all effects are keyed under.
	Scope ids.TenantScope
	// Actor is the principal the event is attributed to.
	Actor ids.ActorID
	// Object is the entity the event mutates.
	Object ids.ObjectID
	// Fields carries the plain value fields being set.
	Fields map[string]json.RawMessage
	// Refs carries the reference fields being set, by target object.
	Refs map[string]ids.ObjectID
	// Delete marks an instance removal; Fields and Refs are ignored.
	Delete bool
}
