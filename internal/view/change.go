package view

import "github.com/viewmill/viewmill/internal/ids"

// ChangeOp says what a field change does to the addressed slot.
type ChangeOp int

const (
	// OpSet stores a new value for the field.
	OpSet ChangeOp = iota
	// OpRemove tombstones the field.
	OpRemove
)

func (op ChangeOp) String() string {
	if op == OpRemove {
		return "remove"
	}
	return "set"
}

// FieldChange is one computed delta: the result of resolving an event
// against a view model path. Produced by ingress, consumed exactly once by
// the commit pipeline, then discarded.
type FieldChange struct {
	// EventID is the ordered id of the event that caused the change.
	EventID ids.OrderedID
	// Actor is the principal the causing event was attributed to.
	Actor ids.ActorID
	// Op is set or remove.
	Op ChangeOp
	// Root is the view root object the change belongs under.
	Root ids.ObjectID
	// PathHash is the precomputed key-provider hash of Members. Carried so
	// the commit pipeline does not rehash per write.
	PathHash uint64
	// Members is the concrete path instance, root first.
	Members Path
	// Timestamps holds one encoded OrderedID per member: the freshest
	// event known to have touched that segment when the change was
	// computed. The merge step compares these vectors to detect stale
	// fragments.
	Timestamps []int64
	// Field is the leaf field name the value belongs to.
	Field string
	// Value is the opaque stored value. Nil for OpRemove.
	Value []byte
	// Timestamp is the encoded EventID, the change's effective time.
	Timestamp int64
}
