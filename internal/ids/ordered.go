package ids

import (
	"fmt"
	"sync/atomic"
)

// OpKind distinguishes the add and remove halves of an ordered id.
//
// The reference counter advanced by two per assignment and used parity to
// tell adds from removes. That trick is kept on the wire (Encode/Decode are
// bit-compatible) but the in-memory form is an explicit two-field value so
// the distinction survives any future change to the increment step.
type OpKind uint8

const (
	// OpAdd marks an id assigned to a create/update.
	OpAdd OpKind = 0
	// OpRemove marks an id assigned to a removal of the same logical slot.
	OpRemove OpKind = 1
)

func (k OpKind) String() string {
	if k == OpRemove {
		return "remove"
	}
	return "add"
}

// OrderedID is a monotonically increasing event id. Ordering is by Seq,
// then Kind: a remove supersedes an add carrying the same sequence number.
type OrderedID struct {
	Seq  int64
	Kind OpKind
}

// Encode packs the id into the storage form: Seq in the high bits, the
// op kind in the parity bit. Matches the legacy advance-by-two layout.
func (o OrderedID) Encode() int64 {
	return o.Seq<<1 | int64(o.Kind&1)
}

// DecodeOrderedID inverts Encode.
func DecodeOrderedID(v int64) OrderedID {
	return OrderedID{Seq: v >> 1, Kind: OpKind(v & 1)}
}

// IsZero reports whether the id was never assigned.
func (o OrderedID) IsZero() bool {
	return o.Seq == 0 && o.Kind == OpAdd
}

// Compare returns -1, 0, or +1 ordering o against other.
func (o OrderedID) Compare(other OrderedID) int {
	switch {
	case o.Seq < other.Seq:
		return -1
	case o.Seq > other.Seq:
		return 1
	case o.Kind < other.Kind:
		return -1
	case o.Kind > other.Kind:
		return 1
	}
	return 0
}

// After reports whether o supersedes other.
func (o OrderedID) After(other OrderedID) bool {
	return o.Compare(other) > 0
}

func (o OrderedID) String() string {
	return fmt.Sprintf("%d/%s", o.Seq, o.Kind)
}

// OrderedIDProvider mints OrderedIDs.
//
// Safe for concurrent use. Each call returns a strictly larger Seq, so two
// concurrent writers never collide on an id.
type OrderedIDProvider struct {
	seq atomic.Int64
}

// NewOrderedIDProvider creates a provider starting at zero.
func NewOrderedIDProvider() *OrderedIDProvider {
	return &OrderedIDProvider{}
}

// NewOrderedIDProviderAt creates a provider resuming after a known Seq,
// for processes restarting over a durable store.
func NewOrderedIDProviderAt(seq int64) *OrderedIDProvider {
	p := &OrderedIDProvider{}
	p.seq.Store(seq)
	return p
}

// Next returns the next id for the given op kind.
func (p *OrderedIDProvider) Next(kind OpKind) OrderedID {
	return OrderedID{Seq: p.seq.Add(1), Kind: kind}
}

// Current returns the last assigned Seq without advancing.
func (p *OrderedIDProvider) Current() int64 {
	return p.seq.Load()
}
