package ids

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// InstanceIDProvider mints instance ids for events that arrive without one.
// Implemented by UUIDv7Provider (production) and FixedInstanceIDs (tests).
type InstanceIDProvider interface {
	NextInstanceID() string
}

// UUIDv7Provider generates time-sortable UUIDv7 instance ids. The embedded
// timestamp keeps freshly minted objects roughly ordered by creation time,
// which helps when eyeballing stored rows.
//
// Stateless and safe for concurrent use.
type UUIDv7Provider struct{}

// NextInstanceID returns a new hyphenated UUIDv7 string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Provider) NextInstanceID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedInstanceIDs returns predetermined ids in order, for deterministic
// tests and golden comparisons. Panics when exhausted, so a test that
// consumes more ids than it declared fails loudly.
type FixedInstanceIDs struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedInstanceIDs creates a provider returning ids in the given order.
func NewFixedInstanceIDs(instanceIDs ...string) *FixedInstanceIDs {
	return &FixedInstanceIDs{ids: instanceIDs}
}

// NextInstanceID returns the next predetermined id.
func (f *FixedInstanceIDs) NextInstanceID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.ids) {
		panic(fmt.Sprintf("FixedInstanceIDs exhausted after %d ids", len(f.ids)))
	}
	id := f.ids[f.idx]
	f.idx++
	return id
}
