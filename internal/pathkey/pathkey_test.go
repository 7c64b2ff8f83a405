package pathkey

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/viewmill/viewmill/internal/ids"
)

func path(parts ...string) []ids.ObjectID {
	members := make([]ids.ObjectID, 0, len(parts)/2)
	for i := 0; i+1 < len(parts); i += 2 {
		members = append(members, ids.NewObjectID(parts[i], parts[i+1]))
	}
	return members
}

func TestPathKey_Stable(t *testing.T) {
	p := XXHash{}
	members := path("Order", "o-1", "Customer", "c-1")

	first := p.PathKey(members)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, p.PathKey(members))
	}
}

func TestPathKey_DistinguishesPaths(t *testing.T) {
	p := XXHash{}

	fixtures := [][]ids.ObjectID{
		path("Order", "o-1", "Customer", "c-1"),
		path("Order", "o-1", "Customer", "c-2"),
		path("Order", "o-2", "Customer", "c-1"),
		path("Customer", "c-1", "Order", "o-1"), // order matters
		path("Order", "o-1"),
		path("Orde", "ro-1"), // boundary shifted across the separator
	}

	seen := make(map[uint64][]ids.ObjectID)
	for _, members := range fixtures {
		key := p.PathKey(members)
		if prev, dup := seen[key]; dup {
			t.Fatalf("collision: %v and %v both hash to %d", prev, members, key)
		}
		seen[key] = members
	}
}

func TestKeyBytes_FixedWidth(t *testing.T) {
	assert.Len(t, KeyBytes(0), 8)
	assert.Len(t, KeyBytes(^uint64(0)), 8)
	assert.NotEqual(t, KeyBytes(1), KeyBytes(2))
}
