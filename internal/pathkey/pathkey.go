// Package pathkey turns concrete traversal paths into fixed-width storage
// keys. The hash is the column address for every fragment derived from a
// path instance, so it must be deterministic across processes and restarts.
package pathkey

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/viewmill/viewmill/internal/ids"
)

// Provider hashes an ordered path instance into an opaque 64-bit key.
// Implementations must be pure: same members, same key, every time.
type Provider interface {
	PathKey(members []ids.ObjectID) uint64
}

// XXHash is the production Provider. xxhash is not cryptographic; the key
// space only has to avoid collisions for the path cardinalities one tenant
// realistically produces, and a fast hash keeps ingest cheap.
type XXHash struct{}

// PathKey hashes the members in order. Each member is framed with a NUL
// terminator so ["ab","c"] and ["a","bc"] cannot collide by concatenation.
func (XXHash) PathKey(members []ids.ObjectID) uint64 {
	d := xxhash.New()
	for _, m := range members {
		_, _ = d.WriteString(m.Class)
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(m.ID)
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}

// KeyBytes renders a path key as the fixed-width big-endian row key used
// by the fragment store.
func KeyBytes(key uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], key)
	return b[:]
}
