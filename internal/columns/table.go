package columns

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/viewmill/viewmill/internal/ids"
)

// Entry is one column returned by a Scan.
type Entry[C any, V any] struct {
	Col C
	Val V
	// Ts is the storage timestamp recorded with the write.
	Ts int64
}

// Table is a tenant-scoped keyed column store. All implementations must
// keep scopes fully isolated: a key written under one scope is invisible
// under every other.
type Table[R any, C any, V any] interface {
	// Put stores val under (scope, row, col), overwriting any previous
	// value. Overwrite-by-key is what keeps commit retries idempotent.
	Put(ctx context.Context, scope ids.TenantScope, row R, col C, val V, ts int64) error

	// Get returns the value and timestamp for (scope, row, col).
	// The bool reports presence; absence is not an error.
	Get(ctx context.Context, scope ids.TenantScope, row R, col C) (V, int64, bool, error)

	// Scan returns every column under (scope, row) in ascending encoded
	// column order. An unknown row yields an empty slice, not an error.
	Scan(ctx context.Context, scope ids.TenantScope, row R) ([]Entry[C, V], error)

	// Delete removes (scope, row, col). Deleting an absent key is a no-op.
	Delete(ctx context.Context, scope ids.TenantScope, row R, col C) error
}

// Codec converts a key or value type to and from its storage bytes.
type Codec[T any] interface {
	Encode(T) ([]byte, error)
	Decode([]byte) (T, error)
}

// BytesCodec passes []byte through unchanged.
type BytesCodec struct{}

func (BytesCodec) Encode(b []byte) ([]byte, error) { return b, nil }
func (BytesCodec) Decode(b []byte) ([]byte, error) { return b, nil }

// StringCodec stores strings as their UTF-8 bytes.
type StringCodec struct{}

func (StringCodec) Encode(s string) ([]byte, error) { return []byte(s), nil }
func (StringCodec) Decode(b []byte) (string, error) { return string(b), nil }

// Int64Codec stores int64 as 8 fixed big-endian bytes. Fixed width keeps
// the encoded ordering consistent with numeric ordering for non-negative
// values, which Scan callers rely on.
type Int64Codec struct{}

func (Int64Codec) Encode(v int64) ([]byte, error) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return b[:], nil
}

func (Int64Codec) Decode(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("int64 column: want 8 bytes, got %d", len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// Uint64BECodec stores uint64 keys big-endian, preserving numeric order.
type Uint64BECodec struct{}

func (Uint64BECodec) Encode(v uint64) ([]byte, error) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:], nil
}

func (Uint64BECodec) Decode(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("uint64 row: want 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
