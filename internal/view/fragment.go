package view

import (
	"encoding/binary"
	"fmt"
)

// Fragment is the stored unit of a materialized view: one leaf value plus
// the per-segment timestamp vector recorded when it was written. The
// vector lets the merge step decide, per fragment, whether any segment of
// its path has since been superseded by a newer event.
type Fragment struct {
	Timestamps []int64
	Value      []byte
}

// Tombstone reports whether the fragment records a removal.
func (f Fragment) Tombstone() bool {
	return f.Value == nil
}

// MarshalBinary encodes the fragment for column storage: a varint count,
// the varint-encoded timestamps, then the raw value. A missing value
// (tombstone) and an empty value are distinguished by a presence byte.
func (f Fragment) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 1+binary.MaxVarintLen64*(len(f.Timestamps)+1)+len(f.Value))
	buf = binary.AppendVarint(buf, int64(len(f.Timestamps)))
	for _, ts := range f.Timestamps {
		buf = binary.AppendVarint(buf, ts)
	}
	if f.Value == nil {
		buf = append(buf, 0)
	} else {
		buf = append(buf, 1)
		buf = append(buf, f.Value...)
	}
	return buf, nil
}

// UnmarshalBinary inverts MarshalBinary.
func (f *Fragment) UnmarshalBinary(data []byte) error {
	n, read := binary.Varint(data)
	if read <= 0 {
		return fmt.Errorf("fragment: bad timestamp count")
	}
	if n < 0 || n > int64(len(data)) {
		return fmt.Errorf("fragment: timestamp count %d out of range", n)
	}
	data = data[read:]

	ts := make([]int64, n)
	for i := range ts {
		v, read := binary.Varint(data)
		if read <= 0 {
			return fmt.Errorf("fragment: truncated timestamp %d", i)
		}
		ts[i] = v
		data = data[read:]
	}

	if len(data) < 1 {
		return fmt.Errorf("fragment: missing value marker")
	}
	marker, rest := data[0], data[1:]
	f.Timestamps = ts
	switch marker {
	case 0:
		f.Value = nil
	case 1:
		// Keep empty-but-present distinct from tombstoned.
		f.Value = append(make([]byte, 0, len(rest)), rest...)
	default:
		return fmt.Errorf("fragment: bad value marker %d", marker)
	}
	return nil
}

// FieldFragment pairs a fragment with the leaf field it stores, as
// returned by a fragment-store scan.
type FieldFragment struct {
	Field    string
	Fragment Fragment
	// WriteTime is the storage timestamp of the fragment write.
	WriteTime int64
}
