package columns

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/viewmill/viewmill/internal/ids"
)

// Memory is the in-memory Table backend. It stores encoded bytes rather
// than live values so callers get copy semantics identical to the SQLite
// backend: mutating a value after Put never changes what a later Get sees.
//
// Safe for concurrent use.
type Memory[R any, C any, V any] struct {
	rowCodec Codec[R]
	colCodec Codec[C]
	valCodec Codec[V]

	mu   sync.RWMutex
	rows map[string]map[string]memCell
}

type memCell struct {
	val []byte
	ts  int64
}

// NewMemory creates an empty in-memory table using the given codecs.
func NewMemory[R any, C any, V any](rowCodec Codec[R], colCodec Codec[C], valCodec Codec[V]) *Memory[R, C, V] {
	return &Memory[R, C, V]{
		rowCodec: rowCodec,
		colCodec: colCodec,
		valCodec: valCodec,
		rows:     make(map[string]map[string]memCell),
	}
}

func (m *Memory[R, C, V]) rowKey(scope ids.TenantScope, row R) (string, error) {
	rb, err := m.rowCodec.Encode(row)
	if err != nil {
		return "", fmt.Errorf("encode row: %w", err)
	}
	return string(scope.Key()) + "\x00" + string(rb), nil
}

// Put implements Table.
func (m *Memory[R, C, V]) Put(_ context.Context, scope ids.TenantScope, row R, col C, val V, ts int64) error {
	rk, err := m.rowKey(scope, row)
	if err != nil {
		return err
	}
	cb, err := m.colCodec.Encode(col)
	if err != nil {
		return fmt.Errorf("encode col: %w", err)
	}
	vb, err := m.valCodec.Encode(val)
	if err != nil {
		return fmt.Errorf("encode val: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cols := m.rows[rk]
	if cols == nil {
		cols = make(map[string]memCell)
		m.rows[rk] = cols
	}
	cols[string(cb)] = memCell{val: append([]byte(nil), vb...), ts: ts}
	return nil
}

// Get implements Table.
func (m *Memory[R, C, V]) Get(_ context.Context, scope ids.TenantScope, row R, col C) (V, int64, bool, error) {
	var zero V
	rk, err := m.rowKey(scope, row)
	if err != nil {
		return zero, 0, false, err
	}
	cb, err := m.colCodec.Encode(col)
	if err != nil {
		return zero, 0, false, fmt.Errorf("encode col: %w", err)
	}

	m.mu.RLock()
	cell, ok := m.rows[rk][string(cb)]
	m.mu.RUnlock()
	if !ok {
		return zero, 0, false, nil
	}

	val, err := m.valCodec.Decode(cell.val)
	if err != nil {
		return zero, 0, false, fmt.Errorf("decode val: %w", err)
	}
	return val, cell.ts, true, nil
}

// Scan implements Table.
func (m *Memory[R, C, V]) Scan(_ context.Context, scope ids.TenantScope, row R) ([]Entry[C, V], error) {
	rk, err := m.rowKey(scope, row)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	cols := m.rows[rk]
	keys := make([]string, 0, len(cols))
	cells := make(map[string]memCell, len(cols))
	for k, c := range cols {
		keys = append(keys, k)
		cells[k] = c
	}
	m.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare([]byte(keys[i]), []byte(keys[j])) < 0
	})

	entries := make([]Entry[C, V], 0, len(keys))
	for _, k := range keys {
		col, err := m.colCodec.Decode([]byte(k))
		if err != nil {
			return nil, fmt.Errorf("decode col: %w", err)
		}
		val, err := m.valCodec.Decode(cells[k].val)
		if err != nil {
			return nil, fmt.Errorf("decode val: %w", err)
		}
		entries = append(entries, Entry[C, V]{Col: col, Val: val, Ts: cells[k].ts})
	}
	return entries, nil
}

// Delete implements Table.
func (m *Memory[R, C, V]) Delete(_ context.Context, scope ids.TenantScope, row R, col C) error {
	rk, err := m.rowKey(scope, row)
	if err != nil {
		return err
	}
	cb, err := m.colCodec.Encode(col)
	if err != nil {
		return fmt.Errorf("encode col: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cols := m.rows[rk]; cols != nil {
		delete(cols, string(cb))
		if len(cols) == 0 {
			delete(m.rows, rk)
		}
	}
	return nil
}
