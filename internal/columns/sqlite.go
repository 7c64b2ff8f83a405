package columns

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/viewmill/viewmill/internal/ids"
)

//go:embed schema.sql
var schemaSQL string

var tableNameRE = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// OpenDB creates or opens the SQLite database backing durable tables.
//
// The connection is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// SQLite supports one writer at a time, so the pool is pinned to a single
// connection to avoid SQLITE_BUSY churn. Idempotent; safe to call on an
// existing database.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}
	return db, nil
}

// EnsureTable creates the physical table for one logical store. The name
// must match ^[a-z][a-z0-9_]*$; anything else is rejected before it can
// reach the interpolated DDL.
func EnsureTable(db *sql.DB, name string) error {
	if !tableNameRE.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	ddl := strings.ReplaceAll(schemaSQL, "{{table}}", name)
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("create table %s: %w", name, err)
	}
	return nil
}

// SQLite is the durable Table backend. One SQLite value wraps one physical
// table; each store shape gets its own.
type SQLite[R any, C any, V any] struct {
	db    *sql.DB
	table string

	rowCodec Codec[R]
	colCodec Codec[C]
	valCodec Codec[V]
}

// NewSQLite binds a typed table to a physical table created by EnsureTable.
func NewSQLite[R any, C any, V any](db *sql.DB, table string, rowCodec Codec[R], colCodec Codec[C], valCodec Codec[V]) (*SQLite[R, C, V], error) {
	if err := EnsureTable(db, table); err != nil {
		return nil, err
	}
	return &SQLite[R, C, V]{
		db:       db,
		table:    table,
		rowCodec: rowCodec,
		colCodec: colCodec,
		valCodec: valCodec,
	}, nil
}

func (s *SQLite[R, C, V]) keys(scope ids.TenantScope, row R, col C) (scopeKey, rowKey, colKey []byte, err error) {
	rowKey, err = s.rowCodec.Encode(row)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode row: %w", err)
	}
	colKey, err = s.colCodec.Encode(col)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode col: %w", err)
	}
	return scope.Key(), rowKey, colKey, nil
}

// Put implements Table using an upsert so repeated commits overwrite.
func (s *SQLite[R, C, V]) Put(ctx context.Context, scope ids.TenantScope, row R, col C, val V, ts int64) error {
	scopeKey, rowKey, colKey, err := s.keys(scope, row, col)
	if err != nil {
		return err
	}
	valBytes, err := s.valCodec.Encode(val)
	if err != nil {
		return fmt.Errorf("encode val: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO `+s.table+` (scope, row, col, val, ts)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scope, row, col) DO UPDATE SET val = excluded.val, ts = excluded.ts
	`, scopeKey, rowKey, colKey, valBytes, ts)
	if err != nil {
		return fmt.Errorf("put %s: %w", s.table, err)
	}
	return nil
}

// Get implements Table.
func (s *SQLite[R, C, V]) Get(ctx context.Context, scope ids.TenantScope, row R, col C) (V, int64, bool, error) {
	var zero V
	scopeKey, rowKey, colKey, err := s.keys(scope, row, col)
	if err != nil {
		return zero, 0, false, err
	}

	var valBytes []byte
	var ts int64
	err = s.db.QueryRowContext(ctx, `
		SELECT val, ts FROM `+s.table+`
		WHERE scope = ? AND row = ? AND col = ?
	`, scopeKey, rowKey, colKey).Scan(&valBytes, &ts)
	if err == sql.ErrNoRows {
		return zero, 0, false, nil
	}
	if err != nil {
		return zero, 0, false, fmt.Errorf("get %s: %w", s.table, err)
	}

	val, err := s.valCodec.Decode(valBytes)
	if err != nil {
		return zero, 0, false, fmt.Errorf("decode val: %w", err)
	}
	return val, ts, true, nil
}

// Scan implements Table. Ordering by the raw col bytes matches the memory
// backend's sort, so both backends iterate identically.
func (s *SQLite[R, C, V]) Scan(ctx context.Context, scope ids.TenantScope, row R) ([]Entry[C, V], error) {
	rowKey, err := s.rowCodec.Encode(row)
	if err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT col, val, ts FROM `+s.table+`
		WHERE scope = ? AND row = ?
		ORDER BY col ASC
	`, scope.Key(), rowKey)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.table, err)
	}
	defer rows.Close()

	entries := []Entry[C, V]{}
	for rows.Next() {
		var colBytes, valBytes []byte
		var ts int64
		if err := rows.Scan(&colBytes, &valBytes, &ts); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", s.table, err)
		}
		col, err := s.colCodec.Decode(colBytes)
		if err != nil {
			return nil, fmt.Errorf("decode col: %w", err)
		}
		val, err := s.valCodec.Decode(valBytes)
		if err != nil {
			return nil, fmt.Errorf("decode val: %w", err)
		}
		entries = append(entries, Entry[C, V]{Col: col, Val: val, Ts: ts})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", s.table, err)
	}
	return entries, nil
}

// Delete implements Table.
func (s *SQLite[R, C, V]) Delete(ctx context.Context, scope ids.TenantScope, row R, col C) error {
	scopeKey, rowKey, colKey, err := s.keys(scope, row, col)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM `+s.table+` WHERE scope = ? AND row = ? AND col = ?
	`, scopeKey, rowKey, colKey)
	if err != nil {
		return fmt.Errorf("delete %s: %w", s.table, err)
	}
	return nil
}
