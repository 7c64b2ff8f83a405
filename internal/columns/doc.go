// Package columns provides the generic row/column/value table the typed
// stores in internal/storage are built on.
//
// A Table is keyed (TenantScope, Row, Col) and stores (Value, Timestamp).
// Two backends exist: an in-memory table for tests and the in-memory
// storage provider, and a SQLite-backed table for durable deployments.
// Both funnel keys and values through per-type codecs so the two backends
// observe identical encodings, and both return Scan results in ascending
// encoded-column order so downstream iteration is deterministic.
//
// SQLite configuration follows the usual single-writer setup: WAL mode for
// concurrent reads, NORMAL synchronous, busy_timeout for lock contention,
// one writer connection.
package columns
