// Package view defines the value types that flow between the ingest and
// read sides of the materializer: concrete traversal paths, computed field
// changes, stored fragments, and the read request/response shapes.
//
// Types here are plain data. The pipelines that produce and consume them
// live in internal/ingress, internal/commit, and internal/reader.
//
// Merged documents are serialized with the canonical encoder in this
// package so that equal documents always produce identical bytes: object
// keys are sorted, strings are NFC normalized, and HTML characters are not
// escaped. Golden-file tests depend on this.
package view
