// Package commit converts computed field changes into fragment writes.
//
// A commit is one unit conceptually scoped to a tenant: changes are
// applied in order, and the first storage failure aborts the call with a
// *CommitError. Nothing is rolled back; fragment writes are
// overwrite-by-key, so a retried commit converges on the same state
// instead of duplicating.
package commit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/viewmill/viewmill/internal/fragments"
	"github.com/viewmill/viewmill/internal/ids"
	"github.com/viewmill/viewmill/internal/view"
)

// CommitChange is the commit pipeline contract. Implemented by
// StoreCommitter for both materialization strategies; wrapped by tests to
// observe or fail commits.
type CommitChange interface {
	Commit(ctx context.Context, scope ids.TenantScope, changes []view.FieldChange) error
}

// CommitError wraps the cause of a failed commit. Callers must treat the
// batch as failed and may retry it whole.
type CommitError struct {
	Scope ids.TenantScope
	Field string
	Err   error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit change for %s field %s: %v", e.Scope, e.Field, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// StoreCommitter writes changes to the fragment store.
type StoreCommitter struct {
	store  *fragments.Store
	logger *slog.Logger
}

// NewStoreCommitter creates the production commit pipeline.
func NewStoreCommitter(store *fragments.Store, logger *slog.Logger) *StoreCommitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreCommitter{store: store, logger: logger}
}

// Commit implements CommitChange. Each change becomes one fragment write:
// the precomputed path hash is the row, the leaf field the column, and the
// per-segment timestamps plus value the stored fragment. An OpRemove
// writes a tombstone rather than deleting, so the removal's timestamps
// still win staleness comparisons against slower writers.
func (c *StoreCommitter) Commit(ctx context.Context, scope ids.TenantScope, changes []view.FieldChange) error {
	for _, change := range changes {
		frag := view.Fragment{Timestamps: change.Timestamps}
		if change.Op == view.OpSet {
			frag.Value = change.Value
			if frag.Value == nil {
				// A set with no payload still has to be distinguishable
				// from a tombstone.
				frag.Value = []byte("null")
			}
		}

		if err := c.store.Put(ctx, scope, change.PathHash, change.Field, frag, change.Timestamp); err != nil {
			return &CommitError{Scope: scope, Field: change.Field, Err: err}
		}

		c.logger.Debug("committed fragment",
			"scope", scope.String(),
			"root", change.Root.String(),
			"path_hash", change.PathHash,
			"field", change.Field,
			"op", change.Op.String(),
			"event", change.EventID.String(),
		)
	}
	return nil
}
