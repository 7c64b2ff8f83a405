package reader

import (
	"context"
	"fmt"

	"github.com/viewmill/viewmill/internal/columns"
	"github.com/viewmill/viewmill/internal/commit"
	"github.com/viewmill/viewmill/internal/gate"
	"github.com/viewmill/viewmill/internal/ids"
	"github.com/viewmill/viewmill/internal/model"
	"github.com/viewmill/viewmill/internal/pathkey"
	"github.com/viewmill/viewmill/internal/storage"
	"github.com/viewmill/viewmill/internal/view"
)

// CommitDeriver is the sync-read strategy: when a read finds no fragments
// for a path instance, it recomputes them from the raw event store and
// writes them back through the commit pipeline so the next read is a plain
// scan. Derivation is idempotent; two concurrent misses converge on the
// same fragments.
type CommitDeriver struct {
	events columns.Table[ids.ObjectID, string, []byte]
	gate   *gate.Gate
	keys   pathkey.Provider
	commit commit.CommitChange
}

// NewCommitDeriver builds a deriver over the provider's event and
// concurrency stores.
func NewCommitDeriver(p storage.Provider, keys pathkey.Provider, c commit.CommitChange) *CommitDeriver {
	return &CommitDeriver{
		events: p.Events(),
		gate:   gate.New(p.Concurrency()),
		keys:   keys,
		commit: c,
	}
}

// Derive recomputes the leaf fragments of one concrete chain. Leaf fields
// never written have no fragment to derive and are skipped.
func (d *CommitDeriver) Derive(ctx context.Context, scope ids.TenantScope, def model.PathDef, chain view.Path) ([]view.FieldFragment, error) {
	timestamps, err := d.segmentTimestamps(ctx, scope, chain)
	if err != nil {
		return nil, err
	}

	leaf := chain.Leaf()
	var changes []view.FieldChange
	var derived []view.FieldFragment
	for _, field := range def.Leaf.Fields {
		value, _, ok, err := d.events.Get(ctx, scope, leaf, field)
		if err != nil {
			return nil, fmt.Errorf("read leaf %s.%s: %w", leaf, field, err)
		}
		if !ok {
			continue
		}
		applied, ok, err := d.gate.Highest(ctx, scope, leaf, field)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		changes = append(changes, view.FieldChange{
			EventID:    applied,
			Op:         view.OpSet,
			Root:       chain.Root(),
			PathHash:   d.keys.PathKey(chain),
			Members:    chain,
			Timestamps: timestamps,
			Field:      field,
			Value:      value,
			Timestamp:  applied.Encode(),
		})
		derived = append(derived, view.FieldFragment{
			Field: field,
			Fragment: view.Fragment{
				Timestamps: timestamps,
				Value:      value,
			},
			WriteTime: applied.Encode(),
		})
	}
	if len(changes) == 0 {
		return nil, nil
	}
	if err := d.commit.Commit(ctx, scope, changes); err != nil {
		return nil, err
	}
	return derived, nil
}

func (d *CommitDeriver) segmentTimestamps(ctx context.Context, scope ids.TenantScope, chain view.Path) ([]int64, error) {
	ts := make([]int64, len(chain))
	for idx, member := range chain {
		id, ok, err := d.gate.ExistenceID(ctx, scope, member)
		if err != nil {
			return nil, err
		}
		if ok {
			ts[idx] = id.Encode()
		}
	}
	return ts, nil
}
