// Package ingress turns batches of written events into committed view
// fragments.
//
// For each event the ingress resolves the tenant's current view model,
// gates the event for ordering and existence, persists the raw fields,
// maintains the link graph, and computes one field change per concrete
// path instance the event touches. Changes are grouped per tenant scope
// and handed to the commit pipeline. Events that fail the gate are not
// errors: they come back in the failed subset for the caller to resubmit
// once their causal dependencies have landed.
package ingress

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/viewmill/viewmill/internal/columns"
	"github.com/viewmill/viewmill/internal/commit"
	"github.com/viewmill/viewmill/internal/gate"
	"github.com/viewmill/viewmill/internal/ids"
	"github.com/viewmill/viewmill/internal/links"
	"github.com/viewmill/viewmill/internal/model"
	"github.com/viewmill/viewmill/internal/pathkey"
	"github.com/viewmill/viewmill/internal/storage"
	"github.com/viewmill/viewmill/internal/view"
)

// Config wires an Ingress. Views, Storage, Keys, and Commit are required;
// nil hooks default to no-ops and a nil logger to slog.Default().
type Config struct {
	// Processor is the schema-processor identity used to resolve views.
	Processor string
	Views     model.Provider
	Storage   storage.Provider
	Keys      pathkey.Provider
	Commit    commit.CommitChange
	Sink      BookkeepingSink
	Notifier  NotificationProcessor
	Logger    *slog.Logger
}

// Ingress is the event ingestion pipeline.
type Ingress struct {
	processor string
	views     model.Provider
	gate      *gate.Gate
	links     *links.Store
	events    columns.Table[ids.ObjectID, string, []byte]
	keys      pathkey.Provider
	commit    commit.CommitChange
	sink      BookkeepingSink
	notifier  NotificationProcessor
	logger    *slog.Logger
}

// New creates an Ingress from the config.
func New(cfg Config) *Ingress {
	ing := &Ingress{
		processor: cfg.Processor,
		views:     cfg.Views,
		gate:      gate.New(cfg.Storage.Concurrency()),
		links:     links.New(cfg.Storage),
		events:    cfg.Storage.Events(),
		keys:      cfg.Keys,
		commit:    cfg.Commit,
		sink:      cfg.Sink,
		notifier:  cfg.Notifier,
		logger:    cfg.Logger,
	}
	if ing.sink == nil {
		ing.sink = NoopSink{}
	}
	if ing.notifier == nil {
		ing.notifier = NoopNotifier{}
	}
	if ing.logger == nil {
		ing.logger = slog.Default()
	}
	return ing
}

// Ingest processes a batch and returns the subset it could not apply due
// to consistency conflicts. An empty return means full success. Storage
// and commit failures abort the whole call with an error; conflicts never
// do. Gate state advances only after the owning scope's changes commit,
// so a failed call can be resubmitted whole and converges on retry.
func (i *Ingress) Ingest(ctx context.Context, batch []WrittenEvent) ([]WrittenEvent, error) {
	started := time.Now()

	var failed []WrittenEvent
	var processed []WrittenEvent
	perScope := make(map[ids.TenantScope][]view.FieldChange)
	var scopeOrder []ids.TenantScope
	var audit []BookkeepingEvent
	staged := gate.NewStaged(i.gate)

	for _, ev := range batch {
		evStarted := time.Now()

		views := i.views.Views(model.ProcessorID{Tenant: ev.Scope.Tenant, Processor: i.processor})
		if views == nil {
			// Not ready: treat like a conflict so the caller can retry
			// after a model push.
			i.logger.Warn("no view model installed", "tenant", string(ev.Scope.Tenant))
			failed = append(failed, ev)
			audit = append(audit, bookkeep(ev, 0, evStarted, "view model not installed"))
			continue
		}

		changes, err := i.process(ctx, staged, views, ev)
		switch {
		case gate.IsConflict(err):
			failed = append(failed, ev)
			audit = append(audit, bookkeep(ev, 0, evStarted, err.Error()))
			continue
		case err != nil:
			return nil, fmt.Errorf("process event %s for %s: %w", ev.ID, ev.Object, err)
		}

		if _, seen := perScope[ev.Scope]; !seen {
			scopeOrder = append(scopeOrder, ev.Scope)
		}
		perScope[ev.Scope] = append(perScope[ev.Scope], changes...)
		processed = append(processed, ev)
		audit = append(audit, bookkeep(ev, len(changes), evStarted, ""))
	}

	for _, scope := range scopeOrder {
		if err := i.commit.Commit(ctx, scope, perScope[scope]); err != nil {
			return nil, err
		}
		// The scope's fragments are durable; now let its events count as
		// applied.
		if err := staged.Flush(ctx, scope); err != nil {
			return nil, err
		}
	}

	// Observational hooks: failures here must never fail the batch.
	if rejected, err := i.sink.Accept(ctx, audit); err != nil {
		i.logger.Warn("bookkeeping sink failed", "error", err)
	} else if len(rejected) > 0 {
		i.logger.Warn("bookkeeping sink rejected events", "count", len(rejected))
	}
	batchCtx := BatchContext{Size: len(batch), Started: started}
	for _, ev := range processed {
		batchCtx.Scope = ev.Scope
		if err := i.notifier.Notify(ctx, batchCtx, ev); err != nil {
			i.logger.Warn("notification processor failed", "event", ev.ID.String(), "error", err)
		}
	}

	return failed, nil
}

func bookkeep(ev WrittenEvent, paths int, started time.Time, errMsg string) BookkeepingEvent {
	return BookkeepingEvent{
		Scope:        ev.Scope,
		EventID:      ev.ID,
		Object:       ev.Object,
		PathsTouched: paths,
		Took:         time.Since(started),
		Err:          errMsg,
	}
}

// process applies one event's storage effects and computes its field
// changes. Conflict errors mean the event must wait; other errors are
// storage failures. Gate writes go to the stage, not the store: they must
// not land before the event's changes commit. The event and link stores
// are written directly, since their writes are keyed overwrites that a
// retry repeats verbatim.
func (i *Ingress) process(ctx context.Context, staged *gate.Staged, views *model.Views, ev WrittenEvent) ([]view.FieldChange, error) {
	if ev.Object.IsZero() || ev.ID.IsZero() {
		return nil, fmt.Errorf("event missing object or id")
	}
	if ev.Delete {
		return i.processDelete(ctx, staged, views, ev)
	}

	// Gate first, mutate after: a conflicted event must leave no trace.
	for field := range ev.Fields {
		if err := staged.CheckOrder(ctx, ev.Scope, ev.Object, field, ev.ID); err != nil {
			return nil, err
		}
	}
	for field, target := range ev.Refs {
		if err := staged.CheckOrder(ctx, ev.Scope, ev.Object, field, ev.ID); err != nil {
			return nil, err
		}
		if err := staged.CheckExists(ctx, ev.Scope, target); err != nil {
			return nil, err
		}
	}

	if err := staged.RecordExistence(ctx, ev.Scope, ev.Object, ev.ID); err != nil {
		return nil, err
	}

	var changes []view.FieldChange

	for _, field := range sortedFieldKeys(ev.Fields) {
		value := ev.Fields[field]
		if err := i.events.Put(ctx, ev.Scope, ev.Object, field, value, ev.ID.Encode()); err != nil {
			return nil, fmt.Errorf("persist event field %s.%s: %w", ev.Object, field, err)
		}
		if err := staged.Apply(ctx, ev.Scope, ev.Object, field, ev.ID); err != nil {
			return nil, err
		}

		fieldChanges, err := i.leafChanges(ctx, staged, views, ev, field, value)
		if err != nil {
			return nil, err
		}
		changes = append(changes, fieldChanges...)
	}

	for _, field := range sortedRefKeys(ev.Refs) {
		target := ev.Refs[field]
		if err := i.links.Replace(ctx, ev.Scope, ev.Object, field, target, ev.ID); err != nil {
			return nil, err
		}
		if err := staged.Apply(ctx, ev.Scope, ev.Object, field, ev.ID); err != nil {
			return nil, err
		}

		refChanges, err := i.refChanges(ctx, staged, views, ev, field, target)
		if err != nil {
			return nil, err
		}
		changes = append(changes, refChanges...)
	}

	return changes, nil
}

// leafChanges emits one set-change per concrete path instance whose leaf
// field the event updated.
func (i *Ingress) leafChanges(ctx context.Context, staged *gate.Staged, views *model.Views, ev WrittenEvent, field string, value []byte) ([]view.FieldChange, error) {
	var changes []view.FieldChange
	for _, binding := range views.LeafBindings(ev.Object.Class, field) {
		def := binding.View.Paths[binding.Path]
		chains, err := i.links.Ancestors(ctx, ev.Scope, def, binding.Step, ev.Object)
		if err != nil {
			return nil, err
		}
		for _, chain := range chains {
			change, err := i.change(ctx, staged, ev, view.OpSet, chain, field, value)
			if err != nil {
				return nil, err
			}
			changes = append(changes, change)
		}
	}
	return changes, nil
}

// refChanges re-derives downstream leaf values when a ref field moves: the
// new target subtree's current values are read back from the event store
// and committed under every path instance crossing the changed hop.
func (i *Ingress) refChanges(ctx context.Context, staged *gate.Staged, views *model.Views, ev WrittenEvent, field string, target ids.ObjectID) ([]view.FieldChange, error) {
	var changes []view.FieldChange
	for _, binding := range views.RefBindings(ev.Object.Class, field) {
		def := binding.View.Paths[binding.Path]

		upper, err := i.links.Ancestors(ctx, ev.Scope, def, binding.Step, ev.Object)
		if err != nil {
			return nil, err
		}
		lower, err := i.links.Descendants(ctx, ev.Scope, def, binding.Step+1, target)
		if err != nil {
			return nil, err
		}

		for _, up := range upper {
			for _, down := range lower {
				full := make(view.Path, 0, len(up)+len(down))
				full = append(full, up...)
				full = append(full, down...)

				leaf := full.Leaf()
				for _, leafField := range def.Leaf.Fields {
					value, _, ok, err := i.events.Get(ctx, ev.Scope, leaf, leafField)
					if err != nil {
						return nil, fmt.Errorf("read back leaf %s.%s: %w", leaf, leafField, err)
					}
					if !ok {
						continue
					}
					change, err := i.change(ctx, staged, ev, view.OpSet, full, leafField, value)
					if err != nil {
						return nil, err
					}
					changes = append(changes, change)
				}
			}
		}
	}
	return changes, nil
}

// processDelete tombstones every fragment whose path ends at the deleted
// object and drops the object's outgoing links.
func (i *Ingress) processDelete(ctx context.Context, staged *gate.Staged, views *model.Views, ev WrittenEvent) ([]view.FieldChange, error) {
	if err := staged.CheckInstanceOrder(ctx, ev.Scope, ev.Object, ev.ID); err != nil {
		return nil, err
	}

	var changes []view.FieldChange
	for _, binding := range views.LeafBindingsForClass(ev.Object.Class) {
		def := binding.View.Paths[binding.Path]
		if binding.Step != len(def.Refs) {
			continue
		}
		chains, err := i.links.Ancestors(ctx, ev.Scope, def, binding.Step, ev.Object)
		if err != nil {
			return nil, err
		}
		for _, chain := range chains {
			change, err := i.change(ctx, staged, ev, view.OpRemove, chain, binding.Field, nil)
			if err != nil {
				return nil, err
			}
			changes = append(changes, change)
		}
	}

	// Drop outgoing links so future reads stop traversing through the
	// removed instance.
	for _, def := range views.Defs() {
		for _, path := range def.Paths {
			for _, hop := range path.Refs {
				if hop.From != ev.Object.Class {
					continue
				}
				targets, err := i.links.Targets(ctx, ev.Scope, ev.Object, hop.Field)
				if err != nil {
					return nil, err
				}
				for _, target := range targets {
					if err := i.links.Unlink(ctx, ev.Scope, ev.Object, hop.Field, target); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	if err := staged.RecordExistence(ctx, ev.Scope, ev.Object, ev.ID); err != nil {
		return nil, err
	}
	return changes, nil
}

// change assembles one FieldChange for a concrete chain.
func (i *Ingress) change(ctx context.Context, staged *gate.Staged, ev WrittenEvent, op view.ChangeOp, chain view.Path, field string, value []byte) (view.FieldChange, error) {
	timestamps, err := i.segmentTimestamps(ctx, staged, ev, chain)
	if err != nil {
		return view.FieldChange{}, err
	}
	return view.FieldChange{
		EventID:    ev.ID,
		Actor:      ev.Actor,
		Op:         op,
		Root:       chain.Root(),
		PathHash:   i.keys.PathKey(chain),
		Members:    chain,
		Timestamps: timestamps,
		Field:      field,
		Value:      value,
		Timestamp:  ev.ID.Encode(),
	}, nil
}

// segmentTimestamps records, per chain member, the freshest event known to
// have touched that segment: the incoming event for its own object, the
// existence marker for everything else.
func (i *Ingress) segmentTimestamps(ctx context.Context, staged *gate.Staged, ev WrittenEvent, chain view.Path) ([]int64, error) {
	ts := make([]int64, len(chain))
	for idx, member := range chain {
		if member == ev.Object {
			ts[idx] = ev.ID.Encode()
			continue
		}
		id, ok, err := staged.ExistenceID(ctx, ev.Scope, member)
		if err != nil {
			return nil, err
		}
		if ok {
			ts[idx] = id.Encode()
		}
	}
	return ts, nil
}
