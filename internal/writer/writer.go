// Package writer is the write-side entry point: it assigns identities to
// incoming events and drives them through ingress until the batch drains.
//
// Ingest reports consistency conflicts as a failed subset rather than an
// error, because a conflicted event only needs its causal dependencies to
// land first. The writer owns that retry: it resubmits the failed subset
// with capped exponential backoff until the subset is empty or the attempt
// budget runs out.
package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/viewmill/viewmill/internal/ids"
	"github.com/viewmill/viewmill/internal/ingress"
)

// Event is the wire shape callers hand to Write. Zero EventID and empty
// Instance are filled in by the writer.
type Event struct {
	EventID  int64                      `json:"eventId,omitempty"`
	Tenant   string                     `json:"tenant"`
	Centric  string                     `json:"centric,omitempty"`
	Actor    string                     `json:"actor"`
	Class    string                     `json:"class"`
	Instance string                     `json:"instance,omitempty"`
	Fields   map[string]json.RawMessage `json:"fields,omitempty"`
	Refs     map[string]ids.ObjectID    `json:"refs,omitempty"`
	Delete   bool                       `json:"delete,omitempty"`
}

// WriteError reports a batch the writer could not apply: a malformed
// event (Index names it) or a storage failure during ingest (Index -1).
// Never retried by the writer.
type WriteError struct {
	Index int
	Err   error
}

func (e *WriteError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("write batch: %v", e.Err)
	}
	return fmt.Sprintf("event %d: %v", e.Index, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// DrainError reports events still conflicted after the attempt budget.
// The unprocessed subset can be resubmitted once its dependencies land.
type DrainError struct {
	Attempts    int
	Unprocessed []ingress.WrittenEvent
}

func (e *DrainError) Error() string {
	return fmt.Sprintf("%d events still unprocessed after %d attempts", len(e.Unprocessed), e.Attempts)
}

const (
	// DefaultMaxAttempts bounds the drain loop. A batch whose internal
	// dependency chain is longer than this is malformed.
	DefaultMaxAttempts = 10
	defaultBackoffBase = 10 * time.Millisecond
	maxBackoff         = 2 * time.Second
)

// Ingester consumes written events, returning the conflicted subset.
type Ingester interface {
	Ingest(ctx context.Context, batch []ingress.WrittenEvent) ([]ingress.WrittenEvent, error)
}

// Config wires a Writer. Ingress is required.
type Config struct {
	Ingress Ingester
	// Sequence assigns OrderedIDs to events arriving without one.
	// Defaults to a fresh provider.
	Sequence *ids.OrderedIDProvider
	// Instances assigns instance ids to events arriving without one.
	// Defaults to UUIDv7.
	Instances ids.InstanceIDProvider
	// MaxAttempts bounds the drain loop, default DefaultMaxAttempts.
	MaxAttempts int
	// BackoffBase is the first retry delay; each retry doubles it up to a
	// fixed cap.
	BackoffBase time.Duration
	Logger      *slog.Logger
}

// Writer converts caller events and drains them through ingress.
type Writer struct {
	ingress     Ingester
	seq         *ids.OrderedIDProvider
	instances   ids.InstanceIDProvider
	maxAttempts int
	backoffBase time.Duration
	logger      *slog.Logger
}

// New creates a Writer from the config.
func New(cfg Config) *Writer {
	w := &Writer{
		ingress:     cfg.Ingress,
		seq:         cfg.Sequence,
		instances:   cfg.Instances,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		logger:      cfg.Logger,
	}
	if w.seq == nil {
		w.seq = ids.NewOrderedIDProvider()
	}
	if w.instances == nil {
		w.instances = ids.UUIDv7Provider{}
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = DefaultMaxAttempts
	}
	if w.backoffBase <= 0 {
		w.backoffBase = defaultBackoffBase
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w
}

// Write assigns identities, submits the batch, and drains conflicts. The
// returned ObjectIDs are positional: one per input event, including ids the
// writer assigned.
func (w *Writer) Write(ctx context.Context, events ...Event) ([]ids.ObjectID, error) {
	batch := make([]ingress.WrittenEvent, 0, len(events))
	objects := make([]ids.ObjectID, 0, len(events))

	for i, ev := range events {
		written, err := w.convert(ev)
		if err != nil {
			return nil, &WriteError{Index: i, Err: err}
		}
		batch = append(batch, written)
		objects = append(objects, written.Object)
	}

	if err := w.drain(ctx, batch); err != nil {
		var drainErr *DrainError
		if errors.As(err, &drainErr) {
			return objects, err
		}
		return objects, &WriteError{Index: -1, Err: err}
	}
	return objects, nil
}

func (w *Writer) convert(ev Event) (ingress.WrittenEvent, error) {
	if ev.Tenant == "" {
		return ingress.WrittenEvent{}, fmt.Errorf("missing tenant")
	}
	if ev.Class == "" {
		return ingress.WrittenEvent{}, fmt.Errorf("missing class")
	}
	if ev.Delete && ev.Instance == "" {
		return ingress.WrittenEvent{}, fmt.Errorf("delete without instance")
	}
	for field, target := range ev.Refs {
		if target.IsZero() {
			return ingress.WrittenEvent{}, fmt.Errorf("ref %q: empty target", field)
		}
	}

	instance := ev.Instance
	if instance == "" {
		instance = w.instances.NextInstanceID()
	}
	id := ids.OrderedID{Seq: ev.EventID, Kind: ids.OpAdd}
	if ev.Delete {
		id.Kind = ids.OpRemove
	}
	if ev.EventID == 0 {
		id = w.seq.Next(id.Kind)
	}

	return ingress.WrittenEvent{
		ID:     id,
		Scope:  ids.NewTenantScope(ids.TenantID(ev.Tenant), ids.ActorID(ev.Centric)),
		Actor:  ids.ActorID(ev.Actor),
		Object: ids.NewObjectID(ev.Class, instance),
		Fields: ev.Fields,
		Refs:   ev.Refs,
		Delete: ev.Delete,
	}, nil
}

// drain resubmits the conflicted subset until it empties or the attempt
// budget runs out. Within a batch, conflicts resolve as their dependencies
// land on earlier attempts, so the subset shrinks monotonically for any
// well-formed batch.
func (w *Writer) drain(ctx context.Context, batch []ingress.WrittenEvent) error {
	pending := batch
	for attempt := 0; attempt < w.maxAttempts; attempt++ {
		failed, err := w.ingress.Ingest(ctx, pending)
		if err != nil {
			return fmt.Errorf("ingest attempt %d: %w", attempt+1, err)
		}
		if len(failed) == 0 {
			return nil
		}
		if len(failed) == len(pending) && attempt > 0 {
			w.logger.Warn("drain made no progress", "attempt", attempt+1, "pending", len(failed))
		}
		pending = failed

		if attempt+1 < w.maxAttempts {
			if err := sleep(ctx, backoff(w.backoffBase, attempt)); err != nil {
				return &DrainError{Attempts: attempt + 1, Unprocessed: pending}
			}
		}
	}
	return &DrainError{Attempts: w.maxAttempts, Unprocessed: pending}
}

// backoff doubles per attempt, capped.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base << attempt
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
