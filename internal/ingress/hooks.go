package ingress

import (
	"context"
	"time"

	"github.com/viewmill/viewmill/internal/ids"
)

// BookkeepingEvent is the audit record for one processed event. Purely
// observational; nothing in the core ever reads these back.
type BookkeepingEvent struct {
	Scope        ids.TenantScope
	EventID      ids.OrderedID
	Object       ids.ObjectID
	PathsTouched int
	Took         time.Duration
	// Err is empty for successfully processed events, otherwise the
	// conflict or failure description.
	Err string
}

// BookkeepingSink receives the audit trail for each ingested batch. It
// returns the subset it could not take; a sink that accepted everything
// returns nil. Sink failures never fail the batch that produced them.
type BookkeepingSink interface {
	Accept(ctx context.Context, events []BookkeepingEvent) ([]BookkeepingEvent, error)
}

// NoopSink accepts everything and records nothing.
type NoopSink struct{}

func (NoopSink) Accept(context.Context, []BookkeepingEvent) ([]BookkeepingEvent, error) {
	return nil, nil
}

// BatchContext describes the ingest call a notification belongs to.
type BatchContext struct {
	Scope   ids.TenantScope
	Size    int
	Started time.Time
}

// NotificationProcessor is called once per successfully processed event,
// after commit. Fire and forget: errors are logged and swallowed.
type NotificationProcessor interface {
	Notify(ctx context.Context, batch BatchContext, event WrittenEvent) error
}

// NoopNotifier ignores all notifications.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, BatchContext, WrittenEvent) error { return nil }
