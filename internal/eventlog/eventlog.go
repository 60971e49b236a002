// Package eventlog stores the append-only history of domain events.
//
// The log is the single source of truth: every materialized view can be
// rebuilt from it. Appends are serialized per aggregate through an optimistic
// version check; nothing is ever edited or removed except the delivered-to
// set of an event.
package eventlog

import (
	"context"
	"time"

	"github.com/PratikDhanave/salesview/internal/event"
)

// Log is the event log contract shared by the in-memory and Postgres backends.
type Log interface {
	// Append writes one event and returns its id. The event version must be
	// exactly one greater than the last recorded version of its aggregate,
	// otherwise an error matching event.ErrVersionConflict is returned.
	Append(ctx context.Context, evt event.Event) (string, error)
	// EventsForAggregate returns the history of one aggregate in version order.
	EventsForAggregate(ctx context.Context, aggType event.AggregateType, aggID string) ([]event.Event, error)
	// EventsSince returns every event with timestamp >= since, ordered by timestamp then position.
	EventsSince(ctx context.Context, since time.Time) ([]event.Event, error)
	// MarkDelivered records that a projection applied the event. Re-marking is a no-op.
	MarkDelivered(ctx context.Context, eventID, projection string) error
}

// LatestVersion returns the last recorded version of an aggregate and its
// newest event, if any.
func LatestVersion(ctx context.Context, log Log, aggType event.AggregateType, aggID string) (int64, *event.Event, error) {
	history, err := log.EventsForAggregate(ctx, aggType, aggID)
	if err != nil {
		return 0, nil, err
	}
	if len(history) == 0 {
		return 0, nil, nil
	}
	last := history[len(history)-1]
	return last.Version, &last, nil
}

func normalizeTimestamp(ts time.Time, now func() time.Time) time.Time {
	if ts.IsZero() {
		ts = now()
	}
	return ts.UTC().Truncate(time.Microsecond)
}
