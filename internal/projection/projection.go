// Package projection builds materialized views from the event log.
//
// A projection declares the event types it consumes and applies them one at a
// time. Handle must be a pure function of (stored state, event): applying the
// same event twice leaves the store exactly as applying it once, so live
// delivery, recovery and full replay all share one code path.
package projection

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/PratikDhanave/salesview/internal/event"
)

// ErrUnknownProjection is returned when a rebuild names an unregistered projection.
var ErrUnknownProjection = errors.New("unknown projection")

// Projection maintains one materialized view.
type Projection interface {
	Name() string
	// SubscribesTo lists the event types this projection applies.
	SubscribesTo() []event.Type
	// Handle applies one event. Types the projection does not recognize are
	// ignored without error.
	Handle(ctx context.Context, evt event.Event) error
	// Reset clears the view before a full rebuild.
	Reset(ctx context.Context) error
}

// Accepts reports whether p subscribes to t.
func Accepts(p Projection, t event.Type) bool {
	return slices.Contains(p.SubscribesTo(), t)
}

// Timestamp normalizes an event timestamp to UTC for persisting in a view.
// Views never read the wall clock so replays reproduce them exactly.
func Timestamp(evt event.Event) time.Time {
	return evt.Timestamp.UTC()
}

// OptionalTime normalizes an optional payload time to UTC. A missing or zero
// time stays nil so it is omitted from the view.
func OptionalTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
