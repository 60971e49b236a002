package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/PratikDhanave/salesview/internal/bus"
	"github.com/PratikDhanave/salesview/internal/event"
	"github.com/PratikDhanave/salesview/internal/eventlog"
)

// Emitter appends events at the next aggregate version and publishes them.
// A version conflict re-reads the aggregate and retries.
type Emitter struct {
	log        eventlog.Log
	bus        *bus.Bus
	meta       event.Metadata
	maxRetries int
	now        func() time.Time
	logger     *slog.Logger
}

// Emit appends one event for the aggregate and publishes it to the bus.
func (e *Emitter) Emit(ctx context.Context, aggType event.AggregateType, aggID string, typ event.Type, payload any) (event.Event, bus.Results, error) {
	evt, err := e.append(ctx, aggType, aggID, typ, func([]event.Event) (any, error) { return payload, nil })
	if err != nil {
		return event.Event{}, nil, err
	}
	return evt, e.bus.Publish(ctx, evt), nil
}

// append builds the payload from the aggregate's current history and appends
// it at the next version, retrying on version conflicts.
func (e *Emitter) append(ctx context.Context, aggType event.AggregateType, aggID string, typ event.Type, build func(history []event.Event) (any, error)) (event.Event, error) {
	for attempt := 0; ; attempt++ {
		history, err := e.log.EventsForAggregate(ctx, aggType, aggID)
		if err != nil {
			return event.Event{}, fmt.Errorf("read %s/%s history: %w", aggType, aggID, err)
		}
		payload, err := build(history)
		if err != nil {
			return event.Event{}, err
		}

		var version int64
		if len(history) > 0 {
			version = history[len(history)-1].Version
		}
		evt, err := event.New(typ, aggType, aggID, version+1, payload, e.meta)
		if err != nil {
			return event.Event{}, err
		}
		evt.Timestamp = e.now().UTC().Truncate(time.Microsecond)

		if _, err := e.log.Append(ctx, evt); err != nil {
			if errors.Is(err, event.ErrVersionConflict) && attempt < e.maxRetries {
				e.logger.Warn("version conflict, retrying",
					slog.String("aggregate_type", string(aggType)),
					slog.String("aggregate_id", aggID),
					slog.Int("attempt", attempt+1),
					slog.Any("error", err))
				continue
			}
			return event.Event{}, err
		}
		return evt, nil
	}
}

// internalID returns the internal id already assigned to an aggregate, the
// supplied one for a new aggregate, or a fresh one.
func internalID(history []event.Event, supplied string) string {
	for i := len(history) - 1; i >= 0; i-- {
		var ids struct {
			InternalID string `json:"internal_id"`
		}
		if err := json.Unmarshal(history[i].Payload, &ids); err == nil && ids.InternalID != "" {
			return ids.InternalID
		}
	}
	if supplied != "" {
		return supplied
	}
	return uuid.NewString()
}
