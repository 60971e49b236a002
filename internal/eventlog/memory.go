package eventlog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PratikDhanave/salesview/internal/event"
)

// ErrEventNotFound is returned when marking delivery of an unknown event id.
var ErrEventNotFound = errors.New("event not found")

type aggregateKey struct {
	typ event.AggregateType
	id  string
}

// MemoryLog is an in-process Log used for tests and single-node deployments.
type MemoryLog struct {
	mu      sync.RWMutex
	events  []event.Event
	byID    map[string]int
	byAgg   map[aggregateKey][]int
	seq     int64
	nowFunc func() time.Time
}

// NewMemoryLog creates an empty log. A nil clock defaults to time.Now.
func NewMemoryLog(now func() time.Time) *MemoryLog {
	if now == nil {
		now = time.Now
	}
	return &MemoryLog{
		byID:    make(map[string]int),
		byAgg:   make(map[aggregateKey][]int),
		nowFunc: now,
	}
}

func (l *MemoryLog) Append(ctx context.Context, evt event.Event) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := aggregateKey{typ: evt.AggregateType, id: evt.AggregateID}
	var current int64
	if idx := l.byAgg[key]; len(idx) > 0 {
		current = l.events[idx[len(idx)-1]].Version
	}
	if evt.Version != current+1 {
		return "", &event.VersionConflictError{
			AggregateType: evt.AggregateType,
			AggregateID:   evt.AggregateID,
			Current:       current,
			Supplied:      evt.Version,
		}
	}

	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if _, dup := l.byID[evt.ID]; dup {
		return "", fmt.Errorf("append event %s: duplicate id", evt.ID)
	}

	l.seq++
	stored := evt.Clone()
	stored.Seq = l.seq
	stored.Timestamp = normalizeTimestamp(evt.Timestamp, l.nowFunc)
	stored.DeliveredTo = nil

	l.events = append(l.events, stored)
	pos := len(l.events) - 1
	l.byID[stored.ID] = pos
	l.byAgg[key] = append(l.byAgg[key], pos)
	return stored.ID, nil
}

func (l *MemoryLog) EventsForAggregate(ctx context.Context, aggType event.AggregateType, aggID string) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	idx := l.byAgg[aggregateKey{typ: aggType, id: aggID}]
	out := make([]event.Event, 0, len(idx))
	for _, i := range idx {
		out = append(out, l.events[i].Clone())
	}
	return out, nil
}

func (l *MemoryLog) EventsSince(ctx context.Context, since time.Time) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	out := make([]event.Event, 0, len(l.events))
	for _, evt := range l.events {
		if !evt.Timestamp.Before(since) {
			out = append(out, evt.Clone())
		}
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return event.Less(out[i], out[j]) })
	return out, nil
}

func (l *MemoryLog) MarkDelivered(ctx context.Context, eventID, projection string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.byID[eventID]
	if !ok {
		return fmt.Errorf("mark %s delivered to %s: %w", eventID, projection, ErrEventNotFound)
	}
	if slices.Contains(l.events[pos].DeliveredTo, projection) {
		return nil
	}
	l.events[pos].DeliveredTo = append(l.events[pos].DeliveredTo, projection)
	return nil
}
