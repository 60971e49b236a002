package projection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/PratikDhanave/salesview/internal/bus"
	"github.com/PratikDhanave/salesview/internal/event"
	"github.com/PratikDhanave/salesview/internal/eventlog"
)

// Engine wires projections to the bus and the event log.
//
// Each registered projection is serialized behind its own lock, so live
// deliveries and replays of one projection never interleave while different
// projections still run concurrently.
type Engine struct {
	log    eventlog.Log
	bus    *bus.Bus
	logger *slog.Logger

	mu     sync.RWMutex
	order  []*registered
	byName map[string]*registered
}

type registered struct {
	Projection
	mu sync.Mutex
}

// RebuildResult summarizes one replay of one projection.
type RebuildResult struct {
	Projection string    `json:"projection"`
	Since      time.Time `json:"since"`
	Reset      bool      `json:"reset"`
	Applied    int       `json:"applied"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
}

// NewEngine creates an engine. A nil logger defaults to slog.Default().
func NewEngine(log eventlog.Log, b *bus.Bus, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		log:    log,
		bus:    b,
		logger: logger.With(slog.String("component", "projection")),
		byName: make(map[string]*registered),
	}
}

// Register subscribes p to every event type it declares. Registration order
// is the order RebuildAll replays projections in.
func (e *Engine) Register(p Projection) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, dup := e.byName[p.Name()]; dup {
		return fmt.Errorf("projection %s already registered", p.Name())
	}
	r := &registered{Projection: p}
	e.order = append(e.order, r)
	e.byName[p.Name()] = r

	for _, t := range p.SubscribesTo() {
		e.bus.Subscribe(t, bus.HandlerFunc{
			ID: p.Name(),
			Fn: func(ctx context.Context, evt event.Event) error { return e.deliver(ctx, r, evt) },
		})
	}
	return nil
}

// Names returns the registered projection names in registration order.
func (e *Engine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.order))
	for _, r := range e.order {
		names = append(names, r.Name())
	}
	return names
}

func (e *Engine) lookup(name string) (*registered, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.byName[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownProjection)
	}
	return r, nil
}

func (e *Engine) deliver(ctx context.Context, r *registered, evt event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return e.apply(ctx, r, evt)
}

// apply runs Handle and records delivery. Callers hold r.mu.
func (e *Engine) apply(ctx context.Context, r *registered, evt event.Event) error {
	if err := r.Handle(ctx, evt); err != nil {
		return fmt.Errorf("%s: apply %s %s: %w", r.Name(), evt.Type, evt.ID, err)
	}
	if err := e.log.MarkDelivered(ctx, evt.ID, r.Name()); err != nil {
		e.logger.Warn("mark delivered failed",
			slog.String("projection", r.Name()),
			slog.String("event_id", evt.ID),
			slog.Any("error", err))
	}
	return nil
}

// Rebuild replays every event since the given time into one projection, in
// timestamp order on a single goroutine. A zero since resets the view first
// and replays full history. Failed events are logged and counted; the replay
// continues and the failures are returned joined.
func (e *Engine) Rebuild(ctx context.Context, name string, since time.Time) (RebuildResult, error) {
	return e.replay(ctx, name, since, false)
}

// Recover re-applies, in order, the events since the given time that the
// projection has not been marked as having applied.
func (e *Engine) Recover(ctx context.Context, name string, since time.Time) (RebuildResult, error) {
	return e.replay(ctx, name, since, true)
}

// RebuildAll replays the log once, feeding each event to every projection in
// registration order. Projections that read another projection's view thus
// see it exactly as it stood when the event was first delivered, which a
// projection-by-projection rebuild would not guarantee. A zero since resets
// every view first.
func (e *Engine) RebuildAll(ctx context.Context, since time.Time) ([]RebuildResult, error) {
	e.mu.RLock()
	regs := slices.Clone(e.order)
	e.mu.RUnlock()

	for _, r := range regs {
		r.mu.Lock()
		defer r.mu.Unlock()
	}

	results := make([]RebuildResult, len(regs))
	for i, r := range regs {
		results[i] = RebuildResult{Projection: r.Name(), Since: since.UTC()}
		if since.IsZero() {
			if err := r.Reset(ctx); err != nil {
				return results, fmt.Errorf("%s: reset: %w", r.Name(), err)
			}
			results[i].Reset = true
		}
	}

	events, err := e.log.EventsSince(ctx, since)
	if err != nil {
		return results, fmt.Errorf("load events: %w", err)
	}

	var errs []error
	for _, evt := range events {
		if err := ctx.Err(); err != nil {
			return results, errors.Join(append(errs, err)...)
		}
		for i, r := range regs {
			if !Accepts(r, evt.Type) {
				results[i].Skipped++
				continue
			}
			if err := e.apply(ctx, r, evt); err != nil {
				results[i].Failed++
				errs = append(errs, err)
				e.logger.Error("replay apply failed",
					slog.String("projection", r.Name()),
					slog.String("event_id", evt.ID),
					slog.Any("error", err))
				continue
			}
			results[i].Applied++
		}
	}

	for _, res := range results {
		e.logger.Info("projection replayed",
			slog.String("projection", res.Projection),
			slog.Bool("reset", res.Reset),
			slog.Int("applied", res.Applied),
			slog.Int("skipped", res.Skipped),
			slog.Int("failed", res.Failed))
	}
	return results, errors.Join(errs...)
}

func (e *Engine) replay(ctx context.Context, name string, since time.Time, undeliveredOnly bool) (RebuildResult, error) {
	r, err := e.lookup(name)
	if err != nil {
		return RebuildResult{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	res := RebuildResult{Projection: name, Since: since.UTC()}
	if since.IsZero() && !undeliveredOnly {
		if err := r.Reset(ctx); err != nil {
			return res, fmt.Errorf("%s: reset: %w", name, err)
		}
		res.Reset = true
	}

	events, err := e.log.EventsSince(ctx, since)
	if err != nil {
		return res, fmt.Errorf("%s: load events: %w", name, err)
	}

	var errs []error
	for _, evt := range events {
		if err := ctx.Err(); err != nil {
			return res, errors.Join(append(errs, err)...)
		}
		if !Accepts(r, evt.Type) || (undeliveredOnly && evt.Delivered(name)) {
			res.Skipped++
			continue
		}
		if err := e.apply(ctx, r, evt); err != nil {
			res.Failed++
			errs = append(errs, err)
			e.logger.Error("replay apply failed",
				slog.String("projection", name),
				slog.String("event_id", evt.ID),
				slog.Any("error", err))
			continue
		}
		res.Applied++
	}

	e.logger.Info("projection replayed",
		slog.String("projection", name),
		slog.Bool("reset", res.Reset),
		slog.Int("applied", res.Applied),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed))
	return res, errors.Join(errs...)
}
