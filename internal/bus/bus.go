// Package bus routes published events to every handler subscribed to the
// event's type.
//
// Delivery is at-least-once with no ordering across handlers: Publish runs
// all matching handlers concurrently and waits for every one of them, then
// returns one Result per handler. A failing or panicking handler never stops
// its siblings and is never retried automatically.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PratikDhanave/salesview/internal/event"
)

// Handler applies one event.
type Handler interface {
	// Name identifies the handler in logs and results.
	Name() string
	Handle(ctx context.Context, evt event.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc struct {
	ID string
	Fn func(ctx context.Context, evt event.Event) error
}

func (h HandlerFunc) Name() string { return h.ID }

func (h HandlerFunc) Handle(ctx context.Context, evt event.Event) error { return h.Fn(ctx, evt) }

// Result is the outcome of one handler for one published event.
type Result struct {
	Handler  string
	EventID  string
	Err      error
	Duration time.Duration
}

// Results is the complete report of one Publish call.
type Results []Result

// OK reports whether every handler succeeded.
func (r Results) OK() bool {
	for _, res := range r {
		if res.Err != nil {
			return false
		}
	}
	return true
}

// Failed returns the results whose handler returned an error.
func (r Results) Failed() Results {
	var out Results
	for _, res := range r {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// HandlerPanicError wraps a panic raised inside a handler.
type HandlerPanicError struct {
	Handler    string
	PanicValue any
	StackTrace string
}

func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("handler %s panicked: %v", e.Handler, e.PanicValue)
}

// Bus is an in-process publish/subscribe router.
type Bus struct {
	mu       sync.RWMutex
	handlers map[event.Type][]Handler
	logger   *slog.Logger
}

// New creates an empty bus. A nil logger defaults to slog.Default().
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[event.Type][]Handler),
		logger:   logger.With(slog.String("component", "bus")),
	}
}

// Subscribe registers h for events of type t. Many handlers may share a type.
func (b *Bus) Subscribe(t event.Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Subscribers returns the handler names registered for t, in subscription order.
func (b *Bus) Subscribers(t event.Type) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.handlers[t]))
	for _, h := range b.handlers[t] {
		names = append(names, h.Name())
	}
	return names
}

// Publish invokes every handler subscribed to evt.Type concurrently and
// returns one result per handler, in subscription order. An event with no
// subscribers yields an empty result set.
func (b *Bus) Publish(ctx context.Context, evt event.Event) Results {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[evt.Type]...)
	b.mu.RUnlock()

	if len(handlers) == 0 && !evt.Type.Known() {
		b.logger.Debug("no subscribers for event type",
			slog.String("event_id", evt.ID),
			slog.String("event_type", string(evt.Type)))
	}
	results := make(Results, len(handlers))
	var g errgroup.Group
	for i, h := range handlers {
		g.Go(func() error {
			results[i] = b.invoke(ctx, h, evt)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if res.Err != nil {
			b.logger.Error("handler failed",
				slog.String("handler", res.Handler),
				slog.String("event_id", evt.ID),
				slog.String("event_type", string(evt.Type)),
				slog.Any("error", res.Err))
		}
	}
	return results
}

func (b *Bus) invoke(ctx context.Context, h Handler, evt event.Event) (res Result) {
	start := time.Now()
	res = Result{Handler: h.Name(), EventID: evt.ID}
	defer func() {
		if r := recover(); r != nil {
			res.Err = &HandlerPanicError{Handler: h.Name(), PanicValue: r, StackTrace: string(debug.Stack())}
		}
		res.Duration = time.Since(start)
	}()
	res.Err = h.Handle(ctx, evt.Clone())
	return res
}

// Count is the number of successful and failed applications of one handler.
type Count struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Tally accumulates per-handler counts across many publishes.
type Tally map[string]Count

// Add folds one publish report into t.
func (t Tally) Add(results Results) {
	for _, res := range results {
		c := t[res.Handler]
		if res.Err != nil {
			c.Failed++
		} else {
			c.Succeeded++
		}
		t[res.Handler] = c
	}
}

// Merge folds another tally into t.
func (t Tally) Merge(other Tally) {
	for name, oc := range other {
		c := t[name]
		c.Succeeded += oc.Succeeded
		c.Failed += oc.Failed
		t[name] = c
	}
}
