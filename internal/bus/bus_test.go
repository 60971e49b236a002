package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/salesview/internal/event"
)

func testEvent(typ event.Type) event.Event {
	return event.Event{ID: "evt-1", Type: typ, AggregateType: event.AggregateUser, AggregateID: "a", Payload: []byte(`{}`)}
}

func TestPublishDeliversToEverySubscriberInOrder(t *testing.T) {
	b := New(nil)
	var calls atomic.Int32
	for _, name := range []string{"identity", "access", "metrics"} {
		b.Subscribe(event.TypeUserSynced, HandlerFunc{ID: name, Fn: func(context.Context, event.Event) error {
			calls.Add(1)
			return nil
		}})
	}
	b.Subscribe(event.TypeActivitySynced, HandlerFunc{ID: "activity", Fn: func(context.Context, event.Event) error {
		t.Error("activity handler must not see user events")
		return nil
	}})

	results := b.Publish(context.Background(), testEvent(event.TypeUserSynced))
	require.Len(t, results, 3)
	assert.True(t, results.OK())
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "identity", results[0].Handler)
	assert.Equal(t, "metrics", results[2].Handler)
	assert.Equal(t, "evt-1", results[1].EventID)
	assert.Equal(t, []string{"identity", "access", "metrics"}, b.Subscribers(event.TypeUserSynced))
}

func TestPublishWithoutSubscribersIsEmpty(t *testing.T) {
	b := New(nil)
	results := b.Publish(context.Background(), testEvent(event.TypeRecordDeactivated))
	assert.Empty(t, results)
	assert.True(t, results.OK())
}

func TestPublishRunsHandlersConcurrently(t *testing.T) {
	b := New(nil)
	const n = 4
	var started sync.WaitGroup
	started.Add(n)
	release := make(chan struct{})
	for i := 0; i < n; i++ {
		b.Subscribe(event.TypeUserSynced, HandlerFunc{ID: "h", Fn: func(ctx context.Context, _ event.Event) error {
			started.Done()
			select {
			case <-release:
				return nil
			case <-time.After(5 * time.Second):
				return errors.New("handlers did not run concurrently")
			}
		}})
	}

	go func() {
		started.Wait()
		close(release)
	}()
	results := b.Publish(context.Background(), testEvent(event.TypeUserSynced))
	assert.True(t, results.OK(), "%v", results.Failed())
}

func TestPublishIsolatesFailuresAndPanics(t *testing.T) {
	b := New(nil)
	boom := errors.New("boom")
	var ok atomic.Bool
	b.Subscribe(event.TypeUserSynced, HandlerFunc{ID: "failing", Fn: func(context.Context, event.Event) error { return boom }})
	b.Subscribe(event.TypeUserSynced, HandlerFunc{ID: "panicking", Fn: func(context.Context, event.Event) error { panic("kaput") }})
	b.Subscribe(event.TypeUserSynced, HandlerFunc{ID: "healthy", Fn: func(context.Context, event.Event) error {
		ok.Store(true)
		return nil
	}})

	results := b.Publish(context.Background(), testEvent(event.TypeUserSynced))
	require.Len(t, results, 3)
	assert.False(t, results.OK())
	assert.True(t, ok.Load())

	assert.ErrorIs(t, results[0].Err, boom)

	var panicErr *HandlerPanicError
	require.ErrorAs(t, results[1].Err, &panicErr)
	assert.Equal(t, "panicking", panicErr.Handler)
	assert.Equal(t, "kaput", panicErr.PanicValue)
	assert.NotEmpty(t, panicErr.StackTrace)

	assert.NoError(t, results[2].Err)
	assert.Len(t, results.Failed(), 2)
}

func TestHandlersReceiveIndependentCopies(t *testing.T) {
	b := New(nil)
	b.Subscribe(event.TypeUserSynced, HandlerFunc{ID: "mutator", Fn: func(_ context.Context, evt event.Event) error {
		evt.Payload[0] = 'x'
		return nil
	}})
	evt := testEvent(event.TypeUserSynced)
	b.Publish(context.Background(), evt)
	assert.Equal(t, `{}`, string(evt.Payload))
}

func TestTally(t *testing.T) {
	tally := Tally{}
	tally.Add(Results{{Handler: "identity"}, {Handler: "access", Err: errors.New("x")}})
	tally.Add(Results{{Handler: "identity"}})
	tally.Merge(Tally{"access": {Succeeded: 2}, "metrics": {Failed: 1}})

	assert.Equal(t, Tally{
		"identity": {Succeeded: 2},
		"access":   {Succeeded: 2, Failed: 1},
		"metrics":  {Failed: 1},
	}, tally)
}
