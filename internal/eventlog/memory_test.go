package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/salesview/internal/event"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func userEvent(t *testing.T, id string, version int64, ts time.Time) event.Event {
	t.Helper()
	evt, err := event.New(event.TypeUserSynced, event.AggregateUser, id, version,
		event.UserSynced{ExternalID: id, InternalID: "u-" + id}, event.Metadata{Source: "test"})
	require.NoError(t, err)
	evt.Timestamp = ts
	return evt
}

func TestMemoryLogAppendEnforcesVersion(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog(nil)

	_, err := log.Append(ctx, userEvent(t, "a", 1, t0))
	require.NoError(t, err)

	_, err = log.Append(ctx, userEvent(t, "a", 1, t0))
	var conflict *event.VersionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.True(t, errors.Is(err, event.ErrVersionConflict))
	assert.Equal(t, int64(1), conflict.Current)

	_, err = log.Append(ctx, userEvent(t, "a", 3, t0))
	assert.ErrorIs(t, err, event.ErrVersionConflict)

	// Versions are per aggregate.
	_, err = log.Append(ctx, userEvent(t, "b", 1, t0))
	require.NoError(t, err)

	version, last, err := LatestVersion(ctx, log, event.AggregateUser, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	require.NotNil(t, last)
	assert.Equal(t, "a", last.AggregateID)
}

func TestMemoryLogStoresUnknownTypes(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog(nil)

	future := userEvent(t, "a", 1, t0)
	future.Type = "user.renamed"
	_, err := log.Append(ctx, future)
	require.NoError(t, err)

	// Only the version is checked: the next event of the aggregate is version 2.
	_, err = log.Append(ctx, userEvent(t, "a", 1, t0))
	assert.ErrorIs(t, err, event.ErrVersionConflict)

	events, err := log.EventsForAggregate(ctx, event.AggregateUser, "a")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.Type("user.renamed"), events[0].Type)
}

func TestMemoryLogRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog(nil)

	first := userEvent(t, "a", 1, t0)
	_, err := log.Append(ctx, first)
	require.NoError(t, err)

	dup := userEvent(t, "b", 1, t0)
	dup.ID = first.ID
	_, err = log.Append(ctx, dup)
	assert.ErrorContains(t, err, "duplicate id")
}

func TestMemoryLogNormalizesTimestamps(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 5, 5, 5, 5, 123456789, time.FixedZone("X", 3600))
	log := NewMemoryLog(func() time.Time { return now })

	_, err := log.Append(ctx, userEvent(t, "a", 1, time.Time{}))
	require.NoError(t, err)

	events, err := log.EventsForAggregate(ctx, event.AggregateUser, "a")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, now.UTC().Truncate(time.Microsecond), events[0].Timestamp)
	assert.Equal(t, time.UTC, events[0].Timestamp.Location())
	assert.Equal(t, int64(1), events[0].Seq)
}

func TestMemoryLogEventsSinceOrdersByTimestampThenPosition(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog(nil)

	// Appended out of timestamp order.
	for _, e := range []event.Event{
		userEvent(t, "late", 1, t0.Add(2*time.Minute)),
		userEvent(t, "tie-1", 1, t0.Add(time.Minute)),
		userEvent(t, "early", 1, t0),
		userEvent(t, "tie-2", 1, t0.Add(time.Minute)),
	} {
		_, err := log.Append(ctx, e)
		require.NoError(t, err)
	}

	all, err := log.EventsSince(ctx, time.Time{})
	require.NoError(t, err)
	var ids []string
	for _, e := range all {
		ids = append(ids, e.AggregateID)
	}
	assert.Equal(t, []string{"early", "tie-1", "tie-2", "late"}, ids)

	tail, err := log.EventsSince(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, tail, 3)
}

func TestMemoryLogMarkDeliveredIsIdempotent(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog(nil)

	id, err := log.Append(ctx, userEvent(t, "a", 1, t0))
	require.NoError(t, err)

	require.NoError(t, log.MarkDelivered(ctx, id, "identity"))
	require.NoError(t, log.MarkDelivered(ctx, id, "identity"))
	require.NoError(t, log.MarkDelivered(ctx, id, "access"))

	events, err := log.EventsForAggregate(ctx, event.AggregateUser, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"identity", "access"}, events[0].DeliveredTo)

	assert.ErrorIs(t, log.MarkDelivered(ctx, "missing", "identity"), ErrEventNotFound)
}

func TestMemoryLogReturnsCopies(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog(nil)
	id, err := log.Append(ctx, userEvent(t, "a", 1, t0))
	require.NoError(t, err)

	events, err := log.EventsSince(ctx, time.Time{})
	require.NoError(t, err)
	events[0].DeliveredTo = append(events[0].DeliveredTo, "tampered")
	events[0].Payload[0] = '['

	again, err := log.EventsForAggregate(ctx, event.AggregateUser, "a")
	require.NoError(t, err)
	assert.Empty(t, again[0].DeliveredTo)
	assert.Equal(t, byte('{'), again[0].Payload[0])
	assert.Equal(t, id, again[0].ID)
}

func TestMemoryLogConcurrentAppendsSerializePerAggregate(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog(nil)

	const writers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			evt := userEvent(t, "hot", 1, t0.Add(time.Duration(i)*time.Second))
			if _, err := log.Append(ctx, evt); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, event.ErrVersionConflict) {
				t.Errorf("writer %d: unexpected error %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	events, err := log.EventsForAggregate(ctx, event.AggregateUser, "hot")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestMemoryLogHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	log := NewMemoryLog(nil)

	_, err := log.Append(ctx, userEvent(t, "a", 1, t0))
	assert.ErrorIs(t, err, context.Canceled)
	_, err = log.EventsSince(ctx, time.Time{})
	assert.ErrorIs(t, err, context.Canceled)
}

func ExampleLatestVersion() {
	ctx := context.Background()
	log := NewMemoryLog(nil)
	evt, _ := event.New(event.TypeUserSynced, event.AggregateUser, "ext-1", 1,
		event.UserSynced{ExternalID: "ext-1"}, event.Metadata{})
	_, _ = log.Append(ctx, evt)

	v, _, _ := LatestVersion(ctx, log, event.AggregateUser, "ext-1")
	fmt.Println(v)
	// Output: 1
}
