package broadcast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func snapshotAt(version int64) SnapshotFunc {
	return func(ctx context.Context) (Event, error) {
		return NewEvent(EventSnapshot, "a1", version, time.Now(), map[string]int64{"version": version})
	}
}

func event(t *testing.T, typ EventType, version int64) Event {
	t.Helper()
	e, err := NewEvent(typ, "a1", version, time.Now(), struct{}{})
	require.NoError(t, err)
	return e
}

func next(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case e, ok := <-sub.Events():
		require.True(t, ok, "stream closed")
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBus_SnapshotFirstThenOrderedEvents(t *testing.T) {
	bus := NewBus(8)
	sub, err := bus.Subscribe(context.Background(), "a1", snapshotAt(5))
	require.NoError(t, err)
	defer bus.Unsubscribe(sub)

	require.NoError(t, bus.Publish(context.Background(), event(t, EventBidAccepted, 6)))
	require.NoError(t, bus.Publish(context.Background(), event(t, EventAggregateChanged, 6)))

	require.Equal(t, EventSnapshot, next(t, sub).Type)
	e := next(t, sub)
	require.Equal(t, EventBidAccepted, e.Type)
	require.Equal(t, int64(6), e.Version)
	require.Equal(t, EventAggregateChanged, next(t, sub).Type)
}

func TestBus_NoGapBetweenSnapshotAndStream(t *testing.T) {
	bus := NewBus(8)
	// a bid commits and publishes while the snapshot is being loaded
	snap := func(ctx context.Context) (Event, error) {
		require.NoError(t, bus.Publish(ctx, event(t, EventBidAccepted, 3))) // covered by snapshot
		require.NoError(t, bus.Publish(ctx, event(t, EventBidAccepted, 4))) // after snapshot
		return NewEvent(EventSnapshot, "a1", 3, time.Now(), nil)
	}
	sub, err := bus.Subscribe(context.Background(), "a1", snap)
	require.NoError(t, err)
	defer bus.Unsubscribe(sub)

	require.Equal(t, EventSnapshot, next(t, sub).Type)
	e := next(t, sub)
	require.Equal(t, int64(4), e.Version)
}

func TestBus_TicksAreNotVersionFiltered(t *testing.T) {
	bus := NewBus(8)
	sub, err := bus.Subscribe(context.Background(), "a1", snapshotAt(9))
	require.NoError(t, err)
	defer bus.Unsubscribe(sub)

	require.NoError(t, bus.Publish(context.Background(), event(t, EventCountdownTick, 2)))
	require.Equal(t, EventSnapshot, next(t, sub).Type)
	require.Equal(t, EventCountdownTick, next(t, sub).Type)
}

func TestBus_IsolatesAuctions(t *testing.T) {
	bus := NewBus(8)
	sub, err := bus.Subscribe(context.Background(), "a1", snapshotAt(1))
	require.NoError(t, err)
	defer bus.Unsubscribe(sub)
	require.Equal(t, EventSnapshot, next(t, sub).Type)

	other, err := NewEvent(EventBidAccepted, "a2", 10, time.Now(), nil)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), other))

	select {
	case e := <-sub.Events():
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_SlowSubscriberIsDroppedWithoutBlocking(t *testing.T) {
	bus := NewBus(2)
	sub, err := bus.Subscribe(context.Background(), "a1", snapshotAt(0))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for v := int64(1); v <= 50; v++ {
			_ = bus.Publish(context.Background(), event(t, EventAggregateChanged, v))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// drain until closed
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				require.True(t, sub.Lagged())
				require.Equal(t, 0, bus.Subscribers("a1"))
				return
			}
		case <-deadline:
			t.Fatal("lagged subscription was not closed")
		}
	}
}

func TestBus_SnapshotErrorUnregisters(t *testing.T) {
	bus := NewBus(2)
	boom := errors.New("db down")
	_, err := bus.Subscribe(context.Background(), "a1", func(ctx context.Context) (Event, error) {
		return Event{}, boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, bus.Subscribers("a1"))
}

func TestBus_UnsubscribeClosesStream(t *testing.T) {
	bus := NewBus(2)
	sub, err := bus.Subscribe(context.Background(), "a1", snapshotAt(0))
	require.NoError(t, err)
	require.Equal(t, 1, bus.Subscribers("a1"))

	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub)
	require.Equal(t, 0, bus.Subscribers("a1"))

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				require.False(t, sub.Lagged())
				return
			}
		case <-deadline:
			t.Fatal("stream not closed")
		}
	}
}

func TestAuctionIDFromChannel(t *testing.T) {
	id, ok := AuctionIDFromChannel(ChannelFor("abc"))
	require.True(t, ok)
	require.Equal(t, "abc", id)

	_, ok = AuctionIDFromChannel("bid_events:abc")
	require.False(t, ok)
	_, ok = AuctionIDFromChannel(ChannelPrefix)
	require.False(t, ok)
}
