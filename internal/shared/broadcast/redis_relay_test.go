package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type relayNode struct {
	relay *RedisRelay
	local *Bus
	stop  func() error
}

// startRelay runs a relay against mr and waits until it relays a message end to end.
func startRelay(t *testing.T, mr *miniredis.Miniredis) *relayNode {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	client, err := NewRedisClient(ctx, mr.Addr(), "", 0)
	require.NoError(t, err)

	n := &relayNode{local: NewBus(32)}
	n.relay = NewRedisRelay(client, n.local)
	done := make(chan error, 1)
	go func() { done <- n.relay.Run(ctx) }()

	var once sync.Once
	var runErr error
	n.stop = func() error {
		once.Do(func() {
			cancel()
			select {
			case runErr = <-done:
			case <-time.After(time.Second):
				t.Error("relay did not stop")
			}
			_ = client.Close()
		})
		return runErr
	}
	t.Cleanup(func() { _ = n.stop() })

	ready, err := n.local.Subscribe(ctx, "ready", snapshotFor("ready", 0))
	require.NoError(t, err)
	defer n.local.Unsubscribe(ready)
	<-ready.Events()
	require.Eventually(t, func() bool {
		_ = client.Publish(ctx, ChannelFor("ready"), `{"type":"countdown_tick"}`).Err()
		select {
		case <-ready.Events():
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	return n
}

func snapshotFor(auctionID string, version int64) SnapshotFunc {
	return func(ctx context.Context) (Event, error) {
		return NewEvent(EventSnapshot, auctionID, version, time.Now(), nil)
	}
}

func auctionEvent(t *testing.T, auctionID string, version int64) Event {
	t.Helper()
	e, err := NewEvent(EventBidAccepted, auctionID, version, time.Now(), map[string]int64{"sequence": version})
	require.NoError(t, err)
	return e
}

func quiet(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case e := <-sub.Events():
		t.Fatalf("unexpected %s v%d", e.Type, e.Version)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRedisRelay_PerAuctionOrder(t *testing.T) {
	mr := miniredis.RunT(t)
	node := startRelay(t, mr)
	ctx := context.Background()

	subs := map[string]*Subscription{}
	for _, id := range []string{"a1", "a2"} {
		sub, err := node.relay.Subscribe(ctx, id, snapshotFor(id, 1))
		require.NoError(t, err)
		defer node.relay.Unsubscribe(sub)
		subs[id] = sub
	}

	// interleave the two auctions on the wire
	for v := int64(2); v <= 11; v++ {
		require.NoError(t, node.relay.Publish(ctx, auctionEvent(t, "a1", v)))
		require.NoError(t, node.relay.Publish(ctx, auctionEvent(t, "a2", v)))
	}

	for id, sub := range subs {
		require.Equal(t, EventSnapshot, next(t, sub).Type, id)
		for v := int64(2); v <= 11; v++ {
			e := next(t, sub)
			require.Equal(t, id, e.AuctionID)
			require.Equal(t, EventBidAccepted, e.Type)
			require.Equal(t, v, e.Version)
		}
		// published to redis only, so the local bus sees each event once
		quiet(t, sub)
	}
}

func TestRedisRelay_ReachesOtherNodes(t *testing.T) {
	mr := miniredis.RunT(t)
	origin := startRelay(t, mr)
	peer := startRelay(t, mr)
	ctx := context.Background()

	sub, err := peer.relay.Subscribe(ctx, "a1", snapshotFor("a1", 4))
	require.NoError(t, err)
	defer peer.relay.Unsubscribe(sub)
	require.Equal(t, EventSnapshot, next(t, sub).Type)

	// v4 is covered by the peer's snapshot
	for _, v := range []int64{4, 5, 6} {
		require.NoError(t, origin.relay.Publish(ctx, auctionEvent(t, "a1", v)))
	}
	require.Equal(t, int64(5), next(t, sub).Version)
	require.Equal(t, int64(6), next(t, sub).Version)
	require.Zero(t, origin.local.Subscribers("a1"))
}

func TestRedisRelay_SkipsMalformedMessages(t *testing.T) {
	mr := miniredis.RunT(t)
	node := startRelay(t, mr)
	ctx := context.Background()

	sub, err := node.relay.Subscribe(ctx, "a1", snapshotFor("a1", 1))
	require.NoError(t, err)
	defer node.relay.Unsubscribe(sub)
	require.Equal(t, EventSnapshot, next(t, sub).Type)

	mr.Publish(ChannelFor("a1"), "{not json")
	// the channel, not the payload, names the auction
	forged := auctionEvent(t, "a2", 2)
	raw, err := json.Marshal(forged)
	require.NoError(t, err)
	mr.Publish(ChannelFor("a1"), string(raw))

	e := next(t, sub)
	assert.Equal(t, "a1", e.AuctionID)
	assert.Equal(t, int64(2), e.Version)
}

func TestRedisRelay_RunStopsWithContext(t *testing.T) {
	mr := miniredis.RunT(t)
	node := startRelay(t, mr)
	require.ErrorIs(t, node.stop(), context.Canceled)
}

func TestNewRedisClient_FailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisClient(context.Background(), addr, "", 0)
	require.Error(t, err)
}
