package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ChannelPrefix is the Redis Pub/Sub channel namespace, one channel per auction.
const ChannelPrefix = "auction_events:"

// RedisRelay fans events out across nodes. Publish goes to Redis only, and every node's Run
// loop pattern-subscribes to all auction channels and feeds its local Bus, so an event
// reaches local subscribers exactly once through the same path on every node.
type RedisRelay struct {
	client *redis.Client
	local  *Bus
}

var _ Broadcaster = (*RedisRelay)(nil)

// NewRedisClient connects and pings, like every Redis consumer in the service.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

func NewRedisRelay(client *redis.Client, local *Bus) *RedisRelay {
	return &RedisRelay{client: client, local: local}
}

func ChannelFor(auctionID string) string {
	return ChannelPrefix + auctionID
}

// AuctionIDFromChannel extracts the auction id from "auction_events:{id}".
func AuctionIDFromChannel(channel string) (string, bool) {
	id, ok := strings.CutPrefix(channel, ChannelPrefix)
	return id, ok && id != ""
}

func (r *RedisRelay) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("broadcast: marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, ChannelFor(e.AuctionID), data).Err(); err != nil {
		return fmt.Errorf("broadcast: redis publish: %w", err)
	}
	return nil
}

func (r *RedisRelay) Subscribe(ctx context.Context, auctionID string, snapshot SnapshotFunc) (*Subscription, error) {
	return r.local.Subscribe(ctx, auctionID, snapshot)
}

func (r *RedisRelay) Unsubscribe(sub *Subscription) {
	r.local.Unsubscribe(sub)
}

// Run relays Redis messages into the local bus until ctx is done. Blocking, run in a goroutine.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, ChannelPrefix+"*")
	defer pubsub.Close()

	// wait for the subscription confirmation so early publishes are not missed
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("broadcast: psubscribe: %w", err)
	}
	log.Info("Redis relay subscribed", zap.String("pattern", ChannelPrefix+"*"))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			log.Info("Redis relay stopped")
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("broadcast: redis channel closed")
			}
			auctionID, valid := AuctionIDFromChannel(msg.Channel)
			if !valid {
				continue
			}
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				log.Warn("Dropping malformed relay message",
					zap.String("channel", msg.Channel),
					zap.Error(err),
				)
				continue
			}
			e.AuctionID = auctionID
			r.local.Deliver(e)
		}
	}
}
