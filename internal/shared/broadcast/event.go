package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies the kind of message delivered to auction observers.
type EventType string

const (
	EventSnapshot         EventType = "snapshot"
	EventAggregateChanged EventType = "aggregate_changed"
	EventBidAccepted      EventType = "bid_accepted"
	EventCountdownTick    EventType = "countdown_tick"
	EventEndingSoon       EventType = "ending_soon"
)

// Ordered reports whether the event is part of the versioned stream that must follow a snapshot
// without gaps or repeats.
func (t EventType) Ordered() bool {
	return t == EventAggregateChanged || t == EventBidAccepted
}

// Event is the envelope fanned out per auction. Version is the aggregate version the event was
// produced at, so subscribers can discard what their snapshot already covers.
type Event struct {
	Type       EventType       `json:"type"`
	AuctionID  string          `json:"auction_id"`
	Version    int64           `json:"version"`
	ServerTime time.Time       `json:"server_time"`
	Payload    json.RawMessage `json:"payload"`
}

func NewEvent(t EventType, auctionID string, version int64, serverTime time.Time, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("broadcast: marshal %s payload: %w", t, err)
	}
	return Event{
		Type:       t,
		AuctionID:  auctionID,
		Version:    version,
		ServerTime: serverTime,
		Payload:    data,
	}, nil
}

// SnapshotFunc loads the full state a new subscriber starts from.
type SnapshotFunc func(ctx context.Context) (Event, error)

// Publisher sends an event to every observer of its auction.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Broadcaster is the publish/subscribe capability keyed by auction id.
type Broadcaster interface {
	Publisher
	Subscribe(ctx context.Context, auctionID string, snapshot SnapshotFunc) (*Subscription, error)
	Unsubscribe(sub *Subscription)
}
