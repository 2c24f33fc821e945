package broadcast

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cristianortiz/liveAuction/internal/shared/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

const defaultBuffer = 64

// Bus is the in-process broadcaster. Publish never blocks: a subscriber whose queue is full
// is dropped as lagged and has to subscribe again, which gives it a fresh snapshot.
type Bus struct {
	mu     sync.Mutex
	topics map[string]map[*Subscription]struct{}
	buffer int
}

var _ Broadcaster = (*Bus)(nil)

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bus{
		topics: make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscription is one observer of one auction. Events starts with the snapshot and is
// closed when the subscription ends.
type Subscription struct {
	ID        string
	AuctionID string

	in     chan Event
	out    chan Event
	cancel context.CancelFunc
	closed bool // guarded by Bus.mu
	lagged atomic.Bool
}

// Events is the ordered stream: one snapshot, then incremental events.
func (s *Subscription) Events() <-chan Event {
	return s.out
}

// Lagged reports whether the subscription was dropped for not keeping up.
func (s *Subscription) Lagged() bool {
	return s.lagged.Load()
}

// Publish delivers e to the local subscribers of its auction.
func (b *Bus) Publish(_ context.Context, e Event) error {
	b.Deliver(e)
	return nil
}

// Deliver fans e out to local subscribers without blocking.
func (b *Bus) Deliver(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[e.AuctionID]
	if !ok {
		return
	}
	for sub := range subs {
		select {
		case sub.in <- e:
		default:
			sub.lagged.Store(true)
			b.removeLocked(sub)
			log.Warn("Subscriber lagging, dropped",
				zap.String("subscriptionID", sub.ID),
				zap.String("auctionID", sub.AuctionID),
				zap.String("eventType", string(e.Type)),
			)
		}
	}
}

// Subscribe registers the subscriber before loading the snapshot, so nothing published in
// between is lost. Ordered events already covered by the snapshot version are skipped.
func (b *Bus) Subscribe(ctx context.Context, auctionID string, snapshot SnapshotFunc) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		ID:        uuid.NewString(),
		AuctionID: auctionID,
		in:        make(chan Event, b.buffer),
		out:       make(chan Event, b.buffer),
		cancel:    cancel,
	}

	b.mu.Lock()
	if _, ok := b.topics[auctionID]; !ok {
		b.topics[auctionID] = make(map[*Subscription]struct{})
	}
	b.topics[auctionID][sub] = struct{}{}
	b.mu.Unlock()

	snap, err := snapshot(subCtx)
	if err != nil {
		b.Unsubscribe(sub)
		return nil, fmt.Errorf("broadcast: snapshot for %s: %w", auctionID, err)
	}

	go b.pump(subCtx, sub, snap)

	log.Debug("Subscriber joined",
		zap.String("subscriptionID", sub.ID),
		zap.String("auctionID", auctionID),
		zap.Int64("snapshotVersion", snap.Version),
	)
	return sub, nil
}

func (b *Bus) pump(ctx context.Context, sub *Subscription, snap Event) {
	defer close(sub.out)
	defer b.Unsubscribe(sub)

	select {
	case sub.out <- snap:
	case <-ctx.Done():
		return
	}

	// bid_accepted and aggregate_changed share a version, so only strictly older events drop
	last := snap.Version
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.in:
			if !ok {
				return
			}
			if e.Type.Ordered() {
				if e.Version <= snap.Version || e.Version < last {
					continue
				}
				last = e.Version
			}
			select {
			case sub.out <- e:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Unsubscribe detaches sub. Safe to call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	b.removeLocked(sub)
	b.mu.Unlock()
	sub.cancel()
}

func (b *Bus) removeLocked(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.in)
	if subs, ok := b.topics[sub.AuctionID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.topics, sub.AuctionID)
		}
	}
}

// Subscribers returns how many observers auctionID has on this node.
func (b *Bus) Subscribers(auctionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[auctionID])
}
