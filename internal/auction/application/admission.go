package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cristianortiz/liveAuction/internal/auction/domain"
	"github.com/cristianortiz/liveAuction/internal/shared/broadcast"
	"github.com/cristianortiz/liveAuction/internal/shared/keylock"
	"github.com/cristianortiz/liveAuction/internal/shared/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

// Settings is the tunable part of bid admission.
type Settings struct {
	Policy           domain.BidPolicy
	LockTimeout      time.Duration
	CASRetries       int
	SnapshotBidLimit int
}

// Admission serializes every write to one auction. Callers hold the auction's lock (see
// lock) while calling the *Locked methods, so the resolver chain of a bid finishes before
// the next external bid for the same auction is validated.
type Admission struct {
	auctions domain.AuctionRepository
	events   broadcast.Publisher
	locks    *keylock.Locker
	settings Settings
	now      func() time.Time
}

func NewAdmission(auctions domain.AuctionRepository, events broadcast.Publisher, locks *keylock.Locker, settings Settings) *Admission {
	if settings.CASRetries < 0 {
		settings.CASRetries = 0
	}
	return &Admission{
		auctions: auctions,
		events:   events,
		locks:    locks,
		settings: settings,
		now:      time.Now,
	}
}

// WithClock replaces the wall clock, for tests and replay.
func (ad *Admission) WithClock(now func() time.Time) *Admission {
	ad.now = now
	return ad
}

func (ad *Admission) Policy() domain.BidPolicy {
	return ad.settings.Policy
}

// lock acquires the per-auction lock, mapping a timeout to ErrContended.
func (ad *Admission) lock(ctx context.Context, auctionID uuid.UUID) (func(), error) {
	release, err := ad.locks.Acquire(ctx, auctionID.String(), ad.settings.LockTimeout)
	if err != nil {
		if errors.Is(err, keylock.ErrTimeout) {
			log.Warn("Auction lock timeout", zap.String("auctionID", auctionID.String()))
			return nil, fmt.Errorf("%w: lock wait exceeded %s", domain.ErrContended, ad.settings.LockTimeout)
		}
		return nil, err
	}
	return release, nil
}

// admitLocked validates and commits one bid with version CAS and bounded retry, then publishes
// bid_accepted and aggregate_changed. Storage errors fail closed: no bid is reported accepted
// unless it is durably committed.
func (ad *Admission) admitLocked(ctx context.Context, auctionID uuid.UUID, userID string,
	amount decimal.Decimal, source domain.BidSource) (*domain.Bid, *domain.Auction, error) {
	for attempt := 0; attempt <= ad.settings.CASRetries; attempt++ {
		a, err := ad.auctions.GetByID(ctx, auctionID)
		if err != nil {
			return nil, nil, err
		}

		expected := a.Version
		bid, err := a.PlaceBid(userID, amount, ad.settings.Policy, source, ad.now())
		if err != nil {
			log.Info("Bid rejected",
				zap.String("auctionID", auctionID.String()),
				zap.String("userID", userID),
				zap.String("amount", amount.String()),
				zap.String("reason", domain.ReasonOf(err)),
			)
			return nil, nil, err
		}

		err = ad.auctions.CommitBid(ctx, a, expected, bid)
		if err == nil {
			log.Info("Bid accepted",
				zap.String("auctionID", auctionID.String()),
				zap.String("bidID", bid.ID.String()),
				zap.String("userID", userID),
				zap.String("amount", amount.String()),
				zap.Int64("sequence", bid.Sequence),
				zap.String("source", string(source)),
			)
			ad.publishBid(ctx, a, bid)
			return bid, a, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			log.Error("Bid commit failed",
				zap.String("auctionID", auctionID.String()),
				zap.String("userID", userID),
				zap.Error(err),
			)
			return nil, nil, fmt.Errorf("place bid: commit: %w", err)
		}
		log.Debug("Bid CAS conflict, re-validating",
			zap.String("auctionID", auctionID.String()),
			zap.Int("attempt", attempt+1),
		)
	}
	return nil, nil, fmt.Errorf("%w: %d version conflicts", domain.ErrContended, ad.settings.CASRetries+1)
}

// transitionLocked applies a lifecycle change with the same CAS discipline as bids.
func (ad *Admission) transitionLocked(ctx context.Context, auctionID uuid.UUID,
	apply func(a *domain.Auction, now time.Time) error) (*domain.Auction, error) {
	for attempt := 0; attempt <= ad.settings.CASRetries; attempt++ {
		a, err := ad.auctions.GetByID(ctx, auctionID)
		if err != nil {
			return nil, err
		}
		expected := a.Version
		if err := apply(a, ad.now()); err != nil {
			return nil, err
		}
		err = ad.auctions.UpdateStatus(ctx, a, expected)
		if err == nil {
			log.Info("Auction status changed",
				zap.String("auctionID", auctionID.String()),
				zap.String("status", string(a.Status)),
				zap.Int64("version", a.Version),
			)
			ad.publishAggregate(ctx, a)
			return a, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return nil, fmt.Errorf("update status: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: status change lost %d races", domain.ErrContended, ad.settings.CASRetries+1)
}

// publishBid emits bid_accepted then aggregate_changed at the same version. Fan-out failures are
// logged and never undo an accepted bid.
func (ad *Admission) publishBid(ctx context.Context, a *domain.Auction, bid *domain.Bid) {
	ad.publish(ctx, broadcast.EventBidAccepted, a, toBidDTO(bid))
	ad.publishAggregate(ctx, a)
}

func (ad *Admission) publishAggregate(ctx context.Context, a *domain.Auction) {
	ad.publish(ctx, broadcast.EventAggregateChanged, a, toAggregateDTO(a, ad.settings.Policy))
}

func (ad *Admission) publish(ctx context.Context, t broadcast.EventType, a *domain.Auction, payload any) {
	e, err := broadcast.NewEvent(t, a.ID.String(), a.Version, ad.now(), payload)
	if err == nil {
		err = ad.events.Publish(ctx, e)
	}
	if err != nil {
		log.Error("Failed to publish auction event",
			zap.String("auctionID", a.ID.String()),
			zap.String("eventType", string(t)),
			zap.Int64("version", a.Version),
			zap.Error(err),
		)
	}
}
