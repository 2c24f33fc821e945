package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cristianortiz/liveAuction/internal/auction/domain"
	"github.com/google/uuid"
)

// AuctionRepository is a concurrency-safe in-memory implementation of domain.AuctionRepository
// and domain.BidLedger, used for single node deployments and tests. It hands out copies only.
type AuctionRepository struct {
	mu       sync.RWMutex
	auctions map[uuid.UUID]*domain.Auction
	bids     map[uuid.UUID][]domain.Bid // key: auctionID -> ledger ordered by sequence
}

var (
	_ domain.AuctionRepository = (*AuctionRepository)(nil)
	_ domain.BidLedger         = (*AuctionRepository)(nil)
)

func NewAuctionRepository() *AuctionRepository {
	return &AuctionRepository{
		auctions: make(map[uuid.UUID]*domain.Auction),
		bids:     make(map[uuid.UUID][]domain.Bid),
	}
}

func (r *AuctionRepository) Create(_ context.Context, a *domain.Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.auctions[a.ID]; ok {
		return fmt.Errorf("create auction %s: already exists", a.ID)
	}
	r.auctions[a.ID] = a.Clone()
	return nil
}

func (r *AuctionRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.auctions[id]
	if !ok {
		return nil, fmt.Errorf("get auction %s: %w", id, domain.ErrAuctionNotFound)
	}
	return a.Clone(), nil
}

// CommitBid swaps the aggregate and appends the bid under one write lock.
func (r *AuctionRepository) CommitBid(_ context.Context, a *domain.Auction, expectedVersion int64, bid *domain.Bid) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkVersionLocked(a.ID, expectedVersion); err != nil {
		return err
	}
	ledger := r.bids[a.ID]
	if n := len(ledger); n > 0 && ledger[n-1].Sequence >= bid.Sequence {
		return fmt.Errorf("commit bid %s: sequence %d not after %d: %w",
			bid.ID, bid.Sequence, ledger[n-1].Sequence, domain.ErrVersionConflict)
	}
	r.auctions[a.ID] = a.Clone()
	r.bids[a.ID] = append(ledger, *bid)
	return nil
}

func (r *AuctionRepository) UpdateStatus(_ context.Context, a *domain.Auction, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkVersionLocked(a.ID, expectedVersion); err != nil {
		return err
	}
	r.auctions[a.ID] = a.Clone()
	return nil
}

func (r *AuctionRepository) checkVersionLocked(id uuid.UUID, expectedVersion int64) error {
	stored, ok := r.auctions[id]
	if !ok {
		return fmt.Errorf("auction %s: %w", id, domain.ErrAuctionNotFound)
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("auction %s at version %d, expected %d: %w",
			id, stored.Version, expectedVersion, domain.ErrVersionConflict)
	}
	return nil
}

func (r *AuctionRepository) ListDue(_ context.Context, now time.Time) ([]*domain.Auction, error) {
	return r.filter(func(a *domain.Auction) bool {
		switch a.Status {
		case domain.StatusUpcoming:
			return !now.Before(a.StartTime)
		case domain.StatusLive:
			return !now.Before(a.EndTime)
		}
		return false
	}), nil
}

func (r *AuctionRepository) ListLive(_ context.Context) ([]*domain.Auction, error) {
	return r.filter(func(a *domain.Auction) bool { return a.Status == domain.StatusLive }), nil
}

func (r *AuctionRepository) filter(keep func(a *domain.Auction) bool) []*domain.Auction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Auction
	for _, a := range r.auctions {
		if keep(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (r *AuctionRepository) ListBids(_ context.Context, auctionID uuid.UUID) ([]*domain.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyBids(r.bids[auctionID]), nil
}

func (r *AuctionRepository) RecentBids(_ context.Context, auctionID uuid.UUID, limit int) ([]*domain.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ledger := r.bids[auctionID]
	if limit > 0 && len(ledger) > limit {
		ledger = ledger[len(ledger)-limit:]
	}
	return copyBids(ledger), nil
}

func copyBids(src []domain.Bid) []*domain.Bid {
	out := make([]*domain.Bid, 0, len(src))
	for i := range src {
		b := src[i]
		out = append(out, &b)
	}
	return out
}
