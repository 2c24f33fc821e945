package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AuctionRepository stores the aggregate. Writes are compare-and-swap on Version.
type AuctionRepository interface {
	Create(ctx context.Context, a *Auction) error
	GetByID(ctx context.Context, id uuid.UUID) (*Auction, error)
	// CommitBid stores a (already mutated) and appends bid to the ledger in one atomic unit,
	// only if the stored version still equals expectedVersion. Otherwise ErrVersionConflict.
	CommitBid(ctx context.Context, a *Auction, expectedVersion int64, bid *Bid) error
	// UpdateStatus persists a lifecycle transition with the same CAS rule.
	UpdateStatus(ctx context.Context, a *Auction, expectedVersion int64) error
	// ListDue returns upcoming auctions whose start passed and live auctions whose end passed.
	ListDue(ctx context.Context, now time.Time) ([]*Auction, error)
	ListLive(ctx context.Context) ([]*Auction, error)
}

// BidLedger reads the append-only ledger. Results are ascending by sequence.
type BidLedger interface {
	ListBids(ctx context.Context, auctionID uuid.UUID) ([]*Bid, error)
	RecentBids(ctx context.Context, auctionID uuid.UUID, limit int) ([]*Bid, error)
}

type AutoBidRepository interface {
	// Upsert creates or replaces the rule for (AuctionID, UserID), keeping the stored CreatedAt.
	Upsert(ctx context.Context, rule *AutoBidRule) (*AutoBidRule, error)
	Get(ctx context.Context, auctionID uuid.UUID, userID string) (*AutoBidRule, error)
	Deactivate(ctx context.Context, auctionID uuid.UUID, userID string) error
	DeactivateAll(ctx context.Context, auctionID uuid.UUID) error
	ListActive(ctx context.Context, auctionID uuid.UUID) ([]*AutoBidRule, error)
}
