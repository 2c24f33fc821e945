package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AutoBidRule is a user's standing instruction to bid on their behalf up to MaxBid.
// CreatedAt is the registration time used for tie-breaks and survives ceiling updates.
type AutoBidRule struct {
	AuctionID uuid.UUID
	UserID    string
	MaxBid    decimal.Decimal
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewAutoBidRule(auctionID uuid.UUID, userID string, maxBid decimal.Decimal, now time.Time) (*AutoBidRule, error) {
	if userID == "" {
		return nil, ErrInvalidBidder
	}
	if !maxBid.IsPositive() || !HasMoneyScale(maxBid) {
		return nil, fmt.Errorf("%w: max bid %s", ErrInvalidAmount, maxBid)
	}
	return &AutoBidRule{
		AuctionID: auctionID,
		UserID:    userID,
		MaxBid:    maxBid,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Outranks reports whether r beats other: higher ceiling, or same ceiling registered earlier.
// Rules registered at the same instant fall back to UserID so the order is total.
func (r *AutoBidRule) Outranks(other *AutoBidRule) bool {
	if c := r.MaxBid.Cmp(other.MaxBid); c != 0 {
		return c > 0
	}
	if !r.CreatedAt.Equal(other.CreatedAt) {
		return r.CreatedAt.Before(other.CreatedAt)
	}
	return r.UserID < other.UserID
}
