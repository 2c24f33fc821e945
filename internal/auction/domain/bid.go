package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BidSource tells whether a bid was typed by the user or placed by their auto-bid rule.
type BidSource string

const (
	SourceManual BidSource = "manual"
	SourceAuto   BidSource = "auto"
)

// Bid is one accepted ledger entry. Entries are append-only and never revised.
type Bid struct {
	ID                    uuid.UUID
	AuctionID             uuid.UUID
	UserID                string
	Amount                decimal.Decimal
	AcceptedAt            time.Time
	Sequence              int64
	IsWinningAtAcceptance bool
	Source                BidSource
}

// NewBid creates a ledger entry with a time ordered id.
func NewBid(auctionID uuid.UUID, userID string, amount decimal.Decimal, sequence int64, source BidSource, acceptedAt time.Time) *Bid {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &Bid{
		ID:                    id,
		AuctionID:             auctionID,
		UserID:                userID,
		Amount:                amount,
		AcceptedAt:            acceptedAt,
		Sequence:              sequence,
		IsWinningAtAcceptance: true,
		Source:                source,
	}
}
