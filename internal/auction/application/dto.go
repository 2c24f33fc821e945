package application

import (
	"time"

	"github.com/cristianortiz/liveAuction/internal/auction/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AggregateDTO is the public view of an auction aggregate, used by HTTP, WS and broadcast payloads.
// The reserve price itself is never exposed, only whether it was met.
type AggregateDTO struct {
	AuctionID       uuid.UUID       `json:"auction_id"`
	Title           string          `json:"title"`
	Status          string          `json:"status"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         time.Time       `json:"end_time"`
	StartingBid     decimal.Decimal `json:"starting_bid"`
	CurrentBid      decimal.Decimal `json:"current_bid"`
	MinNextBid      decimal.Decimal `json:"min_next_bid"`
	BidCount        int64           `json:"bid_count"`
	CurrentWinnerID *string         `json:"current_winner_id"`
	ReserveMet      bool            `json:"reserve_met"`
	LastBidAt       *time.Time      `json:"last_bid_at,omitempty"`
	Version         int64           `json:"version"`
}

// BidDTO is a ledger entry as seen by clients.
type BidDTO struct {
	BidID      uuid.UUID       `json:"bid_id"`
	AuctionID  uuid.UUID       `json:"auction_id"`
	UserID     string          `json:"user_id"`
	Amount     decimal.Decimal `json:"amount"`
	Sequence   int64           `json:"sequence"`
	AcceptedAt time.Time       `json:"accepted_at"`
	Source     string          `json:"source"`
	Winning    bool            `json:"is_winning_at_acceptance"`
}

// AutoBidRuleDTO is a user's standing ceiling.
type AutoBidRuleDTO struct {
	AuctionID uuid.UUID       `json:"auction_id"`
	UserID    string          `json:"user_id"`
	MaxBid    decimal.Decimal `json:"max_bid"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CountdownDTO is the server-authoritative clock for one live auction.
type CountdownDTO struct {
	AuctionID   uuid.UUID `json:"auction_id"`
	EndTime     time.Time `json:"end_time"`
	RemainingMs int64     `json:"remaining_ms"`
	ServerTime  time.Time `json:"server_time"`
}

// AuctionStateDTO is the snapshot a subscriber starts from.
type AuctionStateDTO struct {
	Auction    AggregateDTO `json:"auction"`
	RecentBids []BidDTO     `json:"recent_bids"`
	ServerTime time.Time    `json:"server_time"`
}

func toAggregateDTO(a *domain.Auction, policy domain.BidPolicy) AggregateDTO {
	return AggregateDTO{
		AuctionID:       a.ID,
		Title:           a.Title,
		Status:          string(a.Status),
		StartTime:       a.StartTime,
		EndTime:         a.EndTime,
		StartingBid:     a.StartingBid,
		CurrentBid:      a.CurrentBid,
		MinNextBid:      policy.Increment.NextMinimum(a.CurrentBid),
		BidCount:        a.BidCount,
		CurrentWinnerID: a.CurrentWinnerID,
		ReserveMet:      a.ReserveMet(),
		LastBidAt:       a.LastBidAt,
		Version:         a.Version,
	}
}

func toBidDTO(b *domain.Bid) BidDTO {
	return BidDTO{
		BidID:      b.ID,
		AuctionID:  b.AuctionID,
		UserID:     b.UserID,
		Amount:     b.Amount,
		Sequence:   b.Sequence,
		AcceptedAt: b.AcceptedAt,
		Source:     string(b.Source),
		Winning:    b.IsWinningAtAcceptance,
	}
}

func toBidDTOs(bids []*domain.Bid) []BidDTO {
	out := make([]BidDTO, 0, len(bids))
	for _, b := range bids {
		out = append(out, toBidDTO(b))
	}
	return out
}

func toAutoBidRuleDTO(r *domain.AutoBidRule) AutoBidRuleDTO {
	return AutoBidRuleDTO{
		AuctionID: r.AuctionID,
		UserID:    r.UserID,
		MaxBid:    r.MaxBid,
		Active:    r.Active,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
