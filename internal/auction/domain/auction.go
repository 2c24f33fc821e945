package domain

import (
	"fmt"
	"time"

	"github.com/cristianortiz/liveAuction/internal/shared/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

// AuctionStatus represents the lifecycle state of an auction
type AuctionStatus string

const (
	StatusUpcoming  AuctionStatus = "upcoming"
	StatusLive      AuctionStatus = "live"
	StatusEnded     AuctionStatus = "ended"
	StatusCancelled AuctionStatus = "cancelled"
)

// IsFinal reports whether the status accepts no further transitions.
func (s AuctionStatus) IsFinal() bool {
	return s == StatusEnded || s == StatusCancelled
}

// Auction is the aggregate root: the single authoritative record of an auction's price,
// winner and lifecycle. It is never shared between goroutines, every mutation works on a
// copy loaded from the repository and is committed with a version CAS.
type Auction struct {
	ID              uuid.UUID
	Title           string
	Status          AuctionStatus
	StartTime       time.Time
	EndTime         time.Time
	StartingBid     decimal.Decimal
	CurrentBid      decimal.Decimal
	BidCount        int64
	CurrentWinnerID *string
	ReservePrice    *decimal.Decimal
	// SoftCloseWindow extends EndTime so at least this much time remains after a late bid.
	// Zero disables the extension.
	SoftCloseWindow time.Duration
	LastBidAt       *time.Time
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewAuction schedules an upcoming auction. The scheduler flips it to live at startTime.
func NewAuction(title string, startTime, endTime time.Time, startingBid decimal.Decimal,
	reservePrice *decimal.Decimal, softCloseWindow time.Duration, now time.Time) (*Auction, error) {
	if !endTime.After(startTime) {
		return nil, fmt.Errorf("%w: end time %s is not after start time %s",
			ErrInvalidSchedule, endTime.Format(time.RFC3339), startTime.Format(time.RFC3339))
	}
	if startingBid.IsNegative() {
		return nil, fmt.Errorf("%w: starting bid %s is negative", ErrInvalidAmount, startingBid)
	}
	if !HasMoneyScale(startingBid) {
		return nil, fmt.Errorf("%w: starting bid %s has sub-cent precision", ErrInvalidAmount, startingBid)
	}
	if reservePrice != nil && (reservePrice.IsNegative() || !HasMoneyScale(*reservePrice)) {
		return nil, fmt.Errorf("%w: reserve price %s", ErrInvalidAmount, reservePrice)
	}
	if softCloseWindow < 0 {
		return nil, fmt.Errorf("%w: negative soft close window", ErrInvalidSchedule)
	}

	return &Auction{
		ID:              uuid.New(),
		Title:           title,
		Status:          StatusUpcoming,
		StartTime:       startTime,
		EndTime:         endTime,
		StartingBid:     startingBid,
		CurrentBid:      startingBid, // current bid starts at the starting bid
		ReservePrice:    reservePrice,
		SoftCloseWindow: softCloseWindow,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Clone returns a deep copy so callers can mutate without touching stored state.
func (a *Auction) Clone() *Auction {
	c := *a
	if a.CurrentWinnerID != nil {
		w := *a.CurrentWinnerID
		c.CurrentWinnerID = &w
	}
	if a.ReservePrice != nil {
		r := *a.ReservePrice
		c.ReservePrice = &r
	}
	if a.LastBidAt != nil {
		t := *a.LastBidAt
		c.LastBidAt = &t
	}
	return &c
}

// IsWinner reports whether userID holds the standing high bid.
func (a *Auction) IsWinner(userID string) bool {
	return a.CurrentWinnerID != nil && *a.CurrentWinnerID == userID
}

// ReserveMet is true when there is no reserve or the standing bid reached it.
func (a *Auction) ReserveMet() bool {
	if a.ReservePrice == nil {
		return true
	}
	return a.BidCount > 0 && a.CurrentBid.GreaterThanOrEqual(*a.ReservePrice)
}

// Remaining is the time left until EndTime, never negative.
func (a *Auction) Remaining(now time.Time) time.Duration {
	if d := a.EndTime.Sub(now); d > 0 {
		return d
	}
	return 0
}

// PlaceBid validates a bid against the current state and, when accepted, applies it to the
// aggregate and returns the ledger entry. Checks run in a fixed order and each failure maps
// to its own reason code.
func (a *Auction) PlaceBid(userID string, amount decimal.Decimal, policy BidPolicy, source BidSource, now time.Time) (*Bid, error) {
	if !amount.IsPositive() || !HasMoneyScale(amount) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if a.Status != StatusLive {
		return nil, fmt.Errorf("%w: status is %s", ErrAuctionNotLive, a.Status)
	}
	if !now.Before(a.EndTime) {
		return nil, fmt.Errorf("%w: ended at %s", ErrAuctionEnded, a.EndTime.Format(time.RFC3339Nano))
	}
	if amount.LessThanOrEqual(a.CurrentBid) {
		return nil, fmt.Errorf("%w: %s is not above current bid %s", ErrBidTooLow, amount, a.CurrentBid)
	}
	minIncrement := policy.Increment.MinIncrement(a.CurrentBid)
	if amount.Sub(a.CurrentBid).LessThan(minIncrement) {
		return nil, fmt.Errorf("%w: raise of %s is below minimum %s",
			ErrIncrementTooSmall, amount.Sub(a.CurrentBid), minIncrement)
	}
	if !policy.AllowSelfOutbid && a.IsWinner(userID) {
		return nil, fmt.Errorf("%w: user %s already holds the high bid", ErrSelfOutbid, userID)
	}

	// anti-sniping: a late bid pushes the end so SoftCloseWindow remains
	if a.SoftCloseWindow > 0 && a.EndTime.Sub(now) < a.SoftCloseWindow {
		originalEndTime := a.EndTime
		a.EndTime = now.Add(a.SoftCloseWindow)
		log.Info("Auction end time extended",
			zap.String("auctionID", a.ID.String()),
			zap.Time("originalEndTime", originalEndTime),
			zap.Time("newEndTime", a.EndTime),
		)
	}

	winner := userID
	acceptedAt := now
	a.CurrentBid = amount
	a.BidCount++
	a.CurrentWinnerID = &winner
	a.LastBidAt = &acceptedAt
	a.Version++
	a.UpdatedAt = now

	return NewBid(a.ID, userID, amount, a.BidCount, source, now), nil
}

// Start flips an upcoming auction to live.
func (a *Auction) Start(now time.Time) error {
	if a.Status != StatusUpcoming {
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidTransition, a.Status)
	}
	a.Status = StatusLive
	a.touch(now)
	return nil
}

// Close ends a live auction, either explicitly or because EndTime passed.
func (a *Auction) Close(now time.Time) error {
	if a.Status != StatusLive {
		return fmt.Errorf("%w: cannot close from %s", ErrInvalidTransition, a.Status)
	}
	a.Status = StatusEnded
	a.touch(now)
	return nil
}

// Cancel aborts an upcoming or live auction.
func (a *Auction) Cancel(now time.Time) error {
	if a.Status.IsFinal() {
		return fmt.Errorf("%w: cannot cancel from %s", ErrInvalidTransition, a.Status)
	}
	a.Status = StatusCancelled
	a.touch(now)
	return nil
}

func (a *Auction) touch(now time.Time) {
	a.Version++
	a.UpdatedAt = now
}
