package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrAuctionNotLive  = errors.New("auction is not live")
	// ErrAuctionEnded is also an ErrAuctionNotLive.
	ErrAuctionEnded      = fmt.Errorf("%w: end time reached", ErrAuctionNotLive)
	ErrBidTooLow         = errors.New("bid amount is not above the current bid")
	ErrIncrementTooSmall = errors.New("bid increment is too small")
	ErrSelfOutbid        = errors.New("bidder already holds the high bid")
	ErrInvalidAmount     = errors.New("amount must be positive with at most two decimal places")
	ErrInvalidBidder     = errors.New("bidder id is required")
	ErrContended         = errors.New("auction is contended, retry")
	ErrVersionConflict   = errors.New("auction version changed concurrently")
	ErrInvalidTransition = errors.New("invalid auction status transition")
	ErrInvalidSchedule   = errors.New("invalid auction schedule")
	ErrAutoBidNotFound   = errors.New("auto-bid rule not found")
	ErrCeilingTooLow     = errors.New("auto-bid ceiling is below the next valid bid")
)

// Reason codes returned to bidders.
const (
	ReasonAuctionNotFound   = "auction_not_found"
	ReasonNotLive           = "not_live"
	ReasonAuctionEnded      = "auction_ended"
	ReasonBidTooLow         = "bid_too_low"
	ReasonIncrementTooSmall = "increment_too_small"
	ReasonSelfOutbid        = "self_outbid"
	ReasonInvalidAmount     = "invalid_amount"
	ReasonInvalidBidder     = "invalid_bidder"
	ReasonContended         = "contended"
	ReasonInvalidTransition = "invalid_transition"
	ReasonInvalidSchedule   = "invalid_schedule"
	ReasonAutoBidNotFound   = "autobid_not_found"
	ReasonCeilingTooLow     = "ceiling_too_low"
	ReasonInternal          = "internal_error"
)

// order matters: ErrAuctionEnded must be matched before ErrAuctionNotLive
var reasons = []struct {
	err    error
	reason string
}{
	{ErrAuctionNotFound, ReasonAuctionNotFound},
	{ErrAuctionEnded, ReasonAuctionEnded},
	{ErrAuctionNotLive, ReasonNotLive},
	{ErrBidTooLow, ReasonBidTooLow},
	{ErrIncrementTooSmall, ReasonIncrementTooSmall},
	{ErrSelfOutbid, ReasonSelfOutbid},
	{ErrInvalidAmount, ReasonInvalidAmount},
	{ErrInvalidBidder, ReasonInvalidBidder},
	{ErrContended, ReasonContended},
	{ErrInvalidTransition, ReasonInvalidTransition},
	{ErrInvalidSchedule, ReasonInvalidSchedule},
	{ErrAutoBidNotFound, ReasonAutoBidNotFound},
	{ErrCeilingTooLow, ReasonCeilingTooLow},
}

// ReasonOf maps an error to its stable reason code, ReasonInternal when unknown.
func ReasonOf(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ReasonInternal
}

// IsRejection reports whether err is a business rejection rather than an infrastructure failure.
func IsRejection(err error) bool {
	return ReasonOf(err) != ReasonInternal
}
