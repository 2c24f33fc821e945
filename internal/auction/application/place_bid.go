package application

import (
	"context"
	"fmt"

	"github.com/cristianortiz/liveAuction/internal/auction/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PlaceBidDTO is DTO input for PlaceBid useCase, contains the necesary data to make a bid
type PlaceBidDTO struct {
	AuctionID uuid.UUID
	UserID    string
	Amount    decimal.Decimal
}

// PlaceBidResult is the accepted bid, the aggregate right after it, and any auto-bids it triggered.
// Final is the aggregate once the auto-bid chain settled.
type PlaceBidResult struct {
	Bid         *domain.Bid
	Aggregate   *domain.Auction
	CounterBids []*domain.Bid
	Final       *domain.Auction
}

// PlaceBidUseCase admits a bid under the auction lock and then lets the resolver answer it
// before the lock is released.
type PlaceBidUseCase struct {
	admission *Admission
	resolver  *AutoBidResolver
}

// NewPlaceBidUseCase creates a new instace of PlaceBidUseCase struct, it receives dependency through injection
func NewPlaceBidUseCase(admission *Admission, resolver *AutoBidResolver) *PlaceBidUseCase {
	return &PlaceBidUseCase{admission: admission, resolver: resolver}
}

func (uc *PlaceBidUseCase) Execute(ctx context.Context, cmd PlaceBidDTO) (*PlaceBidResult, error) {
	// input validation, independent of auction state
	if cmd.UserID == "" {
		return nil, domain.ErrInvalidBidder
	}
	if !cmd.Amount.IsPositive() {
		log.Warn("PlaceBidUseCase: Invalid bid amount",
			zap.String("auctionID", cmd.AuctionID.String()),
			zap.String("userID", cmd.UserID),
			zap.String("amount", cmd.Amount.String()),
		)
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidAmount, cmd.Amount)
	}

	release, err := uc.admission.lock(ctx, cmd.AuctionID)
	if err != nil {
		return nil, err
	}
	defer release()

	bid, aggregate, err := uc.admission.admitLocked(ctx, cmd.AuctionID, cmd.UserID, cmd.Amount, domain.SourceManual)
	if err != nil {
		return nil, err
	}
	result := &PlaceBidResult{Bid: bid, Aggregate: aggregate, Final: aggregate}

	counter, err := uc.resolver.resolveLocked(ctx, cmd.AuctionID)
	if err != nil {
		// the manual bid is committed, a failing chain must not report it as rejected
		log.Error("PlaceBidUseCase: auto-bid resolution failed",
			zap.String("auctionID", cmd.AuctionID.String()),
			zap.Error(err),
		)
	}
	result.CounterBids = counter
	if len(counter) > 0 {
		if final, err := uc.admission.auctions.GetByID(ctx, cmd.AuctionID); err == nil {
			result.Final = final
		}
	}
	return result, nil
}
