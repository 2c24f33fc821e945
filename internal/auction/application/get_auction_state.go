package application

import (
	"context"
	"fmt"

	"github.com/cristianortiz/liveAuction/internal/auction/domain"
	"github.com/cristianortiz/liveAuction/internal/shared/broadcast"
	"github.com/google/uuid"
)

// GetAuctionStateUseCase retrieves the current state of an auction plus its latest ledger entries.
type GetAuctionStateUseCase struct {
	admission *Admission
	ledger    domain.BidLedger
}

// NewGetAuctionStateUseCase creates a new instance of GetAuctionStateUseCase.
func NewGetAuctionStateUseCase(admission *Admission, ledger domain.BidLedger) *GetAuctionStateUseCase {
	return &GetAuctionStateUseCase{admission: admission, ledger: ledger}
}

// Execute reads the aggregate first and the ledger second. Bids are appended in the same commit
// that bumps the version, so the ledger read never misses a bid the aggregate already counts.
func (uc *GetAuctionStateUseCase) Execute(ctx context.Context, auctionID uuid.UUID) (*AuctionStateDTO, error) {
	a, err := uc.admission.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	bids, err := uc.ledger.RecentBids(ctx, auctionID, uc.admission.settings.SnapshotBidLimit)
	if err != nil {
		return nil, fmt.Errorf("get auction state: %w", err)
	}
	// a bid committed between the two reads is dropped, it arrives as a stream event
	kept := bids[:0]
	for _, b := range bids {
		if b.Sequence <= a.BidCount {
			kept = append(kept, b)
		}
	}

	return &AuctionStateDTO{
		Auction:    toAggregateDTO(a, uc.admission.Policy()),
		RecentBids: toBidDTOs(kept),
		ServerTime: uc.admission.now(),
	}, nil
}

// Snapshot adapts Execute to a broadcast snapshot loader.
func (uc *GetAuctionStateUseCase) Snapshot(auctionID uuid.UUID) broadcast.SnapshotFunc {
	return func(ctx context.Context) (broadcast.Event, error) {
		state, err := uc.Execute(ctx, auctionID)
		if err != nil {
			return broadcast.Event{}, err
		}
		return broadcast.NewEvent(broadcast.EventSnapshot, auctionID.String(), state.Auction.Version, state.ServerTime, state)
	}
}

// ListBidsUseCase returns the full ledger of an auction.
type ListBidsUseCase struct {
	auctions domain.AuctionRepository
	ledger   domain.BidLedger
}

func NewListBidsUseCase(auctions domain.AuctionRepository, ledger domain.BidLedger) *ListBidsUseCase {
	return &ListBidsUseCase{auctions: auctions, ledger: ledger}
}

func (uc *ListBidsUseCase) Execute(ctx context.Context, auctionID uuid.UUID) ([]BidDTO, error) {
	if _, err := uc.auctions.GetByID(ctx, auctionID); err != nil {
		return nil, err
	}
	bids, err := uc.ledger.ListBids(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	return toBidDTOs(bids), nil
}
