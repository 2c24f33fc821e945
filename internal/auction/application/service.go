package application

import (
	"context"

	"github.com/cristianortiz/liveAuction/internal/auction/domain"
	"github.com/cristianortiz/liveAuction/internal/shared/broadcast"
	"github.com/google/uuid"
)

// AuctionService defines application interface layer of auction module
// exposes uses cases to external layer, aka infra
type AuctionService interface {
	CreateAuction(ctx context.Context, cmd CreateAuctionDTO) (*domain.Auction, error)
	StartAuction(ctx context.Context, auctionID uuid.UUID) (*domain.Auction, error)
	CloseAuction(ctx context.Context, auctionID uuid.UUID) (*domain.Auction, error)
	CancelAuction(ctx context.Context, auctionID uuid.UUID) (*domain.Auction, error)
	// PlaceBid admits a bid and returns it with the aggregate and any auto-bids it triggered
	PlaceBid(ctx context.Context, cmd PlaceBidDTO) (*PlaceBidResult, error)
	SetupAutoBid(ctx context.Context, cmd SetupAutoBidDTO) (*SetupAutoBidResult, error)
	CancelAutoBid(ctx context.Context, auctionID uuid.UUID, userID string) error
	GetAuctionState(ctx context.Context, auctionID uuid.UUID) (*AuctionStateDTO, error)
	ListBids(ctx context.Context, auctionID uuid.UUID) ([]BidDTO, error)
	// Snapshot loads the state a new real-time subscriber starts from
	Snapshot(auctionID uuid.UUID) broadcast.SnapshotFunc
	Policy() domain.BidPolicy
}

// UseCases bundles what NewAuctionService needs.
type UseCases struct {
	Create        *CreateAuctionUseCase
	Transitions   *TransitionUseCase
	PlaceBid      *PlaceBidUseCase
	SetupAutoBid  *SetupAutoBidUseCase
	CancelAutoBid *CancelAutoBidUseCase
	State         *GetAuctionStateUseCase
	ListBids      *ListBidsUseCase
}

// NewUseCases wires every use case over one Admission, the single entry for writes.
func NewUseCases(admission *Admission, rules domain.AutoBidRepository, ledger domain.BidLedger) UseCases {
	resolver := NewAutoBidResolver(admission, rules)
	return UseCases{
		Create:        NewCreateAuctionUseCase(admission),
		Transitions:   NewTransitionUseCase(admission, rules),
		PlaceBid:      NewPlaceBidUseCase(admission, resolver),
		SetupAutoBid:  NewSetupAutoBidUseCase(admission, resolver, rules),
		CancelAutoBid: NewCancelAutoBidUseCase(admission, rules),
		State:         NewGetAuctionStateUseCase(admission, ledger),
		ListBids:      NewListBidsUseCase(admission.auctions, ledger),
	}
}

// concret implementation of AuctionService (struct)
type auctionService struct {
	uc     UseCases
	policy domain.BidPolicy
}

func NewAuctionService(uc UseCases, policy domain.BidPolicy) AuctionService {
	return &auctionService{uc: uc, policy: policy}
}

func (as *auctionService) CreateAuction(ctx context.Context, cmd CreateAuctionDTO) (*domain.Auction, error) {
	return as.uc.Create.Execute(ctx, cmd)
}

func (as *auctionService) StartAuction(ctx context.Context, auctionID uuid.UUID) (*domain.Auction, error) {
	return as.uc.Transitions.Start(ctx, auctionID)
}

func (as *auctionService) CloseAuction(ctx context.Context, auctionID uuid.UUID) (*domain.Auction, error) {
	return as.uc.Transitions.Close(ctx, auctionID)
}

func (as *auctionService) CancelAuction(ctx context.Context, auctionID uuid.UUID) (*domain.Auction, error) {
	return as.uc.Transitions.Cancel(ctx, auctionID)
}

// PlaceBid implements AuctionService.
func (as *auctionService) PlaceBid(ctx context.Context, cmd PlaceBidDTO) (*PlaceBidResult, error) {
	return as.uc.PlaceBid.Execute(ctx, cmd)
}

func (as *auctionService) SetupAutoBid(ctx context.Context, cmd SetupAutoBidDTO) (*SetupAutoBidResult, error) {
	return as.uc.SetupAutoBid.Execute(ctx, cmd)
}

func (as *auctionService) CancelAutoBid(ctx context.Context, auctionID uuid.UUID, userID string) error {
	return as.uc.CancelAutoBid.Execute(ctx, auctionID, userID)
}

// GetAuctionState to implementss AuctionService
func (as *auctionService) GetAuctionState(ctx context.Context, auctionID uuid.UUID) (*AuctionStateDTO, error) {
	return as.uc.State.Execute(ctx, auctionID)
}

func (as *auctionService) ListBids(ctx context.Context, auctionID uuid.UUID) ([]BidDTO, error) {
	return as.uc.ListBids.Execute(ctx, auctionID)
}

func (as *auctionService) Snapshot(auctionID uuid.UUID) broadcast.SnapshotFunc {
	return as.uc.State.Snapshot(auctionID)
}

func (as *auctionService) Policy() domain.BidPolicy {
	return as.policy
}

// AggregateView renders an aggregate for transport layers.
func AggregateView(a *domain.Auction, policy domain.BidPolicy) AggregateDTO {
	return toAggregateDTO(a, policy)
}

// BidView renders a ledger entry for transport layers.
func BidView(b *domain.Bid) BidDTO {
	return toBidDTO(b)
}

// BidViews renders ledger entries for transport layers.
func BidViews(bids []*domain.Bid) []BidDTO {
	return toBidDTOs(bids)
}

// AutoBidRuleView renders a rule for transport layers.
func AutoBidRuleView(r *domain.AutoBidRule) AutoBidRuleDTO {
	return toAutoBidRuleDTO(r)
}
