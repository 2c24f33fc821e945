package application

import (
	"context"
	"fmt"
	"time"

	"github.com/cristianortiz/liveAuction/internal/auction/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateAuctionDTO schedules a new auction.
type CreateAuctionDTO struct {
	Title           string
	StartTime       time.Time
	EndTime         time.Time
	StartingBid     decimal.Decimal
	ReservePrice    *decimal.Decimal
	SoftCloseWindow time.Duration
}

type CreateAuctionUseCase struct {
	admission *Admission
}

func NewCreateAuctionUseCase(admission *Admission) *CreateAuctionUseCase {
	return &CreateAuctionUseCase{admission: admission}
}

// Execute stores the auction as upcoming. One whose start time already passed goes live at once.
func (uc *CreateAuctionUseCase) Execute(ctx context.Context, cmd CreateAuctionDTO) (*domain.Auction, error) {
	now := uc.admission.now()
	if !cmd.EndTime.After(now) {
		return nil, fmt.Errorf("%w: end time already passed", domain.ErrInvalidSchedule)
	}
	a, err := domain.NewAuction(cmd.Title, cmd.StartTime, cmd.EndTime, cmd.StartingBid,
		cmd.ReservePrice, cmd.SoftCloseWindow, now)
	if err != nil {
		return nil, err
	}
	if !now.Before(a.StartTime) && now.Before(a.EndTime) {
		if err := a.Start(now); err != nil {
			return nil, err
		}
	}
	if err := uc.admission.auctions.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create auction: %w", err)
	}
	log.Info("Auction scheduled",
		zap.String("auctionID", a.ID.String()),
		zap.String("status", string(a.Status)),
		zap.Time("startTime", a.StartTime),
		zap.Time("endTime", a.EndTime),
	)
	return a, nil
}

// TransitionUseCase drives start, close and cancel. Each is a CAS under the auction lock, so a
// close and a racing bid are strictly ordered.
type TransitionUseCase struct {
	admission *Admission
	rules     domain.AutoBidRepository
}

func NewTransitionUseCase(admission *Admission, rules domain.AutoBidRepository) *TransitionUseCase {
	return &TransitionUseCase{admission: admission, rules: rules}
}

func (uc *TransitionUseCase) Start(ctx context.Context, auctionID uuid.UUID) (*domain.Auction, error) {
	return uc.run(ctx, auctionID, func(a *domain.Auction, now time.Time) error {
		return a.Start(now)
	})
}

func (uc *TransitionUseCase) Close(ctx context.Context, auctionID uuid.UUID) (*domain.Auction, error) {
	return uc.run(ctx, auctionID, func(a *domain.Auction, now time.Time) error {
		return a.Close(now)
	})
}

// CloseDue closes the auction only if its end time has passed when re-read under the lock.
// A soft-close bid accepted after the due listing pushes the end back and the close is refused.
func (uc *TransitionUseCase) CloseDue(ctx context.Context, auctionID uuid.UUID) (*domain.Auction, error) {
	return uc.run(ctx, auctionID, func(a *domain.Auction, now time.Time) error {
		if now.Before(a.EndTime) {
			return fmt.Errorf("%w: ends at %s", domain.ErrInvalidTransition, a.EndTime.Format(time.RFC3339Nano))
		}
		return a.Close(now)
	})
}

func (uc *TransitionUseCase) Cancel(ctx context.Context, auctionID uuid.UUID) (*domain.Auction, error) {
	return uc.run(ctx, auctionID, func(a *domain.Auction, now time.Time) error {
		return a.Cancel(now)
	})
}

func (uc *TransitionUseCase) run(ctx context.Context, auctionID uuid.UUID,
	apply func(a *domain.Auction, now time.Time) error) (*domain.Auction, error) {
	release, err := uc.admission.lock(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	defer release()

	a, err := uc.admission.transitionLocked(ctx, auctionID, apply)
	if err != nil {
		return nil, err
	}
	if a.Status.IsFinal() {
		// rules die with the auction
		if err := uc.rules.DeactivateAll(ctx, auctionID); err != nil {
			log.Error("Failed to deactivate auto-bid rules",
				zap.String("auctionID", auctionID.String()),
				zap.Error(err),
			)
		}
	}
	return a, nil
}
