package application

import (
	"context"
	"fmt"
	"sort"

	"github.com/cristianortiz/liveAuction/internal/auction/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AutoBidResolver places counter-bids for standing auto-bid rules. It always runs under the
// auction lock held by its caller and admits its bids through the same Admission path.
type AutoBidResolver struct {
	admission *Admission
	rules     domain.AutoBidRepository
}

func NewAutoBidResolver(admission *Admission, rules domain.AutoBidRepository) *AutoBidResolver {
	return &AutoBidResolver{admission: admission, rules: rules}
}

// resolveLocked runs the counter-bid chain after an accepted bid (or a rule change) until no
// rule can or should bid. Every iteration either raises the current bid or deactivates a rule,
// and the chain is capped at 2*rules+1 iterations.
func (r *AutoBidResolver) resolveLocked(ctx context.Context, auctionID uuid.UUID) ([]*domain.Bid, error) {
	initial, err := r.rules.ListActive(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("resolve auto-bids: %w", err)
	}
	if len(initial) == 0 {
		return nil, nil
	}

	policy := r.admission.Policy()
	guard := 2*len(initial) + 1
	var placed []*domain.Bid

	for i := 0; i < guard; i++ {
		a, err := r.admission.auctions.GetByID(ctx, auctionID)
		if err != nil {
			return placed, err
		}
		if a.Status != domain.StatusLive || !r.admission.now().Before(a.EndTime) {
			return placed, nil
		}

		active, err := r.rules.ListActive(ctx, auctionID)
		if err != nil {
			return placed, fmt.Errorf("resolve auto-bids: %w", err)
		}

		floor := policy.Increment.NextMinimum(a.CurrentBid)
		var (
			defender    *domain.AutoBidRule
			challengers []*domain.AutoBidRule
		)
		for _, rule := range active {
			if a.IsWinner(rule.UserID) {
				defender = rule
				continue
			}
			if rule.MaxBid.LessThan(floor) || !rule.MaxBid.GreaterThan(a.CurrentBid) {
				r.deactivate(ctx, rule, "exceeded")
				continue
			}
			challengers = append(challengers, rule)
		}
		if len(challengers) == 0 {
			return placed, nil
		}

		sort.SliceStable(challengers, func(i, j int) bool { return challengers[i].Outranks(challengers[j]) })
		top := challengers[0]

		amount, ok := counterAmount(policy, top, defender, floor)
		if !ok {
			// any bid top could place would take the lead from a higher ceiling it cannot beat
			r.deactivate(ctx, top, "outranked")
			continue
		}

		bid, _, err := r.admission.admitLocked(ctx, auctionID, top.UserID, amount, domain.SourceAuto)
		if err != nil {
			if domain.IsRejection(err) {
				log.Warn("Auto-bid rejected, stopping chain",
					zap.String("auctionID", auctionID.String()),
					zap.String("userID", top.UserID),
					zap.String("reason", domain.ReasonOf(err)),
				)
				return placed, nil
			}
			return placed, err
		}
		placed = append(placed, bid)
	}

	log.Warn("Auto-bid chain hit iteration guard",
		zap.String("auctionID", auctionID.String()),
		zap.Int("guard", guard),
	)
	return placed, nil
}

// counterAmount picks the challenger's bid. Without an active defender rule it is the floor.
// Against a defender the ladder collapses so the chain settles at
// min(higher ceiling, lower ceiling + increment) in at most two bids.
func counterAmount(policy domain.BidPolicy, challenger, defender *domain.AutoBidRule, floor decimal.Decimal) (decimal.Decimal, bool) {
	if defender == nil || defender.MaxBid.LessThan(floor) {
		return floor, true
	}
	if challenger.Outranks(defender) {
		amount := decimal.Min(challenger.MaxBid, policy.Increment.NextMinimum(defender.MaxBid))
		return decimal.Max(floor, amount), true
	}
	// outranked: leave room for the defender to answer exactly one increment higher
	amount := decimal.Min(challenger.MaxBid, defender.MaxBid.Sub(policy.Increment.MinIncrement(defender.MaxBid)))
	if amount.LessThan(floor) {
		return decimal.Zero, false
	}
	return amount, true
}

func (r *AutoBidResolver) deactivate(ctx context.Context, rule *domain.AutoBidRule, why string) {
	if err := r.rules.Deactivate(ctx, rule.AuctionID, rule.UserID); err != nil {
		log.Error("Failed to deactivate auto-bid rule",
			zap.String("auctionID", rule.AuctionID.String()),
			zap.String("userID", rule.UserID),
			zap.Error(err),
		)
		return
	}
	log.Info("Auto-bid rule deactivated",
		zap.String("auctionID", rule.AuctionID.String()),
		zap.String("userID", rule.UserID),
		zap.String("maxBid", rule.MaxBid.String()),
		zap.String("why", why),
	)
}

// SetupAutoBidDTO registers or updates a user's ceiling.
type SetupAutoBidDTO struct {
	AuctionID uuid.UUID
	UserID    string
	MaxBid    decimal.Decimal
}

type SetupAutoBidResult struct {
	Rule        *domain.AutoBidRule
	CounterBids []*domain.Bid
	Aggregate   *domain.Auction
}

// SetupAutoBidUseCase stores a rule and, when the auction is live, evaluates it right away.
type SetupAutoBidUseCase struct {
	admission *Admission
	resolver  *AutoBidResolver
	rules     domain.AutoBidRepository
}

func NewSetupAutoBidUseCase(admission *Admission, resolver *AutoBidResolver, rules domain.AutoBidRepository) *SetupAutoBidUseCase {
	return &SetupAutoBidUseCase{admission: admission, resolver: resolver, rules: rules}
}

func (uc *SetupAutoBidUseCase) Execute(ctx context.Context, cmd SetupAutoBidDTO) (*SetupAutoBidResult, error) {
	rule, err := domain.NewAutoBidRule(cmd.AuctionID, cmd.UserID, cmd.MaxBid, uc.admission.now())
	if err != nil {
		return nil, err
	}

	release, err := uc.admission.lock(ctx, cmd.AuctionID)
	if err != nil {
		return nil, err
	}
	defer release()

	a, err := uc.admission.auctions.GetByID(ctx, cmd.AuctionID)
	if err != nil {
		return nil, err
	}
	if a.Status.IsFinal() {
		return nil, fmt.Errorf("%w: status is %s", domain.ErrAuctionNotLive, a.Status)
	}
	if a.Status == domain.StatusLive && !uc.admission.now().Before(a.EndTime) {
		return nil, domain.ErrAuctionEnded
	}
	if a.IsWinner(cmd.UserID) {
		if !cmd.MaxBid.GreaterThan(a.CurrentBid) {
			return nil, fmt.Errorf("%w: %s is not above your standing bid %s", domain.ErrCeilingTooLow, cmd.MaxBid, a.CurrentBid)
		}
	} else if next := uc.admission.Policy().Increment.NextMinimum(a.CurrentBid); cmd.MaxBid.LessThan(next) {
		return nil, fmt.Errorf("%w: %s is below the next valid bid %s", domain.ErrCeilingTooLow, cmd.MaxBid, next)
	}

	stored, err := uc.rules.Upsert(ctx, rule)
	if err != nil {
		return nil, fmt.Errorf("setup auto-bid: %w", err)
	}
	log.Info("Auto-bid rule registered",
		zap.String("auctionID", cmd.AuctionID.String()),
		zap.String("userID", cmd.UserID),
		zap.String("maxBid", cmd.MaxBid.String()),
	)

	result := &SetupAutoBidResult{Rule: stored, Aggregate: a}
	if a.Status != domain.StatusLive {
		return result, nil
	}

	result.CounterBids, err = uc.resolver.resolveLocked(ctx, cmd.AuctionID)
	if err != nil {
		return nil, err
	}
	if len(result.CounterBids) > 0 {
		if result.Aggregate, err = uc.admission.auctions.GetByID(ctx, cmd.AuctionID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// CancelAutoBidUseCase deactivates a rule. Bids it already placed stand.
type CancelAutoBidUseCase struct {
	admission *Admission
	rules     domain.AutoBidRepository
}

func NewCancelAutoBidUseCase(admission *Admission, rules domain.AutoBidRepository) *CancelAutoBidUseCase {
	return &CancelAutoBidUseCase{admission: admission, rules: rules}
}

func (uc *CancelAutoBidUseCase) Execute(ctx context.Context, auctionID uuid.UUID, userID string) error {
	release, err := uc.admission.lock(ctx, auctionID)
	if err != nil {
		return err
	}
	defer release()

	if err := uc.rules.Deactivate(ctx, auctionID, userID); err != nil {
		return err
	}
	log.Info("Auto-bid rule cancelled",
		zap.String("auctionID", auctionID.String()),
		zap.String("userID", userID),
	)
	return nil
}
