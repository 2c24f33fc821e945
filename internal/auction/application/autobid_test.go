package application

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cristianortiz/liveAuction/internal/auction/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestAutoBid_HigherCeilingWinsOneStepAboveLower(t *testing.T) {
	h := newHarness(t)
	a := h.live(t, "100")

	opened := h.autoBid(t, a, "A", "1000")
	require.Len(t, opened.CounterBids, 1)
	require.True(t, opened.CounterBids[0].Amount.Equal(dec("110")))

	h.clock.Advance(time.Second)
	res := h.autoBid(t, a, "B", "705")
	require.Len(t, res.CounterBids, 2)
	require.Equal(t, "B", res.CounterBids[0].UserID)
	require.True(t, res.CounterBids[0].Amount.Equal(dec("705")))
	require.Equal(t, "A", res.CounterBids[1].UserID)
	require.True(t, res.CounterBids[1].Amount.Equal(dec("715")))

	final := h.state(t, a)
	require.True(t, final.IsWinner("A"))
	require.True(t, final.CurrentBid.Equal(dec("715")))
	requireLedgerInvariants(t, final, h.ledger(t, a))

	rule, err := h.rules.Get(context.Background(), a.ID, "B")
	require.NoError(t, err)
	require.False(t, rule.Active)
}

func TestAutoBid_TieGoesToEarlierRule(t *testing.T) {
	h := newHarness(t)
	a := h.live(t, "100")

	h.autoBid(t, a, "A", "700")
	h.clock.Advance(time.Second)
	h.autoBid(t, a, "B", "700")

	final := h.state(t, a)
	require.True(t, final.IsWinner("A"))
	require.True(t, final.CurrentBid.Equal(dec("700")))
	requireLedgerInvariants(t, final, h.ledger(t, a))
}

func TestAutoBid_SameInstantTieGoesToLowerUserID(t *testing.T) {
	h := newHarness(t)
	a := h.live(t, "100")

	h.autoBid(t, a, "B", "700")
	h.autoBid(t, a, "A", "700")

	final := h.state(t, a)
	require.True(t, final.IsWinner("A"))
	require.True(t, final.CurrentBid.Equal(dec("700")))
	requireLedgerInvariants(t, final, h.ledger(t, a))
}

func TestAutoBid_ThreeRulesSettleAtSecondCeilingPlusStep(t *testing.T) {
	h := newHarness(t)
	a := h.live(t, "100")

	h.autoBid(t, a, "A", "300")
	h.clock.Advance(time.Second)
	h.autoBid(t, a, "B", "500")
	h.clock.Advance(time.Second)
	h.autoBid(t, a, "C", "400")

	final := h.state(t, a)
	require.True(t, final.IsWinner("B"))
	require.True(t, final.CurrentBid.Equal(dec("410")))

	active, err := h.rules.ListActive(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "B", active[0].UserID)
}

func TestAutoBid_ManualBidAboveCeilingDeactivatesRule(t *testing.T) {
	h := newHarness(t)
	a := h.live(t, "100")
	h.autoBid(t, a, "C", "300")

	res, err := h.bid(t, a, "A", "500")
	require.NoError(t, err)
	require.Empty(t, res.CounterBids)
	require.True(t, res.Final.IsWinner("A"))

	rule, err := h.rules.Get(context.Background(), a.ID, "C")
	require.NoError(t, err)
	require.False(t, rule.Active)
}

func TestAutoBid_CeilingNeverExceeded(t *testing.T) {
	h := newHarness(t)
	a := h.live(t, "100")

	ceilings := map[string]string{"A": "480", "B": "455", "C": "900", "D": "610"}
	for _, user := range []string{"A", "B", "C", "D"} {
		h.autoBid(t, a, user, ceilings[user])
		h.clock.Advance(time.Second)
	}
	for _, amount := range []string{"920", "935", "1000"} {
		_, _ = h.bid(t, a, "M", amount)
	}

	bids := h.ledger(t, a)
	final := h.state(t, a)
	requireLedgerInvariants(t, final, bids)
	for _, b := range bids {
		if b.Source != domain.SourceAuto {
			continue
		}
		require.True(t, b.Amount.LessThanOrEqual(dec(ceilings[b.UserID])),
			"auto-bid for %s at %s exceeds ceiling %s", b.UserID, b.Amount, ceilings[b.UserID])
	}
	require.True(t, final.IsWinner("M"))
}

func TestAutoBid_SuccessiveHigherCeilings(t *testing.T) {
	h := newHarness(t)
	a := h.live(t, "100")

	for i := 0; i < 10; i++ {
		h.autoBid(t, a, fmt.Sprintf("user-%d", i), fmt.Sprintf("%d", 1000+i*50))
		h.clock.Advance(time.Second)
	}

	final := h.state(t, a)
	requireLedgerInvariants(t, final, h.ledger(t, a))
	require.True(t, final.IsWinner("user-9"))
	require.True(t, final.CurrentBid.Equal(dec("1410")))

	active, err := h.rules.ListActive(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
}

func TestSetupAutoBid_Validation(t *testing.T) {
	h := newHarness(t)
	a := h.live(t, "100")
	_, err := h.bid(t, a, "A", "110")
	require.NoError(t, err)

	tests := []struct {
		name      string
		auctionID uuid.UUID
		user      string
		max       string
		reason    string
	}{
		{"unknown auction", uuid.New(), "B", "500", domain.ReasonAuctionNotFound},
		{"missing bidder", a.ID, "", "500", domain.ReasonInvalidBidder},
		{"non positive ceiling", a.ID, "B", "0", domain.ReasonInvalidAmount},
		{"below next valid bid", a.ID, "B", "119", domain.ReasonCeilingTooLow},
		{"winner not above own bid", a.ID, "A", "110", domain.ReasonCeilingTooLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.SetupAutoBid(context.Background(), SetupAutoBidDTO{AuctionID: tt.auctionID, UserID: tt.user, MaxBid: dec(tt.max)})
			require.Error(t, err)
			require.Equal(t, tt.reason, domain.ReasonOf(err))
		})
	}

	// the winner may raise the ceiling without bidding against itself
	res := h.autoBid(t, a, "A", "111")
	require.Empty(t, res.CounterBids)
}

func TestSetupAutoBid_FinishedAuction(t *testing.T) {
	h := newHarness(t)
	a := h.live(t, "100")

	h.clock.Set(a.EndTime)
	_, err := h.svc.SetupAutoBid(context.Background(), SetupAutoBidDTO{AuctionID: a.ID, UserID: "B", MaxBid: dec("500")})
	require.Equal(t, domain.ReasonAuctionEnded, domain.ReasonOf(err))

	_, err = h.svc.CloseAuction(context.Background(), a.ID)
	require.NoError(t, err)
	_, err = h.svc.SetupAutoBid(context.Background(), SetupAutoBidDTO{AuctionID: a.ID, UserID: "B", MaxBid: dec("500")})
	require.Equal(t, domain.ReasonNotLive, domain.ReasonOf(err))
}

func TestSetupAutoBid_UpcomingAuctionWaitsForFirstBid(t *testing.T) {
	h := newHarness(t)
	a, err := h.svc.CreateAuction(context.Background(), CreateAuctionDTO{
		Title:       "Vintage camera",
		StartTime:   t0.Add(time.Minute),
		EndTime:     t0.Add(time.Hour),
		StartingBid: dec("100"),
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusUpcoming, a.Status)

	res := h.autoBid(t, a, "C", "200")
	require.Empty(t, res.CounterBids)

	h.clock.Advance(time.Minute)
	_, err = h.svc.StartAuction(context.Background(), a.ID)
	require.NoError(t, err)

	placed, err := h.bid(t, a, "A", "110")
	require.NoError(t, err)
	require.Len(t, placed.CounterBids, 1)
	require.True(t, placed.Final.IsWinner("C"))
	require.True(t, placed.Final.CurrentBid.Equal(dec("120")))
}

func TestCancelAutoBid(t *testing.T) {
	h := newHarness(t)
	a := h.live(t, "100")
	h.autoBid(t, a, "C", "300")

	require.NoError(t, h.svc.CancelAutoBid(context.Background(), a.ID, "C"))

	res, err := h.bid(t, a, "A", "120")
	require.NoError(t, err)
	require.Empty(t, res.CounterBids)
	require.True(t, res.Final.IsWinner("A"))

	// bids the rule already placed stand
	bids := h.ledger(t, a)
	require.Len(t, bids, 2)
	require.Equal(t, domain.SourceAuto, bids[0].Source)

	err = h.svc.CancelAutoBid(context.Background(), a.ID, "nobody")
	require.ErrorIs(t, err, domain.ErrAutoBidNotFound)
}

func TestCounterAmount(t *testing.T) {
	policy := domain.BidPolicy{Increment: domain.FixedIncrement(dec("10"))}
	rule := func(user, max string, at time.Duration) *domain.AutoBidRule {
		return &domain.AutoBidRule{UserID: user, MaxBid: dec(max), Active: true, CreatedAt: t0.Add(at)}
	}

	tests := []struct {
		name       string
		challenger *domain.AutoBidRule
		defender   *domain.AutoBidRule
		floor      string
		want       string
		ok         bool
	}{
		{"no defender bids floor", rule("A", "500", 0), nil, "130", "130", true},
		{"defender under floor", rule("A", "500", 0), rule("B", "120", 0), "130", "130", true},
		{"outranking jumps past defender", rule("A", "1000", 0), rule("B", "705", 0), "120", "715", true},
		{"outranking capped by own ceiling", rule("A", "710", 0), rule("B", "705", time.Second), "120", "710", true},
		{"outranked bids to defender minus step", rule("B", "705", 0), rule("A", "1000", 0), "120", "705", true},
		{"outranked close to defender", rule("B", "1000", time.Second), rule("A", "1000", 0), "120", "990", true},
		{"outranked with no room", rule("B", "995", 0), rule("A", "1000", 0), "995", "0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := counterAmount(policy, tt.challenger, tt.defender, dec(tt.floor))
			require.Equal(t, tt.ok, ok)
			if ok {
				require.True(t, got.Equal(dec(tt.want)), "got %s want %s", got, tt.want)
			}
		})
	}
}
