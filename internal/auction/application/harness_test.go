package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cristianortiz/liveAuction/internal/auction/domain"
	"github.com/cristianortiz/liveAuction/internal/auction/infra/repository/memory"
	"github.com/cristianortiz/liveAuction/internal/shared/broadcast"
	"github.com/cristianortiz/liveAuction/internal/shared/keylock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recorder keeps every published event in order.
type recorder struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (r *recorder) Publish(_ context.Context, e broadcast.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Events() []broadcast.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]broadcast.Event(nil), r.events...)
}

func (r *recorder) OfType(t broadcast.EventType) []broadcast.Event {
	var out []broadcast.Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	auctions  domain.AuctionRepository
	store     *memory.AuctionRepository
	rules     *memory.AutoBidRepository
	events    *recorder
	clock     *fakeClock
	locks     *keylock.Locker
	admission *Admission
	uc        UseCases
	svc       AuctionService
}

type option func(s *Settings)

func withSelfOutbid() option {
	return func(s *Settings) { s.Policy.AllowSelfOutbid = true }
}

func withLockTimeout(d time.Duration) option {
	return func(s *Settings) { s.LockTimeout = d }
}

func newHarness(t *testing.T, opts ...option) *harness {
	return newHarnessWithRepo(t, nil, opts...)
}

// newHarnessWithRepo lets a test wrap the memory store to inject faults.
func newHarnessWithRepo(t *testing.T, wrap func(*memory.AuctionRepository) domain.AuctionRepository, opts ...option) *harness {
	t.Helper()
	store := memory.NewAuctionRepository()
	var auctions domain.AuctionRepository = store
	if wrap != nil {
		auctions = wrap(store)
	}

	settings := Settings{
		Policy:           domain.BidPolicy{Increment: domain.FixedIncrement(dec("10"))},
		LockTimeout:      5 * time.Second,
		CASRetries:       3,
		SnapshotBidLimit: 20,
	}
	for _, o := range opts {
		o(&settings)
	}

	clock := &fakeClock{now: t0}
	events := &recorder{}
	locks := keylock.New()
	rules := memory.NewAutoBidRepository()
	admission := NewAdmission(auctions, events, locks, settings).WithClock(clock.Now)
	uc := NewUseCases(admission, rules, store)

	return &harness{
		auctions:  auctions,
		store:     store,
		rules:     rules,
		events:    events,
		clock:     clock,
		locks:     locks,
		admission: admission,
		uc:        uc,
		svc:       NewAuctionService(uc, settings.Policy),
	}
}

// live creates an auction that is already running: started a minute ago, ends in an hour.
func (h *harness) live(t *testing.T, startingBid string) *domain.Auction {
	t.Helper()
	a, err := h.svc.CreateAuction(context.Background(), CreateAuctionDTO{
		Title:       "Signed guitar",
		StartTime:   h.clock.Now().Add(-time.Minute),
		EndTime:     h.clock.Now().Add(time.Hour),
		StartingBid: dec(startingBid),
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusLive, a.Status)
	return a
}

func (h *harness) bid(t *testing.T, a *domain.Auction, user, amount string) (*PlaceBidResult, error) {
	t.Helper()
	return h.svc.PlaceBid(context.Background(), PlaceBidDTO{AuctionID: a.ID, UserID: user, Amount: dec(amount)})
}

func (h *harness) autoBid(t *testing.T, a *domain.Auction, user, max string) *SetupAutoBidResult {
	t.Helper()
	res, err := h.svc.SetupAutoBid(context.Background(), SetupAutoBidDTO{AuctionID: a.ID, UserID: user, MaxBid: dec(max)})
	require.NoError(t, err)
	return res
}

func (h *harness) state(t *testing.T, a *domain.Auction) *domain.Auction {
	t.Helper()
	got, err := h.store.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	return got
}

func (h *harness) ledger(t *testing.T, a *domain.Auction) []*domain.Bid {
	t.Helper()
	bids, err := h.store.ListBids(context.Background(), a.ID)
	require.NoError(t, err)
	return bids
}

// requireLedgerInvariants checks strictly increasing amounts and sequences, and that the
// aggregate agrees with the last entry.
func requireLedgerInvariants(t *testing.T, a *domain.Auction, bids []*domain.Bid) {
	t.Helper()
	require.Equal(t, int64(len(bids)), a.BidCount)
	for i, b := range bids {
		require.Equal(t, int64(i+1), b.Sequence)
		require.True(t, b.IsWinningAtAcceptance)
		if i > 0 {
			require.True(t, b.Amount.GreaterThan(bids[i-1].Amount), "ledger amounts must strictly increase")
		}
	}
	if len(bids) > 0 {
		last := bids[len(bids)-1]
		require.True(t, a.IsWinner(last.UserID))
		require.True(t, a.CurrentBid.Equal(last.Amount))
	}
}
