package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cristianortiz/liveAuction/internal/auction/application"
	"github.com/cristianortiz/liveAuction/internal/auction/domain"
	"github.com/cristianortiz/liveAuction/internal/auction/infra/repository/memory"
	"github.com/cristianortiz/liveAuction/internal/shared/broadcast"
	"github.com/cristianortiz/liveAuction/internal/shared/keylock"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	app   *fiber.App
	svc   application.AuctionService
	locks *keylock.Locker
}

// brokenCommits fails every bid commit with a storage error.
type brokenCommits struct {
	*memory.AuctionRepository
}

func (b brokenCommits) CommitBid(context.Context, *domain.Auction, int64, *domain.Bid) error {
	return errors.New("disk full")
}

func newFixture(t *testing.T, broken bool) *fixture {
	t.Helper()
	store := memory.NewAuctionRepository()
	var auctions domain.AuctionRepository = store
	if broken {
		auctions = brokenCommits{store}
	}
	locks := keylock.New()
	settings := application.Settings{
		Policy:           domain.BidPolicy{Increment: domain.FixedIncrement(decimal.NewFromInt(10))},
		LockTimeout:      50 * time.Millisecond,
		CASRetries:       3,
		SnapshotBidLimit: 20,
	}
	admission := application.NewAdmission(auctions, broadcast.NewBus(8), locks, settings)
	svc := application.NewAuctionService(
		application.NewUseCases(admission, memory.NewAutoBidRepository(), store),
		settings.Policy,
	)

	app := fiber.New()
	NewAuctionHandler(svc).Register(app)
	return &fixture{app: app, svc: svc, locks: locks}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, ok := body.(string)
		if !ok {
			b, err := json.Marshal(body)
			require.NoError(t, err)
			raw = string(b)
		}
		reader = bytes.NewBufferString(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(data) > 0 && data[0] == '{' {
		require.NoError(t, json.Unmarshal(data, &out))
	}
	return resp, out
}

func (f *fixture) liveAuction(t *testing.T) string {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/auctions", map[string]any{
		"title":        "Signed guitar",
		"start_time":   time.Now().Add(-time.Minute),
		"end_time":     time.Now().Add(time.Hour),
		"starting_bid": "100",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "live", body["status"])
	return body["auction_id"].(string)
}

func TestPlaceBidHandler(t *testing.T) {
	f := newFixture(t, false)
	id := f.liveAuction(t)

	tests := []struct {
		name           string
		path           string
		body           any
		expectedStatus int
		expectedReason string
	}{
		{"accepted", "/auctions/" + id + "/bids", map[string]any{"user_id": "A", "amount": "110"}, http.StatusCreated, ""},
		{"too low", "/auctions/" + id + "/bids", map[string]any{"user_id": "B", "amount": "110"}, http.StatusConflict, domain.ReasonBidTooLow},
		{"increment too small", "/auctions/" + id + "/bids", map[string]any{"user_id": "B", "amount": 115}, http.StatusConflict, domain.ReasonIncrementTooSmall},
		{"self outbid", "/auctions/" + id + "/bids", map[string]any{"user_id": "A", "amount": "200"}, http.StatusConflict, domain.ReasonSelfOutbid},
		{"invalid amount", "/auctions/" + id + "/bids", map[string]any{"user_id": "B", "amount": "-1"}, http.StatusUnprocessableEntity, domain.ReasonInvalidAmount},
		{"sub-cent amount", "/auctions/" + id + "/bids", map[string]any{"user_id": "B", "amount": "120.001"}, http.StatusUnprocessableEntity, domain.ReasonInvalidAmount},
		{"missing bidder", "/auctions/" + id + "/bids", map[string]any{"amount": "500"}, http.StatusUnprocessableEntity, domain.ReasonInvalidBidder},
		{"unknown auction", "/auctions/" + uuid.NewString() + "/bids", map[string]any{"user_id": "B", "amount": "500"}, http.StatusNotFound, domain.ReasonAuctionNotFound},
		{"bad auction id", "/auctions/nope/bids", map[string]any{"user_id": "B", "amount": "500"}, http.StatusBadRequest, reasonInvalidAuctionID},
		{"bad json", "/auctions/" + id + "/bids", `{invalid json}`, http.StatusBadRequest, reasonInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, tt.path, tt.body)
			require.Equal(t, tt.expectedStatus, resp.StatusCode)
			if tt.expectedReason != "" {
				require.Equal(t, tt.expectedReason, body["reason"])
				return
			}
			bid := body["bid"].(map[string]any)
			require.Equal(t, "A", bid["user_id"])
			require.Equal(t, "110", bid["amount"])
			require.EqualValues(t, 1, bid["sequence"])
			aggregate := body["aggregate"].(map[string]any)
			require.Equal(t, "120", aggregate["min_next_bid"])
		})
	}
}

func TestPlaceBidHandler_AutoBidAnswer(t *testing.T) {
	f := newFixture(t, false)
	id := f.liveAuction(t)

	resp, _ := f.do(t, http.MethodPost, "/auctions/"+id+"/bids", map[string]any{"user_id": "A", "amount": "110"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, body := f.do(t, http.MethodPost, "/auctions/"+id+"/autobid", map[string]any{"user_id": "A", "max_bid": "150"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, true, body["rule"].(map[string]any)["active"])

	resp, body = f.do(t, http.MethodPost, "/auctions/"+id+"/bids", map[string]any{"user_id": "B", "amount": "120"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	counter := body["counter_bids"].([]any)
	require.Len(t, counter, 1)
	require.Equal(t, "130", counter[0].(map[string]any)["amount"])
	require.Equal(t, "auto", counter[0].(map[string]any)["source"])
	aggregate := body["aggregate"].(map[string]any)
	require.Equal(t, "A", aggregate["current_winner_id"])
	require.EqualValues(t, 3, aggregate["bid_count"])

	resp, _ = f.do(t, http.MethodDelete, "/auctions/"+id+"/autobid/A", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, body = f.do(t, http.MethodDelete, "/auctions/"+id+"/autobid/nobody", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, domain.ReasonAutoBidNotFound, body["reason"])
}

func TestPlaceBidHandler_Contended(t *testing.T) {
	f := newFixture(t, false)
	id := f.liveAuction(t)

	release, err := f.locks.Acquire(context.Background(), id, time.Second)
	require.NoError(t, err)
	defer release()

	resp, body := f.do(t, http.MethodPost, "/auctions/"+id+"/bids", map[string]any{"user_id": "A", "amount": "110"})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, retryAfterSeconds, resp.Header.Get("Retry-After"))
	require.Equal(t, domain.ReasonContended, body["reason"])
}

func TestPlaceBidHandler_StorageFailure(t *testing.T) {
	f := newFixture(t, true)
	id := f.liveAuction(t)

	resp, body := f.do(t, http.MethodPost, "/auctions/"+id+"/bids", map[string]any{"user_id": "A", "amount": "110"})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, domain.ReasonInternal, body["reason"])
	require.NotContains(t, body["error"], "disk full")
}

func TestAuctionLifecycleHandlers(t *testing.T) {
	f := newFixture(t, false)

	resp, body := f.do(t, http.MethodPost, "/auctions", map[string]any{
		"title":        "Lamp",
		"start_time":   time.Now().Add(time.Hour),
		"end_time":     time.Now().Add(-time.Hour),
		"starting_bid": "10",
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, domain.ReasonInvalidSchedule, body["reason"])

	resp, body = f.do(t, http.MethodPost, "/auctions", map[string]any{
		"title":        "Lamp",
		"start_time":   time.Now().Add(time.Hour),
		"end_time":     time.Now().Add(2 * time.Hour),
		"starting_bid": "10",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "upcoming", body["status"])
	id := body["auction_id"].(string)

	resp, body = f.do(t, http.MethodPost, "/auctions/"+id+"/close", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, domain.ReasonInvalidTransition, body["reason"])

	resp, body = f.do(t, http.MethodPost, "/auctions/"+id+"/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "live", body["status"])

	resp, _ = f.do(t, http.MethodPost, "/auctions/"+id+"/bids", map[string]any{"user_id": "A", "amount": "20"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/auctions/"+id+"/close", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ended", body["status"])
	require.Equal(t, "A", body["current_winner_id"])

	resp, body = f.do(t, http.MethodPost, "/auctions/"+id+"/bids", map[string]any{"user_id": "B", "amount": "40"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, domain.ReasonNotLive, body["reason"])

	resp, body = f.do(t, http.MethodGet, "/auctions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["recent_bids"], 1)
	require.Equal(t, "ended", body["auction"].(map[string]any)["status"])

	resp, _ = f.do(t, http.MethodGet, "/auctions/"+id+"/bids", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/auctions/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, domain.ReasonAuctionNotFound, body["reason"])
}
