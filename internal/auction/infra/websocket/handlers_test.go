package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cristianortiz/liveAuction/internal/auction/application"
	"github.com/cristianortiz/liveAuction/internal/auction/domain"
	"github.com/cristianortiz/liveAuction/internal/auction/infra/repository/memory"
	"github.com/cristianortiz/liveAuction/internal/shared/broadcast"
	"github.com/cristianortiz/liveAuction/internal/shared/keylock"
	"github.com/cristianortiz/liveAuction/internal/shared/websocket"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) (*AuctionWSHandler, *broadcast.Bus, uuid.UUID) {
	t.Helper()
	store := memory.NewAuctionRepository()
	bus := broadcast.NewBus(32)
	settings := application.Settings{
		Policy:           domain.BidPolicy{Increment: domain.FixedIncrement(decimal.NewFromInt(10))},
		LockTimeout:      time.Second,
		CASRetries:       3,
		SnapshotBidLimit: 20,
	}
	admission := application.NewAdmission(store, bus, keylock.New(), settings)
	svc := application.NewAuctionService(
		application.NewUseCases(admission, memory.NewAutoBidRepository(), store),
		settings.Policy,
	)
	a, err := svc.CreateAuction(context.Background(), application.CreateAuctionDTO{
		Title:       "Poster",
		StartTime:   time.Now().Add(-time.Minute),
		EndTime:     time.Now().Add(time.Hour),
		StartingBid: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	return NewAuctionWSHandler(svc, websocket.NewHub(), bus), bus, a.ID
}

func newTestClient(auctionID uuid.UUID, userID string) *websocket.Client {
	return &websocket.Client{
		AuctionID: auctionID.String(),
		UserID:    userID,
		ID:        uuid.NewString(),
		Send:      make(chan []byte, 4),
	}
}

func reply(t *testing.T, c *websocket.Client) map[string]any {
	t.Helper()
	select {
	case data := <-c.Send:
		var out map[string]any
		require.NoError(t, json.Unmarshal(data, &out))
		return out
	case <-time.After(time.Second):
		t.Fatal("no reply")
		return nil
	}
}

func TestProcessMessage_Bid(t *testing.T) {
	h, bus, auctionID := newTestHandler(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// a watcher on the same auction
	sub, err := bus.Subscribe(ctx, auctionID.String(), h.auctionService.Snapshot(auctionID))
	require.NoError(t, err)
	require.Equal(t, broadcast.EventSnapshot, (<-sub.Events()).Type)

	bidder := newTestClient(auctionID, "A")
	h.processMessage(ctx, bidder, []byte(`{"type":"client_bid","payload":{"amount":"110"}}`))

	ack := reply(t, bidder)
	require.Equal(t, string(MessageTypeServerBidAccepted), ack["type"])
	bid := ack["payload"].(map[string]any)["bid"].(map[string]any)
	require.Equal(t, "A", bid["user_id"])
	require.Equal(t, "110", bid["amount"])

	first := <-sub.Events()
	second := <-sub.Events()
	require.Equal(t, broadcast.EventBidAccepted, first.Type)
	require.Equal(t, broadcast.EventAggregateChanged, second.Type)
	require.Equal(t, first.Version, second.Version)
}

func TestProcessMessage_Rejections(t *testing.T) {
	h, _, auctionID := newTestHandler(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		user   string
		data   string
		reason string
	}{
		{"not json", "A", `{nope`, reasonInvalidMessage},
		{"unknown type", "A", `{"type":"client_dance"}`, reasonInvalidMessage},
		{"bad payload", "A", `{"type":"client_bid","payload":{"amount":"abc"}}`, reasonInvalidMessage},
		{"other auction", "A", `{"type":"client_bid","payload":{"auction_id":"` + uuid.NewString() + `","amount":"110"}}`, reasonAuctionMismatch},
		{"too low", "A", `{"type":"client_bid","payload":{"amount":"100"}}`, domain.ReasonBidTooLow},
		{"no identity", "", `{"type":"client_bid","payload":{"amount":"150"}}`, domain.ReasonInvalidBidder},
		{"ceiling too low", "B", `{"type":"client_autobid","payload":{"max_bid":"105"}}`, domain.ReasonCeilingTooLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(auctionID, tt.user)
			h.processMessage(ctx, c, []byte(tt.data))
			msg := reply(t, c)
			require.Equal(t, string(MessageTypeServerError), msg["type"])
			require.Equal(t, tt.reason, msg["payload"].(map[string]any)["reason"])
		})
	}
}

func TestProcessMessage_AutoBid(t *testing.T) {
	h, _, auctionID := newTestHandler(t)
	ctx := context.Background()

	c := newTestClient(auctionID, "A")
	h.processMessage(ctx, c, []byte(`{"type":"client_autobid","payload":{"user_id":"C","max_bid":"300"}}`))
	ack := reply(t, c)
	require.Equal(t, string(MessageTypeServerAutoBidSet), ack["type"])
	payload := ack["payload"].(map[string]any)
	require.Equal(t, "C", payload["rule"].(map[string]any)["user_id"])
	require.Len(t, payload["counter_bids"], 1)
}
