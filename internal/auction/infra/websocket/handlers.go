package websocket

import (
	"context"
	"encoding/json"

	"github.com/cristianortiz/liveAuction/internal/auction/application"
	"github.com/cristianortiz/liveAuction/internal/auction/domain"
	"github.com/cristianortiz/liveAuction/internal/shared/broadcast"
	"github.com/cristianortiz/liveAuction/internal/shared/logger"
	"github.com/cristianortiz/liveAuction/internal/shared/websocket"
	"github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

const (
	reasonInvalidMessage  = "invalid_message"
	reasonAuctionMismatch = "auction_mismatch"

	sendBuffer = 16
)

// AuctionWSHandler handles the ws inbound msgs wich are specific for auction module (remember is a bounded context)
type AuctionWSHandler struct {
	auctionService application.AuctionService // application layer dependency
	hub            *websocket.Hub             // shared hub dependency for registry and inbound msgs
	events         broadcast.Broadcaster      // per-auction event stream
}

// NewAuctionWSHandler creates a new instance of AuctionWSHandler
func NewAuctionWSHandler(auctionService application.AuctionService, hub *websocket.Hub, events broadcast.Broadcaster) *AuctionWSHandler {
	return &AuctionWSHandler{
		auctionService: auctionService,
		hub:            hub,
		events:         events,
	}
}

// Register mounts GET /ws/auctions/:id. Plain HTTP requests get 426.
func (h *AuctionWSHandler) Register(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if fiberws.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get("/ws/auctions/:id", h.validateAuction, fiberws.New(h.ServeConn))
}

// validateAuction rejects unknown auctions before the upgrade.
func (h *AuctionWSHandler) validateAuction(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "auction id must be a uuid")
	}
	if _, err := h.auctionService.GetAuctionState(c.UserContext(), id); err != nil {
		if domain.ReasonOf(err) == domain.ReasonAuctionNotFound {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		return err
	}
	return c.Next()
}

// ServeConn runs one connection: subscribe (snapshot first), then pump events out and
// messages in until either side stops.
func (h *AuctionWSHandler) ServeConn(conn *fiberws.Conn) {
	auctionID, err := uuid.Parse(conn.Params("id"))
	if err != nil {
		_ = conn.Close()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := h.events.Subscribe(ctx, auctionID.String(), h.auctionService.Snapshot(auctionID))
	if err != nil {
		log.Error("WebSocket subscribe failed",
			zap.String("auctionID", auctionID.String()),
			zap.Error(err),
		)
		_ = conn.Close()
		return
	}
	defer h.events.Unsubscribe(sub)

	client := &websocket.Client{
		Hub:       h.hub,
		Conn:      conn,
		Send:      make(chan []byte, sendBuffer),
		Sub:       sub,
		AuctionID: auctionID.String(),
		UserID:    conn.Query("user_id"),
		ID:        uuid.NewString(),
	}
	h.hub.RegisterClient(client)

	done := make(chan struct{})
	go func() {
		defer close(done)
		client.WritePump(ctx)
	}()
	client.ReadPump(ctx)
	cancel()
	<-done
}

// ListenForMessages starts a go routine that listen the Hub inbound channel for messages and proccess every one of them
func (h *AuctionWSHandler) ListenForMessages(ctx context.Context) {
	log.Info("AuctionWSHandler started listening for inbound messages from hub")
	for {
		select {
		case <-ctx.Done():
			log.Info("AuctionWSHandler stopped listening for inbound messages from hub")
			return
		case msg := <-h.hub.InboundMessages:
			go h.processMessage(ctx, msg.Client, msg.Data)
		}
	}
}

// processMessage dispatch the message by this type
func (h *AuctionWSHandler) processMessage(ctx context.Context, client *websocket.Client, data []byte) {
	var baseMsg BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		h.sendErrorToClient(client, reasonInvalidMessage, "invalid message format")
		return
	}
	switch baseMsg.Type {
	case MessageTypeClientBid:
		h.handleClientBidMessage(ctx, client, data)
	case MessageTypeClientAutoBid:
		h.handleClientAutoBidMessage(ctx, client, data)
	default:
		h.sendErrorToClient(client, reasonInvalidMessage, "unknown message type")
	}
}

// handleClientBidMessage admits the bid. Everyone watching, the bidder included, learns the
// outcome from the event stream. The bidder additionally gets a direct ack or the rejection.
func (h *AuctionWSHandler) handleClientBidMessage(ctx context.Context, client *websocket.Client, data []byte) {
	var bidMsg ClientBidMessage
	if err := json.Unmarshal(data, &bidMsg); err != nil {
		h.sendErrorToClient(client, reasonInvalidMessage, "invalid bid message format")
		return
	}
	auctionID, ok := h.resolveAuction(client, bidMsg.Payload.AuctionID)
	if !ok {
		return
	}

	res, err := h.auctionService.PlaceBid(ctx, application.PlaceBidDTO{
		AuctionID: auctionID,
		UserID:    firstNonEmpty(bidMsg.Payload.UserID, client.UserID),
		Amount:    bidMsg.Payload.Amount,
	})
	if err != nil {
		h.sendRejection(client, err)
		return
	}

	ack := ServerBidAcceptedMessage{BaseMessage: BaseMessage{Type: MessageTypeServerBidAccepted}}
	ack.Payload.Bid = application.BidView(res.Bid)
	ack.Payload.CounterBids = application.BidViews(res.CounterBids)
	h.send(client, ack)
}

func (h *AuctionWSHandler) handleClientAutoBidMessage(ctx context.Context, client *websocket.Client, data []byte) {
	var msg ClientAutoBidMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendErrorToClient(client, reasonInvalidMessage, "invalid auto-bid message format")
		return
	}
	auctionID, ok := h.resolveAuction(client, msg.Payload.AuctionID)
	if !ok {
		return
	}

	res, err := h.auctionService.SetupAutoBid(ctx, application.SetupAutoBidDTO{
		AuctionID: auctionID,
		UserID:    firstNonEmpty(msg.Payload.UserID, client.UserID),
		MaxBid:    msg.Payload.MaxBid,
	})
	if err != nil {
		h.sendRejection(client, err)
		return
	}

	ack := ServerAutoBidSetMessage{BaseMessage: BaseMessage{Type: MessageTypeServerAutoBidSet}}
	ack.Payload.Rule = application.AutoBidRuleView(res.Rule)
	ack.Payload.CounterBids = application.BidViews(res.CounterBids)
	h.send(client, ack)
}

// resolveAuction checks an optional auction id in the payload against the connection's.
func (h *AuctionWSHandler) resolveAuction(client *websocket.Client, fromPayload uuid.UUID) (uuid.UUID, bool) {
	auctionID, err := uuid.Parse(client.AuctionID)
	if err != nil {
		h.sendErrorToClient(client, reasonInvalidMessage, "connection has no auction")
		return uuid.Nil, false
	}
	if fromPayload != uuid.Nil && fromPayload != auctionID {
		h.sendErrorToClient(client, reasonAuctionMismatch, "auction ID mismatch")
		return uuid.Nil, false
	}
	return auctionID, true
}

func (h *AuctionWSHandler) sendRejection(client *websocket.Client, err error) {
	reason := domain.ReasonOf(err)
	message := err.Error()
	if reason == domain.ReasonInternal {
		log.Error("WebSocket command failed",
			zap.String("clientID", client.ID),
			zap.String("auctionID", client.AuctionID),
			zap.Error(err),
		)
		message = "internal server error"
	}
	h.sendErrorToClient(client, reason, message)
}

// sendErrorToClient serializes and sends an error msg to a specific client
func (h *AuctionWSHandler) sendErrorToClient(client *websocket.Client, reason, errorMessage string) {
	errMsg := ServerErrorMessage{BaseMessage: BaseMessage{Type: MessageTypeServerError}}
	errMsg.Payload.Reason = reason
	errMsg.Payload.Error = errorMessage
	h.send(client, errMsg)
}

func (h *AuctionWSHandler) send(client *websocket.Client, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error("failed to marshal ws reply", zap.Error(err))
		return
	}
	client.Reply(data)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
