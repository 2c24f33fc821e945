package rest

import (
	"context"
	"time"

	"github.com/cristianortiz/liveAuction/internal/auction/application"
	"github.com/cristianortiz/liveAuction/internal/auction/domain"
	"github.com/cristianortiz/liveAuction/internal/shared/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

// CreateAuctionRequest schedules an auction. SoftCloseSeconds of zero disables the extension.
type CreateAuctionRequest struct {
	Title            string           `json:"title"`
	StartTime        time.Time        `json:"start_time"`
	EndTime          time.Time        `json:"end_time"`
	StartingBid      decimal.Decimal  `json:"starting_bid"`
	ReservePrice     *decimal.Decimal `json:"reserve_price,omitempty"`
	SoftCloseSeconds int              `json:"soft_close_seconds"`
}

type PlaceBidRequest struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

type SetupAutoBidRequest struct {
	UserID string          `json:"user_id"`
	MaxBid decimal.Decimal `json:"max_bid"`
}

// PlaceBidResponse carries the accepted bid, the aggregate once any auto-bids settled, and
// those auto-bids.
type PlaceBidResponse struct {
	Bid         application.BidDTO       `json:"bid"`
	Aggregate   application.AggregateDTO `json:"aggregate"`
	CounterBids []application.BidDTO     `json:"counter_bids"`
}

type SetupAutoBidResponse struct {
	Rule        application.AutoBidRuleDTO `json:"rule"`
	Aggregate   application.AggregateDTO   `json:"aggregate"`
	CounterBids []application.BidDTO       `json:"counter_bids"`
}

// AuctionHandler exposes the auction use cases over HTTP.
type AuctionHandler struct {
	auctionService application.AuctionService
}

func NewAuctionHandler(auctionService application.AuctionService) *AuctionHandler {
	return &AuctionHandler{auctionService: auctionService}
}

// Register mounts the auction routes on router.
func (h *AuctionHandler) Register(router fiber.Router) {
	g := router.Group("/auctions")
	g.Post("/", h.CreateAuction)
	g.Get("/:id", h.GetAuctionState)
	g.Get("/:id/bids", h.ListBids)
	g.Post("/:id/bids", h.PlaceBid)
	g.Post("/:id/start", h.transition("StartAuction", h.auctionService.StartAuction))
	g.Post("/:id/close", h.transition("CloseAuction", h.auctionService.CloseAuction))
	g.Post("/:id/cancel", h.transition("CancelAuction", h.auctionService.CancelAuction))
	g.Post("/:id/autobid", h.SetupAutoBid)
	g.Delete("/:id/autobid/:userId", h.CancelAutoBid)
}

func (h *AuctionHandler) CreateAuction(c *fiber.Ctx) error {
	var req CreateAuctionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, reasonInvalidRequest, "invalid JSON body")
	}
	a, err := h.auctionService.CreateAuction(c.UserContext(), application.CreateAuctionDTO{
		Title:           req.Title,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		StartingBid:     req.StartingBid,
		ReservePrice:    req.ReservePrice,
		SoftCloseWindow: time.Duration(req.SoftCloseSeconds) * time.Second,
	})
	if err != nil {
		return writeError(c, "CreateAuction", err)
	}
	return c.Status(fiber.StatusCreated).JSON(application.AggregateView(a, h.auctionService.Policy()))
}

func (h *AuctionHandler) GetAuctionState(c *fiber.Ctx) error {
	id, ok := auctionID(c)
	if !ok {
		return badRequest(c, reasonInvalidAuctionID, "auction id must be a uuid")
	}
	state, err := h.auctionService.GetAuctionState(c.UserContext(), id)
	if err != nil {
		return writeError(c, "GetAuctionState", err)
	}
	return c.JSON(state)
}

func (h *AuctionHandler) ListBids(c *fiber.Ctx) error {
	id, ok := auctionID(c)
	if !ok {
		return badRequest(c, reasonInvalidAuctionID, "auction id must be a uuid")
	}
	bids, err := h.auctionService.ListBids(c.UserContext(), id)
	if err != nil {
		return writeError(c, "ListBids", err)
	}
	return c.JSON(bids)
}

func (h *AuctionHandler) PlaceBid(c *fiber.Ctx) error {
	id, ok := auctionID(c)
	if !ok {
		return badRequest(c, reasonInvalidAuctionID, "auction id must be a uuid")
	}
	var req PlaceBidRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, reasonInvalidRequest, "invalid JSON body")
	}

	res, err := h.auctionService.PlaceBid(c.UserContext(), application.PlaceBidDTO{
		AuctionID: id,
		UserID:    req.UserID,
		Amount:    req.Amount,
	})
	if err != nil {
		return writeError(c, "PlaceBid", err)
	}
	log.Debug("PlaceBid: bid recorded",
		zap.String("auctionID", id.String()),
		zap.String("bidID", res.Bid.ID.String()),
		zap.Int("counterBids", len(res.CounterBids)),
	)
	return c.Status(fiber.StatusCreated).JSON(PlaceBidResponse{
		Bid:         application.BidView(res.Bid),
		Aggregate:   application.AggregateView(res.Final, h.auctionService.Policy()),
		CounterBids: application.BidViews(res.CounterBids),
	})
}

func (h *AuctionHandler) SetupAutoBid(c *fiber.Ctx) error {
	id, ok := auctionID(c)
	if !ok {
		return badRequest(c, reasonInvalidAuctionID, "auction id must be a uuid")
	}
	var req SetupAutoBidRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, reasonInvalidRequest, "invalid JSON body")
	}

	res, err := h.auctionService.SetupAutoBid(c.UserContext(), application.SetupAutoBidDTO{
		AuctionID: id,
		UserID:    req.UserID,
		MaxBid:    req.MaxBid,
	})
	if err != nil {
		return writeError(c, "SetupAutoBid", err)
	}
	return c.Status(fiber.StatusCreated).JSON(SetupAutoBidResponse{
		Rule:        application.AutoBidRuleView(res.Rule),
		Aggregate:   application.AggregateView(res.Aggregate, h.auctionService.Policy()),
		CounterBids: application.BidViews(res.CounterBids),
	})
}

func (h *AuctionHandler) CancelAutoBid(c *fiber.Ctx) error {
	id, ok := auctionID(c)
	if !ok {
		return badRequest(c, reasonInvalidAuctionID, "auction id must be a uuid")
	}
	if err := h.auctionService.CancelAutoBid(c.UserContext(), id, c.Params("userId")); err != nil {
		return writeError(c, "CancelAutoBid", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *AuctionHandler) transition(name string, apply func(context.Context, uuid.UUID) (*domain.Auction, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := auctionID(c)
		if !ok {
			return badRequest(c, reasonInvalidAuctionID, "auction id must be a uuid")
		}
		a, err := apply(c.UserContext(), id)
		if err != nil {
			return writeError(c, name, err)
		}
		return c.JSON(application.AggregateView(a, h.auctionService.Policy()))
	}
}

func auctionID(c *fiber.Ctx) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params("id"))
	return id, err == nil
}
