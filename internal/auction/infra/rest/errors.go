package rest

import (
	"errors"

	"github.com/cristianortiz/liveAuction/internal/auction/domain"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	reasonInvalidRequest   = "invalid_request"
	reasonInvalidAuctionID = "invalid_auction_id"

	// seconds a contended bidder should wait before resubmitting
	retryAfterSeconds = "1"
)

// ErrorResponse is the body of every failed auction request.
type ErrorResponse struct {
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

// mapErrorToHTTP maps a use case error to its HTTP status and reason code.
func mapErrorToHTTP(err error) (int, string) {
	reason := domain.ReasonOf(err)
	switch {
	case errors.Is(err, domain.ErrAuctionNotFound), errors.Is(err, domain.ErrAutoBidNotFound):
		return fiber.StatusNotFound, reason
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrInvalidBidder),
		errors.Is(err, domain.ErrInvalidSchedule):
		return fiber.StatusUnprocessableEntity, reason
	case errors.Is(err, domain.ErrContended):
		return fiber.StatusServiceUnavailable, reason
	case domain.IsRejection(err):
		return fiber.StatusConflict, reason
	default:
		return fiber.StatusInternalServerError, domain.ReasonInternal
	}
}

func writeError(c *fiber.Ctx, handler string, err error) error {
	status, reason := mapErrorToHTTP(err)
	message := err.Error()
	if status == fiber.StatusInternalServerError {
		log.Error(handler+": request failed",
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		// storage details stay in the log
		message = "internal server error"
	}
	if status == fiber.StatusServiceUnavailable {
		c.Set(fiber.HeaderRetryAfter, retryAfterSeconds)
	}
	return c.Status(status).JSON(ErrorResponse{Reason: reason, Error: message})
}

func badRequest(c *fiber.Ctx, reason, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Reason: reason, Error: message})
}
