package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/cristianortiz/liveAuction/internal/payment/application"
	"github.com/cristianortiz/liveAuction/internal/payment/domain"
	"github.com/cristianortiz/liveAuction/internal/payment/gateway"
	"github.com/cristianortiz/liveAuction/internal/shared/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

const (
	reasonInvalidRequest    = "invalid_request"
	reasonInvalidPayload    = "invalid_payload"
	reasonOrderUpdateFailed = "order_update_failed"
	reasonInternal          = "internal_error"
	reasonNotFound          = "not_found"
	reasonExists            = "already_exists"
	reasonInvalid           = "invalid_transaction"
	reasonUnsupportedGW     = "unsupported_gateway"
)

type CreateTransactionRequest struct {
	OrderID           string          `json:"order_id"`
	Gateway           string          `json:"gateway"`
	MerchantReference string          `json:"merchant_reference"`
	Amount            decimal.Decimal `json:"amount"`
}

type TransactionResponse struct {
	ID                   string          `json:"id"`
	OrderID              string          `json:"order_id"`
	Gateway              domain.Gateway  `json:"gateway"`
	MerchantReference    string          `json:"merchant_reference"`
	GatewayTransactionID string          `json:"gateway_transaction_id,omitempty"`
	Amount               decimal.Decimal `json:"amount"`
	Status               domain.Status   `json:"status"`
	AppliedAt            *time.Time      `json:"applied_at,omitempty"`
	Version              int64           `json:"version"`
}

// WebhookResponse is what the gateway sees. Only success=true stops its redelivery.
type WebhookResponse struct {
	Success bool   `json:"success"`
	Outcome string `json:"outcome,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type ErrorResponse struct {
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

// PaymentHandler exposes transaction registration and the gateway callbacks.
type PaymentHandler struct {
	paymentService application.PaymentService
}

func NewPaymentHandler(paymentService application.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService}
}

func (h *PaymentHandler) Register(router fiber.Router) {
	payments := router.Group("/payments")
	payments.Post("/transactions", h.CreateTransaction)
	payments.Get("/transactions/:gateway/:reference", h.GetTransaction)

	webhooks := router.Group("/webhooks")
	webhooks.Post("/payu", h.webhook(domain.GatewayPayU))
	webhooks.Post("/phonepe", h.webhook(domain.GatewayPhonePe))
	webhooks.All("/payu", methodNotAllowed)
	webhooks.All("/phonepe", methodNotAllowed)
}

func (h *PaymentHandler) CreateTransaction(c *fiber.Ctx) error {
	var req CreateTransactionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Reason: reasonInvalidRequest, Error: "invalid JSON body"})
	}
	tx, err := h.paymentService.CreateTransaction(c.UserContext(), application.CreateTransactionDTO{
		OrderID:           req.OrderID,
		Gateway:           req.Gateway,
		MerchantReference: req.MerchantReference,
		Amount:            req.Amount,
	})
	if err != nil {
		return writeError(c, "CreateTransaction", err)
	}
	return c.Status(fiber.StatusCreated).JSON(toTransactionResponse(tx))
}

func (h *PaymentHandler) GetTransaction(c *fiber.Ctx) error {
	tx, err := h.paymentService.GetTransaction(c.UserContext(), c.Params("gateway"), c.Params("reference"))
	if err != nil {
		return writeError(c, "GetTransaction", err)
	}
	return c.JSON(toTransactionResponse(tx))
}

func (h *PaymentHandler) webhook(gw domain.Gateway) fiber.Handler {
	return func(c *fiber.Ctx) error {
		headers := http.Header{}
		for k, values := range c.GetReqHeaders() {
			for _, v := range values {
				headers.Add(k, v)
			}
		}
		req := gateway.Request{
			// fasthttp reuses the request buffer after the handler returns
			Body:    append([]byte(nil), c.Body()...),
			Headers: headers,
			Path:    c.Path(),
		}

		res, err := h.paymentService.Reconcile(c.UserContext(), gw, req)
		if err != nil {
			return writeWebhookError(c, gw, err)
		}
		out := WebhookResponse{Outcome: string(res.Outcome), Reason: res.Reason}
		switch res.Outcome {
		case application.OutcomeApplied, application.OutcomeDuplicate:
			out.Success = true
			return c.JSON(out)
		case application.OutcomeIgnored:
			return c.Status(fiber.StatusAccepted).JSON(out)
		case application.OutcomeInvalidSignature:
			return c.Status(fiber.StatusUnauthorized).JSON(out)
		case application.OutcomeUnknownTransaction:
			return c.Status(fiber.StatusNotFound).JSON(out)
		case application.OutcomeConflict:
			return c.Status(fiber.StatusConflict).JSON(out)
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(out)
		}
	}
}

func writeWebhookError(c *fiber.Ctx, gw domain.Gateway, err error) error {
	switch {
	case errors.Is(err, domain.ErrMalformedNotification):
		return c.Status(fiber.StatusBadRequest).JSON(WebhookResponse{Outcome: reasonInvalidPayload})
	case errors.Is(err, domain.ErrUnsupportedGateway):
		return c.Status(fiber.StatusNotFound).JSON(WebhookResponse{Reason: reasonUnsupportedGW})
	case errors.Is(err, domain.ErrOrderUpdateFailed):
		// the transition is stored, a redelivery retries only the order update
		return c.Status(fiber.StatusServiceUnavailable).JSON(WebhookResponse{Reason: reasonOrderUpdateFailed})
	default:
		log.Error("Webhook processing failed",
			zap.String("gateway", string(gw)),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(WebhookResponse{Reason: reasonInternal})
	}
}

func writeError(c *fiber.Ctx, handler string, err error) error {
	switch {
	case errors.Is(err, domain.ErrTransactionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Reason: reasonNotFound, Error: err.Error()})
	case errors.Is(err, domain.ErrTransactionExists):
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{Reason: reasonExists, Error: err.Error()})
	case errors.Is(err, domain.ErrInvalidTransaction), errors.Is(err, domain.ErrUnsupportedGateway):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(ErrorResponse{Reason: reasonInvalid, Error: err.Error()})
	default:
		log.Error(handler+": request failed",
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Reason: reasonInternal, Error: "internal server error"})
	}
}

func methodNotAllowed(c *fiber.Ctx) error {
	c.Set(fiber.HeaderAllow, fiber.MethodPost)
	return c.SendStatus(fiber.StatusMethodNotAllowed)
}

func toTransactionResponse(tx *domain.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:                   tx.ID.String(),
		OrderID:              tx.OrderID,
		Gateway:              tx.Gateway,
		MerchantReference:    tx.MerchantReference,
		GatewayTransactionID: tx.GatewayTransactionID,
		Amount:               tx.Amount,
		Status:               tx.Status,
		AppliedAt:            tx.AppliedAt,
		Version:              tx.Version,
	}
}
