package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// amountScale matches the NUMERIC(18,2) amount column.
const amountScale = 2

// Gateway identifies a payment provider.
type Gateway string

const (
	GatewayPayU    Gateway = "payu"
	GatewayPhonePe Gateway = "phonepe"
)

// ParseGateway accepts a gateway name case-insensitively.
func ParseGateway(s string) (Gateway, error) {
	switch g := Gateway(strings.ToLower(strings.TrimSpace(s))); g {
	case GatewayPayU, GatewayPhonePe:
		return g, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedGateway, s)
	}
}

// Status is the reconciler's view of a payment. Everything but pending is terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusFailed || s == StatusCancelled
}

// Transaction is one gateway payment attempt for an order.
type Transaction struct {
	ID                   uuid.UUID
	OrderID              string
	Gateway              Gateway
	MerchantReference    string // what the gateway echoes back: PayU txnid, PhonePe merchantTransactionId
	GatewayTransactionID string
	Amount               decimal.Decimal
	Status               Status
	LastWebhookKey       string
	AppliedAt            *time.Time
	Version              int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// NewTransaction registers a pending payment.
func NewTransaction(orderID string, gateway Gateway, merchantReference string, amount decimal.Decimal, now time.Time) (*Transaction, error) {
	if orderID == "" || merchantReference == "" {
		return nil, fmt.Errorf("%w: order id and merchant reference are required", ErrInvalidTransaction)
	}
	if _, err := ParseGateway(string(gateway)); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount %s must be positive", ErrInvalidTransaction, amount)
	}
	if !amount.Equal(amount.Truncate(amountScale)) {
		return nil, fmt.Errorf("%w: amount %s has more than %d decimal places", ErrInvalidTransaction, amount, amountScale)
	}
	return &Transaction{
		ID:                uuid.New(),
		OrderID:           orderID,
		Gateway:           gateway,
		MerchantReference: merchantReference,
		Amount:            amount,
		Status:            StatusPending,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// Apply moves a pending transaction to a terminal outcome and records the webhook marker.
func (t *Transaction) Apply(outcome Status, gatewayTxnID, webhookKey string, now time.Time) error {
	if !outcome.IsTerminal() {
		return fmt.Errorf("%w: %s is not a terminal outcome", ErrInvalidTransition, outcome)
	}
	if t.Status.IsTerminal() {
		return fmt.Errorf("%w: already %s", ErrInvalidTransition, t.Status)
	}
	applied := now
	t.Status = outcome
	t.GatewayTransactionID = gatewayTxnID
	t.LastWebhookKey = webhookKey
	t.AppliedAt = &applied
	t.Version++
	t.UpdatedAt = now
	return nil
}

// SideEffectKey is the idempotency key of the order update for this outcome.
func SideEffectKey(gateway Gateway, gatewayTxnID string, outcome Status) string {
	return fmt.Sprintf("%s:%s:%s", gateway, gatewayTxnID, outcome)
}
