package domain

//go:generate mockgen -source=payment_interfaces.go -destination=mocks/mock_payment_interfaces.go -package=mocks

import (
	"context"

	"github.com/shopspring/decimal"
)

// TransactionRepository stores payment transactions.
type TransactionRepository interface {
	Create(ctx context.Context, t *Transaction) error
	// GetByReference resolves a transaction from the reference a gateway echoes back.
	GetByReference(ctx context.Context, gateway Gateway, merchantReference string) (*Transaction, error)
	// Apply persists t if the stored version still equals expectedVersion, ErrVersionConflict otherwise.
	Apply(ctx context.Context, t *Transaction, expectedVersion int64) error
}

// OrderUpdate asks the order subsystem to reflect a payment outcome. Receivers must treat
// IdempotencyKey as a dedup key, the same update may be delivered more than once.
type OrderUpdate struct {
	IdempotencyKey       string          `json:"idempotency_key"`
	OrderID              string          `json:"order_id"`
	TransactionID        string          `json:"transaction_id"`
	Gateway              Gateway         `json:"gateway"`
	GatewayTransactionID string          `json:"gateway_transaction_id"`
	Status               Status          `json:"status"`
	Amount               decimal.Decimal `json:"amount"`
}

// OrderUpdater delivers order updates, for example "mark order paid".
type OrderUpdater interface {
	UpdateOrder(ctx context.Context, update OrderUpdate) error
}
