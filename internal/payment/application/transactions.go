package application

import (
	"context"
	"time"

	"github.com/cristianortiz/liveAuction/internal/payment/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateTransactionDTO is sent by the order subsystem at checkout.
type CreateTransactionDTO struct {
	OrderID           string
	Gateway           string
	MerchantReference string
	Amount            decimal.Decimal
}

// CreateTransactionUseCase registers the pending record a later webhook resolves.
type CreateTransactionUseCase struct {
	txns domain.TransactionRepository
	now  func() time.Time
}

func NewCreateTransactionUseCase(txns domain.TransactionRepository) *CreateTransactionUseCase {
	return &CreateTransactionUseCase{txns: txns, now: time.Now}
}

func (uc *CreateTransactionUseCase) Execute(ctx context.Context, cmd CreateTransactionDTO) (*domain.Transaction, error) {
	gw, err := domain.ParseGateway(cmd.Gateway)
	if err != nil {
		return nil, err
	}
	tx, err := domain.NewTransaction(cmd.OrderID, gw, cmd.MerchantReference, cmd.Amount, uc.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := uc.txns.Create(ctx, tx); err != nil {
		return nil, err
	}
	log.Info("Payment transaction registered",
		zap.String("orderID", tx.OrderID),
		zap.String("gateway", string(tx.Gateway)),
		zap.String("merchantReference", tx.MerchantReference),
	)
	return tx, nil
}

// GetTransactionUseCase looks a transaction up by the reference the gateway echoes.
type GetTransactionUseCase struct {
	txns domain.TransactionRepository
}

func NewGetTransactionUseCase(txns domain.TransactionRepository) *GetTransactionUseCase {
	return &GetTransactionUseCase{txns: txns}
}

func (uc *GetTransactionUseCase) Execute(ctx context.Context, gateway, merchantReference string) (*domain.Transaction, error) {
	gw, err := domain.ParseGateway(gateway)
	if err != nil {
		return nil, err
	}
	return uc.txns.GetByReference(ctx, gw, merchantReference)
}
