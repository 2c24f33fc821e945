package application

import (
	"context"

	"github.com/cristianortiz/liveAuction/internal/payment/domain"
	"github.com/cristianortiz/liveAuction/internal/payment/gateway"
)

// PaymentService exposes the payment use cases to the infra layer.
type PaymentService interface {
	CreateTransaction(ctx context.Context, cmd CreateTransactionDTO) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, gateway, merchantReference string) (*domain.Transaction, error)
	Reconcile(ctx context.Context, gw domain.Gateway, req gateway.Request) (*ReconcileResult, error)
}

type paymentService struct {
	create    *CreateTransactionUseCase
	get       *GetTransactionUseCase
	reconcile *ReconcileWebhookUseCase
}

func NewPaymentService(create *CreateTransactionUseCase, get *GetTransactionUseCase, reconcile *ReconcileWebhookUseCase) PaymentService {
	return &paymentService{create: create, get: get, reconcile: reconcile}
}

func (s *paymentService) CreateTransaction(ctx context.Context, cmd CreateTransactionDTO) (*domain.Transaction, error) {
	return s.create.Execute(ctx, cmd)
}

func (s *paymentService) GetTransaction(ctx context.Context, gateway, merchantReference string) (*domain.Transaction, error) {
	return s.get.Execute(ctx, gateway, merchantReference)
}

func (s *paymentService) Reconcile(ctx context.Context, gw domain.Gateway, req gateway.Request) (*ReconcileResult, error) {
	return s.reconcile.Execute(ctx, gw, req)
}
