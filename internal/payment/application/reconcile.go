package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cristianortiz/liveAuction/internal/payment/domain"
	"github.com/cristianortiz/liveAuction/internal/payment/gateway"
	"github.com/cristianortiz/liveAuction/internal/shared/logger"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

// Outcome classifies what a webhook delivery did.
type Outcome string

const (
	OutcomeApplied            Outcome = "applied"
	OutcomeDuplicate          Outcome = "duplicate"
	OutcomeInvalidSignature   Outcome = "invalid_signature"
	OutcomeUnknownTransaction Outcome = "unknown_transaction"
	OutcomeConflict           Outcome = "conflict"
	OutcomeIgnored            Outcome = "ignored"
)

const (
	ReasonStatusMismatch = "status_mismatch"
	ReasonAmountMismatch = "amount_mismatch"
	ReasonOrderMismatch  = "order_mismatch"
)

// applyAttempts bounds how often a lost CAS is re-evaluated against a fresh read.
const applyAttempts = 3

// ReconcileResult is the classified delivery. Transaction is the stored state after the
// delivery, nil when the delivery never resolved one.
type ReconcileResult struct {
	Outcome     Outcome
	Reason      string
	Transaction *domain.Transaction
}

// ReconcileWebhookUseCase turns a gateway callback into at most one status transition and
// an idempotent order update.
type ReconcileWebhookUseCase struct {
	verifiers gateway.Registry
	txns      domain.TransactionRepository
	orders    domain.OrderUpdater
	now       func() time.Time
}

func NewReconcileWebhookUseCase(verifiers gateway.Registry, txns domain.TransactionRepository, orders domain.OrderUpdater) *ReconcileWebhookUseCase {
	return &ReconcileWebhookUseCase{verifiers: verifiers, txns: txns, orders: orders, now: time.Now}
}

// WithClock replaces the wall clock, for tests.
func (uc *ReconcileWebhookUseCase) WithClock(now func() time.Time) *ReconcileWebhookUseCase {
	uc.now = now
	return uc
}

// Execute verifies, resolves and applies one callback. A non-nil error with a non-nil result
// means the transition is stored but the order update failed; the gateway's redelivery
// classifies as duplicate and retries the update.
func (uc *ReconcileWebhookUseCase) Execute(ctx context.Context, gw domain.Gateway, req gateway.Request) (*ReconcileResult, error) {
	verifier, err := uc.verifiers.Verifier(gw)
	if err != nil {
		return nil, err
	}
	n, err := verifier.Verify(req)
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidSignature) {
			log.Warn("Webhook rejected: signature mismatch",
				zap.String("gateway", string(gw)),
				zap.String("path", req.Path),
			)
			return &ReconcileResult{Outcome: OutcomeInvalidSignature}, nil
		}
		log.Warn("Webhook rejected: malformed payload",
			zap.String("gateway", string(gw)),
			zap.Error(err),
		)
		return nil, err
	}

	fields := []zap.Field{
		zap.String("gateway", string(gw)),
		zap.String("merchantReference", n.MerchantReference()),
		zap.String("gatewayTransactionID", n.GatewayTransactionID()),
		zap.String("status", n.RawStatus()),
	}

	for attempt := 0; attempt < applyAttempts; attempt++ {
		tx, err := uc.txns.GetByReference(ctx, gw, n.MerchantReference())
		if err != nil {
			if errors.Is(err, domain.ErrTransactionNotFound) {
				log.Warn("Webhook for unknown transaction", fields...)
				return &ReconcileResult{Outcome: OutcomeUnknownTransaction}, nil
			}
			return nil, fmt.Errorf("resolve transaction: %w", err)
		}
		if gw == domain.GatewayPayU && n.OrderID() != tx.OrderID {
			log.Warn("Webhook order does not match transaction",
				append(fields, zap.String("orderID", tx.OrderID), zap.String("udf1", n.OrderID()))...)
			return &ReconcileResult{Outcome: OutcomeUnknownTransaction, Reason: ReasonOrderMismatch}, nil
		}

		outcome, terminal := n.Outcome()
		if !terminal {
			log.Info("Webhook with non-terminal status ignored", fields...)
			return &ReconcileResult{Outcome: OutcomeIgnored, Transaction: tx}, nil
		}
		if outcome == domain.StatusPaid && !n.Amount().Equal(tx.Amount) {
			log.Error("Webhook amount does not match transaction",
				append(fields, zap.String("expected", tx.Amount.String()), zap.String("got", n.Amount().String()))...)
			return &ReconcileResult{Outcome: OutcomeConflict, Reason: ReasonAmountMismatch, Transaction: tx}, nil
		}

		if tx.Status.IsTerminal() {
			if tx.Status != outcome {
				log.Error("Webhook contradicts recorded payment outcome",
					append(fields, zap.String("recorded", string(tx.Status)))...)
				return &ReconcileResult{Outcome: OutcomeConflict, Reason: ReasonStatusMismatch, Transaction: tx}, nil
			}
			log.Info("Duplicate webhook, re-sending order update", fields...)
			result := &ReconcileResult{Outcome: OutcomeDuplicate, Transaction: tx}
			return result, uc.notify(ctx, tx, n)
		}

		expected := tx.Version
		if err := tx.Apply(outcome, n.GatewayTransactionID(), n.Marker(), uc.now()); err != nil {
			return nil, err
		}
		if err := uc.txns.Apply(ctx, tx, expected); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				// a concurrent delivery won, re-read to classify against its result
				continue
			}
			return nil, fmt.Errorf("apply webhook: %w", err)
		}
		log.Info("Webhook applied", append(fields, zap.String("outcome", string(outcome)))...)
		result := &ReconcileResult{Outcome: OutcomeApplied, Transaction: tx}
		return result, uc.notify(ctx, tx, n)
	}
	return nil, fmt.Errorf("apply webhook %s/%s: %w", gw, n.MerchantReference(), domain.ErrVersionConflict)
}

func (uc *ReconcileWebhookUseCase) notify(ctx context.Context, tx *domain.Transaction, n *gateway.Notification) error {
	gatewayTxnID := tx.GatewayTransactionID
	if gatewayTxnID == "" {
		gatewayTxnID = n.GatewayTransactionID()
	}
	if gatewayTxnID == "" {
		gatewayTxnID = tx.MerchantReference
	}
	update := domain.OrderUpdate{
		IdempotencyKey:       domain.SideEffectKey(tx.Gateway, gatewayTxnID, tx.Status),
		OrderID:              tx.OrderID,
		TransactionID:        tx.ID.String(),
		Gateway:              tx.Gateway,
		GatewayTransactionID: gatewayTxnID,
		Status:               tx.Status,
		Amount:               tx.Amount,
	}
	if err := uc.orders.UpdateOrder(ctx, update); err != nil {
		log.Error("Order update failed",
			zap.String("orderID", tx.OrderID),
			zap.String("idempotencyKey", update.IdempotencyKey),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", domain.ErrOrderUpdateFailed, err)
	}
	return nil
}
