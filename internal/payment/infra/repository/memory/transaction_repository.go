package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/cristianortiz/liveAuction/internal/payment/domain"
)

type referenceKey struct {
	gateway   domain.Gateway
	reference string
}

// TransactionRepository keeps payment transactions in memory, keyed like the unique
// (gateway, merchant_reference) constraint of the postgres table.
type TransactionRepository struct {
	mu   sync.RWMutex
	txns map[referenceKey]domain.Transaction
}

var _ domain.TransactionRepository = (*TransactionRepository)(nil)

func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{txns: make(map[referenceKey]domain.Transaction)}
}

func (r *TransactionRepository) Create(_ context.Context, t *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := referenceKey{t.Gateway, t.MerchantReference}
	if _, ok := r.txns[key]; ok {
		return fmt.Errorf("create transaction %s/%s: %w", t.Gateway, t.MerchantReference, domain.ErrTransactionExists)
	}
	r.txns[key] = clone(t)
	return nil
}

func (r *TransactionRepository) GetByReference(_ context.Context, gateway domain.Gateway, merchantReference string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.txns[referenceKey{gateway, merchantReference}]
	if !ok {
		return nil, fmt.Errorf("get transaction %s/%s: %w", gateway, merchantReference, domain.ErrTransactionNotFound)
	}
	out := clone(&t)
	return &out, nil
}

func (r *TransactionRepository) Apply(_ context.Context, t *domain.Transaction, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := referenceKey{t.Gateway, t.MerchantReference}
	stored, ok := r.txns[key]
	if !ok {
		return fmt.Errorf("apply transaction %s/%s: %w", t.Gateway, t.MerchantReference, domain.ErrTransactionNotFound)
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("apply transaction %s/%s: %w", t.Gateway, t.MerchantReference, domain.ErrVersionConflict)
	}
	r.txns[key] = clone(t)
	return nil
}

func clone(t *domain.Transaction) domain.Transaction {
	out := *t
	if t.AppliedAt != nil {
		at := *t.AppliedAt
		out.AppliedAt = &at
	}
	return out
}
