package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/cristianortiz/liveAuction/internal/payment/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// TransactionRepository implements domain.TransactionRepository over payment_transactions.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

var _ domain.TransactionRepository = (*TransactionRepository)(nil)

func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

const transactionColumns = `id, order_id, gateway, merchant_reference, gateway_transaction_id, amount::text,
        status, last_webhook_key, applied_at, version, created_at, updated_at`

func (r *TransactionRepository) Create(ctx context.Context, t *domain.Transaction) error {
	query := `
        INSERT INTO payment_transactions
            (id, order_id, gateway, merchant_reference, gateway_transaction_id, amount,
             status, last_webhook_key, applied_at, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12)
    `
	_, err := r.pool.Exec(ctx, query,
		t.ID,
		t.OrderID,
		string(t.Gateway),
		t.MerchantReference,
		t.GatewayTransactionID,
		t.Amount.String(),
		string(t.Status),
		t.LastWebhookKey,
		t.AppliedAt,
		t.Version,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("create transaction %s/%s: %w", t.Gateway, t.MerchantReference, domain.ErrTransactionExists)
		}
		return fmt.Errorf("create transaction %s/%s: %w", t.Gateway, t.MerchantReference, err)
	}
	return nil
}

func (r *TransactionRepository) GetByReference(ctx context.Context, gateway domain.Gateway, merchantReference string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE gateway = $1 AND merchant_reference = $2`
	t, err := scanTransaction(r.pool.QueryRow(ctx, query, string(gateway), merchantReference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get transaction %s/%s: %w", gateway, merchantReference, domain.ErrTransactionNotFound)
		}
		return nil, fmt.Errorf("get transaction %s/%s: %w", gateway, merchantReference, err)
	}
	return t, nil
}

// Apply is the pending to terminal CAS. The version predicate makes concurrent deliveries
// of the same callback race for a single row update.
func (r *TransactionRepository) Apply(ctx context.Context, t *domain.Transaction, expectedVersion int64) error {
	query := `
        UPDATE payment_transactions
        SET status = $1,
            gateway_transaction_id = $2,
            last_webhook_key = $3,
            applied_at = $4,
            version = $5,
            updated_at = $6
        WHERE id = $7 AND version = $8
    `
	tag, err := r.pool.Exec(ctx, query,
		string(t.Status),
		t.GatewayTransactionID,
		t.LastWebhookKey,
		t.AppliedAt,
		t.Version,
		t.UpdatedAt,
		t.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("apply transaction %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("apply transaction %s: %w", t.ID, domain.ErrVersionConflict)
	}
	return nil
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		t               domain.Transaction
		gateway, status string
		amount          string
	)
	err := row.Scan(
		&t.ID,
		&t.OrderID,
		&gateway,
		&t.MerchantReference,
		&t.GatewayTransactionID,
		&amount,
		&status,
		&t.LastWebhookKey,
		&t.AppliedAt,
		&t.Version,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Gateway = domain.Gateway(gateway)
	t.Status = domain.Status(status)
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("scan transaction amount %q: %w", amount, err)
	}
	return &t, nil
}
