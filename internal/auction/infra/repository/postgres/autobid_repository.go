package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/cristianortiz/liveAuction/internal/auction/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// AutoBidRepository implements domain.AutoBidRepository.
type AutoBidRepository struct {
	pool *pgxpool.Pool
}

var _ domain.AutoBidRepository = (*AutoBidRepository)(nil)

func NewAutoBidRepository(pool *pgxpool.Pool) *AutoBidRepository {
	return &AutoBidRepository{pool: pool}
}

const ruleColumns = `auction_id, user_id, max_bid::text, active, created_at, updated_at`

// Upsert keeps created_at of an existing rule so the registration order survives ceiling changes.
func (r *AutoBidRepository) Upsert(ctx context.Context, rule *domain.AutoBidRule) (*domain.AutoBidRule, error) {
	query := `
        INSERT INTO auto_bid_rules (auction_id, user_id, max_bid, active, created_at, updated_at)
        VALUES ($1, $2, $3::numeric, $4, $5, $6)
        ON CONFLICT (auction_id, user_id) DO UPDATE
        SET max_bid = EXCLUDED.max_bid,
            active = EXCLUDED.active,
            updated_at = EXCLUDED.updated_at
        RETURNING ` + ruleColumns
	stored, err := scanRule(r.pool.QueryRow(ctx, query,
		rule.AuctionID,
		rule.UserID,
		rule.MaxBid.String(),
		rule.Active,
		rule.CreatedAt,
		rule.UpdatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert rule %s/%s: %w", rule.AuctionID, rule.UserID, err)
	}
	return stored, nil
}

func (r *AutoBidRepository) Get(ctx context.Context, auctionID uuid.UUID, userID string) (*domain.AutoBidRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM auto_bid_rules WHERE auction_id = $1 AND user_id = $2`
	rule, err := scanRule(r.pool.QueryRow(ctx, query, auctionID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get rule %s/%s: %w", auctionID, userID, domain.ErrAutoBidNotFound)
		}
		return nil, fmt.Errorf("get rule %s/%s: %w", auctionID, userID, err)
	}
	return rule, nil
}

func (r *AutoBidRepository) Deactivate(ctx context.Context, auctionID uuid.UUID, userID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE auto_bid_rules SET active = FALSE, updated_at = NOW() WHERE auction_id = $1 AND user_id = $2`,
		auctionID, userID)
	if err != nil {
		return fmt.Errorf("deactivate rule %s/%s: %w", auctionID, userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deactivate rule %s/%s: %w", auctionID, userID, domain.ErrAutoBidNotFound)
	}
	return nil
}

func (r *AutoBidRepository) DeactivateAll(ctx context.Context, auctionID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE auto_bid_rules SET active = FALSE, updated_at = NOW() WHERE auction_id = $1 AND active`,
		auctionID)
	if err != nil {
		return fmt.Errorf("deactivate rules of %s: %w", auctionID, err)
	}
	return nil
}

func (r *AutoBidRepository) ListActive(ctx context.Context, auctionID uuid.UUID) ([]*domain.AutoBidRule, error) {
	query := `
        SELECT ` + ruleColumns + `
        FROM auto_bid_rules
        WHERE auction_id = $1 AND active
        ORDER BY created_at ASC, user_id ASC
    `
	rows, err := r.pool.Query(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("list rules of %s: %w", auctionID, err)
	}
	defer rows.Close()

	var rules []*domain.AutoBidRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rules, nil
}

func scanRule(row pgx.Row) (*domain.AutoBidRule, error) {
	var (
		rule   domain.AutoBidRule
		maxBid string
	)
	if err := row.Scan(&rule.AuctionID, &rule.UserID, &maxBid, &rule.Active, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if rule.MaxBid, err = decimal.NewFromString(maxBid); err != nil {
		return nil, fmt.Errorf("rule %s/%s max bid: %w", rule.AuctionID, rule.UserID, err)
	}
	return &rule, nil
}
