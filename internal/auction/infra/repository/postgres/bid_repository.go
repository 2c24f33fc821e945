package postgres

import (
	"context"
	"fmt"

	"github.com/cristianortiz/liveAuction/internal/auction/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// BidRepository implements domain.BidLedger. Appends happen inside AuctionRepository.CommitBid.
type BidRepository struct {
	pool *pgxpool.Pool
}

var _ domain.BidLedger = (*BidRepository)(nil)

// NewBidRepository creates new instance of BidRepository.
func NewBidRepository(pool *pgxpool.Pool) *BidRepository {
	return &BidRepository{pool: pool}
}

const bidColumns = `id, auction_id, user_id, amount::text, accepted_at, sequence, is_winning_at_acceptance, source`

// insertBid appends one ledger entry. Must run in the same tx as the aggregate update.
func insertBid(ctx context.Context, tx pgx.Tx, bid *domain.Bid) error {
	query := `
        INSERT INTO bids (id, auction_id, user_id, amount, accepted_at, sequence, is_winning_at_acceptance, source)
        VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
    `
	_, err := tx.Exec(ctx, query,
		bid.ID,
		bid.AuctionID,
		bid.UserID,
		bid.Amount.String(),
		bid.AcceptedAt,
		bid.Sequence,
		bid.IsWinningAtAcceptance,
		string(bid.Source),
	)
	return err
}

func (r *BidRepository) ListBids(ctx context.Context, auctionID uuid.UUID) ([]*domain.Bid, error) {
	query := `
        SELECT ` + bidColumns + `
        FROM bids
        WHERE auction_id = $1
        ORDER BY sequence ASC
    `
	rows, err := r.pool.Query(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("list bids %s: %w", auctionID, err)
	}
	return collectBids(rows)
}

// RecentBids returns the last limit entries, still ascending by sequence.
func (r *BidRepository) RecentBids(ctx context.Context, auctionID uuid.UUID, limit int) ([]*domain.Bid, error) {
	query := `
        SELECT * FROM (
            SELECT ` + bidColumns + `
            FROM bids
            WHERE auction_id = $1
            ORDER BY sequence DESC
            LIMIT $2
        ) recent
        ORDER BY sequence ASC
    `
	rows, err := r.pool.Query(ctx, query, auctionID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent bids %s: %w", auctionID, err)
	}
	return collectBids(rows)
}

func collectBids(rows pgx.Rows) ([]*domain.Bid, error) {
	defer rows.Close()

	var bids []*domain.Bid
	for rows.Next() {
		var (
			bid    domain.Bid
			amount string
			source string
		)
		err := rows.Scan(
			&bid.ID,
			&bid.AuctionID,
			&bid.UserID,
			&amount,
			&bid.AcceptedAt,
			&bid.Sequence,
			&bid.IsWinningAtAcceptance,
			&source,
		)
		if err != nil {
			return nil, err
		}
		if bid.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("bid %s amount %q: %w", bid.ID, amount, err)
		}
		bid.Source = domain.BidSource(source)
		bids = append(bids, &bid)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bids, nil
}
