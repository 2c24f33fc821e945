package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cristianortiz/liveAuction/internal/auction/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// AuctionRepository implements domain.AuctionRepository. Every write is a compare-and-swap on
// the version column.
type AuctionRepository struct {
	pool *pgxpool.Pool
}

var _ domain.AuctionRepository = (*AuctionRepository)(nil)

// NewAuctionRepository creates a new instance of AuctionRepository
func NewAuctionRepository(pool *pgxpool.Pool) *AuctionRepository {
	return &AuctionRepository{pool: pool}
}

const auctionColumns = `id, title, status, start_time, end_time, starting_bid::text, current_bid::text,
            bid_count, current_winner_id, reserve_price::text, soft_close_window, last_bid_at,
            version, created_at, updated_at`

func (r *AuctionRepository) Create(ctx context.Context, a *domain.Auction) error {
	query := `
        INSERT INTO auctions (id, title, status, start_time, end_time, starting_bid, current_bid,
            bid_count, current_winner_id, reserve_price, soft_close_window, last_bid_at,
            version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9, $10::numeric, $11, $12, $13, $14, $15)
    `
	_, err := r.pool.Exec(ctx, query,
		a.ID,
		a.Title,
		string(a.Status),
		a.StartTime,
		a.EndTime,
		a.StartingBid.String(),
		a.CurrentBid.String(),
		a.BidCount,
		a.CurrentWinnerID,
		decimalPtrString(a.ReservePrice),
		a.SoftCloseWindow.Milliseconds(),
		a.LastBidAt,
		a.Version,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create auction %s: %w", a.ID, err)
	}
	return nil
}

// GetByID retrieves an Auction by its ID.
func (r *AuctionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1`

	a, err := scanAuction(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get auction %s: %w", id, domain.ErrAuctionNotFound)
		}
		return nil, fmt.Errorf("get auction %s: %w", id, err)
	}
	return a, nil
}

// CommitBid updates the aggregate guarded by expectedVersion and appends the bid in the same tx.
func (r *AuctionRepository) CommitBid(ctx context.Context, a *domain.Auction, expectedVersion int64, bid *domain.Bid) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("commit bid: begin tx: %w", err)
	}
	// no-op once committed
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
        UPDATE auctions
        SET current_bid = $1::numeric,
            bid_count = $2,
            current_winner_id = $3,
            end_time = $4,
            last_bid_at = $5,
            version = $6,
            updated_at = $7
        WHERE id = $8 AND version = $9 AND status = 'live'
    `
	tag, err := tx.Exec(ctx, query,
		a.CurrentBid.String(),
		a.BidCount,
		a.CurrentWinnerID,
		a.EndTime,
		a.LastBidAt,
		a.Version,
		a.UpdatedAt,
		a.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("commit bid: update auction %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, a.ID, expectedVersion)
	}

	if err := insertBid(ctx, tx, bid); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("commit bid: sequence %d taken: %w", bid.Sequence, domain.ErrVersionConflict)
		}
		return fmt.Errorf("commit bid: insert bid %s: %w", bid.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit bid: commit: %w", err)
	}
	return nil
}

// UpdateStatus persists a lifecycle transition guarded by expectedVersion.
func (r *AuctionRepository) UpdateStatus(ctx context.Context, a *domain.Auction, expectedVersion int64) error {
	query := `
        UPDATE auctions
        SET status = $1, version = $2, updated_at = $3
        WHERE id = $4 AND version = $5
    `
	tag, err := r.pool.Exec(ctx, query, string(a.Status), a.Version, a.UpdatedAt, a.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update status %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrConflict(ctx, a.ID, expectedVersion)
	}
	return nil
}

func (r *AuctionRepository) missOrConflict(ctx context.Context, id uuid.UUID, expectedVersion int64) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM auctions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("auction %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("auction %s: %w", id, domain.ErrAuctionNotFound)
	}
	return fmt.Errorf("auction %s expected version %d: %w", id, expectedVersion, domain.ErrVersionConflict)
}

func (r *AuctionRepository) ListDue(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	query := `
        SELECT ` + auctionColumns + `
        FROM auctions
        WHERE (status = 'upcoming' AND start_time <= $1)
           OR (status = 'live' AND end_time <= $1)
        ORDER BY start_time ASC
    `
	return r.list(ctx, query, now)
}

func (r *AuctionRepository) ListLive(ctx context.Context) ([]*domain.Auction, error) {
	query := `
        SELECT ` + auctionColumns + `
        FROM auctions
        WHERE status = 'live'
        ORDER BY start_time ASC
    `
	return r.list(ctx, query)
}

func (r *AuctionRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Auction, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list auctions: %w", err)
	}
	defer rows.Close()

	var auctions []*domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return auctions, nil
}

func scanAuction(row pgx.Row) (*domain.Auction, error) {
	var (
		a                       domain.Auction
		status                  string
		startingBid, currentBid string
		reserve                 *string
		softCloseMs             int64
	)
	err := row.Scan(
		&a.ID,
		&a.Title,
		&status,
		&a.StartTime,
		&a.EndTime,
		&startingBid,
		&currentBid,
		&a.BidCount,
		&a.CurrentWinnerID,
		&reserve,
		&softCloseMs,
		&a.LastBidAt,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Status = domain.AuctionStatus(status)
	a.SoftCloseWindow = time.Duration(softCloseMs) * time.Millisecond
	if a.StartingBid, err = decimal.NewFromString(startingBid); err != nil {
		return nil, fmt.Errorf("auction %s starting bid: %w", a.ID, err)
	}
	if a.CurrentBid, err = decimal.NewFromString(currentBid); err != nil {
		return nil, fmt.Errorf("auction %s current bid: %w", a.ID, err)
	}
	if reserve != nil {
		rp, err := decimal.NewFromString(*reserve)
		if err != nil {
			return nil, fmt.Errorf("auction %s reserve: %w", a.ID, err)
		}
		a.ReservePrice = &rp
	}
	return &a, nil
}

func decimalPtrString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
