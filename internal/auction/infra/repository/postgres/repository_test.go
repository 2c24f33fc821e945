package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/cristianortiz/liveAuction/internal/auction/domain"
	"github.com/cristianortiz/liveAuction/internal/shared/db"
	"github.com/cristianortiz/liveAuction/internal/shared/db/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// openPool connects to TEST_DATABASE_URL and migrates it, or skips the test.
func openPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	require.NoError(t, migrations.RunMigrations("../../../../shared/db/migrations/sql", dsn))

	pool, err := db.NewPostgresPool(context.Background(), dsn, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestAuctionRepository_Postgres(t *testing.T) {
	pool := openPool(t)
	ctx := context.Background()
	repo := NewAuctionRepository(pool)
	ledger := NewBidRepository(pool)

	now := time.Now().UTC().Truncate(time.Millisecond)
	reserve := decimal.NewFromInt(150)
	a, err := domain.NewAuction("pg lot", now.Add(-time.Minute), now.Add(time.Hour), decimal.NewFromInt(100), &reserve, 0, now)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, a))

	expected := a.Version
	require.NoError(t, a.Start(now))
	require.NoError(t, repo.UpdateStatus(ctx, a, expected))

	policy := domain.BidPolicy{Increment: domain.FixedIncrement(decimal.NewFromInt(10))}
	cur, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, cur.ReservePrice.Equal(reserve))

	expected = cur.Version
	bid, err := cur.PlaceBid("alice", decimal.NewFromInt(110), policy, domain.SourceManual, now)
	require.NoError(t, err)
	require.NoError(t, repo.CommitBid(ctx, cur, expected, bid))

	// replaying with the old version loses the CAS
	require.ErrorIs(t, repo.CommitBid(ctx, cur, expected, bid), domain.ErrVersionConflict)

	stored, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, stored.CurrentBid.Equal(decimal.NewFromInt(110)))
	require.Equal(t, int64(1), stored.BidCount)
	require.True(t, stored.IsWinner("alice"))

	bids, err := ledger.RecentBids(ctx, a.ID, 10)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	require.Equal(t, bid.ID, bids[0].ID)

	live, err := repo.ListLive(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, live)
}

func TestAutoBidRepository_Postgres(t *testing.T) {
	pool := openPool(t)
	ctx := context.Background()
	auctions := NewAuctionRepository(pool)
	rules := NewAutoBidRepository(pool)

	now := time.Now().UTC().Truncate(time.Millisecond)
	a, err := domain.NewAuction("pg rules", now, now.Add(time.Hour), decimal.NewFromInt(1), nil, 0, now)
	require.NoError(t, err)
	require.NoError(t, auctions.Create(ctx, a))

	rule, err := domain.NewAutoBidRule(a.ID, "bob", decimal.NewFromInt(300), now)
	require.NoError(t, err)
	_, err = rules.Upsert(ctx, rule)
	require.NoError(t, err)

	raised, err := domain.NewAutoBidRule(a.ID, "bob", decimal.NewFromInt(400), now.Add(time.Minute))
	require.NoError(t, err)
	stored, err := rules.Upsert(ctx, raised)
	require.NoError(t, err)
	require.True(t, stored.CreatedAt.Equal(now))

	require.NoError(t, rules.DeactivateAll(ctx, a.ID))
	active, err := rules.ListActive(ctx, a.ID)
	require.NoError(t, err)
	require.Empty(t, active)
}
