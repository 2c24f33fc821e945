package db

import (
	"context"
	"fmt"

	"github.com/cristianortiz/liveAuction/internal/shared/logger"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

// NewPostgresPool opens a pgx pool for dsn and verifies it with a ping.
// The pool is created once at process start and handed to every repository that needs it.
func NewPostgresPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to DB: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database pool ping failed: %w", err)
	}

	log.Info("Postgres pool ready",
		zap.String("host", config.ConnConfig.Host),
		zap.String("database", config.ConnConfig.Database),
		zap.Int32("maxConns", config.MaxConns),
	)
	return pool, nil
}
