package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/config"
	"github.com/xkilldash9x/portalpilot/internal/jobs"
	"github.com/xkilldash9x/portalpilot/internal/session"
	"github.com/xkilldash9x/portalpilot/internal/store"
)

// InitializeDBPool creates and verifies a PostgreSQL connection pool.
func InitializeDBPool(ctx context.Context, url string, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse PGX pool config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create PGX connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	logger.Debug("Database connection pool initialized.")
	return pool, nil
}

// InitializeJobStore returns the PostgreSQL job store when a database URL is
// configured and the in-memory store otherwise. The returned pool is nil for
// the in-memory store; the caller closes it.
func InitializeJobStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (schemas.JobStore, *pgxpool.Pool, error) {
	if cfg.URL == "" {
		logger.Warn("No database configured; jobs are kept in memory and lost on exit.")
		return jobs.NewMemStore(), nil, nil
	}

	pool, err := InitializeDBPool(ctx, cfg.URL, logger)
	if err != nil {
		return nil, nil, err
	}
	jobStore, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize job store: %w", err)
	}
	if err := jobStore.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return jobStore, pool, nil
}

// InitializeSessionStore creates the session store, mirrored to the
// configured file when persistence is enabled.
func InitializeSessionStore(cfg config.SessionConfig, logger *zap.Logger) (*session.Store, error) {
	var opts []session.Option
	if cfg.Persist && cfg.File != "" {
		opts = append(opts, session.WithFile(cfg.File))
	}
	sessions, err := session.New(logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}
	return sessions, nil
}
