package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/clock"

	"dispatch/internal/types"
)

// PoolConfig configures NewPool.
type PoolConfig struct {
	URL      types.SecretString
	MaxConns int32
	MinConns int32

	// ConnectRetries is the number of connectivity checks made before giving
	// up; RetryDelay is the pause between them.
	ConnectRetries int
	RetryDelay     time.Duration
}

// NewPool creates the connection pool and blocks until the database answers a
// ping, retrying while it starts up.
func NewPool(ctx context.Context, cfg PoolConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "invalid database url", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create database pool", err)
	}

	if err := waitForDatabase(ctx, pool.Ping, cfg.ConnectRetries, cfg.RetryDelay, clock.WallClock, logger); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// waitForDatabase calls ping up to attempts times, sleeping delay between
// failures.
func waitForDatabase(
	ctx context.Context,
	ping func(context.Context) error,
	attempts int,
	delay time.Duration,
	clk clock.Clock,
	logger *slog.Logger,
) error {
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = ping(ctx); err == nil {
			if attempt > 1 {
				logger.Info("database ready", "attempt", attempt)
			}
			return nil
		}
		if attempt == attempts {
			break
		}

		logger.Warn("database not ready, retrying",
			"attempt", attempt,
			"max_attempts", attempts,
			"retry_in", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return types.NewAppError(types.ErrCodeUpstreamUnavailable, "database connect cancelled", ctx.Err())
		case <-clk.After(delay):
		}
	}

	return types.NewAppError(
		types.ErrCodeUpstreamUnavailable,
		fmt.Sprintf("database unreachable after %d attempts", attempts),
		err,
	)
}
