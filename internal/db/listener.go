package db

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"dispatch/internal/types"
)

// DefaultChannel is the notification channel the trigger publishes to.
const DefaultChannel = "bus_position_notification"

// notifyConn is the subset of *pgx.Conn the listener drives.
type notifyConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Listener holds one dedicated connection subscribed to a notification
// channel. It implements relay.Source.
//
// The connection is taken out of the pool for good: a LISTEN session must not
// be handed back to other callers. Next and Close must not run concurrently;
// the relay stops its producer loop before closing the source.
type Listener struct {
	acquire func(ctx context.Context) (notifyConn, error)
	channel string
	logger  *slog.Logger

	mu     sync.Mutex
	conn   notifyConn
	closed bool
}

// NewListener returns a listener that takes its connection from pool.
func NewListener(pool *pgxpool.Pool, channel string, logger *slog.Logger) *Listener {
	return newListener(func(ctx context.Context) (notifyConn, error) {
		c, err := pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return c.Hijack(), nil
	}, channel, logger)
}

func newListener(acquire func(context.Context) (notifyConn, error), channel string, logger *slog.Logger) *Listener {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		acquire: acquire,
		channel: channel,
		logger:  logger.With("component", "listener", "channel", channel),
	}
}

// Channel returns the channel name.
func (l *Listener) Channel() string {
	return l.channel
}

// Listen acquires the connection and subscribes to the channel. Calling it
// again after success is a no-op.
func (l *Listener) Listen(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "listener closed", nil)
	}
	if l.conn != nil {
		return nil
	}

	conn, err := l.acquire(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "failed to acquire listen connection", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "LISTEN failed", err)
	}

	l.conn = conn
	l.logger.Info("listening for notifications")
	return nil
}

// Next blocks until a notification arrives on the channel and returns its
// payload. When ctx ends, ctx.Err() is returned; any other failure means the
// connection is gone and is reported as ErrCodeUpstreamConnectionLost.
func (l *Listener) Next(ctx context.Context) (string, error) {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()

	if conn == nil {
		return "", types.NewAppError(types.ErrCodeUpstreamConnectionLost, "listener is not connected", nil)
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", types.NewAppError(types.ErrCodeUpstreamConnectionLost, "notification connection lost", err)
		}
		if n.Channel != l.channel {
			continue
		}
		return n.Payload, nil
	}
}

// Close unsubscribes and closes the connection. It is idempotent.
func (l *Listener) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	conn := l.conn
	l.conn = nil
	if conn == nil {
		return nil
	}

	var errs []error
	if _, err := conn.Exec(ctx, "UNLISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		errs = append(errs, err)
	}
	if err := conn.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		l.logger.Warn("listener teardown incomplete", "error", err)
		return err
	}
	l.logger.Info("stopped listening")
	return nil
}
