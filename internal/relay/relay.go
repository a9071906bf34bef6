// Package relay fans database position notifications out to live stream
// subscribers.
//
// One Relay owns one upstream Source. Its producer loop takes raw payloads in
// arrival order, decodes them, drops ids already seen in the current dedup
// Window, and pushes every surviving event into each registered subscriber's
// bounded Buffer. A slow subscriber only ever loses its own oldest events; it
// never stalls the loop or another subscriber.
//
// Lifecycle:
//
//	uninitialized --Start--> listening --Stop / source failure--> stopped
//
// Stopped is terminal. Entering it closes every subscription, so stream
// consumers observe ErrStreamClosed instead of waiting forever.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/metrics"
	"dispatch/internal/types"
)

// sourceCloseTimeout bounds a teardown that runs after Stop has given up
// waiting for the producer loop.
const sourceCloseTimeout = 5 * time.Second

// Source is the upstream notification channel.
type Source interface {
	// Listen issues the one-time subscribe command.
	Listen(ctx context.Context) error
	// Next blocks until the next raw payload arrives. Any error other than
	// ctx cancellation means the source is gone.
	Next(ctx context.Context) (string, error)
	// Close issues the stop-listening command and releases the connection.
	Close(ctx context.Context) error
}

// State is the relay lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateListening
	StateStopped
)

// String returns the lowercase state name used in logs and health output.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateListening:
		return "listening"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config holds the relay dependencies. Source is required; the rest have
// defaults.
type Config struct {
	Source         Source
	Window         *Window
	BufferCapacity int
	Metrics        metrics.Recorder
	Logger         *slog.Logger
}

// Relay is the fan-out relay. All methods are safe for concurrent use.
type Relay struct {
	source   Source
	window   *Window
	capacity int
	metrics  metrics.Recorder
	logger   *slog.Logger

	state atomic.Int32

	// lifecycleMu serializes Start, Run setup and Stop.
	lifecycleMu sync.Mutex
	cancelRun   context.CancelFunc
	runDone     chan struct{}

	mu   sync.RWMutex
	subs map[string]*Subscription

	closeOnce sync.Once
	closeErr  error

	errMu sync.Mutex
	err   error
}

// New creates a relay in the uninitialized state.
func New(cfg Config) (*Relay, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("relay: source must not be nil")
	}
	if cfg.Window == nil {
		cfg.Window = NewWindow(DefaultDedupPeriod, nil)
	}
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = DefaultBufferCapacity
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Relay{
		source:   cfg.Source,
		window:   cfg.Window,
		capacity: cfg.BufferCapacity,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.With("component", "relay"),
		subs:     make(map[string]*Subscription),
	}, nil
}

// State returns the current lifecycle state.
func (r *Relay) State() State {
	return State(r.state.Load())
}

// Err returns the fatal error that stopped the relay, if any.
func (r *Relay) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

// Subscribers returns the number of registered subscriptions.
func (r *Relay) Subscribers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Start issues the subscribe command to the source and moves the relay to
// listening. Calling Start on a listening relay is a no-op. A failed subscribe
// command stops the relay.
func (r *Relay) Start(ctx context.Context) error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	switch r.State() {
	case StateListening:
		return nil
	case StateStopped:
		return types.NewAppError(types.ErrCodeRelayStopped, "relay already stopped", r.Err())
	}

	if err := r.source.Listen(ctx); err != nil {
		appErr := types.NewAppError(types.ErrCodeUpstreamUnavailable, "subscribe command failed", err)
		r.setErr(appErr)
		r.state.Store(int32(StateStopped))
		return appErr
	}

	r.state.Store(int32(StateListening))
	r.logger.Info("relay listening", "buffer_capacity", r.capacity, "dedup_period", r.window.Period())
	return nil
}

// Run is the producer loop. It handles one notification at a time until ctx
// is cancelled or Stop is called, in which case it returns nil, or until the
// source fails, in which case the relay stops, every subscription is closed,
// and an ErrCodeUpstreamConnectionLost error is returned.
func (r *Relay) Run(ctx context.Context) error {
	r.lifecycleMu.Lock()
	switch r.State() {
	case StateUninitialized:
		r.lifecycleMu.Unlock()
		return types.NewAppError(types.ErrCodeRelayNotStarted, "relay has not been started", nil)
	case StateStopped:
		r.lifecycleMu.Unlock()
		return r.Err()
	}
	if r.runDone != nil {
		r.lifecycleMu.Unlock()
		return fmt.Errorf("relay: producer loop already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancelRun = cancel
	r.runDone = done
	r.lifecycleMu.Unlock()

	defer close(done)
	defer cancel()

	for {
		raw, err := r.source.Next(runCtx)
		if err != nil {
			if runCtx.Err() != nil {
				return nil
			}
			return r.fail(err)
		}
		r.process(raw)
	}
}

// Stop issues the teardown command to the source and moves the relay to the
// terminal stopped state. Every open subscription is closed. Stop waits for
// the producer loop to exit, bounded by ctx, and is idempotent. If ctx ends
// first, the source is still closed once the loop returns.
func (r *Relay) Stop(ctx context.Context) error {
	r.lifecycleMu.Lock()
	prev := State(r.state.Swap(int32(StateStopped)))
	cancel, done := r.cancelRun, r.runDone
	r.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.closeSubscribers()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			go func() {
				<-done
				closeCtx, cancel := context.WithTimeout(context.Background(), sourceCloseTimeout)
				defer cancel()
				if err := r.closeSource(closeCtx); err != nil {
					r.logger.Error("deferred source teardown failed", "error", err)
				}
			}()
			return fmt.Errorf("waiting for relay loop to exit: %w", ctx.Err())
		}
	}

	err := r.closeSource(ctx)
	if prev != StateStopped {
		r.logger.Info("relay stopped", "previous_state", prev.String())
	}
	return err
}

// closeSource issues the teardown command exactly once. It must only run
// after the producer loop has exited.
func (r *Relay) closeSource(ctx context.Context) error {
	r.closeOnce.Do(func() {
		if err := r.source.Close(ctx); err != nil {
			r.closeErr = fmt.Errorf("closing notification source: %w", err)
		}
	})
	return r.closeErr
}

// Subscribe registers a new subscriber. It receives only events published
// after this call returns. Subscribing to a stopped relay fails with
// ErrCodeRelayStopped.
func (r *Relay) Subscribe() (*Subscription, error) {
	id := uuid.NewString()
	sub := &Subscription{ID: id, relay: r}
	sub.buf = NewBuffer(r.capacity, func(dropped types.PositionEvent) {
		r.metrics.EventDropped()
		r.logger.Warn("subscriber buffer full, dropped oldest event",
			"subscriber_id", id,
			"event_id", dropped.ID,
		)
	})

	r.mu.Lock()
	if r.State() == StateStopped {
		r.mu.Unlock()
		return nil, types.NewAppError(types.ErrCodeRelayStopped, "position stream is not available", r.Err())
	}
	r.subs[id] = sub
	active := len(r.subs)
	r.mu.Unlock()

	r.metrics.SubscribersChanged(active)
	r.logger.Debug("subscriber registered", "subscriber_id", id, "active", active)
	return sub, nil
}

// Name identifies the relay as a health probe.
func (r *Relay) Name() string {
	return "relay"
}

// Check reports an error unless the relay is listening.
func (r *Relay) Check(_ context.Context) error {
	if s := r.State(); s != StateListening {
		if err := r.Err(); err != nil {
			return fmt.Errorf("relay %s: %w", s, err)
		}
		return fmt.Errorf("relay %s", s)
	}
	return nil
}

// process runs one notification through decode, dedup and fan-out.
func (r *Relay) process(raw string) {
	r.metrics.NotificationReceived()

	ev, err := Decode(raw)
	if err != nil {
		code := types.CodeOf(err)
		r.metrics.DecodeFailed(string(code))
		r.logger.Error("cannot decode position notification",
			"error", err,
			"code", string(code),
			"payload_bytes", len(raw),
		)
		return
	}

	if !r.window.Observe(ev.ID) {
		r.metrics.DuplicateSuppressed()
		r.logger.Debug("duplicate position suppressed", "event", ev)
		return
	}

	delivered := r.publish(ev)
	r.metrics.EventPublished(delivered)
	r.logger.Debug("position published", "event", ev, "subscribers", delivered)
}

// publish pushes ev to every registered subscriber and returns how many there
// were. Pushing under the read lock guarantees a deregistered subscriber
// receives nothing further.
func (r *Relay) publish(ev types.PositionEvent) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, sub := range r.subs {
		sub.buf.Push(ev)
	}
	return len(r.subs)
}

// fail records a fatal source error, stops the relay, and ends every stream.
func (r *Relay) fail(err error) error {
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeUpstreamConnectionLost {
		appErr = types.NewAppError(types.ErrCodeUpstreamConnectionLost, "notification source failed", err)
	}

	r.setErr(appErr)
	r.state.Store(int32(StateStopped))
	r.logger.Error("upstream notification source lost, relay stopping", "error", err)
	r.closeSubscribers()
	return appErr
}

func (r *Relay) setErr(err error) {
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.errMu.Unlock()
}

// closeSubscribers closes and deregisters every subscription.
func (r *Relay) closeSubscribers() {
	r.mu.Lock()
	closed := len(r.subs)
	for id, sub := range r.subs {
		sub.buf.Close()
		delete(r.subs, id)
	}
	r.mu.Unlock()

	if closed > 0 {
		r.metrics.SubscribersChanged(0)
		r.logger.Info("closed subscriber streams", "count", closed)
	}
}

// unsubscribe removes a subscription from the registry.
func (r *Relay) unsubscribe(id string) {
	r.mu.Lock()
	_, ok := r.subs[id]
	delete(r.subs, id)
	active := len(r.subs)
	r.mu.Unlock()

	if ok {
		r.metrics.SubscribersChanged(active)
		r.logger.Debug("subscriber deregistered", "subscriber_id", id, "active", active)
	}
}
