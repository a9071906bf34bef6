// Package snapshot keeps the most recent position of every bus, fed from a
// relay subscription, and renders it as JSON or as a GTFS-Realtime
// VehiclePositions feed.
package snapshot

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"dispatch/internal/relay"
	"dispatch/internal/types"
)

// Stream is the consumer side of a relay subscription.
type Stream interface {
	Next(ctx context.Context) (types.PositionEvent, error)
}

// Tracker is safe for concurrent use.
type Tracker struct {
	logger *slog.Logger

	mu      sync.RWMutex
	latest  map[string]types.PositionEvent
	updated time.Time
}

func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		logger: logger.With("component", "snapshot"),
		latest: make(map[string]types.PositionEvent),
	}
}

// Seed applies stored positions, typically loaded before the live stream
// starts.
func (t *Tracker) Seed(events []types.PositionEvent) {
	applied := 0
	for _, ev := range events {
		if t.Apply(ev) {
			applied++
		}
	}
	t.logger.Info("snapshot seeded", "positions", applied)
}

// Apply records ev as the bus's current position unless it is older than the
// one already held. Events without a bus id are ignored. It reports whether
// the snapshot changed.
func (t *Tracker) Apply(ev types.PositionEvent) bool {
	if ev.BusID == nil || *ev.BusID == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.latest[*ev.BusID]; ok && !newer(ev, cur) {
		return false
	}
	t.latest[*ev.BusID] = ev
	t.updated = time.Now()
	return true
}

// newer reports whether a supersedes b. Creation times decide when both are
// known; otherwise the higher id wins, ids being assigned in insert order.
func newer(a, b types.PositionEvent) bool {
	if a.CreationTime != nil && b.CreationTime != nil && !a.CreationTime.Equal(*b.CreationTime) {
		return a.CreationTime.After(*b.CreationTime)
	}
	return a.ID >= b.ID
}

// Run applies every event from stream until ctx ends or the stream closes.
func (t *Tracker) Run(ctx context.Context, stream Stream) error {
	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, relay.ErrStreamClosed) {
				t.logger.Info("position stream closed, snapshot frozen")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		t.Apply(ev)
	}
}

// Latest returns the current position of every bus, ordered by bus id.
func (t *Tracker) Latest() []types.PositionEvent {
	t.mu.RLock()
	out := make([]types.PositionEvent, 0, len(t.latest))
	for _, ev := range t.latest {
		out = append(out, ev)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return *out[i].BusID < *out[j].BusID })
	return out
}

// Len returns the number of buses tracked.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.latest)
}

// UpdatedAt returns when the snapshot last changed; zero if never.
func (t *Tracker) UpdatedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.updated
}
