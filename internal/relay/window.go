package relay

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
)

// DefaultDedupPeriod is how long an id is remembered before the window is
// cleared.
const DefaultDedupPeriod = time.Second

// Window is the deduplication window: the set of event ids seen since the
// last reset. Observe and Reset are safe for concurrent use; a Reset that
// lands between two Observe calls for the same id only lets that id pass
// once more.
type Window struct {
	mu     sync.Mutex
	seen   map[int64]struct{}
	period time.Duration
	clock  clock.Clock
}

// NewWindow creates an empty window that Run clears every period.
// A nil clock uses the wall clock; a non-positive period uses DefaultDedupPeriod.
func NewWindow(period time.Duration, clk clock.Clock) *Window {
	if period <= 0 {
		period = DefaultDedupPeriod
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Window{
		seen:   make(map[int64]struct{}),
		period: period,
		clock:  clk,
	}
}

// Observe records id and reports whether it is the first occurrence in the
// current window. A false result means the event is a duplicate.
func (w *Window) Observe(id int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.seen[id]; ok {
		return false
	}
	w.seen[id] = struct{}{}
	return true
}

// Reset forgets every recorded id.
func (w *Window) Reset() {
	w.mu.Lock()
	w.seen = make(map[int64]struct{})
	w.mu.Unlock()
}

// Len returns the number of ids recorded in the current window.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

// Period returns the reset interval.
func (w *Window) Period() time.Duration {
	return w.period
}

// Run clears the window every period until ctx is cancelled. It always
// returns nil so it can run inside an errgroup without tearing it down.
func (w *Window) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.clock.After(w.period):
			w.Reset()
		}
	}
}
