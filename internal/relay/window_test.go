package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestWindow_Observe(t *testing.T) {
	w := NewWindow(time.Second, nil)

	assert.True(t, w.Observe(1))
	assert.True(t, w.Observe(2))
	assert.False(t, w.Observe(1))
	assert.True(t, w.Observe(3))
	assert.Equal(t, 3, w.Len())
}

func TestWindow_ResetForgetsIDs(t *testing.T) {
	w := NewWindow(time.Second, nil)

	require.True(t, w.Observe(1))
	w.Reset()
	assert.Equal(t, 0, w.Len())
	assert.True(t, w.Observe(1))
}

func TestWindow_Defaults(t *testing.T) {
	w := NewWindow(0, nil)
	assert.Equal(t, DefaultDedupPeriod, w.Period())
}

func TestWindow_ConcurrentObserveAdmitsOnce(t *testing.T) {
	w := NewWindow(time.Second, nil)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.Observe(99) {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, admitted)
}

func TestWindow_RunResetsEveryPeriod(t *testing.T) {
	defer goleak.VerifyNone(t)

	clk := testclock.NewClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	w := NewWindow(time.Second, clk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.True(t, w.Observe(1))
	require.False(t, w.Observe(1))

	require.NoError(t, clk.WaitAdvance(time.Second, time.Second, 1))
	assert.Eventually(t, func() bool { return w.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, w.Observe(1))

	// A second period clears again.
	require.NoError(t, clk.WaitAdvance(time.Second, time.Second, 1))
	assert.Eventually(t, func() bool { return w.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
