package relay

import (
	"context"
	"errors"
	"sync"

	"dispatch/internal/types"
)

// DefaultBufferCapacity is the per-subscriber queue size.
const DefaultBufferCapacity = 1000

// ErrStreamClosed is returned by Pull once the buffer is closed and drained.
var ErrStreamClosed = errors.New("relay: stream closed")

// DropFunc is invoked, outside the buffer lock, for every event evicted by a
// push into a full buffer.
type DropFunc func(dropped types.PositionEvent)

// Buffer is a bounded FIFO of position events between the relay (single
// producer) and one stream consumer.
//
// Push never blocks: when the buffer is full the oldest queued event is
// evicted and reported through the DropFunc. Pull suspends until an event is
// queued, the buffer is closed, or the caller's context ends.
type Buffer struct {
	mu     sync.Mutex
	ring   []types.PositionEvent
	head   int // index of the oldest item
	size   int
	closed bool

	// ready holds at most one pending wake-up for the consumer.
	ready  chan struct{}
	done   chan struct{}
	onDrop DropFunc
}

// NewBuffer creates a buffer holding at most capacity events. A non-positive
// capacity uses DefaultBufferCapacity.
func NewBuffer(capacity int, onDrop DropFunc) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &Buffer{
		ring:   make([]types.PositionEvent, capacity),
		ready:  make(chan struct{}, 1),
		done:   make(chan struct{}),
		onDrop: onDrop,
	}
}

// Push appends ev, evicting the oldest event if the buffer is full.
// Pushing into a closed buffer is a no-op.
func (b *Buffer) Push(ev types.PositionEvent) {
	var (
		dropped    types.PositionEvent
		hasDropped bool
	)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	capacity := len(b.ring)
	if b.size == capacity {
		dropped = b.ring[b.head]
		hasDropped = true
		b.ring[b.head] = types.PositionEvent{}
		b.head = (b.head + 1) % capacity
		b.size--
	}
	b.ring[(b.head+b.size)%capacity] = ev
	b.size++
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}

	if hasDropped && b.onDrop != nil {
		b.onDrop(dropped)
	}
}

// Pull removes and returns the oldest event. Events queued before Close are
// still returned; after that Pull returns ErrStreamClosed. If ctx ends first,
// ctx.Err() is returned.
func (b *Buffer) Pull(ctx context.Context) (types.PositionEvent, error) {
	for {
		b.mu.Lock()
		if b.size > 0 {
			ev := b.ring[b.head]
			b.ring[b.head] = types.PositionEvent{}
			b.head = (b.head + 1) % len(b.ring)
			b.size--
			b.mu.Unlock()
			return ev, nil
		}
		closed := b.closed
		b.mu.Unlock()

		if closed {
			return types.PositionEvent{}, ErrStreamClosed
		}

		select {
		case <-b.ready:
		case <-b.done:
		case <-ctx.Done():
			return types.PositionEvent{}, ctx.Err()
		}
	}
}

// Close ends the stream. It is safe to call more than once.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}

// Done is closed when the buffer is closed.
func (b *Buffer) Done() <-chan struct{} {
	return b.done
}

// Len returns the number of queued events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int {
	return len(b.ring)
}

// Snapshot returns the queued events, oldest first, without consuming them.
func (b *Buffer) Snapshot() []types.PositionEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]types.PositionEvent, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.ring[(b.head+i)%len(b.ring)]
	}
	return out
}
