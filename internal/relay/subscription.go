package relay

import (
	"context"
	"sync"

	"dispatch/internal/types"
)

// Subscription is one downstream consumer of the relay. It is owned by the
// stream that created it: the relay only pushes into it, the owner only pulls.
type Subscription struct {
	ID string

	buf   *Buffer
	relay *Relay
	once  sync.Once
}

// Next returns the next event, blocking until one is published, the
// subscription ends (ErrStreamClosed) or ctx is done.
func (s *Subscription) Next(ctx context.Context) (types.PositionEvent, error) {
	return s.buf.Pull(ctx)
}

// Close deregisters the subscription and ends its stream. It is idempotent
// and never blocks on the producer.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.relay.unsubscribe(s.ID)
		s.buf.Close()
	})
}

// Done is closed once the subscription has ended, whether through Close or
// because the relay stopped.
func (s *Subscription) Done() <-chan struct{} {
	return s.buf.Done()
}

// Pending returns the number of events queued and not yet consumed.
func (s *Subscription) Pending() int {
	return s.buf.Len()
}
