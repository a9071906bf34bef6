// Package metrics records relay observability signals.
//
// The relay talks to a Recorder. Collector exposes the signals to Prometheus;
// CloudWatchPublisher aggregates them and ships the deltas to CloudWatch on a
// fixed interval. Multi fans one Recorder call out to several backends.
package metrics

// Metric names shared by every backend.
const (
	MetricNotificationsReceived = "NotificationsReceived"
	MetricDecodeFailures        = "DecodeFailures"
	MetricDuplicatesSuppressed  = "DuplicatesSuppressed"
	MetricEventsPublished       = "EventsPublished"
	MetricEventsDelivered       = "EventsDelivered"
	MetricEventsDropped         = "EventsDropped"
	MetricActiveSubscribers     = "ActiveSubscribers"
)

// Recorder receives relay signals. Implementations must be safe for
// concurrent use and must not block: they are called from the producer loop.
type Recorder interface {
	// NotificationReceived counts one raw payload taken from the source.
	NotificationReceived()
	// DecodeFailed counts one payload rejected by the decoder, by error code.
	DecodeFailed(code string)
	// DuplicateSuppressed counts one event dropped by the dedup window.
	DuplicateSuppressed()
	// EventPublished counts one event fanned out to the given number of
	// subscribers.
	EventPublished(subscribers int)
	// EventDropped counts one event evicted from a full subscriber buffer.
	EventDropped()
	// SubscribersChanged reports the current number of subscribers.
	SubscribersChanged(active int)
}

// Nop discards every signal.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) NotificationReceived()  {}
func (Nop) DecodeFailed(string)    {}
func (Nop) DuplicateSuppressed()   {}
func (Nop) EventPublished(int)     {}
func (Nop) EventDropped()          {}
func (Nop) SubscribersChanged(int) {}

// Multi forwards every signal to each of its recorders in order.
type Multi []Recorder

var _ Recorder = Multi(nil)

func (m Multi) NotificationReceived() {
	for _, r := range m {
		r.NotificationReceived()
	}
}

func (m Multi) DecodeFailed(code string) {
	for _, r := range m {
		r.DecodeFailed(code)
	}
}

func (m Multi) DuplicateSuppressed() {
	for _, r := range m {
		r.DuplicateSuppressed()
	}
}

func (m Multi) EventPublished(subscribers int) {
	for _, r := range m {
		r.EventPublished(subscribers)
	}
}

func (m Multi) EventDropped() {
	for _, r := range m {
		r.EventDropped()
	}
}

func (m Multi) SubscribersChanged(active int) {
	for _, r := range m {
		r.SubscribersChanged(active)
	}
}
