package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "dispatch_relay"

// Collector is a prometheus.Collector that also implements Recorder, so the
// relay can feed it directly.
type Collector struct {
	notificationsReceived prometheus.Counter
	decodeFailures        *prometheus.CounterVec
	duplicatesSuppressed  prometheus.Counter
	eventsPublished       prometheus.Counter
	eventsDelivered       prometheus.Counter
	eventsDropped         prometheus.Counter
	activeSubscribers     prometheus.Gauge
}

var (
	_ Recorder             = (*Collector)(nil)
	_ prometheus.Collector = (*Collector)(nil)
)

// NewCollector returns a new Collector. Register it with a
// prometheus.Registerer to expose it.
func NewCollector() *Collector {
	return &Collector{
		notificationsReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "notifications_received_total",
				Help:      "The number of raw notifications taken from the database channel.",
			},
		),
		decodeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "decode_failures_total",
				Help:      "The number of notifications that could not be decoded.",
			}, []string{"code"},
		),
		duplicatesSuppressed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "duplicates_suppressed_total",
				Help:      "The number of events suppressed by the dedup window.",
			},
		),
		eventsPublished: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "events_published_total",
				Help:      "The number of distinct events fanned out.",
			},
		),
		eventsDelivered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "events_enqueued_total",
				Help:      "The number of events pushed into subscriber buffers.",
			},
		),
		eventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "events_dropped_total",
				Help:      "The number of events evicted from full subscriber buffers.",
			},
		),
		activeSubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_subscribers",
				Help:      "The number of connected stream subscribers.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.notificationsReceived.Describe(ch)
	c.decodeFailures.Describe(ch)
	c.duplicatesSuppressed.Describe(ch)
	c.eventsPublished.Describe(ch)
	c.eventsDelivered.Describe(ch)
	c.eventsDropped.Describe(ch)
	c.activeSubscribers.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.notificationsReceived.Collect(ch)
	c.decodeFailures.Collect(ch)
	c.duplicatesSuppressed.Collect(ch)
	c.eventsPublished.Collect(ch)
	c.eventsDelivered.Collect(ch)
	c.eventsDropped.Collect(ch)
	c.activeSubscribers.Collect(ch)
}

func (c *Collector) NotificationReceived() {
	c.notificationsReceived.Inc()
}

func (c *Collector) DecodeFailed(code string) {
	c.decodeFailures.WithLabelValues(code).Inc()
}

func (c *Collector) DuplicateSuppressed() {
	c.duplicatesSuppressed.Inc()
}

func (c *Collector) EventPublished(subscribers int) {
	c.eventsPublished.Inc()
	c.eventsDelivered.Add(float64(subscribers))
}

func (c *Collector) EventDropped() {
	c.eventsDropped.Inc()
}

func (c *Collector) SubscribersChanged(active int) {
	c.activeSubscribers.Set(float64(active))
}
