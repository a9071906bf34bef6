package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPCollector records request counts and latencies per route.
type HTTPCollector struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var _ prometheus.Collector = (*HTTPCollector)(nil)

func NewHTTPCollector() *HTTPCollector {
	return &HTTPCollector{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dispatch_http",
				Name:      "requests_total",
				Help:      "The number of HTTP requests served.",
			}, []string{"method", "route", "status"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dispatch_http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency. Streams are observed when they end.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method", "route"},
		),
	}
}

// RecordRequest counts one completed request.
func (c *HTTPCollector) RecordRequest(method, route, status string, duration time.Duration) {
	c.requests.WithLabelValues(method, route, status).Inc()
	c.latency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Describe is part of the prometheus.Collector interface.
func (c *HTTPCollector) Describe(ch chan<- *prometheus.Desc) {
	c.requests.Describe(ch)
	c.latency.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *HTTPCollector) Collect(ch chan<- prometheus.Metric) {
	c.requests.Collect(ch)
	c.latency.Collect(ch)
}
