// Package core provides the HTTP chassis for the dispatch service. It mounts
// the live position streams (server-sent events and WebSocket), the snapshot
// endpoints and the operational routes on a chi router, and enforces the
// cross-cutting concerns (panic recovery, request ids, logging, CORS and
// metrics) before requests reach a handler.
package core

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"dispatch/internal/config"
	"dispatch/internal/relay"
	"dispatch/internal/types"
)

// MetricsCollector records per-request telemetry.
type MetricsCollector interface {
	RecordRequest(method, route, status string, duration time.Duration)
}

// PositionFeed hands out live subscriptions. *relay.Relay satisfies it.
type PositionFeed interface {
	Subscribe() (*relay.Subscription, error)
}

// PositionSnapshot exposes the latest known position per bus.
// *snapshot.Tracker satisfies it.
type PositionSnapshot interface {
	Latest() []types.PositionEvent
	UpdatedAt() time.Time
	MarshalFeed(now time.Time) ([]byte, error)
}

// Server holds every dependency of the HTTP layer so tests can inject fakes.
type Server struct {
	Config       *config.Config
	Feed         PositionFeed
	Snapshot     PositionSnapshot
	Gatherer     prometheus.Gatherer
	Metrics      MetricsCollector
	HealthProbes []HealthProbe
	Logger       *slog.Logger

	now      func() time.Time
	upgrader websocket.Upgrader
	router   *chi.Mux
}

// NewServer validates the critical dependencies and prepares an empty router.
// Optional collaborators (Snapshot, Gatherer, Metrics, HealthProbes) are set
// on the returned struct before MountRoutes is called.
func NewServer(cfg *config.Config, feed PositionFeed, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if feed == nil {
		return nil, fmt.Errorf("position feed must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config: cfg,
		Feed:   feed,
		Logger: logger,
		now:    time.Now,
		router: chi.NewRouter(),
	}
	s.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  4096,
		CheckOrigin:      originChecker(s.corsAllowedOrigins()),
	}
	return s, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}
