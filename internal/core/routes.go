package core

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dispatch/internal/types"
)

// defaultRequestTimeout applies when the configuration leaves RequestTimeout
// unset.
const defaultRequestTimeout = 30 * time.Second

// defaultRedactedHeaders lists header names whose values are masked in
// request logs.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
	"Sec-WebSocket-Key",
}

// MountRoutes registers the global middleware chain and every route.
//
// Stream routes stay outside the request timeout group: a position stream
// lives until the client or the relay ends it.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	s.router.Get("/api/bus/position", s.HandlePositionStream)
	s.router.Get("/api/bus/position/ws", s.HandlePositionSocket)

	s.router.Group(func(r chi.Router) {
		r.Use(ContextTimeoutMiddleware(s.requestTimeout()))

		r.Get("/api/bus/position/latest", s.HandleLatestPositions)
		r.Get("/api/bus/position/gtfsrt", s.HandleGTFSRealtime)
		r.Get("/health", s.HandleHealth)
		if s.Gatherer != nil {
			r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
		}
	})
}

// registerGlobalMiddleware applies middleware in strict order.
//
//  1. Recoverer        - outermost, catches every panic.
//  2. RequestID        - correlation id for logs and error bodies.
//  3. SecurityHeaders
//  4. RequestLogger    - redacted headers.
//  5. CORS             - answers preflight before any handler runs.
//  6. Metrics
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))
	s.router.Use(s.MetricsMiddleware)
}

func (s *Server) requestTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.RequestTimeout > 0 {
		return s.Config.Server.RequestTimeout
	}
	return defaultRequestTimeout
}

// corsAllowedOrigins returns the CORS allowed origins from configuration.
func (s *Server) corsAllowedOrigins() []string {
	if s.Config != nil && len(s.Config.Security.CorsAllowedOrigins) > 0 {
		return s.Config.Security.CorsAllowedOrigins
	}
	return []string{"*"}
}

// heartbeatInterval is how often an idle stream is pinged.
func (s *Server) heartbeatInterval() time.Duration {
	if s.Config != nil && s.Config.Stream.HeartbeatInterval > 0 {
		return s.Config.Stream.HeartbeatInterval
	}
	return 15 * time.Second
}

// ContextTimeoutMiddleware sets a deadline on the request context. Handlers
// observe it through the cancelled context.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware reuses an incoming X-Request-Id or generates a new one,
// stores it in the context and echoes it in the response header.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := types.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
