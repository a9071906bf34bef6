// Package main is the entry point for the dispatch position relay.
//
// It loads the configuration, connects to PostgreSQL, installs the
// bus_position notify trigger, and starts the relay that fans every
// notification out to the live HTTP streams. The relay, the dedup window
// reset, the snapshot tracker, the optional CloudWatch publisher and the HTTP
// server run under one errgroup: the first to fail, or SIGINT/SIGTERM, shuts
// all of them down.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"dispatch/internal/config"
	"dispatch/internal/core"
	"dispatch/internal/db"
	"dispatch/internal/metrics"
	"dispatch/internal/relay"
	"dispatch/internal/snapshot"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(nil)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel).With("service", cfg.Service)
	logger.Info("dispatch starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"channel", cfg.Relay.Channel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:            cfg.Database.URL,
		MaxConns:       cfg.Database.MaxConns,
		MinConns:       cfg.Database.MinConns,
		ConnectRetries: cfg.Database.ConnectRetries,
		RetryDelay:     cfg.Database.ConnectRetryDelay,
	}, logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	if cfg.Database.InstallTrigger {
		if _, err := db.InstallNotifyTrigger(ctx, pool, cfg.Relay.Channel, logger); err != nil {
			return fmt.Errorf("installing notify trigger: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	relayMetrics := metrics.NewCollector()
	httpMetrics := metrics.NewHTTPCollector()
	registry.MustRegister(relayMetrics, httpMetrics)

	recorder := metrics.Multi{relayMetrics}
	var publisher *metrics.CloudWatchPublisher
	if cfg.Observability.CloudWatchEnabled {
		client, err := newCloudWatchClient(ctx, cfg.AWS)
		if err != nil {
			return fmt.Errorf("configuring cloudwatch: %w", err)
		}
		publisher = metrics.NewCloudWatchPublisher(client, metrics.CloudWatchConfig{
			Namespace: cfg.Observability.MetricNamespace,
			Channel:   cfg.Relay.Channel,
			Logger:    logger,
		})
		recorder = append(recorder, publisher)
	}

	window := relay.NewWindow(cfg.Relay.DedupWindow, clock.WallClock)
	rel, err := relay.New(relay.Config{
		Source:         db.NewListener(pool, cfg.Relay.Channel, logger),
		Window:         window,
		BufferCapacity: cfg.Relay.BufferSize,
		Metrics:        recorder,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}
	if err := rel.Start(ctx); err != nil {
		return fmt.Errorf("starting relay: %w", err)
	}
	// pool.Close does not reach the hijacked LISTEN connection.
	defer stopRelay(rel, cfg.Server.ShutdownTimeout, logger)

	// The tracker subscribes before seeding so no insert between the seed
	// query and the first notification is missed.
	tracker := snapshot.NewTracker(logger)
	trackerSub, err := rel.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribing snapshot tracker: %w", err)
	}
	if cfg.Database.SeedSnapshot {
		seedTracker(ctx, tracker, pool, logger)
	}

	srv, err := core.NewServer(cfg, rel, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Snapshot = tracker
	srv.Gatherer = registry
	srv.Metrics = httpMetrics
	srv.HealthProbes = []core.HealthProbe{db.PoolProbe{Pool: pool}, rel}
	srv.MountRoutes()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rel.Run(gctx) })
	g.Go(func() error { return window.Run(gctx) })
	g.Go(func() error {
		defer trackerSub.Close()
		return tracker.Run(gctx, trackerSub)
	})
	if publisher != nil {
		g.Go(func() error { return publisher.Run(gctx, cfg.Observability.MetricFlushInterval) })
	}
	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdown(rel, httpServer, cfg.Server.ShutdownTimeout, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("dispatch stopped with error", "error", err)
		return err
	}
	logger.Info("dispatch stopped cleanly")
	return nil
}

// shutdown stops the relay first so every open stream ends, then drains the
// HTTP server.
func shutdown(rel *relay.Relay, httpServer *http.Server, timeout time.Duration, logger *slog.Logger) {
	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := rel.Stop(ctx); err != nil {
		logger.Error("relay shutdown error", "error", err)
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
}

// stopRelay tears the relay down on every exit path after Start. After a
// graceful shutdown it is a no-op.
func stopRelay(rel *relay.Relay, timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := rel.Stop(ctx); err != nil {
		logger.Error("relay teardown error", "error", err)
	}
}

// seedTracker primes the snapshot from the table. A failure leaves the
// snapshot to fill from live events.
func seedTracker(ctx context.Context, tracker *snapshot.Tracker, pool db.DBTX, logger *slog.Logger) {
	events, err := db.LatestPositions(ctx, pool)
	if err != nil {
		logger.Warn("cannot seed position snapshot", "error", err)
		return
	}
	tracker.Seed(events)
	logger.Info("position snapshot seeded", "buses", tracker.Len())
}

// newCloudWatchClient builds a CloudWatch client from the default credential
// chain. A non-empty endpoint overrides the service URL (LocalStack).
func newCloudWatchClient(ctx context.Context, cfg config.AWSConfig) (*cloudwatch.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, err
	}
	return cloudwatch.NewFromConfig(awsCfg, cloudWatchEndpoint(cfg.EndpointURL)), nil
}

func cloudWatchEndpoint(endpoint string) func(*cloudwatch.Options) {
	return func(o *cloudwatch.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}
}

// newLogger creates the JSON logger for the given level.
func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
