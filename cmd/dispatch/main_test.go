package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"dispatch/internal/relay"
	"dispatch/internal/snapshot"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLogger_RespectsLevel(t *testing.T) {
	logger := newLogger("warn")
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled at warn level")
	}
	if !logger.Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn should be enabled at warn level")
	}
}

func TestCloudWatchEndpoint(t *testing.T) {
	var o cloudwatch.Options
	cloudWatchEndpoint("")(&o)
	if o.BaseEndpoint != nil {
		t.Errorf("empty endpoint set BaseEndpoint to %q", *o.BaseEndpoint)
	}

	cloudWatchEndpoint("http://localhost:4566")(&o)
	if o.BaseEndpoint == nil || *o.BaseEndpoint != "http://localhost:4566" {
		t.Errorf("BaseEndpoint = %v", o.BaseEndpoint)
	}
}

// failingDB answers every query with an error.
type failingDB struct{ err error }

func (f failingDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, f.err
}

func (f failingDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, f.err
}

func (f failingDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func TestSeedTracker_FailureLeavesSnapshotEmpty(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tracker := snapshot.NewTracker(logger)

	seedTracker(context.Background(), tracker, failingDB{err: errors.New("relation does not exist")}, logger)

	if tracker.Len() != 0 {
		t.Errorf("tracker has %d buses after a failed seed", tracker.Len())
	}
}

// idleSource never delivers and counts teardown commands.
type idleSource struct{ closed int }

func (s *idleSource) Listen(context.Context) error { return nil }

func (s *idleSource) Close(context.Context) error {
	s.closed++
	return nil
}

func (s *idleSource) Next(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestStopRelay_ReleasesSourceAfterStart(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	src := &idleSource{}
	rel, err := relay.New(relay.Config{Source: src, Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	if err := rel.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	stopRelay(rel, time.Second, logger)
	if rel.State() != relay.StateStopped {
		t.Errorf("state = %s, want stopped", rel.State())
	}
	if src.closed != 1 {
		t.Errorf("source closed %d times, want 1", src.closed)
	}

	// A second call after a graceful shutdown changes nothing.
	stopRelay(rel, time.Second, logger)
	if src.closed != 1 {
		t.Errorf("source closed %d times after repeat, want 1", src.closed)
	}
}
