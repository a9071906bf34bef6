package core

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"dispatch/internal/types"
)

func dialPositions(t *testing.T, ts *httptest.Server, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/bus/position/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func TestPositionSocket_DeliversEvents(t *testing.T) {
	rel, src := startRelay(t)
	srv := newTestServer(t, rel)
	srv.MountRoutes()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	conn, _, err := dialPositions(t, ts, http.Header{"Origin": {"http://localhost:5173"}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitForSubscribers(t, rel, 1)

	publish(t, src, `{"id":11,"busId":"7","isBusStop":true}`)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev types.PositionEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ev.ID != 11 || ev.IsBusStop == nil || !*ev.IsBusStop {
		t.Errorf("event = %+v", ev)
	}
}

func TestPositionSocket_RejectsUnknownOrigin(t *testing.T) {
	rel, _ := startRelay(t)
	srv := newTestServer(t, rel)
	srv.MountRoutes()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	_, resp, err := dialPositions(t, ts, http.Header{"Origin": {"http://evil.example"}})
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("dial error = %v, want ErrBadHandshake", err)
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("handshake response = %v, want 403", resp)
	}
	waitForSubscribers(t, rel, 0)
}

func TestPositionSocket_PingsWhenIdle(t *testing.T) {
	rel, _ := startRelay(t)
	srv := newTestServer(t, rel)
	srv.Config.Stream.HeartbeatInterval = 20 * time.Millisecond
	srv.MountRoutes()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	conn, _, err := dialPositions(t, ts, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(5 * time.Second):
		t.Fatal("no ping received from an idle stream")
	}
}

func TestPositionSocket_CloseFrameWhenRelayStops(t *testing.T) {
	rel, _ := startRelay(t)
	srv := newTestServer(t, rel)
	srv.MountRoutes()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	conn, _, err := dialPositions(t, ts, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitForSubscribers(t, rel, 1)

	if err := rel.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read error = %v, want close 1001", err)
	}
}

func TestPositionSocket_ClientCloseUnsubscribes(t *testing.T) {
	rel, _ := startRelay(t)
	srv := newTestServer(t, rel)
	srv.MountRoutes()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	conn, _, err := dialPositions(t, ts, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitForSubscribers(t, rel, 1)

	conn.Close()
	waitForSubscribers(t, rel, 0)
}
