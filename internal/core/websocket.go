package core

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"dispatch/internal/types"
)

const (
	// wsWriteWait bounds a single frame write.
	wsWriteWait = 10 * time.Second

	// wsMaxMessageSize caps inbound frames; clients have nothing to send.
	wsMaxMessageSize = 512
)

// HandlePositionSocket serves GET /api/bus/position/ws. Every position is one
// text frame carrying the event JSON. The server pings on every idle
// heartbeat and drops the client when three intervals pass without a pong.
func (s *Server) HandlePositionSocket(w http.ResponseWriter, r *http.Request) {
	sub, err := s.Feed.Subscribe()
	if err != nil {
		Error(w, r, err)
		return
	}
	defer sub.Close()

	// Upgrade writes its own error response on failure.
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	logger := s.Logger.With(
		slog.String("subscriber_id", sub.ID),
		slog.String("transport", "websocket"),
		slog.String("request_id", types.GetRequestID(r.Context())),
	)
	logger.Info("position stream opened")

	heartbeat := s.heartbeatInterval()
	pongWait := 3 * heartbeat

	ctx, cancel := context.WithCancel(types.WithSubscriberID(r.Context(), sub.ID))
	defer cancel()

	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(s.now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(s.now().Add(pongWait))
	})

	// The read pump only processes control frames; any read error means the
	// client is gone.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	err = pumpSubscription(ctx, sub, heartbeat,
		func(ev types.PositionEvent) error {
			_ = conn.SetWriteDeadline(s.now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return err
			}
			logger.Debug("position delivered", "event", ev)
			return nil
		},
		func() error {
			return conn.WriteControl(websocket.PingMessage, nil, s.now().Add(wsWriteWait))
		},
	)

	if errors.Is(err, errStreamEnded) {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "position stream ended")
		_ = conn.WriteControl(websocket.CloseMessage, msg, s.now().Add(wsWriteWait))
	}
	logStreamEnd(logger, err, sub)
}
