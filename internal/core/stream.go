package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"dispatch/internal/relay"
	"dispatch/internal/types"
)

// errStreamEnded reports that the relay closed the subscription.
var errStreamEnded = errors.New("position stream ended")

// pumpSubscription forwards events from sub to deliver until the subscription
// ends, ctx is done or deliver fails. idle runs whenever no event arrived for
// a whole heartbeat interval. It returns errStreamEnded when the relay closed
// the stream, ctx.Err() when the client went away, and the transport error
// otherwise.
func pumpSubscription(
	ctx context.Context,
	sub *relay.Subscription,
	heartbeat time.Duration,
	deliver func(types.PositionEvent) error,
	idle func() error,
) error {
	for {
		waitCtx, cancel := context.WithTimeout(ctx, heartbeat)
		ev, err := sub.Next(waitCtx)
		cancel()

		switch {
		case err == nil:
			if err := deliver(ev); err != nil {
				return err
			}
		case errors.Is(err, relay.ErrStreamClosed):
			return errStreamEnded
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			if err := idle(); err != nil {
				return err
			}
		default:
			return err
		}
	}
}

// HandlePositionStream serves GET /api/bus/position as server-sent events.
// Each position is one unnamed event whose data is the event JSON, so a
// browser EventSource receives it through onmessage. Idle streams carry a
// comment line every heartbeat interval.
func (s *Server) HandlePositionStream(w http.ResponseWriter, r *http.Request) {
	sub, err := s.Feed.Subscribe()
	if err != nil {
		Error(w, r, err)
		return
	}
	defer sub.Close()

	logger := s.Logger.With(
		slog.String("subscriber_id", sub.ID),
		slog.String("transport", "sse"),
		slog.String("request_id", types.GetRequestID(r.Context())),
	)
	ctx := types.WithSubscriberID(r.Context(), sub.ID)

	rc := http.NewResponseController(w)
	// The server WriteTimeout would otherwise cut every stream short.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logger.Warn("cannot clear stream write deadline", "error", err)
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logger.Error("response writer cannot stream", "error", err)
		return
	}
	logger.Info("position stream opened")

	err = pumpSubscription(ctx, sub, s.heartbeatInterval(),
		func(ev types.PositionEvent) error {
			data, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ev.ID, data); err != nil {
				return err
			}
			logger.Debug("position delivered", "event", ev)
			return rc.Flush()
		},
		func() error {
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return err
			}
			return rc.Flush()
		},
	)
	logStreamEnd(logger, err, sub)
}

// logStreamEnd records why a stream finished.
func logStreamEnd(logger *slog.Logger, err error, sub *relay.Subscription) {
	switch {
	case errors.Is(err, errStreamEnded):
		logger.Info("position stream closed by relay")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Info("position stream client disconnected", "pending", sub.Pending())
	default:
		logger.Warn("position stream write failed", "error", err)
	}
}
