package core

import (
	"net/http"
	"time"

	"dispatch/internal/types"
)

// HandleLatestPositions serves GET /api/bus/position/latest: the newest known
// position of every bus, ordered by bus id.
func (s *Server) HandleLatestPositions(w http.ResponseWriter, r *http.Request) {
	if s.Snapshot == nil {
		Error(w, r, types.NewAppError(types.ErrCodeUpstreamUnavailable, "position snapshot is not enabled", nil))
		return
	}

	latest := s.Snapshot.Latest()
	meta := &ResponseMeta{Count: len(latest)}
	if ts := s.Snapshot.UpdatedAt(); !ts.IsZero() {
		meta.UpdatedAt = ts.UTC().Format(time.RFC3339Nano)
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: latest, Meta: meta})
}

// HandleGTFSRealtime serves GET /api/bus/position/gtfsrt: the snapshot as a
// binary GTFS-Realtime vehicle positions feed.
func (s *Server) HandleGTFSRealtime(w http.ResponseWriter, r *http.Request) {
	if s.Snapshot == nil {
		Error(w, r, types.NewAppError(types.ErrCodeUpstreamUnavailable, "position snapshot is not enabled", nil))
		return
	}

	body, err := s.Snapshot.MarshalFeed(s.now())
	if err != nil {
		s.Logger.Error("cannot encode gtfs-realtime feed", "error", err)
		Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode feed", err))
		return
	}

	w.Header().Set("Content-Type", "application/x-protobuf")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
