// Herdmap - Cattle Farm Monitoring and Live Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herdmap

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/herdmap/internal/logging"
	"github.com/tomtom215/herdmap/internal/metrics"
)

// Stream handles GET /api/v1/gps/stream, the SSE live feed.
//
// Each location update is written as `data: <json>` followed by a blank
// line. Idle connections get a `: keep-alive` comment every heartbeat
// interval so proxies do not drop them. There is no replay: the client
// only sees updates published while it is connected.
//
// Teardown is driven by the request context: client disconnect cancels the
// broadcast subscription and stops the heartbeat timer. A write failure
// tears the connection down the same way.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "STREAM_UNSUPPORTED", "Streaming is not supported on this connection", nil)
		return
	}

	updates, err := h.broadcaster.Subscribe(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "STREAM_UNAVAILABLE", "Live stream is shutting down", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.SSEConnectionsTotal.Inc()
	metrics.SSEConnectionsActive.Inc()
	defer metrics.SSEConnectionsActive.Dec()

	logging.Info().Str("remote", r.RemoteAddr).Msg("SSE stream opened")
	defer logging.Info().Str("remote", r.RemoteAddr).Msg("SSE stream closed")

	heartbeat := time.NewTicker(h.config.Stream.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case update, ok := <-updates:
			if !ok {
				// Broadcaster shut down.
				return
			}
			payload, err := json.Marshal(update)
			if err != nil {
				logging.Warn().Err(err).Msg("Skipping unencodable location update")
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
			metrics.SSEHeartbeatsTotal.Inc()
		}
	}
}
