// Herdmap - Cattle Farm Monitoring and Live Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herdmap

// Package api provides the HTTP surface of Herdmap: GPS ingestion, the
// SSE live stream, the snapshot and history readers, the WebSocket feed,
// and health endpoints. Routing uses Chi with go-chi middleware.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/herdmap/internal/broadcast"
	"github.com/tomtom215/herdmap/internal/config"
	"github.com/tomtom215/herdmap/internal/database"
	ws "github.com/tomtom215/herdmap/internal/websocket"
)

// Handler contains dependencies for API handlers
//
// Handler methods are split across files:
//   - handlers.go: Handler struct and constructor (this file)
//   - handlers_helpers.go: shared response and validation helpers
//   - handlers_gps.go: ingestion, history and snapshot endpoints
//   - handlers_stream.go: SSE live stream endpoint
//   - handlers_ws.go: WebSocket endpoint
//   - handlers_health.go: health and probe endpoints
type Handler struct {
	db          *database.DB
	config      *config.Config
	broadcaster *broadcast.Broadcaster
	wsHub       *ws.Hub
	startTime   time.Time
}

// NewHandler creates a new API handler.
//
// Dependencies:
//   - db: the position store
//   - cfg: application configuration
//   - broadcaster: the in-process fan-out channel; ingestion publishes to
//     it, the SSE stream subscribes to it
//   - wsHub: the WebSocket hub (fed from the same broadcaster by the
//     composition root)
func NewHandler(db *database.DB, cfg *config.Config, broadcaster *broadcast.Broadcaster, wsHub *ws.Hub) *Handler {
	return &Handler{
		db:          db,
		config:      cfg,
		broadcaster: broadcaster,
		wsHub:       wsHub,
		startTime:   time.Now(),
	}
}

// getUpgrader creates a WebSocket upgrader. Origins are checked against
// the configured CORS origins; "*" allows all.
func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range h.config.Security.CORSOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}
}
