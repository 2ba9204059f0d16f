// Herdmap - Cattle Farm Monitoring and Live Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herdmap

package services

import (
	"context"
)

// ContextHub is the interface the WebSocket hub must implement to run under
// supervision.
type ContextHub interface {
	RunWithContext(ctx context.Context) error
}

// WebSocketHubService supervises the WebSocket hub event loop.
type WebSocketHubService struct {
	hub ContextHub
}

// NewWebSocketHubService creates a supervised WebSocket hub service.
func NewWebSocketHubService(hub ContextHub) *WebSocketHubService {
	return &WebSocketHubService{hub: hub}
}

// Serve runs the hub until the context is canceled.
func (s *WebSocketHubService) Serve(ctx context.Context) error {
	return s.hub.RunWithContext(ctx)
}

// String names the service in supervisor logs.
func (s *WebSocketHubService) String() string {
	return "websocket-hub"
}
