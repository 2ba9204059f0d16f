// Herdmap - Cattle Farm Monitoring and Live Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herdmap

package services

import (
	"context"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/herdmap/internal/models"
)

// UpdateSource is the subscription side of the broadcast layer.
type UpdateSource interface {
	Subscribe(ctx context.Context) (<-chan models.LocationUpdate, error)
}

// UpdateSink receives location updates, typically the WebSocket hub.
type UpdateSink interface {
	BroadcastLocation(update models.LocationUpdate)
}

// BroadcastBridgeService forwards location updates from the in-process
// broadcaster to the WebSocket hub. Running it as its own service means a
// stalled bridge restarts with a fresh subscription instead of silently
// starving the dashboard feed.
type BroadcastBridgeService struct {
	source UpdateSource
	sink   UpdateSink
}

// NewBroadcastBridgeService creates a supervised broadcast-to-hub bridge.
func NewBroadcastBridgeService(source UpdateSource, sink UpdateSink) *BroadcastBridgeService {
	return &BroadcastBridgeService{
		source: source,
		sink:   sink,
	}
}

// Serve subscribes to the broadcaster and forwards every update to the sink
// until the context is canceled or the subscription closes.
func (s *BroadcastBridgeService) Serve(ctx context.Context) error {
	updates, err := s.source.Subscribe(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				// Channel closed means the broadcaster shut down. A
				// restart would only fail to resubscribe.
				return suture.ErrDoNotRestart
			}
			s.sink.BroadcastLocation(update)
		}
	}
}

// String names the service in supervisor logs.
func (s *BroadcastBridgeService) String() string {
	return "broadcast-bridge"
}
