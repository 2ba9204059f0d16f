// Herdmap - Cattle Farm Monitoring and Live Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herdmap

package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/herdmap/internal/models"
)

// mockUpdateSource feeds a pre-made channel to the bridge.
type mockUpdateSource struct {
	ch           chan models.LocationUpdate
	subscribeErr error
}

func (m *mockUpdateSource) Subscribe(ctx context.Context) (<-chan models.LocationUpdate, error) {
	if m.subscribeErr != nil {
		return nil, m.subscribeErr
	}
	return m.ch, nil
}

// mockUpdateSink records forwarded updates.
type mockUpdateSink struct {
	mu      sync.Mutex
	updates []models.LocationUpdate
}

func (m *mockUpdateSink) BroadcastLocation(update models.LocationUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, update)
}

func (m *mockUpdateSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.updates)
}

func TestBroadcastBridgeService_Interface(t *testing.T) {
	var _ suture.Service = (*BroadcastBridgeService)(nil)
}

func TestBroadcastBridgeService_Serve(t *testing.T) {
	t.Run("forwards updates to the sink", func(t *testing.T) {
		source := &mockUpdateSource{ch: make(chan models.LocationUpdate, 4)}
		sink := &mockUpdateSink{}
		svc := NewBroadcastBridgeService(source, sink)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		errCh := make(chan error, 1)
		go func() {
			errCh <- svc.Serve(ctx)
		}()

		source.ch <- models.LocationUpdate{EntityKey: "animal:1"}
		source.ch <- models.LocationUpdate{EntityKey: "animal:2"}

		deadline := time.Now().Add(time.Second)
		for sink.count() < 2 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if sink.count() != 2 {
			t.Fatalf("expected 2 forwarded updates, got %d", sink.count())
		}

		cancel()
		if err := <-errCh; !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("returns subscribe error", func(t *testing.T) {
		source := &mockUpdateSource{subscribeErr: errors.New("broadcaster is closed")}
		svc := NewBroadcastBridgeService(source, &mockUpdateSink{})

		err := svc.Serve(context.Background())
		if err == nil || err.Error() != "broadcaster is closed" {
			t.Errorf("expected subscribe error, got %v", err)
		}
	})

	t.Run("stops without restart when channel closes", func(t *testing.T) {
		source := &mockUpdateSource{ch: make(chan models.LocationUpdate)}
		svc := NewBroadcastBridgeService(source, &mockUpdateSink{})

		errCh := make(chan error, 1)
		go func() {
			errCh <- svc.Serve(context.Background())
		}()

		time.Sleep(20 * time.Millisecond)
		close(source.ch)

		select {
		case err := <-errCh:
			if !errors.Is(err, suture.ErrDoNotRestart) {
				t.Errorf("expected ErrDoNotRestart, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("Serve did not return after channel close")
		}
	})
}
