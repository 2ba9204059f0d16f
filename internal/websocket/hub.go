// Herdmap - Cattle Farm Monitoring and Live Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herdmap

// Package websocket provides the live dashboard feed: a hub fanning out
// location updates to connected WebSocket clients. The hub consumes the
// same broadcast channel as the SSE endpoint, so both surfaces always
// show the same herd state.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/herdmap/internal/logging"
	"github.com/tomtom215/herdmap/internal/metrics"
	"github.com/tomtom215/herdmap/internal/models"
)

// Message types for WebSocket communication
const (
	MessageTypeLocation = "location"
	MessageTypePing     = "ping"
	MessageTypePong     = "pong"
)

// Message represents a WebSocket message
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub maintains the set of active clients and broadcasts location updates
// to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// RunWithContext runs the hub until ctx is canceled, then closes all
// clients and returns ctx.Err(). Designed for suture supervision: the
// supervisor can restart the hub without leaving orphaned connections.
//
// Client lifecycle events take priority over broadcasts so client state
// is consistent before messages are delivered.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		// Priority 1: shutdown check (non-blocking)
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		default:
		}

		// Priority 2: client lifecycle events (non-blocking)
		select {
		case client := <-h.Register:
			h.registerClient(client)
			continue
		case client := <-h.Unregister:
			h.unregisterClient(client)
			continue
		default:
		}

		// Priority 3: broadcasts, or block until any event arrives
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case client := <-h.Register:
			h.registerClient(client)
		case client := <-h.Unregister:
			h.unregisterClient(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnectionsActive.Inc()
	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		metrics.WSConnectionsActive.Dec()
	}
	total := len(h.clients)
	h.mu.Unlock()

	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

// BroadcastLocation queues one location update for delivery to all clients.
// Non-blocking: if the hub's queue is full the update is dropped, matching
// the no-replay contract of the live feed.
func (h *Hub) BroadcastLocation(update models.LocationUpdate) {
	message := Message{
		Type: MessageTypeLocation,
		Data: update,
	}

	select {
	case h.broadcast <- message:
	default:
		metrics.BroadcastDrops.Inc()
		logging.Warn().Str("entity_key", string(update.EntityKey)).Msg("websocket broadcast queue full, dropping update")
	}
}

// broadcastToClients sends a message to all connected clients. Clients are
// iterated in ID order so delivery order is deterministic. A client whose
// send buffer is full is disconnected rather than allowed to stall the rest.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
			metrics.WSMessagesSent.Inc()
		default:
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
		metrics.WSConnectionsActive.Dec()
	}
}

// shutdown closes all connected clients in ID order.
func (h *Hub) shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
		metrics.WSConnectionsActive.Dec()
	}
	total := len(clients)
	h.mu.Unlock()

	logging.Info().
		Str("component", "websocket-hub").
		Int("clients_closed", total).
		Msg("websocket hub stopped")
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
