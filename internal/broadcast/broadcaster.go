// Herdmap - Cattle Farm Monitoring and Live Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herdmap

// Package broadcast provides the in-process fan-out channel for live
// location updates, built on Watermill's GoChannel pub/sub.
//
// Updates are transient: a subscriber only sees events published after it
// subscribed, there is no replay and no durable queue. One misbehaving
// subscriber never blocks the publisher or other subscribers.
package broadcast

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/tomtom215/herdmap/internal/logging"
	"github.com/tomtom215/herdmap/internal/metrics"
	"github.com/tomtom215/herdmap/internal/models"
)

// topic is the single GoChannel topic carrying location updates.
const topic = "locations.updates"

// Broadcaster owns the in-process pub/sub channel. The composition root
// creates one instance and hands it to the ingest handler (publish side)
// and the SSE/WebSocket layers (subscribe side).
type Broadcaster struct {
	pubsub      *gochannel.GoChannel
	bufferSize  int
	subscribers atomic.Int64
	closed      atomic.Bool
}

// NewBroadcaster creates a Broadcaster. bufferSize is the per-subscriber
// event buffer; a subscriber that falls further behind drops events
// instead of blocking the publisher.
func NewBroadcaster(bufferSize int) *Broadcaster {
	if bufferSize < 1 {
		bufferSize = 64
	}

	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            int64(bufferSize),
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		watermill.NewSlogLogger(logging.NewSlogLogger()),
	)

	return &Broadcaster{
		pubsub:     pubsub,
		bufferSize: bufferSize,
	}
}

// Publish fans out one location update to all current subscribers.
// With zero subscribers it succeeds and the update evaporates.
func (b *Broadcaster) Publish(update models.LocationUpdate) error {
	if b.closed.Load() {
		return fmt.Errorf("broadcaster is closed")
	}

	payload, err := json.Marshal(update)
	if err != nil {
		metrics.RecordBroadcastPublish(err)
		return fmt.Errorf("failed to marshal location update: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	err = b.pubsub.Publish(topic, msg)
	metrics.RecordBroadcastPublish(err)
	if err != nil {
		return fmt.Errorf("failed to publish location update: %w", err)
	}

	return nil
}

// Subscribe returns a channel of location updates. The channel receives
// only events published after this call and closes when ctx is canceled
// or the Broadcaster shuts down. A slow consumer drops events once its
// buffer is full rather than stalling delivery to others.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan models.LocationUpdate, error) {
	if b.closed.Load() {
		return nil, fmt.Errorf("broadcaster is closed")
	}

	messages, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	b.subscribers.Add(1)
	metrics.BroadcastSubscribers.Inc()

	out := make(chan models.LocationUpdate, b.bufferSize)
	go func() {
		defer func() {
			b.subscribers.Add(-1)
			metrics.BroadcastSubscribers.Dec()
			close(out)
		}()

		for msg := range messages {
			var update models.LocationUpdate
			if err := json.Unmarshal(msg.Payload, &update); err != nil {
				logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("Dropping undecodable location update")
				msg.Ack()
				continue
			}

			select {
			case out <- update:
				metrics.BroadcastDeliveries.Inc()
			default:
				metrics.BroadcastDrops.Inc()
			}
			msg.Ack()
		}
	}()

	return out, nil
}

// SubscribeFunc invokes fn for every update until ctx is canceled. A panic
// in fn is recovered and logged per delivery, so one bad callback cannot
// stop the fan-out or crash the process.
func (b *Broadcaster) SubscribeFunc(ctx context.Context, fn func(models.LocationUpdate)) error {
	updates, err := b.Subscribe(ctx)
	if err != nil {
		return err
	}

	go func() {
		for update := range updates {
			deliver(fn, update)
		}
	}()

	return nil
}

func deliver(fn func(models.LocationUpdate), update models.LocationUpdate) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().
				Interface("panic", r).
				Str("entity_key", string(update.EntityKey)).
				Msg("Subscriber callback panicked")
		}
	}()
	fn(update)
}

// SubscriberCount returns the number of active subscriptions.
func (b *Broadcaster) SubscriberCount() int64 {
	return b.subscribers.Load()
}

// Close shuts the channel down. Subscriber channels are closed; further
// Publish and Subscribe calls fail.
func (b *Broadcaster) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := b.pubsub.Close(); err != nil {
		return fmt.Errorf("failed to close pubsub: %w", err)
	}
	return nil
}
