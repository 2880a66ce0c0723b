package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
)

// Subscriber receives encoded frames for the channels it joined. Deliver
// must not block; it reports false when the frame was dropped.
type Subscriber interface {
	Deliver(frame []byte) bool
}

// Broker is the room group registry as seen by the gateway.
type Broker interface {
	Join(channel string, sub Subscriber)
	Leave(channel string, sub Subscriber)
	Publish(ctx context.Context, channel string, event models.Envelope) error
}

// Hub maintains process-local channel membership.
type Hub struct {
	channels map[string]map[Subscriber]struct{}
	mu       sync.Mutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{channels: make(map[string]map[Subscriber]struct{})}
}

// Join registers sub on channel. Joining twice is a no-op.
func (h *Hub) Join(channel string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[Subscriber]struct{})
		h.channels[channel] = subs
	}
	subs[sub] = struct{}{}
}

// Leave removes sub from channel and drops empty channels.
func (h *Hub) Leave(channel string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.channels[channel]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
}

// Size reports the number of local subscribers on channel.
func (h *Hub) Size(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[channel])
}

// Publish encodes event once and hands it to every local subscriber.
func (h *Hub) Publish(_ context.Context, channel string, event models.Envelope) error {
	frame, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}
	h.Deliver(channel, frame)
	return nil
}

// Deliver fans an already encoded frame out to local subscribers. The lock
// is held while enqueuing so every subscriber sees frames in publish order.
func (h *Hub) Deliver(channel string, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.channels[channel] {
		if !sub.Deliver(frame) {
			observability.IncDroppedFrame()
		}
	}
}
