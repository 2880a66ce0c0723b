package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/ws"
)

// relayFrame is the pub/sub payload. Event is the encoded envelope as
// written to websocket clients.
type relayFrame struct {
	Origin string          `json:"origin"`
	Event  json.RawMessage `json:"event"`
}

// RedisBus extends a local hub across processes. Every publish is
// delivered locally and relayed on {prefix}{channel}; frames from other
// nodes are delivered to this node's subscribers.
type RedisBus struct {
	*ws.Hub
	client redis.UniversalClient
	prefix string
	origin string
	log    *zap.Logger

	ready     chan struct{}
	readyOnce sync.Once
}

func NewRedisBus(hub *ws.Hub, client redis.UniversalClient, prefix, nodeID string, log *zap.Logger) *RedisBus {
	return &RedisBus{
		Hub:    hub,
		client: client,
		prefix: prefix,
		origin: nodeID,
		log:    log,
		ready:  make(chan struct{}),
	}
}

// Ready is closed once the pattern subscription is confirmed.
func (b *RedisBus) Ready() <-chan struct{} {
	return b.ready
}

// Publish delivers locally first; a relay failure is returned but local
// subscribers already have the event.
func (b *RedisBus) Publish(ctx context.Context, channel string, event models.Envelope) error {
	frame, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}
	b.Hub.Deliver(channel, frame)

	payload, err := json.Marshal(relayFrame{Origin: b.origin, Event: frame})
	if err != nil {
		return fmt.Errorf("encode relay frame: %w", err)
	}
	if err := b.client.Publish(ctx, b.prefix+channel, payload).Err(); err != nil {
		observability.IncBusRelay("out", "error")
		return fmt.Errorf("relay %s: %w", channel, err)
	}
	observability.IncBusRelay("out", "ok")
	return nil
}

// Run consumes relayed frames until ctx is done.
func (b *RedisBus) Run(ctx context.Context) error {
	sub := b.client.PSubscribe(ctx, b.prefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s*: %w", b.prefix, err)
	}
	b.readyOnce.Do(func() { close(b.ready) })
	b.log.Info("bus relay subscribed", zap.String("pattern", b.prefix+"*"), zap.String("node_id", b.origin))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.receive(msg)
		}
	}
}

func (b *RedisBus) receive(msg *redis.Message) {
	var f relayFrame
	if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
		observability.IncBusRelay("in", "invalid")
		b.log.Warn("drop malformed relay frame", zap.String("channel", msg.Channel), zap.Error(err))
		return
	}
	if f.Origin == b.origin {
		observability.IncBusRelay("in", "self")
		return
	}
	b.Hub.Deliver(strings.TrimPrefix(msg.Channel, b.prefix), f.Event)
	observability.IncBusRelay("in", "ok")
}
