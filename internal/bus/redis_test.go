package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-realtime/internal/models"
	"chat-realtime/internal/ws"
)

type recorder struct {
	frames chan []byte
}

func (r *recorder) Deliver(frame []byte) bool {
	select {
	case r.frames <- frame:
		return true
	default:
		return false
	}
}

func startNode(t *testing.T, ctx context.Context, addr, nodeID string) *RedisBus {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	b := NewRedisBus(ws.NewHub(), client, "chat:bus:", nodeID, zap.NewNop())
	go b.Run(ctx)
	select {
	case <-b.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("node %s never subscribed", nodeID)
	}
	return b
}

func TestRelayAcrossNodes(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := startNode(t, ctx, mr.Addr(), "node-a")
	b := startNode(t, ctx, mr.Addr(), "node-b")

	local := &recorder{frames: make(chan []byte, 4)}
	remote := &recorder{frames: make(chan []byte, 4)}
	other := &recorder{frames: make(chan []byte, 4)}
	a.Join("chat_1", local)
	b.Join("chat_1", remote)
	b.Join("chat_2", other)

	require.NoError(t, a.Publish(ctx, "chat_1", models.Envelope{Type: models.EventTyping, Data: models.TypingEvent{UserID: 1, IsTyping: true}}))

	select {
	case frame := <-remote.frames:
		assert.JSONEq(t, `{"type":"typing","data":{"user_id":1,"username":"","is_typing":true}}`, string(frame))
	case <-time.After(2 * time.Second):
		t.Fatal("remote node did not receive the event")
	}

	assert.Eventually(t, func() bool { return len(local.frames) == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, local.frames, 1, "self-origin frames must not be delivered twice")
	assert.Empty(t, other.frames)
}

func TestRelayKeepsPublishOrder(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := startNode(t, ctx, mr.Addr(), "node-a")
	b := startNode(t, ctx, mr.Addr(), "node-b")
	remote := &recorder{frames: make(chan []byte, 16)}
	b.Join("chat_1", remote)

	for i := 0; i < 10; i++ {
		require.NoError(t, a.Publish(ctx, "chat_1", models.Envelope{Type: models.EventMessage, Data: i}))
	}

	for i := 0; i < 10; i++ {
		select {
		case frame := <-remote.frames:
			assert.JSONEq(t, `{"type":"message","data":`+string(rune('0'+i))+`}`, string(frame))
		case <-time.After(2 * time.Second):
			t.Fatalf("missing frame %d", i)
		}
	}
}

func TestMalformedRelayFrameIsDropped(t *testing.T) {
	b := NewRedisBus(ws.NewHub(), nil, "chat:bus:", "node-a", zap.NewNop())
	sub := &recorder{frames: make(chan []byte, 1)}
	b.Join("chat_1", sub)

	b.receive(&redis.Message{Channel: "chat:bus:chat_1", Payload: "not json"})
	b.receive(&redis.Message{Channel: "chat:bus:chat_1", Payload: `{"origin":"node-b","event":{"type":"typing"}}`})

	require.Len(t, sub.frames, 1)
	assert.JSONEq(t, `{"type":"typing"}`, string(<-sub.frames))
}
