package ws

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/models"
)

type queueSub struct {
	frames chan []byte
}

func newQueueSub(size int) *queueSub {
	return &queueSub{frames: make(chan []byte, size)}
}

func (q *queueSub) Deliver(frame []byte) bool {
	select {
	case q.frames <- frame:
		return true
	default:
		return false
	}
}

func TestHubJoinAndLeave(t *testing.T) {
	hub := NewHub()
	a, b := newQueueSub(1), newQueueSub(1)

	hub.Join("chat_1", a)
	hub.Join("chat_1", a)
	hub.Join("chat_1", b)
	assert.Equal(t, 2, hub.Size("chat_1"))

	hub.Leave("chat_1", a)
	hub.Leave("chat_1", b)
	assert.Equal(t, 0, hub.Size("chat_1"))
	assert.Empty(t, hub.channels)
}

func TestHubPublishPreservesOrder(t *testing.T) {
	hub := NewHub()
	sub := newQueueSub(10)
	hub.Join("chat_1", sub)
	hub.Join("chat_2", newQueueSub(10))

	for i := 0; i < 5; i++ {
		require.NoError(t, hub.Publish(context.Background(), "chat_1", models.Envelope{Type: "typing", Data: i}))
	}

	for i := 0; i < 5; i++ {
		var env struct {
			Type string `json:"type"`
			Data int    `json:"data"`
		}
		require.NoError(t, json.Unmarshal(<-sub.frames, &env))
		assert.Equal(t, i, env.Data)
	}
}

func TestHubDropsWhenSubscriberIsFull(t *testing.T) {
	hub := NewHub()
	slow, fast := newQueueSub(1), newQueueSub(3)
	hub.Join("chat_1", slow)
	hub.Join("chat_1", fast)

	for i := 0; i < 3; i++ {
		require.NoError(t, hub.Publish(context.Background(), "chat_1", models.Envelope{Type: "message"}))
	}

	assert.Len(t, slow.frames, 1)
	assert.Len(t, fast.frames, 3)
}

func TestHubPublishToEmptyChannel(t *testing.T) {
	hub := NewHub()
	assert.NoError(t, hub.Publish(context.Background(), "chat_9", models.Envelope{Type: "message"}))
}
