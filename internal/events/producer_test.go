package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"chat-realtime/internal/models"
)

type fakeWriter struct {
	msgs     []kafka.Message
	err      error
	calls    int
	deadline time.Time
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.calls++
	f.deadline, _ = ctx.Deadline()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestMessageCreatedKeyedByRoom(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaProducer(w, BreakerSettings{}, zaptest.NewLogger(t))

	err := p.MessageCreated(context.Background(), models.Message{ID: 3, RoomID: 12, SenderID: 1, Type: models.MessageText, Content: "hi", CreatedAt: time.Now()})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "12", string(w.msgs[0].Key))
	var ev MessageCreatedEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, "message_created", ev.EventType)
	assert.Equal(t, int64(3), ev.MessageID)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := newKafkaProducer(w, BreakerSettings{MaxFailures: 2, Timeout: time.Minute}, zaptest.NewLogger(t))
	ctx := context.Background()

	assert.Error(t, p.MessageCreated(ctx, models.Message{RoomID: 1}))
	assert.Error(t, p.MessageCreated(ctx, models.Message{RoomID: 1}))

	err := p.MessageCreated(ctx, models.Message{RoomID: 1})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, w.calls)
}

func TestWriterFlushesEachEvent(t *testing.T) {
	w := newWriter([]string{"localhost:9092"}, "chat.messages")

	assert.False(t, w.Async)
	assert.Equal(t, 1, w.BatchSize)
	assert.LessOrEqual(t, w.BatchTimeout, 10*time.Millisecond)
	assert.Equal(t, "chat.messages", w.Topic)
}

func TestMessageCreatedBoundsTheWrite(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaProducer(w, BreakerSettings{}, zaptest.NewLogger(t))

	start := time.Now()
	require.NoError(t, p.MessageCreated(context.Background(), models.Message{ID: 1, RoomID: 2, Type: models.MessageText}))
	require.False(t, w.deadline.IsZero())
	assert.WithinDuration(t, start.Add(publishTimeout), w.deadline, time.Second)
}

func TestNoopProducer(t *testing.T) {
	var p Producer = NoopProducer{}
	assert.NoError(t, p.MessageCreated(context.Background(), models.Message{}))
	assert.NoError(t, p.Close())
}
