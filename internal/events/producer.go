package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"chat-realtime/internal/models"
)

// Producer emits durable domain events for downstream consumers
// (search indexing, push notifications).
type Producer interface {
	MessageCreated(ctx context.Context, msg models.Message) error
	Close() error
}

// MessageCreatedEvent is the Kafka payload for a persisted message.
type MessageCreatedEvent struct {
	EventType   string             `json:"event_type"`
	MessageID   int64              `json:"message_id"`
	RoomID      int64              `json:"room_id"`
	SenderID    int64              `json:"sender_id"`
	MessageType models.MessageType `json:"message_type"`
	Content     string             `json:"content"`
	ReplyTo     *int64             `json:"reply_to,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// BreakerSettings tunes the circuit breaker around the broker.
type BreakerSettings struct {
	MaxFailures uint32
	Timeout     time.Duration
}

// KafkaProducer writes events keyed by room so one room stays on one partition.
type KafkaProducer struct {
	writer messageWriter
	cb     *gobreaker.CircuitBreaker
	log    *zap.Logger
}

// publishTimeout bounds one MessageCreated call, which runs inline with the
// room broadcast.
const publishTimeout = 2 * time.Second

func NewKafkaProducer(brokers []string, topic string, breaker BreakerSettings, log *zap.Logger) *KafkaProducer {
	return newKafkaProducer(newWriter(brokers, topic), breaker, log)
}

// newWriter flushes every event on its own instead of waiting for a batch.
func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    1,
		BatchTimeout: 5 * time.Millisecond,
		WriteTimeout: publishTimeout,
	}
}

func newKafkaProducer(w messageWriter, breaker BreakerSettings, log *zap.Logger) *KafkaProducer {
	if breaker.MaxFailures == 0 {
		breaker.MaxFailures = 5
	}
	st := gobreaker.Settings{
		Name:        "kafka",
		MaxRequests: 1,
		Timeout:     breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breaker.MaxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &KafkaProducer{writer: w, cb: gobreaker.NewCircuitBreaker(st), log: log}
}

func (p *KafkaProducer) MessageCreated(ctx context.Context, msg models.Message) error {
	body, err := json.Marshal(MessageCreatedEvent{
		EventType:   "message_created",
		MessageID:   msg.ID,
		RoomID:      msg.RoomID,
		SenderID:    msg.SenderID,
		MessageType: msg.Type,
		Content:     msg.Content,
		ReplyTo:     msg.ReplyTo,
		CreatedAt:   msg.CreatedAt,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	_, err = p.cb.Execute(func() (interface{}, error) {
		return nil, p.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(strconv.FormatInt(msg.RoomID, 10)),
			Value: body,
			Time:  msg.CreatedAt,
		})
	})
	return err
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// NoopProducer is used when no brokers are configured.
type NoopProducer struct{}

func (NoopProducer) MessageCreated(context.Context, models.Message) error { return nil }

func (NoopProducer) Close() error { return nil }
