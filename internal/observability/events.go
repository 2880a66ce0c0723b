package observability

import (
	"context"
	"time"
)

// Publisher ships lifecycle events to the event exchange.
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error
}

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// WSEvent describes one websocket lifecycle transition.
type WSEvent struct {
	Kind       string
	ResourceID int64
	Name       string
	ConnID     string
	UserID     int64
	DeviceID   string
	IP         string
	Since      time.Time
	Reason     string
}

func (e WSEvent) envelope() EventEnvelope {
	var duration int64
	if !e.Since.IsZero() {
		duration = time.Since(e.Since).Milliseconds()
	}
	return EventEnvelope{
		EventType: "ws_events",
		EventName: e.Name,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        e.Kind,
				"resource_id": e.ResourceID,
				"event":       e.Name,
				"conn_id":     e.ConnID,
				"duration_ms": duration,
				"reason":      e.Reason,
			},
			"identity": map[string]interface{}{
				"user_id":   e.UserID,
				"device_id": e.DeviceID,
				"ip":        e.IP,
			},
		},
	}
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

var defaultPublisher Publisher

func SetPublisher(publisher Publisher) {
	defaultPublisher = publisher
}

func PublishEvent(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	if defaultPublisher == nil {
		return nil
	}

	err := defaultPublisher.PublishJSON(ctx, routingKey, message, headers)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}

// PublishWSEvent counts the event and publishes it under ws_events.<kind>.
func PublishWSEvent(ctx context.Context, event WSEvent, headers map[string]string) error {
	IncWSEvent(event.Kind, event.Name)
	return PublishEvent(ctx, "ws_events."+event.Kind, event.envelope(), headers)
}
