package ws

import (
	"time"

	"chat-realtime/internal/observability"
)

// ConnInfo identifies one websocket connection in lifecycle events.
type ConnInfo struct {
	ConnID      string
	UserID      int64
	Username    string
	RoomID      int64
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func (i ConnInfo) event(kind, name, reason string) observability.WSEvent {
	return observability.WSEvent{
		Kind:       kind,
		ResourceID: i.RoomID,
		Name:       name,
		ConnID:     i.ConnID,
		UserID:     i.UserID,
		DeviceID:   i.DeviceID,
		IP:         i.IP,
		Since:      i.ConnectedAt,
		Reason:     reason,
	}
}
