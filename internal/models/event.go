package models

import "strconv"

// Outbound event types written to websocket clients.
const (
	EventMessage         = "message"
	EventAttachment      = "attachment"
	EventMessageEdited   = "message_edited"
	EventMessageDeleted  = "message_deleted"
	EventUserJoined      = "user_joined"
	EventUserLeft        = "user_left"
	EventTyping          = "typing"
	EventPresenceChanged = "user_presence_changed"
	EventNotification    = "notification"
	EventError           = "error"
	EventSuccess         = "success"
	EventPong            = "pong"
)

// Envelope is the {type, data} frame used in both directions.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// UserEvent is the payload of user_joined and user_left.
type UserEvent struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// TypingEvent is the payload of typing.
type TypingEvent struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

// PresenceEvent is the payload of user_presence_changed.
type PresenceEvent struct {
	UserID   int64   `json:"user_id"`
	Username string  `json:"username"`
	IsOnline bool    `json:"is_online"`
	LastSeen *string `json:"last_seen"`
}

// MessageDeletedEvent is the payload of message_deleted.
type MessageDeletedEvent struct {
	ID     int64 `json:"id"`
	RoomID int64 `json:"room"`
}

// StatusMessage is the payload of error and success.
type StatusMessage struct {
	Message string `json:"message"`
}

// PongEvent answers a keep-alive ping.
type PongEvent struct {
	Timestamp string `json:"timestamp"`
}

// ErrorEnvelope builds a local error frame.
func ErrorEnvelope(msg string) Envelope {
	return Envelope{Type: EventError, Data: StatusMessage{Message: msg}}
}

// SuccessEnvelope builds a local success frame.
func SuccessEnvelope(msg string) Envelope {
	return Envelope{Type: EventSuccess, Data: StatusMessage{Message: msg}}
}

// RoomChannel is the fan-out address for a room.
func RoomChannel(roomID int64) string {
	return "chat_" + strconv.FormatInt(roomID, 10)
}

// UserChannel is the fan-out address for a user's notifications.
func UserChannel(userID int64) string {
	return "notifications_" + strconv.FormatInt(userID, 10)
}
