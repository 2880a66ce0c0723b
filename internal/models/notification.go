package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// NotificationType enumerates the notification categories.
type NotificationType string

const (
	NotificationMessage    NotificationType = "message"
	NotificationMention    NotificationType = "mention"
	NotificationRoomInvite NotificationType = "room_invite"
	NotificationRoomJoin   NotificationType = "room_join"
	NotificationRoomLeave  NotificationType = "room_leave"
	NotificationSystem     NotificationType = "system"
)

// Valid reports whether t is a known notification type.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationMessage, NotificationMention, NotificationRoomInvite,
		NotificationRoomJoin, NotificationRoomLeave, NotificationSystem:
		return true
	}
	return false
}

// Notification is a durable per-user notice.
type Notification struct {
	ID               int64            `db:"id" json:"id"`
	RecipientID      int64            `db:"recipient_id" json:"recipient_id"`
	Type             NotificationType `db:"notification_type" json:"notification_type"`
	Title            string           `db:"title" json:"title"`
	Message          string           `db:"message" json:"message"`
	IsRead           bool             `db:"is_read" json:"is_read"`
	ReadAt           *time.Time       `db:"read_at" json:"read_at"`
	RelatedRoomID    *int64           `db:"related_room_id" json:"related_room_id,omitempty"`
	RelatedMessageID *int64           `db:"related_message_id" json:"related_message_id,omitempty"`
	RelatedUserID    *int64           `db:"related_user_id" json:"related_user_id,omitempty"`
	ExtraData        types.JSONText   `db:"extra_data" json:"extra_data,omitempty"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
}
