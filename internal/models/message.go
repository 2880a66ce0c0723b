package models

import "time"

// MessageType classifies the payload of a message.
type MessageType string

const (
	MessageText       MessageType = "text"
	MessageAttachment MessageType = "attachment"
	MessageSystem     MessageType = "system"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageAttachment, MessageSystem:
		return true
	}
	return false
}

// UserRef identifies a user in serialized payloads.
type UserRef struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

// ReplyPreview is the resolved view of the message a reply points at.
// Content is truncated to 100 characters.
type ReplyPreview struct {
	ID      int64   `json:"id"`
	Content string  `json:"content"`
	Sender  UserRef `json:"sender"`
}

// Message is a persisted chat message. ReplyTo holds an id only; the
// preview is looked up when the message is serialized.
type Message struct {
	ID         int64       `db:"id" json:"id"`
	RoomID     int64       `db:"room_id" json:"room"`
	SenderID   int64       `db:"sender_id" json:"-"`
	SenderName string      `db:"sender_name" json:"-"`
	Content    string      `db:"content" json:"content"`
	Type       MessageType `db:"message_type" json:"message_type"`
	IsEdited   bool        `db:"is_edited" json:"is_edited"`
	EditedAt   *time.Time  `db:"edited_at" json:"edited_at"`
	ReplyTo    *int64      `db:"reply_to_id" json:"reply_to"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time   `db:"updated_at" json:"updated_at"`

	Sender         UserRef       `db:"-" json:"sender"`
	ReplyToContent *ReplyPreview `db:"-" json:"reply_to_content"`
	Attachments    []Attachment  `db:"-" json:"attachments"`
	HasAttachments bool          `db:"-" json:"has_attachments"`
}

// SenderRef is the serialized view of the sender.
func (m Message) SenderRef() UserRef {
	return UserRef{ID: m.SenderID, Username: m.SenderName}
}

// WithAttachments sets the attachment list and the derived flag.
func (m *Message) WithAttachments(atts []Attachment) {
	if atts == nil {
		atts = []Attachment{}
	}
	m.Attachments = atts
	m.HasAttachments = len(atts) > 0
}

// Attachment is file metadata recorded against a message. The binary lives
// in blob storage; FileURL is its locator.
type Attachment struct {
	ID           int64     `db:"id" json:"id"`
	MessageID    int64     `db:"message_id" json:"message_id"`
	Filename     string    `db:"filename" json:"filename"`
	FileType     string    `db:"file_type" json:"file_type"`
	FileSize     int64     `db:"file_size" json:"file_size"`
	MimeType     string    `db:"mime_type" json:"mime_type"`
	FileURL      string    `db:"file_url" json:"file_url"`
	ThumbnailURL *string   `db:"thumbnail_url" json:"thumbnail_url"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
