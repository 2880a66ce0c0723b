package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chat-realtime/internal/models"
)

var (
	ErrMessageNotFound    = errors.New("message not found")
	ErrAttachmentNotFound = errors.New("attachment not found")
)

// MessageRepository defines persistence for messages and their attachments.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, messageID int64) (models.Message, error)
	ListRoomMessages(ctx context.Context, roomID int64, limit int) ([]models.Message, error)
	UpdateContent(ctx context.Context, messageID int64, content string, editedAt time.Time) (models.Message, error)
	DeleteMessage(ctx context.Context, messageID int64) error
	CreateAttachment(ctx context.Context, att models.Attachment) (models.Attachment, error)
	CreateAttachmentMessage(ctx context.Context, msg models.Message, att models.Attachment) (models.Message, models.Attachment, error)
	ListAttachments(ctx context.Context, messageIDs []int64) ([]models.Attachment, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const (
	messageColumns    = `id, room_id, sender_id, sender_name, content, message_type, is_edited, edited_at, reply_to_id, created_at, updated_at`
	attachmentColumns = `id, message_id, filename, file_type, file_size, mime_type, file_url, thumbnail_url, created_at`
)

const insertAttachment = `INSERT INTO attachments (message_id, filename, file_type, file_size, mime_type, file_url, thumbnail_url)
        VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING ` + attachmentColumns

const insertMessage = `INSERT INTO messages (room_id, sender_id, sender_name, content, message_type, reply_to_id)
        VALUES ($1, $2, $3, $4, $5, $6) RETURNING ` + messageColumns

// CreateMessage stores a message; id and timestamps come from the database.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	var stored models.Message
	err := r.db.GetContext(ctx, &stored, insertMessage, msg.RoomID, msg.SenderID, msg.SenderName, msg.Content, msg.Type, msg.ReplyTo)
	return stored, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListRoomMessages returns the latest limit messages in history order:
// ascending created_at, ties broken by ascending id.
func (r *MessageRepo) ListRoomMessages(ctx context.Context, roomID int64, limit int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM (
            SELECT ` + messageColumns + ` FROM messages WHERE room_id=$1
            ORDER BY created_at DESC, id DESC LIMIT $2
        ) recent
        ORDER BY created_at ASC, id ASC`
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, roomID, limit)
	return msgs, err
}

// UpdateContent rewrites the content and stamps the edit. Concurrent edits
// are last-writer-wins.
func (r *MessageRepo) UpdateContent(ctx context.Context, messageID int64, content string, editedAt time.Time) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `UPDATE messages SET content=$2, is_edited=TRUE, edited_at=$3, updated_at=$3
        WHERE id=$1 RETURNING `+messageColumns, messageID, content, editedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// DeleteMessage hard-deletes a message; replies keep a NULL reference.
func (r *MessageRepo) DeleteMessage(ctx context.Context, messageID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id=$1`, messageID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// CreateAttachment records attachment metadata against an existing message.
func (r *MessageRepo) CreateAttachment(ctx context.Context, att models.Attachment) (models.Attachment, error) {
	var stored models.Attachment
	err := r.db.GetContext(ctx, &stored, insertAttachment,
		att.MessageID, att.Filename, att.FileType, att.FileSize, att.MimeType, att.FileURL, att.ThumbnailURL)
	return stored, err
}

// CreateAttachmentMessage inserts an attachment message and its metadata
// atomically, so a failed attachment insert leaves no empty message behind.
func (r *MessageRepo) CreateAttachmentMessage(ctx context.Context, msg models.Message, att models.Attachment) (models.Message, models.Attachment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, models.Attachment{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var stored models.Message
	if err = tx.GetContext(ctx, &stored, insertMessage, msg.RoomID, msg.SenderID, msg.SenderName, msg.Content, msg.Type, msg.ReplyTo); err != nil {
		return models.Message{}, models.Attachment{}, err
	}

	var storedAtt models.Attachment
	if err = tx.GetContext(ctx, &storedAtt, insertAttachment,
		stored.ID, att.Filename, att.FileType, att.FileSize, att.MimeType, att.FileURL, att.ThumbnailURL); err != nil {
		return models.Message{}, models.Attachment{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, models.Attachment{}, err
	}
	return stored, storedAtt, nil
}

// ListAttachments loads the attachments of several messages in one query.
func (r *MessageRepo) ListAttachments(ctx context.Context, messageIDs []int64) ([]models.Attachment, error) {
	if len(messageIDs) == 0 {
		return []models.Attachment{}, nil
	}
	var atts []models.Attachment
	err := r.db.SelectContext(ctx, &atts, `SELECT `+attachmentColumns+`
        FROM attachments WHERE message_id = ANY($1) ORDER BY created_at ASC, id ASC`, pq.Array(messageIDs))
	return atts, err
}
