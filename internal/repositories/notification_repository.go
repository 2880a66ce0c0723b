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

var ErrNotificationNotFound = errors.New("notification not found")

// NotificationRepository persists per-user notifications.
type NotificationRepository interface {
	Create(ctx context.Context, n models.Notification) (models.Notification, error)
	CreateMany(ctx context.Context, ns []models.Notification) ([]models.Notification, error)
	Get(ctx context.Context, id int64, recipientID int64) (models.Notification, error)
	SetRead(ctx context.Context, id int64, recipientID int64, readAt *time.Time) (models.Notification, error)
	MarkRead(ctx context.Context, recipientID int64, ids []int64, readAt time.Time) (int64, error)
	MarkAllRead(ctx context.Context, recipientID int64, readAt time.Time) (int64, error)
	CountUnread(ctx context.Context, recipientID int64) (int, error)
}

// NotificationRepo is a sqlx implementation of NotificationRepository.
type NotificationRepo struct {
	db *sqlx.DB
}

// NewNotificationRepo constructs a NotificationRepo.
func NewNotificationRepo(db *sqlx.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

const notificationColumns = `id, recipient_id, notification_type, title, message, is_read, read_at,
        related_room_id, related_message_id, related_user_id, extra_data, created_at`

const insertNotification = `INSERT INTO notifications
        (recipient_id, notification_type, title, message, related_room_id, related_message_id, related_user_id, extra_data)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING ` + notificationColumns

// Create stores one notification.
func (r *NotificationRepo) Create(ctx context.Context, n models.Notification) (models.Notification, error) {
	var stored models.Notification
	err := r.db.GetContext(ctx, &stored, insertNotification, notificationArgs(n)...)
	return stored, err
}

// CreateMany stores a batch in a single transaction.
func (r *NotificationRepo) CreateMany(ctx context.Context, ns []models.Notification) ([]models.Notification, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stored := make([]models.Notification, 0, len(ns))
	for _, n := range ns {
		var row models.Notification
		if err = tx.GetContext(ctx, &row, insertNotification, notificationArgs(n)...); err != nil {
			return nil, err
		}
		stored = append(stored, row)
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return stored, nil
}

// Get fetches a notification owned by recipientID.
func (r *NotificationRepo) Get(ctx context.Context, id int64, recipientID int64) (models.Notification, error) {
	var n models.Notification
	err := r.db.GetContext(ctx, &n, `SELECT `+notificationColumns+` FROM notifications WHERE id=$1 AND recipient_id=$2`, id, recipientID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Notification{}, ErrNotificationNotFound
	}
	return n, err
}

// SetRead sets the read flag from readAt: nil marks unread.
func (r *NotificationRepo) SetRead(ctx context.Context, id int64, recipientID int64, readAt *time.Time) (models.Notification, error) {
	var n models.Notification
	err := r.db.GetContext(ctx, &n, `UPDATE notifications SET is_read = ($3::timestamptz IS NOT NULL), read_at = $3
        WHERE id=$1 AND recipient_id=$2 RETURNING `+notificationColumns, id, recipientID, readAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Notification{}, ErrNotificationNotFound
	}
	return n, err
}

// MarkRead marks the unread notifications among ids as read.
func (r *NotificationRepo) MarkRead(ctx context.Context, recipientID int64, ids []int64, readAt time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE, read_at = $3
        WHERE recipient_id=$1 AND id = ANY($2) AND NOT is_read`, recipientID, pq.Array(ids), readAt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkAllRead marks every unread notification of the recipient as read.
func (r *NotificationRepo) MarkAllRead(ctx context.Context, recipientID int64, readAt time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE, read_at = $2 WHERE recipient_id=$1 AND NOT is_read`, recipientID, readAt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountUnread counts unread notifications.
func (r *NotificationRepo) CountUnread(ctx context.Context, recipientID int64) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM notifications WHERE recipient_id=$1 AND NOT is_read`, recipientID)
	return count, err
}

func notificationArgs(n models.Notification) []any {
	var extra any
	if len(n.ExtraData) > 0 {
		extra = []byte(n.ExtraData)
	}
	return []any{n.RecipientID, n.Type, n.Title, n.Message, n.RelatedRoomID, n.RelatedMessageID, n.RelatedUserID, extra}
}
