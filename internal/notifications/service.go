package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
)

var (
	ErrNotFound   = errors.New("notification not found")
	ErrValidation = errors.New("invalid notification")
)

// Publisher delivers an event to a fan-out channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, event models.Envelope) error
}

// MemberLister resolves the active members of a room.
type MemberLister interface {
	ListActiveMemberIDs(ctx context.Context, roomID int64) ([]int64, error)
}

// Service persists notifications and pushes them to the recipient's channel.
type Service struct {
	repo      repositories.NotificationRepository
	rooms     MemberLister
	publisher Publisher
	log       *zap.Logger
	now       func() time.Time
}

func NewService(repo repositories.NotificationRepository, rooms MemberLister, publisher Publisher, log *zap.Logger) *Service {
	return &Service{repo: repo, rooms: rooms, publisher: publisher, log: log, now: time.Now}
}

// NotifyInput describes one notification. Extra is stored as extra_data.
type NotifyInput struct {
	RecipientID      int64
	Type             models.NotificationType
	Title            string
	Message          string
	RelatedRoomID    *int64
	RelatedMessageID *int64
	RelatedUserID    *int64
	Extra            map[string]any
}

func (in NotifyInput) record(recipient int64) (models.Notification, error) {
	if !in.Type.Valid() {
		return models.Notification{}, fmt.Errorf("%w: unknown type %q", ErrValidation, in.Type)
	}
	if in.Title == "" {
		return models.Notification{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	n := models.Notification{
		RecipientID:      recipient,
		Type:             in.Type,
		Title:            in.Title,
		Message:          in.Message,
		RelatedRoomID:    in.RelatedRoomID,
		RelatedMessageID: in.RelatedMessageID,
		RelatedUserID:    in.RelatedUserID,
	}
	if len(in.Extra) > 0 {
		raw, err := json.Marshal(in.Extra)
		if err != nil {
			return models.Notification{}, fmt.Errorf("%w: extra data: %v", ErrValidation, err)
		}
		n.ExtraData = raw
	}
	return n, nil
}

// Notify persists first, then publishes on notifications_{recipient}. A
// publish failure is logged; the stored row is the source of truth.
func (s *Service) Notify(ctx context.Context, in NotifyInput) (models.Notification, error) {
	n, err := in.record(in.RecipientID)
	if err != nil {
		return models.Notification{}, err
	}
	stored, err := s.repo.Create(ctx, n)
	if err != nil {
		return models.Notification{}, fmt.Errorf("create notification: %w", err)
	}
	s.push(ctx, stored)
	return stored, nil
}

// NotifyMany sends the same notification to each distinct recipient.
func (s *Service) NotifyMany(ctx context.Context, recipients []int64, in NotifyInput) ([]models.Notification, error) {
	recipients = lo.Uniq(recipients)
	if len(recipients) == 0 {
		return []models.Notification{}, nil
	}
	batch := make([]models.Notification, 0, len(recipients))
	for _, id := range recipients {
		n, err := in.record(id)
		if err != nil {
			return nil, err
		}
		batch = append(batch, n)
	}
	stored, err := s.repo.CreateMany(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("create notifications: %w", err)
	}
	for _, n := range stored {
		s.push(ctx, n)
	}
	return stored, nil
}

func (s *Service) push(ctx context.Context, n models.Notification) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.Publish(ctx, models.UserChannel(n.RecipientID), models.Envelope{Type: models.EventNotification, Data: n})
	if err != nil {
		s.log.Warn("notification publish failed",
			zap.Int64("notification_id", n.ID),
			zap.Int64("recipient_id", n.RecipientID),
			zap.Error(err))
	}
}

// MarkRead is idempotent: an already read notification keeps its read_at.
func (s *Service) MarkRead(ctx context.Context, recipientID, id int64) (models.Notification, error) {
	n, err := s.get(ctx, recipientID, id)
	if err != nil || n.IsRead {
		return n, err
	}
	now := s.now()
	return s.setRead(ctx, recipientID, id, &now)
}

func (s *Service) MarkUnread(ctx context.Context, recipientID, id int64) (models.Notification, error) {
	n, err := s.get(ctx, recipientID, id)
	if err != nil || !n.IsRead {
		return n, err
	}
	return s.setRead(ctx, recipientID, id, nil)
}

func (s *Service) get(ctx context.Context, recipientID, id int64) (models.Notification, error) {
	n, err := s.repo.Get(ctx, id, recipientID)
	if errors.Is(err, repositories.ErrNotificationNotFound) {
		return models.Notification{}, ErrNotFound
	}
	if err != nil {
		return models.Notification{}, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

func (s *Service) setRead(ctx context.Context, recipientID, id int64, readAt *time.Time) (models.Notification, error) {
	n, err := s.repo.SetRead(ctx, id, recipientID, readAt)
	if errors.Is(err, repositories.ErrNotificationNotFound) {
		return models.Notification{}, ErrNotFound
	}
	if err != nil {
		return models.Notification{}, fmt.Errorf("update notification: %w", err)
	}
	return n, nil
}

// BulkMarkRead marks the given ids read and returns how many changed.
// Ids owned by other users are ignored.
func (s *Service) BulkMarkRead(ctx context.Context, recipientID int64, ids []int64) (int64, error) {
	ids = lo.Uniq(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := s.repo.MarkRead(ctx, recipientID, ids, s.now())
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return n, nil
}

func (s *Service) MarkAllRead(ctx context.Context, recipientID int64) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, recipientID, s.now())
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return n, nil
}

func (s *Service) UnreadCount(ctx context.Context, recipientID int64) (int, error) {
	n, err := s.repo.CountUnread(ctx, recipientID)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// NotifyMembershipChange tells the other active members that userID
// joined or left the room.
func (s *Service) NotifyMembershipChange(ctx context.Context, roomID, userID int64, username string, joined bool) error {
	members, err := s.rooms.ListActiveMemberIDs(ctx, roomID)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}
	in := NotifyInput{
		Type:          models.NotificationRoomLeave,
		Title:         "Member left",
		Message:       username + " left the room",
		RelatedRoomID: &roomID,
		RelatedUserID: &userID,
	}
	if joined {
		in.Type = models.NotificationRoomJoin
		in.Title = "New member"
		in.Message = username + " joined the room"
	}
	_, err = s.NotifyMany(ctx, lo.Without(members, userID), in)
	return err
}

// NotifyRoomInvite tells each recipient they were added to a new room.
func (s *Service) NotifyRoomInvite(ctx context.Context, room models.Room, inviterID int64, inviterName string, recipients []int64) error {
	roomID := room.ID
	_, err := s.NotifyMany(ctx, lo.Without(recipients, inviterID), NotifyInput{
		Type:          models.NotificationRoomInvite,
		Title:         "Room invitation",
		Message:       fmt.Sprintf("%s added you to %s", inviterName, room.Name),
		RelatedRoomID: &roomID,
		RelatedUserID: &inviterID,
		Extra:         map[string]any{"room_type": room.Kind},
	})
	return err
}
