package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"chat-realtime/internal/models"
)

type RoomRepositoryMock struct {
	mock.Mock
}

func (m *RoomRepositoryMock) CreateRoom(ctx context.Context, room models.Room, memberIDs []int64) (models.Room, error) {
	args := m.Called(ctx, room, memberIDs)
	var created models.Room
	if val := args.Get(0); val != nil {
		created = val.(models.Room)
	}
	return created, args.Error(1)
}

func (m *RoomRepositoryMock) GetRoom(ctx context.Context, roomID int64) (models.Room, error) {
	args := m.Called(ctx, roomID)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) IsActiveMember(ctx context.Context, roomID int64, userID int64) (bool, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *RoomRepositoryMock) GetMembership(ctx context.Context, roomID int64, userID int64) (models.Membership, error) {
	args := m.Called(ctx, roomID, userID)
	var membership models.Membership
	if val := args.Get(0); val != nil {
		membership = val.(models.Membership)
	}
	return membership, args.Error(1)
}

func (m *RoomRepositoryMock) ActivateMembership(ctx context.Context, roomID int64, userID int64) (models.Membership, bool, error) {
	args := m.Called(ctx, roomID, userID)
	var membership models.Membership
	if val := args.Get(0); val != nil {
		membership = val.(models.Membership)
	}
	return membership, args.Bool(1), args.Error(2)
}

func (m *RoomRepositoryMock) DeactivateMembership(ctx context.Context, roomID int64, userID int64) error {
	args := m.Called(ctx, roomID, userID)
	return args.Error(0)
}

func (m *RoomRepositoryMock) ListActiveMemberIDs(ctx context.Context, roomID int64) ([]int64, error) {
	args := m.Called(ctx, roomID)
	var ids []int64
	if val := args.Get(0); val != nil {
		ids = val.([]int64)
	}
	return ids, args.Error(1)
}

func (m *RoomRepositoryMock) ListActiveRoomIDs(ctx context.Context, userID int64) ([]int64, error) {
	args := m.Called(ctx, userID)
	var ids []int64
	if val := args.Get(0); val != nil {
		ids = val.([]int64)
	}
	return ids, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var stored models.Message
	if val := args.Get(0); val != nil {
		stored = val.(models.Message)
	}
	return stored, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListRoomMessages(ctx context.Context, roomID int64, limit int) ([]models.Message, error) {
	args := m.Called(ctx, roomID, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) UpdateContent(ctx context.Context, messageID int64, content string, editedAt time.Time) (models.Message, error) {
	args := m.Called(ctx, messageID, content, editedAt)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) DeleteMessage(ctx context.Context, messageID int64) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) CreateAttachment(ctx context.Context, att models.Attachment) (models.Attachment, error) {
	args := m.Called(ctx, att)
	var stored models.Attachment
	if val := args.Get(0); val != nil {
		stored = val.(models.Attachment)
	}
	return stored, args.Error(1)
}

func (m *MessageRepositoryMock) CreateAttachmentMessage(ctx context.Context, msg models.Message, att models.Attachment) (models.Message, models.Attachment, error) {
	args := m.Called(ctx, msg, att)
	var stored models.Message
	if val := args.Get(0); val != nil {
		stored = val.(models.Message)
	}
	var storedAtt models.Attachment
	if val := args.Get(1); val != nil {
		storedAtt = val.(models.Attachment)
	}
	return stored, storedAtt, args.Error(2)
}

func (m *MessageRepositoryMock) ListAttachments(ctx context.Context, messageIDs []int64) ([]models.Attachment, error) {
	args := m.Called(ctx, messageIDs)
	var atts []models.Attachment
	if val := args.Get(0); val != nil {
		atts = val.([]models.Attachment)
	}
	return atts, args.Error(1)
}

type NotificationRepositoryMock struct {
	mock.Mock
}

func (m *NotificationRepositoryMock) Create(ctx context.Context, n models.Notification) (models.Notification, error) {
	args := m.Called(ctx, n)
	var stored models.Notification
	if val := args.Get(0); val != nil {
		stored = val.(models.Notification)
	}
	return stored, args.Error(1)
}

func (m *NotificationRepositoryMock) CreateMany(ctx context.Context, ns []models.Notification) ([]models.Notification, error) {
	args := m.Called(ctx, ns)
	var stored []models.Notification
	if val := args.Get(0); val != nil {
		stored = val.([]models.Notification)
	}
	return stored, args.Error(1)
}

func (m *NotificationRepositoryMock) Get(ctx context.Context, id int64, recipientID int64) (models.Notification, error) {
	args := m.Called(ctx, id, recipientID)
	var n models.Notification
	if val := args.Get(0); val != nil {
		n = val.(models.Notification)
	}
	return n, args.Error(1)
}

func (m *NotificationRepositoryMock) SetRead(ctx context.Context, id int64, recipientID int64, readAt *time.Time) (models.Notification, error) {
	args := m.Called(ctx, id, recipientID, readAt)
	var n models.Notification
	if val := args.Get(0); val != nil {
		n = val.(models.Notification)
	}
	return n, args.Error(1)
}

func (m *NotificationRepositoryMock) MarkRead(ctx context.Context, recipientID int64, ids []int64, readAt time.Time) (int64, error) {
	args := m.Called(ctx, recipientID, ids, readAt)
	return args.Get(0).(int64), args.Error(1)
}

func (m *NotificationRepositoryMock) MarkAllRead(ctx context.Context, recipientID int64, readAt time.Time) (int64, error) {
	args := m.Called(ctx, recipientID, readAt)
	return args.Get(0).(int64), args.Error(1)
}

func (m *NotificationRepositoryMock) CountUnread(ctx context.Context, recipientID int64) (int, error) {
	args := m.Called(ctx, recipientID)
	return args.Int(0), args.Error(1)
}

// BroadcasterMock records channel fan-out.
type BroadcasterMock struct {
	mock.Mock
}

func (m *BroadcasterMock) Publish(ctx context.Context, channel string, event models.Envelope) error {
	args := m.Called(ctx, channel, event)
	return args.Error(0)
}

type NotifierMock struct {
	mock.Mock
}

func (m *NotifierMock) NotifyMembershipChange(ctx context.Context, roomID, userID int64, username string, joined bool) error {
	args := m.Called(ctx, roomID, userID, username, joined)
	return args.Error(0)
}

func (m *NotifierMock) NotifyRoomInvite(ctx context.Context, room models.Room, inviterID int64, inviterName string, recipients []int64) error {
	args := m.Called(ctx, room, inviterID, inviterName, recipients)
	return args.Error(0)
}

type ProducerMock struct {
	mock.Mock
}

func (m *ProducerMock) MessageCreated(ctx context.Context, msg models.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *ProducerMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

type StorageMock struct {
	mock.Mock
}

func (m *StorageMock) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	args := m.Called(ctx, key, contentType, data)
	return args.String(0), args.Error(1)
}
