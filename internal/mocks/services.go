package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-realtime/internal/chat"
	"chat-realtime/internal/models"
)

// ChatServiceMock covers the room and message operations used by handlers.
type ChatServiceMock struct {
	mock.Mock
}

func (m *ChatServiceMock) CreateRoom(ctx context.Context, in chat.CreateRoomInput) (models.Room, error) {
	args := m.Called(ctx, in)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *ChatServiceMock) JoinRoom(ctx context.Context, roomID, userID int64, username string) (models.Membership, error) {
	args := m.Called(ctx, roomID, userID, username)
	var membership models.Membership
	if val := args.Get(0); val != nil {
		membership = val.(models.Membership)
	}
	return membership, args.Error(1)
}

func (m *ChatServiceMock) LeaveRoom(ctx context.Context, roomID, userID int64, username string) error {
	args := m.Called(ctx, roomID, userID, username)
	return args.Error(0)
}

func (m *ChatServiceMock) History(ctx context.Context, roomID, viewerID int64, limit int) ([]models.Message, error) {
	args := m.Called(ctx, roomID, viewerID, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *ChatServiceMock) UploadAttachment(ctx context.Context, in chat.UploadInput) (models.Message, error) {
	args := m.Called(ctx, in)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ChatServiceMock) EditMessage(ctx context.Context, messageID, editorID int64, content string) (models.Message, error) {
	args := m.Called(ctx, messageID, editorID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ChatServiceMock) DeleteMessage(ctx context.Context, messageID, actorID int64) error {
	args := m.Called(ctx, messageID, actorID)
	return args.Error(0)
}

type NotificationServiceMock struct {
	mock.Mock
}

func (m *NotificationServiceMock) MarkRead(ctx context.Context, recipientID, id int64) (models.Notification, error) {
	args := m.Called(ctx, recipientID, id)
	var n models.Notification
	if val := args.Get(0); val != nil {
		n = val.(models.Notification)
	}
	return n, args.Error(1)
}

func (m *NotificationServiceMock) MarkUnread(ctx context.Context, recipientID, id int64) (models.Notification, error) {
	args := m.Called(ctx, recipientID, id)
	var n models.Notification
	if val := args.Get(0); val != nil {
		n = val.(models.Notification)
	}
	return n, args.Error(1)
}

func (m *NotificationServiceMock) BulkMarkRead(ctx context.Context, recipientID int64, ids []int64) (int64, error) {
	args := m.Called(ctx, recipientID, ids)
	return args.Get(0).(int64), args.Error(1)
}

func (m *NotificationServiceMock) MarkAllRead(ctx context.Context, recipientID int64) (int64, error) {
	args := m.Called(ctx, recipientID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *NotificationServiceMock) UnreadCount(ctx context.Context, recipientID int64) (int, error) {
	args := m.Called(ctx, recipientID)
	return args.Int(0), args.Error(1)
}
