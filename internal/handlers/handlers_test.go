package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-realtime/internal/chat"
	"chat-realtime/internal/mocks"
	"chat-realtime/internal/models"
	"chat-realtime/internal/notifications"
	"chat-realtime/internal/telemetry"
)

func setupRouter(svc *mocks.ChatServiceMock, notif *mocks.NotificationServiceMock, audit *telemetry.AuditEmitter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", int64(1))
		c.Set("username", "alice")
		c.Next()
	})
	log := zap.NewNop()
	rooms := NewRoomHandler(svc, audit, log)
	messages := NewMessageHandler(svc, audit, log)
	notes := NewNotificationHandler(notif, log)

	r.POST("/rooms", rooms.CreateRoom)
	r.POST("/rooms/:room_id/join", rooms.JoinRoom)
	r.POST("/rooms/:room_id/leave", rooms.LeaveRoom)
	r.GET("/rooms/:room_id/messages", rooms.GetMessages)
	r.POST("/rooms/:room_id/attachments", rooms.UploadAttachment)
	r.PATCH("/messages/:message_id", messages.EditMessage)
	r.DELETE("/messages/:message_id", messages.DeleteMessage)
	r.POST("/notifications/:id/read", notes.MarkRead)
	r.POST("/notifications/:id/unread", notes.MarkUnread)
	r.POST("/notifications/read", notes.BulkMarkRead)
	r.POST("/notifications/read-all", notes.MarkAllRead)
	r.GET("/notifications/unread-count", notes.UnreadCount)
	RegisterAuditRoutes(r, audit, true)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp["error"]
}

func TestCreateRoomSuccess(t *testing.T) {
	svc := new(mocks.ChatServiceMock)
	pub := new(mocks.PublisherMock)
	audit := telemetry.NewAuditEmitter(pub, "audit.chat", "chat-realtime", "test", zap.NewNop())
	router := setupRouter(svc, nil, audit)

	svc.On("CreateRoom", mock.Anything, chat.CreateRoomInput{
		CreatorID:   1,
		CreatorName: "alice",
		Kind:        models.RoomPrivate,
		MemberIDs:   []int64{2},
		MemberNames: map[int64]string{2: "bob"},
	}).Return(models.Room{ID: 5, Kind: models.RoomPrivate, Name: "Private chat: alice & bob"}, nil).Once()
	pub.On("Publish", mock.Anything, "audit.chat", mock.Anything).Return(nil).Once()

	rec := do(router, http.MethodPost, "/rooms", `{"room_type":"private","member_ids":[2],"member_names":{"2":"bob"}}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"Private chat: alice & bob"`)
	svc.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestCreateRoomValidationError(t *testing.T) {
	svc := new(mocks.ChatServiceMock)
	router := setupRouter(svc, nil, nil)

	svc.On("CreateRoom", mock.Anything, mock.Anything).
		Return(nil, &chat.Error{Kind: chat.ErrValidation, Msg: "Group rooms require a name"}).Once()

	rec := do(router, http.MethodPost, "/rooms", `{"room_type":"group","member_ids":[2]}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Group rooms require a name", errorBody(t, rec))
}

func TestCreateRoomRequiresType(t *testing.T) {
	router := setupRouter(new(mocks.ChatServiceMock), nil, nil)
	rec := do(router, http.MethodPost, "/rooms", `{"name":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJoinPrivateRoomForbidden(t *testing.T) {
	svc := new(mocks.ChatServiceMock)
	router := setupRouter(svc, nil, nil)
	svc.On("JoinRoom", mock.Anything, int64(3), int64(1), "alice").
		Return(nil, &chat.Error{Kind: chat.ErrForbidden, Msg: "Private rooms cannot be joined"}).Once()

	rec := do(router, http.MethodPost, "/rooms/3/join", "")

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Private rooms cannot be joined", errorBody(t, rec))
}

func TestLeaveRoom(t *testing.T) {
	svc := new(mocks.ChatServiceMock)
	router := setupRouter(svc, nil, nil)
	svc.On("LeaveRoom", mock.Anything, int64(3), int64(1), "alice").Return(nil).Once()

	rec := do(router, http.MethodPost, "/rooms/3/leave", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	svc.AssertExpectations(t)
}

func TestGetMessages(t *testing.T) {
	svc := new(mocks.ChatServiceMock)
	router := setupRouter(svc, nil, nil)
	svc.On("History", mock.Anything, int64(3), int64(1), 20).Return([]models.Message{{ID: 1}, {ID: 2}}, nil).Once()

	rec := do(router, http.MethodGet, "/rooms/3/messages?limit=20", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Messages, 2)
}

func TestGetMessagesBadInput(t *testing.T) {
	router := setupRouter(new(mocks.ChatServiceMock), nil, nil)

	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodGet, "/rooms/abc/messages", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodGet, "/rooms/3/messages?limit=-1", "").Code)
}

func TestGetMessagesNotMember(t *testing.T) {
	svc := new(mocks.ChatServiceMock)
	router := setupRouter(svc, nil, nil)
	svc.On("History", mock.Anything, int64(3), int64(1), 0).
		Return(nil, &chat.Error{Kind: chat.ErrForbidden, Msg: "You are not a member of this room"}).Once()

	rec := do(router, http.MethodGet, "/rooms/3/messages", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUploadAttachment(t *testing.T) {
	svc := new(mocks.ChatServiceMock)
	router := setupRouter(svc, nil, nil)

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.WriteField("message_id", "9"))
	require.NoError(t, w.Close())

	svc.On("UploadAttachment", mock.Anything, mock.MatchedBy(func(in chat.UploadInput) bool {
		return in.RoomID == 3 && in.SenderID == 1 && in.Filename == "notes.txt" &&
			string(in.Data) == "hello" && in.MessageID != nil && *in.MessageID == 9
	})).Return(models.Message{ID: 9, HasAttachments: true}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/rooms/3/attachments", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	svc.AssertExpectations(t)
}

func TestUploadAttachmentWithoutFile(t *testing.T) {
	router := setupRouter(new(mocks.ChatServiceMock), nil, nil)
	rec := do(router, http.MethodPost, "/rooms/3/attachments", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEditMessage(t *testing.T) {
	svc := new(mocks.ChatServiceMock)
	router := setupRouter(svc, nil, nil)
	svc.On("EditMessage", mock.Anything, int64(7), int64(1), "fixed").Return(models.Message{ID: 7, Content: "fixed", IsEdited: true}, nil).Once()
	svc.On("EditMessage", mock.Anything, int64(8), int64(1), "late").
		Return(nil, &chat.Error{Kind: chat.ErrForbidden, Msg: "Message can no longer be edited"}).Once()

	rec := do(router, http.MethodPatch, "/messages/7", `{"content":"fixed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"is_edited":true`)

	rec = do(router, http.MethodPatch, "/messages/8", `{"content":"late"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Message can no longer be edited", errorBody(t, rec))
}

func TestDeleteMessage(t *testing.T) {
	svc := new(mocks.ChatServiceMock)
	router := setupRouter(svc, nil, nil)
	svc.On("DeleteMessage", mock.Anything, int64(7), int64(1)).Return(nil).Once()
	svc.On("DeleteMessage", mock.Anything, int64(8), int64(1)).Return(&chat.Error{Kind: chat.ErrNotFound, Msg: "Message not found"}).Once()
	svc.On("DeleteMessage", mock.Anything, int64(9), int64(1)).Return(errors.New("pq: connection reset")).Once()

	assert.Equal(t, http.StatusNoContent, do(router, http.MethodDelete, "/messages/7", "").Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodDelete, "/messages/8", "").Code)

	rec := do(router, http.MethodDelete, "/messages/9", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "could not delete message", errorBody(t, rec))
}

func TestNotificationReadState(t *testing.T) {
	notif := new(mocks.NotificationServiceMock)
	router := setupRouter(nil, notif, nil)
	notif.On("MarkRead", mock.Anything, int64(1), int64(4)).Return(models.Notification{ID: 4, IsRead: true}, nil).Once()
	notif.On("MarkUnread", mock.Anything, int64(1), int64(5)).Return(nil, notifications.ErrNotFound).Once()

	rec := do(router, http.MethodPost, "/notifications/4/read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"is_read":true`)

	rec = do(router, http.MethodPost, "/notifications/5/unread", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	notif.AssertExpectations(t)
}

func TestNotificationBulkOperations(t *testing.T) {
	notif := new(mocks.NotificationServiceMock)
	router := setupRouter(nil, notif, nil)
	notif.On("BulkMarkRead", mock.Anything, int64(1), []int64{1, 2}).Return(int64(2), nil).Once()
	notif.On("MarkAllRead", mock.Anything, int64(1)).Return(int64(5), nil).Once()
	notif.On("UnreadCount", mock.Anything, int64(1)).Return(3, nil).Once()

	rec := do(router, http.MethodPost, "/notifications/read", `{"ids":[1,2]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"updated":2}`, rec.Body.String())

	rec = do(router, http.MethodPost, "/notifications/read-all", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"updated":5}`, rec.Body.String())

	rec = do(router, http.MethodGet, "/notifications/unread-count", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"unread_count":3}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodPost, "/notifications/read", `{}`).Code)
	notif.AssertExpectations(t)
}

func TestAuditRouteEmits(t *testing.T) {
	pub := new(mocks.PublisherMock)
	audit := telemetry.NewAuditEmitter(pub, "audit.chat", "chat-realtime", "test", zap.NewNop())
	router := setupRouter(nil, nil, audit)
	pub.On("Publish", mock.Anything, "audit.chat", mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.Payload.Action == "room_export" && env.Payload.Text == "manual check" &&
			env.UserID != nil && *env.UserID == "1" && env.RequestID != ""
	})).Return(nil).Once()

	rec := do(router, http.MethodPost, "/debug/audit", `{"action":"room_export","text":"manual check"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"request_id"`)
	pub.AssertExpectations(t)
}

func TestAuditRouteDefaultsAction(t *testing.T) {
	pub := new(mocks.PublisherMock)
	audit := telemetry.NewAuditEmitter(pub, "audit.chat", "chat-realtime", "test", zap.NewNop())
	router := setupRouter(nil, nil, audit)
	pub.On("Publish", mock.Anything, "audit.chat", mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.Payload.Action == "audit_check"
	})).Return(nil).Once()

	rec := do(router, http.MethodPost, "/debug/audit", "")

	require.Equal(t, http.StatusAccepted, rec.Code)
	pub.AssertExpectations(t)
}

func TestAuditRouteDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterAuditRoutes(r, telemetry.NewAuditEmitter(new(mocks.PublisherMock), "audit.chat", "chat-realtime", "test", zap.NewNop()), false)

	rec := do(r, http.MethodPost, "/debug/audit", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
