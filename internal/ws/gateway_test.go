package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/chat"
	"chat-realtime/internal/models"
	"chat-realtime/internal/presence"
	"chat-realtime/internal/workerpool"
)

type fakeStore struct {
	mu        sync.Mutex
	members   map[int64][]int64
	nextID    int64
	memberErr error
}

func (f *fakeStore) IsActiveMember(_ context.Context, roomID, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.memberErr != nil {
		return false, f.memberErr
	}
	for _, id := range f.members[roomID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ActiveRoomIDs(_ context.Context, userID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rooms []int64
	for roomID, ids := range f.members {
		for _, id := range ids {
			if id == userID {
				rooms = append(rooms, roomID)
			}
		}
	}
	return rooms, nil
}

func (f *fakeStore) CreateMessage(_ context.Context, in chat.CreateMessageInput) (models.Message, error) {
	if strings.TrimSpace(in.Content) == "" {
		return models.Message{}, &chat.Error{Kind: chat.ErrValidation, Msg: "Message content cannot be empty"}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return models.Message{
		ID:        f.nextID,
		RoomID:    in.RoomID,
		SenderID:  in.SenderID,
		Sender:    models.UserRef{ID: in.SenderID, Username: in.SenderName},
		Content:   in.Content,
		Type:      models.MessageText,
		CreatedAt: time.Now(),
	}, nil
}

func (f *fakeStore) AttachFile(_ context.Context, in chat.AttachmentInput) (models.Message, error) {
	if in.FileSize > 10 {
		return models.Message{}, &chat.Error{Kind: chat.ErrValidation, Msg: "File too large"}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	msg := models.Message{ID: f.nextID, RoomID: in.RoomID, SenderID: in.SenderID, Type: models.MessageAttachment}
	msg.WithAttachments([]models.Attachment{{MessageID: f.nextID, Filename: in.Filename, FileURL: in.FileURL}})
	return msg, nil
}

type testEnv struct {
	srv       *httptest.Server
	hub       *Hub
	presence  *presence.MemoryStore
	validator *auth.JWTValidator
}

func newTestEnv(t *testing.T, store MessageStore, opts Options) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		hub:       NewHub(),
		presence:  presence.NewMemoryStore(time.Minute),
		validator: auth.NewJWTValidator("test-secret", ""),
	}
	log := zap.NewNop()
	gw := NewGateway(env.validator, store, env.hub, env.presence, workerpool.New(4), opts, log)

	r := gin.New()
	r.GET("/ws/chat/:room_id/", NewChatWebSocketHandler(gw, log).Handle)
	r.GET("/ws/notifications/", NewNotificationWebSocketHandler(gw, log).Handle)
	env.srv = httptest.NewServer(r)
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) token(t *testing.T, id int64, name string) string {
	tok, err := e.validator.Sign(auth.Identity{UserID: id, Username: name}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) dial(t *testing.T, path, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + path
	if token != "" {
		url += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (e *testEnv) dialRoom(t *testing.T, roomID int64, token string) *websocket.Conn {
	return e.dial(t, "/ws/chat/"+strconv.FormatInt(roomID, 10)+"/", token)
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// readUntil skips frames until one of type wantType arrives.
func readUntil(t *testing.T, conn *websocket.Conn, wantType string) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", wantType)
		var f frame
		require.NoError(t, json.Unmarshal(raw, &f))
		if f.Type == wantType {
			return f
		}
	}
}

// countUntil reads frames until one of type stopType arrives and reports how
// many frames of type countType came before it.
func countUntil(t *testing.T, conn *websocket.Conn, stopType, countType string) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	count := 0
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", stopType)
		var f frame
		require.NoError(t, json.Unmarshal(raw, &f))
		switch f.Type {
		case stopType:
			return count
		case countType:
			count++
		}
	}
}

func readCloseCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		return ce.Code
	}
}

func send(t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": typ, "data": data}))
}

func TestChatRejectsBadToken(t *testing.T) {
	env := newTestEnv(t, &fakeStore{}, Options{})

	assert.Equal(t, CloseUnauthenticated, readCloseCode(t, env.dialRoom(t, 1, "")))
	assert.Equal(t, CloseUnauthenticated, readCloseCode(t, env.dialRoom(t, 1, "garbage")))
}

func TestChatRejectsNonMemberWithoutSideEffects(t *testing.T) {
	env := newTestEnv(t, &fakeStore{members: map[int64][]int64{1: {10, 20}}}, Options{})

	conn := env.dialRoom(t, 1, env.token(t, 30, "mallory"))

	assert.Equal(t, CloseForbidden, readCloseCode(t, conn))
	online, err := env.presence.IsOnline(context.Background(), 30)
	require.NoError(t, err)
	assert.False(t, online)
	assert.Equal(t, 0, env.hub.Size(models.RoomChannel(1)))
}

func TestChatConnectFaultClosesInternalError(t *testing.T) {
	env := newTestEnv(t, &fakeStore{memberErr: errors.New("db down")}, Options{})

	conn := env.dialRoom(t, 1, env.token(t, 10, "alice"))

	assert.Equal(t, CloseInternalError, readCloseCode(t, conn))
	online, err := env.presence.IsOnline(context.Background(), 10)
	require.NoError(t, err)
	assert.False(t, online)
	assert.Equal(t, 0, env.hub.Size(models.RoomChannel(1)))
}

func TestChatPrivateRoomConversation(t *testing.T) {
	store := &fakeStore{members: map[int64][]int64{1: {10, 20}}}
	env := newTestEnv(t, store, Options{})
	ctx := context.Background()

	alice := env.dialRoom(t, 1, env.token(t, 10, "alice"))
	readUntil(t, alice, models.EventUserJoined)

	bob := env.dialRoom(t, 1, env.token(t, 20, "bob"))
	joined := readUntil(t, alice, models.EventUserJoined)
	var who models.UserEvent
	require.NoError(t, json.Unmarshal(joined.Data, &who))
	assert.Equal(t, models.UserEvent{UserID: 20, Username: "bob"}, who)

	online, err := env.presence.OnlineUsers(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20}, online)

	send(t, bob, "join", nil)
	ok := readUntil(t, bob, models.EventSuccess)
	assert.JSONEq(t, `{"message":"Joined room"}`, string(ok.Data))

	send(t, alice, "message", map[string]any{"content": "hello bob"})
	got := readUntil(t, bob, models.EventMessage)
	var msg struct {
		Content string         `json:"content"`
		Sender  models.UserRef `json:"sender"`
	}
	require.NoError(t, json.Unmarshal(got.Data, &msg))
	assert.Equal(t, "hello bob", msg.Content)
	assert.Equal(t, int64(10), msg.Sender.ID)

	send(t, bob, "typing", nil)
	typing := readUntil(t, alice, models.EventTyping)
	assert.JSONEq(t, `{"user_id":20,"username":"bob","is_typing":true}`, string(typing.Data))

	send(t, alice, "message", map[string]any{"content": "   "})
	errFrame := readUntil(t, alice, models.EventError)
	assert.JSONEq(t, `{"message":"Message content cannot be empty"}`, string(errFrame.Data))

	send(t, alice, "dance", nil)
	errFrame = readUntil(t, alice, models.EventError)
	assert.JSONEq(t, `{"message":"Unknown message type: dance"}`, string(errFrame.Data))

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{broken")))
	errFrame = readUntil(t, alice, models.EventError)
	assert.JSONEq(t, `{"message":"Invalid JSON"}`, string(errFrame.Data))

	send(t, bob, "leave", nil)
	ok = readUntil(t, bob, models.EventSuccess)
	assert.JSONEq(t, `{"message":"Leaving room"}`, string(ok.Data))
	assert.Equal(t, CloseNormal, readCloseCode(t, bob))

	left := readUntil(t, alice, models.EventUserLeft)
	assert.JSONEq(t, `{"user_id":20,"username":"bob"}`, string(left.Data))
	offline := readUntil(t, alice, models.EventPresenceChanged)
	var pe models.PresenceEvent
	require.NoError(t, json.Unmarshal(offline.Data, &pe))
	assert.Equal(t, int64(20), pe.UserID)
	assert.False(t, pe.IsOnline)
	require.NotNil(t, pe.LastSeen)

	require.Eventually(t, func() bool {
		on, err := env.presence.IsOnline(ctx, 20)
		return err == nil && !on
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, env.hub.Size(models.RoomChannel(1)))
}

func TestChatSecondDeviceKeepsUserOnline(t *testing.T) {
	env := newTestEnv(t, &fakeStore{members: map[int64][]int64{1: {10, 20}}}, Options{})
	ctx := context.Background()
	tok := env.token(t, 10, "alice")

	phone := env.dialRoom(t, 1, tok)
	readUntil(t, phone, models.EventUserJoined)
	laptop := env.dialRoom(t, 1, tok)
	readUntil(t, laptop, models.EventUserJoined)

	require.NoError(t, phone.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	readUntil(t, laptop, models.EventUserLeft)

	require.Eventually(t, func() bool { return env.hub.Size(models.RoomChannel(1)) == 1 }, 2*time.Second, 20*time.Millisecond)
	on, err := env.presence.IsOnline(ctx, 10)
	require.NoError(t, err)
	assert.True(t, on)
}

func TestChatSecondLeaveIsNoop(t *testing.T) {
	env := newTestEnv(t, &fakeStore{members: map[int64][]int64{1: {10, 20}}}, Options{})

	alice := env.dialRoom(t, 1, env.token(t, 10, "alice"))
	readUntil(t, alice, models.EventUserJoined)
	bob := env.dialRoom(t, 1, env.token(t, 20, "bob"))
	readUntil(t, alice, models.EventUserJoined)

	send(t, bob, "leave", nil)
	send(t, bob, "leave", nil)
	assert.Equal(t, CloseNormal, readCloseCode(t, bob))

	assert.Equal(t, 1, countUntil(t, alice, models.EventPresenceChanged, models.EventUserLeft))
	require.Eventually(t, func() bool { return env.hub.Size(models.RoomChannel(1)) == 1 }, 2*time.Second, 20*time.Millisecond)

	send(t, alice, "join", nil)
	assert.Equal(t, 0, countUntil(t, alice, models.EventSuccess, models.EventUserLeft))
}

func TestChatMessageStaysInItsRoom(t *testing.T) {
	env := newTestEnv(t, &fakeStore{members: map[int64][]int64{1: {10, 20}, 2: {10, 30}}}, Options{})

	alice := env.dialRoom(t, 1, env.token(t, 10, "alice"))
	readUntil(t, alice, models.EventUserJoined)
	bob := env.dialRoom(t, 1, env.token(t, 20, "bob"))
	readUntil(t, bob, models.EventUserJoined)
	carol := env.dialRoom(t, 2, env.token(t, 30, "carol"))
	readUntil(t, carol, models.EventUserJoined)

	assert.Equal(t, 2, env.hub.Size(models.RoomChannel(1)))
	assert.Equal(t, 1, env.hub.Size(models.RoomChannel(2)))

	send(t, alice, "message", map[string]any{"content": "room one only"})
	got := readUntil(t, bob, models.EventMessage)
	assert.Contains(t, string(got.Data), `"content":"room one only"`)
	readUntil(t, alice, models.EventMessage)

	send(t, carol, "join", nil)
	assert.Equal(t, 0, countUntil(t, carol, models.EventSuccess, models.EventMessage))
}

func TestChatAttachmentBroadcast(t *testing.T) {
	env := newTestEnv(t, &fakeStore{members: map[int64][]int64{1: {10, 20}}}, Options{})

	alice := env.dialRoom(t, 1, env.token(t, 10, "alice"))
	readUntil(t, alice, models.EventUserJoined)

	send(t, alice, "attachment", map[string]any{"filename": "a.png", "file_url": "https://cdn/a.png", "file_type": "image", "file_size": 5})
	got := readUntil(t, alice, models.EventAttachment)
	assert.Contains(t, string(got.Data), `"has_attachments":true`)

	send(t, alice, "attachment", map[string]any{"filename": "b.png", "file_url": "u", "file_type": "image", "file_size": 50})
	errFrame := readUntil(t, alice, models.EventError)
	assert.JSONEq(t, `{"message":"File too large"}`, string(errFrame.Data))
}

func TestChatRateLimit(t *testing.T) {
	env := newTestEnv(t, &fakeStore{members: map[int64][]int64{1: {10}}}, Options{RatePerSec: 0.001, RateBurst: 1})

	conn := env.dialRoom(t, 1, env.token(t, 10, "alice"))
	readUntil(t, conn, models.EventUserJoined)

	send(t, conn, "join", nil)
	send(t, conn, "join", nil)
	readUntil(t, conn, models.EventSuccess)
	errFrame := readUntil(t, conn, models.EventError)
	assert.JSONEq(t, `{"message":"Rate limit exceeded"}`, string(errFrame.Data))
}

func TestNotificationSocket(t *testing.T) {
	env := newTestEnv(t, &fakeStore{}, Options{})

	assert.Equal(t, CloseUnauthenticated, readCloseCode(t, env.dial(t, "/ws/notifications/", "bad")))

	conn := env.dial(t, "/ws/notifications/", env.token(t, 42, "carol"))
	send(t, conn, "hello", nil)
	send(t, conn, "ping", nil)
	pong := readUntil(t, conn, models.EventPong)
	var p models.PongEvent
	require.NoError(t, json.Unmarshal(pong.Data, &p))
	_, err := time.Parse(time.RFC3339, p.Timestamp)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return env.hub.Size(models.UserChannel(42)) == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, env.hub.Publish(context.Background(), models.UserChannel(42), models.Envelope{
		Type: models.EventNotification,
		Data: models.Notification{ID: 7, RecipientID: 42, Title: "hi"},
	}))
	n := readUntil(t, conn, models.EventNotification)
	assert.Contains(t, string(n.Data), `"title":"hi"`)
}
