package ws

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ChatWebSocketHandler serves /ws/chat/:room_id/.
type ChatWebSocketHandler struct {
	gateway *Gateway
	log     *zap.Logger
}

// NewChatWebSocketHandler constructs a ChatWebSocketHandler.
func NewChatWebSocketHandler(gateway *Gateway, log *zap.Logger) *ChatWebSocketHandler {
	return &ChatWebSocketHandler{gateway: gateway, log: log}
}

// Handle upgrades first so that auth and membership failures reach the
// client as close codes.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	roomID, err := strconv.ParseInt(c.Param("room_id"), 10, 64)
	if err != nil || roomID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	conn, info, ctx, ok := upgrade(c, h.log)
	if !ok {
		return
	}
	go h.gateway.ServeChat(ctx, conn, auth.TokenFromRequest(c.Request), roomID, info)
}

// NotificationWebSocketHandler serves /ws/notifications/.
type NotificationWebSocketHandler struct {
	gateway *Gateway
	log     *zap.Logger
}

func NewNotificationWebSocketHandler(gateway *Gateway, log *zap.Logger) *NotificationWebSocketHandler {
	return &NotificationWebSocketHandler{gateway: gateway, log: log}
}

func (h *NotificationWebSocketHandler) Handle(c *gin.Context) {
	conn, info, ctx, ok := upgrade(c, h.log)
	if !ok {
		return
	}
	go h.gateway.ServeNotifications(ctx, conn, auth.TokenFromRequest(c.Request), info)
}

// upgrade switches protocols inside a ws.handshake span and returns a
// context that outlives the HTTP request.
func upgrade(c *gin.Context, log *zap.Logger) (*websocket.Conn, ConnInfo, context.Context, bool) {
	ctx, span := otel.Tracer("chat-realtime/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upgrade failed")
		log.Debug("ws upgrade failed", zap.Error(err))
		return nil, ConnInfo{}, nil, false
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	return conn, info, context.WithoutCancel(ctx), true
}
