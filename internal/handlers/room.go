package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chat-realtime/internal/chat"
	"chat-realtime/internal/models"
	"chat-realtime/internal/telemetry"
)

// maxUploadBytes bounds multipart uploads; the largest category is 50MB.
const maxUploadBytes = 50<<20 + 1<<20

type RoomService interface {
	CreateRoom(ctx context.Context, in chat.CreateRoomInput) (models.Room, error)
	JoinRoom(ctx context.Context, roomID, userID int64, username string) (models.Membership, error)
	LeaveRoom(ctx context.Context, roomID, userID int64, username string) error
	History(ctx context.Context, roomID, viewerID int64, limit int) ([]models.Message, error)
	UploadAttachment(ctx context.Context, in chat.UploadInput) (models.Message, error)
}

// RoomHandler manages room lifecycle, history resync and uploads.
type RoomHandler struct {
	rooms RoomService
	audit *telemetry.AuditEmitter
	log   *zap.Logger
}

func NewRoomHandler(rooms RoomService, audit *telemetry.AuditEmitter, log *zap.Logger) *RoomHandler {
	return &RoomHandler{rooms: rooms, audit: audit, log: log}
}

// CreateRoom creates a private or group room owned by the caller.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req struct {
		RoomType    models.RoomKind  `json:"room_type" binding:"required"`
		Name        string           `json:"name"`
		Description string           `json:"description"`
		MemberIDs   []int64          `json:"member_ids"`
		MemberNames map[int64]string `json:"member_names"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.rooms.CreateRoom(c.Request.Context(), chat.CreateRoomInput{
		CreatorID:   userIDFromContext(c),
		CreatorName: c.GetString("username"),
		Kind:        req.RoomType,
		Name:        req.Name,
		Description: req.Description,
		MemberIDs:   req.MemberIDs,
		MemberNames: req.MemberNames,
	})
	if err != nil {
		writeError(c, h.log, err, "could not create room")
		return
	}

	emitAudit(c, h.audit, "INFO", "room_create", "Room "+strconv.FormatInt(room.ID, 10)+" created")
	c.JSON(http.StatusCreated, room)
}

func (h *RoomHandler) JoinRoom(c *gin.Context) {
	roomID, ok := parseID(c, "room_id", "room id")
	if !ok {
		return
	}
	membership, err := h.rooms.JoinRoom(c.Request.Context(), roomID, userIDFromContext(c), c.GetString("username"))
	if err != nil {
		writeError(c, h.log, err, "could not join room")
		return
	}
	emitAudit(c, h.audit, "INFO", "room_join", "Joined room "+strconv.FormatInt(roomID, 10))
	c.JSON(http.StatusOK, membership)
}

func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	roomID, ok := parseID(c, "room_id", "room id")
	if !ok {
		return
	}
	if err := h.rooms.LeaveRoom(c.Request.Context(), roomID, userIDFromContext(c), c.GetString("username")); err != nil {
		writeError(c, h.log, err, "could not leave room")
		return
	}
	emitAudit(c, h.audit, "INFO", "room_leave", "Left room "+strconv.FormatInt(roomID, 10))
	c.Status(http.StatusNoContent)
}

// GetMessages returns recent history so reconnecting clients can resync.
func (h *RoomHandler) GetMessages(c *gin.Context) {
	roomID, ok := parseID(c, "room_id", "room id")
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	msgs, err := h.rooms.History(c.Request.Context(), roomID, userIDFromContext(c), limit)
	if err != nil {
		writeError(c, h.log, err, "failed to load messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// UploadAttachment stores a multipart "file" and broadcasts it to the room.
func (h *RoomHandler) UploadAttachment(c *gin.Context) {
	roomID, ok := parseID(c, "room_id", "room id")
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	var messageID *int64
	if raw := c.PostForm("message_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
			return
		}
		messageID = &id
	}

	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read file"})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read file"})
		return
	}

	msg, err := h.rooms.UploadAttachment(c.Request.Context(), chat.UploadInput{
		RoomID:     roomID,
		SenderID:   userIDFromContext(c),
		SenderName: c.GetString("username"),
		MessageID:  messageID,
		Filename:   header.Filename,
		Data:       data,
	})
	if err != nil {
		writeError(c, h.log, err, "could not store attachment")
		return
	}
	emitAudit(c, h.audit, "INFO", "attachment_upload", "Attachment uploaded to room "+strconv.FormatInt(roomID, 10))
	c.JSON(http.StatusCreated, msg)
}
