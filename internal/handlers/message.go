package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chat-realtime/internal/models"
	"chat-realtime/internal/telemetry"
)

type MessageService interface {
	EditMessage(ctx context.Context, messageID, editorID int64, content string) (models.Message, error)
	DeleteMessage(ctx context.Context, messageID, actorID int64) error
}

// MessageHandler exposes edit and delete for existing messages.
type MessageHandler struct {
	messages MessageService
	audit    *telemetry.AuditEmitter
	log      *zap.Logger
}

func NewMessageHandler(messages MessageService, audit *telemetry.AuditEmitter, log *zap.Logger) *MessageHandler {
	return &MessageHandler{messages: messages, audit: audit, log: log}
}

func (h *MessageHandler) EditMessage(c *gin.Context) {
	messageID, ok := parseID(c, "message_id", "message id")
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.messages.EditMessage(c.Request.Context(), messageID, userIDFromContext(c), req.Content)
	if err != nil {
		writeError(c, h.log, err, "could not edit message")
		return
	}
	emitAudit(c, h.audit, "INFO", "message_edit", "Message "+strconv.FormatInt(messageID, 10)+" edited")
	c.JSON(http.StatusOK, msg)
}

func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	messageID, ok := parseID(c, "message_id", "message id")
	if !ok {
		return
	}
	if err := h.messages.DeleteMessage(c.Request.Context(), messageID, userIDFromContext(c)); err != nil {
		writeError(c, h.log, err, "could not delete message")
		return
	}
	emitAudit(c, h.audit, "INFO", "message_delete", "Message "+strconv.FormatInt(messageID, 10)+" deleted")
	c.Status(http.StatusNoContent)
}
