package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chat-realtime/internal/models"
)

type NotificationService interface {
	MarkRead(ctx context.Context, recipientID, id int64) (models.Notification, error)
	MarkUnread(ctx context.Context, recipientID, id int64) (models.Notification, error)
	BulkMarkRead(ctx context.Context, recipientID int64, ids []int64) (int64, error)
	MarkAllRead(ctx context.Context, recipientID int64) (int64, error)
	UnreadCount(ctx context.Context, recipientID int64) (int, error)
}

// NotificationHandler manages read state of the caller's notifications.
type NotificationHandler struct {
	notifications NotificationService
	log           *zap.Logger
}

func NewNotificationHandler(notifications NotificationService, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, log: log}
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, ok := parseID(c, "id", "notification id")
	if !ok {
		return
	}
	n, err := h.notifications.MarkRead(c.Request.Context(), userIDFromContext(c), id)
	if err != nil {
		writeError(c, h.log, err, "could not update notification")
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *NotificationHandler) MarkUnread(c *gin.Context) {
	id, ok := parseID(c, "id", "notification id")
	if !ok {
		return
	}
	n, err := h.notifications.MarkUnread(c.Request.Context(), userIDFromContext(c), id)
	if err != nil {
		writeError(c, h.log, err, "could not update notification")
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *NotificationHandler) BulkMarkRead(c *gin.Context) {
	var req struct {
		IDs []int64 `json:"ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updated, err := h.notifications.BulkMarkRead(c.Request.Context(), userIDFromContext(c), req.IDs)
	if err != nil {
		writeError(c, h.log, err, "could not update notifications")
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	updated, err := h.notifications.MarkAllRead(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		writeError(c, h.log, err, "could not update notifications")
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	count, err := h.notifications.UnreadCount(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		writeError(c, h.log, err, "failed to count notifications")
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": count})
}
