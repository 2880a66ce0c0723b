package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"chat-realtime/internal/chat"
	"chat-realtime/internal/notifications"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/telemetry"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := observability.RequestIDFromRequest(c.Request)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) int64 {
	return c.GetInt64("userID")
}

func emitAudit(c *gin.Context, emitter *telemetry.AuditEmitter, level, action, text string) {
	if emitter == nil {
		return
	}
	emitter.Emit(c.Request.Context(), level, action, text, requestIDFromContext(c), userIDFromContext(c))
}

type auditRequest struct {
	Action string `json:"action" binding:"omitempty,max=64"`
	Text   string `json:"text" binding:"omitempty,max=500"`
}

// RegisterAuditRoutes exposes POST /debug/audit, which pushes one audit entry
// through the emitter so operators can check the exchange end to end.
func RegisterAuditRoutes(router gin.IRouter, emitter *telemetry.AuditEmitter, enabled bool) {
	if !enabled || emitter == nil {
		return
	}
	router.POST("/debug/audit", func(c *gin.Context) {
		var req auditRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid audit request"})
				return
			}
		}
		if req.Action == "" {
			req.Action = "audit_check"
		}
		emitAudit(c, emitter, "INFO", req.Action, req.Text)
		c.JSON(http.StatusAccepted, gin.H{"request_id": requestIDFromContext(c)})
	})
}

func parseID(c *gin.Context, param, label string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + label})
		return 0, false
	}
	return id, true
}

// writeError maps service errors to status codes. Unclassified errors are
// logged and hidden behind fallback.
func writeError(c *gin.Context, log *zap.Logger, err error, fallback string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, chat.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, chat.ErrValidation), errors.Is(err, notifications.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, chat.ErrNotFound), errors.Is(err, notifications.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chat.ErrUnauthenticated):
		status = http.StatusUnauthorized
	}
	if status == http.StatusInternalServerError {
		log.Error(fallback, zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": fallback})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
