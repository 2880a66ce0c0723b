package ws

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chat-realtime/internal/observability"
)

const (
	kindChat          = "chat"
	kindNotifications = "notifications"
)

func newConnID() string {
	return uuid.NewString()
}

func emitLifecycle(ctx context.Context, log *zap.Logger, info ConnInfo, kind, name, reason string) {
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	if err := observability.PublishWSEvent(ctx, info.event(kind, name, reason), headers); err != nil {
		log.Debug("ws event not published", zap.String("event", name), zap.Error(err))
	}
}
