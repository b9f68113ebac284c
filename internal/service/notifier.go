package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/derek-dv/errand-backend/internal/event"
)

// NotificationDispatcher requests out-of-band delivery of a message to a
// participant with no live connection. The real dispatcher (push provider)
// is an external collaborator; this core only depends on the port.
type NotificationDispatcher interface {
	NotifyNewMessage(ctx context.Context, userID, chatID string, message event.MessageView) error
}

type logDispatcher struct {
	logger *zap.Logger
}

// NewLogDispatcher returns a dispatcher that only records the request.
// Used until a push provider is wired in deployment.
func NewLogDispatcher(logger *zap.Logger) NotificationDispatcher {
	return &logDispatcher{logger: logger}
}

func (d *logDispatcher) NotifyNewMessage(_ context.Context, userID, chatID string, message event.MessageView) error {
	d.logger.Info("push notification requested",
		zap.String("user_id", userID),
		zap.String("conversation_id", chatID),
		zap.String("message_id", message.ID),
		zap.String("sender_id", message.SenderID),
	)
	return nil
}
