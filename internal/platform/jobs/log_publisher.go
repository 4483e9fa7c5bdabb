package jobs

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogPublisher writes notifications to the log instead of a topic. It backs local
// development and deployments without a configured Pub/Sub topic.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, message NotificationMessage) (string, error) {
	id := uuid.NewString()
	p.logger.Info("notification",
		zap.String("message_id", id),
		zap.String("type", message.Type),
		zap.String("order_id", message.OrderID),
		zap.String("request_id", message.RequestID),
		zap.String("status", message.Status),
		zap.String("previous_status", message.PreviousStatus),
	)
	return id, nil
}
