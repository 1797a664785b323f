package queue

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier writes notifications to the structured log instead of a
// broker.  It is used when no RabbitMQ URL is configured.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log.Named("notifier")}
}

// Send never fails.
func (n *LogNotifier) Send(_ context.Context, recipient, subject, body string) error {
	n.log.Info("notification",
		zap.String("recipient", recipient),
		zap.String("subject", subject),
		zap.String("body", body))
	return nil
}
