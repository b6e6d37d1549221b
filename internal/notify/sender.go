package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/reyhq/rentledger/internal/db"
)

// EmailSender delivers a single queued notification. Implementations: SES
// (production), log (development).
type EmailSender interface {
	Send(ctx context.Context, item *db.NotificationItem) error
}

// LogSender logs notifications instead of delivering them. Used in
// development and as the fallback when SES is not configured.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, item *db.NotificationItem) error {
	s.logger.Info("logging notification (development mode)",
		zap.String("id", item.ID.String()),
		zap.String("kind", item.Kind),
		zap.String("recipient", item.Recipient),
		zap.String("subject", item.Subject),
	)
	return nil
}
