package notification

import (
	"context"

	"go.uber.org/zap"

	"github.com/Additional-Code/storefront/internal/config"
)

// LogSender writes notifications to the log in place of a mail transport.
type LogSender struct {
	logger     *zap.Logger
	adminEmail string
}

// NewLogSender builds the default sender.
func NewLogSender(cfg config.Config, logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger, adminEmail: cfg.Admin.NotifyEmail}
}

// Recipient returns who should receive event.
func (s *LogSender) Recipient(event Event) string {
	if event.Kind == KindTransferReview && s.adminEmail != "" {
		return s.adminEmail
	}
	return event.CustomerEmail
}

func (s *LogSender) Send(_ context.Context, event Event) error {
	s.logger.Info("notification sent",
		zap.String("id", event.ID),
		zap.String("kind", event.Kind),
		zap.String("to", s.Recipient(event)),
		zap.String("order_number", event.OrderNumber),
		zap.String("total", event.Total.StringFixed(2)),
		zap.String("currency", event.Currency),
	)
	return nil
}
