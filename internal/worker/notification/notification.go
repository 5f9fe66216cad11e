package notification

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/storefront/internal/config"
	"github.com/Additional-Code/storefront/internal/messaging"
	"github.com/Additional-Code/storefront/internal/notification"
	"github.com/Additional-Code/storefront/internal/worker"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/storefront/worker/notification")

// Module registers the notification delivery handler.
var Module = fx.Module("worker_notification",
	fx.Provide(
		fx.Annotate(
			NewHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// NewHandler delivers queued order notifications through the configured sender.
func NewHandler(sender notification.Sender, logger *zap.Logger, cfg config.Config) worker.HandlerRegistration {
	deliver := notification.Handler(sender, logger)

	handler := func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, "worker.notifications.deliver", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
			attribute.Int64("messaging.offset", msg.Offset),
		))
		defer span.End()

		if err := deliver(ctx, msg); err != nil {
			logger.Error("notification delivery failed", zap.Error(err))

			span.RecordError(err)
			span.SetStatus(codes.Error, "delivery error")
			return err
		}
		return nil
	}

	return worker.HandlerRegistration{
		Topic:   cfg.Messaging.Topics.Notifications,
		Handler: handler,
	}
}
