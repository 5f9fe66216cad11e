package payment

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
	paymentsvc "github.com/Additional-Code/storefront/internal/service/payment"
	"github.com/Additional-Code/storefront/internal/worker"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/storefront/worker/payment")

// Module registers the payment reconciliation handler.
var Module = fx.Module("worker_payment",
	fx.Provide(
		fx.Annotate(
			NewReconcileHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// NewReconcileHandler feeds reconcile tasks to the dispatcher.
func NewReconcileHandler(dispatcher *paymentsvc.Dispatcher, logger *zap.Logger, cfg config.Config) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, "worker.payments.reconcile", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
			attribute.Int64("messaging.offset", msg.Offset),
		))
		defer span.End()

		if err := dispatcher.Handle(ctx, msg); err != nil {
			logger.Error("reconcile task failed", zap.Error(err), zap.ByteString("key", msg.Key))

			span.RecordError(err)
			span.SetStatus(codes.Error, "reconcile error")
			return err
		}
		return nil
	}

	return worker.HandlerRegistration{
		Topic:   cfg.Messaging.Topics.Reconcile,
		Handler: handler,
	}
}
