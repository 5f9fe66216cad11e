package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/Additional-Code/storefront/internal/port"
)

// StatsSource reports current order counts.
type StatsSource interface {
	Stats(ctx context.Context) (*port.OrderStats, error)
}

// RegisterOrderGauges exports order counts per payment status and per
// fulfillment status, read on every collection.
func RegisterOrderGauges(meter metric.Meter, source StatsSource, logger *zap.Logger) (metric.Registration, error) {
	byPayment, err := meter.Int64ObservableGauge("storefront.orders.payment_status",
		metric.WithDescription("Orders by payment status"))
	if err != nil {
		return nil, err
	}
	byStatus, err := meter.Int64ObservableGauge("storefront.orders.status",
		metric.WithDescription("Orders by fulfillment status"))
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		stats, err := source.Stats(ctx)
		if err != nil {
			logger.Warn("order gauges unavailable", zap.Error(err))
			return nil
		}
		for status, n := range stats.ByPaymentStatus {
			o.ObserveInt64(byPayment, int64(n), metric.WithAttributes(attribute.String("payment_status", status)))
		}
		for status, n := range stats.ByStatus {
			o.ObserveInt64(byStatus, int64(n), metric.WithAttributes(attribute.String("status", status)))
		}
		return nil
	}, byPayment, byStatus)
}
