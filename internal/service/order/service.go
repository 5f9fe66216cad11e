package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/storefront/internal/cache"
	"github.com/Additional-Code/storefront/internal/config"
	"github.com/Additional-Code/storefront/internal/entity"
	"github.com/Additional-Code/storefront/internal/notification"
	"github.com/Additional-Code/storefront/internal/port"
	"github.com/Additional-Code/storefront/pkg/errorbank"
)

var (
	serviceTracer = otel.Tracer("github.com/Additional-Code/storefront/service/order")
	serviceMeter  = otel.Meter("github.com/Additional-Code/storefront/service/order")
)

// Transition outcomes recorded on the payment transitions counter.
const (
	outcomeApplied   = "applied"
	outcomeDuplicate = "duplicate"
	outcomeRejected  = "rejected"
)

// fulfillment edges an administrator may apply, keyed by target status
var fulfillmentEdges = map[string][]string{
	entity.StatusShipped:   {entity.StatusProcessing},
	entity.StatusDelivered: {entity.StatusShipped},
	entity.StatusCancelled: {entity.StatusPending, entity.StatusProcessing},
}

// Confirmation is a claim, from one channel, that an order has been paid.
type Confirmation struct {
	OrderID   int64
	Reference string
	Channel   string
	// Amount is what the gateway reports as paid; nil when the channel carries no amount.
	Amount *decimal.Decimal
	// Currency accompanies Amount; empty when the channel does not report one.
	Currency string
	Payload  []byte
}

// Transition reports the order after a payment transition. Applied is false
// when the order had already settled and nothing changed.
type Transition struct {
	Order   *entity.Order
	Applied bool
}

// Service is the order state machine. Every payment channel converges here.
type Service struct {
	orders      port.OrderRepository
	cache       cache.Store
	cacheTTL    time.Duration
	notifier    notification.Publisher
	logger      *zap.Logger
	now         func() time.Time
	transitions metric.Int64Counter
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Orders   port.OrderRepository
	Cache    cache.Store
	Notifier notification.Publisher
	Config   config.Config
	Logger   *zap.Logger
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	transitions, err := serviceMeter.Int64Counter("storefront.payment.transitions",
		metric.WithDescription("Payment transition attempts by channel and outcome"))
	if err != nil {
		p.Logger.Warn("payment transitions counter unavailable", zap.Error(err))
	}

	return &Service{
		orders:      p.Orders,
		cache:       p.Cache,
		cacheTTL:    p.Config.Cache.DefaultTTL,
		notifier:    p.Notifier,
		logger:      p.Logger,
		now:         time.Now,
		transitions: transitions,
	}
}

// ConfirmPayment moves an order into paid. Racing callers are serialised by a
// conditional update; exactly one observes Applied and only that caller
// publishes the paid notification. Later callers receive the settled order.
func (s *Service) ConfirmPayment(ctx context.Context, c Confirmation) (*Transition, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.ConfirmPayment", trace.WithAttributes(
		attribute.Int64("order.id", c.OrderID),
		attribute.String("payment.channel", c.Channel),
	))
	defer span.End()

	order, err := s.load(ctx, c.OrderID)
	if err != nil {
		return nil, err
	}

	if order.PaymentStatus == entity.PaymentPaid || order.PaymentStatus == entity.PaymentRefunded {
		s.count(ctx, c.Channel, outcomeDuplicate)
		s.logger.Info("payment already processed",
			zap.String("number", order.Number),
			zap.String("payment_status", order.PaymentStatus),
			zap.String("channel", c.Channel),
		)
		return &Transition{Order: order}, nil
	}

	if c.Amount != nil && c.Currency != "" && order.Currency != "" && !strings.EqualFold(c.Currency, order.Currency) {
		s.count(ctx, c.Channel, outcomeRejected)
		s.logger.Error("paid currency does not match order",
			zap.String("number", order.Number),
			zap.String("paid_currency", c.Currency),
			zap.String("order_currency", order.Currency),
			zap.String("channel", c.Channel),
		)
		return nil, errorbank.Unprocessable("paid currency does not match the order",
			errorbank.WithDetail("order_number", order.Number))
	}

	if c.Amount != nil && c.Amount.LessThan(order.TotalAmount) {
		s.count(ctx, c.Channel, outcomeRejected)
		s.logger.Error("paid amount below order total",
			zap.String("number", order.Number),
			zap.String("paid", c.Amount.StringFixed(2)),
			zap.String("total", order.TotalAmount.StringFixed(2)),
			zap.String("channel", c.Channel),
		)
		return nil, errorbank.Unprocessable("paid amount does not cover the order total",
			errorbank.WithDetail("order_number", order.Number))
	}

	reference := c.Reference
	if reference == "" {
		reference = order.GatewayReference
	}
	applied, err := s.orders.MarkPaid(ctx, order.ID, port.PaymentChange{
		Reference: reference,
		Channel:   c.Channel,
		Payload:   string(c.Payload),
		At:        s.now().UTC(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mark paid failed")
		return nil, errorbank.Internal("failed to record payment", errorbank.WithCause(err))
	}

	s.invalidate(ctx, order.ID)
	current, err := s.load(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	if !applied {
		s.count(ctx, c.Channel, outcomeDuplicate)
		return &Transition{Order: current}, nil
	}

	s.count(ctx, c.Channel, outcomeApplied)
	s.logger.Info("order paid",
		zap.String("number", current.Number),
		zap.String("channel", c.Channel),
		zap.String("status", current.Status),
	)
	if current.Status == entity.StatusCancelled {
		s.logger.Warn("payment received for cancelled order; refund required", zap.String("number", current.Number))
	}
	s.notify(ctx, notification.KindOrderPaid, current)

	return &Transition{Order: current, Applied: true}, nil
}

// RecordFailure marks a pending payment failed. A later confirmation can still settle it.
func (s *Service) RecordFailure(ctx context.Context, orderID int64, payload []byte) (bool, error) {
	applied, err := s.orders.MarkFailed(ctx, orderID, port.PaymentChange{
		Payload: string(payload),
		At:      s.now().UTC(),
	})
	if err != nil {
		return false, errorbank.Internal("failed to record payment failure", errorbank.WithCause(err))
	}
	if applied {
		s.invalidate(ctx, orderID)
	}
	return applied, nil
}

// RecordCheck stores the outcome of a verification attempt.
func (s *Service) RecordCheck(ctx context.Context, orderID int64, payload []byte) {
	if err := s.orders.RecordCheck(ctx, orderID, string(payload), s.now().UTC()); err != nil {
		s.logger.Warn("record verification attempt failed", zap.Int64("order_id", orderID), zap.Error(err))
		return
	}
	s.invalidate(ctx, orderID)
}

// Refund moves a paid order to refunded. Administrative only.
func (s *Service) Refund(ctx context.Context, id int64, notes string) (*entity.Order, error) {
	applied, err := s.orders.MarkRefunded(ctx, id, notes, s.now().UTC())
	if err != nil {
		return nil, errorbank.Internal("failed to refund order", errorbank.WithCause(err))
	}
	s.invalidate(ctx, id)

	order, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, errorbank.Conflict("only paid orders can be refunded",
			errorbank.WithDetail("payment_status", order.PaymentStatus))
	}
	s.logger.Info("order refunded", zap.String("number", order.Number))
	return order, nil
}

// UpdateStatus applies an administrative fulfillment transition. Cancelling an
// order whose payment has not settled returns its stock; the check and the
// swap happen together so a payment landing concurrently keeps its stock.
func (s *Service) UpdateStatus(ctx context.Context, id int64, to, notes string) (*entity.Order, error) {
	from, ok := fulfillmentEdges[to]
	if !ok {
		return nil, errorbank.BadRequest(fmt.Sprintf("status cannot be set to %q", to))
	}

	var (
		applied, released bool
		err               error
	)
	if to == entity.StatusCancelled {
		applied, released, err = s.orders.Cancel(ctx, id, from, notes, s.now().UTC())
	} else {
		applied, err = s.orders.UpdateStatus(ctx, id, from, to, notes, s.now().UTC())
	}
	if err != nil {
		return nil, errorbank.Internal("failed to update order status", errorbank.WithCause(err))
	}
	s.invalidate(ctx, id)

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, errorbank.Conflict(fmt.Sprintf("order cannot move from %s to %s", current.Status, to))
	}
	if to == entity.StatusCancelled {
		s.logger.Info("order cancelled",
			zap.String("number", current.Number),
			zap.String("payment_status", current.PaymentStatus),
			zap.Bool("stock_released", released),
		)
	}
	return current, nil
}

// Get retrieves an order by id, consulting cache when available.
func (s *Service) Get(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Get", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	if order, err := s.getFromCache(ctx, id); err == nil {
		return order, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("orders cache read failed", zap.Int64("id", id), zap.Error(err))
	}

	order, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.storeInCache(ctx, order); err != nil {
		s.logger.Warn("orders cache write failed", zap.Int64("id", id), zap.Error(err))
	}
	return order, nil
}

// Reload reads the order from the primary store, bypassing the cache.
func (s *Service) Reload(ctx context.Context, id int64) (*entity.Order, error) {
	return s.load(ctx, id)
}

// GetByNumber retrieves an order by its public number.
func (s *Service) GetByNumber(ctx context.Context, number string) (*entity.Order, error) {
	order, err := s.orders.GetByNumber(ctx, number)
	if errors.Is(err, port.ErrNotFound) {
		return nil, errorbank.NotFound("order not found")
	}
	if err != nil {
		return nil, errorbank.Internal("failed to load order", errorbank.WithCause(err))
	}
	return order, nil
}

// FindByReference resolves a payment reference to its order.
func (s *Service) FindByReference(ctx context.Context, reference string) (*entity.Order, error) {
	order, err := s.orders.FindByReference(ctx, reference)
	if errors.Is(err, port.ErrNotFound) {
		return nil, errorbank.NotFound("order not found", errorbank.WithDetail("reference", reference))
	}
	if err != nil {
		return nil, errorbank.Internal("failed to load order", errorbank.WithCause(err))
	}
	return order, nil
}

// List returns a page of orders.
func (s *Service) List(ctx context.Context, filter port.OrderFilter) ([]*entity.Order, int, error) {
	orders, total, err := s.orders.List(ctx, filter)
	if err != nil {
		return nil, 0, errorbank.Internal("failed to list orders", errorbank.WithCause(err))
	}
	return orders, total, nil
}

// Stats aggregates order counts and revenue.
func (s *Service) Stats(ctx context.Context) (*port.OrderStats, error) {
	stats, err := s.orders.Stats(ctx)
	if err != nil {
		return nil, errorbank.Internal("failed to compute order stats", errorbank.WithCause(err))
	}
	return stats, nil
}

// Notify publishes an order event. Failures are logged, never returned.
func (s *Service) Notify(ctx context.Context, kind string, order *entity.Order) {
	s.notify(ctx, kind, order)
}

func (s *Service) notify(ctx context.Context, kind string, order *entity.Order) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, notification.NewEvent(kind, order)); err != nil {
		s.logger.Error("publish notification failed",
			zap.String("kind", kind),
			zap.String("number", order.Number),
			zap.Error(err),
		)
	}
}

func (s *Service) load(ctx context.Context, id int64) (*entity.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if errors.Is(err, port.ErrNotFound) {
		return nil, errorbank.NotFound("order not found")
	}
	if err != nil {
		return nil, errorbank.Internal("failed to load order", errorbank.WithCause(err))
	}
	return order, nil
}

func (s *Service) count(ctx context.Context, channel, outcome string) {
	if s.transitions == nil {
		return
	}
	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("outcome", outcome),
	))
}

func (s *Service) cacheKey(id int64) string {
	return fmt.Sprintf("orders:%d", id)
}

func (s *Service) invalidate(ctx context.Context, id int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, s.cacheKey(id)); err != nil {
		s.logger.Warn("orders cache invalidation failed", zap.Int64("id", id), zap.Error(err))
	}
}

func (s *Service) getFromCache(ctx context.Context, id int64) (*entity.Order, error) {
	if s.cache == nil {
		return nil, cache.ErrCacheMiss
	}
	bytes, err := s.cache.Get(ctx, s.cacheKey(id))
	if err != nil {
		return nil, err
	}
	var order entity.Order
	if err := json.Unmarshal(bytes, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Service) storeInCache(ctx context.Context, order *entity.Order) error {
	if s.cache == nil || order == nil {
		return nil
	}
	bytes, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, s.cacheKey(order.ID), bytes, s.cacheTTL)
}
