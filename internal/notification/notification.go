// Package notification carries order events to customers and the back-office.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/storefront/internal/config"
	"github.com/Additional-Code/storefront/internal/entity"
	"github.com/Additional-Code/storefront/internal/messaging"
)

// Event kinds.
const (
	KindOrderPlaced    = "order.placed"
	KindTransferReview = "order.transfer_review"
	KindOrderPaid      = "order.paid"
)

var tracer = otel.Tracer("github.com/Additional-Code/storefront/notification")

// Event is a single notification about an order.
type Event struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	OrderID       int64           `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	CustomerEmail string          `json:"customer_email"`
	CustomerName  string          `json:"customer_name,omitempty"`
	PaymentMethod string          `json:"payment_method"`
	Channel       string          `json:"channel,omitempty"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
	ReceiptPath   string          `json:"receipt_path,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// NewEvent snapshots order into an event of the given kind.
func NewEvent(kind string, order *entity.Order) Event {
	return Event{
		ID:            uuid.NewString(),
		Kind:          kind,
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		CustomerEmail: order.CustomerEmail,
		CustomerName:  order.CustomerName,
		PaymentMethod: order.PaymentMethod,
		Channel:       order.PaidVia,
		Total:         order.TotalAmount,
		Currency:      order.Currency,
		ReceiptPath:   order.PaymentReceiptPath,
		OccurredAt:    time.Now().UTC(),
	}
}

// Publisher hands events off for delivery.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Sender delivers an event to its recipient.
type Sender interface {
	Send(ctx context.Context, event Event) error
}

// Params collects publisher dependencies.
type Params struct {
	fx.In

	Client messaging.Client
	Sender Sender
	Config config.Config
	Logger *zap.Logger
}

// Module provides the publisher and the default sender.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(NewLogSender, fx.As(new(Sender))),
		NewPublisher,
	),
)

// NewPublisher queues events on the notifications topic, or delivers them
// inline when messaging is disabled.
func NewPublisher(p Params) Publisher {
	if !p.Config.Messaging.Enabled {
		p.Logger.Info("messaging disabled; notifications are delivered inline")
		return inlinePublisher{sender: p.Sender}
	}
	return &queuePublisher{
		client: p.Client,
		topic:  p.Config.Messaging.Topics.Notifications,
	}
}

type queuePublisher struct {
	client messaging.Client
	topic  string
}

func (q *queuePublisher) Publish(ctx context.Context, event Event) error {
	ctx, span := tracer.Start(ctx, "notification.publish", trace.WithAttributes(
		attribute.String("notification.kind", event.Kind),
		attribute.String("order.number", event.OrderNumber),
	))
	defer span.End()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	key := []byte(strconv.FormatInt(event.OrderID, 10))
	if err := q.client.Publish(ctx, q.topic, key, payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

type inlinePublisher struct {
	sender Sender
}

func (i inlinePublisher) Publish(ctx context.Context, event Event) error {
	return i.sender.Send(ctx, event)
}

// Handler decodes queued events and passes them to sender.
func Handler(sender Sender, logger *zap.Logger) messaging.Handler {
	return func(ctx context.Context, msg messaging.Message) error {
		var event Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			// a malformed event will never decode; drop it
			logger.Error("discarding undecodable notification", zap.Error(err), zap.Int64("offset", msg.Offset))
			return nil
		}
		return sender.Send(ctx, event)
	}
}
