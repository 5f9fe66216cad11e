package payment

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/storefront/internal/entity"
	"github.com/Additional-Code/storefront/internal/gateway"
	ordersvc "github.com/Additional-Code/storefront/internal/service/order"
	"github.com/Additional-Code/storefront/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/storefront/service/payment")

// TransferReviewMessage is returned when a transfer order is verified.
const TransferReviewMessage = "Bank transfer verification requires manual admin review"

// WebhookResult describes what a callback did.
type WebhookResult struct {
	// Handled is false for event types that never settle an order.
	Handled bool
	Applied bool
	Order   *entity.Order
}

// VerifyResult is the outcome of a manual verification.
type VerifyResult struct {
	Order   *entity.Order
	Status  gateway.Status
	Applied bool
	Message string
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Orders   *ordersvc.Service
	Gateways *gateway.Registry
	Logger   *zap.Logger
}

// Service routes webhook, manual and administrative payment claims into the order state machine.
type Service struct {
	orders   *ordersvc.Service
	gateways *gateway.Registry
	logger   *zap.Logger
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{orders: p.Orders, gateways: p.Gateways, logger: p.Logger}
}

// SignatureHeader names the header provider signs its callbacks in; empty
// for an unknown provider.
func (s *Service) SignatureHeader(provider string) string {
	gw, err := s.gateways.Get(provider)
	if err != nil {
		return ""
	}
	return gw.SignatureHeader()
}

// HandleWebhook authenticates and applies a provider callback. body must be
// the request bytes exactly as received.
func (s *Service) HandleWebhook(ctx context.Context, provider string, body []byte, signature string) (*WebhookResult, error) {
	ctx, span := serviceTracer.Start(ctx, "PaymentService.HandleWebhook", trace.WithAttributes(
		attribute.String("payment.gateway", provider),
	))
	defer span.End()

	gw, err := s.gateways.Get(provider)
	if err != nil {
		return nil, errorbank.NotFound("unknown payment gateway")
	}

	if !gw.VerifySignature(body, signature) {
		s.logger.Warn("webhook signature rejected",
			zap.String("gateway", provider),
			zap.Int("bytes", len(body)),
			zap.Bool("signature_present", signature != ""),
		)
		return nil, errorbank.InvalidSignature("invalid signature")
	}

	event, err := gw.ParseWebhook(body)
	if err != nil {
		return nil, errorbank.BadRequest("malformed webhook payload", errorbank.WithCause(err))
	}
	if !event.Succeeded {
		s.logger.Info("webhook event ignored", zap.String("gateway", provider), zap.String("event", event.Type))
		return &WebhookResult{}, nil
	}

	order, err := s.orders.FindByReference(ctx, event.Reference)
	if err != nil {
		if errorbank.Is(err, errorbank.KindNotFound) {
			s.logger.Error("webhook for unknown payment reference",
				zap.String("gateway", provider),
				zap.String("reference", event.Reference),
			)
		}
		return nil, err
	}
	if order.PaymentMethod != gw.Name() {
		s.logger.Error("webhook gateway does not match order",
			zap.String("gateway", provider),
			zap.String("number", order.Number),
			zap.String("payment_method", order.PaymentMethod),
		)
		return nil, errorbank.Conflict("reference belongs to another payment method")
	}

	confirmation := ordersvc.Confirmation{
		OrderID:   order.ID,
		Reference: event.Reference,
		Channel:   entity.ChannelWebhook,
		Payload:   body,
	}
	if event.Amount.IsPositive() {
		confirmation.Amount = &event.Amount
		confirmation.Currency = event.Currency
	}

	tr, err := s.orders.ConfirmPayment(ctx, confirmation)
	if err != nil {
		return nil, err
	}
	return &WebhookResult{Handled: true, Applied: tr.Applied, Order: tr.Order}, nil
}

// Verify asks the gateway for the payment state of reference and applies it.
// Transfer orders are only reported; they settle through an administrator.
func (s *Service) Verify(ctx context.Context, reference, method string) (*VerifyResult, error) {
	ctx, span := serviceTracer.Start(ctx, "PaymentService.Verify", trace.WithAttributes(
		attribute.String("payment.reference", reference),
		attribute.String("payment.method", method),
	))
	defer span.End()

	if reference == "" {
		return nil, errorbank.BadRequest("reference is required")
	}
	order, err := s.orders.FindByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	if method == entity.MethodTransfer || order.PaymentMethod == entity.MethodTransfer {
		return &VerifyResult{Order: order, Status: statusOf(order), Message: TransferReviewMessage}, nil
	}
	if method != "" && method != order.PaymentMethod {
		return nil, errorbank.BadRequest("payment method does not match the order")
	}
	if order.IsPaid() {
		return &VerifyResult{Order: order, Status: gateway.StatusSuccess, Message: "Payment already processed"}, nil
	}

	gw, err := s.gateways.Get(order.PaymentMethod)
	if err != nil {
		return nil, errorbank.BadRequest("payment method is not available")
	}
	ref := order.GatewayReference
	if ref == "" {
		ref = order.Number
	}

	v, err := gw.Verify(ctx, ref)
	if err != nil {
		return nil, gateway.AppError(err)
	}
	s.orders.RecordCheck(ctx, order.ID, v.Raw)

	return s.apply(ctx, order, v, entity.ChannelManual)
}

// ConfirmTransfer marks a transfer order paid after an administrator has seen the money.
func (s *Service) ConfirmTransfer(ctx context.Context, orderID int64) (*ordersvc.Transition, error) {
	order, err := s.orders.Reload(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentMethod != entity.MethodTransfer {
		return nil, errorbank.BadRequest("gateway orders settle through verification")
	}
	return s.orders.ConfirmPayment(ctx, ordersvc.Confirmation{
		OrderID: order.ID,
		Channel: entity.ChannelAdmin,
	})
}

func (s *Service) apply(ctx context.Context, order *entity.Order, v *gateway.Verification, channel string) (*VerifyResult, error) {
	switch v.Status {
	case gateway.StatusSuccess:
		amount := v.Amount
		tr, err := s.orders.ConfirmPayment(ctx, ordersvc.Confirmation{
			OrderID:   order.ID,
			Reference: v.Reference,
			Channel:   channel,
			Amount:    &amount,
			Currency:  v.Currency,
			Payload:   v.Raw,
		})
		if err != nil {
			return nil, err
		}
		return &VerifyResult{Order: tr.Order, Status: v.Status, Applied: tr.Applied, Message: "Payment verified"}, nil
	case gateway.StatusFailed:
		if _, err := s.orders.RecordFailure(ctx, order.ID, v.Raw); err != nil {
			return nil, err
		}
	}

	current, err := s.orders.Reload(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{Order: current, Status: v.Status, Message: verifyMessage(v)}, nil
}

func verifyMessage(v *gateway.Verification) string {
	if v.Message != "" {
		return v.Message
	}
	return "Payment " + string(v.Status)
}

func statusOf(order *entity.Order) gateway.Status {
	switch order.PaymentStatus {
	case entity.PaymentPaid:
		return gateway.StatusSuccess
	case entity.PaymentFailed:
		return gateway.StatusFailed
	default:
		return gateway.StatusPending
	}
}
