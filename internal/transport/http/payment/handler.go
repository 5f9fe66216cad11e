package payment

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/Additional-Code/storefront/internal/dto"
	"github.com/Additional-Code/storefront/internal/presentation/http/response"
	"github.com/Additional-Code/storefront/internal/service/checkout"
	paymentsvc "github.com/Additional-Code/storefront/internal/service/payment"
	"github.com/Additional-Code/storefront/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/storefront/transport/http/payment")

// maxWebhookBytes bounds provider callback bodies.
const maxWebhookBytes = 1 << 20

// Module wires HTTP payment handlers.
var Module = fx.Options(
	fx.Provide(NewHandler),
	fx.Invoke(func(e *echo.Echo, h *Handler) {
		Register(e, h)
	}),
)

// Handler exposes webhook, verification and payment method endpoints.
type Handler struct {
	payments *paymentsvc.Service
	checkout *checkout.Service
}

// NewHandler constructs a payment Handler.
func NewHandler(payments *paymentsvc.Service, checkoutSvc *checkout.Service) *Handler {
	return &Handler{payments: payments, checkout: checkoutSvc}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	e.POST("/webhooks/:provider", h.webhook)
	e.POST("/payments/verify", h.verify)
	e.GET("/payment-methods", h.methods)
}

func (h *Handler) webhook(c echo.Context) error {
	b := response.New(c)
	provider := c.Param("provider")

	ctx, span := httpTracer.Start(c.Request().Context(), "payments.webhook", trace.WithAttributes(attribute.String("payment.gateway", provider)))
	defer span.End()

	// The signature covers the exact bytes received, so the body is never re-encoded.
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBytes))
	if err != nil {
		return b.WithError(errorbank.BadRequest("unreadable body", errorbank.WithCause(err))).Build()
	}
	signature := c.Request().Header.Get(h.payments.SignatureHeader(provider))

	res, err := h.payments.HandleWebhook(ctx, provider, body, signature)
	if err != nil {
		return b.WithError(err).Build()
	}

	out := dto.WebhookResponse{Received: true, Handled: res.Handled, Applied: res.Applied}
	if res.Order != nil {
		out.Number = res.Order.Number
	}
	return b.WithData(out).Build()
}

func (h *Handler) verify(c echo.Context) error {
	b := response.New(c)

	var req dto.VerifyRequest
	if err := c.Bind(&req); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "payments.verify", trace.WithAttributes(attribute.String("payment.reference", req.Reference)))
	defer span.End()

	res, err := h.payments.Verify(ctx, req.Reference, req.PaymentMethod)
	if err != nil {
		return b.WithError(err).Build()
	}

	out := dto.VerifyResponse{Status: string(res.Status), Message: res.Message, Applied: res.Applied}
	if res.Order != nil {
		order := dto.NewOrderResponse(res.Order)
		out.Order = &order
	}
	return b.WithData(out).Build()
}

func (h *Handler) methods(c echo.Context) error {
	return response.New(c).WithStatus(http.StatusOK).WithData(map[string][]string{
		"payment_methods": h.checkout.PaymentMethods(),
	}).Build()
}
