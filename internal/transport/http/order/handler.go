package order

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/Additional-Code/storefront/internal/dto"
	"github.com/Additional-Code/storefront/internal/presentation/http/response"
	"github.com/Additional-Code/storefront/internal/service/checkout"
	ordersvc "github.com/Additional-Code/storefront/internal/service/order"
	"github.com/Additional-Code/storefront/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/storefront/transport/http/order")

// Module wires the public checkout and order lookup routes.
var Module = fx.Module("http_order",
	fx.Provide(NewHandler),
	fx.Invoke(Register),
)

// IdempotencyHeader carries the client's checkout idempotency key.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes order endpoints over HTTP.
type Handler struct {
	checkout *checkout.Service
	orders   *ordersvc.Service
}

// NewHandler constructs an order Handler.
func NewHandler(checkoutSvc *checkout.Service, orders *ordersvc.Service) *Handler {
	return &Handler{checkout: checkoutSvc, orders: orders}
}

// Register routes with provided Echo group.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/orders")
	g.POST("", h.create)
	g.GET("/:number", h.getByNumber)
}

func (h *Handler) getByNumber(c echo.Context) error {
	b := response.New(c)
	number := c.Param("number")

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.getByNumber", trace.WithAttributes(attribute.String("order.number", number)))
	defer span.End()

	order, err := h.orders.GetByNumber(ctx, number)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewOrderResponse(order)).Build()
}

func (h *Handler) create(c echo.Context) error {
	b := response.New(c)

	payload, receipt, err := bindCheckout(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	if receipt != nil {
		defer receipt.Close()
	}

	req := checkout.Request{
		CustomerID:      payload.CustomerID,
		CustomerEmail:   payload.CustomerEmail,
		CustomerName:    payload.CustomerName,
		ShippingAddress: payload.ShippingAddress,
		PaymentMethod:   payload.PaymentMethod,
		Notes:           payload.Notes,
		IdempotencyKey:  strings.TrimSpace(c.Request().Header.Get(IdempotencyHeader)),
	}
	for _, it := range payload.Items {
		req.Items = append(req.Items, checkout.Item{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	if receipt != nil {
		req.Receipt = receipt
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.create", trace.WithAttributes(
		attribute.String("payment.method", payload.PaymentMethod),
		attribute.Int("order.items", len(payload.Items)),
	))
	defer span.End()

	res, err := h.checkout.Checkout(ctx, req)
	if err != nil {
		return b.WithError(err).Build()
	}
	span.SetAttributes(attribute.String("order.number", res.Order.Number))

	out := dto.CheckoutResponse{
		Order:       dto.NewOrderResponse(res.Order),
		RedirectURL: res.RedirectURL,
	}
	if res.Bank != nil {
		out.BankDetails = &dto.BankDetailsResponse{
			BankName:      res.Bank.BankName,
			AccountNumber: res.Bank.AccountNumber,
			AccountName:   res.Bank.AccountName,
			Reference:     res.Bank.Reference,
			Amount:        res.Bank.Amount,
			Currency:      res.Bank.Currency,
		}
	}
	return b.WithStatus(http.StatusCreated).WithData(out).Build()
}

// bindCheckout reads either a JSON body or a multipart form whose "order"
// field holds the JSON and whose optional "receipt" file is the transfer proof.
func bindCheckout(c echo.Context) (*dto.CheckoutRequest, io.ReadCloser, error) {
	var payload dto.CheckoutRequest

	contentType := c.Request().Header.Get(echo.HeaderContentType)
	if !strings.HasPrefix(contentType, echo.MIMEMultipartForm) {
		if err := c.Bind(&payload); err != nil {
			return nil, nil, errorbank.BadRequest("invalid payload", errorbank.WithCause(err))
		}
		return &payload, nil, nil
	}

	if err := json.Unmarshal([]byte(c.FormValue("order")), &payload); err != nil {
		return nil, nil, errorbank.BadRequest("invalid order field", errorbank.WithCause(err))
	}
	header, err := c.FormFile("receipt")
	if errors.Is(err, http.ErrMissingFile) {
		return &payload, nil, nil
	}
	if err != nil {
		return nil, nil, errorbank.BadRequest("invalid receipt upload", errorbank.WithCause(err))
	}
	file, err := header.Open()
	if err != nil {
		return nil, nil, errorbank.BadRequest("unreadable receipt upload", errorbank.WithCause(err))
	}
	return &payload, file, nil
}
