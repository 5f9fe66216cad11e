package admin

import (
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/storefront/internal/config"
	"github.com/Additional-Code/storefront/internal/dto"
	"github.com/Additional-Code/storefront/internal/entity"
	"github.com/Additional-Code/storefront/internal/port"
	"github.com/Additional-Code/storefront/internal/presentation/http/response"
	ordersvc "github.com/Additional-Code/storefront/internal/service/order"
	paymentsvc "github.com/Additional-Code/storefront/internal/service/payment"
	productsvc "github.com/Additional-Code/storefront/internal/service/product"
	settingsvc "github.com/Additional-Code/storefront/internal/service/setting"
	"github.com/Additional-Code/storefront/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/storefront/transport/http/admin")

const maxPageSize = 100

// Module wires the back-office routes.
var Module = fx.Options(
	fx.Provide(NewHandler),
	fx.Invoke(func(e *echo.Echo, h *Handler, cfg config.Config, logger *zap.Logger) {
		if cfg.Admin.APIToken == "" {
			logger.Warn("ADMIN_API_TOKEN not set; back-office routes reject every request")
		}
		Register(e, h, cfg.Admin.APIToken)
	}),
)

// HandlerParams defines dependencies for constructing Handler.
type HandlerParams struct {
	fx.In

	Orders     *ordersvc.Service
	Payments   *paymentsvc.Service
	Dispatcher *paymentsvc.Dispatcher
	Products   *productsvc.Service
	Settings   *settingsvc.Service
}

// Handler exposes the back-office API.
type Handler struct {
	orders     *ordersvc.Service
	payments   *paymentsvc.Service
	dispatcher *paymentsvc.Dispatcher
	products   *productsvc.Service
	settings   *settingsvc.Service
}

// NewHandler constructs an admin Handler.
func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		orders:     p.Orders,
		payments:   p.Payments,
		dispatcher: p.Dispatcher,
		products:   p.Products,
		settings:   p.Settings,
	}
}

// Register mounts the routes under /admin behind a bearer token.
func Register(e *echo.Echo, h *Handler, token string) {
	g := e.Group("/admin", middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(key string, _ echo.Context) (bool, error) {
			if token == "" {
				return false, nil
			}
			return subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1, nil
		},
	}))

	g.GET("/orders", h.listOrders)
	g.GET("/orders/:id", h.getOrder)
	g.POST("/orders/:id/status", h.updateStatus)
	g.POST("/orders/:id/mark-paid", h.markPaid)
	g.POST("/orders/:id/refund", h.refund)
	g.POST("/orders/:id/reconcile", h.reconcile)
	g.GET("/stats", h.stats)

	g.GET("/products", h.listProducts)
	g.POST("/products", h.createProduct)
	g.PATCH("/products/:id", h.updateProduct)
	g.POST("/products/:id/restock", h.restock)

	g.PUT("/settings/:key", h.setSetting)
}

func (h *Handler) listOrders(c echo.Context) error {
	b := response.New(c)
	limit, offset := page(c)

	filter := port.OrderFilter{
		Status:        c.QueryParam("status"),
		PaymentStatus: c.QueryParam("payment_status"),
		PaymentMethod: c.QueryParam("payment_method"),
		Limit:         limit,
		Offset:        offset,
	}
	if v := c.QueryParam("customer_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return b.WithError(errorbank.BadRequest("invalid customer_id", errorbank.WithCause(err))).Build()
		}
		filter.CustomerID = id
	}

	orders, total, err := h.orders.List(c.Request().Context(), filter)
	if err != nil {
		return b.WithError(err).Build()
	}
	out := make([]dto.AdminOrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, dto.NewAdminOrderResponse(o))
	}
	return b.WithData(out).WithPage(total, limit, offset).Build()
}

func (h *Handler) getOrder(c echo.Context) error {
	b := response.New(c)
	id, err := pathID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	order, err := h.orders.Get(c.Request().Context(), id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewAdminOrderResponse(order)).Build()
}

func (h *Handler) updateStatus(c echo.Context) error {
	b := response.New(c)
	id, err := pathID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	var req dto.StatusUpdateRequest
	if err := c.Bind(&req); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "admin.orders.updateStatus", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("order.status", req.Status),
	))
	defer span.End()

	order, err := h.orders.UpdateStatus(ctx, id, req.Status, req.Notes)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewAdminOrderResponse(order)).Build()
}

func (h *Handler) markPaid(c echo.Context) error {
	b := response.New(c)
	id, err := pathID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "admin.orders.markPaid", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	tr, err := h.payments.ConfirmTransfer(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewAdminOrderResponse(tr.Order)).WithMeta("applied", tr.Applied).Build()
}

func (h *Handler) refund(c echo.Context) error {
	b := response.New(c)
	id, err := pathID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	var req dto.RefundRequest
	if err := c.Bind(&req); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	order, err := h.orders.Refund(c.Request().Context(), id, req.Notes)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewAdminOrderResponse(order)).Build()
}

func (h *Handler) reconcile(c echo.Context) error {
	b := response.New(c)
	id, err := pathID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	ctx := c.Request().Context()

	order, err := h.orders.Reload(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	if order.PaymentStatus == entity.PaymentPaid {
		return b.WithData(map[string]string{"message": "Payment already processed"}).Build()
	}
	if err := h.dispatcher.ScheduleNow(ctx, order); err != nil {
		return b.WithError(err).Build()
	}
	return b.WithStatus(http.StatusAccepted).WithData(map[string]string{"message": "Reconciliation queued"}).Build()
}

func (h *Handler) stats(c echo.Context) error {
	b := response.New(c)
	ctx := c.Request().Context()

	stats, err := h.orders.Stats(ctx)
	if err != nil {
		return b.WithError(err).Build()
	}
	_, products, err := h.products.List(ctx, port.ProductFilter{Limit: 1})
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.StatsResponse{
		TotalOrders:     stats.TotalOrders,
		PaidRevenue:     stats.PaidRevenue,
		ByStatus:        stats.ByStatus,
		ByPaymentStatus: stats.ByPaymentStatus,
		Products:        products,
	}).Build()
}

func (h *Handler) listProducts(c echo.Context) error {
	b := response.New(c)
	limit, offset := page(c)

	products, total, err := h.products.List(c.Request().Context(), port.ProductFilter{
		ActiveOnly: c.QueryParam("active") == "true",
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return b.WithError(err).Build()
	}
	out := make([]dto.ProductResponse, 0, len(products))
	for _, p := range products {
		out = append(out, dto.NewProductResponse(p))
	}
	return b.WithData(out).WithPage(total, limit, offset).Build()
}

func (h *Handler) createProduct(c echo.Context) error {
	b := response.New(c)
	var req dto.ProductRequest
	if err := c.Bind(&req); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	p, err := h.products.Create(c.Request().Context(), productsvc.Input{
		Name:          req.Name,
		Slug:          req.Slug,
		SKU:           req.SKU,
		Description:   req.Description,
		Price:         req.Price,
		SalePrice:     req.SalePrice,
		StockQuantity: req.StockQuantity,
		IsActive:      req.IsActive,
	})
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithStatus(http.StatusCreated).WithData(dto.NewProductResponse(p)).Build()
}

func (h *Handler) updateProduct(c echo.Context) error {
	b := response.New(c)
	id, err := pathID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	var req dto.ProductPatchRequest
	if err := c.Bind(&req); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	p, err := h.products.Update(c.Request().Context(), id, productsvc.Patch{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		SalePrice:   req.SalePrice,
		ClearSale:   req.ClearSale,
		IsActive:    req.IsActive,
	})
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewProductResponse(p)).Build()
}

func (h *Handler) restock(c echo.Context) error {
	b := response.New(c)
	id, err := pathID(c)
	if err != nil {
		return b.WithError(err).Build()
	}
	var req dto.RestockRequest
	if err := c.Bind(&req); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	p, err := h.products.Restock(c.Request().Context(), id, req.Quantity)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewProductResponse(p)).Build()
}

func (h *Handler) setSetting(c echo.Context) error {
	b := response.New(c)
	var req dto.SettingRequest
	if err := c.Bind(&req); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	s, err := h.settings.Set(c.Request().Context(), c.Param("key"), req.Value)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(map[string]string{"key": s.Key, "value": s.Value}).Build()
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errorbank.BadRequest("invalid id")
	}
	return id, nil
}

func page(c echo.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.QueryParam("limit"))
	offset, _ = strconv.Atoi(c.QueryParam("offset"))
	if limit <= 0 || limit > maxPageSize {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
