package checkout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/mail"
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
	"github.com/Additional-Code/storefront/internal/gateway"
	"github.com/Additional-Code/storefront/internal/notification"
	"github.com/Additional-Code/storefront/internal/port"
	"github.com/Additional-Code/storefront/internal/service/ordernumber"
	"github.com/Additional-Code/storefront/internal/storage"
	"github.com/Additional-Code/storefront/pkg/errorbank"
)

var (
	serviceTracer = otel.Tracer("github.com/Additional-Code/storefront/service/checkout")
	serviceMeter  = otel.Meter("github.com/Additional-Code/storefront/service/checkout")
)

// Module provides the checkout orchestrator to Fx.
var Module = fx.Provide(NewService)

// Item is a requested product quantity.
type Item struct {
	ProductID int64
	Quantity  int
}

// Request is everything a customer submits at checkout.
type Request struct {
	CustomerID      int64
	CustomerEmail   string
	CustomerName    string
	Items           []Item
	ShippingAddress entity.Address
	PaymentMethod   string
	Notes           string
	// Receipt is an optional proof of transfer; only read for transfer orders.
	Receipt        io.Reader
	IdempotencyKey string
}

// BankDetails tells a transfer customer where to pay.
type BankDetails struct {
	BankName      string
	AccountNumber string
	AccountName   string
	Reference     string
	Amount        decimal.Decimal
	Currency      string
}

// Result is the created order plus what the customer does next.
type Result struct {
	Order       *entity.Order
	RedirectURL string
	Bank        *BankDetails
}

// Scheduler queues background payment reconciliation for an order.
type Scheduler interface {
	Schedule(ctx context.Context, order *entity.Order) error
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Products  port.ProductRepository
	Orders    port.OrderRepository
	Numbers   *ordernumber.Allocator
	Gateways  *gateway.Registry
	Receipts  storage.ReceiptStore
	Cache     cache.Store
	Scheduler Scheduler
	Notifier  notification.Publisher
	Config    config.Config
	Logger    *zap.Logger
}

// Service creates orders: price, reserve, persist, then start payment,
// compensating earlier steps when a later one fails.
type Service struct {
	products  port.ProductRepository
	orders    port.OrderRepository
	numbers   *ordernumber.Allocator
	gateways  *gateway.Registry
	receipts  storage.ReceiptStore
	cache     cache.Store
	scheduler Scheduler
	notifier  notification.Publisher
	checkout  config.Checkout
	transfer  config.Transfer
	logger    *zap.Logger
	orderCtr  metric.Int64Counter
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	orderCtr, err := serviceMeter.Int64Counter("storefront.checkout.orders",
		metric.WithDescription("Checkout attempts by payment method and outcome"))
	if err != nil {
		p.Logger.Warn("checkout counter unavailable", zap.Error(err))
	}

	return &Service{
		products:  p.Products,
		orders:    p.Orders,
		numbers:   p.Numbers,
		gateways:  p.Gateways,
		receipts:  p.Receipts,
		cache:     p.Cache,
		scheduler: p.Scheduler,
		notifier:  p.Notifier,
		checkout:  p.Config.Checkout,
		transfer:  p.Config.Payments.Transfer,
		logger:    p.Logger,
		orderCtr:  orderCtr,
	}
}

// PaymentMethods lists the methods checkout currently accepts.
func (s *Service) PaymentMethods() []string {
	return append(s.gateways.Names(), entity.MethodTransfer)
}

// Checkout creates an order for req.
func (s *Service) Checkout(ctx context.Context, req Request) (result *Result, err error) {
	ctx, span := serviceTracer.Start(ctx, "CheckoutService.Checkout", trace.WithAttributes(
		attribute.String("payment.method", req.PaymentMethod),
		attribute.Int("checkout.items", len(req.Items)),
	))
	defer span.End()
	defer func() {
		outcome := "created"
		if err != nil {
			outcome = string(errorbank.From(err).Kind())
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		s.count(ctx, req.PaymentMethod, outcome)
	}()

	if err := s.validate(req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		release, claimErr := s.claim(ctx, req.IdempotencyKey)
		if claimErr != nil {
			return nil, claimErr
		}
		defer func() {
			if err != nil {
				release()
			}
		}()
	}

	order, err := s.price(ctx, req)
	if err != nil {
		return nil, err
	}
	lines := order.Lines()

	if err := s.products.Reserve(ctx, lines); err != nil {
		var stockErr *port.InsufficientStockError
		if errors.As(err, &stockErr) {
			return nil, errorbank.InsufficientStock("insufficient stock",
				errorbank.WithDetail("product_id", stockErr.ProductID),
				errorbank.WithDetail("requested", stockErr.Requested))
		}
		return nil, errorbank.Internal("failed to reserve stock", errorbank.WithCause(err))
	}

	number, err := s.numbers.Next(ctx)
	if err != nil {
		s.release(ctx, lines, "")
		return nil, errorbank.Internal("failed to allocate order number", errorbank.WithCause(err))
	}
	order.Number = number

	if err := s.orders.Create(ctx, order); err != nil {
		s.release(ctx, lines, number)
		return nil, errorbank.Internal("failed to create order", errorbank.WithCause(err))
	}

	if req.PaymentMethod == entity.MethodTransfer {
		return s.finishTransfer(ctx, order, req.Receipt)
	}
	return s.finishGateway(ctx, order)
}

func (s *Service) finishGateway(ctx context.Context, order *entity.Order) (*Result, error) {
	gw, err := s.gateways.Get(order.PaymentMethod)
	if err != nil {
		s.abandon(ctx, order)
		return nil, errorbank.BadRequest("payment method is not available")
	}

	session, err := gw.Initialize(ctx, gateway.InitRequest{
		Reference:     order.Number,
		Amount:        order.TotalAmount,
		Currency:      order.Currency,
		CustomerEmail: order.CustomerEmail,
		CustomerName:  order.CustomerName,
		Description:   "Order " + order.Number,
		CallbackURL:   s.checkout.CallbackURL,
		Metadata:      map[string]string{"order_number": order.Number},
	})
	if err != nil {
		s.logger.Warn("payment initialization failed",
			zap.String("number", order.Number),
			zap.String("gateway", gw.Name()),
			zap.Error(err),
		)
		s.abandon(ctx, order)
		return nil, gateway.AppError(err)
	}

	if err := s.orders.SetGatewayReference(ctx, order.ID, session.Reference); err != nil {
		// the reference equals the order number, so lookups still resolve
		s.logger.Error("persist gateway reference failed", zap.String("number", order.Number), zap.Error(err))
	} else {
		order.GatewayReference = session.Reference
	}

	if s.scheduler != nil {
		if err := s.scheduler.Schedule(ctx, order); err != nil {
			s.logger.Error("schedule reconciliation failed", zap.String("number", order.Number), zap.Error(err))
		}
	}
	s.notify(ctx, notification.KindOrderPlaced, order)

	s.logger.Info("order created",
		zap.String("number", order.Number),
		zap.String("gateway", gw.Name()),
		zap.String("total", order.TotalAmount.StringFixed(2)),
	)
	return &Result{Order: order, RedirectURL: session.RedirectURL}, nil
}

func (s *Service) finishTransfer(ctx context.Context, order *entity.Order, receipt io.Reader) (*Result, error) {
	if receipt != nil {
		path, err := s.receipts.Save(ctx, order.Number, receipt)
		if err != nil {
			s.abandon(ctx, order)
			if errors.Is(err, storage.ErrTooLarge) || errors.Is(err, storage.ErrUnsupportedType) {
				return nil, errorbank.BadRequest(err.Error())
			}
			return nil, errorbank.Internal("failed to store receipt", errorbank.WithCause(err))
		}
		if err := s.orders.SetReceiptPath(ctx, order.ID, path); err != nil {
			s.logger.Error("persist receipt path failed", zap.String("number", order.Number), zap.Error(err))
		} else {
			order.PaymentReceiptPath = path
		}
	}

	s.notify(ctx, notification.KindOrderPlaced, order)
	s.notify(ctx, notification.KindTransferReview, order)

	s.logger.Info("transfer order created",
		zap.String("number", order.Number),
		zap.Bool("receipt", order.PaymentReceiptPath != ""),
	)
	return &Result{
		Order: order,
		Bank: &BankDetails{
			BankName:      s.transfer.BankName,
			AccountNumber: s.transfer.AccountNumber,
			AccountName:   s.transfer.AccountName,
			Reference:     order.Number,
			Amount:        order.TotalAmount,
			Currency:      order.Currency,
		},
	}, nil
}

func (s *Service) validate(req Request) error {
	if len(req.Items) == 0 {
		return errorbank.BadRequest("at least one item is required")
	}
	for i, item := range req.Items {
		if item.ProductID <= 0 || item.Quantity <= 0 {
			return errorbank.BadRequest("each item needs a product and a positive quantity",
				errorbank.WithDetail("index", i))
		}
	}
	if _, err := mail.ParseAddress(req.CustomerEmail); err != nil {
		return errorbank.BadRequest("a valid customer email is required")
	}
	if strings.TrimSpace(req.ShippingAddress.Address) == "" || strings.TrimSpace(req.ShippingAddress.City) == "" {
		return errorbank.BadRequest("shipping address and city are required")
	}
	if req.PaymentMethod != entity.MethodTransfer && !s.gateways.Has(req.PaymentMethod) {
		return errorbank.BadRequest("unsupported payment method",
			errorbank.WithDetail("accepted", s.PaymentMethods()))
	}
	return nil
}

// price builds the order from current catalog prices. Item prices are copied
// here and never read from the catalog again.
func (s *Service) price(ctx context.Context, req Request) (*entity.Order, error) {
	ids := make([]int64, 0, len(req.Items))
	for _, item := range req.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errorbank.Internal("failed to load products", errorbank.WithCause(err))
	}

	subtotal := decimal.Zero
	items := make([]*entity.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		product, ok := products[item.ProductID]
		if !ok || !product.IsActive {
			return nil, errorbank.BadRequest("product is not available",
				errorbank.WithDetail("product_id", item.ProductID))
		}
		unit := product.EffectivePrice()
		line := unit.Mul(decimal.NewFromInt(int64(item.Quantity)))
		subtotal = subtotal.Add(line)
		items = append(items, &entity.OrderItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   unit,
			LineTotal:   line,
		})
	}

	tax := subtotal.Mul(s.checkout.TaxRate).Round(2)
	shipping := s.checkout.ShippingFee
	now := time.Now().UTC()

	return &entity.Order{
		CustomerID:      req.CustomerID,
		CustomerEmail:   strings.TrimSpace(req.CustomerEmail),
		CustomerName:    strings.TrimSpace(req.CustomerName),
		Status:          entity.StatusPending,
		PaymentStatus:   entity.PaymentPending,
		PaymentMethod:   req.PaymentMethod,
		Subtotal:        subtotal,
		TaxAmount:       tax,
		ShippingFee:     shipping,
		TotalAmount:     subtotal.Add(tax).Add(shipping),
		Currency:        s.checkout.Currency,
		ShippingAddress: req.ShippingAddress,
		Notes:           strings.TrimSpace(req.Notes),
		Items:           items,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// claim records an idempotency key; the returned func frees it again.
func (s *Service) claim(ctx context.Context, key string) (func(), error) {
	if s.cache == nil {
		return func() {}, nil
	}
	cacheKey := "checkout:idempotency:" + key
	ok, err := s.cache.SetNX(ctx, cacheKey, []byte("1"), s.checkout.IdempotencyTTL)
	if err != nil {
		s.logger.Warn("idempotency check unavailable", zap.Error(err))
		return func() {}, nil
	}
	if !ok {
		return nil, errorbank.Conflict("duplicate checkout request", errorbank.WithDetail("idempotency_key", key))
	}
	return func() {
		if err := s.cache.Delete(context.WithoutCancel(ctx), cacheKey); err != nil {
			s.logger.Warn("release idempotency key failed", zap.Error(err))
		}
	}, nil
}

// abandon undoes a persisted order whose payment could not start.
func (s *Service) abandon(ctx context.Context, order *entity.Order) {
	ctx = context.WithoutCancel(ctx)
	s.release(ctx, order.Lines(), order.Number)
	if err := s.orders.Delete(ctx, order.ID); err != nil {
		s.logger.Error("delete abandoned order failed", zap.String("number", order.Number), zap.Error(err))
	}
}

func (s *Service) release(ctx context.Context, lines []entity.StockLine, number string) {
	if err := s.products.Release(context.WithoutCancel(ctx), lines); err != nil {
		s.logger.Error("release reserved stock failed",
			zap.String("number", number),
			zap.Error(err),
			zap.String("lines", fmt.Sprint(lines)),
		)
	}
}

func (s *Service) notify(ctx context.Context, kind string, order *entity.Order) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, notification.NewEvent(kind, order)); err != nil {
		s.logger.Error("publish notification failed", zap.String("kind", kind), zap.String("number", order.Number), zap.Error(err))
	}
}

func (s *Service) count(ctx context.Context, method, outcome string) {
	if s.orderCtr == nil {
		return
	}
	s.orderCtr.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	))
}
