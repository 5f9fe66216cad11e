package checkout_test

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/storefront/internal/config"
	"github.com/Additional-Code/storefront/internal/database"
	"github.com/Additional-Code/storefront/internal/entity"
	"github.com/Additional-Code/storefront/internal/gateway"
	"github.com/Additional-Code/storefront/internal/notification"
	"github.com/Additional-Code/storefront/internal/port"
	orderrepo "github.com/Additional-Code/storefront/internal/repository/order"
	productrepo "github.com/Additional-Code/storefront/internal/repository/product"
	"github.com/Additional-Code/storefront/internal/repository/sequence"
	"github.com/Additional-Code/storefront/internal/service/checkout"
	"github.com/Additional-Code/storefront/internal/service/ordernumber"
	"github.com/Additional-Code/storefront/internal/storage"
	"github.com/Additional-Code/storefront/internal/testutil"
	"github.com/Additional-Code/storefront/pkg/errorbank"
)

type recordingScheduler struct {
	mu     sync.Mutex
	orders []string
}

func (r *recordingScheduler) Schedule(_ context.Context, order *entity.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, order.Number)
	return nil
}

type fixture struct {
	svc       *checkout.Service
	conns     *database.Connections
	orders    *orderrepo.Repository
	products  *productrepo.Repository
	paystack  *testutil.FakePaystack
	scheduler *recordingScheduler
	notes     *testutil.Notifications
}

func newFixture(t *testing.T) *fixture {
	conns := testutil.NewDB(t)

	cfg := config.Config{}
	cfg.Checkout.TaxRate = decimal.RequireFromString("0.075")
	cfg.Checkout.ShippingFee = decimal.NewFromInt(1000)
	cfg.Checkout.Currency = "NGN"
	cfg.Checkout.OrderNumberPrefix = "SG"
	cfg.Payments.Transfer = config.Transfer{BankName: "Moniepoint MFB", AccountNumber: "0123456789", AccountName: "Storefront Ltd"}
	cfg.Storage.ReceiptDir = t.TempDir()
	cfg.Storage.MaxReceiptBytes = 1024

	f := &fixture{
		conns:     conns,
		orders:    orderrepo.NewRepository(conns),
		products:  productrepo.NewRepository(conns),
		paystack:  testutil.NewFakePaystack(t),
		scheduler: &recordingScheduler{},
		notes:     &testutil.Notifications{},
	}
	f.svc = checkout.NewService(checkout.Params{
		Products:  f.products,
		Orders:    f.orders,
		Numbers:   ordernumber.NewAllocator(sequence.NewRepository(conns), cfg),
		Gateways:  gateway.NewRegistry(f.paystack.Client()),
		Receipts:  storage.NewLocalStore(cfg),
		Cache:     testutil.NewMemoryCache(),
		Scheduler: f.scheduler,
		Notifier:  f.notes,
		Config:    cfg,
		Logger:    zap.NewNop(),
	})
	return f
}

func request(method string, items ...checkout.Item) checkout.Request {
	return checkout.Request{
		CustomerID:    42,
		CustomerEmail: "ada@example.com",
		CustomerName:  "Ada",
		Items:         items,
		ShippingAddress: entity.Address{
			Address: "3 Admiralty Way",
			City:    "Lekki",
			State:   "Lagos",
			Country: "NG",
		},
		PaymentMethod: method,
	}
}

func (f *fixture) orderCount(t *testing.T) int {
	_, total, err := f.orders.List(context.Background(), port.OrderFilter{})
	require.NoError(t, err)
	return total
}

func TestGatewayCheckout(t *testing.T) {
	f := newFixture(t)
	alpha := testutil.SeedProduct(t, f.conns, "alpha", "2000.00", 5)
	beta := testutil.SeedProduct(t, f.conns, "beta", "500.00", 1)

	res, err := f.svc.Checkout(context.Background(), request(entity.MethodPaystack,
		checkout.Item{ProductID: alpha.ID, Quantity: 2},
		checkout.Item{ProductID: beta.ID, Quantity: 1},
	))
	require.NoError(t, err)

	o := res.Order
	assert.True(t, strings.HasPrefix(o.Number, "SG"))
	assert.Equal(t, "https://checkout.paystack.com/"+o.Number, res.RedirectURL)
	assert.Nil(t, res.Bank)

	stored, err := f.orders.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, stored.Status)
	assert.Equal(t, entity.PaymentPending, stored.PaymentStatus)
	assert.Equal(t, o.Number, stored.GatewayReference)
	assert.True(t, stored.Subtotal.Equal(decimal.RequireFromString("4500")))
	assert.True(t, stored.TaxAmount.Equal(decimal.RequireFromString("337.5")))
	assert.True(t, stored.ShippingFee.Equal(decimal.RequireFromString("1000")))
	assert.True(t, stored.TotalAmount.Equal(stored.Subtotal.Add(stored.TaxAmount).Add(stored.ShippingFee)))
	assert.True(t, stored.TotalAmount.Equal(decimal.RequireFromString("5837.5")))

	assert.Equal(t, 3, testutil.Stock(t, f.conns, alpha.ID))
	assert.Equal(t, 0, testutil.Stock(t, f.conns, beta.ID))
	assert.Equal(t, []string{o.Number}, f.scheduler.orders)
	assert.Equal(t, []string{notification.KindOrderPlaced}, f.notes.Kinds())
}

func TestCheckoutInsufficientStock(t *testing.T) {
	f := newFixture(t)
	alpha := testutil.SeedProduct(t, f.conns, "alpha", "2000.00", 1)

	_, err := f.svc.Checkout(context.Background(), request(entity.MethodPaystack,
		checkout.Item{ProductID: alpha.ID, Quantity: 2},
	))
	assert.True(t, errorbank.Is(err, errorbank.KindInsufficientStock), "got %v", err)
	assert.Equal(t, 1, testutil.Stock(t, f.conns, alpha.ID))
	assert.Zero(t, f.orderCount(t))

	inits, _ := f.paystack.Calls()
	assert.Zero(t, inits)
}

func TestCheckoutGatewayFailureCompensates(t *testing.T) {
	cases := []struct {
		status int
		kind   errorbank.Kind
	}{
		{http.StatusBadRequest, errorbank.KindGatewayRejected},
		{http.StatusServiceUnavailable, errorbank.KindGatewayUnavailable},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			f := newFixture(t)
			alpha := testutil.SeedProduct(t, f.conns, "alpha", "2000.00", 4)
			f.paystack.FailInitialize(tc.status)

			_, err := f.svc.Checkout(context.Background(), request(entity.MethodPaystack,
				checkout.Item{ProductID: alpha.ID, Quantity: 3},
			))
			assert.True(t, errorbank.Is(err, tc.kind), "got %v", err)

			assert.Equal(t, 4, testutil.Stock(t, f.conns, alpha.ID))
			assert.Zero(t, f.orderCount(t))
			assert.Empty(t, f.scheduler.orders)
			assert.Empty(t, f.notes.Kinds())
		})
	}
}

func TestTransferCheckoutWithReceipt(t *testing.T) {
	f := newFixture(t)
	alpha := testutil.SeedProduct(t, f.conns, "alpha", "2000.00", 2)

	req := request(entity.MethodTransfer, checkout.Item{ProductID: alpha.ID, Quantity: 1})
	req.Receipt = bytes.NewReader([]byte("%PDF-1.4\n% receipt"))
	res, err := f.svc.Checkout(context.Background(), req)
	require.NoError(t, err)

	require.NotNil(t, res.Bank)
	assert.Equal(t, "0123456789", res.Bank.AccountNumber)
	assert.Equal(t, res.Order.Number, res.Bank.Reference)
	assert.True(t, res.Bank.Amount.Equal(decimal.RequireFromString("3150")))
	assert.Empty(t, res.RedirectURL)

	stored, err := f.orders.GetByID(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentPending, stored.PaymentStatus)
	assert.Equal(t, entity.StatusPending, stored.Status)
	assert.True(t, strings.HasSuffix(stored.PaymentReceiptPath, ".pdf"))
	assert.Empty(t, stored.GatewayReference)

	assert.Equal(t, 1, testutil.Stock(t, f.conns, alpha.ID))
	assert.Empty(t, f.scheduler.orders)
	assert.Equal(t, []string{notification.KindOrderPlaced, notification.KindTransferReview}, f.notes.Kinds())
}

func TestTransferCheckoutRejectsBadReceipt(t *testing.T) {
	f := newFixture(t)
	alpha := testutil.SeedProduct(t, f.conns, "alpha", "2000.00", 2)

	req := request(entity.MethodTransfer, checkout.Item{ProductID: alpha.ID, Quantity: 1})
	req.Receipt = strings.NewReader("not an image")
	_, err := f.svc.Checkout(context.Background(), req)
	assert.True(t, errorbank.Is(err, errorbank.KindBadRequest), "got %v", err)
	assert.Equal(t, 2, testutil.Stock(t, f.conns, alpha.ID))
	assert.Zero(t, f.orderCount(t))
}

func TestOrderPricesAreFrozen(t *testing.T) {
	f := newFixture(t)
	alpha := testutil.SeedProduct(t, f.conns, "alpha", "2000.00", 5)

	res, err := f.svc.Checkout(context.Background(), request(entity.MethodTransfer,
		checkout.Item{ProductID: alpha.ID, Quantity: 1},
	))
	require.NoError(t, err)

	alpha.Price = decimal.RequireFromString("9999.00")
	require.NoError(t, f.products.Update(context.Background(), alpha, "price"))

	stored, err := f.orders.GetByID(context.Background(), res.Order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.True(t, stored.Items[0].UnitPrice.Equal(decimal.RequireFromString("2000")))
	assert.True(t, stored.Subtotal.Equal(decimal.RequireFromString("2000")))
}

func TestSalePriceIsCharged(t *testing.T) {
	f := newFixture(t)
	alpha := testutil.SeedProduct(t, f.conns, "alpha", "2000.00", 5)
	sale := decimal.RequireFromString("1500.00")
	alpha.SalePrice = &sale
	require.NoError(t, f.products.Update(context.Background(), alpha, "sale_price"))

	res, err := f.svc.Checkout(context.Background(), request(entity.MethodTransfer,
		checkout.Item{ProductID: alpha.ID, Quantity: 2},
	))
	require.NoError(t, err)
	assert.True(t, res.Order.Subtotal.Equal(decimal.RequireFromString("3000")))
}

func TestIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	alpha := testutil.SeedProduct(t, f.conns, "alpha", "2000.00", 1)

	req := request(entity.MethodTransfer, checkout.Item{ProductID: alpha.ID, Quantity: 2})
	req.IdempotencyKey = "cart-123"

	_, err := f.svc.Checkout(context.Background(), req)
	require.True(t, errorbank.Is(err, errorbank.KindInsufficientStock))

	// the failed attempt freed the key
	req.Items[0].Quantity = 1
	_, err = f.svc.Checkout(context.Background(), req)
	require.NoError(t, err)

	_, err = f.svc.Checkout(context.Background(), req)
	assert.True(t, errorbank.Is(err, errorbank.KindConflict), "got %v", err)
	assert.Equal(t, 1, f.orderCount(t))
}

func TestCheckoutValidation(t *testing.T) {
	f := newFixture(t)
	alpha := testutil.SeedProduct(t, f.conns, "alpha", "2000.00", 5)
	item := checkout.Item{ProductID: alpha.ID, Quantity: 1}

	cases := map[string]func(*checkout.Request){
		"no items":        func(r *checkout.Request) { r.Items = nil },
		"zero quantity":   func(r *checkout.Request) { r.Items[0].Quantity = 0 },
		"bad email":       func(r *checkout.Request) { r.CustomerEmail = "nope" },
		"no address":      func(r *checkout.Request) { r.ShippingAddress = entity.Address{} },
		"unknown method":  func(r *checkout.Request) { r.PaymentMethod = "monnify" },
		"unknown product": func(r *checkout.Request) { r.Items[0].ProductID = 777 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := request(entity.MethodPaystack, item)
			mutate(&req)
			_, err := f.svc.Checkout(context.Background(), req)
			assert.True(t, errorbank.Is(err, errorbank.KindBadRequest), "got %v", err)
		})
	}
	assert.Equal(t, 5, testutil.Stock(t, f.conns, alpha.ID))
	assert.Equal(t, []string{"paystack", "transfer"}, f.svc.PaymentMethods())
}
