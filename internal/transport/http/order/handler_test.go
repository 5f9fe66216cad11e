package order_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/storefront/internal/config"
	"github.com/Additional-Code/storefront/internal/database"
	"github.com/Additional-Code/storefront/internal/dto"
	"github.com/Additional-Code/storefront/internal/entity"
	"github.com/Additional-Code/storefront/internal/gateway"
	orderrepo "github.com/Additional-Code/storefront/internal/repository/order"
	productrepo "github.com/Additional-Code/storefront/internal/repository/product"
	"github.com/Additional-Code/storefront/internal/repository/sequence"
	"github.com/Additional-Code/storefront/internal/service/checkout"
	ordersvc "github.com/Additional-Code/storefront/internal/service/order"
	"github.com/Additional-Code/storefront/internal/service/ordernumber"
	"github.com/Additional-Code/storefront/internal/storage"
	"github.com/Additional-Code/storefront/internal/testutil"
	transport "github.com/Additional-Code/storefront/internal/transport/http/order"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Kind string `json:"kind"`
	} `json:"error"`
}

type server struct {
	echo  *echo.Echo
	conns *database.Connections
}

func newServer(t *testing.T) *server {
	conns := testutil.NewDB(t)

	cfg := config.Config{}
	cfg.Checkout.TaxRate = decimal.RequireFromString("0.075")
	cfg.Checkout.ShippingFee = decimal.NewFromInt(1000)
	cfg.Checkout.Currency = "NGN"
	cfg.Checkout.OrderNumberPrefix = "SG"
	cfg.Payments.Transfer = config.Transfer{BankName: "Moniepoint MFB", AccountNumber: "0123456789", AccountName: "Storefront Ltd"}
	cfg.Storage.ReceiptDir = t.TempDir()
	cfg.Storage.MaxReceiptBytes = 1024

	orders := orderrepo.NewRepository(conns)
	products := productrepo.NewRepository(conns)
	notes := &testutil.Notifications{}

	checkoutSvc := checkout.NewService(checkout.Params{
		Products: products,
		Orders:   orders,
		Numbers:  ordernumber.NewAllocator(sequence.NewRepository(conns), cfg),
		Gateways: gateway.NewRegistry(),
		Receipts: storage.NewLocalStore(cfg),
		Cache:    testutil.NewMemoryCache(),
		Notifier: notes,
		Config:   cfg,
		Logger:   zap.NewNop(),
	})
	orderSvc := ordersvc.NewService(ordersvc.Params{
		Orders:   orders,
		Notifier: notes,
		Config:   cfg,
		Logger:   zap.NewNop(),
	})

	e := echo.New()
	transport.Register(e, transport.NewHandler(checkoutSvc, orderSvc))
	return &server{echo: e, conns: conns}
}

func (s *server) do(req *http.Request) (*httptest.ResponseRecorder, envelope) {
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func checkoutBody(productID int64, qty int) string {
	return fmt.Sprintf(`{
		"customer_id": 9,
		"customer_email": "ada@example.com",
		"customer_name": "Ada",
		"items": [{"product_id": %d, "quantity": %d}],
		"shipping_address": {"address": "3 Admiralty Way", "city": "Lekki", "state": "Lagos", "country": "NG"},
		"payment_method": "transfer"
	}`, productID, qty)
}

func jsonRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestCheckoutAndLookup(t *testing.T) {
	s := newServer(t)
	mug := testutil.SeedProduct(t, s.conns, "mug", "2000.00", 3)

	rec, env := s.do(jsonRequest(checkoutBody(mug.ID, 1)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out dto.CheckoutResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, entity.PaymentPending, out.Order.PaymentStatus)
	assert.True(t, out.Order.TotalAmount.Equal(decimal.RequireFromString("3150")))
	require.NotNil(t, out.BankDetails)
	assert.Equal(t, out.Order.Number, out.BankDetails.Reference)
	assert.Equal(t, 2, testutil.Stock(t, s.conns, mug.ID))

	rec, env = s.do(httptest.NewRequest(http.MethodGet, "/orders/"+out.Order.Number, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var found dto.OrderResponse
	require.NoError(t, json.Unmarshal(env.Data, &found))
	assert.Equal(t, out.Order.ID, found.ID)
	require.Len(t, found.Items, 1)
	assert.Equal(t, "mug", found.Items[0].ProductName)

	rec, env = s.do(httptest.NewRequest(http.MethodGet, "/orders/SG20990001", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", env.Error.Kind)
}

func TestCheckoutMultipartReceipt(t *testing.T) {
	s := newServer(t)
	mug := testutil.SeedProduct(t, s.conns, "mug", "2000.00", 3)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	require.NoError(t, form.WriteField("order", checkoutBody(mug.ID, 2)))
	part, err := form.CreateFormFile("receipt", "receipt.png")
	require.NoError(t, err)
	_, err = part.Write(append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/orders", &body)
	req.Header.Set(echo.HeaderContentType, form.FormDataContentType())

	rec, env := s.do(req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out dto.CheckoutResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, 1, testutil.Stock(t, s.conns, mug.ID))

	stored, err := orderrepo.NewRepository(s.conns).GetByID(req.Context(), out.Order.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(stored.PaymentReceiptPath, ".png"))
}

func TestCheckoutErrors(t *testing.T) {
	s := newServer(t)
	mug := testutil.SeedProduct(t, s.conns, "mug", "2000.00", 1)

	rec, env := s.do(jsonRequest(checkoutBody(mug.ID, 5)))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "insufficient_stock", env.Error.Kind)
	assert.Equal(t, 1, testutil.Stock(t, s.conns, mug.ID))

	rec, env = s.do(jsonRequest(`{"items": [`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", env.Error.Kind)
}
