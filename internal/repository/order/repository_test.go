package order_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/storefront/internal/entity"
	"github.com/Additional-Code/storefront/internal/port"
	"github.com/Additional-Code/storefront/internal/repository/order"
	"github.com/Additional-Code/storefront/internal/testutil"
)

func TestCreateAndLoad(t *testing.T) {
	conns := testutil.NewDB(t)
	repo := order.NewRepository(conns)
	ctx := context.Background()
	p := testutil.SeedProduct(t, conns, "alpha", "25.00", 10)

	o := &entity.Order{
		Number:        "SG20260001",
		CustomerID:    9,
		CustomerEmail: "ada@example.com",
		Status:        entity.StatusPending,
		PaymentStatus: entity.PaymentPending,
		PaymentMethod: entity.MethodPaystack,
		Subtotal:      decimal.RequireFromString("50.00"),
		TaxAmount:     decimal.RequireFromString("3.75"),
		ShippingFee:   decimal.RequireFromString("1000"),
		TotalAmount:   decimal.RequireFromString("1053.75"),
		Currency:      "NGN",
		ShippingAddress: entity.Address{
			Address: "2 Allen Avenue",
			City:    "Ikeja",
		},
		Items: []*entity.OrderItem{{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    2,
			UnitPrice:   decimal.RequireFromString("25.00"),
			LineTotal:   decimal.RequireFromString("50.00"),
		}},
	}
	require.NoError(t, repo.Create(ctx, o))
	require.NotZero(t, o.ID)

	loaded, err := repo.GetByNumber(ctx, "SG20260001")
	require.NoError(t, err)
	assert.Equal(t, o.ID, loaded.ID)
	assert.True(t, loaded.TotalAmount.Equal(decimal.RequireFromString("1053.75")))
	assert.Equal(t, "Ikeja", loaded.ShippingAddress.City)
	require.Len(t, loaded.Items, 1)
	assert.Equal(t, 2, loaded.Items[0].Quantity)
	assert.Equal(t, []entity.StockLine{{ProductID: p.ID, Quantity: 2}}, loaded.Lines())

	require.NoError(t, repo.Delete(ctx, o.ID))
	_, err = repo.GetByID(ctx, o.ID)
	assert.ErrorIs(t, err, port.ErrNotFound)
}

func TestGatewayReferenceIsWrittenOnce(t *testing.T) {
	conns := testutil.NewDB(t)
	repo := order.NewRepository(conns)
	ctx := context.Background()
	p := testutil.SeedProduct(t, conns, "alpha", "25.00", 10)
	o := testutil.SeedOrder(t, conns, "SG20260002", entity.MethodPaystack, p, 1)

	require.NoError(t, repo.SetGatewayReference(ctx, o.ID, "SG20260002"))
	require.NoError(t, repo.SetGatewayReference(ctx, o.ID, "SG20260002"))
	assert.ErrorIs(t, repo.SetGatewayReference(ctx, o.ID, "OTHER"), port.ErrReferenceAlreadySet)

	found, err := repo.FindByReference(ctx, "SG20260002")
	require.NoError(t, err)
	assert.Equal(t, o.ID, found.ID)
}

func TestFindByReferenceFallsBackToNumber(t *testing.T) {
	conns := testutil.NewDB(t)
	repo := order.NewRepository(conns)
	p := testutil.SeedProduct(t, conns, "alpha", "25.00", 10)
	o := testutil.SeedOrder(t, conns, "SG20260003", entity.MethodTransfer, p, 1)

	found, err := repo.FindByReference(context.Background(), "SG20260003")
	require.NoError(t, err)
	assert.Equal(t, o.ID, found.ID)

	_, err = repo.FindByReference(context.Background(), "missing")
	assert.ErrorIs(t, err, port.ErrNotFound)
}

func TestMarkPaidAppliesOnce(t *testing.T) {
	conns := testutil.NewDB(t)
	repo := order.NewRepository(conns)
	ctx := context.Background()
	p := testutil.SeedProduct(t, conns, "alpha", "25.00", 10)
	o := testutil.SeedOrder(t, conns, "SG20260004", entity.MethodPaystack, p, 1)

	const callers = 16
	var (
		wg      sync.WaitGroup
		applied atomic.Int64
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := repo.MarkPaid(ctx, o.ID, port.PaymentChange{
				Reference: "SG20260004",
				Channel:   entity.ChannelWebhook,
				At:        time.Now().UTC().Add(time.Duration(i) * time.Second),
			})
			if err != nil {
				t.Errorf("mark paid: %v", err)
				return
			}
			if ok {
				applied.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, applied.Load())

	loaded, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentPaid, loaded.PaymentStatus)
	assert.Equal(t, entity.StatusProcessing, loaded.Status)
	assert.Equal(t, entity.ChannelWebhook, loaded.PaidVia)
	require.NotNil(t, loaded.PaidAt)
}

func TestMarkPaidKeepsAdvancedFulfillment(t *testing.T) {
	conns := testutil.NewDB(t)
	repo := order.NewRepository(conns)
	ctx := context.Background()
	p := testutil.SeedProduct(t, conns, "alpha", "25.00", 10)
	o := testutil.SeedOrder(t, conns, "SG20260005", entity.MethodTransfer, p, 1)

	ok, err := repo.UpdateStatus(ctx, o.ID, []string{entity.StatusPending}, entity.StatusCancelled, "customer request", time.Now().UTC())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.MarkPaid(ctx, o.ID, port.PaymentChange{Channel: entity.ChannelAdmin, At: time.Now().UTC()})
	require.NoError(t, err)
	assert.True(t, ok)

	loaded, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCancelled, loaded.Status)
	assert.Equal(t, "customer request", loaded.AdminNotes)
}

func TestFailedIsReversibleButRefundIsNot(t *testing.T) {
	conns := testutil.NewDB(t)
	repo := order.NewRepository(conns)
	ctx := context.Background()
	now := time.Now().UTC()
	p := testutil.SeedProduct(t, conns, "alpha", "25.00", 10)
	o := testutil.SeedOrder(t, conns, "SG20260006", entity.MethodPaystack, p, 1)

	ok, err := repo.MarkFailed(ctx, o.ID, port.PaymentChange{Payload: `{"status":"failed"}`, At: now})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkPaid(ctx, o.ID, port.PaymentChange{Channel: entity.ChannelPoll, At: now})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkFailed(ctx, o.ID, port.PaymentChange{At: now})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.MarkRefunded(ctx, o.ID, "returned", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkPaid(ctx, o.ID, port.PaymentChange{Channel: entity.ChannelPoll, At: now})
	require.NoError(t, err)
	assert.False(t, ok)

	loaded, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentRefunded, loaded.PaymentStatus)
	assert.Equal(t, `{"status":"failed"}`, loaded.VerificationPayload)
}

func TestRecordCheckAndStats(t *testing.T) {
	conns := testutil.NewDB(t)
	repo := order.NewRepository(conns)
	ctx := context.Background()
	now := time.Now().UTC()
	p := testutil.SeedProduct(t, conns, "alpha", "25.00", 10)
	paid := testutil.SeedOrder(t, conns, "SG20260007", entity.MethodPaystack, p, 2)
	testutil.SeedOrder(t, conns, "SG20260008", entity.MethodTransfer, p, 1)

	require.NoError(t, repo.RecordCheck(ctx, paid.ID, `{"status":"success"}`, now))
	_, err := repo.MarkPaid(ctx, paid.ID, port.PaymentChange{Channel: entity.ChannelPoll, At: now})
	require.NoError(t, err)

	loaded, err := repo.GetByID(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.VerifyAttempts)
	require.NotNil(t, loaded.LastCheckedAt)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalOrders)
	assert.True(t, stats.PaidRevenue.Equal(decimal.RequireFromString("50")), stats.PaidRevenue.String())
	assert.Equal(t, 1, stats.ByPaymentStatus[entity.PaymentPaid])
	assert.Equal(t, 1, stats.ByPaymentStatus[entity.PaymentPending])
	assert.Equal(t, 1, stats.ByStatus[entity.StatusProcessing])

	list, total, err := repo.List(ctx, port.OrderFilter{PaymentMethod: entity.MethodTransfer})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, "SG20260008", list[0].Number)
}

func TestCancelRestocksOnlyUnpaidOrders(t *testing.T) {
	conns := testutil.NewDB(t)
	repo := order.NewRepository(conns)
	ctx := context.Background()
	now := time.Now().UTC()
	from := []string{entity.StatusPending, entity.StatusProcessing}
	p := testutil.SeedProduct(t, conns, "alpha", "25.00", 4)

	unpaid := testutil.SeedOrder(t, conns, "SG20260010", entity.MethodTransfer, p, 3)
	applied, released, err := repo.Cancel(ctx, unpaid.ID, from, "", now)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, released)
	assert.Equal(t, 7, testutil.Stock(t, conns, p.ID))

	paid := testutil.SeedOrder(t, conns, "SG20260011", entity.MethodPaystack, p, 2)
	ok, err := repo.MarkPaid(ctx, paid.ID, port.PaymentChange{Channel: entity.ChannelWebhook, At: now})
	require.NoError(t, err)
	require.True(t, ok)

	applied, released, err = repo.Cancel(ctx, paid.ID, from, "refund pending", now)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.False(t, released)
	assert.Equal(t, 7, testutil.Stock(t, conns, p.ID))

	loaded, err := repo.GetByID(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCancelled, loaded.Status)
	assert.Equal(t, "refund pending", loaded.AdminNotes)

	applied, released, err = repo.Cancel(ctx, paid.ID, from, "", now)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.False(t, released)
}
