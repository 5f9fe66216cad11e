package product_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/storefront/internal/entity"
	"github.com/Additional-Code/storefront/internal/port"
	"github.com/Additional-Code/storefront/internal/repository/product"
	"github.com/Additional-Code/storefront/internal/testutil"
)

func TestReserveAndRelease(t *testing.T) {
	conns := testutil.NewDB(t)
	repo := product.NewRepository(conns)
	ctx := context.Background()

	a := testutil.SeedProduct(t, conns, "alpha", "10.00", 5)
	b := testutil.SeedProduct(t, conns, "beta", "4.50", 2)

	err := repo.Reserve(ctx, []entity.StockLine{
		{ProductID: a.ID, Quantity: 2},
		{ProductID: b.ID, Quantity: 2},
		{ProductID: a.ID, Quantity: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, testutil.Stock(t, conns, a.ID))
	assert.Equal(t, 0, testutil.Stock(t, conns, b.ID))

	require.NoError(t, repo.Release(ctx, []entity.StockLine{{ProductID: b.ID, Quantity: 2}}))
	assert.Equal(t, 2, testutil.Stock(t, conns, b.ID))
}

func TestReserveIsAllOrNothing(t *testing.T) {
	conns := testutil.NewDB(t)
	repo := product.NewRepository(conns)
	ctx := context.Background()

	a := testutil.SeedProduct(t, conns, "alpha", "10.00", 5)
	b := testutil.SeedProduct(t, conns, "beta", "4.50", 1)

	err := repo.Reserve(ctx, []entity.StockLine{
		{ProductID: a.ID, Quantity: 3},
		{ProductID: b.ID, Quantity: 2},
	})

	var stockErr *port.InsufficientStockError
	require.True(t, errors.As(err, &stockErr), "got %v", err)
	assert.Equal(t, b.ID, stockErr.ProductID)
	assert.Equal(t, 2, stockErr.Requested)

	assert.Equal(t, 5, testutil.Stock(t, conns, a.ID))
	assert.Equal(t, 1, testutil.Stock(t, conns, b.ID))
}

func TestReserveUnknownProduct(t *testing.T) {
	conns := testutil.NewDB(t)
	repo := product.NewRepository(conns)

	err := repo.Reserve(context.Background(), []entity.StockLine{{ProductID: 999, Quantity: 1}})

	var stockErr *port.InsufficientStockError
	assert.True(t, errors.As(err, &stockErr))
}

func TestReserveRejectsNonPositiveQuantity(t *testing.T) {
	conns := testutil.NewDB(t)
	repo := product.NewRepository(conns)
	a := testutil.SeedProduct(t, conns, "alpha", "10.00", 5)

	err := repo.Reserve(context.Background(), []entity.StockLine{{ProductID: a.ID, Quantity: 0}})
	require.Error(t, err)
	assert.Equal(t, 5, testutil.Stock(t, conns, a.ID))
}

func TestConcurrentReserveNeverOversells(t *testing.T) {
	conns := testutil.NewFileDB(t, 8)
	repo := product.NewRepository(conns)
	a := testutil.SeedProduct(t, conns, "alpha", "10.00", 10)

	const buyers = 40
	var (
		wg       sync.WaitGroup
		reserved atomic.Int64
		rejected atomic.Int64
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Reserve(context.Background(), []entity.StockLine{{ProductID: a.ID, Quantity: 1}})
			var stockErr *port.InsufficientStockError
			switch {
			case err == nil:
				reserved.Add(1)
			case errors.As(err, &stockErr):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 10, reserved.Load())
	assert.EqualValues(t, buyers-10, rejected.Load())
	assert.Equal(t, 0, testutil.Stock(t, conns, a.ID))
}

func TestUpdateNeverWritesStock(t *testing.T) {
	conns := testutil.NewDB(t)
	repo := product.NewRepository(conns)
	ctx := context.Background()
	a := testutil.SeedProduct(t, conns, "alpha", "10.00", 7)

	loaded, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	loaded.Name = "Alpha Prime"
	loaded.Price = decimal.RequireFromString("12.00")
	loaded.StockQuantity = 999
	require.NoError(t, repo.Update(ctx, loaded))

	reloaded, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alpha Prime", reloaded.Name)
	assert.True(t, reloaded.Price.Equal(decimal.RequireFromString("12.00")))
	assert.Equal(t, 7, reloaded.StockQuantity)
}

func TestGetByIDsAndList(t *testing.T) {
	conns := testutil.NewDB(t)
	repo := product.NewRepository(conns)
	ctx := context.Background()

	a := testutil.SeedProduct(t, conns, "alpha", "10.00", 1)
	b := testutil.SeedProduct(t, conns, "beta", "4.50", 1)
	b.IsActive = false
	require.NoError(t, repo.Update(ctx, b, "is_active"))

	found, err := repo.GetByIDs(ctx, []int64{a.ID, b.ID, 12345})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	active, total, err := repo.List(ctx, port.ProductFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)

	_, err = repo.GetByID(ctx, 12345)
	assert.ErrorIs(t, err, port.ErrNotFound)
}
