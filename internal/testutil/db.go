// Package testutil builds throwaway SQLite databases for package tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/Additional-Code/storefront/internal/database"
	"github.com/Additional-Code/storefront/internal/entity"
)

var dbSeq atomic.Int64

// Models lists every table the application owns, in creation order.
var Models = []any{
	(*entity.Product)(nil),
	(*entity.Order)(nil),
	(*entity.OrderItem)(nil),
	(*entity.OrderSequence)(nil),
	(*entity.Setting)(nil),
}

// OpenDB opens a private, empty in-memory database on a single connection.
func OpenDB(t testing.TB) *database.Connections {
	t.Helper()

	dsn := fmt.Sprintf("file:storefront_%d?mode=memory&cache=shared&_busy_timeout=5000", dbSeq.Add(1))
	return open(t, dsn, 1)
}

// NewDB opens a private in-memory database with the schema created from Models.
func NewDB(t testing.TB) *database.Connections {
	t.Helper()

	conns := OpenDB(t)
	createSchema(t, conns)
	return conns
}

// NewFileDB opens a WAL database in a temporary directory behind a pool of
// size connections, so concurrent transactions really contend for rows.
func NewFileDB(t testing.TB, size int) *database.Connections {
	t.Helper()

	path := filepath.Join(t.TempDir(), "storefront.db")
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=10000&_txlock=deferred", path)
	conns := open(t, dsn, size)
	createSchema(t, conns)
	return conns
}

func open(t testing.TB, dsn string, size int) *database.Connections {
	t.Helper()

	sqldb, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(size)
	sqldb.SetMaxIdleConns(size)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	return &database.Connections{Driver: "sqlite", Writer: db, Reader: db}
}

func createSchema(t testing.TB, conns *database.Connections) {
	t.Helper()

	ctx := context.Background()
	for _, model := range Models {
		_, err := conns.Writer.NewCreateTable().Model(model).IfNotExists().Exec(ctx)
		require.NoError(t, err)
	}
}

// SeedProduct inserts an active product with the given price and stock.
func SeedProduct(t testing.TB, conns *database.Connections, name string, price string, stock int) *entity.Product {
	t.Helper()

	product := &entity.Product{
		Name:          name,
		Slug:          name,
		SKU:           "SKU-" + name,
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
		IsActive:      true,
	}
	_, err := conns.Writer.NewInsert().Model(product).Exec(context.Background())
	require.NoError(t, err)
	return product
}

// Stock reads the current stock counter of a product.
func Stock(t testing.TB, conns *database.Connections, productID int64) int {
	t.Helper()

	var qty int
	err := conns.Writer.NewSelect().
		Model((*entity.Product)(nil)).
		Column("stock_quantity").
		Where("id = ?", productID).
		Scan(context.Background(), &qty)
	require.NoError(t, err)
	return qty
}

// SeedOrder inserts a pending order holding qty units of product. Stock is
// left as it is; reserve through the product repository when a test needs it.
func SeedOrder(t testing.TB, conns *database.Connections, number, method string, product *entity.Product, qty int) *entity.Order {
	t.Helper()

	price := product.EffectivePrice()
	line := price.Mul(decimal.NewFromInt(int64(qty)))
	order := &entity.Order{
		Number:        number,
		CustomerID:    1,
		CustomerEmail: "buyer@example.com",
		CustomerName:  "Buyer",
		Status:        entity.StatusPending,
		PaymentStatus: entity.PaymentPending,
		PaymentMethod: method,
		Subtotal:      line,
		TaxAmount:     decimal.Zero,
		ShippingFee:   decimal.Zero,
		TotalAmount:   line,
		Currency:      "NGN",
		ShippingAddress: entity.Address{
			Address: "1 Marina Road",
			City:    "Lagos",
			Country: "NG",
		},
		Items: []*entity.OrderItem{{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    qty,
			UnitPrice:   price,
			LineTotal:   line,
		}},
	}

	ctx := context.Background()
	err := conns.Writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
			return err
		}
		order.Items[0].OrderID = order.ID
		_, err := tx.NewInsert().Model(&order.Items).Exec(ctx)
		return err
	})
	require.NoError(t, err)
	return order
}

// Money parses a decimal literal.
func Money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
