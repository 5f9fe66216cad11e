package port

import (
	"context"
	"fmt"

	"github.com/Additional-Code/storefront/internal/entity"
)

// InsufficientStockError names the first product a reservation could not cover.
type InsufficientStockError struct {
	ProductID int64
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d (requested %d)", e.ProductID, e.Requested)
}

// ProductFilter narrows product listings.
type ProductFilter struct {
	ActiveOnly bool
	Limit      int
	Offset     int
}

type ProductRepository interface {
	Create(ctx context.Context, product *entity.Product) error

	// Update writes the named columns (all columns when none are given)
	Update(ctx context.Context, product *entity.Product, columns ...string) error

	GetByID(ctx context.Context, id int64) (*entity.Product, error)
	GetByIDs(ctx context.Context, ids []int64) (map[int64]*entity.Product, error)
	List(ctx context.Context, filter ProductFilter) ([]*entity.Product, int, error)

	// Reserve decrements stock for every line or for none of them
	Reserve(ctx context.Context, lines []entity.StockLine) error

	// Release gives reserved stock back
	Release(ctx context.Context, lines []entity.StockLine) error
}
