package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Product is a catalog entry; StockQuantity is the authoritative inventory counter.
type Product struct {
	bun.BaseModel `bun:"table:products"`

	ID            int64            `bun:",pk,autoincrement"`
	Name          string           `bun:"name,notnull"`
	Slug          string           `bun:"slug,notnull,unique"`
	SKU           string           `bun:"sku,notnull,unique"`
	Description   string           `bun:"description"`
	Price         decimal.Decimal  `bun:"price,type:decimal(12,2),notnull"`
	SalePrice     *decimal.Decimal `bun:"sale_price,type:decimal(12,2)"`
	StockQuantity int              `bun:"stock_quantity,notnull,default:0"`
	IsActive      bool             `bun:"is_active,notnull"`
	CreatedAt     time.Time        `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time        `bun:"updated_at,nullzero"`
}

// EffectivePrice is the price charged today: the sale price when one is set.
func (p *Product) EffectivePrice() decimal.Decimal {
	if p.SalePrice != nil && p.SalePrice.IsPositive() {
		return *p.SalePrice
	}
	return p.Price
}
