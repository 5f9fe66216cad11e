package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Additional-Code/storefront/internal/entity"
)

// ProductRequest creates a product.
type ProductRequest struct {
	Name          string           `json:"name"`
	Slug          string           `json:"slug"`
	SKU           string           `json:"sku"`
	Description   string           `json:"description"`
	Price         decimal.Decimal  `json:"price"`
	SalePrice     *decimal.Decimal `json:"sale_price"`
	StockQuantity int              `json:"stock_quantity"`
	IsActive      bool             `json:"is_active"`
}

// ProductPatchRequest updates a product; absent fields are unchanged.
type ProductPatchRequest struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	SalePrice   *decimal.Decimal `json:"sale_price"`
	ClearSale   bool             `json:"clear_sale"`
	IsActive    *bool            `json:"is_active"`
}

// RestockRequest adds units to a product.
type RestockRequest struct {
	Quantity int `json:"quantity"`
}

// ProductResponse is a catalog entry.
type ProductResponse struct {
	ID             int64            `json:"id"`
	Name           string           `json:"name"`
	Slug           string           `json:"slug"`
	SKU            string           `json:"sku"`
	Description    string           `json:"description,omitempty"`
	Price          decimal.Decimal  `json:"price"`
	SalePrice      *decimal.Decimal `json:"sale_price,omitempty"`
	EffectivePrice decimal.Decimal  `json:"effective_price"`
	StockQuantity  int              `json:"stock_quantity"`
	IsActive       bool             `json:"is_active"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// SettingRequest sets one value.
type SettingRequest struct {
	Value string `json:"value"`
}

// NewProductResponse maps a product.
func NewProductResponse(p *entity.Product) ProductResponse {
	return ProductResponse{
		ID:             p.ID,
		Name:           p.Name,
		Slug:           p.Slug,
		SKU:            p.SKU,
		Description:    p.Description,
		Price:          p.Price,
		SalePrice:      p.SalePrice,
		EffectivePrice: p.EffectivePrice(),
		StockQuantity:  p.StockQuantity,
		IsActive:       p.IsActive,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}
