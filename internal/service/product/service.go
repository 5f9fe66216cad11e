package product

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/storefront/internal/entity"
	"github.com/Additional-Code/storefront/internal/port"
	"github.com/Additional-Code/storefront/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/storefront/service/product")

// Module provides the catalog service to Fx.
var Module = fx.Provide(NewService)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Input is the writable part of a product.
type Input struct {
	Name          string
	Slug          string
	SKU           string
	Description   string
	Price         decimal.Decimal
	SalePrice     *decimal.Decimal
	StockQuantity int
	IsActive      bool
}

// Patch lists the fields an update changes; nil fields are left alone.
type Patch struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	SalePrice   *decimal.Decimal
	ClearSale   bool
	IsActive    *bool
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Products port.ProductRepository
	Logger   *zap.Logger
}

// Service manages the catalog. Stock is only ever added through Restock;
// checkout removes it through the stock ledger.
type Service struct {
	products port.ProductRepository
	logger   *zap.Logger
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{products: p.Products, logger: p.Logger}
}

// Create adds a product to the catalog.
func (s *Service) Create(ctx context.Context, in Input) (*entity.Product, error) {
	ctx, span := serviceTracer.Start(ctx, "ProductService.Create", trace.WithAttributes(attribute.String("product.sku", in.SKU)))
	defer span.End()

	in.Name = strings.TrimSpace(in.Name)
	in.SKU = strings.TrimSpace(in.SKU)
	if in.Slug == "" {
		in.Slug = slugify(in.Name)
	}

	switch {
	case in.Name == "":
		return nil, errorbank.BadRequest("name is required")
	case in.SKU == "":
		return nil, errorbank.BadRequest("sku is required")
	case !slugPattern.MatchString(in.Slug):
		return nil, errorbank.BadRequest("slug must be lowercase words joined by hyphens")
	case in.StockQuantity < 0:
		return nil, errorbank.BadRequest("stock_quantity cannot be negative")
	}
	if err := validatePrices(in.Price, in.SalePrice); err != nil {
		return nil, err
	}

	product := &entity.Product{
		Name:          in.Name,
		Slug:          in.Slug,
		SKU:           in.SKU,
		Description:   in.Description,
		Price:         in.Price,
		SalePrice:     in.SalePrice,
		StockQuantity: in.StockQuantity,
		IsActive:      in.IsActive,
	}
	if err := s.products.Create(ctx, product); err != nil {
		return nil, errorbank.Conflict("product could not be created; slug and sku must be unique", errorbank.WithCause(err))
	}
	s.logger.Info("product created", zap.Int64("id", product.ID), zap.String("sku", product.SKU))
	return product, nil
}

// Update applies patch to a product.
func (s *Service) Update(ctx context.Context, id int64, patch Patch) (*entity.Product, error) {
	product, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var columns []string
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, errorbank.BadRequest("name cannot be empty")
		}
		product.Name = name
		columns = append(columns, "name")
	}
	if patch.Description != nil {
		product.Description = *patch.Description
		columns = append(columns, "description")
	}
	if patch.Price != nil {
		product.Price = *patch.Price
		columns = append(columns, "price")
	}
	if patch.ClearSale {
		product.SalePrice = nil
		columns = append(columns, "sale_price")
	} else if patch.SalePrice != nil {
		product.SalePrice = patch.SalePrice
		columns = append(columns, "sale_price")
	}
	if patch.IsActive != nil {
		product.IsActive = *patch.IsActive
		columns = append(columns, "is_active")
	}
	if len(columns) == 0 {
		return product, nil
	}
	if err := validatePrices(product.Price, product.SalePrice); err != nil {
		return nil, err
	}

	if err := s.products.Update(ctx, product, columns...); err != nil {
		if errors.Is(err, port.ErrNotFound) {
			return nil, errorbank.NotFound("product not found")
		}
		return nil, errorbank.Internal("failed to update product", errorbank.WithCause(err))
	}
	return s.Get(ctx, id)
}

// Restock adds quantity units to a product.
func (s *Service) Restock(ctx context.Context, id int64, quantity int) (*entity.Product, error) {
	if quantity <= 0 {
		return nil, errorbank.BadRequest("quantity must be positive")
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if err := s.products.Release(ctx, []entity.StockLine{{ProductID: id, Quantity: quantity}}); err != nil {
		return nil, errorbank.Internal("failed to restock product", errorbank.WithCause(err))
	}
	s.logger.Info("product restocked", zap.Int64("id", id), zap.Int("quantity", quantity))
	return s.Get(ctx, id)
}

// Get loads one product.
func (s *Service) Get(ctx context.Context, id int64) (*entity.Product, error) {
	product, err := s.products.GetByID(ctx, id)
	if errors.Is(err, port.ErrNotFound) {
		return nil, errorbank.NotFound("product not found")
	}
	if err != nil {
		return nil, errorbank.Internal("failed to load product", errorbank.WithCause(err))
	}
	return product, nil
}

// List returns a page of products.
func (s *Service) List(ctx context.Context, filter port.ProductFilter) ([]*entity.Product, int, error) {
	products, total, err := s.products.List(ctx, filter)
	if err != nil {
		return nil, 0, errorbank.Internal("failed to list products", errorbank.WithCause(err))
	}
	return products, total, nil
}

func validatePrices(price decimal.Decimal, sale *decimal.Decimal) error {
	if !price.IsPositive() {
		return errorbank.BadRequest("price must be positive")
	}
	if sale != nil && (sale.IsNegative() || sale.GreaterThan(price)) {
		return errorbank.BadRequest("sale_price must be between 0 and price")
	}
	return nil
}

func slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
