package seeder

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Additional-Code/storefront/internal/database"
	"github.com/Additional-Code/storefront/internal/entity"
	"github.com/Additional-Code/storefront/internal/port"
)

//go:embed fixtures/catalog.yaml
var defaultCatalog []byte

// Module provides the seeder to Fx.
var Module = fx.Provide(New)

// ProductFixture is one catalog entry in a fixture file.
type ProductFixture struct {
	Name        string `yaml:"name"`
	Slug        string `yaml:"slug"`
	SKU         string `yaml:"sku"`
	Description string `yaml:"description"`
	Price       string `yaml:"price"`
	SalePrice   string `yaml:"sale_price"`
	Stock       int    `yaml:"stock"`
	Inactive    bool   `yaml:"inactive"`
}

// Fixtures is the content of a seed file.
type Fixtures struct {
	Products []ProductFixture  `yaml:"products"`
	Settings map[string]string `yaml:"settings"`
}

// Seeder performs database seeding for local/dev setups.
type Seeder struct {
	db       *bun.DB
	settings port.SettingRepository
	logger   *zap.Logger
}

// New constructs a Seeder backed by the primary database connection.
func New(conns *database.Connections, settings port.SettingRepository, logger *zap.Logger) *Seeder {
	return &Seeder{db: conns.Writer, settings: settings, logger: logger}
}

// ParseFixtures decodes a yaml seed file.
func ParseFixtures(data []byte) (*Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	return &f, nil
}

// LoadFixtures reads fixtures from path, or the bundled catalog when path is empty.
func LoadFixtures(path string) (*Fixtures, error) {
	if path == "" {
		return ParseFixtures(defaultCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	return ParseFixtures(data)
}

// Run inserts missing products and writes every setting. Existing products,
// including their stock, are left untouched.
func (s *Seeder) Run(ctx context.Context, f *Fixtures) error {
	products := make([]*entity.Product, 0, len(f.Products))
	for _, p := range f.Products {
		product, err := p.toEntity()
		if err != nil {
			return err
		}
		products = append(products, product)
	}

	inserted := 0
	for _, product := range products {
		res, err := s.db.NewInsert().Model(product).Ignore().Exec(ctx)
		if err != nil {
			return fmt.Errorf("seed product %s: %w", product.SKU, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	for key, value := range f.Settings {
		if err := s.settings.Set(ctx, key, value); err != nil {
			return fmt.Errorf("seed setting %s: %w", key, err)
		}
	}

	if s.logger != nil {
		s.logger.Info("seed data applied",
			zap.Int("products", len(products)),
			zap.Int("products_inserted", inserted),
			zap.Int("settings", len(f.Settings)),
		)
	}
	return nil
}

func (p ProductFixture) toEntity() (*entity.Product, error) {
	price, err := decimal.NewFromString(p.Price)
	if err != nil {
		return nil, fmt.Errorf("product %s: invalid price %q", p.SKU, p.Price)
	}
	product := &entity.Product{
		Name:          p.Name,
		Slug:          p.Slug,
		SKU:           p.SKU,
		Description:   p.Description,
		Price:         price,
		StockQuantity: p.Stock,
		IsActive:      !p.Inactive,
	}
	if p.SalePrice != "" {
		sale, err := decimal.NewFromString(p.SalePrice)
		if err != nil {
			return nil, fmt.Errorf("product %s: invalid sale price %q", p.SKU, p.SalePrice)
		}
		product.SalePrice = &sale
	}
	return product, nil
}
