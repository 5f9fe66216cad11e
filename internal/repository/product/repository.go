package product

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/storefront/internal/database"
	"github.com/Additional-Code/storefront/internal/entity"
	"github.com/Additional-Code/storefront/internal/port"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/storefront/repository/product")

// Repository encapsulates catalog access and the stock ledger.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

var _ port.ProductRepository = (*Repository)(nil)

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

// Create inserts a product.
func (r *Repository) Create(ctx context.Context, product *entity.Product) error {
	if product == nil {
		return errors.New("nil product")
	}
	_, err := r.writer.NewInsert().Model(product).Exec(ctx)
	return err
}

// Update writes the named columns of product. Stock is never written here;
// it only moves through Reserve and Release.
func (r *Repository) Update(ctx context.Context, product *entity.Product, columns ...string) error {
	if product == nil {
		return errors.New("nil product")
	}
	product.UpdatedAt = time.Now().UTC()

	q := r.writer.NewUpdate().Model(product).WherePK()
	if len(columns) > 0 {
		cols := append(append(make([]string, 0, len(columns)+1), columns...), "updated_at")
		q = q.Column(cols...)
	} else {
		q = q.ExcludeColumn("stock_quantity", "created_at")
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return port.ErrNotFound
	}
	return nil
}

// GetByID fetches a product by primary key.
func (r *Repository) GetByID(ctx context.Context, id int64) (*entity.Product, error) {
	product := new(entity.Product)
	err := r.writer.NewSelect().Model(product).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return product, nil
}

// GetByIDs loads the requested products keyed by id; missing ids are absent from the map.
func (r *Repository) GetByIDs(ctx context.Context, ids []int64) (map[int64]*entity.Product, error) {
	out := make(map[int64]*entity.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var products []*entity.Product
	if err := r.reader.NewSelect().Model(&products).Where("id IN (?)", bun.In(ids)).Scan(ctx); err != nil {
		return nil, err
	}
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

// List returns a page of products and the total matching count.
func (r *Repository) List(ctx context.Context, filter port.ProductFilter) ([]*entity.Product, int, error) {
	var products []*entity.Product
	q := r.reader.NewSelect().Model(&products).OrderExpr("id ASC")
	if filter.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	total, err := q.ScanAndCount(ctx)
	if err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

// Reserve decrements stock for every line inside one transaction. Each row is
// changed only while stock_quantity >= quantity, so concurrent reservations
// can never drive a counter negative; one short line rolls back the batch.
func (r *Repository) Reserve(ctx context.Context, lines []entity.StockLine) error {
	ctx, span := repoTracer.Start(ctx, "ProductRepository.Reserve", trace.WithAttributes(attribute.Int("stock.lines", len(lines))))
	defer span.End()

	merged, err := mergeLines(lines)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	err = r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, line := range merged {
			res, err := tx.NewUpdate().
				Model((*entity.Product)(nil)).
				Set("stock_quantity = stock_quantity - ?", line.Quantity).
				Set("updated_at = ?", now).
				Where("id = ?", line.ProductID).
				Where("stock_quantity >= ?", line.Quantity).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("decrement stock: %w", err)
			}
			if n, _ := res.RowsAffected(); n != 1 {
				return &port.InsufficientStockError{ProductID: line.ProductID, Requested: line.Quantity}
			}
		}
		return nil
	})
	if err != nil {
		var stockErr *port.InsufficientStockError
		if !errors.As(err, &stockErr) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "reserve failed")
		}
	}
	return err
}

// Release returns stock held by lines.
func (r *Repository) Release(ctx context.Context, lines []entity.StockLine) error {
	merged, err := mergeLines(lines)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	return r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, line := range merged {
			_, err := tx.NewUpdate().
				Model((*entity.Product)(nil)).
				Set("stock_quantity = stock_quantity + ?", line.Quantity).
				Set("updated_at = ?", now).
				Where("id = ?", line.ProductID).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("increment stock: %w", err)
			}
		}
		return nil
	})
}

// mergeLines folds duplicate products together and orders rows by id so
// concurrent batches lock rows in the same sequence.
func mergeLines(lines []entity.StockLine) ([]entity.StockLine, error) {
	totals := make(map[int64]int, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("invalid quantity %d for product %d", line.Quantity, line.ProductID)
		}
		totals[line.ProductID] += line.Quantity
	}

	merged := make([]entity.StockLine, 0, len(totals))
	for id, qty := range totals {
		merged = append(merged, entity.StockLine{ProductID: id, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductID < merged[j].ProductID })
	return merged, nil
}
