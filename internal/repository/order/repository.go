package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/storefront/internal/database"
	"github.com/Additional-Code/storefront/internal/entity"
	"github.com/Additional-Code/storefront/internal/port"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/storefront/repository/order")

// Repository encapsulates read/write access for orders.
//
// Reads that feed a state transition go to the writer so a lagging replica
// never hides an already-applied change; listings and stats use the reader.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

var _ port.OrderRepository = (*Repository)(nil)

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

// Create persists a new order and its items in a single transaction.
func (r *Repository) Create(ctx context.Context, order *entity.Order) error {
	if order == nil {
		return errors.New("nil order")
	}
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Create", trace.WithAttributes(attribute.String("order.number", order.Number)))
	defer span.End()

	err := r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if len(order.Items) == 0 {
			return nil
		}
		for _, item := range order.Items {
			item.OrderID = order.ID
		}
		if _, err := tx.NewInsert().Model(&order.Items).Exec(ctx); err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

// Delete removes the order and its items.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	return r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*entity.OrderItem)(nil)).Where("order_id = ?", id).Exec(ctx); err != nil {
			return fmt.Errorf("delete order items: %w", err)
		}
		res, err := tx.NewDelete().Model((*entity.Order)(nil)).Where("id = ?", id).Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete order: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return port.ErrNotFound
		}
		return nil
	})
}

// GetByID fetches an order with its items by primary key.
func (r *Repository) GetByID(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.GetByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := r.selectOne(ctx, r.writer, "?TableAlias.id = ?", id)
	if err != nil && !errors.Is(err, port.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
	}
	return order, err
}

// GetByNumber fetches an order by its public number.
func (r *Repository) GetByNumber(ctx context.Context, number string) (*entity.Order, error) {
	return r.selectOne(ctx, r.reader, "?TableAlias.number = ?", number)
}

// FindByReference matches on gateway reference, falling back to the order number.
func (r *Repository) FindByReference(ctx context.Context, reference string) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.FindByReference", trace.WithAttributes(attribute.String("payment.reference", reference)))
	defer span.End()

	if reference == "" {
		return nil, port.ErrNotFound
	}
	order, err := r.selectOne(ctx, r.writer, "?TableAlias.gateway_reference = ?", reference)
	if errors.Is(err, port.ErrNotFound) {
		return r.selectOne(ctx, r.writer, "?TableAlias.number = ?", reference)
	}
	return order, err
}

func (r *Repository) selectOne(ctx context.Context, db *bun.DB, where string, arg any) (*entity.Order, error) {
	order := new(entity.Order)
	err := db.NewSelect().
		Model(order).
		Relation("Items", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.OrderExpr("?TableAlias.id ASC")
		}).
		Where(where, arg).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

// List returns a page of orders and the total matching count.
func (r *Repository) List(ctx context.Context, filter port.OrderFilter) ([]*entity.Order, int, error) {
	var orders []*entity.Order
	q := r.reader.NewSelect().
		Model(&orders).
		Relation("Items").
		OrderExpr("?TableAlias.id DESC")

	if filter.Status != "" {
		q = q.Where("?TableAlias.status = ?", filter.Status)
	}
	if filter.PaymentStatus != "" {
		q = q.Where("?TableAlias.payment_status = ?", filter.PaymentStatus)
	}
	if filter.PaymentMethod != "" {
		q = q.Where("?TableAlias.payment_method = ?", filter.PaymentMethod)
	}
	if filter.CustomerID != 0 {
		q = q.Where("?TableAlias.customer_id = ?", filter.CustomerID)
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
	return orders, total, nil
}

// SetGatewayReference writes the reference once. Re-writing the same value is a no-op.
func (r *Repository) SetGatewayReference(ctx context.Context, id int64, reference string) error {
	res, err := r.writer.NewUpdate().
		Model((*entity.Order)(nil)).
		Set("gateway_reference = ?", reference).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("gateway_reference IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set gateway reference: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current.GatewayReference == reference {
		return nil
	}
	return port.ErrReferenceAlreadySet
}

// SetReceiptPath records where the transfer receipt was stored.
func (r *Repository) SetReceiptPath(ctx context.Context, id int64, path string) error {
	_, err := r.writer.NewUpdate().
		Model((*entity.Order)(nil)).
		Set("payment_receipt_path = ?", path).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// MarkPaid applies pending|failed -> paid as a single conditional update.
// Exactly one concurrent caller observes true.
func (r *Repository) MarkPaid(ctx context.Context, id int64, change port.PaymentChange) (bool, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.MarkPaid", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("payment.channel", change.Channel),
	))
	defer span.End()

	res, err := r.writer.NewUpdate().
		Model((*entity.Order)(nil)).
		Set("payment_status = ?", entity.PaymentPaid).
		Set("paid_at = ?", change.At).
		Set("paid_via = ?", change.Channel).
		Set("payment_reference = ?", nullable(change.Reference)).
		Set("verification_payload = COALESCE(?, verification_payload)", nullable(change.Payload)).
		Set("status = CASE WHEN status = ? THEN ? ELSE status END", entity.StatusPending, entity.StatusProcessing).
		Set("updated_at = ?", change.At).
		Where("id = ?", id).
		Where("payment_status IN (?)", bun.In([]string{entity.PaymentPending, entity.PaymentFailed})).
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return false, fmt.Errorf("mark paid: %w", err)
	}
	return affectedOne(res), nil
}

// MarkFailed applies pending -> failed.
func (r *Repository) MarkFailed(ctx context.Context, id int64, change port.PaymentChange) (bool, error) {
	res, err := r.writer.NewUpdate().
		Model((*entity.Order)(nil)).
		Set("payment_status = ?", entity.PaymentFailed).
		Set("verification_payload = COALESCE(?, verification_payload)", nullable(change.Payload)).
		Set("updated_at = ?", change.At).
		Where("id = ?", id).
		Where("payment_status = ?", entity.PaymentPending).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}
	return affectedOne(res), nil
}

// MarkRefunded applies paid -> refunded.
func (r *Repository) MarkRefunded(ctx context.Context, id int64, notes string, at time.Time) (bool, error) {
	res, err := r.writer.NewUpdate().
		Model((*entity.Order)(nil)).
		Set("payment_status = ?", entity.PaymentRefunded).
		Set("admin_notes = COALESCE(?, admin_notes)", nullable(notes)).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Where("payment_status = ?", entity.PaymentPaid).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("mark refunded: %w", err)
	}
	return affectedOne(res), nil
}

// UpdateStatus moves the fulfillment status if it is currently one of from.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, from []string, to string, notes string, at time.Time) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("no source status")
	}
	res, err := r.writer.NewUpdate().
		Model((*entity.Order)(nil)).
		Set("status = ?", to).
		Set("admin_notes = COALESCE(?, admin_notes)", nullable(notes)).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Where("status IN (?)", bun.In(from)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	return affectedOne(res), nil
}

// Cancel moves the order to cancelled when its status is one of from. When the
// payment is still pending or failed at the moment of the swap, the items go
// back to stock in the same transaction and released is true. A settled order
// is cancelled without touching stock.
func (r *Repository) Cancel(ctx context.Context, id int64, from []string, notes string, at time.Time) (applied, released bool, err error) {
	if len(from) == 0 {
		return false, false, errors.New("no source status")
	}
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Cancel", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	err = r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := cancelQuery(tx, id, from, notes, at).
			Where("payment_status IN (?)", bun.In([]string{entity.PaymentPending, entity.PaymentFailed})).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("cancel unpaid order: %w", err)
		}
		if affectedOne(res) {
			applied, released = true, true
			return restock(ctx, tx, id, at)
		}

		res, err = cancelQuery(tx, id, from, notes, at).Exec(ctx)
		if err != nil {
			return fmt.Errorf("cancel order: %w", err)
		}
		applied = affectedOne(res)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancel failed")
		return false, false, err
	}
	return applied, released, nil
}

func cancelQuery(tx bun.Tx, id int64, from []string, notes string, at time.Time) *bun.UpdateQuery {
	return tx.NewUpdate().
		Model((*entity.Order)(nil)).
		Set("status = ?", entity.StatusCancelled).
		Set("admin_notes = COALESCE(?, admin_notes)", nullable(notes)).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Where("status IN (?)", bun.In(from))
}

// restock returns every item of the order to its product, in product id order.
func restock(ctx context.Context, tx bun.Tx, orderID int64, at time.Time) error {
	var items []*entity.OrderItem
	err := tx.NewSelect().
		Model(&items).
		Where("order_id = ?", orderID).
		OrderExpr("product_id ASC").
		Scan(ctx)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	for _, item := range items {
		_, err := tx.NewUpdate().
			Model((*entity.Product)(nil)).
			Set("stock_quantity = stock_quantity + ?", item.Quantity).
			Set("updated_at = ?", at).
			Where("id = ?", item.ProductID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("restock product %d: %w", item.ProductID, err)
		}
	}
	return nil
}

// RecordCheck stores a verification attempt.
func (r *Repository) RecordCheck(ctx context.Context, id int64, payload string, at time.Time) error {
	_, err := r.writer.NewUpdate().
		Model((*entity.Order)(nil)).
		Set("verify_attempts = verify_attempts + 1").
		Set("last_checked_at = ?", at).
		Set("verification_payload = COALESCE(?, verification_payload)", nullable(payload)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// Stats aggregates order counts and paid revenue.
func (r *Repository) Stats(ctx context.Context) (*port.OrderStats, error) {
	stats := &port.OrderStats{
		PaidRevenue:     decimal.Zero,
		ByStatus:        make(map[string]int),
		ByPaymentStatus: make(map[string]int),
	}

	var byStatus []struct {
		Status string `bun:"status"`
		Count  int    `bun:"count"`
	}
	if err := r.reader.NewSelect().
		Model((*entity.Order)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS count").
		Group("status").
		Scan(ctx, &byStatus); err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	for _, row := range byStatus {
		stats.ByStatus[row.Status] = row.Count
		stats.TotalOrders += row.Count
	}

	var byPayment []struct {
		PaymentStatus string `bun:"payment_status"`
		Count         int    `bun:"count"`
	}
	if err := r.reader.NewSelect().
		Model((*entity.Order)(nil)).
		Column("payment_status").
		ColumnExpr("COUNT(*) AS count").
		Group("payment_status").
		Scan(ctx, &byPayment); err != nil {
		return nil, fmt.Errorf("count by payment status: %w", err)
	}
	for _, row := range byPayment {
		stats.ByPaymentStatus[row.PaymentStatus] = row.Count
	}

	var revenue decimal.NullDecimal
	if err := r.reader.NewSelect().
		Model((*entity.Order)(nil)).
		ColumnExpr("SUM(total_amount)").
		Where("payment_status = ?", entity.PaymentPaid).
		Scan(ctx, &revenue); err != nil {
		return nil, fmt.Errorf("sum revenue: %w", err)
	}
	if revenue.Valid {
		stats.PaidRevenue = revenue.Decimal
	}

	return stats, nil
}

func affectedOne(res sql.Result) bool {
	n, err := res.RowsAffected()
	return err == nil && n == 1
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
