package port

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Additional-Code/storefront/internal/entity"
)

var (
	// ErrNotFound is returned when a record is missing.
	ErrNotFound = errors.New("record not found")

	// ErrReferenceAlreadySet is returned when a gateway reference would be overwritten.
	ErrReferenceAlreadySet = errors.New("gateway reference already set")
)

// PaymentChange carries the fields written by a settlement transition.
type PaymentChange struct {
	Reference string
	Channel   string
	Payload   string
	At        time.Time
}

// OrderFilter narrows order listings.
type OrderFilter struct {
	Status        string
	PaymentStatus string
	PaymentMethod string
	CustomerID    int64
	Limit         int
	Offset        int
}

// OrderStats summarises orders for the back-office dashboard.
type OrderStats struct {
	TotalOrders     int
	PaidRevenue     decimal.Decimal
	ByStatus        map[string]int
	ByPaymentStatus map[string]int
}

type OrderRepository interface {
	// Create persists the order and its items in one transaction
	Create(ctx context.Context, order *entity.Order) error

	// Delete removes an order and its items (compensation for failed initiation)
	Delete(ctx context.Context, id int64) error

	GetByID(ctx context.Context, id int64) (*entity.Order, error)
	GetByNumber(ctx context.Context, number string) (*entity.Order, error)

	// FindByReference matches the gateway reference first, then the order number
	FindByReference(ctx context.Context, reference string) (*entity.Order, error)

	List(ctx context.Context, filter OrderFilter) ([]*entity.Order, int, error)

	// SetGatewayReference writes the reference only while it is still empty
	SetGatewayReference(ctx context.Context, id int64, reference string) error

	SetReceiptPath(ctx context.Context, id int64, path string) error

	// MarkPaid moves pending|failed to paid; false when another caller already settled it
	MarkPaid(ctx context.Context, id int64, change PaymentChange) (bool, error)

	// MarkFailed moves pending to failed
	MarkFailed(ctx context.Context, id int64, change PaymentChange) (bool, error)

	// MarkRefunded moves paid to refunded
	MarkRefunded(ctx context.Context, id int64, notes string, at time.Time) (bool, error)

	// UpdateStatus moves the fulfillment status when it is currently one of from
	UpdateStatus(ctx context.Context, id int64, from []string, to string, notes string, at time.Time) (bool, error)

	// Cancel moves the status to cancelled when it is one of from; released
	// reports that the order was unpaid at the swap and its items went back to stock
	Cancel(ctx context.Context, id int64, from []string, notes string, at time.Time) (applied, released bool, err error)

	// RecordCheck stores the latest verification payload and bumps the attempt counter
	RecordCheck(ctx context.Context, id int64, payload string, at time.Time) error

	Stats(ctx context.Context) (*OrderStats, error)
}
