package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Fulfillment states.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusShipped    = "shipped"
	StatusDelivered  = "delivered"
	StatusCancelled  = "cancelled"
)

// Settlement states.
const (
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentFailed   = "failed"
	PaymentRefunded = "refunded"
)

// Payment methods accepted at checkout.
const (
	MethodPaystack = "paystack"
	MethodMonnify  = "monnify"
	MethodTransfer = "transfer"
)

// Channels through which a payment transition is applied.
const (
	ChannelWebhook = "webhook"
	ChannelPoll    = "poll"
	ChannelManual  = "manual"
	ChannelAdmin   = "admin"
)

// Address is the shipping address snapshot stored with an order.
type Address struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Order represents a purchase order stored in the relational database.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID            int64  `bun:",pk,autoincrement"`
	Number        string `bun:"number,notnull,unique"`
	CustomerID    int64  `bun:"customer_id,notnull"`
	CustomerEmail string `bun:"customer_email,notnull"`
	CustomerName  string `bun:"customer_name"`
	Status        string `bun:"status,notnull"`
	PaymentStatus string `bun:"payment_status,notnull"`
	PaymentMethod string `bun:"payment_method,notnull"`

	// GatewayReference is assigned once at initiation and never rewritten.
	GatewayReference    string     `bun:"gateway_reference,nullzero,unique"`
	PaymentReference    string     `bun:"payment_reference,nullzero"`
	PaidVia             string     `bun:"paid_via,nullzero"`
	PaidAt              *time.Time `bun:"paid_at"`
	VerificationPayload string     `bun:"verification_payload,nullzero"`
	VerifyAttempts      int        `bun:"verify_attempts,notnull,default:0"`
	LastCheckedAt       *time.Time `bun:"last_checked_at"`
	PaymentReceiptPath  string     `bun:"payment_receipt_path,nullzero"`

	Subtotal    decimal.Decimal `bun:"subtotal,type:decimal(12,2),notnull"`
	TaxAmount   decimal.Decimal `bun:"tax_amount,type:decimal(12,2),notnull"`
	ShippingFee decimal.Decimal `bun:"shipping_fee,type:decimal(12,2),notnull"`
	TotalAmount decimal.Decimal `bun:"total_amount,type:decimal(12,2),notnull"`
	Currency    string          `bun:"currency,notnull"`

	ShippingAddress Address `bun:"shipping_address,type:json,notnull"`
	Notes           string  `bun:"notes,nullzero"`
	AdminNotes      string  `bun:"admin_notes,nullzero"`

	Items []*OrderItem `bun:"rel:has-many,join:id=order_id"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `bun:"updated_at,nullzero"`
}

// IsPaid reports whether the order has settled.
func (o *Order) IsPaid() bool {
	return o.PaymentStatus == PaymentPaid
}

// Lines returns the stock lines reserved for the order.
func (o *Order) Lines() []StockLine {
	lines := make([]StockLine, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

// OrderItem is a priced line frozen at checkout.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	ID          int64           `bun:",pk,autoincrement"`
	OrderID     int64           `bun:"order_id,notnull"`
	ProductID   int64           `bun:"product_id,notnull"`
	ProductName string          `bun:"product_name,notnull"`
	Quantity    int             `bun:"quantity,notnull"`
	UnitPrice   decimal.Decimal `bun:"unit_price,type:decimal(12,2),notnull"`
	LineTotal   decimal.Decimal `bun:"line_total,type:decimal(12,2),notnull"`
	CreatedAt   time.Time       `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
}

// StockLine is a product quantity held against inventory.
type StockLine struct {
	ProductID int64
	Quantity  int
}

// OrderSequence is the per-period counter backing order numbers.
type OrderSequence struct {
	bun.BaseModel `bun:"table:order_sequences"`

	Period string `bun:"period,pk"`
	Value  int64  `bun:"value,notnull"`
}
