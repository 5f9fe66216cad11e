package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Additional-Code/storefront/internal/entity"
)

// OrderItemRequest is one requested line at checkout.
type OrderItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// CheckoutRequest is the body of POST /orders.
type CheckoutRequest struct {
	CustomerID      int64              `json:"customer_id"`
	CustomerEmail   string             `json:"customer_email"`
	CustomerName    string             `json:"customer_name"`
	Items           []OrderItemRequest `json:"items"`
	ShippingAddress entity.Address     `json:"shipping_address"`
	PaymentMethod   string             `json:"payment_method"`
	Notes           string             `json:"notes"`
}

// OrderItemResponse is a frozen order line.
type OrderItemResponse struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// OrderResponse represents an order as exposed via transport layers.
type OrderResponse struct {
	ID               int64               `json:"id"`
	Number           string              `json:"number"`
	Status           string              `json:"status"`
	PaymentStatus    string              `json:"payment_status"`
	PaymentMethod    string              `json:"payment_method"`
	GatewayReference string              `json:"gateway_reference,omitempty"`
	PaidVia          string              `json:"paid_via,omitempty"`
	PaidAt           *time.Time          `json:"paid_at,omitempty"`
	CustomerEmail    string              `json:"customer_email"`
	CustomerName     string              `json:"customer_name,omitempty"`
	Subtotal         decimal.Decimal     `json:"subtotal"`
	TaxAmount        decimal.Decimal     `json:"tax_amount"`
	ShippingFee      decimal.Decimal     `json:"shipping_fee"`
	TotalAmount      decimal.Decimal     `json:"total_amount"`
	Currency         string              `json:"currency"`
	ShippingAddress  entity.Address      `json:"shipping_address"`
	Items            []OrderItemResponse `json:"items,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// AdminOrderResponse adds the back-office fields.
type AdminOrderResponse struct {
	OrderResponse
	CustomerID         int64      `json:"customer_id"`
	PaymentReference   string     `json:"payment_reference,omitempty"`
	VerifyAttempts     int        `json:"verify_attempts"`
	LastCheckedAt      *time.Time `json:"last_checked_at,omitempty"`
	PaymentReceiptPath string     `json:"payment_receipt_path,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	AdminNotes         string     `json:"admin_notes,omitempty"`
}

// BankDetailsResponse tells a transfer customer where to pay.
type BankDetailsResponse struct {
	BankName      string          `json:"bank_name"`
	AccountNumber string          `json:"account_number"`
	AccountName   string          `json:"account_name"`
	Reference     string          `json:"reference"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
}

// CheckoutResponse is returned from POST /orders.
type CheckoutResponse struct {
	Order       OrderResponse        `json:"order"`
	RedirectURL string               `json:"redirect_url,omitempty"`
	BankDetails *BankDetailsResponse `json:"bank_details,omitempty"`
}

// StatusUpdateRequest moves an order's fulfillment status.
type StatusUpdateRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

// RefundRequest carries the administrator's refund note.
type RefundRequest struct {
	Notes string `json:"notes"`
}

// StatsResponse is the dashboard summary.
type StatsResponse struct {
	TotalOrders     int             `json:"total_orders"`
	PaidRevenue     decimal.Decimal `json:"paid_revenue"`
	ByStatus        map[string]int  `json:"by_status"`
	ByPaymentStatus map[string]int  `json:"by_payment_status"`
	Products        int             `json:"products"`
}

// NewOrderResponse maps an order for customers.
func NewOrderResponse(o *entity.Order) OrderResponse {
	items := make([]OrderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemResponse{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			LineTotal:   it.LineTotal,
		})
	}
	return OrderResponse{
		ID:               o.ID,
		Number:           o.Number,
		Status:           o.Status,
		PaymentStatus:    o.PaymentStatus,
		PaymentMethod:    o.PaymentMethod,
		GatewayReference: o.GatewayReference,
		PaidVia:          o.PaidVia,
		PaidAt:           o.PaidAt,
		CustomerEmail:    o.CustomerEmail,
		CustomerName:     o.CustomerName,
		Subtotal:         o.Subtotal,
		TaxAmount:        o.TaxAmount,
		ShippingFee:      o.ShippingFee,
		TotalAmount:      o.TotalAmount,
		Currency:         o.Currency,
		ShippingAddress:  o.ShippingAddress,
		Items:            items,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
}

// NewAdminOrderResponse maps an order for the back-office.
func NewAdminOrderResponse(o *entity.Order) AdminOrderResponse {
	return AdminOrderResponse{
		OrderResponse:      NewOrderResponse(o),
		CustomerID:         o.CustomerID,
		PaymentReference:   o.PaymentReference,
		VerifyAttempts:     o.VerifyAttempts,
		LastCheckedAt:      o.LastCheckedAt,
		PaymentReceiptPath: o.PaymentReceiptPath,
		Notes:              o.Notes,
		AdminNotes:         o.AdminNotes,
	}
}
