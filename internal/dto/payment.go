package dto

// VerifyRequest is the body of POST /payments/verify.
type VerifyRequest struct {
	Reference     string `json:"reference"`
	PaymentMethod string `json:"payment_method"`
}

// VerifyResponse reports the outcome of a manual verification.
type VerifyResponse struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Applied bool           `json:"applied"`
	Order   *OrderResponse `json:"order,omitempty"`
}

// WebhookResponse acknowledges a provider callback.
type WebhookResponse struct {
	Received bool   `json:"received"`
	Handled  bool   `json:"handled"`
	Applied  bool   `json:"applied"`
	Number   string `json:"order_number,omitempty"`
}
