// Package gateway talks to external payment providers behind one interface.
//
// Callers always deal in major currency units and in the order number as the
// payment reference; each client converts to whatever its provider expects.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Additional-Code/storefront/pkg/errorbank"
)

// Status is the canonical outcome of a verification.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// InitRequest describes a payment to start with a provider.
type InitRequest struct {
	Reference     string
	Amount        decimal.Decimal
	Currency      string
	CustomerEmail string
	CustomerName  string
	Description   string
	CallbackURL   string
	Metadata      map[string]string
}

// Session is a started payment the customer completes on the provider's page.
type Session struct {
	Reference         string
	ProviderReference string
	RedirectURL       string
}

// Verification is the provider's view of a payment.
type Verification struct {
	Reference string
	Status    Status
	Amount    decimal.Decimal
	Currency  string
	PaidAt    *time.Time
	Message   string
	Raw       []byte
}

// WebhookEvent is a parsed provider callback.
type WebhookEvent struct {
	Type      string
	Reference string
	Succeeded bool
	Amount    decimal.Decimal
	Currency  string
	Raw       []byte
}

// Verifier authenticates inbound callbacks over the exact request bytes.
type Verifier interface {
	SignatureHeader() string
	VerifySignature(body []byte, signature string) bool
}

// Gateway is a payment provider client.
type Gateway interface {
	Verifier

	Name() string

	// Initialize starts a payment. The provider must echo req.Reference back.
	Initialize(ctx context.Context, req InitRequest) (*Session, error)

	// Verify reads the current payment state without changing it.
	Verify(ctx context.Context, reference string) (*Verification, error)

	// ParseWebhook decodes an already authenticated callback body.
	ParseWebhook(body []byte) (*WebhookEvent, error)
}

// ErrorKind classifies provider failures.
type ErrorKind int

const (
	// ErrTransport covers network failures and provider 5xx; safe to retry.
	ErrTransport ErrorKind = iota + 1
	// ErrRejected means the provider refused the request itself.
	ErrRejected
	// ErrAuth means our credentials were refused.
	ErrAuth
)

func (k ErrorKind) String() string {
	switch k {
	case ErrTransport:
		return "transport"
	case ErrRejected:
		return "rejected"
	case ErrAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// Error is returned by every gateway operation that fails.
type Error struct {
	Gateway string
	Kind    ErrorKind
	Reason  string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s error: %s: %v", e.Gateway, e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s %s error: %s", e.Gateway, e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Kind == ErrTransport
}

// AppError maps a gateway failure onto the application error taxonomy.
// Only the provider's reason string is exposed.
func AppError(err error) error {
	var gwErr *Error
	if !errors.As(err, &gwErr) {
		return errorbank.From(err)
	}
	details := map[string]any{"gateway": gwErr.Gateway}
	switch gwErr.Kind {
	case ErrTransport:
		return errorbank.GatewayUnavailable("payment gateway unavailable, please try again",
			errorbank.WithDetails(details), errorbank.WithCause(err))
	case ErrRejected:
		return errorbank.GatewayRejected(gwErr.Reason,
			errorbank.WithDetails(details), errorbank.WithCause(err))
	default:
		return errorbank.Internal("payment gateway misconfigured",
			errorbank.WithDetails(details), errorbank.WithCause(err))
	}
}

// ErrUnknownGateway is returned for providers that are not configured.
var ErrUnknownGateway = errors.New("unknown payment gateway")

// Registry resolves configured gateways by name.
type Registry struct {
	gateways map[string]Gateway
}

// NewRegistry indexes gateways by Name.
func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, gw := range gateways {
		if gw != nil {
			r.gateways[gw.Name()] = gw
		}
	}
	return r
}

// Get returns the gateway registered under name.
func (r *Registry) Get(name string) (Gateway, error) {
	gw, ok := r.gateways[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGateway, name)
	}
	return gw, nil
}

// Has reports whether name is configured.
func (r *Registry) Has(name string) bool {
	_, ok := r.gateways[name]
	return ok
}

// Names lists configured gateways in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
