package errorbank

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

// Kind enumerates supported application error categories.
type Kind string

const (
	KindBadRequest          Kind = "bad_request"
	KindInvalidSignature    Kind = "invalid_signature"
	KindConflict            Kind = "conflict"
	KindInsufficientStock   Kind = "insufficient_stock"
	KindNotFound            Kind = "not_found"
	KindUnprocessableEntity Kind = "unprocessable_entity"
	KindGatewayRejected     Kind = "gateway_rejected"
	KindGatewayUnavailable  Kind = "gateway_unavailable"
	KindInternal            Kind = "internal"
)

// AppError captures rich error context shared across transports.
type AppError struct {
	kind    Kind
	message string
	details map[string]any
	cause   error
}

// Option mutates an AppError during construction.
type Option func(*AppError)

// WithCause attaches an underlying error.
func WithCause(err error) Option {
	return func(appErr *AppError) {
		appErr.cause = err
	}
}

// WithDetail adds a single named detail value.
func WithDetail(key string, value any) Option {
	return func(appErr *AppError) {
		if appErr.details == nil {
			appErr.details = make(map[string]any)
		}
		appErr.details[key] = value
	}
}

// WithDetails merges multiple detail values.
func WithDetails(details map[string]any) Option {
	return func(appErr *AppError) {
		if len(details) == 0 {
			return
		}
		if appErr.details == nil {
			appErr.details = make(map[string]any)
		}
		for k, v := range details {
			appErr.details[k] = v
		}
	}
}

// New constructs a new AppError with the supplied kind and message.
func New(kind Kind, message string, opts ...Option) *AppError {
	if message == "" {
		message = string(kind)
	}
	appErr := &AppError{kind: kind, message: message}
	for _, opt := range opts {
		opt(appErr)
	}
	return appErr
}

// Error satisfies the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Kind returns the error category.
func (e *AppError) Kind() Kind {
	if e == nil {
		return KindInternal
	}
	return e.kind
}

// Message returns the human-readable message.
func (e *AppError) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Details returns optional metadata about the error.
func (e *AppError) Details() map[string]any {
	if e == nil {
		return nil
	}
	return e.details
}

// StatusCode resolves the HTTP status for the error kind.
func (e *AppError) StatusCode() int {
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindInvalidSignature:
		return http.StatusUnauthorized
	case KindConflict, KindInsufficientStock:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindUnprocessableEntity:
		return http.StatusUnprocessableEntity
	case KindGatewayRejected:
		return http.StatusBadGateway
	case KindGatewayUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GRPCCode maps the error kind onto a gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if e == nil {
		return codes.Internal
	}
	switch e.kind {
	case KindBadRequest:
		return codes.InvalidArgument
	case KindInvalidSignature:
		return codes.Unauthenticated
	case KindConflict:
		return codes.AlreadyExists
	case KindInsufficientStock:
		return codes.ResourceExhausted
	case KindNotFound:
		return codes.NotFound
	case KindUnprocessableEntity:
		return codes.FailedPrecondition
	case KindGatewayRejected:
		return codes.Aborted
	case KindGatewayUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// BadRequest constructs a 400 error.
func BadRequest(message string, opts ...Option) *AppError {
	return New(KindBadRequest, message, opts...)
}

// Conflict constructs a 409 error.
func Conflict(message string, opts ...Option) *AppError {
	return New(KindConflict, message, opts...)
}

// InvalidSignature constructs a 401 error for unauthenticated callbacks.
func InvalidSignature(message string, opts ...Option) *AppError {
	return New(KindInvalidSignature, message, opts...)
}

// InsufficientStock constructs a 409 error for stock reservations that cannot be met.
func InsufficientStock(message string, opts ...Option) *AppError {
	return New(KindInsufficientStock, message, opts...)
}

// GatewayRejected constructs a 502 error carrying the provider's reason.
func GatewayRejected(message string, opts ...Option) *AppError {
	return New(KindGatewayRejected, message, opts...)
}

// GatewayUnavailable constructs a 503 error for retryable provider failures.
func GatewayUnavailable(message string, opts ...Option) *AppError {
	return New(KindGatewayUnavailable, message, opts...)
}

// NotFound constructs a 404 error.
func NotFound(message string, opts ...Option) *AppError {
	return New(KindNotFound, message, opts...)
}

// Unprocessable constructs a 422 error.
func Unprocessable(message string, opts ...Option) *AppError {
	return New(KindUnprocessableEntity, message, opts...)
}

// Internal constructs a generic 500 error.
func Internal(message string, opts ...Option) *AppError {
	return New(KindInternal, message, opts...)
}

// From returns an AppError for any error input, wrapping unexpected values.
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("internal error", WithCause(err))
}

// FromHTTPStatus maps a transport status code onto the closest kind.
func FromHTTPStatus(status int, message string, opts ...Option) *AppError {
	kind := KindInternal
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindInvalidSignature
	case status == http.StatusNotFound || status == http.StatusMethodNotAllowed:
		kind = KindNotFound
	case status == http.StatusConflict:
		kind = KindConflict
	case status == http.StatusUnprocessableEntity:
		kind = KindUnprocessableEntity
	case status == http.StatusServiceUnavailable:
		kind = KindGatewayUnavailable
	case status >= 400 && status < 500:
		kind = KindBadRequest
	}
	return New(kind, message, opts...)
}

// Is reports whether err carries an AppError of the given kind.
func Is(err error, kind Kind) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Kind() == kind
}
