package response

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Additional-Code/storefront/pkg/errorbank"
)

// Envelope is the JSON body every storefront endpoint answers with.
type Envelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Error   *ErrorBody     `json:"error,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Builder assembles an Envelope for one request.
type Builder struct {
	ctx    echo.Context
	status int
	data   any
	err    error
	meta   map[string]any
}

// New instantiates a Builder for the provided request context.
func New(ctx echo.Context) *Builder {
	return &Builder{ctx: ctx, status: http.StatusOK}
}

// Error renders err through a fresh Builder.
func Error(ctx echo.Context, err error) error {
	return New(ctx).WithError(err).Build()
}

// WithStatus overrides the response status code.
func (b *Builder) WithStatus(status int) *Builder {
	if status > 0 {
		b.status = status
	}
	return b
}

// WithData attaches a success payload.
func (b *Builder) WithData(data any) *Builder {
	b.data = data
	return b
}

// WithError records an error to be rendered.
func (b *Builder) WithError(err error) *Builder {
	b.err = err
	return b
}

// WithMeta appends auxiliary metadata to the response.
func (b *Builder) WithMeta(key string, value any) *Builder {
	if key == "" {
		return b
	}
	if b.meta == nil {
		b.meta = make(map[string]any)
	}
	b.meta[key] = value
	return b
}

// WithPage records listing totals alongside the page window.
func (b *Builder) WithPage(total, limit, offset int) *Builder {
	return b.WithMeta("total", total).WithMeta("limit", limit).WithMeta("offset", offset)
}

// Build emits the response.
func (b *Builder) Build() error {
	if id := b.ctx.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		b.WithMeta("request_id", id)
	}
	if b.err != nil {
		return b.buildError()
	}
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.ctx.JSON(b.status, Envelope{Success: true, Data: b.data, Meta: b.meta})
}

func (b *Builder) buildError() error {
	appErr, status := toAppError(b.err)
	if b.status >= 400 {
		status = b.status
	}
	return b.ctx.JSON(status, Envelope{
		Error: &ErrorBody{
			Kind:    string(appErr.Kind()),
			Message: appErr.Message(),
			Details: appErr.Details(),
		},
		Meta: b.meta,
	})
}

// toAppError also understands errors raised by echo itself (unknown routes,
// bind failures, key-auth rejections); those keep echo's status code.
func toAppError(err error) (*errorbank.AppError, int) {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) && !isAppError(err) {
		msg, _ := httpErr.Message.(string)
		if msg == "" {
			msg = http.StatusText(httpErr.Code)
		}
		return errorbank.FromHTTPStatus(httpErr.Code, msg, errorbank.WithCause(err)), httpErr.Code
	}
	appErr := errorbank.From(err)
	return appErr, appErr.StatusCode()
}

func isAppError(err error) bool {
	var appErr *errorbank.AppError
	return errors.As(err, &appErr)
}
