package errorbank

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestStatusCodeMapping(t *testing.T) {
	cases := []struct {
		err    *AppError
		status int
		code   codes.Code
	}{
		{BadRequest("bad"), http.StatusBadRequest, codes.InvalidArgument},
		{InvalidSignature("sig"), http.StatusUnauthorized, codes.Unauthenticated},
		{Conflict("dup"), http.StatusConflict, codes.AlreadyExists},
		{InsufficientStock("stock"), http.StatusConflict, codes.ResourceExhausted},
		{NotFound("missing"), http.StatusNotFound, codes.NotFound},
		{Unprocessable("amount"), http.StatusUnprocessableEntity, codes.FailedPrecondition},
		{GatewayRejected("declined"), http.StatusBadGateway, codes.Aborted},
		{GatewayUnavailable("timeout"), http.StatusServiceUnavailable, codes.Unavailable},
		{Internal("boom"), http.StatusInternalServerError, codes.Internal},
	}

	for _, tc := range cases {
		t.Run(string(tc.err.Kind()), func(t *testing.T) {
			assert.Equal(t, tc.status, tc.err.StatusCode())
			assert.Equal(t, tc.code, tc.err.GRPCCode())
		})
	}
}

func TestFromWrapsUnknownErrors(t *testing.T) {
	cause := errors.New("socket closed")
	appErr := From(cause)

	require.NotNil(t, appErr)
	assert.Equal(t, KindInternal, appErr.Kind())
	assert.Equal(t, "internal error", appErr.Message())
	assert.ErrorIs(t, appErr, cause)
}

func TestFromKeepsWrappedAppError(t *testing.T) {
	original := InsufficientStock("insufficient stock", WithDetail("product_id", int64(7)))
	wrapped := fmt.Errorf("checkout: %w", original)

	appErr := From(wrapped)
	assert.Same(t, original, appErr)
	assert.Equal(t, int64(7), appErr.Details()["product_id"])
	assert.True(t, Is(wrapped, KindInsufficientStock))
	assert.False(t, Is(wrapped, KindNotFound))
}

func TestNilAppErrorIsSafe(t *testing.T) {
	var appErr *AppError
	assert.Equal(t, "<nil>", appErr.Error())
	assert.Equal(t, KindInternal, appErr.Kind())
	assert.Equal(t, http.StatusInternalServerError, appErr.StatusCode())
	assert.Nil(t, From(nil))
}

func TestFromHTTPStatus(t *testing.T) {
	cases := map[int]Kind{
		http.StatusBadRequest:            KindBadRequest,
		http.StatusRequestEntityTooLarge: KindBadRequest,
		http.StatusUnauthorized:          KindInvalidSignature,
		http.StatusNotFound:              KindNotFound,
		http.StatusMethodNotAllowed:      KindNotFound,
		http.StatusConflict:              KindConflict,
		http.StatusServiceUnavailable:    KindGatewayUnavailable,
		http.StatusInternalServerError:   KindInternal,
	}

	for status, kind := range cases {
		appErr := FromHTTPStatus(status, "msg")
		assert.Equal(t, kind, appErr.Kind(), "status %d", status)
		assert.Equal(t, "msg", appErr.Message())
	}
}
