package http_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/storefront/internal/config"
	"github.com/Additional-Code/storefront/internal/presentation/http/response"
	httpserver "github.com/Additional-Code/storefront/internal/server/http"
	"github.com/Additional-Code/storefront/internal/testutil"
	"github.com/Additional-Code/storefront/pkg/errorbank"
)

func newRouter(t *testing.T) *echo.Echo {
	t.Helper()
	cfg := config.Config{HTTP: config.HTTP{BodyLimit: "1K", AllowedOrigins: []string{"*"}}}
	return httpserver.NewEcho(httpserver.Params{
		Config: cfg,
		Logger: zap.NewNop(),
		Conns:  testutil.OpenDB(t),
	})
}

func serve(e *echo.Echo, method, path, body string) (*httptest.ResponseRecorder, response.Envelope) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var env response.Envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func TestHealthAndReadiness(t *testing.T) {
	e := newRouter(t)

	rec, _ := serve(e, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = serve(e, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":"sqlite"`)
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	e := newRouter(t)

	rec, env := serve(e, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(errorbank.KindNotFound), env.Error.Kind)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), env.Meta["request_id"])
}

func TestAppErrorsKeepTheirStatus(t *testing.T) {
	e := newRouter(t)
	e.POST("/stock", func(echo.Context) error {
		return errorbank.InsufficientStock("insufficient stock", errorbank.WithDetail("product_id", 4))
	})
	e.POST("/panic", func(echo.Context) error { panic("boom") })

	rec, env := serve(e, http.MethodPost, "/stock", "{}")
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "insufficient_stock", env.Error.Kind)
	assert.EqualValues(t, 4, env.Error.Details["product_id"])

	rec, env = serve(e, http.MethodPost, "/panic", "{}")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "internal", env.Error.Kind)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestBodyLimit(t *testing.T) {
	e := newRouter(t)
	e.POST("/echo", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	rec, env := serve(e, http.MethodPost, "/echo", strings.Repeat("x", 2048))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "bad_request", env.Error.Kind)
}
