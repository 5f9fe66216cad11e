package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/storefront/internal/config"
	"github.com/Additional-Code/storefront/internal/database"
	"github.com/Additional-Code/storefront/internal/observability"
	"github.com/Additional-Code/storefront/internal/presentation/http/response"
	"github.com/Additional-Code/storefront/pkg/errorbank"
)

// Module exposes the HTTP server lifecycle to Fx.
var Module = fx.Module("http_server",
	fx.Provide(NewEcho),
	fx.Invoke(Run),
)

const readyTimeout = 2 * time.Second

// Params collects the router's dependencies.
type Params struct {
	fx.In

	Config config.Config
	Logger *zap.Logger
	Obs    *observability.Manager `optional:"true"`
	Conns  *database.Connections  `optional:"true"`
}

// NewEcho configures the Echo router with the storefront middleware chain.
func NewEcho(p Params) *echo.Echo {
	cfg := p.Config
	logger := p.Logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(cfg.HTTP.BodyLimit))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.HTTP.AllowedOrigins,
		AllowHeaders: []string{
			echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept,
			echo.HeaderAuthorization, "Idempotency-Key",
		},
	}))

	if p.Obs != nil && p.Obs.TracingEnabled() {
		e.Use(otelecho.Middleware(cfg.Observability.ServiceName))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/ready", readiness(p.Conns))

	if p.Obs != nil && p.Obs.MetricsEnabled() && p.Obs.MetricsHandler() != nil {
		e.GET(cfg.Observability.PrometheusPath, echo.WrapHandler(p.Obs.MetricsHandler()))
	}

	return e
}

// ErrorHandler renders every unhandled error in the response envelope.
func ErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var httpErr *echo.HTTPError
		status := errorbank.From(err).StatusCode()
		if errors.As(err, &httpErr) {
			status = httpErr.Code
		}

		fields := []zap.Field{
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err),
		}
		if status >= http.StatusInternalServerError {
			logger.Error("http request failed", fields...)
		} else {
			logger.Debug("http request rejected", fields...)
		}

		if rerr := response.Error(c, err); rerr != nil {
			logger.Warn("write error response", zap.Error(rerr))
		}
	}
}

func readiness(conns *database.Connections) echo.HandlerFunc {
	return func(c echo.Context) error {
		if conns == nil {
			return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), readyTimeout)
		defer cancel()
		if err := conns.Ping(ctx); err != nil {
			return response.Error(c, errorbank.GatewayUnavailable("database unavailable", errorbank.WithCause(err)))
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "database": conns.Driver})
	}
}

// Run starts the HTTP server and ties it to the Fx lifecycle.
func Run(lc fx.Lifecycle, cfg config.Config, e *echo.Echo, logger *zap.Logger) {
	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)

	server := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting HTTP server", zap.String("addr", addr))
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping HTTP server")
			return server.Shutdown(ctx)
		},
	})
}
