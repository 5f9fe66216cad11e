package setting

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"github.com/Additional-Code/storefront/internal/presentation/http/response"
	settingsvc "github.com/Additional-Code/storefront/internal/service/setting"
)

// Module wires the public settings routes.
var Module = fx.Options(
	fx.Provide(NewHandler),
	fx.Invoke(func(e *echo.Echo, h *Handler) {
		Register(e, h)
	}),
)

// Handler exposes read-only settings.
type Handler struct {
	settings *settingsvc.Service
}

// NewHandler constructs a settings Handler.
func NewHandler(settings *settingsvc.Service) *Handler {
	return &Handler{settings: settings}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	e.GET("/settings", h.all)
	e.GET("/settings/:key", h.get)
}

func (h *Handler) all(c echo.Context) error {
	b := response.New(c)
	settings, err := h.settings.All(c.Request().Context())
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(settings).Build()
}

func (h *Handler) get(c echo.Context) error {
	b := response.New(c)
	s, err := h.settings.Get(c.Request().Context(), c.Param("key"))
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(map[string]string{"key": s.Key, "value": s.Value}).Build()
}
