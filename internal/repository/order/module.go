package order

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/storefront/internal/port"
)

// Module provides the order repository to Fx.
var Module = fx.Provide(
	fx.Annotate(NewRepository, fx.As(new(port.OrderRepository))),
)
