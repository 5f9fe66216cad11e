package product

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/storefront/internal/port"
)

// Module provides the product repository (and stock ledger) to Fx.
var Module = fx.Provide(
	fx.Annotate(NewRepository, fx.As(new(port.ProductRepository))),
)
