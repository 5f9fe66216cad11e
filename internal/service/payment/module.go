package payment

import (
	"context"

	"go.uber.org/fx"

	"github.com/Additional-Code/storefront/internal/service/checkout"
)

// Module provides the payment service and the reconciliation dispatcher.
var Module = fx.Options(
	fx.Provide(
		NewService,
		NewDispatcher,
		func(d *Dispatcher) checkout.Scheduler { return d },
	),
	fx.Invoke(func(lc fx.Lifecycle, d *Dispatcher) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error { return d.Close(ctx) },
		})
	}),
)
