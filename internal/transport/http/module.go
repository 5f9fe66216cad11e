package http

import (
	"go.uber.org/fx"

	admintransport "github.com/Additional-Code/storefront/internal/transport/http/admin"
	ordertransport "github.com/Additional-Code/storefront/internal/transport/http/order"
	paymenttransport "github.com/Additional-Code/storefront/internal/transport/http/payment"
	settingtransport "github.com/Additional-Code/storefront/internal/transport/http/setting"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	ordertransport.Module,
	paymenttransport.Module,
	admintransport.Module,
	settingtransport.Module,
)
