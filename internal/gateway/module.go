package gateway

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/storefront/internal/config"
)

// Module provides the gateway registry built from configuration.
var Module = fx.Provide(NewFromConfig)

// NewFromConfig registers every provider that has credentials.
func NewFromConfig(cfg config.Config, logger *zap.Logger) *Registry {
	client := NewHTTPClient(cfg.Payments.RequestTimeout, cfg.Payments.ConnectTimeout)

	var gateways []Gateway
	if p := cfg.Payments.Paystack; p.Enabled() {
		gateways = append(gateways, NewPaystack(p.BaseURL, p.SecretKey, client))
	}
	if m := cfg.Payments.Monnify; m.Enabled() {
		gateways = append(gateways, NewMonnify(m.BaseURL, m.APIKey, m.SecretKey, m.ContractCode, client))
	}

	registry := NewRegistry(gateways...)
	logger.Info("payment gateways configured", zap.Strings("gateways", registry.Names()))
	return registry
}
