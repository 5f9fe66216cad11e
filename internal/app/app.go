package app

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/storefront/internal/cache"
	"github.com/Additional-Code/storefront/internal/config"
	"github.com/Additional-Code/storefront/internal/database"
	"github.com/Additional-Code/storefront/internal/gateway"
	"github.com/Additional-Code/storefront/internal/logger"
	"github.com/Additional-Code/storefront/internal/messaging"
	"github.com/Additional-Code/storefront/internal/notification"
	"github.com/Additional-Code/storefront/internal/observability"
	repositoryorder "github.com/Additional-Code/storefront/internal/repository/order"
	repositoryproduct "github.com/Additional-Code/storefront/internal/repository/product"
	repositorysequence "github.com/Additional-Code/storefront/internal/repository/sequence"
	repositorysetting "github.com/Additional-Code/storefront/internal/repository/setting"
	grpcserver "github.com/Additional-Code/storefront/internal/server/grpc"
	httpserver "github.com/Additional-Code/storefront/internal/server/http"
	servicecheckout "github.com/Additional-Code/storefront/internal/service/checkout"
	serviceorder "github.com/Additional-Code/storefront/internal/service/order"
	"github.com/Additional-Code/storefront/internal/service/ordernumber"
	servicepayment "github.com/Additional-Code/storefront/internal/service/payment"
	serviceproduct "github.com/Additional-Code/storefront/internal/service/product"
	servicesetting "github.com/Additional-Code/storefront/internal/service/setting"
	"github.com/Additional-Code/storefront/internal/storage"
	transporthttp "github.com/Additional-Code/storefront/internal/transport/http"
	"github.com/Additional-Code/storefront/internal/worker"
	workernotification "github.com/Additional-Code/storefront/internal/worker/notification"
	workerpayment "github.com/Additional-Code/storefront/internal/worker/payment"
)

// Infrastructure provides configuration, logging, storage connections and telemetry.
var Infrastructure = fx.Options(
	config.Module,
	cache.Module,
	database.Module,
	logger.Module,
	messaging.Module,
	observability.Module,
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	Infrastructure,
	repositoryorder.Module,
	repositoryproduct.Module,
	repositorysequence.Module,
	repositorysetting.Module,
	gateway.Module,
	notification.Module,
	storage.Module,
	ordernumber.Module,
	serviceorder.Module,
	serviceproduct.Module,
	servicesetting.Module,
	servicecheckout.Module,
	servicepayment.Module,
	fx.Invoke(registerGauges),
)

// Workers registers every queue consumer on the worker engine.
var Workers = fx.Options(
	worker.Module,
	workerpayment.Module,
	workernotification.Module,
)

// HTTP wires the HTTP transport on top of the core modules. Queue consumers
// also run in this process unless WORKER_ENABLED is false; the in-process
// memory driver depends on it.
var HTTP = fx.Options(
	Core,
	httpserver.Module,
	transporthttp.Module,
	Workers,
)

// Worker exposes background worker processing with a gRPC health endpoint.
var Worker = fx.Options(
	Core,
	grpcserver.Module,
	Workers,
)

// Module is the default application wiring.
var Module = HTTP

func registerGauges(lc fx.Lifecycle, cfg config.Config, obs *observability.Manager, orders *serviceorder.Service, log *zap.Logger) {
	if !cfg.Observability.EnableMetrics {
		return
	}
	var reg metric.Registration
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			r, err := observability.RegisterOrderGauges(obs.Meter("github.com/Additional-Code/storefront/orders"), orders, log)
			if err != nil {
				log.Warn("order gauges not registered", zap.Error(err))
				return nil
			}
			reg = r
			return nil
		},
		OnStop: func(context.Context) error {
			if reg == nil {
				return nil
			}
			return reg.Unregister()
		},
	})
}
