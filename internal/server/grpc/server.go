package grpc

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/Additional-Code/storefront/internal/config"
	"github.com/Additional-Code/storefront/pkg/errorbank"
)

// WorkerService is the health service name reported by worker processes.
const WorkerService = "storefront.worker"

// Module exposes the gRPC server and lifecycle hooks to Fx.
var Module = fx.Module("grpc_server",
	fx.Provide(NewHealth, NewServer),
	fx.Invoke(Run),
)

// NewHealth builds the health service; it reports NOT_SERVING until the
// server has started.
func NewHealth() *health.Server {
	h := health.NewServer()
	h.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	h.SetServingStatus(WorkerService, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// NewServer builds a gRPC server with logging interceptors and the health service registered.
func NewServer(logger *zap.Logger, hs *health.Server) *grpc.Server {
	unary := func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		err = toStatus(err)
		logCall(logger, info.FullMethod, time.Since(start), err)
		return resp, err
	}

	stream := func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := toStatus(handler(srv, ss))
		logCall(logger, info.FullMethod, time.Since(start), err)
		return err
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(unary),
		grpc.ChainStreamInterceptor(stream),
	)
	healthpb.RegisterHealthServer(server, hs)
	return server
}

// toStatus converts application errors into gRPC status errors.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	appErr := errorbank.From(err)
	return status.Error(appErr.GRPCCode(), appErr.Message())
}

func logCall(logger *zap.Logger, method string, duration time.Duration, err error) {
	fields := []zap.Field{zap.String("method", method), zap.Duration("duration", duration)}
	switch {
	case err != nil:
		logger.Warn("grpc call finished", append(fields, zap.Error(err))...)
	case strings.HasPrefix(method, "/grpc.health.v1.Health/"):
		logger.Debug("grpc call finished", fields...)
	default:
		logger.Info("grpc call finished", fields...)
	}
}

// Run binds the gRPC server to the configured host/port and manages lifecycle.
func Run(lc fx.Lifecycle, cfg config.Config, server *grpc.Server, hs *health.Server, logger *zap.Logger) {
	addr := fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
	var listener net.Listener

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen grpc: %w", err)
			}
			listener = ln
			logger.Info("starting gRPC server", zap.String("addr", addr))
			go func() {
				if err := server.Serve(listener); err != nil {
					logger.Fatal("grpc server failed", zap.Error(err))
				}
			}()
			hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
			hs.SetServingStatus(WorkerService, healthpb.HealthCheckResponse_SERVING)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping gRPC server")
			hs.Shutdown()
			stopped := make(chan struct{})
			go func() {
				server.GracefulStop()
				close(stopped)
			}()

			select {
			case <-ctx.Done():
				server.Stop()
				return ctx.Err()
			case <-stopped:
				if listener != nil {
					_ = listener.Close()
				}
				return nil
			}
		},
	})
}
