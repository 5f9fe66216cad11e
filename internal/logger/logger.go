package logger

import (
	"context"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Additional-Code/storefront/internal/config"
)

// Module exposes a configured Zap logger to the Fx container and routes
// Fx's own lifecycle events through it.
var Module = fx.Options(
	fx.Provide(New),
	fx.WithLogger(NewFxLogger),
)

// New builds the process logger; Fx syncs it on stop.
func New(lc fx.Lifecycle, cfg config.Config) (*zap.Logger, error) {
	logger, err := Build(cfg.Observability)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			// stdout/stderr return EINVAL on sync under most terminals
			_ = logger.Sync()
			return nil
		},
	})

	return logger, nil
}

// Build creates a logger from observability settings without Fx.
func Build(obs config.Observability) (*zap.Logger, error) {
	level := ParseLevel(obs.LogLevel)

	var zapCfg zap.Config
	if obs.LogEncoding == "console" {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapCfg = zap.NewProductionConfig()
		zapCfg.Encoding = "json"
		zapCfg.EncoderConfig.TimeKey = "ts"
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339Nano)
		zapCfg.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
		zapCfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}

	return logger.With(
		zap.String("service", obs.ServiceName),
		zap.String("environment", obs.Environment),
	), nil
}

// ParseLevel maps a configured level name onto zap, defaulting to info.
func ParseLevel(name string) zapcore.Level {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(strings.TrimSpace(name))); err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// NewFxLogger reports container events at debug so startup stays quiet
// unless OBS_LOG_LEVEL=debug; failures still surface at error.
func NewFxLogger(logger *zap.Logger) fxevent.Logger {
	l := &fxevent.ZapLogger{Logger: logger.Named("fx")}
	l.UseLogLevel(zapcore.DebugLevel)
	l.UseErrorLevel(zapcore.ErrorLevel)
	return l
}
