package setting

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/storefront/internal/entity"
	"github.com/Additional-Code/storefront/internal/port"
	"github.com/Additional-Code/storefront/pkg/errorbank"
)

// Module provides the settings service to Fx.
var Module = fx.Provide(NewService)

const maxKeyLength = 100

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Settings port.SettingRepository
	Logger   *zap.Logger
}

// Service reads and writes back-office settings.
type Service struct {
	settings port.SettingRepository
	logger   *zap.Logger
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{settings: p.Settings, logger: p.Logger}
}

// Get returns the setting stored under key.
func (s *Service) Get(ctx context.Context, key string) (*entity.Setting, error) {
	setting, err := s.settings.Get(ctx, key)
	if errors.Is(err, port.ErrNotFound) {
		return nil, errorbank.NotFound("setting not found", errorbank.WithDetail("key", key))
	}
	if err != nil {
		return nil, errorbank.Internal("failed to load setting", errorbank.WithCause(err))
	}
	return setting, nil
}

// All returns every setting keyed by name.
func (s *Service) All(ctx context.Context) (map[string]string, error) {
	settings, err := s.settings.All(ctx)
	if err != nil {
		return nil, errorbank.Internal("failed to load settings", errorbank.WithCause(err))
	}
	out := make(map[string]string, len(settings))
	for _, setting := range settings {
		out[setting.Key] = setting.Value
	}
	return out, nil
}

// Set stores value under key.
func (s *Service) Set(ctx context.Context, key, value string) (*entity.Setting, error) {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > maxKeyLength {
		return nil, errorbank.BadRequest("key must be between 1 and 100 characters")
	}
	if err := s.settings.Set(ctx, key, value); err != nil {
		return nil, errorbank.Internal("failed to store setting", errorbank.WithCause(err))
	}
	s.logger.Info("setting updated", zap.String("key", key))
	return s.Get(ctx, key)
}
