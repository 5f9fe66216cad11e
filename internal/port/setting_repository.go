package port

import (
	"context"

	"github.com/Additional-Code/storefront/internal/entity"
)

type SettingRepository interface {
	Get(ctx context.Context, key string) (*entity.Setting, error)
	All(ctx context.Context) ([]*entity.Setting, error)

	// Set inserts or replaces the value stored under key
	Set(ctx context.Context, key, value string) error
}

type SequenceRepository interface {
	// Next atomically increments and returns the counter for period
	Next(ctx context.Context, period string) (int64, error)
}
