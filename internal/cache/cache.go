package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/storefront/internal/config"
)

// Store is the key/value backend behind the order read cache and checkout
// idempotency keys.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

// ErrCacheMiss indicates the key is absent from the cache.
var ErrCacheMiss = errors.New("cache miss")

var errEmptyKey = errors.New("cache key is required")

// Module provides the cache store to the Fx graph.
var Module = fx.Provide(NewStore)

// NewStore initialises the configured cache store (redis or noop).
func NewStore(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.Cache.Driver {
	case "noop":
		if logger != nil {
			logger.Info("cache disabled; using noop store")
		}
		return noopStore{}, nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:        cfg.Cache.Redis.Addr,
			Password:    cfg.Cache.Redis.Password,
			DB:          cfg.Cache.Redis.DB,
			DialTimeout: cfg.Cache.Redis.DialTimeout,
			ReadTimeout: cfg.Cache.Redis.ReadTimeout,
		})
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := client.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("ping redis: %w", err)
				}
				if logger != nil {
					logger.Info("redis cache connected",
						zap.String("addr", cfg.Cache.Redis.Addr),
						zap.String("prefix", cfg.Cache.KeyPrefix),
					)
				}
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return client.Close()
			},
		})
		return NewRedisStore(client, cfg.Cache.KeyPrefix, cfg.Cache.DefaultTTL), nil
	default:
		return nil, fmt.Errorf("unsupported cache driver: %s", cfg.Cache.Driver)
	}
}

type noopStore struct{}

func (noopStore) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

func (noopStore) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

func (noopStore) Delete(context.Context, string) error {
	return nil
}

// SetNX always claims the key; without a backend there is nothing to collide with.
func (noopStore) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return true, nil
}

// RedisStore keeps every key under a shared prefix so several deployments
// can share one redis database.
type RedisStore struct {
	client     goredis.Cmdable
	prefix     string
	defaultTTL time.Duration
}

// NewRedisStore wraps an existing redis client.
func NewRedisStore(client goredis.Cmdable, prefix string, defaultTTL time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, defaultTTL: defaultTTL}
}

// Key returns the namespaced redis key.
func (s *RedisStore) Key(key string) string {
	return s.prefix + key
}

func (s *RedisStore) ttl(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return s.defaultTTL
	}
	return ttl
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrCacheMiss
	}
	res, err := s.client.Get(ctx, s.Key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return errEmptyKey
	}
	return s.client.Set(ctx, s.Key(key), value, s.ttl(ttl)).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return s.client.Del(ctx, s.Key(key)).Err()
}

func (s *RedisStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, errEmptyKey
	}
	return s.client.SetNX(ctx, s.Key(key), value, s.ttl(ttl)).Result()
}
