package cache

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/Additional-Code/storefront/internal/config"
)

func TestNoopStore(t *testing.T) {
	store, err := NewStore(fxtest.NewLifecycle(t), config.Config{Cache: config.Cache{Driver: "noop"}}, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))

	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	claimed, err := store.SetNX(ctx, "k", []byte("v"), time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestNewStoreRejectsUnknownDriver(t *testing.T) {
	_, err := NewStore(fxtest.NewLifecycle(t), config.Config{Cache: config.Cache{Driver: "memcached"}}, zap.NewNop())
	assert.Error(t, err)
}

func TestRedisStoreKeys(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client, "storefront:", time.Minute)

	assert.Equal(t, "storefront:order:7", store.Key("order:7"))
	assert.Equal(t, time.Minute, store.ttl(0))
	assert.Equal(t, time.Second, store.ttl(time.Second))

	ctx := context.Background()
	_, err := store.Get(ctx, "")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.ErrorIs(t, store.Set(ctx, "", nil, 0), errEmptyKey)
	_, err = store.SetNX(ctx, "", nil, 0)
	assert.ErrorIs(t, err, errEmptyKey)
	assert.NoError(t, store.Delete(ctx, ""))
}
