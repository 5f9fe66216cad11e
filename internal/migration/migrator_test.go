package migration_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/storefront/internal/config"
	"github.com/Additional-Code/storefront/internal/entity"
	"github.com/Additional-Code/storefront/internal/migration"
	"github.com/Additional-Code/storefront/internal/testutil"
)

func TestMigrateUpAndDown(t *testing.T) {
	conns := testutil.OpenDB(t)
	cfg := config.Config{}
	cfg.Database.Driver = "sqlite"

	mig, err := migration.New(cfg, conns, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	pending, err := mig.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, pending)

	require.NoError(t, mig.Up(ctx))

	version, err := mig.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	pending, err = mig.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// The migrated schema accepts the application's models.
	product := &entity.Product{Name: "Mug", Slug: "mug", SKU: "MUG-1", Price: testutil.Money("1500"), StockQuantity: 2, IsActive: true}
	_, err = conns.Writer.NewInsert().Model(product).Exec(ctx)
	require.NoError(t, err)

	require.NoError(t, mig.Up(ctx))
	require.NoError(t, mig.Down(ctx, 0, true))

	_, err = conns.Writer.NewSelect().Model((*entity.Product)(nil)).Count(ctx)
	assert.Error(t, err)
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := config.Config{}
	cfg.Database.Driver = "oracle"

	_, err := migration.New(cfg, testutil.OpenDB(t), zap.NewNop())
	assert.Error(t, err)
}
