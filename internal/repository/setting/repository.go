package setting

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"go.uber.org/fx"

	"github.com/Additional-Code/storefront/internal/database"
	"github.com/Additional-Code/storefront/internal/entity"
	"github.com/Additional-Code/storefront/internal/port"
)

// Module provides the settings repository to Fx.
var Module = fx.Provide(
	fx.Annotate(NewRepository, fx.As(new(port.SettingRepository))),
)

// Repository stores back-office settings.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{writer: conns.Writer, reader: conns.Reader}
}

// Get returns the setting stored under key.
func (r *Repository) Get(ctx context.Context, key string) (*entity.Setting, error) {
	setting := new(entity.Setting)
	err := r.reader.NewSelect().Model(setting).Where("? = ?", bun.Ident("key"), key).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return setting, nil
}

// All returns every setting ordered by key.
func (r *Repository) All(ctx context.Context) ([]*entity.Setting, error) {
	var settings []*entity.Setting
	if err := r.reader.NewSelect().Model(&settings).OrderExpr("? ASC", bun.Ident("key")).Scan(ctx); err != nil {
		return nil, err
	}
	return settings, nil
}

// Set upserts a value.
func (r *Repository) Set(ctx context.Context, key, value string) error {
	setting := &entity.Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}

	q := r.writer.NewInsert().Model(setting)
	if r.writer.Dialect().Name() == dialect.MySQL {
		q = q.On("DUPLICATE KEY UPDATE").
			Set("value = VALUES(value)").
			Set("updated_at = VALUES(updated_at)")
	} else {
		q = q.On("CONFLICT (?) DO UPDATE", bun.Ident("key")).
			Set("value = EXCLUDED.value").
			Set("updated_at = EXCLUDED.updated_at")
	}
	_, err := q.Exec(ctx)
	return err
}
