package sequence

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/Additional-Code/storefront/internal/database"
	"github.com/Additional-Code/storefront/internal/entity"
	"github.com/Additional-Code/storefront/internal/port"
)

// Module provides the order sequence repository to Fx.
var Module = fx.Provide(
	fx.Annotate(NewRepository, fx.As(new(port.SequenceRepository))),
)

// Repository hands out per-period counters.
type Repository struct {
	writer *bun.DB
}

// NewRepository wires a repository on the writer connection.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{writer: conns.Writer}
}

// Next increments the counter for period and returns the new value. The
// UPDATE holds the row lock until commit, so concurrent callers never share a value.
func (r *Repository) Next(ctx context.Context, period string) (int64, error) {
	var value int64
	err := r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		seed := &entity.OrderSequence{Period: period}
		if _, err := tx.NewInsert().Model(seed).Ignore().Exec(ctx); err != nil {
			return fmt.Errorf("seed sequence: %w", err)
		}
		if _, err := tx.NewUpdate().
			Model((*entity.OrderSequence)(nil)).
			Set("value = value + 1").
			Where("period = ?", period).
			Exec(ctx); err != nil {
			return fmt.Errorf("bump sequence: %w", err)
		}
		return tx.NewSelect().
			Model((*entity.OrderSequence)(nil)).
			Column("value").
			Where("period = ?", period).
			Scan(ctx, &value)
	})
	if err != nil {
		return 0, err
	}
	return value, nil
}
