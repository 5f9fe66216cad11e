// Package ordernumber allocates human-readable order numbers.
package ordernumber

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/fx"

	"github.com/Additional-Code/storefront/internal/config"
	"github.com/Additional-Code/storefront/internal/port"
)

// Module provides the allocator to Fx.
var Module = fx.Provide(NewAllocator)

// Allocator issues numbers of the form <prefix><year><sequence>, e.g. SG20260042.
// The sequence restarts every year and is padded to at least four digits.
type Allocator struct {
	sequences port.SequenceRepository
	prefix    string
	now       func() time.Time
}

// NewAllocator builds an allocator using the configured prefix.
func NewAllocator(sequences port.SequenceRepository, cfg config.Config) *Allocator {
	return &Allocator{
		sequences: sequences,
		prefix:    cfg.Checkout.OrderNumberPrefix,
		now:       time.Now,
	}
}

// Next returns a fresh order number.
func (a *Allocator) Next(ctx context.Context) (string, error) {
	year := strconv.Itoa(a.now().UTC().Year())
	seq, err := a.sequences.Next(ctx, year)
	if err != nil {
		return "", fmt.Errorf("allocate order number: %w", err)
	}
	return fmt.Sprintf("%s%s%04d", a.prefix, year, seq), nil
}
