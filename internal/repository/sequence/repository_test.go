package sequence_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/storefront/internal/repository/sequence"
	"github.com/Additional-Code/storefront/internal/testutil"
)

func TestNextIsPerPeriod(t *testing.T) {
	repo := sequence.NewRepository(testutil.NewDB(t))
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := repo.Next(ctx, "2026")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	got, err := repo.Next(ctx, "2027")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestNextIsUniqueUnderConcurrency(t *testing.T) {
	repo := sequence.NewRepository(testutil.NewDB(t))

	const callers = 25
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := repo.Next(context.Background(), "2026")
			if err != nil {
				t.Errorf("next: %v", err)
				return
			}
			mu.Lock()
			seen[v] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, callers)
}
