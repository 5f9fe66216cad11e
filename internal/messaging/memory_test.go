package messaging_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/storefront/internal/messaging"
)

func TestMemoryClientDeliversInOrder(t *testing.T) {
	client := messaging.NewMemoryClient(8, []string{"a", "b"}, zap.NewNop())
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, client.Publish(ctx, "a", []byte("k1"), []byte("one")))
	require.NoError(t, client.Publish(ctx, "b", []byte("k2"), []byte("two")))

	var (
		mu  sync.Mutex
		got []messaging.Message
	)
	consumeCtx, stop := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Consume(consumeCtx, func(_ context.Context, msg messaging.Message) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, msg)
			if len(got) == 2 {
				stop()
			}
			return nil
		})
	}()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-ctx.Done():
		t.Fatal("consume did not return")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Topic)
	assert.Equal(t, []byte("one"), got[0].Value)
	assert.Equal(t, "b", got[1].Topic)
	assert.Less(t, got[0].Offset, got[1].Offset)
}

func TestMemoryClientHandlerErrorDoesNotStopConsumer(t *testing.T) {
	client := messaging.NewMemoryClient(4, []string{"a"}, nil)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, client.Publish(ctx, "a", nil, []byte("boom")))
	require.NoError(t, client.Publish(ctx, "a", nil, []byte("ok")))

	seen := make(chan string, 2)
	go func() {
		_ = client.Consume(ctx, func(_ context.Context, msg messaging.Message) error {
			seen <- string(msg.Value)
			if string(msg.Value) == "boom" {
				return errors.New("handler failed")
			}
			return nil
		})
	}()

	assert.Equal(t, "boom", <-seen)
	assert.Equal(t, "ok", <-seen)
}

func TestMemoryClientClosed(t *testing.T) {
	client := messaging.NewMemoryClient(1, nil, nil)
	client.Close()
	client.Close()

	err := client.Publish(context.Background(), "a", nil, []byte("x"))
	assert.ErrorIs(t, err, messaging.ErrClosed)

	err = client.Publish(context.Background(), "", nil, nil)
	assert.Error(t, err)
}

func TestMemoryClientPublishRespectsContext(t *testing.T) {
	client := messaging.NewMemoryClient(1, nil, nil)
	defer client.Close()

	require.NoError(t, client.Publish(context.Background(), "a", nil, []byte("fills buffer")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := client.Publish(ctx, "a", nil, []byte("blocked"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
