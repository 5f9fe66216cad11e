package notification_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Additional-Code/storefront/internal/config"
	"github.com/Additional-Code/storefront/internal/entity"
	"github.com/Additional-Code/storefront/internal/messaging"
	"github.com/Additional-Code/storefront/internal/notification"
)

type recordingSender struct {
	mu     sync.Mutex
	events []notification.Event
}

func (r *recordingSender) Send(_ context.Context, event notification.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func testOrder() *entity.Order {
	return &entity.Order{
		ID:            7,
		Number:        "SG20260007",
		CustomerEmail: "ada@example.com",
		PaymentMethod: entity.MethodTransfer,
		TotalAmount:   decimal.RequireFromString("1053.75"),
		Currency:      "NGN",
	}
}

func TestQueuedEventsReachSender(t *testing.T) {
	client := messaging.NewMemoryClient(4, []string{"orders.notifications"}, nil)
	defer client.Close()

	cfg := config.Config{}
	cfg.Messaging.Enabled = true
	cfg.Messaging.Topics.Notifications = "orders.notifications"

	sender := &recordingSender{}
	pub := notification.NewPublisher(notification.Params{Client: client, Sender: sender, Config: cfg, Logger: zap.NewNop()})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, pub.Publish(ctx, notification.NewEvent(notification.KindOrderPlaced, testOrder())))

	handler := notification.Handler(sender, zap.NewNop())
	done := make(chan struct{})
	go func() {
		_ = client.Consume(ctx, func(ctx context.Context, msg messaging.Message) error {
			assert.Equal(t, "orders.notifications", msg.Topic)
			err := handler(ctx, msg)
			close(done)
			return err
		})
	}()
	<-done

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Len(t, sender.events, 1)
	got := sender.events[0]
	assert.Equal(t, notification.KindOrderPlaced, got.Kind)
	assert.Equal(t, "SG20260007", got.OrderNumber)
	assert.True(t, got.Total.Equal(decimal.RequireFromString("1053.75")))
	assert.NotEmpty(t, got.ID)
}

func TestInlineDeliveryWhenMessagingDisabled(t *testing.T) {
	sender := &recordingSender{}
	pub := notification.NewPublisher(notification.Params{Sender: sender, Config: config.Config{}, Logger: zap.NewNop()})

	require.NoError(t, pub.Publish(context.Background(), notification.NewEvent(notification.KindOrderPaid, testOrder())))
	assert.Len(t, sender.events, 1)
}

func TestHandlerDropsMalformedEvents(t *testing.T) {
	sender := &recordingSender{}
	err := notification.Handler(sender, zap.NewNop())(context.Background(), messaging.Message{Value: []byte("{")})
	assert.NoError(t, err)
	assert.Empty(t, sender.events)
}

func TestLogSenderRoutesTransferReviewToAdmin(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	cfg := config.Config{}
	cfg.Admin.NotifyEmail = "ops@example.com"
	sender := notification.NewLogSender(cfg, zap.New(core))

	review := notification.NewEvent(notification.KindTransferReview, testOrder())
	require.NoError(t, sender.Send(context.Background(), review))
	assert.Equal(t, "ops@example.com", sender.Recipient(review))
	assert.Equal(t, "ada@example.com", sender.Recipient(notification.NewEvent(notification.KindOrderPaid, testOrder())))

	entries := logs.FilterMessage("notification sent").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "ops@example.com", entries[0].ContextMap()["to"])

	raw, err := json.Marshal(review)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"kind":"order.transfer_review"`)
}
