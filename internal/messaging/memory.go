package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// MemoryClient is a buffered in-process queue. Messages are delivered at most
// once and are lost on restart; it suits single-node deployments and tests.
type MemoryClient struct {
	queue  chan Message
	done   chan struct{}
	once   sync.Once
	offset atomic.Int64
	topics []string
	logger *zap.Logger
}

// NewMemoryClient returns a queue holding up to buffer undelivered messages.
func NewMemoryClient(buffer int, topics []string, logger *zap.Logger) *MemoryClient {
	if buffer <= 0 {
		buffer = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryClient{
		queue:  make(chan Message, buffer),
		done:   make(chan struct{}),
		topics: topics,
		logger: logger,
	}
}

// Publish enqueues a message, blocking while the buffer is full.
func (m *MemoryClient) Publish(ctx context.Context, topic string, key []byte, value []byte) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	msg := Message{
		Topic:  topic,
		Key:    append([]byte(nil), key...),
		Value:  append([]byte(nil), value...),
		Offset: m.offset.Add(1),
		Time:   time.Now().UTC(),
	}

	select {
	case <-m.done:
		return ErrClosed
	default:
	}

	select {
	case m.queue <- msg:
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume delivers messages to handler until ctx is cancelled or the client closes.
func (m *MemoryClient) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return context.Canceled
		case msg := <-m.queue:
			if err := handler(ctx, msg); err != nil {
				m.logger.Error("message handler failed",
					zap.Error(err),
					zap.String("topic", msg.Topic),
					zap.Int64("offset", msg.Offset),
				)
			}
		}
	}
}

// Topics lists the topics this client serves.
func (m *MemoryClient) Topics() []string { return m.topics }

// Close stops delivery. Pending messages are dropped.
func (m *MemoryClient) Close() {
	m.once.Do(func() { close(m.done) })
}
