package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/storefront/internal/config"
	"github.com/Additional-Code/storefront/internal/messaging"
)

const maxBackoff = 30 * time.Second

// HandlerRegistration binds message topics to handlers.
type HandlerRegistration struct {
	Topic   string
	Handler messaging.Handler
}

// Params collects dependencies via Fx.
type Params struct {
	fx.In

	Client        messaging.Client
	Logger        *zap.Logger
	Config        config.Config
	Registrations []HandlerRegistration `group:"worker.handlers"`
}

// Engine runs a fixed pool of consumers and routes each message to the
// handler registered for its topic.
type Engine struct {
	client        messaging.Client
	logger        *zap.Logger
	cfg           config.Config
	registrations map[string]messaging.Handler
	processed     metric.Int64Counter
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewEngine constructs the worker Engine.
func NewEngine(p Params) *Engine {
	reg := make(map[string]messaging.Handler, len(p.Registrations))
	for _, r := range p.Registrations {
		if r.Topic == "" || r.Handler == nil {
			continue
		}
		if _, dup := reg[r.Topic]; dup {
			p.Logger.Warn("duplicate worker handler; keeping the last one", zap.String("topic", r.Topic))
		}
		reg[r.Topic] = r.Handler
	}

	processed, err := otel.Meter("github.com/Additional-Code/storefront/worker").Int64Counter(
		"storefront.worker.messages",
		metric.WithDescription("Queue messages handled, by topic and outcome"),
	)
	if err != nil {
		p.Logger.Warn("worker metrics unavailable", zap.Error(err))
	}

	return &Engine{
		client:        p.Client,
		logger:        p.Logger,
		cfg:           p.Config,
		registrations: reg,
		processed:     processed,
	}
}

// Module wires the engine into Fx lifecycle.
var Module = fx.Options(
	fx.Provide(NewEngine),
	fx.Invoke(func(lc fx.Lifecycle, engine *Engine) {
		lc.Append(fx.Hook{
			OnStart: engine.Start,
			OnStop:  engine.Stop,
		})
	}),
)

// Topics lists the topics that have a handler.
func (e *Engine) Topics() []string {
	topics := make([]string, 0, len(e.registrations))
	for t := range e.registrations {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// Start launches the consumer pool. It is a no-op when workers or
// messaging are disabled.
func (e *Engine) Start(context.Context) error {
	if !e.cfg.Messaging.Enabled || !e.cfg.Messaging.Workers.Enabled {
		e.logger.Info("worker engine disabled")
		return nil
	}
	if len(e.registrations) == 0 {
		e.logger.Info("worker engine has no handlers; skipping")
		return nil
	}

	concurrency := e.cfg.Messaging.Workers.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	for i := 0; i < concurrency; i++ {
		workerID := i
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.consumeLoop(runCtx, workerID)
		}()
	}

	e.logger.Info("worker engine started",
		zap.Int("workers", concurrency),
		zap.Strings("topics", e.Topics()),
	)
	return nil
}

// Stop cancels the consumers and waits for in-flight messages.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		e.logger.Info("worker engine stopped")
		return nil
	}
}

func (e *Engine) consumeLoop(ctx context.Context, workerID int) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		err := e.client.Consume(ctx, func(msgCtx context.Context, msg messaging.Message) error {
			return e.dispatch(msgCtx, workerID, msg)
		})

		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}

		e.logger.Error("consume loop error", zap.Error(err), zap.Duration("retry_in", backoff))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}

		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

// dispatch runs one message through its handler. A panicking handler is
// reported as a failed message so the consumer keeps running.
func (e *Engine) dispatch(ctx context.Context, workerID int, msg messaging.Message) (err error) {
	handler, ok := e.registrations[msg.Topic]
	if !ok {
		e.logger.Warn("no handler for topic", zap.String("topic", msg.Topic))
		e.count(ctx, msg.Topic, "unrouted")
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			e.logger.Error("worker handler panicked",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
		if err != nil {
			e.count(ctx, msg.Topic, "failed")
		} else {
			e.count(ctx, msg.Topic, "ok")
		}
	}()

	e.logger.Debug("processing message", zap.String("topic", msg.Topic), zap.Int("worker", workerID))
	return handler(ctx, msg)
}

func (e *Engine) count(ctx context.Context, topic, outcome string) {
	if e.processed == nil {
		return
	}
	e.processed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("messaging.topic", topic),
		attribute.String("outcome", outcome),
	))
}
