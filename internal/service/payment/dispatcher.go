package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/storefront/internal/config"
	"github.com/Additional-Code/storefront/internal/entity"
	"github.com/Additional-Code/storefront/internal/gateway"
	"github.com/Additional-Code/storefront/internal/messaging"
	ordersvc "github.com/Additional-Code/storefront/internal/service/order"
	"github.com/Additional-Code/storefront/pkg/errorbank"
)

var dispatcherMeter = otel.Meter("github.com/Additional-Code/storefront/service/payment")

// Task asks the dispatcher to poll a gateway for one order.
type Task struct {
	OrderID   int64     `json:"order_id"`
	Reference string    `json:"reference"`
	Gateway   string    `json:"gateway"`
	Attempt   int       `json:"attempt"`
	NotBefore time.Time `json:"not_before"`
}

// Outcome is the result of one reconciliation attempt.
type Outcome int

const (
	// OutcomeSettled means the order is paid (by this attempt or earlier).
	OutcomeSettled Outcome = iota + 1
	// OutcomeRetry means the gateway has not confirmed yet.
	OutcomeRetry
	// OutcomeStop means retrying cannot help; the order is left as is.
	OutcomeStop
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSettled:
		return "settled"
	case OutcomeRetry:
		return "retry"
	case OutcomeStop:
		return "stop"
	default:
		return "unknown"
	}
}

// ExhaustedHandler runs once a task used its last attempt without a confirmation.
type ExhaustedHandler func(ctx context.Context, task Task)

// DispatcherParams defines dependencies for constructing Dispatcher.
type DispatcherParams struct {
	fx.In

	Client   messaging.Client
	Orders   *ordersvc.Service
	Gateways *gateway.Registry
	Config   config.Config
	Logger   *zap.Logger
}

// Dispatcher polls gateways for orders whose payment has not been confirmed.
// Tasks travel over the reconcile topic; with messaging disabled they run
// in-process. It never marks an order failed from inconclusive polling alone.
type Dispatcher struct {
	client    messaging.Client
	topic     string
	inline    bool
	orders    *ordersvc.Service
	gateways  *gateway.Registry
	policy    config.Reconcile
	logger    *zap.Logger
	now       func() time.Time
	exhausted ExhaustedHandler
	attempts  metric.Int64Counter

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher wires a new Dispatcher.
func NewDispatcher(p DispatcherParams) *Dispatcher {
	attempts, err := dispatcherMeter.Int64Counter("storefront.reconcile.attempts",
		metric.WithDescription("Reconciliation attempts by gateway and outcome"))
	if err != nil {
		p.Logger.Warn("reconcile counter unavailable", zap.Error(err))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		client:   p.Client,
		topic:    p.Config.Messaging.Topics.Reconcile,
		inline:   !p.Config.Messaging.Enabled,
		orders:   p.Orders,
		gateways: p.Gateways,
		policy:   p.Config.Reconcile,
		logger:   p.Logger,
		now:      time.Now,
		attempts: attempts,
		runCtx:   runCtx,
		cancel:   cancel,
	}
	d.exhausted = d.logExhausted
	return d
}

// OnExhausted replaces the terminal handler.
func (d *Dispatcher) OnExhausted(h ExhaustedHandler) {
	if h != nil {
		d.exhausted = h
	}
}

// Schedule queues the first reconciliation of a freshly initiated order.
func (d *Dispatcher) Schedule(ctx context.Context, order *entity.Order) error {
	return d.Enqueue(ctx, d.firstTask(order, d.policy.InitialDelay))
}

// ScheduleNow queues an immediate reconciliation, e.g. at an administrator's request.
func (d *Dispatcher) ScheduleNow(ctx context.Context, order *entity.Order) error {
	if order.PaymentMethod == entity.MethodTransfer {
		return errorbank.BadRequest(TransferReviewMessage)
	}
	return d.Enqueue(ctx, d.firstTask(order, 0))
}

func (d *Dispatcher) firstTask(order *entity.Order, delay time.Duration) Task {
	ref := order.GatewayReference
	if ref == "" {
		ref = order.Number
	}
	return Task{
		OrderID:   order.ID,
		Reference: ref,
		Gateway:   order.PaymentMethod,
		Attempt:   1,
		NotBefore: d.now().UTC().Add(delay),
	}
}

// Queued reports whether tasks travel over the message queue rather than
// running in-process.
func (d *Dispatcher) Queued() bool {
	return !d.inline
}

// NewTask builds an immediate first attempt for order.
func (d *Dispatcher) NewTask(order *entity.Order) Task {
	return d.firstTask(order, 0)
}

// Enqueue publishes task on the reconcile topic. With messaging disabled the
// task runs in-process once it falls due.
func (d *Dispatcher) Enqueue(ctx context.Context, task Task) error {
	if task.Attempt < 1 {
		task.Attempt = 1
	}
	if d.inline {
		d.hold(task, func(ctx context.Context) { _ = d.process(ctx, task) })
		return nil
	}
	return d.publish(ctx, task)
}

func (d *Dispatcher) publish(ctx context.Context, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal reconcile task: %w", err)
	}
	key := []byte(strconv.FormatInt(task.OrderID, 10))
	if err := d.client.Publish(ctx, d.topic, key, payload); err != nil {
		return fmt.Errorf("publish reconcile task: %w", err)
	}
	return nil
}

// Handle is the worker entry point for reconcile messages. A task that is not
// due yet is parked on a dispatcher timer and published again when it is, so
// the consumer returns at once.
func (d *Dispatcher) Handle(ctx context.Context, msg messaging.Message) error {
	var task Task
	if err := json.Unmarshal(msg.Value, &task); err != nil {
		d.logger.Error("discarding undecodable reconcile task", zap.Error(err), zap.Int64("offset", msg.Offset))
		return nil
	}
	if task.NotBefore.After(d.now()) {
		d.park(task)
		return nil
	}
	return d.process(ctx, task)
}

// Close stops in-process tasks and parked timers and waits for them to return.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.cancel()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// park republishes task once it falls due.
func (d *Dispatcher) park(task Task) {
	d.logger.Debug("reconcile task parked until due",
		zap.Int64("order_id", task.OrderID),
		zap.Int("attempt", task.Attempt),
		zap.Time("not_before", task.NotBefore),
	)
	d.hold(task, func(ctx context.Context) {
		if err := d.publish(ctx, task); err != nil {
			d.logger.Error("republish reconcile task failed",
				zap.Int64("order_id", task.OrderID),
				zap.Int("attempt", task.Attempt),
				zap.Error(err),
			)
		}
	})
}

// hold runs fn on a dispatcher goroutine once task is due. Tasks still
// waiting when the dispatcher closes are dropped.
func (d *Dispatcher) hold(task Task, fn func(ctx context.Context)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if wait := task.NotBefore.Sub(d.now()); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-d.runCtx.Done():
				d.logger.Warn("reconcile task dropped at shutdown",
					zap.Int64("order_id", task.OrderID),
					zap.Int("attempt", task.Attempt),
				)
				return
			}
		}
		fn(d.runCtx)
	}()
}

// process runs one attempt of a due task and schedules the next one while
// attempts remain.
func (d *Dispatcher) process(ctx context.Context, task Task) error {
	outcome := d.Attempt(ctx, task)
	if outcome != OutcomeRetry {
		return nil
	}

	if task.Attempt >= d.maxAttempts() {
		d.exhausted(ctx, task)
		return nil
	}

	next := task
	next.Attempt++
	next.NotBefore = d.now().UTC().Add(d.policy.RetryDelay)
	if !d.inline && next.NotBefore.After(d.now()) {
		d.park(next)
		return nil
	}
	if err := d.Enqueue(context.WithoutCancel(ctx), next); err != nil {
		d.logger.Error("requeue reconcile task failed",
			zap.Int64("order_id", task.OrderID),
			zap.Int("attempt", next.Attempt),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// Attempt performs one bounded verification of task against its gateway.
func (d *Dispatcher) Attempt(ctx context.Context, task Task) (outcome Outcome) {
	ctx, span := serviceTracer.Start(ctx, "PaymentDispatcher.Attempt", trace.WithAttributes(
		attribute.Int64("order.id", task.OrderID),
		attribute.String("payment.gateway", task.Gateway),
		attribute.Int("reconcile.attempt", task.Attempt),
	))
	defer span.End()

	log := d.logger.With(
		zap.Int64("order_id", task.OrderID),
		zap.String("reference", task.Reference),
		zap.String("gateway", task.Gateway),
		zap.Int("attempt", task.Attempt),
	)
	defer func() {
		span.SetAttributes(attribute.String("reconcile.outcome", outcome.String()))
		if d.attempts != nil {
			d.attempts.Add(ctx, 1, metric.WithAttributes(
				attribute.String("gateway", task.Gateway),
				attribute.String("outcome", outcome.String()),
			))
		}
	}()

	order, err := d.orders.Reload(ctx, task.OrderID)
	if err != nil {
		if errorbank.Is(err, errorbank.KindNotFound) {
			log.Error("reconcile task for unknown order")
			return OutcomeStop
		}
		log.Warn("load order for reconciliation failed", zap.Error(err))
		return OutcomeRetry
	}
	switch order.PaymentStatus {
	case entity.PaymentPaid:
		return OutcomeSettled
	case entity.PaymentRefunded:
		return OutcomeStop
	}

	gw, err := d.gateways.Get(task.Gateway)
	if err != nil {
		log.Error("reconcile task for unconfigured gateway")
		return OutcomeStop
	}

	timeout := d.policy.AttemptTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := gw.Verify(attemptCtx, task.Reference)
	if err != nil {
		if gateway.IsRetryable(err) {
			log.Warn("gateway verification unavailable", zap.Error(err))
			return OutcomeRetry
		}
		log.Error("gateway verification refused", zap.Error(err))
		return OutcomeStop
	}
	d.orders.RecordCheck(ctx, order.ID, v.Raw)

	switch v.Status {
	case gateway.StatusSuccess:
		amount := v.Amount
		tr, err := d.orders.ConfirmPayment(ctx, ordersvc.Confirmation{
			OrderID:   order.ID,
			Reference: v.Reference,
			Channel:   entity.ChannelPoll,
			Amount:    &amount,
			Currency:  v.Currency,
			Payload:   v.Raw,
		})
		if err != nil {
			if errorbank.Is(err, errorbank.KindInternal) {
				log.Warn("apply confirmed payment failed", zap.Error(err))
				return OutcomeRetry
			}
			log.Error("confirmed payment rejected", zap.Error(err))
			return OutcomeStop
		}
		log.Info("reconciliation settled order", zap.Bool("applied", tr.Applied))
		return OutcomeSettled
	case gateway.StatusFailed:
		if _, err := d.orders.RecordFailure(ctx, order.ID, v.Raw); err != nil {
			log.Warn("record payment failure failed", zap.Error(err))
		}
		log.Info("gateway reports payment failed; will check again")
		return OutcomeRetry
	default:
		log.Debug("payment still pending")
		return OutcomeRetry
	}
}

func (d *Dispatcher) maxAttempts() int {
	if d.policy.MaxAttempts < 1 {
		return 1
	}
	return d.policy.MaxAttempts
}

func (d *Dispatcher) logExhausted(_ context.Context, task Task) {
	d.logger.Error("payment reconciliation exhausted; manual follow-up required",
		zap.Int64("order_id", task.OrderID),
		zap.String("reference", task.Reference),
		zap.String("gateway", task.Gateway),
		zap.Int("attempts", task.Attempt),
	)
}
