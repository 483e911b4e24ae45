package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"checkout-flow/internal/domain"
	"checkout-flow/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultInterval  = time.Second
	DefaultThreshold = 40 * time.Second

	batchSize     = 100
	notifyTimeout = 5 * time.Second
)

type StalePendingFinder interface {
	FindStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Order, error)
}

type OrderExpirer interface {
	ExpirePayment(ctx context.Context, orderID int64) (*domain.Order, error)
}

// GatewayNotifier tells the external gateway that an order was expired
// locally so it stops offering it.
type GatewayNotifier interface {
	NotifyRejected(ctx context.Context, orderID int64) error
}

// TimeoutSweeper fails orders that stayed PAYMENT_PENDING past the threshold.
type TimeoutSweeper struct {
	orders    StalePendingFinder
	expirer   OrderExpirer
	gateway   GatewayNotifier
	interval  time.Duration
	threshold time.Duration
	now       func() time.Time
	metrics   *metrics.Metrics
	logger    *zap.Logger
	tracer    trace.Tracer

	inflight sync.WaitGroup
}

func NewTimeoutSweeper(
	orders StalePendingFinder,
	expirer OrderExpirer,
	gateway GatewayNotifier,
	interval time.Duration,
	threshold time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *TimeoutSweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimeoutSweeper{
		orders:    orders,
		expirer:   expirer,
		gateway:   gateway,
		interval:  interval,
		threshold: threshold,
		now:       time.Now,
		metrics:   m,
		logger:    logger,
		tracer:    otel.Tracer("checkout-flow/worker"),
	}
}

func (w *TimeoutSweeper) WithClock(now func() time.Time) *TimeoutSweeper {
	w.now = now
	return w
}

// Run sweeps on every tick until ctx is cancelled. A failing or panicking
// tick is logged and the loop carries on.
func (w *TimeoutSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("sweeper_started",
		zap.Duration("interval", w.interval),
		zap.Duration("threshold", w.threshold),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("sweeper_stopped")
			return
		case <-ticker.C:
			if _, err := w.safeTick(ctx); err != nil && ctx.Err() == nil {
				w.metrics.SweeperTickErrors.Inc()
				w.logger.Error("sweeper_tick_failed", zap.Error(err))
			}
		}
	}
}

func (w *TimeoutSweeper) safeTick(ctx context.Context) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweeper tick panicked: %v", r)
		}
	}()
	return w.Tick(ctx)
}

// Tick runs one sweep and returns how many orders it expired.
func (w *TimeoutSweeper) Tick(ctx context.Context) (int, error) {
	ctx, span := w.tracer.Start(ctx, "TimeoutSweeper.Tick")
	defer span.End()

	cutoff := w.now().Add(-w.threshold)
	stale, err := w.orders.FindStalePending(ctx, cutoff, batchSize)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("find stale orders: %w", err)
	}
	span.SetAttributes(attribute.Int("sweeper.stale", len(stale)))
	if len(stale) == 0 {
		return 0, nil
	}

	expired := 0
	for _, o := range stale {
		if ctx.Err() != nil {
			return expired, nil
		}
		if _, err := w.expirer.ExpirePayment(ctx, o.ID); err != nil {
			if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrOrderNotFound) {
				// Decided between the query and the lock.
				w.logger.Debug("sweeper_skip_order", zap.Int64("order_id", o.ID), zap.Error(err))
				continue
			}
			w.metrics.SweeperExpireFails.Inc()
			w.logger.Error("sweeper_expire_failed", zap.Int64("order_id", o.ID), zap.Error(err))
			continue
		}
		expired++
		w.metrics.SweeperExpired.Inc()
		w.logger.Info("order_expired", zap.Int64("order_id", o.ID), zap.Time("created_at", o.CreatedAt))
		w.notifyGateway(ctx, o.ID)
	}
	span.SetAttributes(attribute.Int("sweeper.expired", expired))
	return expired, nil
}

// notifyGateway is fire-and-forget; the local expiry stands whatever the
// gateway answers.
func (w *TimeoutSweeper) notifyGateway(ctx context.Context, orderID int64) {
	if w.gateway == nil {
		return
	}
	w.inflight.Add(1)
	go func() {
		defer w.inflight.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := w.gateway.NotifyRejected(nctx, orderID); err != nil {
			w.logger.Warn("gateway_notify_failed", zap.Int64("order_id", orderID), zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight gateway notifications have finished.
func (w *TimeoutSweeper) Wait() {
	w.inflight.Wait()
}
