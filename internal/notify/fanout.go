package notify

import (
	"context"
	"errors"

	"checkout-flow/internal/domain"
	"checkout-flow/internal/metrics"

	"go.uber.org/zap"
)

type Notifier interface {
	Publish(ctx context.Context, ev domain.PaymentEvent) error
}

type Sink struct {
	Name     string
	Notifier Notifier
}

// Fanout hands each event to every sink. A failing sink is logged and
// counted; the others still run.
type Fanout struct {
	sinks   []Sink
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewFanout(m *metrics.Metrics, logger *zap.Logger, sinks ...Sink) *Fanout {
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{sinks: sinks, metrics: m, logger: logger}
}

func (f *Fanout) Publish(ctx context.Context, ev domain.PaymentEvent) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Notifier.Publish(ctx, ev); err != nil {
			f.metrics.NotifyFailures.WithLabelValues(s.Name).Inc()
			f.logger.Warn("notify_sink_failed",
				zap.String("sink", s.Name),
				zap.Int64("order_id", ev.OrderID),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
