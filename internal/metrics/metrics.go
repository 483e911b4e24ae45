package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "checkout"

type Metrics struct {
	Checkouts          *prometheus.CounterVec
	PaymentTransitions *prometheus.CounterVec
	SweeperExpired     prometheus.Counter
	SweeperTickErrors  prometheus.Counter
	SweeperExpireFails prometheus.Counter
	NotifyFailures     *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. Tests pass a
// fresh prometheus.NewRegistry() so runs never collide.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		PaymentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_transitions_total",
			Help:      "Terminal payment transitions by resulting status and source.",
		}, []string{"status", "source"}),
		SweeperExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_expired_orders_total",
			Help:      "Pending orders expired by the timeout sweeper.",
		}),
		SweeperTickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_tick_errors_total",
			Help:      "Sweeper ticks that failed or panicked.",
		}),
		SweeperExpireFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_expire_failures_total",
			Help:      "Stale orders the sweeper failed to expire; they stay pending until a later tick succeeds.",
		}),
		NotifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_failures_total",
			Help:      "Payment notifications that could not be delivered, by sink.",
		}, []string{"sink"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Checkouts,
			m.PaymentTransitions,
			m.SweeperExpired,
			m.SweeperTickErrors,
			m.SweeperExpireFails,
			m.NotifyFailures,
			m.HTTPRequests,
			m.HTTPDuration,
		)
	}
	return m
}

// NewNop returns collectors that are not registered anywhere.
func NewNop() *Metrics {
	return New(nil)
}
