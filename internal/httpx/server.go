package httpx

import (
	"context"
	"net/http"
	"time"

	"checkout-flow/internal/infrastructure/payment"
	"checkout-flow/internal/metrics"
	"checkout-flow/internal/notify"
	"checkout-flow/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Bank is the operator surface of the mock payment gateway.
type Bank interface {
	ListPending(ctx context.Context) ([]payment.PendingPayment, error)
	Decide(ctx context.Context, orderID int64, approved bool) error
	NotifyRejected(ctx context.Context, orderID int64) error
}

type Deps struct {
	Orders      service.OrderService
	Bank        Bank
	Hub         *notify.Hub
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	Logger      *zap.Logger
	Health      func(ctx context.Context) map[string]string
	CORSOrigins []string
}

func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware(d.CORSOrigins))
	r.Use(tracing())
	r.Use(requestLogger(d.Logger, d.Metrics))

	h := &OrdersHandler{orders: d.Orders, logger: d.Logger}
	h.Register(r)

	if d.Bank != nil {
		b := &BankHandler{bank: d.Bank, logger: d.Logger}
		b.Register(r)
	}
	if d.Hub != nil {
		r.GET("/ws", gin.WrapH(notify.NewWSHandler(d.Hub, d.Logger)))
	}
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}
	r.GET("/healthz", func(c *gin.Context) {
		if d.Health == nil {
			c.JSON(http.StatusOK, gin.H{"status": "up"})
			return
		}
		stats := d.Health(c.Request.Context())
		if stats["status"] != "up" {
			c.JSON(http.StatusServiceUnavailable, stats)
			return
		}
		c.JSON(http.StatusOK, stats)
	})
	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "X-Customer-ID", "X-Request-ID", "X-Idempotency-Key"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}
