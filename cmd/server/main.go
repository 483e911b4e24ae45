package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkout-flow/internal/config"
	"checkout-flow/internal/database"
	"checkout-flow/internal/events"
	"checkout-flow/internal/httpx"
	"checkout-flow/internal/infrastructure/payment"
	"checkout-flow/internal/logging"
	"checkout-flow/internal/metrics"
	"checkout-flow/internal/notify"
	"checkout-flow/internal/repo"
	"checkout-flow/internal/service"
	"checkout-flow/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	logger, err := logging.NewLogger(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db_connect_failed", zap.Error(err))
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		logger.Fatal("db_migrate_failed", zap.Error(err))
	}
	store := repo.NewPostgresStore(db)

	hub := notify.NewHub()
	var sinks []notify.Sink
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			DialTimeout:  500 * time.Millisecond,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		})
		defer rdb.Close()
		broadcaster := notify.NewRedisBroadcaster(rdb, logger)
		sinks = append(sinks, notify.Sink{Name: "redis", Notifier: broadcaster})
		go func() {
			if err := broadcaster.Relay(ctx, hub); err != nil {
				logger.Error("redis_relay_stopped", zap.Error(err))
			}
		}()
	} else {
		sinks = append(sinks, notify.Sink{Name: "hub", Notifier: notify.NewHubPublisher(hub)})
	}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink := events.NewKafkaSink(events.NewWriter(cfg.KafkaBrokers, events.TopicPaymentStatus, logger))
		defer kafkaSink.Close()
		sinks = append(sinks, notify.Sink{Name: "kafka", Notifier: kafkaSink})
	}

	orders := service.NewOrderService(store, notify.NewFanout(m, logger, sinks...), m, logger)

	bank := payment.NewMockBank(orders, payment.NewWebhookClient(cfg.WebhookBaseURL, nil))
	var gateway worker.GatewayNotifier = bank
	if cfg.GatewayURL != "" {
		gateway = payment.NewHTTPGatewayNotifier(cfg.GatewayURL, nil)
	}

	sweeper := worker.NewTimeoutSweeper(store.Repos().Orders, orders, gateway, cfg.SweepInterval, cfg.PendingTimeout, m, logger)
	go sweeper.Run(ctx)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpx.NewRouter(httpx.Deps{
		Orders:      orders,
		Bank:        bank,
		Hub:         hub,
		Metrics:     m,
		Gatherer:    reg,
		Logger:      logger,
		Health:      func(ctx context.Context) map[string]string { return database.Health(ctx, db) },
		CORSOrigins: cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http_listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_serve_failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_shutdown_failed", zap.Error(err))
	}
	sweeper.Wait()
}
