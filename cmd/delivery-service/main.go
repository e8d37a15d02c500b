// Package main provides the delivery service entry point. It consumes
// prescription events and sends flagged prescriptions to patients by SMS.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medicare-plus/frontdesk/internal/bootstrap"
	"github.com/medicare-plus/frontdesk/internal/config"
	"github.com/medicare-plus/frontdesk/internal/delivery/autosend"
	"github.com/medicare-plus/frontdesk/internal/infrastructure/redpanda"
	"github.com/medicare-plus/frontdesk/internal/observability/metrics"
	"github.com/medicare-plus/frontdesk/internal/observability/tracing"
	"github.com/medicare-plus/frontdesk/internal/render/prescriptionpdf"
	"github.com/medicare-plus/frontdesk/pkg/circuitbreaker"
	"github.com/medicare-plus/frontdesk/pkg/idempotency"
)

const serviceName = "delivery-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := bootstrap.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := cfg.ValidateDelivery(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	// the inbox lives in Postgres next to the outbox that feeds this service
	if cfg.Store.Driver != config.DriverPostgres {
		logger.Fatal("the delivery service needs STORE_DRIVER=postgres", zap.String("driver", cfg.Store.Driver))
	}

	flushSentry, err := bootstrap.InitSentry(cfg, serviceName)
	if err != nil {
		logger.Fatal("failed to initialize sentry", zap.Error(err))
	}
	defer flushSentry()

	ctx := context.Background()

	tp, err := tracing.Init(ctx, tracing.DefaultConfig(serviceName, cfg.Environment, cfg.OTLPEndpoint))
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	conn, err := bootstrap.OpenStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer conn.Close()

	host, _, err := bootstrap.OpenArtifactHost(ctx, cfg.Artifacts)
	if err != nil {
		logger.Fatal("failed to open artifact host", zap.Error(err))
	}
	if cfg.Artifacts.Driver == config.ArtifactLocal {
		logger.Warn("local artifacts are served by the API; ARTIFACT_DIR must be shared with it")
	}

	m := metrics.New()
	breakers := circuitbreaker.NewManager(logger)
	dispatcher, err := bootstrap.NewDispatcher(cfg, bootstrap.DispatcherDeps{
		Records:  conn.Store,
		Renderer: prescriptionpdf.NewRenderer(m),
		Host:     host,
		Breakers: breakers,
		Metrics:  m,
	}, logger)
	if err != nil {
		logger.Fatal("failed to create sms dispatcher", zap.Error(err))
	}

	inbox := idempotency.NewInbox(conn.Pool, idempotency.DefaultInboxConfig(), logger)
	if err := inbox.StartCleanup(); err != nil {
		logger.Fatal("failed to schedule inbox cleanup", zap.Error(err))
	}
	defer inbox.Stop()

	handler := autosend.NewHandler(dispatcher, inbox, m, logger)

	if err := redpanda.HealthCheck(ctx, cfg.Kafka.Brokers); err != nil {
		logger.Fatal("brokers unreachable", zap.Strings("brokers", cfg.Kafka.Brokers), zap.Error(err))
	}
	admin, err := redpanda.NewAdmin(cfg.Kafka.Brokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	defer admin.Close()

	consumerCfg := redpanda.DefaultConsumerConfig(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, redpanda.TopicPrescriptionEvents)
	consumerCfg.Pool.Workers = 4
	consumerCfg.Pool.MaxRetries = 2
	consumerCfg.Pool.RetryDelay = 2 * time.Second
	consumerCfg.Pool.Retryable = autosend.Retryable

	consumer, err := redpanda.NewConsumer(consumerCfg, handler.Handle, handler.OnFailure, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}
	consumer.Start()
	logger.Info("delivery service started",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("group", cfg.Kafka.ConsumerGroup))

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"delivery-service"}`))
	})
	r.Method(http.MethodGet, "/ready", &readiness{
		store:    conn.Store,
		consumer: consumer,
		group:    cfg.Kafka.ConsumerGroup,
		lag:      admin.GroupLag,
		inbox:    inbox.GetStats,
		breakers: breakers.GetHealthStatus,
		logger:   logger,
	})
	r.Handle("/metrics", metrics.Handler())

	server := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	consumer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
	logger.Info("delivery service stopped")
}
