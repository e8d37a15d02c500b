// Package main provides the outbox relay service entry point. It publishes
// committed outbox rows to Redpanda and keeps the table trimmed.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/medicare-plus/frontdesk/internal/bootstrap"
	"github.com/medicare-plus/frontdesk/internal/config"
	"github.com/medicare-plus/frontdesk/internal/infrastructure/postgres"
	"github.com/medicare-plus/frontdesk/internal/infrastructure/redpanda"
	"github.com/medicare-plus/frontdesk/internal/observability/metrics"
	"github.com/medicare-plus/frontdesk/internal/observability/tracing"
)

const serviceName = "outbox-relay"

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

	if err := cfg.ValidateStore(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	if cfg.Store.Driver != config.DriverPostgres {
		logger.Fatal("the outbox relay needs STORE_DRIVER=postgres", zap.String("driver", cfg.Store.Driver))
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
	logger.Info("connected to database")

	if err := redpanda.HealthCheck(ctx, cfg.Kafka.Brokers); err != nil {
		logger.Fatal("brokers unreachable", zap.Strings("brokers", cfg.Kafka.Brokers), zap.Error(err))
	}

	admin, err := redpanda.NewAdmin(cfg.Kafka.Brokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	if err := admin.EnsureTopics(ctx); err != nil {
		logger.Fatal("failed to create topics", zap.Error(err))
	}
	admin.Close()

	producer, err := redpanda.NewProducer(redpanda.DefaultProducerConfig(cfg.Kafka.Brokers), logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()
	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.Kafka.Brokers))

	m := metrics.New()
	outboxCfg := postgres.DefaultOutboxConfig()
	outboxCfg.DeadLetterTopic = redpanda.TopicDeadLetter
	outbox := postgres.NewOutbox(conn.Pool, producer, outboxCfg, m, logger)

	scheduler, err := scheduleMaintenance(outbox, logger)
	if err != nil {
		logger.Fatal("failed to schedule outbox maintenance", zap.Error(err))
	}
	scheduler.StartAsync()

	outbox.Start()

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"outbox-relay"}`))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := conn.Pool.Ping(ctx); err != nil {
			http.Error(w, "database not ready", http.StatusServiceUnavailable)
			return
		}
		if err := producer.Ping(ctx); err != nil {
			http.Error(w, "broker not ready", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ready"))
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
	scheduler.Stop()
	outbox.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
}

// scheduleMaintenance registers cleanup, dead-lettering and the pending gauge
func scheduleMaintenance(outbox *postgres.Outbox, logger *zap.Logger) (*gocron.Scheduler, error) {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	if _, err := s.Every(time.Hour).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := outbox.CleanupProcessed(ctx, 24*time.Hour); err != nil {
			logger.Error("outbox cleanup failed", zap.Error(err))
		}
	}); err != nil {
		return nil, err
	}

	if _, err := s.Every(time.Minute).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := outbox.MoveToDeadLetter(ctx); err != nil {
			logger.Error("dead-letter sweep failed", zap.Error(err))
		}
	}); err != nil {
		return nil, err
	}

	if _, err := s.Every(15 * time.Second).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		stats, err := outbox.GetStats(ctx)
		if err != nil {
			logger.Warn("outbox stats failed", zap.Error(err))
			return
		}
		logger.Debug("outbox stats",
			zap.Int64("pending", stats.Pending),
			zap.Int64("failed", stats.Failed))
	}); err != nil {
		return nil, err
	}

	return s, nil
}
