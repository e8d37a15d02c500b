// Package main provides the front-desk API service entry point.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/medicare-plus/frontdesk/internal/api/handlers"
	"github.com/medicare-plus/frontdesk/internal/api/middleware"
	"github.com/medicare-plus/frontdesk/internal/artifact"
	"github.com/medicare-plus/frontdesk/internal/auth"
	"github.com/medicare-plus/frontdesk/internal/bootstrap"
	"github.com/medicare-plus/frontdesk/internal/config"
	"github.com/medicare-plus/frontdesk/internal/domain/prescription"
	"github.com/medicare-plus/frontdesk/internal/intake"
	"github.com/medicare-plus/frontdesk/internal/observability/metrics"
	"github.com/medicare-plus/frontdesk/internal/observability/tracing"
	"github.com/medicare-plus/frontdesk/internal/render/prescriptionpdf"
	"github.com/medicare-plus/frontdesk/internal/transcription"
	"github.com/medicare-plus/frontdesk/pkg/circuitbreaker"
)

const serviceName = "frontdesk-api"

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

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
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
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer conn.Close()
	logger.Info("store ready", zap.String("driver", cfg.Store.Driver))

	host, localHost, err := bootstrap.OpenArtifactHost(ctx, cfg.Artifacts)
	if err != nil {
		logger.Fatal("failed to open artifact host", zap.Error(err))
	}

	m := metrics.New()
	breakers := circuitbreaker.NewManager(logger)
	renderer := prescriptionpdf.NewRenderer(m)
	matcher := intake.DefaultMatcher()
	composer := prescription.NewComposer(conn.Store, m, logger)

	dispatcher, err := bootstrap.NewDispatcher(cfg, bootstrap.DispatcherDeps{
		Records:  conn.Store,
		Renderer: renderer,
		Host:     host,
		Breakers: breakers,
		Metrics:  m,
	}, logger)
	if err != nil {
		logger.Fatal("failed to create sms dispatcher", zap.Error(err))
	}

	sweeper := artifact.NewSweeper(host, artifact.SweeperConfig{
		TTL:      cfg.Artifacts.TTL,
		Interval: cfg.Artifacts.SweepInterval,
	}, m, logger)
	if err := sweeper.Start(); err != nil {
		logger.Fatal("failed to start artifact sweeper", zap.Error(err))
	}
	defer sweeper.Stop()

	tokens := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	var sessions auth.Sessions
	var redisSessions *auth.RedisSessions
	if cfg.Auth.RedisAddr != "" {
		redisSessions, err = auth.NewRedisSessions(ctx, cfg.Auth.RedisAddr, cfg.Auth.RedisPassword)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisSessions.Close()
		sessions = redisSessions
	}

	var bridge *transcription.Bridge
	if cfg.Transcription.APIKey != "" {
		aaiCfg := transcription.DefaultAssemblyAIConfig(cfg.Transcription.APIKey)
		aaiCfg.URL = cfg.Transcription.URL
		aaiCfg.SampleRate = cfg.Transcription.SampleRate
		dialer, err := transcription.NewAssemblyAI(aaiCfg)
		if err != nil {
			logger.Fatal("failed to configure transcription", zap.Error(err))
		}
		bridge = transcription.NewBridge(dialer, matcher, m, logger, cfg.CORSOrigins...)
		defer bridge.Close()
	} else {
		logger.Warn("ASSEMBLYAI_API_KEY not set; live transcription disabled")
	}

	prescriptionHandler := handlers.NewPrescriptionHandler(composer, renderer, dispatcher, logger)
	patientHandler := handlers.NewPatientHandler(composer, logger)
	intakeHandler := handlers.NewIntakeHandler(conn.Store, matcher, logger)

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.CORSOrigins...))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(serviceName))

	r.Get("/health", healthHandler)
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		checks := map[string]string{"store": "ok"}
		ready := true
		if err := conn.Store.Ping(ctx); err != nil {
			checks["store"] = err.Error()
			ready = false
		}
		if redisSessions != nil {
			checks["sessions"] = "ok"
			if err := redisSessions.Ping(ctx); err != nil {
				checks["sessions"] = err.Error()
				ready = false
			}
		}

		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ready":    ready,
			"checks":   checks,
			"breakers": breakers.GetHealthStatus(),
		})
	})
	r.Handle("/metrics", metrics.Handler())

	if localHost != nil {
		r.Mount("/media", handlers.NewMediaHandler(localHost, logger).Routes())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.SessionAuth(tokens, sessions, cfg.Auth.CookieName, logger))
		r.Mount("/prescriptions", prescriptionHandler.Routes())
		r.Mount("/patients", patientHandler.Routes())
		r.Mount("/intake", intakeHandler.Routes())
		if bridge != nil {
			r.Handle("/transcription/stream", bridge)
		} else {
			r.Get("/transcription/stream", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"error":"live transcription is not configured"}`))
			})
		}
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// hijacked websocket connections are not tracked by Shutdown
		if bridge != nil {
			bridge.Close()
		}
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting front-desk API",
		zap.String("port", cfg.Port),
		zap.String("environment", cfg.Environment))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"frontdesk-api","version":"1.0.0"}`))
}
