// Package bootstrap builds the collaborators shared by the service binaries
// from loaded configuration.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/medicare-plus/frontdesk/internal/apperr"
	"github.com/medicare-plus/frontdesk/internal/artifact"
	"github.com/medicare-plus/frontdesk/internal/config"
	"github.com/medicare-plus/frontdesk/internal/delivery/sms"
	"github.com/medicare-plus/frontdesk/internal/domain/doctor"
	"github.com/medicare-plus/frontdesk/internal/domain/patient"
	"github.com/medicare-plus/frontdesk/internal/domain/prescription"
	"github.com/medicare-plus/frontdesk/internal/infrastructure/memory"
	"github.com/medicare-plus/frontdesk/internal/infrastructure/mongo"
	"github.com/medicare-plus/frontdesk/internal/infrastructure/postgres"
	"github.com/medicare-plus/frontdesk/internal/infrastructure/redpanda"
	"github.com/medicare-plus/frontdesk/internal/observability/metrics"
	"github.com/medicare-plus/frontdesk/internal/render/prescriptionpdf"
	"github.com/medicare-plus/frontdesk/pkg/circuitbreaker"
)

// GatewayBreaker names the messaging gateway breaker
const GatewayBreaker = "twilio"

// Store is a record store of any driver
type Store interface {
	prescription.Repository
	PutDoctor(ctx context.Context, d *doctor.Doctor) error
	CreatePatient(ctx context.Context, p *patient.Patient) error
	Ping(ctx context.Context) error
}

// NewLogger returns a development logger for debug level, production otherwise
func NewLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

// InitSentry enables error reporting when a DSN is configured. The returned
// flush is safe to call either way.
func InitSentry(cfg *config.Config, service string) (func(), error) {
	if cfg.SentryDSN == "" {
		return func() {}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.Environment,
		ServerName:  service,
	})
	if err != nil {
		return func() {}, fmt.Errorf("init sentry: %w", err)
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// Connection is an opened store. Pool is set only for the postgres driver.
type Connection struct {
	Store Store
	Pool  *pgxpool.Pool
	close func()
}

// Close releases the store's connections
func (c *Connection) Close() {
	if c.close != nil {
		c.close()
	}
}

// OpenStore connects the configured driver. Postgres is migrated and Mongo
// gets its indexes before the store is returned.
func OpenStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*Connection, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("database ping failed: %w", err)
		}
		if err := postgres.Migrate(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, err
		}
		store := postgres.NewStore(pool, redpanda.TopicPrescriptionEvents, logger)
		return &Connection{Store: store, Pool: pool, close: pool.Close}, nil

	case config.DriverMongo:
		client, err := mongo.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		store := mongo.NewStore(client, cfg.MongoDatabase, logger)
		if err := store.EnsureIndexes(ctx); err != nil {
			client.Disconnect(context.Background())
			return nil, err
		}
		return &Connection{Store: store, close: func() {
			client.Disconnect(context.Background())
		}}, nil

	case config.DriverMemory:
		logger.Warn("using the in-memory store; records are lost on restart")
		return &Connection{Store: memory.NewStore()}, nil

	default:
		return nil, apperr.Configuration("unknown store driver %q", cfg.Driver)
	}
}

// OpenArtifactHost builds the configured PDF host. local is non-nil when
// the files must also be served by this process under /media.
func OpenArtifactHost(ctx context.Context, cfg config.ArtifactConfig) (host artifact.Host, local *artifact.LocalHost, err error) {
	switch cfg.Driver {
	case config.ArtifactLocal:
		local, err = artifact.NewLocalHost(cfg.Dir, cfg.PublicBaseURL)
		if err != nil {
			return nil, nil, err
		}
		return local, local, nil
	case config.ArtifactMinIO:
		host, err = artifact.NewMinIOHost(ctx, artifact.MinIOConfig{
			Endpoint:      cfg.MinIOEndpoint,
			AccessKey:     cfg.MinIOAccessKey,
			SecretKey:     cfg.MinIOSecretKey,
			Bucket:        cfg.MinIOBucket,
			UseSSL:        cfg.MinIOUseSSL,
			PublicBaseURL: cfg.MinIOPublicURL,
			PresignTTL:    cfg.MinIOPresignTTL,
		})
		if err != nil {
			return nil, nil, err
		}
		return host, nil, nil
	default:
		return nil, nil, apperr.Configuration("unknown artifact driver %q", cfg.Driver)
	}
}

// DispatcherDeps are the pieces NewDispatcher does not build itself
type DispatcherDeps struct {
	Records  sms.Records
	Renderer *prescriptionpdf.Renderer
	Host     artifact.Host
	Breakers *circuitbreaker.Manager
	Metrics  *metrics.Metrics
}

// NewDispatcher builds the Twilio gateway behind a circuit breaker that
// reports its state to metrics
func NewDispatcher(cfg *config.Config, deps DispatcherDeps, logger *zap.Logger) (*sms.Dispatcher, error) {
	gateway, err := sms.NewTwilioGateway(sms.TwilioConfig{
		AccountSID: cfg.SMS.AccountSID,
		AuthToken:  cfg.SMS.AuthToken,
		Timeout:    cfg.SMS.Timeout,
	})
	if err != nil {
		return nil, err
	}

	breakerCfg := sms.GatewayBreakerConfig(GatewayBreaker, func(name string, to circuitbreaker.State) {
		deps.Metrics.BreakerState(name, to.Value())
	})
	breaker, err := deps.Breakers.GetOrCreate(GatewayBreaker, breakerCfg)
	if err != nil {
		return nil, fmt.Errorf("create gateway breaker: %w", err)
	}

	return sms.NewDispatcher(sms.Deps{
		Records:  deps.Records,
		Renderer: deps.Renderer,
		Host:     deps.Host,
		Gateway:  gateway,
		Breaker:  breaker,
		Metrics:  deps.Metrics,
	}, sms.Config{
		From:               cfg.SMS.FromNumber,
		DefaultCountryCode: cfg.SMS.DefaultCountryCode,
		Timeout:            cfg.SMS.Timeout,
	}, logger)
}
