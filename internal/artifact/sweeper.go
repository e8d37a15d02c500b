package artifact

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/medicare-plus/frontdesk/internal/observability/metrics"
)

// SweeperConfig holds sweeper settings
type SweeperConfig struct {
	// TTL is how long an artifact may stay hosted
	TTL time.Duration
	// Interval between sweeps
	Interval time.Duration
}

// DefaultSweeperConfig returns default settings
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		TTL:      30 * time.Minute,
		Interval: 5 * time.Minute,
	}
}

// Sweeper periodically removes artifacts whose immediate cleanup was missed
type Sweeper struct {
	host      Host
	config    SweeperConfig
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	scheduler *gocron.Scheduler
}

// NewSweeper creates a sweeper. m may be nil.
func NewSweeper(host Host, cfg SweeperConfig, m *metrics.Metrics, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		host:    host,
		config:  cfg,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Start schedules sweeps in the background
func (s *Sweeper) Start() error {
	s.scheduler = gocron.NewScheduler(time.UTC)
	s.scheduler.SingletonModeAll()
	if _, err := s.scheduler.Every(s.config.Interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.Interval)
		defer cancel()
		s.RunOnce(ctx)
	}); err != nil {
		return err
	}
	s.scheduler.StartAsync()
	s.logger.Info("artifact sweeper started",
		zap.Duration("ttl", s.config.TTL),
		zap.Duration("interval", s.config.Interval),
	)
	return nil
}

// Stop halts scheduled sweeps
func (s *Sweeper) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// RunOnce sweeps immediately and returns the number of removed artifacts
func (s *Sweeper) RunOnce(ctx context.Context) int {
	n, err := s.host.Sweep(ctx, s.now().Add(-s.config.TTL))
	s.metrics.Swept(n)
	if err != nil {
		s.logger.Warn("artifact sweep failed", zap.Int("removed", n), zap.Error(err))
		return n
	}
	if n > 0 {
		s.logger.Info("swept stale artifacts", zap.Int("removed", n))
	}
	return n
}
