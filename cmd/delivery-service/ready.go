package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/medicare-plus/frontdesk/internal/infrastructure/redpanda"
	"github.com/medicare-plus/frontdesk/pkg/circuitbreaker"
	"github.com/medicare-plus/frontdesk/pkg/idempotency"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type consumerStatus interface {
	pinger
	Healthy() bool
	Stats() redpanda.ConsumerStats
}

// readiness gates traffic on the store, the broker connection and worker
// queue headroom. Group lag and inbox counts are reported but never fail it.
type readiness struct {
	store    pinger
	consumer consumerStatus
	group    string
	lag      func(ctx context.Context, group string) (map[string]int64, error)
	inbox    func(ctx context.Context) (*idempotency.InboxStats, error)
	breakers func() []circuitbreaker.HealthStatus
	logger   *zap.Logger
}

type readyReport struct {
	Ready    bool                          `json:"ready"`
	Checks   map[string]string             `json:"checks"`
	Consumer redpanda.ConsumerStats        `json:"consumer"`
	Lag      map[string]int64              `json:"lag,omitempty"`
	Inbox    *idempotency.InboxStats       `json:"inbox,omitempty"`
	Breakers []circuitbreaker.HealthStatus `json:"breakers"`
}

func (rd *readiness) report(ctx context.Context) readyReport {
	rep := readyReport{Ready: true, Checks: map[string]string{}}
	check := func(name string, err error) {
		if err != nil {
			rep.Ready = false
			rep.Checks[name] = err.Error()
			return
		}
		rep.Checks[name] = "ok"
	}

	check("store", rd.store.Ping(ctx))
	check("broker", rd.consumer.Ping(ctx))
	if rd.consumer.Healthy() {
		rep.Checks["queue"] = "ok"
	} else {
		rep.Ready = false
		rep.Checks["queue"] = "saturated"
	}
	rep.Consumer = rd.consumer.Stats()

	if lag, err := rd.lag(ctx, rd.group); err != nil {
		rd.logger.Warn("consumer lag unavailable", zap.Error(err))
	} else {
		rep.Lag = lag
	}
	if stats, err := rd.inbox(ctx); err != nil {
		rd.logger.Warn("inbox stats unavailable", zap.Error(err))
	} else {
		rep.Inbox = stats
	}
	rep.Breakers = rd.breakers()
	return rep
}

func (rd *readiness) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	rep := rd.report(ctx)
	status := http.StatusOK
	if !rep.Ready {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(rep)
}
