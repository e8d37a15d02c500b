package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/medicare-plus/frontdesk/internal/infrastructure/redpanda"
	"github.com/medicare-plus/frontdesk/pkg/circuitbreaker"
	"github.com/medicare-plus/frontdesk/pkg/idempotency"
	"github.com/medicare-plus/frontdesk/pkg/workerpool"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeConsumer struct {
	fakePinger
	healthy bool
}

func (f fakeConsumer) Healthy() bool { return f.healthy }
func (f fakeConsumer) Stats() redpanda.ConsumerStats {
	return redpanda.ConsumerStats{MessagesRead: 3, Pool: workerpool.Stats{QueueDepth: 1, QueueCapacity: 10}}
}

func newReadiness(store error, consumer fakeConsumer) *readiness {
	return &readiness{
		store:    fakePinger{err: store},
		consumer: consumer,
		group:    "delivery",
		lag: func(context.Context, string) (map[string]int64, error) {
			return map[string]int64{redpanda.TopicPrescriptionEvents: 4}, nil
		},
		inbox: func(context.Context) (*idempotency.InboxStats, error) {
			return &idempotency.InboxStats{TotalEntries: 2, Finished: 2}, nil
		},
		breakers: func() []circuitbreaker.HealthStatus { return nil },
		logger:   zap.NewNop(),
	}
}

func serveReady(t *testing.T, rd *readiness) (int, readyReport) {
	t.Helper()
	rec := httptest.NewRecorder()
	rd.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	var rep readyReport
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatal(err)
	}
	return rec.Code, rep
}

func TestReadyReportsLagAndInbox(t *testing.T) {
	rd := newReadiness(nil, fakeConsumer{healthy: true})
	code, rep := serveReady(t, rd)
	if code != http.StatusOK || !rep.Ready {
		t.Fatalf("code = %d report = %+v", code, rep)
	}
	if rep.Lag[redpanda.TopicPrescriptionEvents] != 4 {
		t.Errorf("lag = %v", rep.Lag)
	}
	if rep.Inbox == nil || rep.Inbox.Finished != 2 {
		t.Errorf("inbox = %+v", rep.Inbox)
	}
	if rep.Consumer.MessagesRead != 3 {
		t.Errorf("consumer = %+v", rep.Consumer)
	}
}

func TestReadyFailsOnSaturatedQueueOrDeadStore(t *testing.T) {
	code, rep := serveReady(t, newReadiness(nil, fakeConsumer{healthy: false}))
	if code != http.StatusServiceUnavailable || rep.Checks["queue"] != "saturated" {
		t.Errorf("saturated: code = %d checks = %v", code, rep.Checks)
	}

	code, rep = serveReady(t, newReadiness(errors.New("connection refused"), fakeConsumer{healthy: true}))
	if code != http.StatusServiceUnavailable || rep.Checks["store"] != "connection refused" {
		t.Errorf("store down: code = %d checks = %v", code, rep.Checks)
	}
}

func TestReadyIgnoresLagErrors(t *testing.T) {
	rd := newReadiness(nil, fakeConsumer{healthy: true})
	rd.lag = func(context.Context, string) (map[string]int64, error) {
		return nil, errors.New("coordinator not available")
	}
	code, rep := serveReady(t, rd)
	if code != http.StatusOK || rep.Lag != nil {
		t.Errorf("code = %d lag = %v", code, rep.Lag)
	}
}
