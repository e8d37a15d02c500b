package autosend

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/medicare-plus/frontdesk/internal/apperr"
	"github.com/medicare-plus/frontdesk/internal/delivery/sms"
	"github.com/medicare-plus/frontdesk/internal/domain/prescription"
	"github.com/medicare-plus/frontdesk/internal/infrastructure/redpanda"
	"github.com/medicare-plus/frontdesk/pkg/idempotency"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	errFn func(id string) error
}

func (f *fakeSender) Send(_ context.Context, id string) (*sms.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errFn != nil {
		if err := f.errFn(id); err != nil {
			return nil, err
		}
	}
	f.sent = append(f.sent, id)
	return &sms.Receipt{DeliveryID: "SM" + id, Phone: "+919876543210"}, nil
}

// memInbox mirrors the status rules of the Postgres inbox
type memInbox struct {
	mu      sync.Mutex
	entries map[string]idempotency.Status
}

func newMemInbox() *memInbox {
	return &memInbox{entries: map[string]idempotency.Status{}}
}

func (m *memInbox) Process(ctx context.Context, key, _ string, payload json.RawMessage, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error) {
	m.mu.Lock()
	prev, seen := m.entries[key]
	switch prev {
	case idempotency.StatusFinished:
		m.mu.Unlock()
		return &idempotency.ProcessResult{}, nil
	case idempotency.StatusFailed:
		m.mu.Unlock()
		return nil, idempotency.ErrPreviouslyFailed
	}
	m.entries[key] = idempotency.StatusStarted
	m.mu.Unlock()

	result, err := fn(ctx, payload)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.entries[key] = idempotency.StatusRecoverable
		if apperr.Terminal(err) {
			m.entries[key] = idempotency.StatusFailed
		}
		return nil, err
	}
	m.entries[key] = idempotency.StatusFinished
	return &idempotency.ProcessResult{IsNew: !seen, WasRecovered: seen, Result: result}, nil
}

func createdMessage(t *testing.T, id string, deliver bool) *redpanda.ConsumedMessage {
	t.Helper()
	ev, err := prescription.NewEvent(id, prescription.EventPrescriptionCreated, &prescription.PrescriptionCreatedData{
		PrescriptionID: id,
		DeliverBySms:   deliver,
	})
	if err != nil {
		t.Fatal(err)
	}
	value, _ := json.Marshal(ev)
	return &redpanda.ConsumedMessage{Topic: redpanda.TopicPrescriptionEvents, Key: []byte(id), Value: value}
}

func TestHandleSendsOncePerPrescription(t *testing.T) {
	sender := &fakeSender{}
	h := NewHandler(sender, newMemInbox(), nil, nil)
	ctx := context.Background()

	if err := h.Handle(ctx, createdMessage(t, "rx-1", true)); err != nil {
		t.Fatal(err)
	}
	// a replayed event with a new event id is still the same delivery
	if err := h.Handle(ctx, createdMessage(t, "rx-1", true)); err != nil {
		t.Fatal(err)
	}
	if len(sender.sent) != 1 || sender.sent[0] != "rx-1" {
		t.Errorf("sent = %v", sender.sent)
	}
}

func TestHandleSkipsUnflaggedAndOtherEvents(t *testing.T) {
	sender := &fakeSender{}
	h := NewHandler(sender, newMemInbox(), nil, nil)
	ctx := context.Background()

	if err := h.Handle(ctx, createdMessage(t, "rx-1", false)); err != nil {
		t.Fatal(err)
	}

	ev, _ := prescription.NewEvent("rx-2", prescription.EventSmsDispatched, &prescription.SmsDispatchedData{PrescriptionID: "rx-2"})
	value, _ := json.Marshal(ev)
	if err := h.Handle(ctx, &redpanda.ConsumedMessage{Value: value}); err != nil {
		t.Fatal(err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("sent = %v", sender.sent)
	}
}

func TestHandleRetriesUpstreamFailures(t *testing.T) {
	calls := 0
	sender := &fakeSender{errFn: func(string) error {
		calls++
		if calls == 1 {
			return apperr.Upstream("prescription delivery failed", errors.New("503"))
		}
		return nil
	}}
	h := NewHandler(sender, newMemInbox(), nil, nil)
	ctx := context.Background()
	msg := createdMessage(t, "rx-1", true)

	err := h.Handle(ctx, msg)
	if err == nil || !Retryable(err) {
		t.Fatalf("first attempt err = %v, want retryable", err)
	}
	if err := h.Handle(ctx, msg); err != nil {
		t.Fatalf("retry err = %v", err)
	}
	if len(sender.sent) != 1 {
		t.Errorf("sent = %v", sender.sent)
	}
}

func TestHandleTerminalFailureIsNotRetried(t *testing.T) {
	sender := &fakeSender{errFn: func(id string) error {
		return apperr.Validation("patient %s has no phone number", "p-1")
	}}
	h := NewHandler(sender, newMemInbox(), nil, nil)
	ctx := context.Background()
	msg := createdMessage(t, "rx-1", true)

	err := h.Handle(ctx, msg)
	if err == nil || Retryable(err) {
		t.Fatalf("err = %v, want terminal", err)
	}
	// the inbox remembers the failure, so a redelivery is dropped quietly
	if err := h.Handle(ctx, msg); err != nil {
		t.Errorf("redelivery err = %v", err)
	}
}

func TestHandleRejectsGarbage(t *testing.T) {
	h := NewHandler(&fakeSender{}, newMemInbox(), nil, nil)
	err := h.Handle(context.Background(), &redpanda.ConsumedMessage{Value: []byte("not json")})
	if !errors.Is(err, apperr.ErrValidation) || Retryable(err) {
		t.Errorf("err = %v", err)
	}
}
