package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var transitions []State
	cfg := DefaultConfig("gateway")
	cfg.FailureThreshold = 2
	cfg.Timeout = time.Hour
	cfg.OnStateChange = func(_ string, to State) { transitions = append(transitions, to) }

	cb, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		if _, err := Call(context.Background(), cb, func(context.Context) (string, error) { return "", boom }); !errors.Is(err, boom) {
			t.Fatalf("call %d: err = %v", i, err)
		}
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %s, want open", cb.GetState())
	}

	called := false
	_, err = Call(context.Background(), cb, func(context.Context) (string, error) {
		called = true
		return "ok", nil
	})
	if !errors.Is(err, ErrOpen) || called {
		t.Errorf("open circuit: err = %v, called = %v", err, called)
	}
	if len(transitions) != 1 || transitions[0] != StateOpen {
		t.Errorf("transitions = %v", transitions)
	}
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	invalid := errors.New("invalid number")
	cfg := DefaultConfig("gateway")
	cfg.FailureThreshold = 1
	cfg.IsSuccessful = func(err error) bool { return err == nil || errors.Is(err, invalid) }

	cb, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		Call(context.Background(), cb, func(context.Context) (int, error) { return 0, invalid })
	}
	if cb.GetState() != StateClosed {
		t.Errorf("state = %s, want closed", cb.GetState())
	}

	got, err := Call(context.Background(), cb, func(context.Context) (int, error) { return 7, nil })
	if err != nil || got != 7 {
		t.Errorf("Call() = %d, %v", got, err)
	}
}

func TestManagerReportsHealth(t *testing.T) {
	m := NewManager(nil)
	a, err := m.GetOrCreate("sms", DefaultConfig(""))
	if err != nil {
		t.Fatal(err)
	}
	b, _ := m.GetOrCreate("sms", DefaultConfig(""))
	if a != b {
		t.Error("GetOrCreate returned a second breaker for the same name")
	}
	status := m.GetHealthStatus()
	if len(status) != 1 || status[0].Name != "sms" || !status[0].Healthy {
		t.Errorf("status = %+v", status)
	}
}
