package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errPermanent = errors.New("permanent")

func TestPoolRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	p, err := New(Config{Workers: 2, QueueSize: 4, MaxRetries: 3, RetryDelay: time.Millisecond}, func(ctx context.Context, task *Task) error {
		if calls.Add(1) < 3 {
			return errors.New("gateway timeout")
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	p.Start()
	defer p.Stop()

	done := make(chan *Result, 1)
	if err := p.Submit(context.Background(), &Task{ID: "t-1", Done: func(r *Result) { done <- r }}); err != nil {
		t.Fatal(err)
	}

	select {
	case r := <-done:
		if !r.Success || r.Attempts != 3 {
			t.Errorf("result = %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task never finished")
	}
	if got := p.Stats().TasksRetried; got != 2 {
		t.Errorf("retried = %d", got)
	}
}

func TestPoolSkipsRetryForPermanentErrors(t *testing.T) {
	var calls atomic.Int32
	p, _ := New(Config{
		Workers:    1,
		MaxRetries: 5,
		RetryDelay: time.Millisecond,
		Retryable:  func(err error) bool { return !errors.Is(err, errPermanent) },
	}, func(ctx context.Context, task *Task) error {
		calls.Add(1)
		return errPermanent
	}, nil)
	p.Start()

	done := make(chan *Result, 1)
	p.Submit(context.Background(), &Task{ID: "t-1", Done: func(r *Result) { done <- r }})
	r := <-done
	p.Stop()

	if r.Success || !errors.Is(r.Error, errPermanent) || r.Attempts != 1 {
		t.Errorf("result = %+v", r)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d", calls.Load())
	}
	if p.Stats().TasksFailed != 1 {
		t.Errorf("stats = %+v", p.Stats())
	}
}

func TestPoolStopDrainsQueue(t *testing.T) {
	var handled atomic.Int32
	p, _ := New(Config{Workers: 3, QueueSize: 50}, func(ctx context.Context, task *Task) error {
		handled.Add(1)
		return nil
	}, nil)
	p.Start()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		if err := p.Submit(context.Background(), &Task{Done: func(*Result) { wg.Done() }}); err != nil {
			t.Fatal(err)
		}
	}
	p.Stop()
	wg.Wait()

	if handled.Load() != 40 {
		t.Errorf("handled = %d", handled.Load())
	}
	if err := p.Submit(context.Background(), &Task{}); !errors.Is(err, ErrStopped) {
		t.Errorf("submit after stop = %v", err)
	}
}

func TestPoolSubmitHonoursContext(t *testing.T) {
	block := make(chan struct{})
	running := make(chan struct{}, 1)
	p, _ := New(Config{Workers: 1, QueueSize: 1}, func(ctx context.Context, task *Task) error {
		running <- struct{}{}
		<-block
		return nil
	}, nil)
	p.Start()
	defer func() {
		close(block)
		p.Stop()
	}()

	// one task running, one queued
	p.Submit(context.Background(), &Task{})
	<-running
	p.Submit(context.Background(), &Task{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Submit(ctx, &Task{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("submit on full queue = %v", err)
	}
}

func TestNewRequiresWorkerFunc(t *testing.T) {
	if _, err := New(DefaultConfig(), nil, nil); err == nil {
		t.Error("expected error")
	}
}

func TestPoolHealthTracksQueueHeadroom(t *testing.T) {
	block := make(chan struct{})
	running := make(chan struct{}, 3)
	p, _ := New(Config{Workers: 1, QueueSize: 2}, func(ctx context.Context, task *Task) error {
		running <- struct{}{}
		<-block
		return nil
	}, nil)
	p.Start()
	defer func() {
		close(block)
		p.Stop()
	}()

	if !p.IsHealthy() {
		t.Error("idle pool reported unhealthy")
	}

	p.Submit(context.Background(), &Task{})
	<-running
	p.Submit(context.Background(), &Task{})
	if !p.IsHealthy() {
		t.Errorf("half-full queue reported unhealthy: %+v", p.Stats())
	}

	p.Submit(context.Background(), &Task{})
	if p.IsHealthy() {
		t.Errorf("full queue reported healthy: %+v", p.Stats())
	}
}
