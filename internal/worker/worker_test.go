package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerRestartsAfterError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	s := NewSupervisor(Policy{RestartDelay: time.Millisecond}, nil)
	s.Go(ctx, "flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("boom")
		}
		<-ctx.Done()
		return nil
	})

	deadline := time.After(2 * time.Second)
	for runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("worker ran %d times, want 3", runs.Load())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	s.Wait()
}

func TestWorkerRestartsAfterPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	s := NewSupervisor(Policy{RestartDelay: time.Millisecond}, nil)
	s.Go(ctx, "panicky", func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			panic("kaboom")
		}
		<-ctx.Done()
		return nil
	})

	deadline := time.After(2 * time.Second)
	for runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("worker did not restart after panic, runs=%d", runs.Load())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	s.Wait()
}

func TestWorkerCleanReturnStops(t *testing.T) {
	ctx := context.Background()

	var runs atomic.Int32
	s := NewSupervisor(Policy{RestartDelay: time.Millisecond}, nil)
	s.Go(ctx, "oneshot", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	s.Wait()

	if got := runs.Load(); got != 1 {
		t.Errorf("clean-returning worker ran %d times, want 1", got)
	}
}

func TestEscalationFiresOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var escalations atomic.Int32
	var runs atomic.Int32
	s := NewSupervisor(Policy{
		RestartDelay:   time.Millisecond,
		MaxConsecutive: 3,
		OnEscalate: func(name string, crashes int) {
			if name != "broken" {
				t.Errorf("escalated worker = %q, want broken", name)
			}
			escalations.Add(1)
		},
	}, nil)
	s.Go(ctx, "broken", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("permanently broken")
	})

	deadline := time.After(2 * time.Second)
	for runs.Load() < 6 {
		select {
		case <-deadline:
			t.Fatalf("worker ran %d times, want at least 6", runs.Load())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	s.Wait()

	if got := escalations.Load(); got != 1 {
		t.Errorf("escalations = %d, want exactly 1", got)
	}
	// Escalation does not stop the worker.
	if runs.Load() < 6 {
		t.Errorf("worker stopped restarting after escalation")
	}
}

func TestEveryRunsBodyImmediatelyThenOnTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	loop := Every(5*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	done := make(chan struct{})
	go func() {
		loop(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("tick body ran %d times, want 3", runs.Load())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestEveryPropagatesBodyError(t *testing.T) {
	wantErr := errors.New("tick failed")
	loop := Every(time.Millisecond, func(ctx context.Context) error {
		return wantErr
	})
	if err := loop(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("loop error = %v, want %v", err, wantErr)
	}
}
