// Package worker runs long-lived background loops under crash
// containment. A worker that panics or returns an error is logged and
// restarted after a fixed delay, indefinitely; workers never take the
// process down with them.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Func is one worker's loop body. It should run until ctx is done and
// return nil; returning an error or panicking counts as a crash.
type Func func(ctx context.Context) error

// Policy controls restart behavior. The zero value restarts forever
// with DefaultRestartDelay and never escalates.
type Policy struct {
	// RestartDelay is the pause between a crash and the next start.
	RestartDelay time.Duration

	// MaxConsecutive, when positive, is the number of consecutive
	// crashes after which OnEscalate fires. The worker keeps
	// restarting either way; escalation is a notification, not a
	// terminal state.
	MaxConsecutive int

	// ResetAfter resets the consecutive-crash counter when a run
	// survives at least this long before crashing.
	ResetAfter time.Duration

	// OnEscalate is called at most once per escalation episode with
	// the worker name and crash count. May be nil.
	OnEscalate func(name string, crashes int)
}

// DefaultRestartDelay matches the sentinel workers' historical value.
const DefaultRestartDelay = 5 * time.Second

// Supervisor starts workers and waits for them at shutdown.
type Supervisor struct {
	policy Policy
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewSupervisor creates a supervisor applying policy to every worker.
func NewSupervisor(policy Policy, logger *slog.Logger) *Supervisor {
	if policy.RestartDelay <= 0 {
		policy.RestartDelay = DefaultRestartDelay
	}
	if policy.ResetAfter <= 0 {
		policy.ResetAfter = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{policy: policy, logger: logger}
}

// Go starts a named worker. It returns immediately; the worker runs
// until ctx is canceled.
func (s *Supervisor) Go(ctx context.Context, name string, run Func) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.supervise(ctx, name, run)
	}()
}

// Wait blocks until every started worker has exited.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func (s *Supervisor) supervise(ctx context.Context, name string, run Func) {
	logger := s.logger.With("worker", name)
	consecutive := 0
	escalated := false

	for {
		if ctx.Err() != nil {
			return
		}

		started := time.Now()
		err := s.runOnce(ctx, run)
		if err == nil || ctx.Err() != nil {
			logger.Debug("worker stopped")
			return
		}

		if time.Since(started) >= s.policy.ResetAfter {
			consecutive = 0
			escalated = false
		}
		consecutive++
		logger.Error("worker crashed, restarting",
			"error", err,
			"consecutive", consecutive,
			"restart_in", s.policy.RestartDelay)

		if s.policy.MaxConsecutive > 0 && consecutive >= s.policy.MaxConsecutive && !escalated {
			escalated = true
			if s.policy.OnEscalate != nil {
				s.policy.OnEscalate(name, consecutive)
			}
		}

		if !sleepCtx(ctx, s.policy.RestartDelay) {
			return
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context, run Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return run(ctx)
}

// Every wraps a tick body into a worker loop firing on a fixed
// interval. The body runs once immediately, then on each tick; a body
// error crashes the worker (and so restarts the whole loop).
func Every(interval time.Duration, body func(ctx context.Context) error) Func {
	return func(ctx context.Context) error {
		if err := body(ctx); err != nil {
			return err
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := body(ctx); err != nil {
					return err
				}
			}
		}
	}
}

// sleepCtx sleeps for d, returning false if ctx is done first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
