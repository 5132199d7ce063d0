package eviction

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"bookdrop/internal/logging"
)

// Scheduler runs sweeps on a fixed interval until stopped.
type Scheduler struct {
	sweeper  *Sweeper
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
	onSweep  func(ctx context.Context, result SweepResult, at time.Time)

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	last    SweepResult
	lastAt  time.Time
	sweeps  int
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock overrides the time passed to each sweep.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSweepHook registers fn to run after every sweep on the loop goroutine.
func WithSweepHook(fn func(ctx context.Context, result SweepResult, at time.Time)) SchedulerOption {
	return func(s *Scheduler) {
		s.onSweep = fn
	}
}

// NewScheduler creates a Scheduler. A non-positive interval is rejected by Start.
func NewScheduler(sweeper *Sweeper, interval time.Duration, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Scheduler{
		sweeper:  sweeper,
		interval: interval,
		now:      time.Now,
		logger:   logging.NewComponentLogger(logger, "eviction"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the sweep loop. The first sweep runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("eviction scheduler already running")
	}
	if s.interval <= 0 {
		return errors.New("eviction sweep interval must be positive")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.wg.Add(1)
	go s.run(runCtx)

	s.logger.Info("eviction scheduler started",
		logging.Duration("interval", s.interval),
		logging.String(logging.FieldEventType, "eviction_scheduler_started"),
	)
	return nil
}

// Stop signals the loop and waits for an in-progress sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastSweep returns the most recent result, its time, and the total count.
func (s *Scheduler) LastSweep() (SweepResult, time.Time, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastAt, s.sweeps
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		// A sweep in progress is not preempted; its context is detached
		// from cancellation so every started file finishes.
		s.sweepOnce(context.WithoutCancel(ctx))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) sweepOnce(ctx context.Context) {
	at := s.now()
	result := s.sweeper.Sweep(ctx, at)
	s.mu.Lock()
	s.last = result
	s.lastAt = at
	s.sweeps++
	s.mu.Unlock()
	if s.onSweep != nil {
		s.onSweep(ctx, result, at)
	}
}
