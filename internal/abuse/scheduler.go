package abuse

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mailplane/mailplane/internal/metrics"
)

// RunFunc is one worker pass.
type RunFunc func(ctx context.Context) error

// Scheduler drives the worker on a fixed interval, runs once immediately at
// start, and accepts on-demand triggers. A tick that finds the previous run
// still executing is skipped entirely, not queued: skipping loses nothing
// because the next tick re-reads the same log tail and dedup absorbs
// repeats.
type Scheduler struct {
	run      RunFunc
	interval time.Duration
	inFlight atomic.Bool
	trigger  chan struct{}
	log      *zap.Logger
}

func NewScheduler(run RunFunc, interval time.Duration, log *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		run:      run,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		log:      log,
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("abuse worker started", zap.Duration("interval", s.interval))

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("abuse worker stopped")
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		case <-s.trigger:
			s.runOnce(ctx)
		}
	}
}

// TriggerNow requests an immediate pass. Returns false when a trigger is
// already pending.
func (s *Scheduler) TriggerNow() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		metrics.WorkerRunsTotal.WithLabelValues("skipped").Inc()
		s.log.Debug("previous run still executing, tick skipped")
		return
	}
	defer s.inFlight.Store(false)

	if err := s.run(ctx); err != nil {
		metrics.WorkerRunsTotal.WithLabelValues("error").Inc()
		s.log.Error("worker run failed", zap.Error(err))
		return
	}
	metrics.WorkerRunsTotal.WithLabelValues("ok").Inc()
}
