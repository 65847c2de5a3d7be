package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"volume-recon-go/ratecheck"
	"volume-recon-go/record"
	"volume-recon-go/source"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Scheduler triggers one run per UTC day at a fixed wall time, covering
// the previous day. Sources and prior closes are resolved per window so
// the scheduler stays independent of where batches come from.
type Scheduler struct {
	Runner *Runner
	RunAt  time.Duration // offset from UTC midnight

	// SourceFor returns the batch source for a window.
	SourceFor func(record.Window) (source.BatchSource, error)
	// PriorFor returns the prior day's closing rates for a window.
	PriorFor func(record.Window) ratecheck.PriorCloses
	// OnReport, when set, receives every completed run's report.
	OnReport func(RunReport)

	log   *zap.Logger
	clock Clock
}

func NewScheduler(r *Runner, runAt time.Duration, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{Runner: r, RunAt: runAt, log: log, clock: realClock{}}
}

// WithClock overrides the clock; used by tests.
func (s *Scheduler) WithClock(c Clock) *Scheduler {
	s.clock = c
	return s
}

// NextRun returns the first scheduled instant strictly after now.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	day := record.Day(now)
	at := day.Start.Add(s.RunAt)
	if !at.After(now) {
		at = at.Add(24 * time.Hour)
	}
	return at
}

// Run blocks until ctx is cancelled, firing one window run per day.
// Run errors are logged, never fatal; the next day's run still fires.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		now := s.clock.Now()
		at := s.NextRun(now)
		timer := time.NewTimer(at.Sub(now))
		s.log.Info("next run scheduled", zap.Time("at", at))

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		w := previousDay(at)
		if err := s.runOnce(ctx, w); err != nil {
			s.log.Error("scheduled run failed",
				zap.String("window", w.String()), zap.Error(err))
		}
	}
}

// RunNow runs the previous UTC day immediately.
func (s *Scheduler) RunNow(ctx context.Context) error {
	return s.runOnce(ctx, previousDay(s.clock.Now()))
}

func (s *Scheduler) runOnce(ctx context.Context, w record.Window) error {
	src, err := s.SourceFor(w)
	if err != nil {
		return err
	}
	var prior ratecheck.PriorCloses
	if s.PriorFor != nil {
		prior = s.PriorFor(w)
	}
	rep, err := s.Runner.RunWindow(ctx, w, src, prior)
	if s.OnReport != nil {
		s.OnReport(rep)
	}
	return err
}

func previousDay(t time.Time) record.Window {
	return record.Day(t.UTC().Add(-24 * time.Hour))
}
