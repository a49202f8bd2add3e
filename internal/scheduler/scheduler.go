// Package scheduler runs the ETL on a cron schedule, one run at a time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context)

// Scheduler fires a Job on a standard five-field cron spec. Scheduled and
// manually triggered runs share one lock, so two runs never overlap.
type Scheduler struct {
	cron   *cron.Cron
	job    Job
	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	stopped bool
	running sync.Mutex
	wg      sync.WaitGroup
}

// New parses spec and prepares a scheduler for job. Nothing runs until Start.
func New(spec string, job Job, logger *slog.Logger) (*Scheduler, error) {
	cl := cronLogger{logger: logger}
	s := &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		), cron.WithLogger(cl)),
		job:    job,
		logger: logger,
		ctx:    context.Background(),
	}
	if _, err := s.cron.AddFunc(spec, s.scheduled); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins firing the job and blocks until ctx is cancelled and any
// in-flight run has returned. With runNow set, the first run starts
// immediately instead of waiting for the first tick.
func (s *Scheduler) Start(ctx context.Context, runNow bool) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if runNow {
		s.Trigger()
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "next_run", s.cron.Entries()[0].Next)

	<-ctx.Done()
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Trigger starts an immediate run in the background. It returns false when
// a run is already in progress or the scheduler has stopped.
func (s *Scheduler) Trigger() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := s.ctx
	if s.stopped || ctx.Err() != nil {
		return false
	}
	if !s.running.TryLock() {
		return false
	}
	// Added under mu so Start cannot reach wg.Wait between the stop check
	// and the Add.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Unlock()
		s.job(ctx)
	}()
	return true
}

func (s *Scheduler) scheduled() {
	if !s.running.TryLock() {
		s.logger.Warn("previous run still in progress, skipping tick")
		return
	}
	defer s.running.Unlock()
	s.job(s.context())
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
