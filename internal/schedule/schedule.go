// Package schedule runs unattended auto-updates on a cron schedule.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loykin/measures/internal/update"
)

// Runner performs one update; *update.Updater satisfies it.
type Runner interface {
	Update(ctx context.Context, opts update.Options) (*update.Result, error)
}

// Run is the outcome of one scheduled update.
type Run struct {
	At     time.Time      `json:"at"`
	Result *update.Result `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Scheduler triggers auto-updates of one directory. Overlapping runs are skipped.
type Scheduler struct {
	mu        sync.Mutex
	spec      string
	runner    Runner
	scheduler *cron.Cron
	job       cron.Job
	entryID   cron.EntryID
	started   bool
	last      *Run
	pending   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New validates spec (standard cron syntax or descriptors like @daily).
func New(spec string, r Runner) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		spec:      spec,
		runner:    r,
		scheduler: cron.New(),
		ctx:       ctx,
		cancel:    cancel,
	}
	// Cron ticks and the startup run share one skip-if-running guard.
	s.job = cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).
		Then(cron.FuncJob(func() { s.RunOnce(s.ctx) }))
	return s, nil
}

// Start schedules the update. With runNow an update also runs immediately
// in the background.
func (s *Scheduler) Start(runNow bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("schedule already started")
	}
	id, err := s.scheduler.AddJob(s.spec, s.job)
	if err != nil {
		return fmt.Errorf("failed to schedule auto update: %w", err)
	}
	s.entryID = id
	s.started = true
	s.scheduler.Start()
	if runNow {
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			s.job.Run()
		}()
	}
	slog.Info("Auto update scheduled", "schedule", s.spec, "next", s.scheduler.Entry(id).Next)
	return nil
}

// Stop cancels a running update and waits for it, the startup run
// included, to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.cancel()
	<-s.scheduler.Stop().Done()
	s.pending.Wait()
	slog.Info("Auto update schedule stopped")
}

// RunOnce performs a single auto-update and records its outcome.
func (s *Scheduler) RunOnce(ctx context.Context) Run {
	run := Run{At: time.Now()}
	res, err := s.runner.Update(ctx, update.Options{AutoUpdate: true})
	run.Result = res
	if err != nil {
		run.Error = err.Error()
		slog.Warn("Scheduled measures update failed", "error", err)
	} else {
		slog.Debug("Scheduled measures update finished", "action", res.Action, "version", res.Version)
	}
	s.mu.Lock()
	s.last = &run
	s.mu.Unlock()
	return run
}

// Last returns the most recent run, or nil before the first one.
func (s *Scheduler) Last() *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	r := *s.last
	return &r
}

// Next returns the next scheduled time, zero when not started.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return time.Time{}
	}
	return s.scheduler.Entry(s.entryID).Next
}
