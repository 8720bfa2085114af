package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Dm1try555/banister-backend-sub000/internal/config"
)

// Scheduler runs maintenance jobs (stale sweep, retention) on cron
// schedules. A job that is still running when its next tick fires is skipped.
type Scheduler struct {
	cron    *cron.Cron
	log     *slog.Logger
	running sync.Map // job name -> struct{}

	ctx context.Context
}

// NewScheduler creates a Scheduler evaluating schedules in loc.
func NewScheduler(log *slog.Logger, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(config.CronParser),
			cron.WithLocation(loc),
		),
		log: log,
	}
}

// Add registers job under name. An empty spec disables the job.
func (s *Scheduler) Add(name, spec string, job func(context.Context) error) error {
	if spec == "" {
		s.log.Info("scheduled job disabled", "job", name)
		return nil
	}
	schedule, err := config.CronParser.Parse(spec)
	if err != nil {
		return fmt.Errorf("job %s: parse schedule %q: %w", name, spec, err)
	}
	s.cron.Schedule(schedule, cron.FuncJob(func() { s.fire(name, job) }))
	s.log.Info("scheduled job registered", "job", name, "schedule", spec)
	return nil
}

// Run starts the schedule and blocks until ctx is done, then waits for
// running jobs to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

func (s *Scheduler) fire(name string, job func(context.Context) error) {
	if _, busy := s.running.LoadOrStore(name, struct{}{}); busy {
		s.log.Info("skipping job run; previous run still active", "job", name)
		return
	}
	defer s.running.Delete(name)

	ctx := s.ctxOrBackground()
	start := time.Now()
	if err := job(ctx); err != nil {
		s.log.Error("scheduled job failed", "job", name, "error", err)
		return
	}
	s.log.Debug("scheduled job finished", "job", name, "duration", time.Since(start))
}

func (s *Scheduler) ctxOrBackground() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}
