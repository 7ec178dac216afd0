// Package scheduler fires StrategyRuns on a cron schedule and ingests
// inbound webhook events onto the same dispatch path.
package scheduler

import (
	"context"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"strategyexecutor/internal/model"
)

// JobStore is the persistence seam scheduler needs from
// internal/repository.SchedulerRepository.
type JobStore interface {
	Enabled(ctx context.Context) ([]model.ScheduledJob, error)
	MarkFired(ctx context.Context, jobID model.ID, firedAt time.Time) error
}

// RunTrigger dispatches a fired job or webhook delivery onto a
// StrategyRun. It is intentionally decoupled from internal/strategyrunner's
// Configuration type, so the trigger adapter (strategyrunner.Trigger)
// alone owns translating a context blob into a runner.Configuration.
type RunTrigger interface {
	TriggerStrategyRun(ctx context.Context, strategyID, strategyRunID model.ID, contextData map[string]any) error
}

// Scheduler polls JobStore on a fixed tick and fires due jobs at most once
// per scheduled minute.
type Scheduler struct {
	jobs    JobStore
	trigger RunTrigger
	cache   map[model.ID]*cronExpr
	log     *logger.Entry
}

func New(jobs JobStore, trigger RunTrigger, log *logger.Entry) *Scheduler {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	return &Scheduler{
		jobs:    jobs,
		trigger: trigger,
		cache:   make(map[model.ID]*cronExpr),
		log:     log.WithField("component", "scheduler.Scheduler"),
	}
}

// Run ticks every period until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := s.Tick(ctx, now); err != nil {
				s.log.WithError(err).Error("scheduler tick failed")
			}
		}
	}
}

// Tick evaluates every enabled job against `now` and fires the ones
// whose cron expression matches a minute not already marked fired:
// at most one fire per scheduled instant, and missed instants during
// downtime are never retroactively replayed.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	jobs, err := s.jobs.Enabled(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: list enabled jobs: %w", err)
	}

	minute := now.Truncate(time.Minute)
	for i := range jobs {
		job := &jobs[i]
		expr, err := s.expr(job)
		if err != nil {
			s.log.WithError(err).WithField("job_id", job.ID).Warn("skipping job with invalid cron expression")
			continue
		}
		if !expr.matches(minute) {
			continue
		}
		if job.LastFiredAt != nil && !job.LastFiredAt.Before(minute) {
			continue
		}
		s.fire(ctx, job, minute)
	}
	return nil
}

func (s *Scheduler) expr(job *model.ScheduledJob) (*cronExpr, error) {
	if cached, ok := s.cache[job.ID]; ok {
		return cached, nil
	}
	expr, err := parseCron(job.CronExpr)
	if err != nil {
		return nil, err
	}
	s.cache[job.ID] = expr
	return expr, nil
}

func (s *Scheduler) fire(ctx context.Context, job *model.ScheduledJob, at time.Time) {
	runLog := s.log.WithFields(logger.Fields{"job_id": job.ID, "strategy_id": job.StrategyID, "fired_at": at})

	contextData, err := decodeContext(job.ContextJSON)
	if err != nil {
		runLog.WithError(err).Error("invalid job context, skipping fire")
		return
	}

	runID := model.NewID()
	if err := s.trigger.TriggerStrategyRun(ctx, job.StrategyID, runID, contextData); err != nil {
		runLog.WithError(err).Error("trigger strategy run failed")
		return
	}
	if err := s.jobs.MarkFired(ctx, job.ID, at); err != nil {
		runLog.WithError(err).Error("mark job fired failed")
	}
}
