package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"strategyexecutor/internal/model"
)

type fakeJobStore struct {
	jobs  []model.ScheduledJob
	fired map[model.ID]time.Time
}

func (f *fakeJobStore) Enabled(_ context.Context) ([]model.ScheduledJob, error) {
	return f.jobs, nil
}

func (f *fakeJobStore) MarkFired(_ context.Context, jobID model.ID, firedAt time.Time) error {
	if f.fired == nil {
		f.fired = map[model.ID]time.Time{}
	}
	f.fired[jobID] = firedAt
	for i := range f.jobs {
		if f.jobs[i].ID == jobID {
			f.jobs[i].LastFiredAt = &firedAt
		}
	}
	return nil
}

type fakeTrigger struct {
	calls []model.ID
	err   error
}

func (f *fakeTrigger) TriggerStrategyRun(_ context.Context, strategyID, _ model.ID, _ map[string]any) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, strategyID)
	return nil
}

func TestTick_FiresDueJobOnce(t *testing.T) {
	strategyID := model.NewID()
	job := model.ScheduledJob{ID: model.NewID(), StrategyID: strategyID, CronExpr: "* * * * *", Enabled: true}
	jobs := &fakeJobStore{jobs: []model.ScheduledJob{job}}
	trigger := &fakeTrigger{}
	s := New(jobs, trigger, nil)

	now := time.Date(2026, 8, 3, 10, 30, 0, 0, time.UTC)
	require.NoError(t, s.Tick(context.Background(), now))
	require.Len(t, trigger.calls, 1)
	require.Equal(t, strategyID, trigger.calls[0])

	// Re-ticking the same minute must not refire it.
	require.NoError(t, s.Tick(context.Background(), now.Add(30*time.Second)))
	require.Len(t, trigger.calls, 1)
}

func TestTick_SkipsNonMatchingJobs(t *testing.T) {
	nonMatching := model.ScheduledJob{ID: model.NewID(), StrategyID: model.NewID(), CronExpr: "0 0 * * *", Enabled: true}
	jobs := &fakeJobStore{jobs: []model.ScheduledJob{nonMatching}}
	trigger := &fakeTrigger{}
	s := New(jobs, trigger, nil)

	now := time.Date(2026, 8, 3, 10, 30, 0, 0, time.UTC)
	require.NoError(t, s.Tick(context.Background(), now))
	require.Empty(t, trigger.calls)
}

func TestTick_SkipsJobsWithInvalidCron(t *testing.T) {
	job := model.ScheduledJob{ID: model.NewID(), StrategyID: model.NewID(), CronExpr: "not a cron", Enabled: true}
	jobs := &fakeJobStore{jobs: []model.ScheduledJob{job}}
	trigger := &fakeTrigger{}
	s := New(jobs, trigger, nil)

	require.NoError(t, s.Tick(context.Background(), time.Now()))
	require.Empty(t, trigger.calls)
}

func TestTick_FiresAgainOnNextScheduledMinute(t *testing.T) {
	strategyID := model.NewID()
	job := model.ScheduledJob{ID: model.NewID(), StrategyID: strategyID, CronExpr: "* * * * *", Enabled: true}
	jobs := &fakeJobStore{jobs: []model.ScheduledJob{job}}
	trigger := &fakeTrigger{}
	s := New(jobs, trigger, nil)

	first := time.Date(2026, 8, 3, 10, 30, 0, 0, time.UTC)
	require.NoError(t, s.Tick(context.Background(), first))
	require.NoError(t, s.Tick(context.Background(), first.Add(time.Minute)))
	require.Len(t, trigger.calls, 2)
}
