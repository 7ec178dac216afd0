package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"strategyexecutor/internal/model"
)

// ExecutionRunRepository satisfies internal/orchestrator's RunStore.
// Create persists the row entering Planning; Update is called once,
// for the terminal write. A terminal run
// (succeeded/failed/rolled_back) stays immutable, enforced by
// convention (the orchestrator never calls Update again after a
// terminal write), not by a database trigger.
type ExecutionRunRepository struct {
	db  *gorm.DB
	log *logger.Entry
}

func NewExecutionRunRepository(db *gorm.DB, log *logger.Entry) *ExecutionRunRepository {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	return &ExecutionRunRepository{db: db, log: log.WithField("component", "repository.ExecutionRunRepository")}
}

func (r *ExecutionRunRepository) WithDB(db *gorm.DB) *ExecutionRunRepository {
	return &ExecutionRunRepository{db: db, log: r.log}
}

func (r *ExecutionRunRepository) Create(ctx context.Context, run *model.ExecutionRun) error {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		r.log.WithError(err).Error("create execution run failed")
		return fmt.Errorf("repository: create execution run: %w", err)
	}
	return nil
}

func (r *ExecutionRunRepository) Update(ctx context.Context, run *model.ExecutionRun) error {
	if err := r.db.WithContext(ctx).Save(run).Error; err != nil {
		r.log.WithError(err).Error("update execution run failed")
		return fmt.Errorf("repository: update execution run: %w", err)
	}
	return nil
}

func (r *ExecutionRunRepository) Get(ctx context.Context, runID model.ID) (*model.ExecutionRun, error) {
	var run model.ExecutionRun
	err := r.db.WithContext(ctx).First(&run, "id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get execution run: %w", err)
	}
	return &run, nil
}

func (r *ExecutionRunRepository) ListByGroup(ctx context.Context, groupID model.ID) ([]model.ExecutionRun, error) {
	var runs []model.ExecutionRun
	err := r.db.WithContext(ctx).Where("group_id = ?", groupID).Order("requested_at DESC").Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("repository: list runs by group: %w", err)
	}
	return runs, nil
}

func (r *ExecutionRunRepository) ListByStrategyRun(ctx context.Context, strategyRunID model.ID) ([]model.ExecutionRun, error) {
	var runs []model.ExecutionRun
	err := r.db.WithContext(ctx).Where("strategy_run_id = ?", strategyRunID).Order("requested_at ASC").Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("repository: list runs by strategy run: %w", err)
	}
	return runs, nil
}

// ListSince supports the Analytics Aggregator's windowed scans.
func (r *ExecutionRunRepository) ListSince(ctx context.Context, userID model.ID, since time.Time) ([]model.ExecutionRun, error) {
	var runs []model.ExecutionRun
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND requested_at >= ?", userID, since).
		Order("requested_at ASC").
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("repository: list runs since: %w", err)
	}
	return runs, nil
}
