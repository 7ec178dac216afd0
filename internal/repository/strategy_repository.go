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

// StrategyRepository handles Strategy and StrategyRun rows, plus the
// join table backing StrategyRun.ExecutionRunIDs.
type StrategyRepository struct {
	db  *gorm.DB
	log *logger.Entry
}

func NewStrategyRepository(db *gorm.DB, log *logger.Entry) *StrategyRepository {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	return &StrategyRepository{db: db, log: log.WithField("component", "repository.StrategyRepository")}
}

func (r *StrategyRepository) WithDB(db *gorm.DB) *StrategyRepository {
	return &StrategyRepository{db: db, log: r.log}
}

func (r *StrategyRepository) Create(ctx context.Context, strategy *model.Strategy) error {
	if err := r.db.WithContext(ctx).Create(strategy).Error; err != nil {
		return fmt.Errorf("repository: create strategy: %w", err)
	}
	return nil
}

func (r *StrategyRepository) Get(ctx context.Context, userID, strategyID model.ID) (*model.Strategy, error) {
	var s model.Strategy
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", strategyID, userID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get strategy: %w", err)
	}
	return &s, nil
}

// GetByID loads a Strategy without scoping to a user, for the
// scheduler's fire path where a job only carries a strategy_id.
func (r *StrategyRepository) GetByID(ctx context.Context, strategyID model.ID) (*model.Strategy, error) {
	var s model.Strategy
	err := r.db.WithContext(ctx).Where("id = ?", strategyID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get strategy by id: %w", err)
	}
	return &s, nil
}

func (r *StrategyRepository) ListByUser(ctx context.Context, userID model.ID) ([]model.Strategy, error) {
	var strategies []model.Strategy
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&strategies).Error; err != nil {
		return nil, fmt.Errorf("repository: list strategies: %w", err)
	}
	return strategies, nil
}

func (r *StrategyRepository) Update(ctx context.Context, strategy *model.Strategy) error {
	if err := r.db.WithContext(ctx).Save(strategy).Error; err != nil {
		return fmt.Errorf("repository: update strategy: %w", err)
	}
	return nil
}

// Stop is the persistence side of the error-budget rule: errors
// exceeding a configured count within a window stop the Strategy.
func (r *StrategyRepository) Stop(ctx context.Context, strategyID model.ID) error {
	err := r.db.WithContext(ctx).Model(&model.Strategy{}).Where("id = ?", strategyID).
		Update("status", model.StrategyStopped).Error
	if err != nil {
		return fmt.Errorf("repository: stop strategy: %w", err)
	}
	return nil
}

func (r *StrategyRepository) RecordError(ctx context.Context, strategyID model.ID, windowStart time.Time) (int, error) {
	var s model.Strategy
	if err := r.db.WithContext(ctx).First(&s, "id = ?", strategyID).Error; err != nil {
		return 0, fmt.Errorf("repository: load strategy for error record: %w", err)
	}
	if s.ErrorWindowAt == nil || s.ErrorWindowAt.Before(windowStart) {
		s.ErrorCount = 0
		now := windowStart
		s.ErrorWindowAt = &now
	}
	s.ErrorCount++
	if err := r.db.WithContext(ctx).Save(&s).Error; err != nil {
		return 0, fmt.Errorf("repository: save strategy error count: %w", err)
	}
	return s.ErrorCount, nil
}

func (r *StrategyRepository) CreateRun(ctx context.Context, run *model.StrategyRun) error {
	if err := r.db.WithContext(ctx).Omit("ExecutionRunIDs").Create(run).Error; err != nil {
		return fmt.Errorf("repository: create strategy run: %w", err)
	}
	return nil
}

func (r *StrategyRepository) UpdateRun(ctx context.Context, run *model.StrategyRun) error {
	if err := r.db.WithContext(ctx).Omit("ExecutionRunIDs").Save(run).Error; err != nil {
		return fmt.Errorf("repository: update strategy run: %w", err)
	}
	return nil
}

func (r *StrategyRepository) GetRun(ctx context.Context, runID model.ID) (*model.StrategyRun, error) {
	var run model.StrategyRun
	err := r.db.WithContext(ctx).First(&run, "id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get strategy run: %w", err)
	}
	run.ExecutionRunIDs, err = r.linkedExecutionRuns(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// LinkExecutionRun records that an ExecutionRun was created during a
// StrategyRun, keeping the run's execution_run_ids equal to the set of
// ExecutionRuns created while it was active.
func (r *StrategyRepository) LinkExecutionRun(ctx context.Context, strategyRunID, executionRunID model.ID) error {
	link := model.StrategyRunExecutionLink{StrategyRunID: strategyRunID, ExecutionRunID: executionRunID}
	if err := r.db.WithContext(ctx).Create(&link).Error; err != nil {
		return fmt.Errorf("repository: link execution run: %w", err)
	}
	return nil
}

func (r *StrategyRepository) linkedExecutionRuns(ctx context.Context, strategyRunID model.ID) ([]model.ID, error) {
	var links []model.StrategyRunExecutionLink
	err := r.db.WithContext(ctx).Where("strategy_run_id = ?", strategyRunID).Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("repository: list linked execution runs: %w", err)
	}
	ids := make([]model.ID, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.ExecutionRunID)
	}
	return ids, nil
}

// ListRunsByStrategy returns every StrategyRun recorded for a strategy,
// the per-strategy performance rollup internal/analytics sums over.
func (r *StrategyRepository) ListRunsByStrategy(ctx context.Context, strategyID model.ID) ([]model.StrategyRun, error) {
	var runs []model.StrategyRun
	if err := r.db.WithContext(ctx).Where("strategy_id = ?", strategyID).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("repository: list strategy runs: %w", err)
	}
	return runs, nil
}

func (r *StrategyRepository) MostRecentNonTerminalRun(ctx context.Context, strategyID model.ID) (*model.ExecutionRun, error) {
	var run model.ExecutionRun
	err := r.db.WithContext(ctx).
		Joins("JOIN strategy_run_execution_links ON strategy_run_execution_links.execution_run_id = execution_runs.id").
		Joins("JOIN strategy_runs ON strategy_runs.id = strategy_run_execution_links.strategy_run_id").
		Where("strategy_runs.strategy_id = ? AND execution_runs.status = ?", strategyID, model.RunPending).
		Order("execution_runs.requested_at DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: most recent non-terminal run: %w", err)
	}
	return &run, nil
}
