package repository

import (
	"context"
	"errors"
	"fmt"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"strategyexecutor/internal/model"
)

// ExecutionGroupRepository handles ExecutionGroup and its
// GroupAccountMapping children.
type ExecutionGroupRepository struct {
	db  *gorm.DB
	log *logger.Entry
}

func NewExecutionGroupRepository(db *gorm.DB, log *logger.Entry) *ExecutionGroupRepository {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	return &ExecutionGroupRepository{db: db, log: log.WithField("component", "repository.ExecutionGroupRepository")}
}

func (r *ExecutionGroupRepository) WithDB(db *gorm.DB) *ExecutionGroupRepository {
	return &ExecutionGroupRepository{db: db, log: r.log}
}

func (r *ExecutionGroupRepository) Create(ctx context.Context, group *model.ExecutionGroup) error {
	if err := r.db.WithContext(ctx).Create(group).Error; err != nil {
		return fmt.Errorf("repository: create execution group: %w", err)
	}
	return nil
}

func (r *ExecutionGroupRepository) Get(ctx context.Context, userID, groupID model.ID) (*model.ExecutionGroup, error) {
	var group model.ExecutionGroup
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", groupID, userID).First(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get execution group: %w", err)
	}
	return &group, nil
}

func (r *ExecutionGroupRepository) ListByUser(ctx context.Context, userID model.ID) ([]model.ExecutionGroup, error) {
	var groups []model.ExecutionGroup
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&groups).Error; err != nil {
		return nil, fmt.Errorf("repository: list execution groups: %w", err)
	}
	return groups, nil
}

func (r *ExecutionGroupRepository) Update(ctx context.Context, group *model.ExecutionGroup) error {
	if err := r.db.WithContext(ctx).Save(group).Error; err != nil {
		return fmt.Errorf("repository: update execution group: %w", err)
	}
	return nil
}

func (r *ExecutionGroupRepository) Delete(ctx context.Context, userID, groupID model.ID) error {
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.ExecutionGroup{}, "id = ?", groupID).Error
	if err != nil {
		return fmt.Errorf("repository: delete execution group: %w", err)
	}
	return nil
}

// Mappings returns a group's account mappings ordered by SortOrder,
// the stable tiebreak the Allocation Planner's determinism depends on.
func (r *ExecutionGroupRepository) Mappings(ctx context.Context, groupID model.ID) ([]model.GroupAccountMapping, error) {
	var mappings []model.GroupAccountMapping
	err := r.db.WithContext(ctx).Where("group_id = ?", groupID).Order("sort_order ASC").Find(&mappings).Error
	if err != nil {
		return nil, fmt.Errorf("repository: list group mappings: %w", err)
	}
	return mappings, nil
}

// AddMapping enforces the "an Account appears at most once per
// Group" invariant via the unique index on (group_id, account_id).
// A duplicate insert is returned as a wrapped database error; it is not
// classified as a conflict, so the HTTP handler reports it as a 500
// INTERNAL like any other AddMapping failure.
func (r *ExecutionGroupRepository) AddMapping(ctx context.Context, mapping *model.GroupAccountMapping) error {
	if mapping.Policy == model.PolicyWeighted && (mapping.Weight == nil || *mapping.Weight <= 0) {
		return fmt.Errorf("repository: weighted mapping requires weight>0")
	}
	if mapping.Policy == model.PolicyFixed && (mapping.FixedLots == nil || *mapping.FixedLots <= 0) {
		return fmt.Errorf("repository: fixed mapping requires fixed_lots>0")
	}
	if err := r.db.WithContext(ctx).Create(mapping).Error; err != nil {
		return fmt.Errorf("repository: add group mapping: %w", err)
	}
	return nil
}

func (r *ExecutionGroupRepository) UpdateMapping(ctx context.Context, mapping *model.GroupAccountMapping) error {
	if err := r.db.WithContext(ctx).Save(mapping).Error; err != nil {
		return fmt.Errorf("repository: update group mapping: %w", err)
	}
	return nil
}

func (r *ExecutionGroupRepository) RemoveMapping(ctx context.Context, groupID, mappingID model.ID) error {
	err := r.db.WithContext(ctx).Where("group_id = ?", groupID).Delete(&model.GroupAccountMapping{}, "id = ?", mappingID).Error
	if err != nil {
		return fmt.Errorf("repository: remove group mapping: %w", err)
	}
	return nil
}
