package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"strategyexecutor/internal/model"
)

// RmsRepository satisfies internal/rms's CounterStore, ConfigStore and
// AuditStore over RmsCounters/RmsConfig/RmsAuditEntry rows.
type RmsRepository struct {
	db  *gorm.DB
	log *logger.Entry
}

func NewRmsRepository(db *gorm.DB, log *logger.Entry) *RmsRepository {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	return &RmsRepository{db: db, log: log.WithField("component", "repository.RmsRepository")}
}

func (r *RmsRepository) WithDB(db *gorm.DB) *RmsRepository {
	return &RmsRepository{db: db, log: r.log}
}

// GetOrCreate implements rms.CounterStore: a user's first leg on a new
// trading day starts from a zeroed counters row rather than requiring
// an explicit provisioning step.
func (r *RmsRepository) GetOrCreate(ctx context.Context, userID model.ID, tradingDay string) (*model.RmsCounters, error) {
	var counters model.RmsCounters
	err := r.db.WithContext(ctx).Where("user_id = ? AND trading_day = ?", userID, tradingDay).First(&counters).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		counters = model.RmsCounters{UserID: userID, TradingDay: tradingDay}
		if err := r.db.WithContext(ctx).Create(&counters).Error; err != nil {
			return nil, fmt.Errorf("repository: create rms counters: %w", err)
		}
		return &counters, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: load rms counters: %w", err)
	}
	return &counters, nil
}

func (r *RmsRepository) Save(ctx context.Context, counters *model.RmsCounters) error {
	if err := r.db.WithContext(ctx).Save(counters).Error; err != nil {
		return fmt.Errorf("repository: save rms counters: %w", err)
	}
	return nil
}

// Get implements rms.ConfigStore, falling back to zero-value defaults
// (every guardrail unset = unlimited) when a user has never configured
// RMS — permissive by default, every limit opt-in.
func (r *RmsRepository) Get(ctx context.Context, userID model.ID) (*model.RmsConfig, error) {
	var cfg model.RmsConfig
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.RmsConfig{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: load rms config: %w", err)
	}
	return &cfg, nil
}

func (r *RmsRepository) Upsert(ctx context.Context, cfg *model.RmsConfig) error {
	err := r.db.WithContext(ctx).Save(cfg).Error
	if err != nil {
		return fmt.Errorf("repository: upsert rms config: %w", err)
	}
	return nil
}

// Record implements rms.AuditStore.
func (r *RmsRepository) Record(ctx context.Context, entry *model.RmsAuditEntry) error {
	if entry.ID == model.ZeroID {
		entry.ID = model.NewID()
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		r.log.WithError(err).Warn("record rms audit entry failed")
		return fmt.Errorf("repository: record rms audit entry: %w", err)
	}
	return nil
}

func (r *RmsRepository) RecordSnapshot(ctx context.Context, entry *model.RmsAuditEntry, snapshot any) error {
	if snapshot != nil {
		blob, err := json.Marshal(snapshot)
		if err == nil {
			entry.SnapshotJSON = string(blob)
		}
	}
	return r.Record(ctx, entry)
}

// ConfiguredUserIDs lists every user holding an RmsConfig row, the
// population the periodic enforcement sweep iterates over.
func (r *RmsRepository) ConfiguredUserIDs(ctx context.Context) ([]model.ID, error) {
	var ids []model.ID
	err := r.db.WithContext(ctx).Model(&model.RmsConfig{}).Distinct("user_id").Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("repository: list rms-configured users: %w", err)
	}
	return ids, nil
}

func (r *RmsRepository) ListAudit(ctx context.Context, userID model.ID, limit int) ([]model.RmsAuditEntry, error) {
	var entries []model.RmsAuditEntry
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("repository: list rms audit: %w", err)
	}
	return entries, nil
}
