package repository

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"strategyexecutor/internal/model"
)

// SchedulerRepository handles ScheduledJob rows for internal/scheduler.
type SchedulerRepository struct {
	db  *gorm.DB
	log *logger.Entry
}

func NewSchedulerRepository(db *gorm.DB, log *logger.Entry) *SchedulerRepository {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	return &SchedulerRepository{db: db, log: log.WithField("component", "repository.SchedulerRepository")}
}

func (r *SchedulerRepository) WithDB(db *gorm.DB) *SchedulerRepository {
	return &SchedulerRepository{db: db, log: r.log}
}

func (r *SchedulerRepository) Create(ctx context.Context, job *model.ScheduledJob) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("repository: create scheduled job: %w", err)
	}
	return nil
}

func (r *SchedulerRepository) Delete(ctx context.Context, jobID model.ID) error {
	if err := r.db.WithContext(ctx).Delete(&model.ScheduledJob{}, "id = ?", jobID).Error; err != nil {
		return fmt.Errorf("repository: delete scheduled job: %w", err)
	}
	return nil
}

// Enabled returns every enabled job, the read side of the cron loop.
// It applies no time filter: the scheduler's tick decides which jobs
// are due from cron_expr and LastFiredAt.
func (r *SchedulerRepository) Enabled(ctx context.Context) ([]model.ScheduledJob, error) {
	var jobs []model.ScheduledJob
	if err := r.db.WithContext(ctx).Where("enabled = ?", true).Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("repository: list enabled scheduled jobs: %w", err)
	}
	return jobs, nil
}

// MarkFired persists the at-most-one-fire-per-scheduled-instant rule:
// the caller passes the exact fire instant it computed so a
// retried tick after a crash does not refire the same minute twice.
func (r *SchedulerRepository) MarkFired(ctx context.Context, jobID model.ID, firedAt time.Time) error {
	err := r.db.WithContext(ctx).Model(&model.ScheduledJob{}).Where("id = ?", jobID).
		Update("last_fired_at", firedAt).Error
	if err != nil {
		return fmt.Errorf("repository: mark scheduled job fired: %w", err)
	}
	return nil
}

// WebhookRepository handles WebhookConnector rows and the idempotency
// ledger backing duplicate-delivery dedupe.
type WebhookRepository struct {
	db  *gorm.DB
	log *logger.Entry
}

func NewWebhookRepository(db *gorm.DB, log *logger.Entry) *WebhookRepository {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	return &WebhookRepository{db: db, log: log.WithField("component", "repository.WebhookRepository")}
}

func (r *WebhookRepository) WithDB(db *gorm.DB) *WebhookRepository {
	return &WebhookRepository{db: db, log: r.log}
}

func (r *WebhookRepository) Create(ctx context.Context, connector *model.WebhookConnector) error {
	if err := r.db.WithContext(ctx).Create(connector).Error; err != nil {
		return fmt.Errorf("repository: create webhook connector: %w", err)
	}
	return nil
}

// ByToken authenticates an inbound webhook by constant-time comparison
// of SHA-256 digests. It loads every connector and compares each one's
// token digest in turn, so the match never branches on a byte-by-byte
// token mismatch.
func (r *WebhookRepository) ByToken(ctx context.Context, token string) (*model.WebhookConnector, error) {
	digest := tokenDigest(token)
	var candidates []model.WebhookConnector
	if err := r.db.WithContext(ctx).Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("repository: list webhook connectors: %w", err)
	}
	for i := range candidates {
		if subtle.ConstantTimeCompare([]byte(tokenDigest(candidates[i].Token)), []byte(digest)) == 1 {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (r *WebhookRepository) Delete(ctx context.Context, userID, connectorID model.ID) error {
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.WebhookConnector{}, "id = ?", connectorID).Error
	if err != nil {
		return fmt.Errorf("repository: delete webhook connector: %w", err)
	}
	return nil
}

// WebhookDelivery is the append-only idempotency ledger row: one per
// (connector, payload hash) seen inside the dedupe window.
type WebhookDelivery struct {
	ID            model.ID `gorm:"type:uuid;primaryKey"`
	ConnectorID   model.ID `gorm:"type:uuid;index:idx_webhook_delivery,unique"`
	PayloadHash   string   `gorm:"size:64;index:idx_webhook_delivery,unique"`
	StrategyRunID model.ID `gorm:"type:uuid"`
	CreatedAt     time.Time
}

func (WebhookDelivery) TableName() string { return "webhook_deliveries" }

// RecordDelivery inserts the idempotency row for (connector,
// payloadHash) and returns (existing StrategyRunID, true) if one was
// already recorded within window of `now` — the unique index makes
// the insert itself the race-free dedupe check: two identical
// deliveries within the window produce exactly one StrategyRun.
func (r *WebhookRepository) RecordDelivery(ctx context.Context, connectorID model.ID, payloadHash string, strategyRunID model.ID, now time.Time, window time.Duration) (model.ID, bool, error) {
	var existing WebhookDelivery
	err := r.db.WithContext(ctx).
		Where("connector_id = ? AND payload_hash = ? AND created_at >= ?", connectorID, payloadHash, now.Add(-window)).
		First(&existing).Error
	if err == nil {
		return existing.StrategyRunID, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return model.ZeroID, false, fmt.Errorf("repository: check webhook delivery: %w", err)
	}

	delivery := WebhookDelivery{ID: model.NewID(), ConnectorID: connectorID, PayloadHash: payloadHash, StrategyRunID: strategyRunID, CreatedAt: now}
	if err := r.db.WithContext(ctx).Create(&delivery).Error; err != nil {
		// A concurrent insert that won the unique-index race looks
		// like a duplicate to us too; re-read and report it as such.
		var raced WebhookDelivery
		if lookupErr := r.db.WithContext(ctx).
			Where("connector_id = ? AND payload_hash = ?", connectorID, payloadHash).
			First(&raced).Error; lookupErr == nil {
			return raced.StrategyRunID, true, nil
		}
		return model.ZeroID, false, fmt.Errorf("repository: record webhook delivery: %w", err)
	}
	return strategyRunID, false, nil
}
