// Package eventstore implements the Execution Event Store: an
// append-only, per-(run, sequence) telemetry log.
package eventstore

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"strategyexecutor/internal/model"
)

// Store is the gorm-backed Execution Event Store. It satisfies
// internal/orchestrator's EventSink interface.
type Store struct {
	db *gorm.DB

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy

	log *logger.Entry
}

func New(db *gorm.DB, log *logger.Entry) *Store {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	return &Store{
		db:      db,
		entropy: ulid.Monotonic(rand.Reader, 0),
		log:     log.WithField("component", "eventstore.Store"),
	}
}

// WithDB returns a Store bound to a different *gorm.DB, for tests and
// transactions.
func (s *Store) WithDB(db *gorm.DB) *Store {
	return &Store{db: db, entropy: s.entropy, log: s.log}
}

// newEventID derives a fresh event identifier from a monotonic ULID so
// that event IDs generated within the same millisecond still sort in
// generation order, while keeping model.ID unified as a 16-byte value
// across every entity. The per-run Sequence is separate and is set by
// the caller.
func (s *Store) newEventID() model.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy)
	return model.ID(id)
}

// Append persists one ExecutionEvent row. Sequence is assigned by the
// caller (internal/orchestrator's per-run sequencer); Append only fills
// in ID/CreatedAt when the caller left them zero, so replays that
// resubmit an already-identified event remain idempotent at the
// database's primary-key level.
func (s *Store) Append(ctx context.Context, event *model.ExecutionEvent) error {
	if event.ID == model.ZeroID {
		event.ID = s.newEventID()
	}

	entry := s.log.WithFields(logger.Fields{
		"run_id":   event.RunID,
		"sequence": event.Sequence,
		"status":   event.Status,
	})
	entry.Debug("appending execution event")

	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		entry.WithError(err).Error("append execution event failed")
		return fmt.Errorf("eventstore: append event: %w", err)
	}
	return nil
}

// ListByRun returns every event recorded for a run, ordered by
// sequence ascending — the replayable timeline of one ExecutionRun.
func (s *Store) ListByRun(ctx context.Context, runID model.ID) ([]model.ExecutionEvent, error) {
	var events []model.ExecutionEvent
	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("sequence ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("eventstore: list by run: %w", err)
	}
	return events, nil
}

// ListByUserSince returns every event recorded for runs owned by userID
// with RequestedAt at or after since — the per-user telemetry window
// internal/analytics aggregates leg-status counts and latency
// percentiles over.
func (s *Store) ListByUserSince(ctx context.Context, userID model.ID, since time.Time) ([]model.ExecutionEvent, error) {
	var events []model.ExecutionEvent
	err := s.db.WithContext(ctx).
		Joins("JOIN execution_runs ON execution_runs.id = execution_events.run_id").
		Where("execution_runs.user_id = ? AND execution_runs.requested_at >= ?", userID, since).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("eventstore: list by user since: %w", err)
	}
	return events, nil
}

// LatestSequence reports the highest sequence number recorded for a
// run, or 0 if none exist yet. Callers resuming a partially-persisted
// run use this to continue the sequencer from the right watermark.
func (s *Store) LatestSequence(ctx context.Context, runID model.ID) (uint64, error) {
	var max struct{ Max uint64 }
	err := s.db.WithContext(ctx).
		Model(&model.ExecutionEvent{}).
		Select("COALESCE(MAX(sequence), 0) as max").
		Where("run_id = ?", runID).
		Scan(&max).Error
	if err != nil {
		return 0, fmt.Errorf("eventstore: latest sequence: %w", err)
	}
	return max.Max, nil
}
