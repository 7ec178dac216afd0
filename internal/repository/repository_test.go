package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"strategyexecutor/internal/model"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	dialector := postgres.New(postgres.Config{
		DSN:                  "sqlmock_db_0",
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	})
	gdb, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)
	return gdb, mock
}

func TestExecutionRunRepositoryCreate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewExecutionRunRepository(db, nil)

	run := &model.ExecutionRun{ID: model.NewID(), UserID: model.NewID(), Status: model.RunPending}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "execution_runs"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Create(context.Background(), run)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRmsRepositoryGetOrCreateNewRow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRmsRepository(db, nil)

	userID := model.NewID()
	day := "2026-08-03"

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "rms_counters" WHERE user_id = $1 AND trading_day = $2 ORDER BY "rms_counters"."user_id" LIMIT $3`)).
		WithArgs(userID, day, 1).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "trading_day"}))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "rms_counters"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	counters, err := repo.GetOrCreate(context.Background(), userID, day)
	require.NoError(t, err)
	require.Equal(t, userID, counters.UserID)
	require.Equal(t, day, counters.TradingDay)
}

func TestWebhookRepositoryByTokenConstantTimeLookup(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWebhookRepository(db, nil)

	connectorID := model.NewID()
	token := "whsec_abc123"

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "webhook_connectors"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "token", "enabled"}).
			AddRow(connectorID, token, true))

	found, err := repo.ByToken(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, connectorID, found.ID)
}

func TestWebhookRepositoryByTokenNoMatch(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWebhookRepository(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "webhook_connectors"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "token", "enabled"}).
			AddRow(model.NewID(), "different-token", true))

	found, err := repo.ByToken(context.Background(), "whsec_abc123")
	require.NoError(t, err)
	require.Nil(t, found)
}

var _ = uuid.New
var _ = time.Now
