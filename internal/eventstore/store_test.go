package eventstore

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"strategyexecutor/internal/model"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		DSN:                  "sqlmock_db_0",
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	})

	gdb, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		sqlDB.Close()
		t.Fatalf("failed to open gorm DB with sqlmock: %v", err)
	}
	return gdb, mock
}

func TestStore_Append_AssignsMonotonicIDWhenUnset(t *testing.T) {
	gdb, mock := newMockDB(t)
	store := New(gdb, nil)

	runID := model.NewID()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "execution_events"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	event := &model.ExecutionEvent{
		RunID:       runID,
		Sequence:    1,
		AccountID:   model.NewID(),
		Status:      model.LegFilled,
		RequestedAt: time.Now(),
	}
	require.Equal(t, model.ZeroID, event.ID)

	err := store.Append(context.Background(), event)
	require.NoError(t, err)
	require.NotEqual(t, model.ZeroID, event.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListByRun_OrdersBySequence(t *testing.T) {
	gdb, mock := newMockDB(t)
	store := New(gdb, nil)

	runID := model.NewID()
	rows := sqlmock.NewRows([]string{"id", "run_id", "sequence", "account_id", "status", "requested_at"}).
		AddRow(model.NewID(), runID, 1, model.NewID(), "filled", time.Now()).
		AddRow(model.NewID(), runID, 2, model.NewID(), "rejected", time.Now())

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "execution_events" WHERE run_id = $1 ORDER BY sequence ASC`)).
		WithArgs(runID).
		WillReturnRows(rows)

	events, err := store.ListByRun(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, uint64(1), events[0].Sequence)
	require.Equal(t, uint64(2), events[1].Sequence)
	require.NoError(t, mock.ExpectationsWereMet())
}
