package strategyrunner

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"strategyexecutor/internal/model"
)

type fakeTriggerStore struct {
	strategy *model.Strategy
	created  *model.StrategyRun
	updated  *model.StrategyRun
}

func (f *fakeTriggerStore) GetByID(_ context.Context, _ model.ID) (*model.Strategy, error) {
	return f.strategy, nil
}

func (f *fakeTriggerStore) CreateRun(_ context.Context, run *model.StrategyRun) error {
	f.created = run
	return nil
}

func (f *fakeTriggerStore) UpdateRun(_ context.Context, run *model.StrategyRun) error {
	f.updated = run
	return nil
}

func newTestTrigger(t *testing.T, store *fakeTriggerStore) *Trigger {
	t.Helper()
	runner, err := New(Config{MaxErrors: 3, ErrorWindow: "10m"}, nil, nil, &noopStrategyStore{}, nil)
	require.NoError(t, err)
	return NewTrigger(runner, store, nil)
}

func TestTrigger_BacktestRunFromContextBlob(t *testing.T) {
	store := &fakeTriggerStore{strategy: &model.Strategy{
		ID:     model.NewID(),
		UserID: model.NewID(),
		Status: model.StrategyActive,
	}}
	trigger := newTestTrigger(t, store)

	runID := model.NewID()
	err := trigger.TriggerStrategyRun(context.Background(), store.strategy.ID, runID, map[string]any{
		"mode":        "backtest",
		"symbol":      "NIFTY",
		"side":        "BUY",
		"lots":        2,
		"lot_size":    50,
		"entry_price": 100.0,
		"exit_price":  110.0,
	})
	require.NoError(t, err)

	require.NotNil(t, store.created)
	require.Equal(t, runID, store.created.ID, "the idempotency-ledger run id must be honored")
	require.Equal(t, model.ModeBacktest, store.created.Mode)

	require.NotNil(t, store.updated)
	require.Equal(t, model.StrategyRunSucceeded, store.updated.Status)
	require.NotNil(t, store.updated.FinishedAt)

	var envelope struct {
		Metrics map[string]any `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal([]byte(store.updated.ResultMetricsJSON), &envelope))
	require.Equal(t, 1000.0, envelope.Metrics["pnl"])
}

func TestTrigger_DefaultsToPaperMode(t *testing.T) {
	store := &fakeTriggerStore{strategy: &model.Strategy{
		ID:     model.NewID(),
		UserID: model.NewID(),
		Status: model.StrategyActive,
	}}
	trigger := newTestTrigger(t, store)

	// Paper mode without an execution group is a validation failure,
	// but the mode default must still land before the run executes.
	err := trigger.TriggerStrategyRun(context.Background(), store.strategy.ID, model.NewID(), map[string]any{
		"symbol": "NIFTY",
	})
	require.Error(t, err)
	require.NotNil(t, store.created)
	require.Equal(t, model.ModePaper, store.created.Mode)
	require.Equal(t, model.StrategyRunFailed, store.updated.Status)
}

func TestTrigger_RejectsStoppedStrategy(t *testing.T) {
	store := &fakeTriggerStore{strategy: &model.Strategy{
		ID:     model.NewID(),
		UserID: model.NewID(),
		Status: model.StrategyStopped,
	}}
	trigger := newTestTrigger(t, store)

	err := trigger.TriggerStrategyRun(context.Background(), store.strategy.ID, model.NewID(), nil)
	require.Error(t, err)
	require.Nil(t, store.created, "no StrategyRun row may be written for a stopped strategy")
}

func TestTrigger_InvalidGroupIDInContext(t *testing.T) {
	store := &fakeTriggerStore{strategy: &model.Strategy{
		ID:     model.NewID(),
		UserID: model.NewID(),
		Status: model.StrategyActive,
	}}
	trigger := newTestTrigger(t, store)

	err := trigger.TriggerStrategyRun(context.Background(), store.strategy.ID, model.NewID(), map[string]any{
		"execution_group_id": "not-a-uuid",
	})
	require.Error(t, err)
	require.Nil(t, store.created)
}
