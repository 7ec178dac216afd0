package strategyrunner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"strategyexecutor/internal/model"
	"strategyexecutor/internal/orchestrator"
)

type fakeGroupLookup struct {
	group    *model.ExecutionGroup
	mappings []model.GroupAccountMapping
}

func (f *fakeGroupLookup) Get(_ context.Context, _, _ model.ID) (*model.ExecutionGroup, error) {
	return f.group, nil
}

func (f *fakeGroupLookup) Mappings(_ context.Context, _ model.ID) ([]model.GroupAccountMapping, error) {
	return f.mappings, nil
}

type fakeDispatcher struct {
	result *orchestrator.Result
	err    error
}

func (f *fakeDispatcher) Run(_ context.Context, _ orchestrator.RunRequest) (*orchestrator.Result, error) {
	return f.result, f.err
}

func TestSimulateBacktest_ComputesPnLForBuy(t *testing.T) {
	entry, exit := 100.0, 110.0
	summary, err := simulateBacktest(Configuration{
		Symbol: "NIFTY", Side: model.SideBuy, Lots: 2, LotSize: 50,
		EntryPrice: &entry, ExitPrice: &exit,
	})
	require.NoError(t, err)
	require.Equal(t, 1000.0, summary["pnl"])
	require.Equal(t, 100, summary["quantity"])
}

func TestSimulateBacktest_ComputesPnLForSell(t *testing.T) {
	entry, exit := 100.0, 90.0
	summary, err := simulateBacktest(Configuration{
		Symbol: "NIFTY", Side: model.SideSell, Lots: 1, LotSize: 50,
		EntryPrice: &entry, ExitPrice: &exit,
	})
	require.NoError(t, err)
	require.Equal(t, 500.0, summary["pnl"])
}

func TestSimulateBacktest_RequiresPrices(t *testing.T) {
	_, err := simulateBacktest(Configuration{Symbol: "NIFTY", Lots: 1})
	require.Error(t, err)
}

func TestRun_BacktestMode(t *testing.T) {
	r, err := New(Config{MaxErrors: 3, ErrorWindow: "10m"}, nil, nil, &noopStrategyStore{}, nil)
	require.NoError(t, err)

	strategy := &model.Strategy{ID: model.NewID()}
	run := &model.StrategyRun{ID: model.NewID()}
	entry, exit := 50.0, 55.0

	result, err := r.Run(context.Background(), model.NewID(), strategy, run, model.ModeBacktest, Configuration{
		Symbol: "BANKNIFTY", Lots: 1, LotSize: 25, EntryPrice: &entry, ExitPrice: &exit,
	})
	require.NoError(t, err)
	require.Equal(t, 125.0, result.Metrics["pnl"])
	require.Len(t, result.Logs, 2)
}

func TestRun_LiveModeRequiresExecutionGroup(t *testing.T) {
	r, err := New(Config{MaxErrors: 3, ErrorWindow: "10m"}, &fakeDispatcher{}, &fakeGroupLookup{}, &noopStrategyStore{}, nil)
	require.NoError(t, err)

	strategy := &model.Strategy{ID: model.NewID()}
	run := &model.StrategyRun{ID: model.NewID()}

	_, err = r.Run(context.Background(), model.NewID(), strategy, run, model.ModeLive, Configuration{Symbol: "NIFTY", Lots: 1})
	require.Error(t, err)
}

func TestRun_LiveModeDispatchesAndLinks(t *testing.T) {
	groupID := model.NewID()
	group := &model.ExecutionGroup{ID: groupID}
	dispatcher := &fakeDispatcher{result: &orchestrator.Result{
		Run:    &model.ExecutionRun{ID: model.NewID(), Status: model.RunSucceeded},
		Orders: []model.ID{model.NewID()},
	}}
	store := &noopStrategyStore{}
	r, err := New(Config{MaxErrors: 3, ErrorWindow: "10m"}, dispatcher, &fakeGroupLookup{group: group}, store, nil)
	require.NoError(t, err)

	strategy := &model.Strategy{ID: model.NewID()}
	run := &model.StrategyRun{ID: model.NewID()}

	result, err := r.Run(context.Background(), model.NewID(), strategy, run, model.ModeLive, Configuration{
		ExecutionGroupID: &groupID, Symbol: "NIFTY", Side: model.SideBuy, Lots: 2,
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Metrics["orders"])
	require.True(t, store.linked)
}

type noopStrategyStore struct {
	linked bool
}

func (s *noopStrategyStore) RecordError(_ context.Context, _ model.ID, _ time.Time) (int, error) {
	return 0, nil
}

func (s *noopStrategyStore) Stop(_ context.Context, _ model.ID) error { return nil }

func (s *noopStrategyStore) LinkExecutionRun(_ context.Context, _, _ model.ID) error {
	s.linked = true
	return nil
}
