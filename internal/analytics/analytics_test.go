package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"strategyexecutor/internal/model"
	"strategyexecutor/internal/repository"
)

type fakeTradeReader struct {
	trades       []model.Trade
	tradeRecords []repository.TradeRecord
	positions    []model.Position
}

func (f *fakeTradeReader) TradesSince(_ context.Context, _ model.ID, since time.Time) ([]model.Trade, error) {
	var out []model.Trade
	for _, t := range f.trades {
		if !t.Timestamp.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTradeReader) RecentTradeRecords(_ context.Context, _ model.ID, limit int) ([]repository.TradeRecord, error) {
	if limit > 0 && limit < len(f.tradeRecords) {
		return f.tradeRecords[:limit], nil
	}
	return f.tradeRecords, nil
}

func (f *fakeTradeReader) OpenPositions(_ context.Context, _ model.ID) ([]model.Position, error) {
	return f.positions, nil
}

type fakeRunReader struct {
	runs []model.ExecutionRun
}

func (f *fakeRunReader) ListSince(_ context.Context, _ model.ID, _ time.Time) ([]model.ExecutionRun, error) {
	return f.runs, nil
}

type fakeEventReader struct {
	events []model.ExecutionEvent
}

func (f *fakeEventReader) ListByUserSince(_ context.Context, _ model.ID, _ time.Time) ([]model.ExecutionEvent, error) {
	return f.events, nil
}

type fakeStrategyReader struct {
	strategies []model.Strategy
	runsByID   map[model.ID][]model.StrategyRun
}

func (f *fakeStrategyReader) ListByUser(_ context.Context, _ model.ID) ([]model.Strategy, error) {
	return f.strategies, nil
}

func (f *fakeStrategyReader) ListRunsByStrategy(_ context.Context, strategyID model.ID) ([]model.StrategyRun, error) {
	return f.runsByID[strategyID], nil
}

func latency(v float64) *float64 { return &v }

func TestSummary_AggregatesPnLAndLatency(t *testing.T) {
	now := time.Now()
	trades := &fakeTradeReader{
		trades: []model.Trade{
			{ID: model.NewID(), RealizedPnL: 100, Timestamp: now},
			{ID: model.NewID(), RealizedPnL: -40, Timestamp: now.AddDate(0, 0, -2)},
		},
		positions: []model.Position{{AccountID: model.NewID(), Symbol: "NIFTY", NetQty: 5, RunningPnL: 250}},
	}
	runs := &fakeRunReader{runs: []model.ExecutionRun{
		{ID: model.NewID(), Status: model.RunSucceeded},
		{ID: model.NewID(), Status: model.RunFailed},
	}}
	events := &fakeEventReader{events: []model.ExecutionEvent{
		{Status: model.LegFilled, LatencyMs: latency(100)},
		{Status: model.LegFilled, LatencyMs: latency(200)},
		{Status: model.LegRejected},
	}}
	strategies := &fakeStrategyReader{}

	agg := New(Config{}, trades, runs, events, strategies, nil)
	summary, err := agg.Summary(context.Background(), model.NewID())
	require.NoError(t, err)

	require.Equal(t, 60.0, summary.RealizedPnL)
	require.Equal(t, 100.0, summary.TodayRealizedPnL)
	require.Equal(t, 250.0, summary.UnrealizedPnL)
	require.Equal(t, 2, summary.TotalTrades)
	require.Equal(t, 1, summary.OpenPositions)
	require.Equal(t, 1, summary.FailedExecutionRuns)
	require.Equal(t, 2, summary.ExecutionLegStatusCounts["filled"])
	require.Equal(t, 1, summary.ExecutionLegStatusCounts["rejected"])
	require.NotNil(t, summary.AvgExecutionLatencyMs)
	require.InDelta(t, 150.0, *summary.AvgExecutionLatencyMs, 0.001)
}

func TestDailyPnL_BucketsByCalendarDayAndCarriesUnrealizedOnLastDay(t *testing.T) {
	today := dayStart(time.Now())
	trades := &fakeTradeReader{
		trades: []model.Trade{
			{ID: model.NewID(), RealizedPnL: 10, Timestamp: today},
			{ID: model.NewID(), RealizedPnL: 5, Timestamp: today},
			{ID: model.NewID(), RealizedPnL: -3, Timestamp: today.AddDate(0, 0, -1)},
		},
		positions: []model.Position{{RunningPnL: 99}},
	}
	agg := New(Config{}, trades, &fakeRunReader{}, &fakeEventReader{}, &fakeStrategyReader{}, nil)

	points, err := agg.DailyPnL(context.Background(), model.NewID(), 3)
	require.NoError(t, err)
	require.Len(t, points, 3)

	last := points[len(points)-1]
	require.Equal(t, today, last.Date)
	require.Equal(t, 15.0, last.RealizedPnL)
	require.Equal(t, 2, last.TradeCount)
	require.Equal(t, 99.0, last.UnrealizedPnL)

	for _, p := range points[:len(points)-1] {
		require.Equal(t, 0.0, p.UnrealizedPnL)
	}
}

func TestStrategyPerformance_RollsUpResultMetrics(t *testing.T) {
	strategyID := model.NewID()
	strategies := &fakeStrategyReader{
		strategies: []model.Strategy{{ID: strategyID, Name: "orb-breakout"}},
		runsByID: map[model.ID][]model.StrategyRun{
			strategyID: {
				{ID: model.NewID(), StartedAt: time.Now().Add(-time.Hour), Status: model.StrategyRunSucceeded, ResultMetricsJSON: `{"pnl":50,"trades":3}`},
				{ID: model.NewID(), StartedAt: time.Now(), Status: model.StrategyRunFailed, ResultMetricsJSON: `{"pnl":-10,"trades":1}`},
			},
		},
	}
	agg := New(Config{}, &fakeTradeReader{}, &fakeRunReader{}, &fakeEventReader{}, strategies, nil)

	rows, err := agg.StrategyPerformance(context.Background(), model.NewID())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 2, rows[0].TotalRuns)
	require.Equal(t, 40.0, rows[0].CumulativePnL)
	require.Equal(t, 4, rows[0].TotalTrades)
	require.NotNil(t, rows[0].LastRunStatus)
	require.Equal(t, model.StrategyRunFailed, *rows[0].LastRunStatus)
}

func TestRecentTrades_MapsJoinedOrderFields(t *testing.T) {
	strategyID := model.NewID()
	trades := &fakeTradeReader{tradeRecords: []repository.TradeRecord{
		{Trade: model.Trade{ID: model.NewID(), OrderID: model.NewID(), Quantity: 2, RealizedPnL: 15, Timestamp: time.Now()}, Symbol: "BANKNIFTY", StrategyID: &strategyID},
	}}
	agg := New(Config{}, trades, &fakeRunReader{}, &fakeEventReader{}, &fakeStrategyReader{}, nil)

	records, err := agg.RecentTrades(context.Background(), model.NewID(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "BANKNIFTY", records[0].Symbol)
	require.Equal(t, &strategyID, records[0].StrategyID)
}
