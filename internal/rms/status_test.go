package rms

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"strategyexecutor/internal/model"
)

type fakeUserMarginProvider struct {
	available float64
}

func (f *fakeUserMarginProvider) AvailableMarginByUser(_ context.Context, _ model.ID) (float64, error) {
	return f.available, nil
}

func TestStatus_LotsNearlyExhaustedAlert(t *testing.T) {
	maxDailyLots := 10
	g, counters, _ := newTestGate(t, model.RmsConfig{MaxDailyLots: &maxDailyLots})
	userID := model.NewID()
	now := time.Now()
	day := g.TradingDay(now)
	counters.rows[key(userID, day)] = &model.RmsCounters{UserID: userID, TradingDay: day, LotsTraded: 9}

	status, err := g.Status(context.Background(), userID, now)
	require.NoError(t, err)
	require.Equal(t, 1, *status.LotsRemaining)
	require.Contains(t, status.Alerts, "Daily lot limit is nearly exhausted")
}

func TestStatus_LossApproachingLimitAlert(t *testing.T) {
	maxLoss := 1000.0
	g, counters, _ := newTestGate(t, model.RmsConfig{MaxDailyLoss: &maxLoss})
	userID := model.NewID()
	now := time.Now()
	day := g.TradingDay(now)
	counters.rows[key(userID, day)] = &model.RmsCounters{UserID: userID, TradingDay: day, RealizedPnL: -850}

	status, err := g.Status(context.Background(), userID, now)
	require.NoError(t, err)
	require.InDelta(t, 150, *status.LossRemaining, 0.001)
	require.Contains(t, status.Alerts, "Daily loss approaching limit")
}

func TestStatus_NoAlertsWithHeadroom(t *testing.T) {
	maxDailyLots := 100
	maxLoss := 1000.0
	g, counters, _ := newTestGate(t, model.RmsConfig{MaxDailyLots: &maxDailyLots, MaxDailyLoss: &maxLoss})
	userID := model.NewID()
	now := time.Now()
	day := g.TradingDay(now)
	counters.rows[key(userID, day)] = &model.RmsCounters{UserID: userID, TradingDay: day, LotsTraded: 5, RealizedPnL: -50}

	status, err := g.Status(context.Background(), userID, now)
	require.NoError(t, err)
	require.Empty(t, status.Alerts)
}

func TestStatus_ReportsAggregateMargin(t *testing.T) {
	g, _, _ := newTestGate(t, model.RmsConfig{})
	g.WithUserMargins(&fakeUserMarginProvider{available: 42_000})
	userID := model.NewID()

	status, err := g.Status(context.Background(), userID, time.Now())
	require.NoError(t, err)
	require.Equal(t, 42_000.0, status.AvailableMargin)
}
