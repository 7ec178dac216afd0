package rms

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"strategyexecutor/internal/model"
)

type fakeCounterStore struct {
	rows map[string]*model.RmsCounters
}

func newFakeCounterStore() *fakeCounterStore {
	return &fakeCounterStore{rows: map[string]*model.RmsCounters{}}
}

func key(userID model.ID, day string) string { return userID.String() + "|" + day }

func (s *fakeCounterStore) GetOrCreate(_ context.Context, userID model.ID, day string) (*model.RmsCounters, error) {
	k := key(userID, day)
	if row, ok := s.rows[k]; ok {
		return row, nil
	}
	row := &model.RmsCounters{UserID: userID, TradingDay: day}
	s.rows[k] = row
	return row, nil
}

func (s *fakeCounterStore) Save(_ context.Context, counters *model.RmsCounters) error {
	s.rows[key(counters.UserID, counters.TradingDay)] = counters
	return nil
}

type fakeConfigStore struct {
	cfg *model.RmsConfig
}

func (s *fakeConfigStore) Get(_ context.Context, userID model.ID) (*model.RmsConfig, error) {
	c := *s.cfg
	c.UserID = userID
	return &c, nil
}

type fakeAuditStore struct {
	entries []*model.RmsAuditEntry
}

func (s *fakeAuditStore) Record(_ context.Context, entry *model.RmsAuditEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

type fakeMarginProvider struct {
	available decimal.Decimal
}

func (f *fakeMarginProvider) AvailableMargin(_ context.Context, _ model.ID) (decimal.Decimal, error) {
	return f.available, nil
}

func newTestGate(t *testing.T, cfg model.RmsConfig) (*Gate, *fakeCounterStore, *fakeAuditStore) {
	t.Helper()
	counters := newFakeCounterStore()
	audit := &fakeAuditStore{}
	margins := &fakeMarginProvider{available: decimal.NewFromInt(1_000_000)}

	g, err := New(Config{ExchangeTimezone: "Asia/Kolkata"}, counters, &fakeConfigStore{cfg: &cfg}, audit, margins, nil)
	require.NoError(t, err)
	return g, counters, audit
}

func TestPreTrade_AcceptsWithinLimits(t *testing.T) {
	g, _, _ := newTestGate(t, model.RmsConfig{})
	userID := model.NewID()

	res, err := g.PreTrade(context.Background(), userID, LegRequest{
		AccountID: model.NewID(), Lots: 2, LotSize: 50, RefPrice: decimal.NewFromInt(100),
	}, time.Now())

	require.NoError(t, err)
	require.Equal(t, 2, res.Lots)
}

func TestPreTrade_RejectsMaxDailyLots(t *testing.T) {
	maxDailyLots := 5
	g, counters, _ := newTestGate(t, model.RmsConfig{MaxDailyLots: &maxDailyLots})
	userID := model.NewID()
	now := time.Now()
	day := g.TradingDay(now)
	counters.rows[key(userID, day)] = &model.RmsCounters{UserID: userID, TradingDay: day, LotsTraded: 4}

	// First leg of 1 lot brings the counter to 5 — still within bounds.
	res1, err := g.PreTrade(context.Background(), userID, LegRequest{
		AccountID: model.NewID(), Lots: 1, LotSize: 1, RefPrice: decimal.NewFromInt(100),
	}, now)
	require.NoError(t, err)
	require.NotNil(t, res1)

	// Second leg of 1 lot would push to 6 — rejected.
	_, err = g.PreTrade(context.Background(), userID, LegRequest{
		AccountID: model.NewID(), Lots: 1, LotSize: 1, RefPrice: decimal.NewFromInt(100),
	}, now)
	require.Error(t, err)
	var viol *ViolationError
	require.ErrorAs(t, err, &viol)
	require.Equal(t, CodeMaxDailyLots, viol.Code)
}

func TestPreTrade_RejectsMaxLotsPerOrder(t *testing.T) {
	maxLots := 3
	g, _, _ := newTestGate(t, model.RmsConfig{MaxLotsPerOrder: &maxLots})
	_, err := g.PreTrade(context.Background(), model.NewID(), LegRequest{
		AccountID: model.NewID(), Lots: 4, LotSize: 1, RefPrice: decimal.NewFromInt(10),
	}, time.Now())
	require.Error(t, err)
}

func TestPreTrade_RejectsBreachedDailyLoss(t *testing.T) {
	maxLoss := 1000.0
	g, counters, _ := newTestGate(t, model.RmsConfig{MaxDailyLoss: &maxLoss})
	userID := model.NewID()
	day := g.TradingDay(time.Now())
	counters.rows[key(userID, day)] = &model.RmsCounters{UserID: userID, TradingDay: day, RealizedPnL: -1000}

	_, err := g.PreTrade(context.Background(), userID, LegRequest{
		AccountID: model.NewID(), Lots: 1, LotSize: 1, RefPrice: decimal.NewFromInt(10),
	}, time.Now())
	require.Error(t, err)
	var viol *ViolationError
	require.ErrorAs(t, err, &viol)
	require.Equal(t, CodeMaxLoss, viol.Code)
}

func TestPreTrade_RejectsMarginBuffer(t *testing.T) {
	g, _, _ := newTestGate(t, model.RmsConfig{MarginBufferPct: 10})
	g.margins = &fakeMarginProvider{available: decimal.NewFromInt(50)}

	_, err := g.PreTrade(context.Background(), model.NewID(), LegRequest{
		AccountID: model.NewID(), Lots: 10, LotSize: 1, RefPrice: decimal.NewFromInt(100),
	}, time.Now())
	require.Error(t, err)
	var viol *ViolationError
	require.ErrorAs(t, err, &viol)
	require.Equal(t, CodeMargin, viol.Code)
}

func TestReservation_ReleaseRestoresCounters(t *testing.T) {
	g, counters, _ := newTestGate(t, model.RmsConfig{})
	userID := model.NewID()
	now := time.Now()

	res, err := g.PreTrade(context.Background(), userID, LegRequest{
		AccountID: model.NewID(), Lots: 3, LotSize: 10, RefPrice: decimal.NewFromInt(100),
	}, now)
	require.NoError(t, err)

	day := g.TradingDay(now)
	require.Equal(t, 3, counters.rows[key(userID, day)].LotsTraded)

	require.NoError(t, g.Release(context.Background(), res))
	require.Equal(t, 0, counters.rows[key(userID, day)].LotsTraded)
	require.Equal(t, float64(0), counters.rows[key(userID, day)].OpenNotional)
}

func TestEnforce_AutoSquareOffOnMaxDailyLoss(t *testing.T) {
	maxLoss := 500.0
	g, counters, audit := newTestGate(t, model.RmsConfig{MaxDailyLoss: &maxLoss, AutoSquareOffEnabled: true})
	userID := model.NewID()
	now := time.Now()
	day := g.TradingDay(now)
	counters.rows[key(userID, day)] = &model.RmsCounters{UserID: userID, TradingDay: day, RealizedPnL: -600}

	actions, err := g.Enforce(context.Background(), userID, now)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.Equal(t, ActionSquareOff, actions[0].Kind)
	require.NotEmpty(t, audit.entries)
}

func TestEnforce_ProfitLockTightensTrailingStop(t *testing.T) {
	profitLock := 200.0
	g, counters, _ := newTestGate(t, model.RmsConfig{ProfitLock: &profitLock})
	userID := model.NewID()
	now := time.Now()
	day := g.TradingDay(now)
	counters.rows[key(userID, day)] = &model.RmsCounters{UserID: userID, TradingDay: day, RealizedPnL: 250}

	actions, err := g.Enforce(context.Background(), userID, now)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.Equal(t, ActionTightenTSL, actions[0].Kind)
}
