package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"strategyexecutor/internal/broker"
	"strategyexecutor/internal/model"
	"strategyexecutor/internal/rms"
)

type fakeAccountResolver struct{}

func (fakeAccountResolver) Resolve(_ context.Context, accountID model.ID) (AccountContext, error) {
	return AccountContext{
		Account:     model.Account{ID: accountID, BrokerAccountRef: accountID.String()},
		Link:        model.BrokerLink{ID: model.NewID(), BrokerKind: "paper"},
		AdapterKind: broker.KindPaper,
	}, nil
}

type fakeRefPricer struct{ price float64 }

func (f fakeRefPricer) RefPrice(_ context.Context, _ string) (decimal.Decimal, error) {
	return decimal.NewFromFloat(f.price), nil
}

type fakeEventSink struct {
	mu     sync.Mutex
	events []model.ExecutionEvent
}

func (s *fakeEventSink) Append(_ context.Context, e *model.ExecutionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *e)
	return nil
}

type fakeRunStore struct {
	mu   sync.Mutex
	runs map[model.ID]*model.ExecutionRun
}

func newFakeRunStore() *fakeRunStore { return &fakeRunStore{runs: map[model.ID]*model.ExecutionRun{}} }

func (s *fakeRunStore) Create(_ context.Context, run *model.ExecutionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

func (s *fakeRunStore) Update(_ context.Context, run *model.ExecutionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

type fakeOrderStore struct {
	mu     sync.Mutex
	orders map[model.ID]*model.Order
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: map[model.ID]*model.Order{}}
}

func (s *fakeOrderStore) Create(_ context.Context, order *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = order
	return nil
}

func (s *fakeOrderStore) UpdateStatus(_ context.Context, orderID model.ID, status model.OrderStatus, brokerOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderID]; ok {
		o.Status = status
		o.BrokerOrderID = brokerOrderID
	}
	return nil
}

// fakeDispatcher routes Place calls by account reference so tests can
// script per-leg outcomes (accept/reject/fill) deterministically.
type fakeDispatcher struct {
	mu      sync.Mutex
	results map[string]broker.PlaceResult
	errs    map[string]error
	calls   []string
}

func (d *fakeDispatcher) Place(_ context.Context, _ broker.Kind, link model.BrokerLink, intent broker.OrderIntent) (broker.PlaceResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, intent.AccountRef)
	if err, ok := d.errs[intent.AccountRef]; ok {
		return broker.PlaceResult{}, err
	}
	if r, ok := d.results[intent.AccountRef]; ok {
		return r, nil
	}
	return broker.PlaceResult{Status: model.LegFilled, BrokerOrderID: "X-" + intent.AccountRef}, nil
}

type fakeCounterStore struct {
	mu   sync.Mutex
	rows map[string]*model.RmsCounters
}

func newFakeCounterStore() *fakeCounterStore { return &fakeCounterStore{rows: map[string]*model.RmsCounters{}} }

func ckey(userID model.ID, day string) string { return userID.String() + "|" + day }

func (s *fakeCounterStore) GetOrCreate(_ context.Context, userID model.ID, day string) (*model.RmsCounters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := ckey(userID, day)
	if row, ok := s.rows[k]; ok {
		return row, nil
	}
	row := &model.RmsCounters{UserID: userID, TradingDay: day}
	s.rows[k] = row
	return row, nil
}

func (s *fakeCounterStore) Save(_ context.Context, counters *model.RmsCounters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[ckey(counters.UserID, counters.TradingDay)] = counters
	return nil
}

type fakeConfigStore struct{ cfg model.RmsConfig }

func (s *fakeConfigStore) Get(_ context.Context, userID model.ID) (*model.RmsConfig, error) {
	c := s.cfg
	c.UserID = userID
	return &c, nil
}

type fakeAuditStore struct{}

func (fakeAuditStore) Record(_ context.Context, _ *model.RmsAuditEntry) error { return nil }

func newTestOrchestrator(t *testing.T, cfg model.RmsConfig, dispatch BrokerDispatcher, orchCfg Config) (*Orchestrator, *fakeRunStore, *fakeEventSink) {
	t.Helper()
	gate, err := rms.New(rms.Config{ExchangeTimezone: "Asia/Kolkata"}, newFakeCounterStore(), &fakeConfigStore{cfg: cfg}, fakeAuditStore{}, nil, nil)
	require.NoError(t, err)

	runs := newFakeRunStore()
	events := &fakeEventSink{}
	orch := New(gate, dispatch, fakeAccountResolver{}, fakeRefPricer{price: 100}, events, runs, newFakeOrderStore(), orchCfg, nil)
	return orch, runs, events
}

func fixedMapping(groupID model.ID, lots int, order int) model.GroupAccountMapping {
	fixed := lots
	return model.GroupAccountMapping{
		ID: model.NewID(), GroupID: groupID, AccountID: model.NewID(),
		Policy: model.PolicyFixed, FixedLots: &fixed, SortOrder: order,
	}
}

func TestOrchestrator_Run_ParallelAllSucceed(t *testing.T) {
	dispatch := &fakeDispatcher{results: map[string]broker.PlaceResult{}}
	orch, _, events := newTestOrchestrator(t, model.RmsConfig{}, dispatch, Config{MaxConcurrentLegs: 4, ParallelDeadline: 5 * time.Second})

	group := model.ExecutionGroup{ID: model.NewID(), Mode: model.GroupModeParallel}
	m1 := fixedMapping(group.ID, 1, 0)
	m2 := fixedMapping(group.ID, 1, 1)

	result, err := orch.Run(context.Background(), RunRequest{
		UserID:   model.NewID(),
		Group:    group,
		Mappings: []model.GroupAccountMapping{m1, m2},
		Intent:   model.TradeIntent{Symbol: "NIFTY", Side: model.SideBuy, TotalLots: 2, LotSize: 50, OrderType: model.OrderKindMarket},
	})

	require.NoError(t, err)
	require.Equal(t, model.RunSucceeded, result.Run.Status)
	require.Len(t, result.Events, 2)
	require.Len(t, events.events, 2)
}

func TestOrchestrator_Run_RMSTripPartial(t *testing.T) {
	maxDailyLots := 5
	dispatch := &fakeDispatcher{}
	orch, _, _ := newTestOrchestrator(t, model.RmsConfig{MaxDailyLots: &maxDailyLots}, dispatch, Config{MaxConcurrentLegs: 4, ParallelDeadline: 5 * time.Second})

	userID := model.NewID()

	group := model.ExecutionGroup{ID: model.NewID(), Mode: model.GroupModeParallel}
	m1 := fixedMapping(group.ID, 1, 0)
	m2 := fixedMapping(group.ID, 1, 1)
	m3 := fixedMapping(group.ID, 1, 2)

	// Pre-seed the counter to 4 via a direct PreTrade+Release-free reservation
	// so the first incoming leg (1 lot) lands exactly at the limit.
	_, err := orch.gate.PreTrade(context.Background(), userID, rms.LegRequest{
		AccountID: model.NewID(), Lots: 4, LotSize: 1, RefPrice: decimal.NewFromInt(100),
	}, time.Now())
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), RunRequest{
		UserID:   userID,
		Group:    group,
		Mappings: []model.GroupAccountMapping{m1, m2, m3},
		Intent:   model.TradeIntent{Symbol: "NIFTY", Side: model.SideBuy, TotalLots: 3, LotSize: 1, OrderType: model.OrderKindMarket},
	})

	require.NoError(t, err)
	require.Equal(t, model.RunPartial, result.Run.Status)

	successes, rejects := 0, 0
	for _, e := range result.Events {
		if e.Status.Successful() {
			successes++
		} else if e.Status == model.LegRejected {
			rejects++
		}
	}
	require.Equal(t, 1, successes)
	require.Equal(t, 2, rejects)
}

func TestOrchestrator_Run_SyncAbort(t *testing.T) {
	group := model.ExecutionGroup{ID: model.NewID(), Mode: model.GroupModeSync}
	m1 := fixedMapping(group.ID, 1, 0)
	m2 := fixedMapping(group.ID, 1, 1)
	m3 := fixedMapping(group.ID, 1, 2)

	dispatch := &fakeDispatcher{
		errs: map[string]error{
			m2.AccountID.String(): &broker.RejectionError{Message: "BROKER_REJECTED"},
		},
	}
	orch, _, _ := newTestOrchestrator(t, model.RmsConfig{}, dispatch, Config{SyncDeadline: 5 * time.Second})

	result, err := orch.Run(context.Background(), RunRequest{
		UserID:   model.NewID(),
		Group:    group,
		Mappings: []model.GroupAccountMapping{m1, m2, m3},
		Intent:   model.TradeIntent{Symbol: "NIFTY", Side: model.SideBuy, TotalLots: 3, LotSize: 1, OrderType: model.OrderKindMarket},
	})

	require.NoError(t, err)
	require.Equal(t, model.RunPartial, result.Run.Status)
	require.Len(t, result.Events, 3)

	byAccount := map[model.ID]model.LegStatus{}
	for _, e := range result.Events {
		byAccount[e.AccountID] = e.Status
	}
	require.Equal(t, model.LegFilled, byAccount[m1.AccountID])
	require.Equal(t, model.LegRejected, byAccount[m2.AccountID])
	require.Equal(t, model.LegCancelledBeforeSend, byAccount[m3.AccountID])
}

func TestOrchestrator_Run_NoEligibleAccounts(t *testing.T) {
	dispatch := &fakeDispatcher{}
	orch, _, _ := newTestOrchestrator(t, model.RmsConfig{}, dispatch, Config{ParallelDeadline: 5 * time.Second})

	result, err := orch.Run(context.Background(), RunRequest{
		UserID:   model.NewID(),
		Group:    model.ExecutionGroup{ID: model.NewID(), Mode: model.GroupModeParallel},
		Mappings: nil,
		Intent:   model.TradeIntent{Symbol: "NIFTY", TotalLots: 1, LotSize: 1},
	})

	require.NoError(t, err)
	require.Equal(t, model.RunFailed, result.Run.Status)
	require.Equal(t, "NO_ELIGIBLE_ACCOUNTS", result.Run.FailureCode)
}
