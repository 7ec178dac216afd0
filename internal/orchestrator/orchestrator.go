// Package orchestrator implements the Execution Orchestrator:
// the per-run state machine that plans an allocation, gates each leg
// through the RMS, fans dispatch out to broker adapters according to
// the group's mode, and finalises the run's aggregate outcome.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"strategyexecutor/internal/allocation"
	"strategyexecutor/internal/broker"
	"strategyexecutor/internal/model"
	"strategyexecutor/internal/rms"
)

// AccountContext is what the orchestrator needs to dispatch a leg for
// one account: the account row and the BrokerLink + adapter kind that
// owns it.
type AccountContext struct {
	Account     model.Account
	Link        model.BrokerLink
	AdapterKind broker.Kind
}

// AccountResolver resolves per-account dispatch context. Implemented
// over internal/repository in production, faked in tests.
type AccountResolver interface {
	Resolve(ctx context.Context, accountID model.ID) (AccountContext, error)
}

// RefPricer supplies a reference price for RMS notional sizing when
// the TradeIntent itself carries none (market orders). Market-data
// feeds are an explicit non-goal; this is the one narrow seam
// through which a caller can wire one in.
type RefPricer interface {
	RefPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// BrokerDispatcher is the subset of *broker.Registry the orchestrator
// calls; narrowed to an interface so tests can substitute a fake.
type BrokerDispatcher interface {
	Place(ctx context.Context, kind broker.Kind, link model.BrokerLink, intent broker.OrderIntent) (broker.PlaceResult, error)
}

// EventSink is the append-only write side of the Execution Event
// Store the orchestrator writes telemetry through.
type EventSink interface {
	Append(ctx context.Context, event *model.ExecutionEvent) error
}

// RunStore persists ExecutionRun rows. Create happens on entering
// Planning; Update is called once per run, for the terminal write.
type RunStore interface {
	Create(ctx context.Context, run *model.ExecutionRun) error
	Update(ctx context.Context, run *model.ExecutionRun) error
}

// OrderStore persists the Order row backing each dispatched leg.
type OrderStore interface {
	Create(ctx context.Context, order *model.Order) error
	UpdateStatus(ctx context.Context, orderID model.ID, status model.OrderStatus, brokerOrderID string) error
}

// RunRecorder observes terminal run/leg outcomes for the /metrics
// surface (internal/metrics.Collectors implements this). Optional.
type RunRecorder interface {
	RecordRun(mode string, status string, legLatenciesMs []float64)
	RecordLeg(status string)
}

// RunRequest is the full input to one Orchestrator.Run call: the
// group and its resolved mappings, the intent to fan out, and the
// optional StrategyRun that owns this execution.
type RunRequest struct {
	UserID        model.ID
	Group         model.ExecutionGroup
	Mappings      []model.GroupAccountMapping
	Intent        model.TradeIntent
	StrategyRunID *model.ID
	Simulated     bool // backtest mode: synthetic events, no broker calls
}

// Orchestrator drives ExecutionRuns through the per-run state machine.
// One Orchestrator instance serves every run across every user;
// concurrency across runs is unbounded, concurrency within one run's
// leg dispatch is bounded by Config.MaxConcurrentLegs.
type Orchestrator struct {
	planner   func([]model.GroupAccountMapping, int) (allocation.Allocation, error)
	gate      *rms.Gate
	dispatch  BrokerDispatcher
	accounts  AccountResolver
	prices    RefPricer
	events    EventSink
	runs      RunStore
	orders    OrderStore
	cfg       Config
	metrics   RunRecorder

	mu      sync.Mutex
	cancels map[model.ID]context.CancelFunc

	log *logger.Entry
}

// WithMetrics attaches the /metrics run/leg recorder. Returns the
// receiver so it can be chained onto New's result.
func (o *Orchestrator) WithMetrics(m RunRecorder) *Orchestrator {
	o.metrics = m
	return o
}

func New(
	gate *rms.Gate,
	dispatch BrokerDispatcher,
	accounts AccountResolver,
	prices RefPricer,
	events EventSink,
	runs RunStore,
	orders OrderStore,
	cfg Config,
	log *logger.Entry,
) *Orchestrator {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	return &Orchestrator{
		planner:  allocation.Plan,
		gate:     gate,
		dispatch: dispatch,
		accounts: accounts,
		prices:   prices,
		events:   events,
		runs:     runs,
		orders:   orders,
		cfg:      cfg,
		cancels:  map[model.ID]context.CancelFunc{},
		log:      log.WithField("component", "orchestrator.Orchestrator"),
	}
}

// Result is what Run returns: the terminal ExecutionRun row plus the
// per-leg events recorded along the way, in sequence order.
type Result struct {
	Run    *model.ExecutionRun
	Events []model.ExecutionEvent
	Orders []model.ID
}

// Run drives one ExecutionRun from Created through to a terminal
// state. It never returns an error for a business-level failure (a
// Failed/Partial run is a normal Result); it only returns an error for
// infrastructure faults (persistence failures, invariant violations).
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*Result, error) {
	run := &model.ExecutionRun{
		ID:          model.NewID(),
		UserID:      req.UserID,
		GroupID:     &req.Group.ID,
		RequestedAt: time.Now(),
		Status:      model.RunPending,
	}
	if req.StrategyRunID != nil {
		run.StrategyRunID = req.StrategyRunID
	}
	if err := o.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("orchestrator: persist run: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.deadlineFor(req.Group.Mode))
	o.mu.Lock()
	o.cancels[run.ID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.cancels, run.ID)
		o.mu.Unlock()
		cancel()
	}()

	// Planning.
	planStart := time.Now()
	alloc, err := o.planner(req.Mappings, req.Intent.TotalLots)
	if o.metrics != nil {
		if observer, ok := o.metrics.(interface{ ObservePlan(time.Time) }); ok {
			observer.ObservePlan(planStart)
		}
	}
	if err != nil {
		run.Status = model.RunFailed
		run.FailureCode = "NO_ELIGIBLE_ACCOUNTS"
		now := time.Now()
		run.CompletedAt = &now
		_ = o.runs.Update(ctx, run)
		o.recordMetrics(req.Group.Mode, run, nil)
		return &Result{Run: run}, nil
	}

	// Gating.
	seq := &sequencer{}
	legs, events := o.gateAll(runCtx, run, req, alloc, seq)

	allRejected := true
	for _, leg := range legs {
		if leg.reservation != nil {
			allRejected = false
			break
		}
	}
	if allRejected {
		run.Status = model.RunFailed
		run.FailureCode = "RMS_REJECTED_ALL_LEGS"
		now := time.Now()
		run.CompletedAt = &now
		o.finishLatency(run, events)
		o.appendEvents(ctx, events)
		_ = o.runs.Update(ctx, run)
		o.recordMetrics(req.Group.Mode, run, events)
		return &Result{Run: run, Events: events}, nil
	}

	// Dispatching.
	dispatched, orderIDs := o.dispatchByMode(runCtx, run, req, legs, seq)
	events = append(events, dispatched...)
	sort.SliceStable(events, func(i, j int) bool { return events[i].Sequence < events[j].Sequence })
	o.appendEvents(ctx, events)

	// Finalising.
	o.finalize(run, events)
	now := time.Now()
	run.CompletedAt = &now
	if err := o.runs.Update(ctx, run); err != nil {
		return nil, fmt.Errorf("orchestrator: persist terminal run: %w", err)
	}
	o.recordMetrics(req.Group.Mode, run, events)

	return &Result{Run: run, Events: events, Orders: orderIDs}, nil
}

// Cancel requests cooperative cancellation of a running run:
// pending legs observe ctx.Done() before their next suspension point
// and stop; a leg already mid-dispatch runs to completion.
func (o *Orchestrator) Cancel(runID model.ID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	cancel, ok := o.cancels[runID]
	if ok {
		cancel()
	}
	return ok
}

// finalize maps the run's recorded events onto its terminal status:
// all successful -> Succeeded, mixed -> Partial, none -> Failed.
func (o *Orchestrator) finalize(run *model.ExecutionRun, events []model.ExecutionEvent) {
	succeeded, failed := 0, 0
	for _, e := range events {
		if e.Status.Successful() {
			succeeded++
		} else {
			failed++
		}
	}

	if run.Status != model.RunRolledBack {
		switch {
		case succeeded > 0 && failed == 0:
			run.Status = model.RunSucceeded
		case succeeded > 0 && failed > 0:
			run.Status = model.RunPartial
		default:
			run.Status = model.RunFailed
			run.FailureCode = "ALL_LEGS_FAILED"
		}
	}
	o.finishLatency(run, events)
}

func (o *Orchestrator) finishLatency(run *model.ExecutionRun, events []model.ExecutionEvent) {
	run.Latency = computeLatencyAggregate(events)
}

// recordMetrics reports the terminal run status and per-leg latencies
// to the attached RunRecorder, if any.
func (o *Orchestrator) recordMetrics(mode model.GroupMode, run *model.ExecutionRun, events []model.ExecutionEvent) {
	if o.metrics == nil {
		return
	}
	latencies := make([]float64, 0, len(events))
	for _, e := range events {
		if e.LatencyMs != nil {
			latencies = append(latencies, *e.LatencyMs)
		}
		o.metrics.RecordLeg(string(e.Status))
	}
	o.metrics.RecordRun(string(mode), string(run.Status), latencies)
}

// appendEvents writes every event to the Execution Event Store.
// A store failure is logged, never fatal to the run — the in-memory
// Result still carries the full event list back to the caller.
func (o *Orchestrator) appendEvents(ctx context.Context, events []model.ExecutionEvent) {
	if o.events == nil {
		return
	}
	for i := range events {
		if err := o.events.Append(ctx, &events[i]); err != nil {
			o.log.WithError(err).Warn("append execution event failed")
		}
	}
}

// sequencer hands out a monotonically increasing per-run sequence
// number; its zero value starts at 1 so sequence 0 can mean "unset".
type sequencer struct {
	mu   sync.Mutex
	next uint64
}

func (s *sequencer) next1() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return s.next
}
