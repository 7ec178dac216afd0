package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"strategyexecutor/internal/allocation"
	"strategyexecutor/internal/broker"
	"strategyexecutor/internal/model"
	"strategyexecutor/internal/rms"
)

// legState threads one dispatched-or-rejected leg through gating,
// dispatch and finalisation.
type legState struct {
	leg         allocation.Leg
	account     AccountContext
	reservation *rms.Reservation
	refPrice    decimal.Decimal
}

// gateAll resolves account context and runs PreTrade for every
// dispatched leg of the allocation, in allocation order. A leg that
// fails gating produces a terminal ExecutionEvent immediately and
// carries a nil reservation onward; it is never dispatched.
func (o *Orchestrator) gateAll(ctx context.Context, run *model.ExecutionRun, req RunRequest, alloc allocation.Allocation, seq *sequencer) ([]legState, []model.ExecutionEvent) {
	states := make([]legState, 0, len(alloc.Dispatched))
	events := make([]model.ExecutionEvent, 0, len(alloc.Dispatched)+len(alloc.Dropped))

	for _, dropped := range alloc.Dropped {
		events = append(events, o.terminalEvent(run.ID, seq.next1(), dropped.Mapping.AccountID, model.LegCancelledBeforeSend, "allocation assigned zero lots"))
	}

	for _, leg := range alloc.Dispatched {
		account, err := o.accounts.Resolve(ctx, leg.Mapping.AccountID)
		if err != nil {
			events = append(events, o.terminalEvent(run.ID, seq.next1(), leg.Mapping.AccountID, model.LegError, fmt.Sprintf("resolve account: %v", err)))
			states = append(states, legState{leg: leg})
			continue
		}

		refPrice, err := o.referencePrice(ctx, req.Intent)
		if err != nil {
			events = append(events, o.terminalEvent(run.ID, seq.next1(), leg.Mapping.AccountID, model.LegError, fmt.Sprintf("resolve reference price: %v", err)))
			states = append(states, legState{leg: leg, account: account})
			continue
		}

		reservation, err := o.gate.PreTrade(ctx, req.UserID, rms.LegRequest{
			AccountID: leg.Mapping.AccountID,
			Lots:      leg.Lots,
			LotSize:   req.Intent.LotSize,
			RefPrice:  refPrice,
		}, time.Now())
		if err != nil {
			var violation *rms.ViolationError
			message := err.Error()
			if errors.As(err, &violation) {
				message = violation.Message
			}
			events = append(events, o.terminalEvent(run.ID, seq.next1(), leg.Mapping.AccountID, model.LegRejected, message))
			states = append(states, legState{leg: leg, account: account, refPrice: refPrice})
			continue
		}

		states = append(states, legState{leg: leg, account: account, reservation: reservation, refPrice: refPrice})
	}

	return states, events
}

func (o *Orchestrator) referencePrice(ctx context.Context, intent model.TradeIntent) (decimal.Decimal, error) {
	if intent.Price != nil {
		return decimal.NewFromFloat(*intent.Price), nil
	}
	if o.prices == nil {
		return decimal.Zero, fmt.Errorf("no reference price available for market order on %s", intent.Symbol)
	}
	return o.prices.RefPrice(ctx, intent.Symbol)
}

func (o *Orchestrator) terminalEvent(runID model.ID, seq uint64, accountID model.ID, status model.LegStatus, message string) model.ExecutionEvent {
	now := time.Now()
	return model.ExecutionEvent{
		ID:          model.NewID(),
		RunID:       runID,
		Sequence:    seq,
		AccountID:   accountID,
		Status:      status,
		RequestedAt: now,
		CompletedAt: &now,
		Message:     message,
	}
}

// dispatchByMode fans the accepted legs of states out to the broker
// registry according to the group's mode, and returns the resulting
// terminal ExecutionEvents plus the Order IDs created along the way.
func (o *Orchestrator) dispatchByMode(ctx context.Context, run *model.ExecutionRun, req RunRequest, states []legState, seq *sequencer) ([]model.ExecutionEvent, []model.ID) {
	// seq is the same sequencer gateAll drew from, so dispatch events
	// continue the run's sequence rather than restarting it.
	accepted := make([]legState, 0, len(states))
	for _, s := range states {
		if s.reservation != nil {
			accepted = append(accepted, s)
		}
	}
	if len(accepted) == 0 {
		return nil, nil
	}

	switch req.Group.Mode {
	case model.GroupModeSync:
		return o.dispatchSync(ctx, run, req, accepted, seq)
	case model.GroupModeStaggered:
		return o.dispatchStaggered(ctx, run, req, accepted, seq)
	default:
		return o.dispatchParallel(ctx, run, req, accepted, seq)
	}
}

func (o *Orchestrator) dispatchParallel(ctx context.Context, run *model.ExecutionRun, req RunRequest, legs []legState, seq *sequencer) ([]model.ExecutionEvent, []model.ID) {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		events  []model.ExecutionEvent
		orderIDs []model.ID
	)

	limit := o.cfg.maxConcurrentLegs()
	sem := make(chan struct{}, limit)

	for _, leg := range legs {
		leg := leg
		select {
		case <-ctx.Done():
			mu.Lock()
			events = append(events, o.terminalEvent(run.ID, seq.next1(), leg.leg.Mapping.AccountID, model.LegCancelledBeforeSend, "run cancelled before dispatch"))
			mu.Unlock()
			o.releaseIfRejected(ctx, leg)
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			orderID, event := o.dispatchLeg(ctx, run, req, leg, seq)
			mu.Lock()
			events = append(events, event)
			if orderID != model.ZeroID {
				orderIDs = append(orderIDs, orderID)
			}
			mu.Unlock()
		}()
	}

	wg.Wait()
	return events, orderIDs
}

func (o *Orchestrator) dispatchSync(ctx context.Context, run *model.ExecutionRun, req RunRequest, legs []legState, seq *sequencer) ([]model.ExecutionEvent, []model.ID) {
	events := make([]model.ExecutionEvent, 0, len(legs))
	orderIDs := make([]model.ID, 0, len(legs))
	aborted := false

	for _, leg := range legs {
		if aborted {
			events = append(events, o.terminalEvent(run.ID, seq.next1(), leg.leg.Mapping.AccountID, model.LegCancelledBeforeSend, "aborted: prior leg failed in sync mode"))
			o.releaseIfRejected(ctx, leg)
			continue
		}
		if ctx.Err() != nil {
			events = append(events, o.terminalEvent(run.ID, seq.next1(), leg.leg.Mapping.AccountID, model.LegCancelledBeforeSend, "run cancelled before dispatch"))
			o.releaseIfRejected(ctx, leg)
			continue
		}

		orderID, event := o.dispatchLeg(ctx, run, req, leg, seq)
		events = append(events, event)
		if orderID != model.ZeroID {
			orderIDs = append(orderIDs, orderID)
		}
		if !event.Status.Successful() {
			aborted = true
		}
	}

	if aborted && o.cfg.RollbackEnabled && req.Group.Mode == model.GroupModeSync {
		events = append(events, o.rollback(ctx, run, legs, events, seq)...)
	}

	return events, orderIDs
}

func (o *Orchestrator) dispatchStaggered(ctx context.Context, run *model.ExecutionRun, req RunRequest, legs []legState, seq *sequencer) ([]model.ExecutionEvent, []model.ID) {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		events   []model.ExecutionEvent
		orderIDs []model.ID
		failures int
	)

	threshold := o.cfg.staggerFailureThreshold()
	delay := o.cfg.staggerDelay()
	sem := make(chan struct{}, o.cfg.maxConcurrentLegs())

	for i, leg := range legs {
		leg := leg
		if i > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
		}

		mu.Lock()
		cancelled := failures >= threshold
		mu.Unlock()
		if cancelled || ctx.Err() != nil {
			message := "run cancelled before dispatch"
			if cancelled {
				message = "cancelled: staggered failure threshold reached"
			}
			mu.Lock()
			events = append(events, o.terminalEvent(run.ID, seq.next1(), leg.leg.Mapping.AccountID, model.LegCancelledBeforeSend, message))
			mu.Unlock()
			o.releaseIfRejected(ctx, leg)
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			orderID, event := o.dispatchLeg(ctx, run, req, leg, seq)
			mu.Lock()
			events = append(events, event)
			if orderID != model.ZeroID {
				orderIDs = append(orderIDs, orderID)
			}
			if !event.Status.Successful() {
				failures++
			}
			mu.Unlock()
		}()
	}

	wg.Wait()
	return events, orderIDs
}

// dispatchLeg places one accepted leg's order through the broker
// dispatcher, persists its Order row and returns the leg's terminal
// ExecutionEvent. On failure it releases the leg's RMS reservation.
func (o *Orchestrator) dispatchLeg(ctx context.Context, run *model.ExecutionRun, req RunRequest, leg legState, seq *sequencer) (model.ID, model.ExecutionEvent) {
	requestedAt := time.Now()
	sequence := seq.next1()

	order := &model.Order{
		ID:         model.NewID(),
		RunID:      run.ID,
		AccountID:  leg.leg.Mapping.AccountID,
		StrategyID: req.Intent.StrategyID,
		Symbol:     req.Intent.Symbol,
		Side:       req.Intent.Side,
		Quantity:   leg.leg.Lots * req.Intent.LotSize,
		OrderType:  req.Intent.OrderType,
		Price:      req.Intent.Price,
		TakeProfit: req.Intent.TakeProfit,
		StopLoss:   req.Intent.StopLoss,
		Status:     model.OrderStatusPending,
	}
	if o.orders != nil {
		if err := o.orders.Create(ctx, order); err != nil {
			o.log.WithError(err).Error("persist order row failed")
		}
	}

	intent := broker.OrderIntent{
		AccountRef: leg.account.Account.BrokerAccountRef,
		Symbol:     req.Intent.Symbol,
		Side:       req.Intent.Side,
		Quantity:   order.Quantity,
		OrderType:  req.Intent.OrderType,
		Price:      req.Intent.Price,
		TakeProfit: req.Intent.TakeProfit,
		StopLoss:   req.Intent.StopLoss,
		ClientTag:  run.ID.String(),
	}

	result, err := o.dispatch.Place(ctx, leg.account.AdapterKind, leg.account.Link, intent)
	completedAt := time.Now()
	latency := completedAt.Sub(requestedAt).Seconds() * 1000

	event := model.ExecutionEvent{
		ID:          model.NewID(),
		RunID:       run.ID,
		Sequence:    sequence,
		AccountID:   leg.leg.Mapping.AccountID,
		OrderID:     &order.ID,
		RequestedAt: requestedAt,
		CompletedAt: &completedAt,
		LatencyMs:   &latency,
	}

	if err != nil {
		o.releaseLeg(ctx, leg)
		event.Status = classifyDispatchError(err)
		event.Message = err.Error()
		if o.orders != nil {
			_ = o.orders.UpdateStatus(ctx, order.ID, model.OrderStatusRejected, "")
		}
		return order.ID, event
	}

	event.Status = result.Status
	event.Message = result.Message
	if o.orders != nil {
		status := model.OrderStatusAccepted
		if result.Status == model.LegFilled {
			status = model.OrderStatusFilled
		}
		_ = o.orders.UpdateStatus(ctx, order.ID, status, result.BrokerOrderID)
	}
	if !result.Status.Successful() {
		o.releaseLeg(ctx, leg)
	}
	return order.ID, event
}

func classifyDispatchError(err error) model.LegStatus {
	var rejection *broker.RejectionError
	if errors.As(err, &rejection) || errors.Is(err, broker.ErrRejected) {
		return model.LegRejected
	}
	return model.LegError
}

func (o *Orchestrator) releaseLeg(ctx context.Context, leg legState) {
	if leg.reservation == nil {
		return
	}
	if err := o.gate.Release(ctx, leg.reservation); err != nil {
		o.log.WithError(err).Warn("release RMS reservation failed")
	}
}

func (o *Orchestrator) releaseIfRejected(ctx context.Context, leg legState) {
	o.releaseLeg(ctx, leg)
}

// computeLatencyAggregate summarises latency_ms (count, avg, p50,
// p95) over every event that carries one.
func computeLatencyAggregate(events []model.ExecutionEvent) model.LatencyAggregate {
	values := make([]float64, 0, len(events))
	for _, e := range events {
		if e.LatencyMs != nil {
			values = append(values, *e.LatencyMs)
		}
	}
	if len(values) == 0 {
		return model.LatencyAggregate{}
	}
	sort.Float64s(values)

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return model.LatencyAggregate{
		Count: len(values),
		AvgMs: sum / float64(len(values)),
		P50Ms: percentile(values, 0.50),
		P95Ms: percentile(values, 0.95),
	}
}

// percentile assumes values is already sorted ascending.
func percentile(values []float64, p float64) float64 {
	if len(values) == 1 {
		return values[0]
	}
	idx := p * float64(len(values)-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= len(values) {
		return values[lo]
	}
	frac := idx - float64(lo)
	return values[lo]*(1-frac) + values[hi]*frac
}
