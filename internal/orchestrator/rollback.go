package orchestrator

import (
	"context"
	"time"

	"strategyexecutor/internal/broker"
	"strategyexecutor/internal/model"
)

// canceller is an optional capability of BrokerDispatcher; *broker.Registry
// implements it. When the dispatcher in use does not support
// cancellation (e.g. a test fake built only against the narrow
// Place-only interface), rollback records a rollback-skipped error
// event for each successful leg and leaves its reservation in place.
type canceller interface {
	Cancel(ctx context.Context, kind broker.Kind, link model.BrokerLink, brokerOrderID string) error
}

// rollback is the sync-mode-only unwind: best-effort cancel of every
// leg that finalised as accepted/filled before the abort, then marks
// the run RolledBack. It runs under its own deadline, equal to the
// run's own, on a fresh context — an unwind must not inherit whatever
// sliver was left of the original run window.
func (o *Orchestrator) rollback(ctx context.Context, run *model.ExecutionRun, legs []legState, priorEvents []model.ExecutionEvent, seq *sequencer) []model.ExecutionEvent {
	rollbackCtx, cancel := context.WithTimeout(context.Background(), o.cfg.rollbackDeadline())
	defer cancel()

	successfulOrder := map[model.ID]string{}
	for _, e := range priorEvents {
		if e.Status.Successful() && e.OrderID != nil {
			successfulOrder[e.AccountID] = e.OrderID.String()
		}
	}
	if len(successfulOrder) == 0 {
		return nil
	}

	cancellable, supportsCancel := o.dispatch.(canceller)

	var rollbackEvents []model.ExecutionEvent
	for _, leg := range legs {
		brokerOrderID, succeeded := successfulOrder[leg.leg.Mapping.AccountID]
		if !succeeded {
			continue
		}

		now := time.Now()
		if !supportsCancel {
			rollbackEvents = append(rollbackEvents, model.ExecutionEvent{
				ID:          model.NewID(),
				RunID:       run.ID,
				Sequence:    seq.next1(),
				AccountID:   leg.leg.Mapping.AccountID,
				Status:      model.LegError,
				RequestedAt: now,
				CompletedAt: &now,
				Message:     "rollback skipped: dispatcher does not support cancellation",
			})
			continue
		}
		if supportsCancel {
			if err := cancellable.Cancel(rollbackCtx, leg.account.AdapterKind, leg.account.Link, brokerOrderID); err != nil {
				rollbackEvents = append(rollbackEvents, model.ExecutionEvent{
					ID:          model.NewID(),
					RunID:       run.ID,
					Sequence:    seq.next1(),
					AccountID:   leg.leg.Mapping.AccountID,
					Status:      model.LegError,
					RequestedAt: now,
					CompletedAt: &now,
					Message:     "rollback cancel failed: " + err.Error(),
				})
				continue
			}
		}

		o.releaseLeg(rollbackCtx, leg)
		rollbackEvents = append(rollbackEvents, model.ExecutionEvent{
			ID:          model.NewID(),
			RunID:       run.ID,
			Sequence:    seq.next1(),
			AccountID:   leg.leg.Mapping.AccountID,
			Status:      model.LegCancelled,
			RequestedAt: now,
			CompletedAt: &now,
			Message:     "rolled back after sync-mode abort",
		})
	}

	run.Status = model.RunRolledBack
	return rollbackEvents
}
