package strategyrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"strategyexecutor/internal/model"
)

// TriggerStore is the Strategy/StrategyRun persistence seam the
// trigger adapter writes through, satisfied by
// internal/repository.StrategyRepository.
type TriggerStore interface {
	GetByID(ctx context.Context, strategyID model.ID) (*model.Strategy, error)
	CreateRun(ctx context.Context, run *model.StrategyRun) error
	UpdateRun(ctx context.Context, run *model.StrategyRun) error
}

// triggerContext is the wire shape of a ScheduledJob's stored context
// blob and of a transformed webhook payload: the subset of
// Configuration a trigger can carry, plus the run mode.
type triggerContext struct {
	Mode             model.StrategyMode `json:"mode,omitempty"`
	ExecutionGroupID *string            `json:"execution_group_id,omitempty"`
	Symbol           string             `json:"symbol,omitempty"`
	Side             model.OrderSide    `json:"side,omitempty"`
	Lots             int                `json:"lots,omitempty"`
	LotSize          int                `json:"lot_size,omitempty"`
	OrderType        model.OrderKind    `json:"order_type,omitempty"`
	Price            *float64           `json:"price,omitempty"`
	TakeProfit       *float64           `json:"take_profit,omitempty"`
	StopLoss         *float64           `json:"stop_loss,omitempty"`
	EntryPrice       *float64           `json:"entry_price,omitempty"`
	ExitPrice        *float64           `json:"exit_price,omitempty"`
}

// resultEnvelope is what Trigger persists onto
// StrategyRun.ResultMetricsJSON — the same shape the HTTP start
// handler stores, so the logs endpoint reads both identically.
type resultEnvelope struct {
	Metrics          map[string]any `json:"metrics"`
	Logs             []LogEntry     `json:"logs"`
	ExecutionSummary map[string]any `json:"execution_summary,omitempty"`
}

// Trigger adapts a fired ScheduledJob or deduplicated webhook delivery
// onto a full StrategyRun: it owns the translation from the loose
// context blob the scheduler carries into a typed Configuration, and
// the StrategyRun row lifecycle around one Runner.Run call. It
// implements internal/scheduler.RunTrigger.
type Trigger struct {
	runner *Runner
	store  TriggerStore
	now    func() time.Time
	log    *logger.Entry
}

func NewTrigger(runner *Runner, store TriggerStore, log *logger.Entry) *Trigger {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	return &Trigger{
		runner: runner,
		store:  store,
		now:    time.Now,
		log:    log.WithField("component", "strategyrunner.Trigger"),
	}
}

// TriggerStrategyRun loads the bound strategy, persists a StrategyRun
// under the caller-chosen id (the webhook idempotency ledger records
// that id before the run exists, so it must be honored, not
// regenerated), executes it and persists the outcome.
func (t *Trigger) TriggerStrategyRun(ctx context.Context, strategyID, strategyRunID model.ID, contextData map[string]any) error {
	strategy, err := t.store.GetByID(ctx, strategyID)
	if err != nil {
		return fmt.Errorf("strategyrunner: load strategy %s: %w", strategyID, err)
	}
	if strategy == nil {
		return fmt.Errorf("strategyrunner: strategy %s not found", strategyID)
	}
	if strategy.Status == model.StrategyStopped {
		return fmt.Errorf("strategyrunner: strategy %s is stopped", strategyID)
	}

	tc, err := decodeTriggerContext(contextData)
	if err != nil {
		return err
	}
	mode := tc.Mode
	if mode == "" {
		mode = model.ModePaper
	}

	cfg := Configuration{
		Symbol:     tc.Symbol,
		Side:       tc.Side,
		Lots:       tc.Lots,
		LotSize:    tc.LotSize,
		OrderType:  tc.OrderType,
		Price:      tc.Price,
		TakeProfit: tc.TakeProfit,
		StopLoss:   tc.StopLoss,
		EntryPrice: tc.EntryPrice,
		ExitPrice:  tc.ExitPrice,
	}
	if tc.ExecutionGroupID != nil {
		groupID, err := model.ParseID(*tc.ExecutionGroupID)
		if err != nil {
			return fmt.Errorf("strategyrunner: invalid execution_group_id in trigger context: %w", err)
		}
		cfg.ExecutionGroupID = &groupID
	}

	run := &model.StrategyRun{
		ID:         strategyRunID,
		StrategyID: strategy.ID,
		Mode:       mode,
		Status:     model.StrategyRunRunning,
		StartedAt:  t.now(),
	}
	if err := t.store.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("strategyrunner: create strategy run: %w", err)
	}

	t.log.WithFields(logger.Fields{
		"strategy_id": strategy.ID,
		"run_id":      run.ID,
		"mode":        mode,
	}).Info("triggered strategy run")

	result, runErr := t.runner.Run(ctx, strategy.UserID, strategy, run, mode, cfg)

	finishedAt := t.now()
	run.FinishedAt = &finishedAt
	if result != nil {
		envelope := resultEnvelope{Metrics: result.Metrics, Logs: result.Logs, ExecutionSummary: result.ExecutionSummary}
		if raw, marshalErr := json.Marshal(envelope); marshalErr == nil {
			run.ResultMetricsJSON = string(raw)
		}
	}
	if runErr != nil {
		run.Status = model.StrategyRunFailed
	} else {
		run.Status = model.StrategyRunSucceeded
	}
	if err := t.store.UpdateRun(ctx, run); err != nil {
		t.log.WithError(err).Error("persist triggered strategy run outcome failed")
	}
	return runErr
}

// decodeTriggerContext round-trips the loose map through encoding/json
// so numeric fields land in their typed homes; a lots value of 2.5 is
// a context error, not a silent truncation.
func decodeTriggerContext(contextData map[string]any) (*triggerContext, error) {
	raw, err := json.Marshal(contextData)
	if err != nil {
		return nil, fmt.Errorf("strategyrunner: encode trigger context: %w", err)
	}
	var tc triggerContext
	if err := json.Unmarshal(raw, &tc); err != nil {
		return nil, fmt.Errorf("strategyrunner: decode trigger context: %w", err)
	}
	return &tc, nil
}
