// Package strategyrunner implements the Strategy Runner: backtest,
// paper and live strategy executions sharing one orchestration path so
// behaviour is invariant across promotion between modes.
package strategyrunner

import (
	"context"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"strategyexecutor/internal/model"
	"strategyexecutor/internal/orchestrator"
)

// LogLevel classifies one strategy-run log line.
type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogEntry is one structured line a run emits, returned to the caller
// rather than written directly so the HTTP/scheduler layer decides
// where it's persisted (strategy log table, audit trail, etc).
type LogEntry struct {
	Level    LogLevel
	Message  string
	Metadata map[string]any
}

// RunResult is what one Run call produces: the metrics block persisted
// onto StrategyRun.ResultMetricsJSON, the logs emitted along the way,
// and (for live/paper) the orchestrator execution summary.
type RunResult struct {
	Metrics          map[string]any
	Logs             []LogEntry
	ExecutionSummary map[string]any
}

// Configuration is the strategy-run input a caller supplies, the typed
// equivalent of a free-form configuration blob.
type Configuration struct {
	ExecutionGroupID *model.ID
	Symbol           string
	Side             model.OrderSide
	Lots             int
	LotSize          int
	OrderType        model.OrderKind
	Price            *float64
	TakeProfit       *float64
	StopLoss         *float64

	// EntryPrice/ExitPrice are backtest-only inputs.
	EntryPrice *float64
	ExitPrice  *float64
}

// GroupLookup resolves an ExecutionGroup and its account mappings for
// live/paper dispatch.
type GroupLookup interface {
	Get(ctx context.Context, userID, groupID model.ID) (*model.ExecutionGroup, error)
	Mappings(ctx context.Context, groupID model.ID) ([]model.GroupAccountMapping, error)
}

// RunDispatcher is the subset of *orchestrator.Orchestrator the runner
// calls, narrowed so tests can substitute a fake.
type RunDispatcher interface {
	Run(ctx context.Context, req orchestrator.RunRequest) (*orchestrator.Result, error)
}

// StrategyStore persists the error-budget bookkeeping: errors
// exceeding a configured count within a window stop the Strategy.
type StrategyStore interface {
	RecordError(ctx context.Context, strategyID model.ID, windowStart time.Time) (int, error)
	Stop(ctx context.Context, strategyID model.ID) error
	LinkExecutionRun(ctx context.Context, strategyRunID, executionRunID model.ID) error
}

// Runner executes StrategyRuns in backtest/paper/live mode.
type Runner struct {
	dispatch    RunDispatcher
	groups      GroupLookup
	strategies  StrategyStore
	errorWindow time.Duration
	maxErrors   int
	now         func() time.Time
	log         *logger.Entry
}

func New(cfg Config, dispatch RunDispatcher, groups GroupLookup, strategies StrategyStore, log *logger.Entry) (*Runner, error) {
	window, err := time.ParseDuration(cfg.ErrorWindow)
	if err != nil {
		return nil, fmt.Errorf("strategyrunner: parse error window %q: %w", cfg.ErrorWindow, err)
	}
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	return &Runner{
		dispatch:    dispatch,
		groups:      groups,
		strategies:  strategies,
		errorWindow: window,
		maxErrors:   cfg.MaxErrors,
		now:         time.Now,
		log:         log.WithField("component", "strategyrunner.Runner"),
	}, nil
}

// Run executes one StrategyRun. On a validation failure it records the
// error against the strategy's error budget and stops the strategy once
// the budget is exceeded, then returns the error; infrastructure faults
// from the orchestrator propagate the same way.
func (r *Runner) Run(ctx context.Context, userID model.ID, strategy *model.Strategy, run *model.StrategyRun, mode model.StrategyMode, cfg Configuration) (*RunResult, error) {
	r.log.WithFields(logger.Fields{
		"strategy_id": strategy.ID,
		"run_id":      run.ID,
		"mode":        mode,
	}).Debug("executing strategy run")

	result := &RunResult{
		Metrics: map[string]any{
			"status":      "completed",
			"finished_at": r.now(),
			"pnl":         0.0,
			"trades":      0,
		},
	}

	var err error
	switch mode {
	case model.ModePaper, model.ModeLive:
		result.ExecutionSummary, err = r.executeLiveOrPaper(ctx, userID, strategy, run, cfg)
		if err == nil && result.ExecutionSummary != nil {
			if orders, ok := result.ExecutionSummary["order_count"].(int); ok {
				result.Metrics["orders"] = orders
				result.Metrics["trades"] = orders
			}
			for _, key := range []string{"total_lots", "lot_size", "latency_ms", "leg_status_counts"} {
				if v, ok := result.ExecutionSummary[key]; ok {
					result.Metrics[key] = v
				}
			}
			if runID, ok := result.ExecutionSummary["execution_run_id"].(model.ID); ok {
				result.Metrics["execution_run_id"] = runID.String()
			}
			result.Logs = append(result.Logs, LogEntry{
				Level:   LevelInfo,
				Message: fmt.Sprintf("%s execution dispatched", mode),
				Metadata: map[string]any{
					"execution_run_id": result.ExecutionSummary["execution_run_id"],
					"orders":           result.ExecutionSummary["order_count"],
					"symbol":           result.ExecutionSummary["symbol"],
					"side":             result.ExecutionSummary["side"],
					"lots":             result.ExecutionSummary["total_lots"],
				},
			})
		}
	case model.ModeBacktest:
		result.ExecutionSummary, err = simulateBacktest(cfg)
		if err == nil {
			result.Metrics["orders"] = result.ExecutionSummary["order_count"]
			result.Metrics["trades"] = result.ExecutionSummary["order_count"]
			result.Metrics["pnl"] = result.ExecutionSummary["pnl"]
			result.Logs = append(result.Logs,
				LogEntry{Level: LevelInfo, Message: "backtest simulation executed", Metadata: map[string]any{
					"entry_price": result.ExecutionSummary["entry_price"],
					"exit_price":  result.ExecutionSummary["exit_price"],
					"pnl":         result.ExecutionSummary["pnl"],
					"quantity":    result.ExecutionSummary["quantity"],
				}},
				LogEntry{Level: LevelInfo, Message: "backtest simulation completed", Metadata: map[string]any{
					"orders": result.ExecutionSummary["order_count"],
					"side":   result.ExecutionSummary["side"],
				}},
			)
		}
	default:
		err = fmt.Errorf("strategyrunner: unsupported strategy mode %q", mode)
	}

	result.Metrics["finished_at"] = r.now()

	if err != nil {
		r.recordFailure(ctx, strategy, err)
		return result, err
	}
	return result, nil
}

func (r *Runner) recordFailure(ctx context.Context, strategy *model.Strategy, cause error) {
	windowStart := r.now().Add(-r.errorWindow)
	count, recErr := r.strategies.RecordError(ctx, strategy.ID, windowStart)
	if recErr != nil {
		r.log.WithError(recErr).Warn("record strategy error failed")
		return
	}
	r.log.WithFields(logger.Fields{"strategy_id": strategy.ID, "error_count": count}).WithError(cause).Warn("strategy run failed")
	if count > r.maxErrors {
		if err := r.strategies.Stop(ctx, strategy.ID); err != nil {
			r.log.WithError(err).Warn("stop strategy after error budget exceeded failed")
			return
		}
		r.log.WithField("strategy_id", strategy.ID).Warn("strategy stopped: error budget exceeded")
	}
}

func (r *Runner) executeLiveOrPaper(ctx context.Context, userID model.ID, strategy *model.Strategy, run *model.StrategyRun, cfg Configuration) (map[string]any, error) {
	if cfg.ExecutionGroupID == nil {
		return nil, fmt.Errorf("strategyrunner: execution_group_id is required for live/paper execution")
	}
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("strategyrunner: symbol is required for live/paper execution")
	}
	if cfg.Side == "" {
		return nil, fmt.Errorf("strategyrunner: side is required for live/paper execution")
	}
	if cfg.Lots <= 0 {
		return nil, fmt.Errorf("strategyrunner: lots is required for live/paper execution")
	}
	lotSize := cfg.LotSize
	if lotSize <= 0 {
		lotSize = 1
	}
	orderType := cfg.OrderType
	if orderType == "" {
		orderType = model.OrderKindMarket
	}

	group, err := r.groups.Get(ctx, userID, *cfg.ExecutionGroupID)
	if err != nil {
		return nil, fmt.Errorf("strategyrunner: load execution group: %w", err)
	}
	if group == nil {
		return nil, fmt.Errorf("strategyrunner: execution group %s not found", *cfg.ExecutionGroupID)
	}
	mappings, err := r.groups.Mappings(ctx, group.ID)
	if err != nil {
		return nil, fmt.Errorf("strategyrunner: load group mappings: %w", err)
	}

	intent := model.TradeIntent{
		Symbol:     cfg.Symbol,
		Side:       cfg.Side,
		TotalLots:  cfg.Lots,
		LotSize:    lotSize,
		OrderType:  orderType,
		Price:      cfg.Price,
		TakeProfit: cfg.TakeProfit,
		StopLoss:   cfg.StopLoss,
		StrategyID: &strategy.ID,
	}

	r.log.WithFields(logger.Fields{
		"strategy_id": strategy.ID,
		"run_id":      run.ID,
		"group_id":    group.ID,
		"symbol":      intent.Symbol,
		"side":        intent.Side,
		"lots":        intent.TotalLots,
	}).Info("dispatching strategy order")

	res, err := r.dispatch.Run(ctx, orchestrator.RunRequest{
		UserID:        userID,
		Group:         *group,
		Mappings:      mappings,
		Intent:        intent,
		StrategyRunID: &run.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("strategyrunner: dispatch execution: %w", err)
	}

	if res.Run != nil {
		if err := r.strategies.LinkExecutionRun(ctx, run.ID, res.Run.ID); err != nil {
			r.log.WithError(err).Warn("link execution run to strategy run failed")
		}
	}

	legStatusCounts := map[string]int{}
	for _, e := range res.Events {
		status := string(e.Status)
		legStatusCounts[status]++
	}

	var latencyMs *float64
	if res.Run != nil && res.Run.Latency.Count > 0 {
		v := res.Run.Latency.AvgMs
		latencyMs = &v
	}

	summary := map[string]any{
		"order_count":       len(res.Orders),
		"total_lots":        intent.TotalLots,
		"lot_size":          intent.LotSize,
		"latency_ms":        latencyMs,
		"leg_status_counts": legStatusCounts,
		"symbol":            intent.Symbol,
		"side":              string(intent.Side),
	}
	if res.Run != nil {
		summary["execution_run_id"] = res.Run.ID
	}

	r.log.WithFields(logger.Fields{
		"strategy_id": strategy.ID,
		"run_id":      run.ID,
		"orders":      summary["order_count"],
	}).Info("strategy execution completed")

	return summary, nil
}

// simulateBacktest is the deterministic simulation: a single
// synthetic fill between entry and exit price, no broker calls.
func simulateBacktest(cfg Configuration) (map[string]any, error) {
	if cfg.EntryPrice == nil || cfg.ExitPrice == nil {
		return nil, fmt.Errorf("strategyrunner: backtest configuration requires entry_price and exit_price")
	}
	if cfg.Lots <= 0 {
		return nil, fmt.Errorf("strategyrunner: backtest configuration requires lots")
	}
	side := cfg.Side
	if side == "" {
		side = model.SideBuy
	}
	lotSize := cfg.LotSize
	if lotSize <= 0 {
		lotSize = 1
	}

	quantity := cfg.Lots * lotSize
	pnlPerUnit := *cfg.ExitPrice - *cfg.EntryPrice
	if side == model.SideSell {
		pnlPerUnit = -pnlPerUnit
	}
	pnl := pnlPerUnit * float64(quantity)

	return map[string]any{
		"order_count": 1,
		"symbol":      cfg.Symbol,
		"side":        string(side),
		"entry_price": *cfg.EntryPrice,
		"exit_price":  *cfg.ExitPrice,
		"quantity":    quantity,
		"pnl":         pnl,
	}, nil
}
