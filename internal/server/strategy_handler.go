package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"strategyexecutor/internal/auth"
	"strategyexecutor/internal/model"
	"strategyexecutor/internal/strategyrunner"
)

// StrategyStore is the narrow Strategy/StrategyRun persistence seam.
type StrategyStore interface {
	Create(ctx context.Context, strategy *model.Strategy) error
	Get(ctx context.Context, userID, strategyID model.ID) (*model.Strategy, error)
	ListByUser(ctx context.Context, userID model.ID) ([]model.Strategy, error)
	Update(ctx context.Context, strategy *model.Strategy) error
	CreateRun(ctx context.Context, run *model.StrategyRun) error
	UpdateRun(ctx context.Context, run *model.StrategyRun) error
	GetRun(ctx context.Context, runID model.ID) (*model.StrategyRun, error)
	ListRunsByStrategy(ctx context.Context, strategyID model.ID) ([]model.StrategyRun, error)
}

// StrategyDeps wires the Strategy Runner behind the strategy
// HTTP surface.
type StrategyDeps struct {
	Store  StrategyStore
	Runner *strategyrunner.Runner
}

func parseStrategyID(w http.ResponseWriter, r *http.Request) (model.ID, bool) {
	id, err := model.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid strategy id")
		return model.ZeroID, false
	}
	return id, true
}

func ListStrategiesHandler(deps StrategyDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok {
			unauthorized(w)
			return
		}
		strategies, err := deps.Store.ListByUser(r.Context(), user.ID)
		if err != nil {
			internalError(w, log, "list strategies failed", err)
			return
		}
		writeJSON(w, http.StatusOK, strategies)
	}
}

type createStrategyPayload struct {
	Name   string              `json:"name"`
	Type   model.StrategyType  `json:"type"`
	Params json.RawMessage     `json:"params,omitempty"`
}

func CreateStrategyHandler(deps StrategyDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok {
			unauthorized(w)
			return
		}
		var payload createStrategyPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			badRequest(w, "invalid payload")
			return
		}
		if payload.Name == "" {
			badRequest(w, "name is required")
			return
		}
		if payload.Type == "" {
			payload.Type = model.StrategyCustom
		}
		paramsJSON := "{}"
		if len(payload.Params) > 0 {
			paramsJSON = string(payload.Params)
		}
		strategy := &model.Strategy{
			ID:         model.NewID(),
			UserID:     user.ID,
			Name:       payload.Name,
			Type:       payload.Type,
			ParamsJSON: paramsJSON,
			Status:     model.StrategyActive,
		}
		if err := deps.Store.Create(r.Context(), strategy); err != nil {
			internalError(w, log, "create strategy failed", err)
			return
		}
		writeJSON(w, http.StatusCreated, strategy)
	}
}

func GetStrategyHandler(deps StrategyDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok {
			unauthorized(w)
			return
		}
		strategyID, ok := parseStrategyID(w, r)
		if !ok {
			return
		}
		strategy, err := deps.Store.Get(r.Context(), user.ID, strategyID)
		if err != nil {
			internalError(w, log, "load strategy failed", err)
			return
		}
		if strategy == nil {
			notFound(w, "strategy not found")
			return
		}
		writeJSON(w, http.StatusOK, strategy)
	}
}

type startStrategyPayload struct {
	Mode             model.StrategyMode `json:"mode"`
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

// runResultEnvelope is what StrategyRun.ResultMetricsJSON stores: the
// full strategyrunner.RunResult, so StrategyLogsHandler can recover
// the per-run log lines without a dedicated log table.
type runResultEnvelope struct {
	Metrics          map[string]any               `json:"metrics"`
	Logs             []strategyrunner.LogEntry    `json:"logs"`
	ExecutionSummary map[string]any               `json:"execution_summary,omitempty"`
}

// StartStrategyHandler begins one StrategyRun in backtest, paper or
// live mode via the Strategy Runner's unified path.
func StartStrategyHandler(deps StrategyDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok {
			unauthorized(w)
			return
		}
		strategyID, ok := parseStrategyID(w, r)
		if !ok {
			return
		}
		strategy, err := deps.Store.Get(r.Context(), user.ID, strategyID)
		if err != nil {
			internalError(w, log, "load strategy failed", err)
			return
		}
		if strategy == nil {
			notFound(w, "strategy not found")
			return
		}
		if strategy.Status == model.StrategyStopped {
			writeError(w, http.StatusConflict, "CONFLICT", "strategy is stopped", nil)
			return
		}

		var payload startStrategyPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			badRequest(w, "invalid payload")
			return
		}
		if payload.Mode == "" {
			badRequest(w, "mode is required")
			return
		}

		var groupID *model.ID
		if payload.ExecutionGroupID != nil {
			id, err := model.ParseID(*payload.ExecutionGroupID)
			if err != nil {
				badRequest(w, "invalid execution_group_id")
				return
			}
			groupID = &id
		}

		run := &model.StrategyRun{
			ID:         model.NewID(),
			StrategyID: strategy.ID,
			Mode:       payload.Mode,
			Status:     model.StrategyRunRunning,
			StartedAt:  time.Now(),
		}
		if err := deps.Store.CreateRun(r.Context(), run); err != nil {
			internalError(w, log, "create strategy run failed", err)
			return
		}

		result, runErr := deps.Runner.Run(r.Context(), user.ID, strategy, run, payload.Mode, strategyrunner.Configuration{
			ExecutionGroupID: groupID,
			Symbol:           payload.Symbol,
			Side:             payload.Side,
			Lots:             payload.Lots,
			LotSize:          payload.LotSize,
			OrderType:        payload.OrderType,
			Price:            payload.Price,
			TakeProfit:       payload.TakeProfit,
			StopLoss:         payload.StopLoss,
			EntryPrice:       payload.EntryPrice,
			ExitPrice:        payload.ExitPrice,
		})

		finishedAt := time.Now()
		run.FinishedAt = &finishedAt
		if result != nil {
			envelope := runResultEnvelope{Metrics: result.Metrics, Logs: result.Logs, ExecutionSummary: result.ExecutionSummary}
			if raw, marshalErr := json.Marshal(envelope); marshalErr == nil {
				run.ResultMetricsJSON = string(raw)
			}
		}
		if runErr != nil {
			run.Status = model.StrategyRunFailed
		} else {
			run.Status = model.StrategyRunSucceeded
		}
		if err := deps.Store.UpdateRun(r.Context(), run); err != nil {
			internalError(w, log, "update strategy run failed", err)
			return
		}

		if runErr != nil {
			writeError(w, http.StatusUnprocessableEntity, "ALLOCATION_INVALID", runErr.Error(), nil)
			return
		}
		writeJSON(w, http.StatusCreated, run)
	}
}

// StopStrategyHandler transitions a Strategy to stopped.
func StopStrategyHandler(deps StrategyDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok {
			unauthorized(w)
			return
		}
		strategyID, ok := parseStrategyID(w, r)
		if !ok {
			return
		}
		strategy, err := deps.Store.Get(r.Context(), user.ID, strategyID)
		if err != nil {
			internalError(w, log, "load strategy failed", err)
			return
		}
		if strategy == nil {
			notFound(w, "strategy not found")
			return
		}
		strategy.Status = model.StrategyStopped
		if err := deps.Store.Update(r.Context(), strategy); err != nil {
			internalError(w, log, "stop strategy failed", err)
			return
		}
		writeJSON(w, http.StatusOK, strategy)
	}
}

// StrategyLogsHandler replays the log lines recorded across a
// strategy's runs, most recent run first.
func StrategyLogsHandler(deps StrategyDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		strategyID, ok := parseStrategyID(w, r)
		if !ok {
			return
		}
		runs, err := deps.Store.ListRunsByStrategy(r.Context(), strategyID)
		if err != nil {
			internalError(w, log, "list strategy runs failed", err)
			return
		}

		type logLine struct {
			RunID     model.ID                  `json:"run_id"`
			StartedAt time.Time                 `json:"started_at"`
			Entry     strategyrunner.LogEntry   `json:"entry"`
		}
		var lines []logLine
		for i := len(runs) - 1; i >= 0; i-- {
			run := runs[i]
			if run.ResultMetricsJSON == "" {
				continue
			}
			var envelope runResultEnvelope
			if err := json.Unmarshal([]byte(run.ResultMetricsJSON), &envelope); err != nil {
				continue
			}
			for _, entry := range envelope.Logs {
				lines = append(lines, logLine{RunID: run.ID, StartedAt: run.StartedAt, Entry: entry})
			}
		}
		writeJSON(w, http.StatusOK, lines)
	}
}

// StrategyPnLHandler reports the strategy-performance rollup
// filtered to the one strategy in the URL.
func StrategyPnLHandler(strategies StrategyDeps, agg AnalyticsDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok {
			unauthorized(w)
			return
		}
		strategyID, ok := parseStrategyID(w, r)
		if !ok {
			return
		}
		rows, err := agg.Aggregator.StrategyPerformance(r.Context(), user.ID)
		if err != nil {
			internalError(w, log, "strategy performance failed", err)
			return
		}
		for _, row := range rows {
			if row.StrategyID == strategyID {
				writeJSON(w, http.StatusOK, row)
				return
			}
		}
		notFound(w, "no performance data for this strategy")
	}
}
