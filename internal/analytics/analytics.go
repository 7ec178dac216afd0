// Package analytics implements the Analytics Aggregator:
// on-demand derivation of PnL, position, strategy-performance and
// execution-telemetry summaries over the Event Store and Position/PnL
// projections.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"strategyexecutor/internal/model"
	"strategyexecutor/internal/repository"
)

// Summary mirrors analytics.py's AnalyticsSummary: realised/unrealised
// PnL, trade/position/run counts, latency percentiles and the
// leg-status histogram.
type Summary struct {
	RealizedPnL              float64        `json:"realized_pnl"`
	UnrealizedPnL            float64        `json:"unrealized_pnl"`
	TodayRealizedPnL         float64        `json:"today_realized_pnl"`
	TotalTrades              int            `json:"total_trades"`
	OpenPositions            int            `json:"open_positions"`
	ExecutionRunCount        int            `json:"execution_run_count"`
	FailedExecutionRuns      int            `json:"failed_execution_runs"`
	AvgExecutionLatencyMs    *float64       `json:"avg_execution_latency_ms,omitempty"`
	P50ExecutionLatencyMs    *float64       `json:"p50_execution_latency_ms,omitempty"`
	P95ExecutionLatencyMs    *float64       `json:"p95_execution_latency_ms,omitempty"`
	ExecutionLegStatusCounts map[string]int `json:"execution_leg_status_counts"`
	UpdatedAt                time.Time      `json:"updated_at"`
}

// DailyPnlPoint is one day of the realised-PnL series. UnrealizedPnL is
// only ever non-zero on the series' final (most recent) point: a
// Position carries only its current mark, not a historical snapshot per
// day, so intermediate days cannot report a meaningful unrealised
// figure (see DESIGN.md).
type DailyPnlPoint struct {
	Date          time.Time `json:"date"`
	RealizedPnL   float64   `json:"realized_pnl"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	TradeCount    int       `json:"trade_count"`
}

type StrategyPerformanceRow struct {
	StrategyID        model.ID                 `json:"strategy_id"`
	StrategyName      string                   `json:"strategy_name"`
	TotalRuns         int                      `json:"total_runs"`
	CumulativePnL     float64                  `json:"cumulative_pnl"`
	TotalTrades       int                      `json:"total_trades"`
	LastRunStatus     *model.StrategyRunStatus `json:"last_run_status,omitempty"`
	LastRunStartedAt  *time.Time               `json:"last_run_started_at,omitempty"`
	LastRunFinishedAt *time.Time               `json:"last_run_finished_at,omitempty"`
}

type TradeRecord struct {
	TradeID    model.ID  `json:"trade_id"`
	OrderID    model.ID  `json:"order_id"`
	Symbol     string    `json:"symbol"`
	Quantity   int       `json:"qty"`
	PnL        float64   `json:"pnl"`
	Timestamp  time.Time `json:"timestamp"`
	StrategyID *model.ID `json:"strategy_id,omitempty"`
}

type PositionRecord struct {
	AccountID model.ID  `json:"account_id"`
	Symbol    string    `json:"symbol"`
	Quantity  int       `json:"qty"`
	AvgPrice  float64   `json:"avg_price"`
	PnL       float64   `json:"pnl"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Dashboard is the combined `GET /analytics/dashboard` response.
type Dashboard struct {
	Summary       Summary                  `json:"summary"`
	DailyPnL      []DailyPnlPoint          `json:"daily_pnl"`
	Strategies    []StrategyPerformanceRow `json:"strategies"`
	RecentTrades  []TradeRecord            `json:"recent_trades"`
	OpenPositions []PositionRecord         `json:"open_positions"`
}

// TradeReader is the Trade/Position read seam, implemented by
// internal/repository.OrderRepository.
type TradeReader interface {
	TradesSince(ctx context.Context, userID model.ID, since time.Time) ([]model.Trade, error)
	RecentTradeRecords(ctx context.Context, userID model.ID, limit int) ([]repository.TradeRecord, error)
	OpenPositions(ctx context.Context, userID model.ID) ([]model.Position, error)
}

// RunReader is the ExecutionRun read seam, implemented by
// internal/repository.ExecutionRunRepository.
type RunReader interface {
	ListSince(ctx context.Context, userID model.ID, since time.Time) ([]model.ExecutionRun, error)
}

// EventReader is the telemetry read seam, implemented by
// internal/eventstore.Store.
type EventReader interface {
	ListByUserSince(ctx context.Context, userID model.ID, since time.Time) ([]model.ExecutionEvent, error)
}

// StrategyReader is the Strategy/StrategyRun read seam, implemented by
// internal/repository.StrategyRepository.
type StrategyReader interface {
	ListByUser(ctx context.Context, userID model.ID) ([]model.Strategy, error)
	ListRunsByStrategy(ctx context.Context, strategyID model.ID) ([]model.StrategyRun, error)
}

// Aggregator computes dashboard views over the trade, position, run,
// event and strategy read seams.
type Aggregator struct {
	trades     TradeReader
	runs       RunReader
	events     EventReader
	strategies StrategyReader
	cfg        Config
	log        *logger.Entry
}

func New(cfg Config, trades TradeReader, runs RunReader, events EventReader, strategies StrategyReader, log *logger.Entry) *Aggregator {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	return &Aggregator{
		trades: trades, runs: runs, events: events, strategies: strategies,
		cfg: cfg, log: log.WithField("component", "analytics.Aggregator"),
	}
}

// Dashboard assembles the full dashboard payload for userID.
func (a *Aggregator) Dashboard(ctx context.Context, userID model.ID, days, tradeLimit int) (*Dashboard, error) {
	if days <= 0 {
		days = a.cfg.DefaultWindowDays
	}
	if tradeLimit <= 0 {
		tradeLimit = a.cfg.DefaultTradeLimit
	}

	summary, err := a.Summary(ctx, userID)
	if err != nil {
		return nil, err
	}
	dailyPnL, err := a.DailyPnL(ctx, userID, days)
	if err != nil {
		return nil, err
	}
	strategies, err := a.StrategyPerformance(ctx, userID)
	if err != nil {
		return nil, err
	}
	trades, err := a.RecentTrades(ctx, userID, tradeLimit)
	if err != nil {
		return nil, err
	}
	positions, err := a.Positions(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &Dashboard{
		Summary: *summary, DailyPnL: dailyPnL, Strategies: strategies,
		RecentTrades: trades, OpenPositions: positions,
	}, nil
}

// Summary computes the top-level PnL/run/latency figures.
func (a *Aggregator) Summary(ctx context.Context, userID model.ID) (*Summary, error) {
	allTrades, err := a.trades.TradesSince(ctx, userID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("analytics: load trades: %w", err)
	}
	todayStart := dayStart(time.Now())

	var realized, today float64
	for _, t := range allTrades {
		realized += t.RealizedPnL
		if !t.Timestamp.Before(todayStart) {
			today += t.RealizedPnL
		}
	}

	positions, err := a.trades.OpenPositions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("analytics: load positions: %w", err)
	}
	var unrealized float64
	for _, p := range positions {
		unrealized += p.RunningPnL
	}

	runs, err := a.runs.ListSince(ctx, userID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("analytics: load runs: %w", err)
	}
	var failed int
	for _, r := range runs {
		if r.Status == model.RunFailed || r.Status == model.RunRolledBack {
			failed++
		}
	}

	events, err := a.events.ListByUserSince(ctx, userID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("analytics: load events: %w", err)
	}
	latencies := make([]float64, 0, len(events))
	legCounts := map[string]int{}
	for _, e := range events {
		legCounts[string(e.Status)]++
		if e.LatencyMs != nil {
			latencies = append(latencies, *e.LatencyMs)
		}
	}

	return &Summary{
		RealizedPnL:              realized,
		UnrealizedPnL:            unrealized,
		TodayRealizedPnL:         today,
		TotalTrades:              len(allTrades),
		OpenPositions:            len(positions),
		ExecutionRunCount:        len(runs),
		FailedExecutionRuns:      failed,
		AvgExecutionLatencyMs:    average(latencies),
		P50ExecutionLatencyMs:    percentile(latencies, 50),
		P95ExecutionLatencyMs:    percentile(latencies, 95),
		ExecutionLegStatusCounts: legCounts,
		UpdatedAt:                time.Now(),
	}, nil
}

// DailyPnL buckets realised PnL by calendar day over the last `days`
// days, trailing-inclusive of today.
func (a *Aggregator) DailyPnL(ctx context.Context, userID model.ID, days int) ([]DailyPnlPoint, error) {
	if days <= 0 {
		days = a.cfg.DefaultWindowDays
	}
	start := dayStart(time.Now()).AddDate(0, 0, -(days - 1))
	trades, err := a.trades.TradesSince(ctx, userID, start)
	if err != nil {
		return nil, fmt.Errorf("analytics: load trades for daily pnl: %w", err)
	}

	byDay := map[time.Time]*DailyPnlPoint{}
	order := make([]time.Time, 0, days)
	for i := 0; i < days; i++ {
		d := start.AddDate(0, 0, i)
		byDay[d] = &DailyPnlPoint{Date: d}
		order = append(order, d)
	}
	for _, t := range trades {
		d := dayStart(t.Timestamp)
		point, ok := byDay[d]
		if !ok {
			continue
		}
		point.RealizedPnL += t.RealizedPnL
		point.TradeCount++
	}

	positions, err := a.trades.OpenPositions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("analytics: load positions for daily pnl: %w", err)
	}
	var unrealized float64
	for _, p := range positions {
		unrealized += p.RunningPnL
	}
	if len(order) > 0 {
		byDay[order[len(order)-1]].UnrealizedPnL = unrealized
	}

	points := make([]DailyPnlPoint, 0, len(order))
	for _, d := range order {
		points = append(points, *byDay[d])
	}
	return points, nil
}

// StrategyPerformance rolls every Strategy's runs up into one row per
// strategy, reading cumulative PnL/trade counts out of each
// StrategyRun's stored ResultMetricsJSON.
func (a *Aggregator) StrategyPerformance(ctx context.Context, userID model.ID) ([]StrategyPerformanceRow, error) {
	strategies, err := a.strategies.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("analytics: load strategies: %w", err)
	}

	rows := make([]StrategyPerformanceRow, 0, len(strategies))
	for _, s := range strategies {
		runs, err := a.strategies.ListRunsByStrategy(ctx, s.ID)
		if err != nil {
			return nil, fmt.Errorf("analytics: load strategy runs: %w", err)
		}

		row := StrategyPerformanceRow{StrategyID: s.ID, StrategyName: s.Name, TotalRuns: len(runs)}
		var lastRun *model.StrategyRun
		for i := range runs {
			run := &runs[i]
			metrics := decodeMetrics(run.ResultMetricsJSON)
			row.CumulativePnL += metrics.pnl
			row.TotalTrades += metrics.trades
			if lastRun == nil || run.StartedAt.After(lastRun.StartedAt) {
				lastRun = run
			}
		}
		if lastRun != nil {
			status := lastRun.Status
			row.LastRunStatus = &status
			row.LastRunStartedAt = &lastRun.StartedAt
			row.LastRunFinishedAt = lastRun.FinishedAt
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// RecentTrades returns the most recent `limit` trades joined to their
// order's symbol and strategy.
func (a *Aggregator) RecentTrades(ctx context.Context, userID model.ID, limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = a.cfg.DefaultTradeLimit
	}
	records, err := a.trades.RecentTradeRecords(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("analytics: load recent trades: %w", err)
	}

	out := make([]TradeRecord, 0, len(records))
	for _, r := range records {
		out = append(out, TradeRecord{
			TradeID: r.ID, OrderID: r.OrderID, Symbol: r.Symbol,
			Quantity: r.Quantity, PnL: r.RealizedPnL, Timestamp: r.Timestamp,
			StrategyID: r.StrategyID,
		})
	}
	return out, nil
}

// Positions returns every non-zero open position for userID.
func (a *Aggregator) Positions(ctx context.Context, userID model.ID) ([]PositionRecord, error) {
	positions, err := a.trades.OpenPositions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("analytics: load positions: %w", err)
	}
	out := make([]PositionRecord, 0, len(positions))
	for _, p := range positions {
		out = append(out, PositionRecord{
			AccountID: p.AccountID, Symbol: p.Symbol, Quantity: p.NetQty,
			AvgPrice: p.AvgPrice, PnL: p.RunningPnL, UpdatedAt: p.UpdatedAt,
		})
	}
	return out, nil
}

type strategyMetrics struct {
	pnl    float64
	trades int
}

// decodeMetrics reads the "pnl"/"trades" keys a StrategyRun's
// ResultMetricsJSON stores, treating a blank or malformed blob as zero
// rather than failing the whole rollup over one bad row.
func decodeMetrics(raw string) strategyMetrics {
	if raw == "" {
		return strategyMetrics{}
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return strategyMetrics{}
	}
	var m strategyMetrics
	if pnl, ok := decoded["pnl"].(float64); ok {
		m.pnl = pnl
	}
	if trades, ok := decoded["trades"].(float64); ok {
		m.trades = int(trades)
	}
	return m
}

func dayStart(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, t.Location())
}

func average(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	avg := sum / float64(len(values))
	return &avg
}
