package analytics

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// ExportKind names one of the `/analytics/exports/{kind}` endpoints.
type ExportKind string

const (
	ExportDailyPnL       ExportKind = "daily-pnl"
	ExportLatencySummary ExportKind = "latency-summary"
	ExportLegStatus      ExportKind = "leg-status"
)

// WriteDailyPnLCSV writes points as `date,realized_pnl,unrealized_pnl,
// trade_count` in ISO-date ascending order, the exact column order
// fixed for the daily-pnl export.
func WriteDailyPnLCSV(w io.Writer, points []DailyPnlPoint) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"date", "realized_pnl", "unrealized_pnl", "trade_count"}); err != nil {
		return fmt.Errorf("analytics: write daily pnl csv header: %w", err)
	}
	for _, p := range points {
		row := []string{
			p.Date.Format("2006-01-02"),
			strconv.FormatFloat(p.RealizedPnL, 'f', -1, 64),
			strconv.FormatFloat(p.UnrealizedPnL, 'f', -1, 64),
			strconv.Itoa(p.TradeCount),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("analytics: write daily pnl csv row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteLatencySummaryCSV writes the execution-latency percentiles as a
// single data row under a fixed header.
func WriteLatencySummaryCSV(w io.Writer, summary Summary) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"avg_ms", "p50_ms", "p95_ms", "sample_count"}); err != nil {
		return fmt.Errorf("analytics: write latency summary csv header: %w", err)
	}
	row := []string{
		formatNullableFloat(summary.AvgExecutionLatencyMs),
		formatNullableFloat(summary.P50ExecutionLatencyMs),
		formatNullableFloat(summary.P95ExecutionLatencyMs),
		strconv.Itoa(len(summary.ExecutionLegStatusCounts)),
	}
	if err := writer.Write(row); err != nil {
		return fmt.Errorf("analytics: write latency summary csv row: %w", err)
	}
	writer.Flush()
	return writer.Error()
}

// WriteLegStatusCSV writes one `status,count` row per observed leg
// status.
func WriteLegStatusCSV(w io.Writer, counts map[string]int) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"status", "count"}); err != nil {
		return fmt.Errorf("analytics: write leg status csv header: %w", err)
	}
	statuses := make([]string, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		if err := writer.Write([]string{status, strconv.Itoa(counts[status])}); err != nil {
			return fmt.Errorf("analytics: write leg status csv row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatNullableFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
