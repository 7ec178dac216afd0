package analytics

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriteDailyPnLCSV_ColumnOrderAndFormat(t *testing.T) {
	var buf bytes.Buffer
	points := []DailyPnlPoint{
		{Date: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), RealizedPnL: 10.5, TradeCount: 2},
		{Date: time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC), RealizedPnL: -3, UnrealizedPnL: 99, TradeCount: 1},
	}
	require.NoError(t, WriteDailyPnLCSV(&buf, points))

	lines := splitLines(buf.String())
	require.Equal(t, "date,realized_pnl,unrealized_pnl,trade_count", lines[0])
	require.Equal(t, "2026-08-01,10.5,0,2", lines[1])
	require.Equal(t, "2026-08-02,-3,99,1", lines[2])
}

func TestWriteLegStatusCSV_SortsStatusesDeterministically(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteLegStatusCSV(&buf, map[string]int{"rejected": 1, "filled": 3}))

	lines := splitLines(buf.String())
	require.Equal(t, "status,count", lines[0])
	require.Equal(t, "filled,3", lines[1])
	require.Equal(t, "rejected,1", lines[2])
}

func TestWriteLatencySummaryCSV_HandlesNilPercentiles(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteLatencySummaryCSV(&buf, Summary{}))

	lines := splitLines(buf.String())
	require.Equal(t, "avg_ms,p50_ms,p95_ms,sample_count", lines[0])
	require.Equal(t, ",,,0", lines[1])
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range bytes.Split([]byte(s), []byte("\n")) {
		if len(line) > 0 {
			lines = append(lines, string(line))
		}
	}
	return lines
}
