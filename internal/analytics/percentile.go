package analytics

import (
	"math"
	"sort"
)

// percentile computes the linear-interpolation percentile of values at
// pct (0-100), the same nearest-rank-with-interpolation formula
// analytics.py's _percentile uses. Returns nil for an empty input
// rather than zero, so callers can render "n/a" instead of a
// misleading 0ms.
func percentile(values []float64, pct float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	if len(values) == 1 {
		v := values[0]
		return &v
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := (pct / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		v := sorted[lower]
		return &v
	}
	fraction := rank - float64(lower)
	v := sorted[lower] + (sorted[upper]-sorted[lower])*fraction
	return &v
}
