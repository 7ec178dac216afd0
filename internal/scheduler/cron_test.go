package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseCron_Shortcuts(t *testing.T) {
	expr, err := parseCron("@daily")
	require.NoError(t, err)
	require.True(t, expr.matches(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.False(t, expr.matches(time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)))
}

func TestParseCron_Once(t *testing.T) {
	expr, err := parseCron("@once")
	require.NoError(t, err)
	require.False(t, expr.matches(time.Now()))
	_, ok := expr.nextFire(time.Now())
	require.False(t, ok)
}

func TestParseCron_StepAndList(t *testing.T) {
	expr, err := parseCron("*/15 9-11 * * 1-5")
	require.NoError(t, err)

	require.True(t, expr.matches(time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)))  // Monday
	require.True(t, expr.matches(time.Date(2026, 8, 3, 9, 15, 0, 0, time.UTC)))
	require.False(t, expr.matches(time.Date(2026, 8, 3, 9, 5, 0, 0, time.UTC)))
	require.False(t, expr.matches(time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC))) // Saturday
	require.False(t, expr.matches(time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC)))
}

func TestParseCron_RejectsMalformed(t *testing.T) {
	_, err := parseCron("* * * *")
	require.Error(t, err)

	_, err = parseCron("60 * * * *")
	require.Error(t, err)
}

func TestCronExpr_NextFire(t *testing.T) {
	expr, err := parseCron("0 0 * * *")
	require.NoError(t, err)

	after := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	next, ok := expr.nextFire(after)
	require.True(t, ok)
	require.Equal(t, time.Date(2026, 8, 4, 0, 0, 0, 0, time.UTC), next)
}
