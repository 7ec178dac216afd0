package analytics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPercentile_EmptyReturnsNil(t *testing.T) {
	require.Nil(t, percentile(nil, 50))
}

func TestPercentile_SingleValue(t *testing.T) {
	v := percentile([]float64{42}, 95)
	require.NotNil(t, v)
	require.Equal(t, 42.0, *v)
}

func TestPercentile_InterpolatesBetweenRanks(t *testing.T) {
	values := []float64{10, 20, 30, 40}
	p50 := percentile(values, 50)
	require.NotNil(t, p50)
	require.InDelta(t, 25.0, *p50, 0.001)

	p100 := percentile(values, 100)
	require.Equal(t, 40.0, *p100)
}
