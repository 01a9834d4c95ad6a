package metrics

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamingMedian(t *testing.T) {
	// Create an asymmetric sequence with known median.
	metric := NewMedianMetric("median_abs", "med", LossMetricType, MeanAbsoluteError, nil).
		WithSampleSize(10_000).
		WithRand(rand.New(rand.NewPCG(1, 2)))
	metric.Reset(nil)
	require.Panics(t, func() { metric.Read() })

	t.Run("Random 1/r numbers", func(t *testing.T) {
		// Sample from 0.01 < r < 1.0 randomly (so median r is expected to be 0.99/2 = 0.495),
		// and then feed StreamingMedian values of 1/r (so median is expected to be 1/0.495 = 2.0202020...).
		rng := rand.New(rand.NewPCG(3, 4))
		const numExamples = 100_001
		values := make([]float64, 0, numExamples)
		var median float64
		for range numExamples {
			r := rng.Float64()*0.99 + 0.01
			r = 1 / r
			values = append(values, r)
			median = metric.Update(nil, []float64{0}, []float64{r})
		}
		slices.Sort(values)
		want := values[numExamples/2]
		require.InDelta(t, want, median, 0.1)
	})

	t.Run("Small sample", func(t *testing.T) {
		metric.Reset(nil)
		for _, x := range []float64{5, 1, 3} {
			metric.Update(nil, []float64{0}, []float64{x})
		}
		require.Equal(t, 3.0, metric.Read())
	})
}
