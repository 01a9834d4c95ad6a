package metrics

import (
	"math/rand/v2"
	"slices"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/scalargrad/pkg/ml/context"
)

// StreamingMedianMetric implements a metric that keeps an approximate median of a metric from a streaming
// input.
//
// Its samples are kept in Go, not in the context, so they are not saved with checkpoints.
type StreamingMedianMetric struct {
	baseMetric
	maxNumSamples, samplesSeen int
	samples                    []float64
	rng                        *rand.Rand
}

// NewMedianMetric creates a streaming median metric from any BaseMetricFn function.
//
// One value is consumed per batch: with batches larger than one example, this will return a median of the
// batch means. This may be a reasonable approximation, but something to be mindful.
//
// `prettyPrintFn` can be left as nil, and a default will be used.
func NewMedianMetric(
	name, shortName, metricType string,
	metricFn BaseMetricFn,
	prettyPrintFn PrettyPrintFn,
) *StreamingMedianMetric {
	return &StreamingMedianMetric{
		baseMetric: baseMetric{
			name:       name,
			shortName:  shortName,
			metricType: metricType,
			metricFn:   metricFn,
			pPrintFn:   prettyPrintFn,
		},
		maxNumSamples: 10_001,
	}
}

// WithSampleSize configures the default number of random samples to keep to estimate the median.
func (m *StreamingMedianMetric) WithSampleSize(n int) *StreamingMedianMetric {
	if n < 1 {
		Panicf("streaming median metric %q: sample size must be >= 1, got %d", m.Name(), n)
	}
	m.maxNumSamples = n
	return m
}

// WithRand sets the random number generator used to sample values, once the sample size is reached.
func (m *StreamingMedianMetric) WithRand(rng *rand.Rand) *StreamingMedianMetric {
	m.rng = rng
	return m
}

// Update implements metrics.Interface: it returns the current approximate median.
func (m *StreamingMedianMetric) Update(_ *context.Context, labels, predictions []float64) (metric float64) {
	m.add(m.batchMetric(labels, predictions))
	return m.Read()
}

// add x to the sampled values, using reservoir sampling. Samples are kept sorted.
func (m *StreamingMedianMetric) add(x float64) {
	if m.samples == nil {
		m.samples = make([]float64, 0, min(m.maxNumSamples, 1024))
		m.samplesSeen = 0
		if m.rng == nil {
			m.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		}
	}
	m.samplesSeen++

	// We must decide whether to keep x, and if so, which sampled value it replaces.
	if len(m.samples) >= m.maxNumSamples {
		if m.rng.Float64() >= float64(m.maxNumSamples)/float64(m.samplesSeen) {
			// We don't add new sample.
			return
		}
		pos := m.rng.IntN(m.maxNumSamples)
		m.samples = slices.Delete(m.samples, pos, pos+1)
	}
	pos, _ := slices.BinarySearch(m.samples, x)
	m.samples = slices.Insert(m.samples, pos, x)
}

// Read returns the current approximate median. It panics if no samples were seen.
func (m *StreamingMedianMetric) Read() float64 {
	if len(m.samples) == 0 {
		Panicf("streaming median metric %q has seen no samples to read", m.Name())
	}
	return m.samples[len(m.samples)/2]
}

// Reset discards all samples seen so far.
func (m *StreamingMedianMetric) Reset(_ *context.Context) {
	m.samples = nil
	m.samplesSeen = 0
}
