// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"io"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/gomlx/scalargrad/pkg/ml/train"
	"github.com/pkg/errors"
)

// InMemoryDataset yields batches of examples held in memory. Copies share the examples.
//
// Out of the box it yields all examples as a single batch, then io.EOF. BatchSize, Shuffle,
// RandomWithReplacement, Infinite and TakeN change how it samples.
type InMemoryDataset struct {
	name, shortName string
	inputs          [][]float64
	labels          []float64

	mu                  sync.Mutex
	batchSize           int
	dropIncompleteBatch bool
	withReplacement     bool
	infinite            bool
	takeN               int
	rng                 *rand.Rand

	// order of the examples in the current epoch, if shuffled.
	order []int

	// pos is the number of examples yielded in the current epoch, or -1 once it is exhausted.
	pos int
}

var _ train.Dataset = (*InMemoryDataset)(nil)

// defaultShuffleSeed seeds the random number generator of datasets not configured WithRand.
const defaultShuffleSeed = 0x5CA1AB1E

// InMemory returns a dataset over inputs[example][feature] and labels[example]. The slices are not copied.
//
// All examples must have the same non-zero number of features, with one label each.
func InMemory(name string, inputs [][]float64, labels []float64) (*InMemoryDataset, error) {
	switch {
	case len(inputs) == 0:
		return nil, errors.Errorf("dataset %q has no examples", name)
	case len(inputs) != len(labels):
		return nil, errors.Errorf("dataset %q has %d examples but %d labels", name, len(inputs), len(labels))
	case len(inputs[0]) == 0:
		return nil, errors.Errorf("dataset %q examples have no features", name)
	}
	for ii, example := range inputs {
		if len(example) != len(inputs[0]) {
			return nil, errors.Errorf("dataset %q: example #%d has %d features, example #0 has %d",
				name, ii, len(example), len(inputs[0]))
		}
	}
	ds := &InMemoryDataset{inputs: inputs, labels: labels}
	return ds.SetName(name), nil
}

// NumExamples in the dataset.
func (ds *InMemoryDataset) NumExamples() int { return len(ds.labels) }

// NumFeatures of each example.
func (ds *InMemoryDataset) NumFeatures() int { return len(ds.inputs[0]) }

// Copy returns a dataset over the same examples and with the same names and TakeN,
// with the default sampling otherwise.
func (ds *InMemoryDataset) Copy() *InMemoryDataset {
	return &InMemoryDataset{
		name:      ds.name,
		shortName: ds.shortName,
		inputs:    ds.inputs,
		labels:    ds.labels,
		takeN:     ds.takeN,
	}
}

// Name implements train.Dataset.
func (ds *InMemoryDataset) Name() string { return ds.name }

// ShortName implements train.HasShortName.
func (ds *InMemoryDataset) ShortName() string { return ds.shortName }

// SetName changes the name, and the short name if given. Otherwise, the short name becomes the
// first 3 letters of the name.
func (ds *InMemoryDataset) SetName(name string, shortName ...string) *InMemoryDataset {
	ds.name = name
	ds.shortName = name[:min(3, len(name))]
	if len(shortName) > 0 {
		ds.shortName = shortName[0]
	}
	return ds
}

// Reset implements train.Dataset, starting a new epoch, reshuffled if Shuffle was set.
func (ds *InMemoryDataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.pos = 0
	if ds.order != nil {
		ds.reshuffleLocked()
	}
}

// Yield implements train.Dataset. The example slices are shared with the dataset and must not be changed.
func (ds *InMemoryDataset) Yield() (inputs [][]float64, labels []float64, err error) {
	indices := ds.nextBatch()
	if len(indices) == 0 && ds.infinite {
		ds.Reset()
		indices = ds.nextBatch()
	}
	if len(indices) == 0 {
		return nil, nil, io.EOF
	}
	inputs = make([][]float64, len(indices))
	labels = make([]float64, len(indices))
	for ii, idx := range indices {
		inputs[ii], labels[ii] = ds.inputs[idx], ds.labels[idx]
	}
	return inputs, labels, nil
}

// nextBatch returns the indices of the examples of the next batch, or nil at the end of the epoch.
func (ds *InMemoryDataset) nextBatch() []int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.pos < 0 {
		return nil
	}
	epochSize := ds.NumExamples()
	if ds.takeN > 0 {
		epochSize = min(epochSize, ds.takeN)
	}
	size := ds.batchSize
	if size <= 0 {
		size = epochSize
	}
	size = min(size, epochSize-ds.pos)
	if size < ds.batchSize && ds.dropIncompleteBatch {
		size = 0
	}
	indices := make([]int, size)
	for ii := range indices {
		switch {
		case ds.withReplacement:
			indices[ii] = ds.randLocked().IntN(ds.NumExamples())
		case ds.order != nil:
			indices[ii] = ds.order[ds.pos+ii]
		default:
			indices[ii] = ds.pos + ii
		}
	}
	ds.pos += size
	if size == 0 || ds.pos >= epochSize {
		ds.pos = -1
	}
	return indices
}

// Examples returns copies of all inputs and labels, in their original order.
func (ds *InMemoryDataset) Examples() (inputs [][]float64, labels []float64) {
	inputs = make([][]float64, len(ds.inputs))
	for ii, example := range ds.inputs {
		inputs[ii] = slices.Clone(example)
	}
	return inputs, slices.Clone(ds.labels)
}

// RandomWithReplacement samples examples at random, with replacement. It cancels Shuffle.
func (ds *InMemoryDataset) RandomWithReplacement() *InMemoryDataset {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.withReplacement = true
	ds.order = nil
	return ds
}

// Shuffle yields the examples in a random order, a new one at every epoch. It cancels RandomWithReplacement.
func (ds *InMemoryDataset) Shuffle() *InMemoryDataset {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.withReplacement = false
	ds.reshuffleLocked()
	return ds
}

func (ds *InMemoryDataset) reshuffleLocked() {
	ds.order = ds.randLocked().Perm(ds.NumExamples())
}

func (ds *InMemoryDataset) randLocked() *rand.Rand {
	if ds.rng == nil {
		ds.rng = rand.New(rand.NewPCG(defaultShuffleSeed, defaultShuffleSeed))
	}
	return ds.rng
}

// BatchSize sets the number of examples yielded at a time, 0 for all of them. The last batch of an epoch
// may be smaller, unless dropIncompleteBatch is set, in which case it is skipped.
func (ds *InMemoryDataset) BatchSize(n int, dropIncompleteBatch bool) *InMemoryDataset {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.batchSize, ds.dropIncompleteBatch = n, dropIncompleteBatch
	return ds
}

// WithRand sets the random number generator used by Shuffle and RandomWithReplacement, and reshuffles
// if needed. Without it a generator with a fixed seed is used.
func (ds *InMemoryDataset) WithRand(rng *rand.Rand) *InMemoryDataset {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.rng = rng
	if ds.order != nil {
		ds.reshuffleLocked()
	}
	return ds
}

// Infinite makes the dataset start a new epoch when one ends, instead of returning io.EOF.
func (ds *InMemoryDataset) Infinite(infinite bool) *InMemoryDataset {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.infinite = infinite
	return ds
}

// TakeN limits each epoch to the first n examples (or n random ones), with n <= 0 meaning all.
// A positive n also turns off Infinite.
func (ds *InMemoryDataset) TakeN(n int) *InMemoryDataset {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.takeN = n
	if n > 0 {
		ds.infinite = false
	}
	return ds
}
