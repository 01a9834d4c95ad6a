// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

// Dataset feeds a Trainer one batch per step. Datasets may implement optional interfaces, like HasShortName.
type Dataset interface {
	// Name is used in logs, metric names and plots.
	Name() string

	// Reset rewinds the dataset, e.g. to evaluate it again after it returned io.EOF.
	Reset()

	// Yield returns the next batch: inputs[example][feature] and labels[example], owned by the caller.
	//
	// io.EOF marks the end of the data (or of an epoch) and stops training or evaluation without error.
	// Any other error aborts them. Datasets that never end work with Loop.RunSteps, but not with Loop.RunEpochs.
	Yield() (inputs [][]float64, labels []float64, err error)
}

// HasShortName is implemented by datasets that provide their own abbreviation for metric names.
type HasShortName interface {
	ShortName() string
}

// ShortName returns ds.ShortName() if ds implements HasShortName, or else the first 3 letters of its name.
func ShortName(ds Dataset) string {
	if sn, ok := ds.(HasShortName); ok {
		return sn.ShortName()
	}
	name := ds.Name()
	return name[:min(3, len(name))]
}
