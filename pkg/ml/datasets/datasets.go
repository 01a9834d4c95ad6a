// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package datasets implements train.Dataset over examples held in memory, possibly read from CSV files.
package datasets

import (
	"fmt"
	"io"

	"github.com/gomlx/scalargrad/pkg/ml/train"
)

// Take wraps ds so that each epoch ends after n batches, e.g. to evaluate on a few batches
// of an Infinite dataset.
func Take(ds train.Dataset, n int) train.Dataset {
	return &limited{Dataset: ds, limit: n}
}

type limited struct {
	train.Dataset
	limit, yielded int
}

func (l *limited) Name() string {
	return fmt.Sprintf("%s [Take %d]", l.Dataset.Name(), l.limit)
}

func (l *limited) Reset() {
	l.yielded = 0
	l.Dataset.Reset()
}

func (l *limited) Yield() ([][]float64, []float64, error) {
	if l.yielded >= l.limit {
		return nil, nil, io.EOF
	}
	l.yielded++
	return l.Dataset.Yield()
}
