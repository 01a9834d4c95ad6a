/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package metrics holds a library of metrics and defines the Interface used by train.Trainer to
// report them.
package metrics

import (
	"fmt"
	"math"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Interface for a Metric.
type Interface interface {
	// Name of the metric.
	Name() string

	// ShortName is a shortened version of the name (preferably a few characters) to display in progress bars or
	// similar UIs.
	ShortName() string

	// ScopeName used to store state: a combination of name and something unique.
	ScopeName() string

	// MetricType is a key for metrics that share the same quantity or semantics. Eg.:
	// "Moving-Average-Accuracy" and "Batch-Accuracy" would both have the same
	// "accuracy" metric type, and for instance, can be displayed on the same plot, sharing
	// the Y-axis.
	MetricType() string

	// Update takes the labels and the predictions of a batch (one value per example) and
	// returns the resulting metric.
	//
	// Stateful metrics keep their state as non-trainable variables in ctx, under the Scope scope.
	Update(ctx *context.Context, labels, predictions []float64) (metric float64)

	// PrettyPrint is used to pretty-print a metric value, usually in a short form.
	PrettyPrint(value float64) string

	// Reset metrics internal counters when starting a new evaluation.
	// Notice this may be called before Update, and the metric should handle this without errors.
	Reset(ctx *context.Context)
}

const (
	// LossMetricType is the type of loss metrics.
	// Used to aggregate metrics of the same  type in the same plot.
	LossMetricType = "loss"

	// AccuracyMetricType is the type of loss metrics.
	// Used to aggregate metrics of the same  type in the same plot.
	AccuracyMetricType = "accuracy"

	// Scope used to store metrics helper variables (e.g.: running averages).
	Scope = "metrics"
)

// BaseMetricFn is the function of any metric that can be calculated stateless, without the need for
// any context. It should return the mean for the given batch.
type BaseMetricFn func(labels, predictions []float64) float64

// PrettyPrintFn is a function to convert a metric value to a string.
type PrettyPrintFn func(value float64) string

// baseMetric implements a stateless metric.Interface.
type baseMetric struct {
	name, shortName, metricType, scopeName string
	metricFn                               BaseMetricFn
	pPrintFn                               PrettyPrintFn // if nil will display default.
}

func (m *baseMetric) Name() string {
	return m.name
}

func (m *baseMetric) ShortName() string {
	return m.shortName
}

func (m *baseMetric) MetricType() string {
	return m.metricType
}

func (m *baseMetric) ScopeName() string {
	if m.scopeName == "" {
		m.scopeName = context.EscapeScopeName(fmt.Sprintf("%s_uuid_%s", m.Name(), uuid.NewString()))
	}
	return m.scopeName
}

// batchMetric calls the metric function, converting a panic to an error with the metric name.
func (m *baseMetric) batchMetric(labels, predictions []float64) float64 {
	if len(labels) != len(predictions) || len(labels) == 0 {
		Panicf("metric %q requires the same (non-zero) number of labels and predictions, got %d and %d",
			m.Name(), len(labels), len(predictions))
	}
	var result float64
	err := TryCatch[error](func() { result = m.metricFn(labels, predictions) })
	if err != nil {
		panic(errors.WithMessagef(err, "failed calculating metric %q", m.Name()))
	}
	return result
}

func (m *baseMetric) Update(_ *context.Context, labels, predictions []float64) (metric float64) {
	return m.batchMetric(labels, predictions)
}

func (m *baseMetric) PrettyPrint(value float64) string {
	if m.pPrintFn == nil {
		return fmt.Sprintf("%.3g", value)
	}
	return m.pPrintFn(value)
}

func (m *baseMetric) Reset(_ *context.Context) {}

// NewBaseMetric creates a stateless metric from any BaseMetricFn function, it will return the metric
// calculated solely on the last batch.
// pPrintFn can be left as nil, and a default will be used.
func NewBaseMetric(name, shortName, metricType string, metricFn BaseMetricFn, pPrintFn PrettyPrintFn) Interface {
	return &baseMetric{
		name: name, shortName: shortName, metricType: metricType,
		metricFn: metricFn, pPrintFn: pPrintFn}
}

// stateVariable returns the non-trainable variable of the metric's state with the given name, creating it with
// 0 if it doesn't exist yet.
func stateVariable(ctx *context.Context, m Interface, name string) *context.Variable {
	ctx = ctx.Checked(false).InAbsPath(context.RootScope).In(Scope).In(m.ScopeName())
	return ctx.VariableWithValue(name, 0).SetTrainable(false)
}

// resetVariables sets the given state variables of the metric to 0, if they exist.
func resetVariables(ctx *context.Context, m Interface, names ...string) {
	scope := context.JoinScope(context.JoinScope(context.RootScope, Scope), m.ScopeName())
	for _, name := range names {
		if v := ctx.InspectVariable(scope, name); v != nil {
			v.SetValue(0)
		}
	}
}

// MeanMetric implements a metric that keeps the mean of a metric.
type MeanMetric struct {
	baseMetric
	dynamicBatch bool
}

// NewMeanMetric creates a metric from any BaseMetricFn function.
//
// It assumes the batch size (to weight the mean with each new result) is given by the number of labels.
// If you want all batches to count the same, sed WithDynamicBatch(false).
//
// `prettyPrintFn` can be left as nil, and a default will be used.
func NewMeanMetric(
	name, shortName, metricType string,
	metricFn BaseMetricFn,
	prettyPrintFn PrettyPrintFn,
) *MeanMetric {
	return &MeanMetric{
		baseMetric: baseMetric{
			name:       name,
			shortName:  shortName,
			metricType: metricType,
			metricFn:   metricFn,
			pPrintFn:   prettyPrintFn,
		},
		dynamicBatch: true,
	}
}

// WithDynamicBatch sets whether the mean should weight each batch by its size. Default is true.
//
// If set to false, each batch counts as 1.
func (m *MeanMetric) WithDynamicBatch(dynamicBatch bool) *MeanMetric {
	m.dynamicBatch = dynamicBatch
	return m
}

func (m *MeanMetric) Update(ctx *context.Context, labels, predictions []float64) (metric float64) {
	result := m.batchMetric(labels, predictions)
	totalVar := stateVariable(ctx, m, "total")
	weightVar := stateVariable(ctx, m, "weight")
	resultWeight := 1.0
	if m.dynamicBatch {
		resultWeight = float64(len(labels))
	}
	total := totalVar.Value() + result*resultWeight
	weight := weightVar.Value() + resultWeight
	totalVar.SetValue(total)
	weightVar.SetValue(weight)
	return total / weight
}

func (m *MeanMetric) Reset(ctx *context.Context) {
	resetVariables(ctx, m, "total", "weight")
}

// movingAverageMetric implements a metric that keeps the mean of a metric.
//
// It behaves just like a MeanMetric, but each new batch has weight of newExampleWeight, and
// the stored weight is capped at (1-newExampleWeight).
type movingAverageMetric struct {
	MeanMetric
	newExampleWeight float64
}

// NewExponentialMovingAverageMetric creates a metric from any BaseMetricFn function. It takes new examples with
// the given weight (newExampleWeight), and decays the reset to 1-newExampleWeight.
//
// A typical value of newExampleWeight is 0.01, the smaller the value, the slower the moving average moves.
// pPrintFn can be left as nil, and a default will be used.
//
// This doesn't have a set prior, it will start being a normal average until there are enough terms, and it becomes
// an exponential moving average.
func NewExponentialMovingAverageMetric(
	name, shortName, metricType string,
	metricFn BaseMetricFn,
	pPrintFn PrettyPrintFn,
	newExampleWeight float64,
) Interface {
	return &movingAverageMetric{MeanMetric: MeanMetric{baseMetric: baseMetric{
		name: name, shortName: shortName, metricType: metricType,
		metricFn: metricFn, pPrintFn: pPrintFn}}, newExampleWeight: newExampleWeight}
}

// Update implements metrics.Interface.
func (m *movingAverageMetric) Update(ctx *context.Context, labels, predictions []float64) (metric float64) {
	result := m.batchMetric(labels, predictions)
	meanVar := stateVariable(ctx, m, "mean")
	countVar := stateVariable(ctx, m, "count")
	count := countVar.Value() + 1
	countVar.SetValue(count)
	weight := max(m.newExampleWeight, 1/count)
	mean := meanVar.Value()*(1-weight) + result*weight
	meanVar.SetValue(mean)
	return mean
}

func (m *movingAverageMetric) Reset(ctx *context.Context) {
	resetVariables(ctx, m, "mean", "count")
}

// MeanSquaredError is a BaseMetricFn with the mean of the squared differences between labels and predictions.
func MeanSquaredError(labels, predictions []float64) float64 {
	var sum float64
	for ii, label := range labels {
		diff := predictions[ii] - label
		sum += diff * diff
	}
	return sum / float64(len(labels))
}

// MeanAbsoluteError is a BaseMetricFn with the mean of the absolute differences between labels and predictions.
func MeanAbsoluteError(labels, predictions []float64) float64 {
	var sum float64
	for ii, label := range labels {
		sum += math.Abs(predictions[ii] - label)
	}
	return sum / float64(len(labels))
}

// BinaryAccuracy is a BaseMetricFn with the fraction of predictions with the same sign as the labels.
// It assumes labels are -1 or +1, and predictions are scores (e.g.: the output of a tanh).
// Notice 0s are considered a miss.
func BinaryAccuracy(labels, predictions []float64) float64 {
	var correct int
	for ii, label := range labels {
		if predictions[ii]*label > 0 {
			correct++
		}
	}
	return float64(correct) / float64(len(labels))
}

func accuracyPPrint(value float64) string {
	return fmt.Sprintf("%.2f%%", value*100.0)
}

// NewMeanBinaryAccuracy returns a new binary accuracy metric with the given names.
func NewMeanBinaryAccuracy(name, shortName string) *MeanMetric {
	return NewMeanMetric(name, shortName, AccuracyMetricType, BinaryAccuracy, accuracyPPrint)
}

// NewMeanAbsoluteError returns a new mean absolute error metric with the given names.
func NewMeanAbsoluteError(name, shortName string) *MeanMetric {
	return NewMeanMetric(name, shortName, LossMetricType, MeanAbsoluteError, nil)
}
