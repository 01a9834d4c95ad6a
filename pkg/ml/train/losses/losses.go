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

// Package losses have several standard losses that implement the LossFn signature. They can also
// be called separately by custom losses.
//
// They all have the same signature that can be used by train.Trainer.
package losses

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/scalargrad/pkg/core/graph"
	"github.com/gomlx/scalargrad/pkg/ml/context"
)

// ParamLoss is the context parameter with the name of the loss used by train.Trainer, see FromName.
// The default is "mse".
const ParamLoss = "loss"

// LossFn is the signature used by train.Trainer to train models.
//
// It takes as inputs the labels and predictions, one per example:
//   - labels comes from the dataset.
//   - predictions comes from the model, built in the same graph.
//
// It returns the scalar loss node, the root of the backward pass.
type LossFn func(labels []float64, predictions []*graph.Node) (loss *graph.Node)

// checkLabelsAndPredictions panics if labels and predictions don't pair up.
func checkLabelsAndPredictions(labels []float64, predictions []*graph.Node) {
	if len(predictions) == 0 {
		Panicf("losses: no predictions given")
	}
	if len(labels) != len(predictions) {
		Panicf("losses: %d labels given for %d predictions, they must match", len(labels), len(predictions))
	}
}

// squaredErrors returns (prediction_i - label_i)^2 for each example.
func squaredErrors(labels []float64, predictions []*graph.Node) []*graph.Node {
	checkLabelsAndPredictions(labels, predictions)
	errs := make([]*graph.Node, len(predictions))
	for ii, prediction := range predictions {
		errs[ii] = graph.Square(graph.SubScalar(prediction, labels[ii]))
	}
	return errs
}

// MeanSquaredError returns the mean squared error between labels and predictions.
//
// labels and predictions must have the same length, and it panics otherwise.
func MeanSquaredError(labels []float64, predictions []*graph.Node) (loss *graph.Node) {
	return graph.Mean(squaredErrors(labels, predictions)...)
}

// SumSquaredError returns the sum of the squared errors between labels and predictions.
//
// labels and predictions must have the same length, and it panics otherwise.
func SumSquaredError(labels []float64, predictions []*graph.Node) (loss *graph.Node) {
	return graph.Sum(squaredErrors(labels, predictions)...)
}

// FromName returns the loss function for the given name: "mse" (or "") and "sse".
func FromName(name string) LossFn {
	switch name {
	case "", "mse":
		return MeanSquaredError
	case "sse":
		return SumSquaredError
	default:
		Panicf("unknown loss %q: valid values are \"mse\" or \"sse\"", name)
	}
	return nil
}

// FromContext returns the loss configured in ctx by ParamLoss.
func FromContext(ctx *context.Context) LossFn {
	return FromName(context.GetParamOr(ctx, ParamLoss, "mse"))
}
