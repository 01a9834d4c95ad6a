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

// Package train holds tools to help run a training loop: the Trainer, which runs one forward pass, the
// backward pass and the optimizer update per step; and the Loop, which runs training steps over a Dataset
// and calls hooks that allow for progress bars, plots, checkpointing, etc.
package train

import (
	"io"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/scalargrad/pkg/core/graph"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/ml/train/losses"
	"github.com/gomlx/scalargrad/pkg/ml/train/metrics"
	"github.com/gomlx/scalargrad/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ModelFn builds the model for one example: it takes the example's inputs as graph leaves and returns the
// prediction node.
//
// The model variables are created in ctx (see context.Context.VariableWithInitializer). ModelFn is called once
// per example of every batch: the first call is made with a context that requires variables to be new
// (context.Context.Unique) and all following calls with a context set to reuse them (context.Context.Reuse).
type ModelFn func(ctx *context.Context, inputs []*graph.Node) *graph.Node

// Trainer is a helper object to orchestrate the training step of a model: for each batch it rebuilds the
// graph of the forward pass (the model applied to each example plus the loss), runs the backward pass and
// calls the optimizer to update the trainable variables.
//
// It also keeps track of the training and evaluation metrics.
type Trainer struct {
	ctx        *context.Context
	modelFn    ModelFn
	lossFn     losses.LossFn
	optimizer  optimizers.Interface
	modelBuilt bool

	// trainMetrics[0] is the batch loss, trainMetrics[1] the moving average of the loss.
	trainMetrics []metrics.Interface

	// evalMetrics[0] is the mean loss.
	evalMetrics []metrics.Interface
}

const (
	// BatchLossName is the name of the first metric returned by Trainer.TrainStep.
	BatchLossName = "Batch Loss"

	// MovingAverageLossName is the name of the second metric returned by Trainer.TrainStep.
	MovingAverageLossName = "Moving Average Loss"

	// MeanLossName is the name of the first metric returned by Trainer.Eval.
	MeanLossName = "Mean Loss"

	// movingAverageLossWeight is the weight of each new batch in the moving average loss.
	movingAverageLossWeight = 0.01
)

// NewTrainer constructs a trainer for the model built by modelFn, using lossFn as the loss to minimize, and
// the given optimizer.
//
// If lossFn is nil, losses.FromContext is used. If optimizer is nil, optimizers.FromContext is used.
//
// trainMetrics are updated after every TrainStep, and evalMetrics are used by Eval. The loss metrics are
// always included in front of them.
//
// If ctx is set to Reuse (e.g.: when continuing training from a checkpoint), the model is expected to
// have been built before, and the first forward pass will only reuse variables.
func NewTrainer(ctx *context.Context, modelFn ModelFn, lossFn losses.LossFn, optimizer optimizers.Interface,
	trainMetrics, evalMetrics []metrics.Interface) *Trainer {
	if modelFn == nil {
		exceptions.Panicf("train.NewTrainer requires a modelFn")
	}
	if lossFn == nil {
		lossFn = losses.FromContext(ctx)
	}
	if optimizer == nil {
		optimizer = optimizers.FromContext(ctx)
	}
	r := &Trainer{
		ctx:        ctx,
		modelFn:    modelFn,
		lossFn:     lossFn,
		optimizer:  optimizer,
		modelBuilt: ctx.IsReuse(),
	}
	lossMetricFn := LossAsMetricFn(lossFn)
	r.trainMetrics = append([]metrics.Interface{
		metrics.NewBaseMetric(BatchLossName, "batch", metrics.LossMetricType, lossMetricFn, nil),
		metrics.NewExponentialMovingAverageMetric(MovingAverageLossName, "~loss", metrics.LossMetricType,
			lossMetricFn, nil, movingAverageLossWeight),
	}, trainMetrics...)
	r.evalMetrics = append([]metrics.Interface{
		metrics.NewMeanMetric(MeanLossName, "#loss", metrics.LossMetricType, lossMetricFn, nil),
	}, evalMetrics...)
	return r
}

// LossAsMetricFn converts a loss function to a metrics.BaseMetricFn, by evaluating the loss over
// constant leaves in a scratch graph.
func LossAsMetricFn(lossFn losses.LossFn) metrics.BaseMetricFn {
	return func(labels, predictions []float64) float64 {
		g := graph.NewGraph("loss_metric")
		return lossFn(labels, leaves(g, predictions)).Value()
	}
}

// leaves creates one leaf per value.
func leaves(g *graph.Graph, values []float64) []*graph.Node {
	nodes := make([]*graph.Node, len(values))
	for ii, value := range values {
		nodes[ii] = graph.Leaf(g, value)
	}
	return nodes
}

// values returns the values of the nodes.
func values(nodes []*graph.Node) []float64 {
	result := make([]float64, len(nodes))
	for ii, node := range nodes {
		result[ii] = node.Value()
	}
	return result
}

// Context returns the current Context. See SetContext to change it.
func (r *Trainer) Context() *context.Context {
	return r.ctx
}

// SetContext sets the context used by the trainer. If ctx is set to Reuse, the model is assumed to have
// been built before.
func (r *Trainer) SetContext(ctx *context.Context) {
	r.ctx = ctx
	r.modelBuilt = r.modelBuilt || ctx.IsReuse()
}

// TrainMetrics returns the train metrics objects, the first two being the batch loss and the
// moving average of the loss.
func (r *Trainer) TrainMetrics() []metrics.Interface {
	return r.trainMetrics
}

// EvalMetrics returns the eval metrics objects, the first being the mean loss.
func (r *Trainer) EvalMetrics() []metrics.Interface {
	return r.evalMetrics
}

// GlobalStep returns the global step, the number of optimizer updates so far.
// It creates the global step variable if it doesn't exist yet.
func (r *Trainer) GlobalStep() int64 {
	return optimizers.GetGlobalStep(r.ctx)
}

// checkBatch verifies the batch has one label per example, and all examples have the same number of inputs.
func checkBatch(inputs [][]float64, labels []float64) error {
	if len(inputs) == 0 {
		return errors.New("empty batch")
	}
	if len(inputs) != len(labels) {
		return errors.Errorf("batch has %d examples but %d labels", len(inputs), len(labels))
	}
	for ii, example := range inputs {
		if len(example) != len(inputs[0]) {
			return errors.Errorf("example #%d of the batch has %d inputs, but example #0 has %d",
				ii, len(example), len(inputs[0]))
		}
	}
	return nil
}

// forward resets the context graph and builds the model for each example of the batch.
// It panics (with an error) if the model can't be built.
func (r *Trainer) forward(inputs [][]float64) []*graph.Node {
	r.ctx.ResetGraph()
	g := r.ctx.Graph()
	predictions := make([]*graph.Node, len(inputs))
	for ii, example := range inputs {
		ctx := r.ctx
		if r.modelBuilt {
			ctx = ctx.Reuse()
		}
		predictions[ii] = r.modelFn(ctx, leaves(g, example))
		if predictions[ii] == nil {
			exceptions.Panicf("model returned nil prediction for example #%d", ii)
		}
		r.modelBuilt = true
	}
	return predictions
}

// TrainStep runs one training step on the batch: the forward pass of the model over each example,
// the loss, the backward pass and the optimizer update of the trainable variables.
//
// It returns the values of the TrainMetrics, where metrics[0] is the batch loss.
//
// Errors in building the graph (panics) are returned as errors.
func (r *Trainer) TrainStep(inputs [][]float64, labels []float64) (metrics []float64, err error) {
	if err = checkBatch(inputs, labels); err != nil {
		return nil, errors.WithMessage(err, "Trainer.TrainStep")
	}
	var loss float64
	var predictions []float64
	err = exceptions.TryCatch[error](func() {
		predictionNodes := r.forward(inputs)
		lossNode := r.lossFn(labels, predictionNodes)
		graph.Backward(lossNode)
		loss = lossNode.Value()
		predictions = values(predictionNodes)
	})
	if err != nil {
		return nil, errors.WithMessage(err, "Trainer.TrainStep failed to build the graph")
	}
	if err = r.optimizer.Update(r.ctx); err != nil {
		return nil, errors.WithMessagef(err, "Trainer.TrainStep failed to update variables (loss=%g)", loss)
	}
	metrics = make([]float64, len(r.trainMetrics))
	metrics[0] = loss
	err = exceptions.TryCatch[error](func() {
		for ii := 1; ii < len(metrics); ii++ {
			metrics[ii] = r.trainMetrics[ii].Update(r.ctx, labels, predictions)
		}
	})
	if err != nil {
		return nil, errors.WithMessage(err, "Trainer.TrainStep failed to update metrics")
	}
	if klog.V(2).Enabled() {
		klog.Infof("TrainStep: global_step=%d, loss=%g", r.GlobalStep(), loss)
	}
	return metrics, nil
}

// ResetTrainMetrics call Metrics.Reset on all train metrics. Usually called before a training session.
func (r *Trainer) ResetTrainMetrics() error {
	return exceptions.TryCatch[error](func() {
		for _, m := range r.trainMetrics {
			m.Reset(r.ctx)
		}
	})
}

// ResetEvalMetrics call Metrics.Reset on all eval metrics.
func (r *Trainer) ResetEvalMetrics() error {
	return exceptions.TryCatch[error](func() {
		for _, m := range r.evalMetrics {
			m.Reset(r.ctx)
		}
	})
}

// Predict runs the model on the batch of inputs, without any update to the variables.
func (r *Trainer) Predict(inputs [][]float64) (predictions []float64, err error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	err = exceptions.TryCatch[error](func() {
		predictions = values(r.forward(inputs))
	})
	if err != nil {
		return nil, errors.WithMessage(err, "Trainer.Predict")
	}
	return predictions, nil
}

// EvalStep runs the model on one batch, and returns the values of the EvalMetrics updated with it.
// It doesn't update any of the model variables.
func (r *Trainer) EvalStep(inputs [][]float64, labels []float64) (metrics []float64, err error) {
	if err = checkBatch(inputs, labels); err != nil {
		return nil, errors.WithMessage(err, "Trainer.EvalStep")
	}
	predictions, err := r.Predict(inputs)
	if err != nil {
		return nil, err
	}
	metrics = make([]float64, len(r.evalMetrics))
	err = exceptions.TryCatch[error](func() {
		for ii, m := range r.evalMetrics {
			metrics[ii] = m.Update(r.ctx, labels, predictions)
		}
	})
	if err != nil {
		return nil, errors.WithMessage(err, "Trainer.EvalStep failed to update metrics")
	}
	return metrics, nil
}

// Eval returns the values of the EvalMetrics over the given dataset, starting with the mean loss.
// The dataset has to be finite (yield io.EOF at the end). The dataset is reset at the start, and the
// eval metrics are reset before evaluating.
func (r *Trainer) Eval(ds Dataset) (metrics []float64, err error) {
	ds.Reset()
	if err = r.ResetEvalMetrics(); err != nil {
		return nil, err
	}
	count := 0
	for {
		inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "Trainer.Eval(%q): failed reading from dataset", ds.Name())
		}
		metrics, err = r.EvalStep(inputs, labels)
		if err != nil {
			return nil, errors.WithMessagef(err, "Trainer.Eval(%q): batch #%d", ds.Name(), count)
		}
		count++
	}
	if count == 0 {
		return nil, errors.Errorf("Trainer.Eval(%q): dataset yielded no batches", ds.Name())
	}
	return metrics, nil
}
