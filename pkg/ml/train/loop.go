// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"io"
	"math"
	"slices"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Priority orders the hooks of a Loop: lower values run first, and equal ones in the order they were added.
type Priority int

// OnStartFn is called before the first step of a run.
type OnStartFn func(loop *Loop, ds Dataset) error

// OnStepFn is called after each Trainer.TrainStep, with the train metrics it returned.
type OnStepFn func(loop *Loop, metrics []float64) error

// OnEndFn is called after the last step of a run, with the last train metrics.
type OnEndFn func(loop *Loop, metrics []float64) error

// Loop runs Trainer.TrainStep over a Dataset, for a number of steps or epochs, calling the hooks
// attached to it: progress bars, plots, checkpoints, learning rate schedules.
//
// The exported fields describe the run in progress, and are read-only.
type Loop struct {
	Trainer *Trainer

	// LoopStep is the step being run. It starts at the global step of the trainer's context.
	LoopStep int

	// StartStep is LoopStep at the start of the current run.
	StartStep int

	// EndStep is one past the last step of the current run, or -1 while unknown: RunEpochs only
	// estimates it at the end of the first epoch.
	EndStep int

	// Epoch being run by RunEpochs, from 0.
	Epoch int

	// LastLoss is the loss of the last batch trained, NaN before the first step.
	LastLoss float64

	// TrainStepDurations of the steps of the current run.
	TrainStepDurations []time.Duration

	onStart hookList[OnStartFn]
	onStep  hookList[OnStepFn]
	onEnd   hookList[OnEndFn]
}

// NewLoop returns a Loop for trainer.
func NewLoop(trainer *Trainer) *Loop {
	return &Loop{
		Trainer:  trainer,
		LoopStep: int(trainer.GlobalStep()),
		LastLoss: math.NaN(),
	}
}

const (
	trainerScope         = context.RootScope + "trainer"
	trainLastStepVarName = "train_last_global_step"
)

// GetTrainLastStepVar returns the non-trainable variable `/trainer/train_last_global_step`, with the
// EndStep of the current run (-1 if not known yet). It is checkpointed with the model, so schedules
// can be computed from it.
func GetTrainLastStepVar(ctx *context.Context) *context.Variable {
	return ctx.InAbsPath(trainerScope).Checked(false).
		VariableWithValue(trainLastStepVarName, -1).
		SetTrainable(false)
}

// OnStart adds fn to be called at the start of every run. name identifies it in errors.
func (loop *Loop) OnStart(name string, priority Priority, fn OnStartFn) {
	loop.onStart.add(name, priority, fn)
}

// OnStep adds fn to be called after every train step. name identifies it in errors.
func (loop *Loop) OnStep(name string, priority Priority, fn OnStepFn) {
	loop.onStep.add(name, priority, fn)
}

// OnEnd adds fn to be called at the end of every run. name identifies it in errors.
func (loop *Loop) OnEnd(name string, priority Priority, fn OnEndFn) {
	loop.onEnd.add(name, priority, fn)
}

type hook[F any] struct {
	name     string
	priority Priority
	fn       F
}

// hookList is kept sorted by priority.
type hookList[F any] []hook[F]

func (l *hookList[F]) add(name string, priority Priority, fn F) {
	idx := slices.IndexFunc(*l, func(h hook[F]) bool { return h.priority > priority })
	if idx < 0 {
		idx = len(*l)
	}
	*l = slices.Insert(*l, idx, hook[F]{name: name, priority: priority, fn: fn})
}

// begin prepares a run of the loop with the given end step, and calls the OnStart hooks.
func (loop *Loop) begin(ds Dataset, endStep int) error {
	if err := loop.Trainer.ResetTrainMetrics(); err != nil {
		return err
	}
	loop.StartStep = loop.LoopStep
	loop.TrainStepDurations = loop.TrainStepDurations[:0]
	if err := loop.setEndStep(endStep); err != nil {
		return err
	}
	for _, h := range loop.onStart {
		if err := h.fn(loop, ds); err != nil {
			return errors.WithMessagef(err, "OnStart hook %q", h.name)
		}
	}
	klog.V(1).Infof("training on %q from step %d", ds.Name(), loop.StartStep)
	return nil
}

func (loop *Loop) setEndStep(endStep int) error {
	loop.EndStep = endStep
	return exceptions.TryCatch[error](func() {
		GetTrainLastStepVar(loop.Trainer.Context()).SetValue(float64(endStep))
	})
}

// trainStep trains on one batch and calls the OnStep hooks. A non-finite loss stops training,
// after the hooks had a chance to report it.
func (loop *Loop) trainStep(inputs [][]float64, labels []float64) ([]float64, error) {
	start := time.Now()
	metrics, err := loop.Trainer.TrainStep(inputs, labels)
	loop.TrainStepDurations = append(loop.TrainStepDurations, time.Since(start))
	if err != nil {
		return nil, err
	}
	loop.LastLoss = metrics[0]
	for _, h := range loop.onStep {
		if err := h.fn(loop, metrics); err != nil {
			return nil, errors.WithMessagef(err, "OnStep hook %q", h.name)
		}
	}
	switch {
	case math.IsNaN(loop.LastLoss):
		return nil, errors.New("batch loss is NaN, training interrupted")
	case math.IsInf(loop.LastLoss, 0):
		return nil, errors.Errorf("batch loss is infinity (%g), training interrupted", loop.LastLoss)
	}
	return metrics, nil
}

func (loop *Loop) finish(metrics []float64) error {
	for _, h := range loop.onEnd {
		if err := h.fn(loop, metrics); err != nil {
			return errors.WithMessagef(err, "OnEnd hook %q", h.name)
		}
	}
	return nil
}

// RunSteps trains for the given number of steps, and returns the train metrics of the last one.
// Runs continue from the LoopStep of the previous one.
//
// ds must yield at least steps batches: reaching its end is an error.
func (loop *Loop) RunSteps(ds Dataset, steps int) (metrics []float64, err error) {
	if steps <= 0 {
		return nil, nil
	}
	if err = loop.begin(ds, loop.LoopStep+steps); err != nil {
		return nil, err
	}
	for ; loop.LoopStep < loop.EndStep; loop.LoopStep++ {
		inputs, labels, err := ds.Yield()
		if err == io.EOF {
			return nil, errors.Errorf("reached Dataset end after %d steps, %d were requested: use an "+
				"infinite Dataset, or RunEpochs", loop.LoopStep-loop.StartStep, steps)
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "reading batch for step %d", loop.LoopStep)
		}
		if metrics, err = loop.trainStep(inputs, labels); err != nil {
			return nil, errors.WithMessagef(err, "train step %d", loop.LoopStep)
		}
	}
	if err = loop.finish(metrics); err != nil {
		return nil, err
	}
	return metrics, nil
}

// RunToGlobalStep trains until the global step of the context reaches target, continuing a previous
// training (e.g.: loaded from a checkpoint) with the context in Reuse mode. It does nothing if the
// target was already reached.
func (loop *Loop) RunToGlobalStep(ds Dataset, target int) (metrics []float64, err error) {
	ctx := loop.Trainer.Context()
	var globalStep int
	if err = exceptions.TryCatch[error](func() { globalStep = int(optimizers.GetGlobalStep(ctx)) }); err != nil {
		return nil, err
	}
	if globalStep > 0 {
		loop.Trainer.SetContext(ctx.Reuse())
	}
	loop.LoopStep = globalStep
	return loop.RunSteps(ds, target-globalStep)
}

// RunEpochs trains over the whole ds the given number of times, calling ds.Reset after each epoch,
// and returns the train metrics of the last step.
//
// EndStep is -1 during the first epoch, and estimated from its number of steps afterward.
func (loop *Loop) RunEpochs(ds Dataset, epochs int) (metrics []float64, err error) {
	if err = loop.begin(ds, -1); err != nil {
		return nil, err
	}
	for loop.Epoch = 0; loop.Epoch < epochs; loop.Epoch++ {
		epochSteps := 0
		for {
			inputs, labels, err := ds.Yield()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, errors.WithMessagef(err, "reading batch for step %d (epoch %d)", loop.LoopStep, loop.Epoch)
			}
			if metrics, err = loop.trainStep(inputs, labels); err != nil {
				return nil, errors.WithMessagef(err, "train step %d (epoch %d)", loop.LoopStep, loop.Epoch)
			}
			epochSteps++
			loop.LoopStep++
		}
		if epochSteps == 0 {
			return nil, errors.Errorf("dataset %q yielded no batches in epoch %d", ds.Name(), loop.Epoch)
		}
		if err = loop.setEndStep(loop.LoopStep + epochSteps*(epochs-loop.Epoch-1)); err != nil {
			return nil, err
		}
		ds.Reset()
	}
	if err = loop.finish(metrics); err != nil {
		return nil, err
	}
	return metrics, nil
}

// MedianTrainStepDuration of the current run, or 1ms if no step was run, so it can be used as a divisor.
func (loop *Loop) MedianTrainStepDuration() time.Duration {
	if len(loop.TrainStepDurations) == 0 {
		return time.Millisecond
	}
	durations := slices.Clone(loop.TrainStepDurations)
	slices.Sort(durations)
	return durations[len(durations)/2]
}
