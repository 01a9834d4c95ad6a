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

// Package cosineschedule implements a cosine annealing schedule for the learning rate.
// See New for details and example of usage, and original paper description in [1]
//
// [1] https://paperswithcode.com/method/cosine-annealing.
package cosineschedule

import (
	"math"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/ml/train"
	"github.com/gomlx/scalargrad/pkg/ml/train/optimizers"
	"k8s.io/klog/v2"
)

var (
	// ParamPeriodSteps enables cosine annealing (cosine schedule) for the learning rate.
	//
	// This parameter defines the number of steps in a cosine annealing period.
	//
	//  * 0: Disables cosine annealing (default).
	//  * Positive value: Sets the period to the specified number of steps.
	//  * Negative value: Sets the period to a fraction of the total training steps.
	//      * -1: Period equals the total number of training steps (common setting).
	//      * -2: Period equals half the total number of training steps, and so on.
	ParamPeriodSteps = "cosine_schedule_steps"

	// ParamWarmUpSteps is the number of warmup steps: during these initial steps the learning rate
	// linearly increases from 0 to the learning rate defined by ParamLearningRate.
	// Only after the warmup steps the cosine annealing schedule starts.
	// The default is 0, which means no warmup.
	ParamWarmUpSteps = "cosine_schedule_warmup_steps"

	// ParamMinLearningRate is the minimum value of the learning rate during the
	// cosine annealing schedule.
	// Defaults to 0.0.
	ParamMinLearningRate = "cosine_schedule_min_learning_rate"
)

// DefaultLastStep is the value used for the last step of the training while one is not yet known.
const DefaultLastStep = 1_000_000_000

// Config of the cosine annealing schedule strategy.
// New creates it and once configured, call Config.AttachToLoop to have it update the learning rate during training.
type Config struct {
	ctx                           *context.Context
	learningRate, minLearningRate float64
	periodNumSteps                int
	warmUpSteps                   int
}

// New creates a configuration to apply a cosine annealing schedule for the learning rate.
// See details https://paperswithcode.com/method/cosine-annealing.
//
// It returns a Config that can be configured. When finished configuring, call
// `AttachToLoop` and it will set the learning rate (the hyperparameter optimizers.ParamLearningRate)
// in the trainer's context before every training step.
//
// Example with only one cycle, and a warmup of 10 steps:
//
//	cosineschedule.New(ctx).
//		MinLearningRate(0.001).
//		WarmUpSteps(10).
//		PeriodInSteps(-1).
//		AttachToLoop(loop)
//
// Or more simply, pass the hyperparameters in the context (see ParamPeriodSteps, ParamMinLearningRate, and
// ParamWarmUpSteps):
//
//	cosineschedule.New(ctx).FromContext().AttachToLoop(loop)
func New(ctx *context.Context) *Config {
	return &Config{ctx: ctx}
}

// FromContext configures the cosine annealing from the context, using the keys
// [ParamPeriodSteps], [ParamMinLearningRate] and [ParamWarmUpSteps].
func (opt *Config) FromContext() *Config {
	opt.periodNumSteps = context.GetParamOr(opt.ctx, ParamPeriodSteps, 0)
	opt.learningRate = context.GetParamOr(opt.ctx, optimizers.ParamLearningRate, 0.0)
	opt.minLearningRate = context.GetParamOr(opt.ctx, ParamMinLearningRate, 0.0)
	opt.warmUpSteps = context.GetParamOr(opt.ctx, ParamWarmUpSteps, 0)
	return opt
}

// PeriodInSteps sets the number of steps for one period of the cosine schedule. The effective
// learning rate decreases over the given period of training steps and then is restarted at
// each new period.
//
// It's common to use only one period (so no annealing, just a cosine schedule), in which case
// set it to -1: the period will be the number of steps that will be used for training.
//
// If set to 0, the cosine annealing schedule is silently disabled.
func (opt *Config) PeriodInSteps(periodSteps int) *Config {
	opt.periodNumSteps = periodSteps
	return opt
}

// MinLearningRate at the end of the cosine cycle. Defaults to 0.0.
func (opt *Config) MinLearningRate(minLearningRate float64) *Config {
	opt.minLearningRate = minLearningRate
	return opt
}

// WarmUpSteps sets the number of steps to linearly increase the learning rate from 0 to the
// base learning rate.
//
// The default is 0, which means no warmup.
func (opt *Config) WarmUpSteps(warmUpSteps int) *Config {
	if warmUpSteps < 0 {
		Panicf("cosineschedule: warmup steps must be >= 0, got %d", warmUpSteps)
	}
	opt.warmUpSteps = warmUpSteps
	return opt
}

// LearningRate at the start of the cosine cycle.
// If not given, it will try to read from the context params (keyed by ParamLearningRate).
func (opt *Config) LearningRate(learningRate float64) *Config {
	opt.learningRate = learningRate
	return opt
}

// LearningRateAt returns the learning rate to use for the training step (0-based global step) given.
//
// lastStep is the last step of the training, only used if the period is negative (a fraction of the training).
// If lastStep < 0 (not known yet), DefaultLastStep is used.
func (opt *Config) LearningRateAt(step, lastStep int) float64 {
	lrValue, lrMinValue := opt.learningRate, opt.minLearningRate
	if step < opt.warmUpSteps {
		return lrValue * float64(step+1) / float64(opt.warmUpSteps)
	}
	if opt.periodNumSteps == 0 {
		return lrValue
	}
	cosineStep := float64(step - opt.warmUpSteps)

	// Calculate the fraction of the cycle we are in.
	var cycle float64
	if opt.periodNumSteps > 0 {
		cycle = cosineStep / float64(opt.periodNumSteps)
	} else {
		if lastStep < 0 {
			lastStep = DefaultLastStep
		}
		periodNumSteps := float64(lastStep) / float64(-opt.periodNumSteps)
		cycle = max(cosineStep/periodNumSteps, 0)
	}
	// A cycle represents the fraction of a half-circle (180 degrees, or pi radians).
	cycle -= math.Floor(cycle) // Take only the fractional part: so always in the range `[0.0, 1.0)`.

	cosine := math.Cos(cycle * math.Pi) // from -1.0 to 1.0
	lr := (cosine + 1) / 2              // from 0.0 to 1.0
	return lr*(lrValue-lrMinValue) + lrMinValue
}

// AttachToLoop sets the learning rate hyperparameter (optimizers.ParamLearningRate) in the trainer's context
// before the first step of every run, and after every step for the following one.
//
// It panics if the learning rate was not configured and is also not set in the context.
// If the period is 0 and there are no warmup steps, the schedule is disabled and nothing is attached.
func (opt *Config) AttachToLoop(loop *train.Loop) {
	if opt.periodNumSteps == 0 && opt.warmUpSteps == 0 {
		return
	}
	if opt.learningRate == 0 {
		opt.learningRate = context.GetParamOr(opt.ctx, optimizers.ParamLearningRate, 0.0)
		if opt.learningRate == 0 {
			Panicf("learning rate not configured for cosineschedule.New and also "+
				"not set in the context as parameter %q", optimizers.ParamLearningRate)
		}
	}
	setLearningRate := func(loop *train.Loop, step int) {
		lr := opt.LearningRateAt(step, loop.EndStep)
		loop.Trainer.Context().SetParam(optimizers.ParamLearningRate, lr)
		klog.V(2).Infof("cosine schedule: learning rate for step %d set to %g", step, lr)
	}
	loop.OnStart("cosineschedule", -1, func(loop *train.Loop, _ train.Dataset) error {
		setLearningRate(loop, loop.LoopStep)
		return nil
	})
	loop.OnStep("cosineschedule", -1, func(loop *train.Loop, _ []float64) error {
		setLearningRate(loop, loop.LoopStep+1)
		return nil
	})
}
