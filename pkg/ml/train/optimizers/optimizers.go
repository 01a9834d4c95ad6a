// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package optimizers update the trainable variables of a context.Context from the gradients computed by
// graph.Backward. They all implement optimizers.Interface, and are used by train.Trainer or directly.
package optimizers

import (
	"math"
	"path"
	"slices"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"k8s.io/klog/v2"
)

// Interface implemented by optimizer implementations.
type Interface interface {
	// Update reads the gradients of the trainable variables of ctx, left there by graph.Backward on the loss,
	// and moves the variables' values one step against them. It also increments the global step.
	//
	// If any gradient is NaN or ±Inf it returns an error and no variable is changed, unless ParamClipNaN
	// is set, in which case only those variables are skipped.
	Update(ctx *context.Context) error

	// Clear deletes the state variables the optimizer keeps in ctx (e.g.: momentum).
	Clear(ctx *context.Context) error
}

// KnownOptimizers maps the values accepted by ParamOptimizer to a constructor configured from the context.
var KnownOptimizers = map[string]func(ctx *context.Context) Interface{
	"sgd":     func(ctx *context.Context) Interface { return StochasticGradientDescent().FromContext(ctx).Done() },
	"adam":    func(ctx *context.Context) Interface { return Adam().FromContext(ctx).Done() },
	"rmsprop": func(ctx *context.Context) Interface { return RMSProp().FromContext(ctx).Done() },
}

const (
	// ParamOptimizer names the optimizer built by FromContext, one of the keys of KnownOptimizers.
	// Default is "sgd".
	ParamOptimizer = "optimizer"

	// ParamLearningRate is the learning rate used by all optimizers, unless one is set explicitly.
	// It is read at every Update, so schedules can change it during training.
	ParamLearningRate = "learning_rate"

	// ParamClipStepByValue limits the absolute value of the step applied to each variable (after the learning rate).
	// 0 (the default) disables clipping.
	ParamClipStepByValue = "clip_step_by_value"

	// ParamClipNaN makes Update skip variables with NaN or ±Inf gradients, instead of failing.
	// Default is false.
	ParamClipNaN = "clip_nan"

	// GlobalStepVariableName is the name of the step counter, a non-trainable variable in the root scope.
	GlobalStepVariableName = "global_step"

	// Scope under the root where optimizers keep their state variables.
	Scope = "optimizers"
)

// FromContext builds the optimizer named by ParamOptimizer (default "sgd").
func FromContext(ctx *context.Context) Interface {
	return ByName(ctx, context.GetParamOr(ctx, ParamOptimizer, "sgd"))
}

// ByName builds one of the KnownOptimizers, configured from ctx. It panics for unknown names.
func ByName(ctx *context.Context, optName string) Interface {
	newOptimizer, found := KnownOptimizers[optName]
	if !found {
		names := maps.Keys(KnownOptimizers)
		slices.Sort(names)
		Panicf("unknown optimizer %q, valid values are %v", optName, names)
	}
	return newOptimizer(ctx)
}

// GetGlobalStepVar returns the global step counter of the root scope of ctx, creating it with 0 if needed.
func GetGlobalStepVar(ctx *context.Context) *context.Variable {
	return ctx.Checked(false).InAbsPath(context.RootScope).
		VariableWithValue(GlobalStepVariableName, 0).SetTrainable(false)
}

// GetGlobalStep returns the number of optimizer updates applied so far.
func GetGlobalStep(ctx *context.Context) int64 {
	return int64(GetGlobalStepVar(ctx).Value())
}

// DeleteGlobalStep removes the global step counter, so it restarts from 0.
func DeleteGlobalStep(ctx *context.Context) error {
	return ctx.DeleteVariable(context.RootScope, GlobalStepVariableName)
}

// IncrementGlobalStep adds one to the global step and returns the new value.
func IncrementGlobalStep(ctx *context.Context) int64 {
	v := GetGlobalStepVar(ctx)
	v.SetValue(v.Value() + 1)
	return int64(v.Value())
}

// ClipStepByValue clips step to ±ParamClipStepByValue, if set.
func ClipStepByValue(ctx *context.Context, step float64) float64 {
	limit := context.GetParamOr(ctx, ParamClipStepByValue, 0.0)
	if limit <= 0 {
		return step
	}
	return math.Max(-limit, math.Min(limit, step))
}

// gradient of a trainable variable, validated to be finite.
type gradient struct {
	v    *context.Variable
	grad float64
}

// finiteGradients collects the gradients of all trainable variables of ctx, in creation order.
//
// All gradients are checked before the caller changes anything: a non-finite one is an error,
// or, with ParamClipNaN, its variable is left out.
func finiteGradients(ctx *context.Context) ([]gradient, error) {
	clipNaN := context.GetParamOr(ctx, ParamClipNaN, false)
	var grads []gradient
	for v := range ctx.IterVariables() {
		if !v.Trainable {
			continue
		}
		g := v.Grad()
		if math.IsNaN(g) || math.IsInf(g, 0) {
			if !clipNaN {
				return nil, errors.Errorf("gradient of variable %q is %g", v.ScopeAndName(), g)
			}
			klog.V(1).Infof("skipping update of %q, gradient is %g", v.ScopeAndName(), g)
			continue
		}
		grads = append(grads, gradient{v: v, grad: g})
	}
	return grads, nil
}

// learningRate returns configured if set (> 0), or ParamLearningRate otherwise.
func learningRate(ctx *context.Context, configured, defaultValue float64) float64 {
	if configured > 0 {
		return configured
	}
	return context.GetParamOr(ctx, ParamLearningRate, defaultValue)
}

// stateVariable returns the non-trainable variable `<v name>_<suffix>` kept by an optimizer for v,
// under `/optimizers/<optimizerScope>/<v scope>`. It starts at 0.
func stateVariable(ctx *context.Context, optimizerScope string, v *context.Variable, suffix string) *context.Variable {
	scopePath := path.Join(context.RootScope, Scope, optimizerScope, v.Scope())
	return ctx.Checked(false).InAbsPath(scopePath).
		VariableWithValue(v.Name()+"_"+suffix, 0).
		SetTrainable(false)
}

// clearScope deletes all variables under `/optimizers/<optimizerScope>`.
func clearScope(ctx *context.Context, optimizerScope string) error {
	ctx.InAbsPath(path.Join(context.RootScope, Scope, optimizerScope)).DeleteVariablesInScope()
	return nil
}

const (
	// SGDDefaultLearningRate is used by StochasticGradientDescent if no learning rate is configured.
	SGDDefaultLearningRate = 0.1

	// ParamSGDMomentum is the momentum of StochasticGradientDescent, in [0, 1). Default is 0.
	ParamSGDMomentum = "sgd_momentum"

	sgdScope = "sgd"
)

// SGDConfig is the stochastic gradient descent optimizer, with optional momentum.
type SGDConfig struct {
	learningRate, momentum float64
}

// StochasticGradientDescent returns an SGD optimizer to configure.
//
// Each update does `value -= learning_rate * grad`. With momentum m each variable also keeps a velocity,
// `velocity = m*velocity + grad`, used in place of grad.
func StochasticGradientDescent() *SGDConfig {
	return &SGDConfig{}
}

// LearningRate fixes the learning rate. If not set, ParamLearningRate is used (or SGDDefaultLearningRate).
func (sgd *SGDConfig) LearningRate(learningRate float64) *SGDConfig {
	sgd.learningRate = learningRate
	return sgd
}

// Momentum sets the momentum, in [0, 1). It panics otherwise.
func (sgd *SGDConfig) Momentum(momentum float64) *SGDConfig {
	if momentum < 0 || momentum >= 1 {
		Panicf("optimizers: SGD momentum must be in [0, 1), got %g", momentum)
	}
	sgd.momentum = momentum
	return sgd
}

// FromContext reads the momentum from ParamSGDMomentum.
func (sgd *SGDConfig) FromContext(ctx *context.Context) *SGDConfig {
	return sgd.Momentum(context.GetParamOr(ctx, ParamSGDMomentum, sgd.momentum))
}

// Done returns the configured optimizer.
func (sgd *SGDConfig) Done() Interface {
	return sgd
}

// Update implements Interface.
func (sgd *SGDConfig) Update(ctx *context.Context) error {
	grads, err := finiteGradients(ctx)
	if err != nil {
		return errors.WithMessage(err, "SGD update")
	}
	lr := learningRate(ctx, sgd.learningRate, SGDDefaultLearningRate)
	for _, g := range grads {
		direction := g.grad
		if sgd.momentum > 0 {
			velocity := stateVariable(ctx, sgdScope, g.v, "velocity")
			direction += sgd.momentum * velocity.Value()
			velocity.SetValue(direction)
		}
		g.v.SetValue(g.v.Value() - ClipStepByValue(ctx, lr*direction))
	}
	IncrementGlobalStep(ctx)
	return nil
}

// Clear implements Interface, deleting the velocities.
func (sgd *SGDConfig) Clear(ctx *context.Context) error {
	return clearScope(ctx, sgdScope)
}
