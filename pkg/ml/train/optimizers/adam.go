// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"math"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/pkg/errors"
)

const (
	// AdamDefaultLearningRate is used by Adam and RMSProp if no learning rate is configured.
	AdamDefaultLearningRate = 0.001

	// AdamDefaultScope is where Adam keeps its state, under Scope.
	AdamDefaultScope = "adam"

	// ParamAdamEpsilon is added to the denominator of the Adam step. Default is 1e-7.
	ParamAdamEpsilon = "adam_epsilon"

	// ParamAdamWeightDecay makes Adam work as AdamW. Default is 0.
	ParamAdamWeightDecay = "adam_weight_decay"

	// ParamAdamBeta1 is the decay of the moving average of the gradients. Default is 0.9.
	ParamAdamBeta1 = "adam_beta1"

	// ParamAdamBeta2 is the decay of the moving average of the squared gradients. Default is 0.999.
	ParamAdamBeta2 = "adam_beta2"

	// adamStepName counts Adam updates, for the bias correction. It is kept apart from the global step,
	// so Clear restarts it.
	adamStepName = "adam_step"
)

// AdamConfig configures Adam or RMSProp. Call Done to get the optimizer.
type AdamConfig struct {
	scopeName    string
	learningRate float64
	beta1, beta2 float64
	epsilon      float64
	weightDecay  float64
	rmsProp      bool
}

// Adam returns the configuration of the Adam optimizer (Kingma and Ba, https://arxiv.org/abs/1412.6980).
//
// For each variable it keeps moving averages of the gradient (m) and of its square (v), and steps by
// `learning_rate * m̂ / (sqrt(v̂) + epsilon)`, where m̂ and v̂ are the averages with the bias of their
// zero start removed.
func Adam() *AdamConfig {
	return &AdamConfig{
		scopeName: AdamDefaultScope,
		beta1:     0.9,
		beta2:     0.999,
		epsilon:   1e-7,
	}
}

// RMSProp returns an Adam configuration without the moving average of the gradient:
// each step is the gradient divided by the root of the moving average of its square.
// Its state is kept in the "rmsprop" scope.
func RMSProp() *AdamConfig {
	c := Adam()
	c.rmsProp = true
	c.scopeName = "rmsprop"
	return c
}

// FromContext reads ParamAdamEpsilon, ParamAdamWeightDecay, ParamAdamBeta1 and ParamAdamBeta2.
func (c *AdamConfig) FromContext(ctx *context.Context) *AdamConfig {
	c.Epsilon(context.GetParamOr(ctx, ParamAdamEpsilon, c.epsilon))
	c.WeightDecay(context.GetParamOr(ctx, ParamAdamWeightDecay, c.weightDecay))
	c.Betas(context.GetParamOr(ctx, ParamAdamBeta1, c.beta1), context.GetParamOr(ctx, ParamAdamBeta2, c.beta2))
	return c
}

// Scope sets the scope, under `/optimizers`, of the moments and of the step counter.
func (c *AdamConfig) Scope(name string) *AdamConfig {
	c.scopeName = name
	return c
}

// LearningRate fixes the learning rate. If not set, ParamLearningRate is used (or AdamDefaultLearningRate).
func (c *AdamConfig) LearningRate(value float64) *AdamConfig {
	c.learningRate = value
	return c
}

// Betas sets the decays of the moving averages of the gradient and of its square, both in [0, 1).
func (c *AdamConfig) Betas(beta1, beta2 float64) *AdamConfig {
	if beta1 < 0 || beta1 >= 1 || beta2 < 0 || beta2 >= 1 {
		Panicf("optimizers: Adam betas must be in [0, 1), got %g and %g", beta1, beta2)
	}
	c.beta1, c.beta2 = beta1, beta2
	return c
}

// Epsilon sets the constant added to the denominator of the step.
func (c *AdamConfig) Epsilon(epsilon float64) *AdamConfig {
	c.epsilon = epsilon
	return c
}

// WeightDecay adds `learning_rate * weightDecay * value` to each step (AdamW).
func (c *AdamConfig) WeightDecay(weightDecay float64) *AdamConfig {
	c.weightDecay = weightDecay
	return c
}

// Done returns the configured optimizer.
func (c *AdamConfig) Done() Interface {
	return &adam{AdamConfig: *c}
}

type adam struct {
	AdamConfig
}

// Update implements Interface.
func (o *adam) Update(ctx *context.Context) error {
	grads, err := finiteGradients(ctx)
	if err != nil {
		return errors.WithMessage(err, "Adam update")
	}
	lr := learningRate(ctx, o.learningRate, AdamDefaultLearningRate)

	IncrementGlobalStep(ctx)
	stepVar := ctx.Checked(false).InAbsPath(context.RootScope).In(Scope).In(o.scopeName).
		VariableWithValue(adamStepName, 0).SetTrainable(false)
	step := stepVar.Value() + 1
	stepVar.SetValue(step)
	correction1 := 1 - math.Pow(o.beta1, step)
	correction2 := 1 - math.Pow(o.beta2, step)

	for _, g := range grads {
		numerator := g.grad
		if !o.rmsProp {
			m1 := stateVariable(ctx, o.scopeName, g.v, "1st_moment")
			m1.SetValue(o.beta1*m1.Value() + (1-o.beta1)*g.grad)
			numerator = m1.Value() / correction1
		}
		m2 := stateVariable(ctx, o.scopeName, g.v, "2nd_moment")
		m2.SetValue(o.beta2*m2.Value() + (1-o.beta2)*g.grad*g.grad)

		value := g.v.Value()
		delta := lr * numerator / (math.Sqrt(m2.Value()/correction2) + o.epsilon)
		delta += lr * o.weightDecay * value
		g.v.SetValue(value - ClipStepByValue(ctx, delta))
	}
	return nil
}

// Clear implements Interface, deleting the moments and the Adam step counter.
func (o *adam) Clear(ctx *context.Context) error {
	return clearScope(ctx, o.scopeName)
}
