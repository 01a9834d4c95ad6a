package optimizers

import (
	"math"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/scalargrad/pkg/core/graph"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// squareLossStep runs a forward pass with loss = w^2 + frozen, the backward pass, and the optimizer update.
func squareLossStep(t *testing.T, ctx *context.Context, opt Interface) error {
	ctx.ResetGraph()
	w := ctx.Reuse().VariableWithValue("w", 0)
	frozen := ctx.Reuse().VariableWithValue("frozen", 0)
	loss := graph.Add(graph.Square(w.Node()), frozen.Node())
	graph.Backward(loss)
	require.Equal(t, 1.0, frozen.Grad())
	return opt.Update(ctx)
}

func newSquareLossContext() *context.Context {
	ctx := context.New()
	ctx.VariableWithValue("w", 2)
	ctx.VariableWithValue("frozen", 7).SetTrainable(false)
	return ctx
}

func TestSGD(t *testing.T) {
	ctx := newSquareLossContext()
	opt := StochasticGradientDescent().LearningRate(0.1).Done()
	require.NoError(t, squareLossStep(t, ctx, opt))
	// w = 2 - 0.1*(2*2)
	assert.InDelta(t, 1.6, ctx.GetVariable("w").Value(), 1e-12)
	assert.Equal(t, 7.0, ctx.GetVariable("frozen").Value())
	assert.Equal(t, int64(1), GetGlobalStep(ctx))
	require.NoError(t, squareLossStep(t, ctx, opt))
	assert.InDelta(t, 1.28, ctx.GetVariable("w").Value(), 1e-12)
	assert.Equal(t, int64(2), GetGlobalStep(ctx))
	require.NoError(t, DeleteGlobalStep(ctx))
	assert.Equal(t, int64(0), GetGlobalStep(ctx))
}

func TestSGDMomentum(t *testing.T) {
	ctx := newSquareLossContext()
	ctx.SetParams(map[string]any{ParamLearningRate: 0.1, ParamSGDMomentum: 0.5})
	opt := StochasticGradientDescent().FromContext(ctx).Done()
	require.NoError(t, squareLossStep(t, ctx, opt))
	assert.InDelta(t, 1.6, ctx.GetVariable("w").Value(), 1e-12)
	velocity := ctx.InspectVariable("/optimizers/sgd", "w_velocity")
	require.NotNil(t, velocity)
	assert.False(t, velocity.Trainable)
	assert.InDelta(t, 4.0, velocity.Value(), 1e-12)

	// velocity = 0.5*4 + 2*1.6 = 5.2
	require.NoError(t, squareLossStep(t, ctx, opt))
	assert.InDelta(t, 5.2, ctx.InspectVariable("/optimizers/sgd", "w_velocity").Value(), 1e-12)
	assert.InDelta(t, 1.08, ctx.GetVariable("w").Value(), 1e-12)

	require.NoError(t, opt.Clear(ctx))
	assert.Nil(t, ctx.InspectVariable("/optimizers/sgd", "w_velocity"))
	assert.NotNil(t, ctx.GetVariable("w"))
	require.Panics(t, func() { StochasticGradientDescent().Momentum(1) })
}

func TestNaNGradients(t *testing.T) {
	ctx := context.New()
	w := ctx.VariableWithValue("w", -1)
	opt := StochasticGradientDescent().Done()
	graph.Backward(graph.Pow(w.Node(), 0.5))
	err := opt.Update(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/w")
	assert.Equal(t, -1.0, w.Value())

	ctx.SetParam(ParamClipNaN, true)
	require.NoError(t, opt.Update(ctx))
	assert.Equal(t, -1.0, w.Value())
}

func TestClipStepByValue(t *testing.T) {
	ctx := newSquareLossContext()
	ctx.SetParam(ParamClipStepByValue, 0.1)
	require.NoError(t, squareLossStep(t, ctx, StochasticGradientDescent().LearningRate(1).Done()))
	assert.InDelta(t, 1.9, ctx.GetVariable("w").Value(), 1e-12)
}

func TestAdam(t *testing.T) {
	ctx := newSquareLossContext()
	ctx.SetParams(map[string]any{ParamOptimizer: "adam", ParamLearningRate: 0.1})
	opt := FromContext(ctx)

	// First Adam step is ~learning_rate in the direction opposite to the gradient.
	require.NoError(t, squareLossStep(t, ctx, opt))
	assert.InDelta(t, 1.9, ctx.GetVariable("w").Value(), 1e-6)
	assert.NotNil(t, ctx.InspectVariable("/optimizers/adam", "w_1st_moment"))
	assert.NotNil(t, ctx.InspectVariable("/optimizers/adam", "w_2nd_moment"))
	assert.Equal(t, 1.0, ctx.InspectVariable("/optimizers/adam", adamStepName).Value())
	for range 50 {
		require.NoError(t, squareLossStep(t, ctx, opt))
	}
	assert.Less(t, ctx.GetVariable("w").Value(), 1.0)
	assert.Equal(t, int64(51), GetGlobalStep(ctx))

	require.NoError(t, opt.Clear(ctx))
	assert.Nil(t, ctx.InspectVariable("/optimizers/adam", "w_1st_moment"))
	assert.Nil(t, ctx.InspectVariable("/optimizers/adam", adamStepName))
}

func TestRMSProp(t *testing.T) {
	ctx := newSquareLossContext()
	opt := RMSProp().LearningRate(0.01).Done()
	require.NoError(t, squareLossStep(t, ctx, opt))
	assert.Nil(t, ctx.InspectVariable("/optimizers/rmsprop", "w_1st_moment"))
	assert.NotNil(t, ctx.InspectVariable("/optimizers/rmsprop", "w_2nd_moment"))
	assert.Less(t, ctx.GetVariable("w").Value(), 2.0)
}

func TestByName(t *testing.T) {
	ctx := context.New()
	assert.IsType(t, &SGDConfig{}, FromContext(ctx))
	assert.NotNil(t, ByName(ctx, "rmsprop"))
	err := exceptions.TryCatch[error](func() { ByName(ctx, "lion") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[adam rmsprop sgd]")
}

func TestNonFiniteGradientLeavesStateUnchanged(t *testing.T) {
	for _, name := range []string{"sgd", "adam"} {
		t.Run(name, func(t *testing.T) {
			ctx := context.New()
			a := ctx.VariableWithValue("a", 3)
			b := ctx.VariableWithValue("b", 5)
			// d/da = 1, d/db = +Inf.
			loss := graph.Add(a.Node(), graph.Mul(b.Node(), graph.Leaf(ctx.Graph(), math.Inf(1))))
			graph.Backward(loss)
			require.Equal(t, 1.0, a.Grad())
			require.True(t, math.IsInf(b.Grad(), 1))

			opt := ByName(ctx, name)
			require.Error(t, opt.Update(ctx))
			assert.Equal(t, 3.0, a.Value())
			assert.Equal(t, 5.0, b.Value())
			assert.Equal(t, int64(0), GetGlobalStep(ctx))
			assert.Nil(t, ctx.InspectVariable("/optimizers/adam", adamStepName))
			assert.Nil(t, ctx.InspectVariable("/optimizers/sgd", "a_velocity"))
		})
	}
}
