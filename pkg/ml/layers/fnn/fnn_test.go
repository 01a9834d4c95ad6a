package fnn

import (
	"math"
	"testing"

	. "github.com/gomlx/scalargrad/pkg/core/graph"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/ml/initializer"
	"github.com/gomlx/scalargrad/pkg/ml/layers/activations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaves(g *Graph, values ...float64) []*Node {
	nodes := make([]*Node, len(values))
	for ii, v := range values {
		nodes[ii] = Leaf(g, v)
	}
	return nodes
}

func TestNeuron(t *testing.T) {
	ctx := context.New().WithInitializer(initializer.Constant(0.5))
	g := ctx.Graph()
	inputs := leaves(g, 1, -4)

	// 0.5*1 + 0.5*(-4) + 0.5 = -1
	y := Neuron(ctx.In("linear"), inputs, activations.TypeNone, true)
	assert.Equal(t, -1.0, y.Value())
	y = Neuron(ctx.In("relu"), inputs, activations.TypeRelu, true)
	assert.Equal(t, 0.0, y.Value())
	y = Neuron(ctx.In("tanh_no_bias"), inputs, activations.TypeTanh, false)
	assert.InDelta(t, math.Tanh(-1.5), y.Value(), 1e-12)
	assert.Nil(t, ctx.InspectVariable("/tanh_no_bias", BiasName))
	assert.Equal(t, 2, NumWeights(ctx.In("linear")))
	assert.Equal(t, 0, NumWeights(ctx))

	// Gradients flow back to the weights: dy/dw_i = x_i.
	y = Neuron(ctx.In("grad"), inputs, activations.TypeNone, true)
	Backward(y)
	assert.Equal(t, 1.0, ctx.InspectVariable("/grad", "w_0").Grad())
	assert.Equal(t, -4.0, ctx.InspectVariable("/grad", "w_1").Grad())
	assert.Equal(t, 1.0, ctx.InspectVariable("/grad", BiasName).Grad())
}

func TestNeuronWeightsMismatch(t *testing.T) {
	ctx := context.New()
	g := ctx.Graph()
	Neuron(ctx.In("neuron"), leaves(g, 1, 2), activations.TypeRelu, true)
	require.Panics(t, func() { Neuron(ctx.Reuse().In("neuron"), leaves(g, 1, 2, 3), activations.TypeRelu, true) })
	require.Panics(t, func() { Neuron(ctx.In("empty"), nil, activations.TypeRelu, true) })
}

func TestFNN(t *testing.T) {
	ctx := context.New()
	ctx.SetParam(context.ParamInitialSeed, 42)
	ctx.RngStateReset()
	inputs := leaves(ctx.Graph(), 2, 3, -1)
	outputs := New(ctx, inputs, 1).NumHiddenLayers(2, 4).Activation(activations.TypeTanh).Done()
	require.Len(t, outputs, 1)

	// Same as the classic MLP(3, [4, 4, 1]).
	assert.Equal(t, 41, NumParameters(ctx))
	assert.Equal(t, 41, ctx.NumVariables())
	assert.NotNil(t, ctx.InspectVariable("/layer_0/neuron_3", "w_2"))
	assert.NotNil(t, ctx.InspectVariable("/layer_2/neuron_0", "w_3"))
	assert.Nil(t, ctx.InspectVariable("/layer_3/neuron_0", "w_0"))
	assert.Equal(t, 0, NumParameters(ctx.In("layer_3")))
	assert.Equal(t, 16, NumParameters(ctx.In("layer_0")))
	want := outputs[0].Value()

	// Rebuilding the model in a new forward pass reuses the same variables.
	ctx.ResetGraph()
	inputs = leaves(ctx.Graph(), 2, 3, -1)
	outputs = New(ctx.Reuse(), inputs, 1).NumHiddenLayers(2, 4).Activation(activations.TypeTanh).Done()
	assert.Equal(t, 41, ctx.NumVariables())
	assert.Equal(t, want, outputs[0].Value())

	// Rebuilding with a different input width fails loudly.
	ctx.ResetGraph()
	inputs = leaves(ctx.Graph(), 2, 3)
	require.Panics(t, func() { New(ctx.Reuse(), inputs, 1).NumHiddenLayers(2, 4).Done() })
}

func TestFNNFromContext(t *testing.T) {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		ParamNumHiddenLayers:        1,
		ParamNumHiddenNodes:         2,
		activations.ParamActivation: "relu",
		ParamOutputActivation:       "sigmoid",
		ParamInitializer:            "zero",
	})
	outputs := New(ctx.In("model"), leaves(ctx.Graph(), 1, 1), 3).Done()
	require.Len(t, outputs, 3)
	assert.Equal(t, (2+1)*2+(2+1)*3, NumParameters(ctx))
	for _, output := range outputs {
		// All weights are zero, so the output is sigmoid(0).
		assert.Equal(t, 0.5, output.Value())
	}

	require.Panics(t, func() { New(ctx, nil, 1) })
	require.Panics(t, func() { New(ctx, leaves(ctx.Graph(), 1), 0) })
	require.Panics(t, func() { New(ctx, leaves(ctx.Graph(), 1), 1).NumHiddenLayers(1, 0) })
}
