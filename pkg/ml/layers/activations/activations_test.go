package activations

import (
	"math"
	"testing"

	"github.com/gomlx/scalargrad/pkg/core/graph"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply(t *testing.T) {
	g := graph.NewGraph("activations")
	x := graph.Leaf(g, -0.5)
	assert.Same(t, x, Apply(TypeNone, x))
	assert.Equal(t, 0.0, Apply(TypeRelu, x).Value())
	assert.InDelta(t, math.Tanh(-0.5), Apply(TypeTanh, x).Value(), 1e-12)
	assert.InDelta(t, 1/(1+math.Exp(0.5)), Apply(TypeSigmoid, x).Value(), 1e-12)
	require.Panics(t, func() { Apply(Type(100), x) })
}

func TestFromName(t *testing.T) {
	assert.Equal(t, TypeNone, FromName(""))
	assert.Equal(t, TypeNone, FromName("linear"))
	assert.Equal(t, TypeRelu, FromName("relu"))
	assert.Equal(t, TypeSigmoid, FromName("Sigmoid"))
	assert.Equal(t, "tanh", TypeTanh.String())
	require.Panics(t, func() { FromName("swish") })
}

func TestApplyFromContext(t *testing.T) {
	ctx := context.New()
	x := graph.Leaf(ctx.Graph(), 2)
	assert.Equal(t, 0.0, ApplyFromContext(ctx, graph.Neg(x)).Value()) // Relu by default.
	ctx.In("output").SetParam(ParamActivation, "tanh")
	assert.InDelta(t, math.Tanh(2), ApplyFromContext(ctx.In("output"), x).Value(), 1e-12)
}
