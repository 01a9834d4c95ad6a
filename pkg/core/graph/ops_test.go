package graph_test

import (
	"math"
	"testing"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/scalargrad/pkg/core/graph"
	"github.com/gomlx/scalargrad/pkg/core/graph/graphtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinaryOps(t *testing.T) {
	graphtest.RunTestGraphFn(t, "Add/Sub/Mul/Div", func(g *Graph) (inputs, outputs []*Node) {
		x, y := Leaf(g, 6), Leaf(g, -4)
		inputs = []*Node{x, y}
		outputs = []*Node{Add(x, y), Sub(x, y), Mul(x, y), Div(x, y)}
		return
	}, []float64{2, 10, -24, -1.5}, 0)

	graphtest.RunTestGraphFn(t, "ScalarOps", func(g *Graph) (inputs, outputs []*Node) {
		x := Leaf(g, 4)
		inputs = []*Node{x}
		outputs = []*Node{
			AddScalar(x, 1), ScalarAdd(1, x),
			SubScalar(x, 1), ScalarSub(1, x),
			MulScalar(x, 2), ScalarMul(2.5, x),
			DivScalar(x, 2), ScalarDiv(10, x),
		}
		return
	}, []float64{5, 5, 3, -3, 8, 10, 2, 2.5}, 1e-12)
}

func TestUnaryOps(t *testing.T) {
	graphtest.RunTestGraphFn(t, "UnaryOps", func(g *Graph) (inputs, outputs []*Node) {
		x := Leaf(g, 2)
		inputs = []*Node{x}
		outputs = []*Node{
			Neg(x), Pow(x, 3), Reciprocal(x), Square(x),
			Relu(x), Relu(Neg(x)), Tanh(x), Exp(x), Sigmoid(x),
		}
		return
	}, []float64{-2, 8, 0.5, 4, 2, 0, math.Tanh(2), math.Exp(2), 1 / (1 + math.Exp(-2))}, 1e-12)

	graphtest.RunTestGraphFn(t, "Reductions", func(g *Graph) (inputs, outputs []*Node) {
		xs := []*Node{Leaf(g, 1), Leaf(g, 2), Leaf(g, 3)}
		ws := []*Node{Leaf(g, -1), Leaf(g, 0.5), Leaf(g, 2)}
		inputs = append(xs, ws...)
		outputs = []*Node{Sum(xs...), Sum(xs[1]), Mean(xs...), Dot(xs, ws)}
		return
	}, []float64{6, 2, 2, 6}, 1e-12)
}

func TestFloatingPointSemantics(t *testing.T) {
	g := NewGraph("ieee754")
	zero := Leaf(g, 0)
	assert.True(t, math.IsInf(Reciprocal(zero).Value(), 1))
	assert.True(t, math.IsNaN(Div(zero, zero).Value()))
	assert.True(t, math.IsNaN(Pow(Leaf(g, -8), 1.0/3.0).Value()))
	nan := Leaf(g, math.NaN())
	assert.True(t, math.IsNaN(Relu(nan).Value()), "Relu must propagate NaN")
	assert.True(t, math.IsInf(Exp(Leaf(g, 1000)).Value(), 1))
}

func TestChildOrder(t *testing.T) {
	g := NewGraph("order")
	x, y := Leaf(g, 1), Leaf(g, 2)

	sum := Add(x, y)
	assert.Equal(t, NodeTypeAdd, sum.Type())
	assert.Equal(t, []*Node{x, y}, sum.Inputs())
	assert.Equal(t, []*Node{y, x}, Add(y, x).Inputs(), "commutative ops must keep the given order")

	// Sub(x, y) = Add(x, Mul(-1, y))
	sub := Sub(x, y)
	subInputs := sub.Inputs()
	assert.Equal(t, NodeTypeAdd, sub.Type())
	assert.Same(t, x, subInputs[0])
	neg := subInputs[1]
	assert.Equal(t, NodeTypeMul, neg.Type())
	assert.Equal(t, -1.0, neg.Inputs()[0].Value())
	assert.True(t, neg.Inputs()[0].IsLeaf())
	assert.Same(t, y, neg.Inputs()[1])

	// Div(x, y) = Mul(x, Pow(y, -1))
	div := Div(x, y)
	assert.Equal(t, NodeTypeMul, div.Type())
	recip := div.Inputs()[1]
	assert.Equal(t, NodeTypePow, recip.Type())
	assert.Equal(t, -1.0, recip.Exponent())
	assert.Same(t, y, recip.Inputs()[0])

	// Constants go on the side they were given.
	left := ScalarMul(3, x)
	assert.Equal(t, 3.0, left.Inputs()[0].Value())
	assert.Same(t, x, left.Inputs()[1])
	right := MulScalar(x, 3)
	assert.Same(t, x, right.Inputs()[0])
	assert.Equal(t, 3.0, right.Inputs()[1].Value())

	// ScalarDiv(c, x) = Mul(c, Pow(x, -1))
	sdiv := ScalarDiv(10, x)
	assert.Equal(t, 10.0, sdiv.Inputs()[0].Value())
	assert.Equal(t, NodeTypePow, sdiv.Inputs()[1].Type())
}

func TestOpsPreconditions(t *testing.T) {
	g0 := NewGraph("g0")
	g1 := NewGraph("g1")
	x0 := Leaf(g0, 1)
	x1 := Leaf(g1, 1)

	err := exceptions.TryCatch[error](func() { Add(x0, x1) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "different graphs")

	err = exceptions.TryCatch[error](func() { Mul(x0, nil) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid input[1]")

	require.Panics(t, func() { Sum() })
	require.Panics(t, func() { Dot([]*Node{x0}, nil) })
	require.Panics(t, func() { Dot(nil, nil) })
	require.Panics(t, func() { Leaf(nil, 1) })

	// Only leaves can have their values changed.
	y := Tanh(x0)
	err = exceptions.TryCatch[error](func() { y.SetValue(3) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only leaf nodes")
	assert.Equal(t, math.Tanh(1), y.Value())
	require.Panics(t, func() { x0.Exponent() })

	// Changing a leaf doesn't change derived nodes.
	x0.SetValue(0)
	assert.Equal(t, 0.0, x0.Value())
	assert.Equal(t, math.Tanh(1), y.Value())
	assert.Equal(t, 0.0, Tanh(x0).Value())
}

func TestNodeTypeString(t *testing.T) {
	assert.Equal(t, "Relu", NodeTypeRelu.String())
	nodeType, err := NodeTypeString("pow")
	require.NoError(t, err)
	assert.Equal(t, NodeTypePow, nodeType)
	_, err = NodeTypeString("log")
	require.Error(t, err)
	for _, nodeType := range NodeTypeValues() {
		assert.True(t, nodeType.IsANodeType())
	}
	assert.Equal(t, 0, NodeTypeLeaf.Arity())
	assert.Equal(t, 2, NodeTypeMul.Arity())
	assert.Equal(t, 1, NodeTypeExp.Arity())
	assert.Equal(t, -1, NodeTypeInvalid.Arity())
}
