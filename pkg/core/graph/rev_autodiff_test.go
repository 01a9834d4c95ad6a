package graph_test

import (
	"math"
	"testing"

	. "github.com/gomlx/scalargrad/pkg/core/graph"
	"github.com/gomlx/scalargrad/pkg/core/graph/graphtest"
	"github.com/stretchr/testify/assert"
)

func TestBackwardDiamond(t *testing.T) {
	g := NewGraph("diamond")
	x := Leaf(g, 3)
	y := Add(x, x)
	Backward(y)
	assert.Equal(t, 6.0, y.Value())
	assert.Equal(t, 1.0, y.Grad())
	assert.Equal(t, 2.0, x.Grad())

	// x is used by two paths, each with two uses: d(x*x + x*x)/dx = 4x.
	z := Add(Mul(x, x), Mul(x, x))
	Backward(z)
	assert.Equal(t, 12.0, x.Grad())
}

func TestBackwardRules(t *testing.T) {
	t.Run("Mul", func(t *testing.T) {
		g := NewGraph("mul")
		a, b := Leaf(g, 2), Leaf(g, -3)
		c := Mul(a, b)
		Backward(c)
		assert.Equal(t, -6.0, c.Value())
		assert.Equal(t, -3.0, a.Grad())
		assert.Equal(t, 2.0, b.Grad())
	})

	t.Run("Pow", func(t *testing.T) {
		g := NewGraph("pow")
		a := Leaf(g, 2)
		c := Pow(a, 3)
		Backward(c)
		assert.Equal(t, 8.0, c.Value())
		assert.Equal(t, 12.0, a.Grad())
	})

	t.Run("Relu", func(t *testing.T) {
		g := NewGraph("relu")
		negative := Leaf(g, -2)
		c := Relu(negative)
		out := MulScalar(c, 5)
		Backward(out)
		assert.Equal(t, 0.0, c.Value())
		assert.Equal(t, 5.0, c.Grad())
		assert.Equal(t, 0.0, negative.Grad())

		positive := Leaf(g, 3)
		c = Relu(positive)
		out = MulScalar(c, 5)
		Backward(out)
		assert.Equal(t, 3.0, c.Value())
		assert.Equal(t, 5.0, positive.Grad())

		// Subgradient at exactly 0 is 0.
		zero := Leaf(g, 0)
		Backward(Relu(zero))
		assert.Equal(t, 0.0, zero.Grad())
	})

	t.Run("Tanh", func(t *testing.T) {
		g := NewGraph("tanh")
		a := Leaf(g, 0)
		c := Tanh(a)
		Backward(c)
		assert.Equal(t, 0.0, c.Value())
		assert.Equal(t, 1.0, a.Grad())

		a.SetValue(0.5)
		c = Tanh(a)
		Backward(c)
		assert.InDelta(t, 1-math.Pow(math.Tanh(0.5), 2), a.Grad(), 1e-12)
	})

	t.Run("Exp", func(t *testing.T) {
		g := NewGraph("exp")
		a := Leaf(g, 1.5)
		c := Exp(a)
		Backward(c)
		assert.InDelta(t, math.Exp(1.5), a.Grad(), 1e-12)
	})
}

// buildRegressionExpression builds the expression used as an end-to-end regression test of the engine,
// and returns its root.
func buildRegressionExpression(a, b *Node) *Node {
	c := Add(a, b)
	d := Add(Mul(a, b), Pow(b, 3))
	c = Add(c, AddScalar(c, 1))
	c = Add(c, Add(ScalarAdd(1, c), Neg(a)))
	d = Add(d, Add(MulScalar(d, 2), Relu(Add(b, a))))
	d = Add(d, Add(ScalarMul(3, d), Relu(Sub(b, a))))
	e := Sub(c, d)
	f := Pow(e, 2)
	return Add(DivScalar(f, 2), ScalarDiv(10, f))
}

func TestBackwardRegression(t *testing.T) {
	g := NewGraph("regression")
	a := Leaf(g, -4)
	b := Leaf(g, 2)
	root := buildRegressionExpression(a, b)
	Backward(root)
	assert.InDelta(t, 24.70408, root.Value(), 1e-3)
	assert.InDelta(t, 138.83382, a.Grad(), 1e-3)
	assert.InDelta(t, 645.57727, b.Grad(), 1e-3)

	grads := Gradient(root, a, b)
	assert.InDeltaSlice(t, []float64{138.83382, 645.57727}, grads, 1e-3)
}

func TestBackwardIdempotent(t *testing.T) {
	g := NewGraph("idempotent")
	a := Leaf(g, -4)
	b := Leaf(g, 2)
	root := buildRegressionExpression(a, b)
	nodes := TopologicalOrder(root)

	Backward(root)
	first := make([]float64, len(nodes))
	for ii, node := range nodes {
		first[ii] = node.Grad()
	}
	Backward(root)
	for ii, node := range nodes {
		assert.Equalf(t, first[ii], node.Grad(), "gradient of node %s changed on the second Backward", node)
	}

	// Backward from another root recomputes from scratch.
	c := Mul(a, b)
	Backward(c)
	assert.Equal(t, 2.0, a.Grad())
	assert.Equal(t, -4.0, b.Grad())
}

func TestGradientNotReachable(t *testing.T) {
	g := NewGraph("unreachable")
	a := Leaf(g, 1)
	b := Leaf(g, 2)
	Backward(Mul(a, b))
	assert.Equal(t, 2.0, a.Grad())
	grads := Gradient(Exp(b), a, b)
	assert.Equal(t, 0.0, grads[0])
	assert.InDelta(t, math.Exp(2), grads[1], 1e-12)
}

func TestTopologicalOrder(t *testing.T) {
	g := NewGraph("topological")
	x := Leaf(g, 1)
	y := Leaf(g, 2)
	Exp(y) // Not reachable from r.
	s := Add(y, x)
	p := Mul(s, x)
	r := Add(p, s)
	order := TopologicalOrder(r)
	// Depth-first post-order, inputs visited in the order given.
	assert.Equal(t, []*Node{y, x, s, p, r}, order)

	// Deep graphs don't overflow the stack.
	deep := x
	for range 100_000 {
		deep = AddScalar(deep, 1)
	}
	order = TopologicalOrder(deep)
	assert.Len(t, order, 200_001)
	assert.Same(t, x, order[0])
	assert.Same(t, deep, order[len(order)-1])
	Backward(deep)
	assert.Equal(t, 1.0, x.Grad())
}

func TestNumericalGradients(t *testing.T) {
	const epsilon, delta = 1e-6, 1e-4
	graphtest.CheckGradients(t, "Polynomial", func(g *Graph, l []*Node) *Node {
		return Add(Mul(Pow(l[0], 3), l[1]), ScalarDiv(2, l[1]))
	}, []float64{1.3, -0.7}, epsilon, delta)

	graphtest.CheckGradients(t, "Transcendental", func(g *Graph, l []*Node) *Node {
		return Mul(Tanh(Mul(l[0], l[1])), Exp(Neg(l[2])))
	}, []float64{0.4, -1.1, 0.3}, epsilon, delta)

	graphtest.CheckGradients(t, "Relu", func(g *Graph, l []*Node) *Node {
		return Add(Relu(Sub(l[0], l[1])), Relu(Mul(l[0], l[1])))
	}, []float64{2, 0.5}, epsilon, delta)

	graphtest.CheckGradients(t, "Regression", func(g *Graph, l []*Node) *Node {
		return buildRegressionExpression(l[0], l[1])
	}, []float64{-4, 2}, epsilon, delta)

	graphtest.CheckGradients(t, "SharedSubexpressions", func(g *Graph, l []*Node) *Node {
		s := Sigmoid(Add(l[0], l[1]))
		return Div(Mul(s, s), AddScalar(Square(l[1]), 1))
	}, []float64{0.2, 0.9}, epsilon, delta)
}
