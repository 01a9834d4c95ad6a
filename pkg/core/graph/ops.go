package graph

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// Number is any Go numeric type that can be converted to a Node value.
type Number interface {
	constraints.Integer | constraints.Float
}

// validateBuildingGraphFromInputs checks that all inputs are valid and from the same graph, and that the
// graph is not in the middle of a Backward pass. It returns the graph of the inputs.
func validateBuildingGraphFromInputs(inputs ...*Node) (g *Graph) {
	if len(inputs) == 0 {
		exceptions.Panicf("no input nodes provided, at least one is required")
	}

	// Checks that all inputs are of the same graph.
	for ii, n := range inputs {
		if err := exceptions.TryCatch[error](n.AssertValid); err != nil {
			panic(errors.WithMessagef(err, "invalid input[%d]", ii))
		}
		if g == nil {
			g = n.Graph()
			g.AssertBuilding()
		} else {
			if n.Graph() != g {
				exceptions.Panicf("combining nodes from different graphs not allowed: "+
					"input[0] graph is %q, input[%d] graph is %q", g.Name(), ii, n.Graph().Name())
			}
		}
	}
	return
}

// Leaf creates a leaf node in the graph holding value. Leaves are used for inputs, constants and
// parameters, and are the only nodes whose value can be changed later with Node.SetValue.
func Leaf(g *Graph, value float64) *Node {
	g.AssertBuilding()
	node := &Node{
		graph:  g,
		opType: NodeTypeLeaf,
		value:  value,
	}
	g.registerNode(node)
	return node
}

// Scalar creates a leaf node holding value converted to float64.
// It is a convenience wrapper around Leaf for constants of any numeric type.
func Scalar[T Number](g *Graph, value T) *Node {
	return Leaf(g, float64(value))
}

// Add returns a node with x+y.
func Add(x, y *Node) *Node {
	return newNode(NodeTypeAdd, 0, x, y)
}

// Mul returns a node with x*y.
func Mul(x, y *Node) *Node {
	return newNode(NodeTypeMul, 0, x, y)
}

// Pow returns a node with x^exponent.
//
// Negative x with a fractional exponent results in NaN, following math.Pow.
func Pow(x *Node, exponent float64) *Node {
	return newNode(NodeTypePow, exponent, x)
}

// Relu returns a node with max(0, x).
//
// Its gradient is 0 for x <= 0, including exactly at 0.
func Relu(x *Node) *Node {
	return newNode(NodeTypeRelu, 0, x)
}

// Tanh returns a node with the hyperbolic tangent of x.
func Tanh(x *Node) *Node {
	return newNode(NodeTypeTanh, 0, x)
}

// Exp returns a node with e^x.
func Exp(x *Node) *Node {
	return newNode(NodeTypeExp, 0, x)
}

// Neg returns a node with -x, built as Mul(Scalar(-1), x).
func Neg(x *Node) *Node {
	return Mul(Scalar(x.Graph(), -1), x)
}

// Sub returns a node with x-y, built as Add(x, Neg(y)).
func Sub(x, y *Node) *Node {
	return Add(x, Neg(y))
}

// Reciprocal returns a node with 1/x, built as Pow(x, -1).
func Reciprocal(x *Node) *Node {
	return Pow(x, -1)
}

// Div returns a node with x/y, built as Mul(x, Reciprocal(y)).
//
// Division by zero results in ±Inf or NaN.
func Div(x, y *Node) *Node {
	return Mul(x, Reciprocal(y))
}

// Square returns a node with x^2.
func Square(x *Node) *Node {
	return Pow(x, 2)
}

// Sigmoid returns a node with 1/(1+e^-x), built from the other ops.
func Sigmoid(x *Node) *Node {
	return Reciprocal(AddScalar(Exp(Neg(x)), 1))
}

// AddScalar returns x+scalar, with the scalar as a new leaf on the right.
func AddScalar[T Number](x *Node, scalar T) *Node {
	return Add(x, Scalar(x.Graph(), scalar))
}

// ScalarAdd returns scalar+x, with the scalar as a new leaf on the left.
func ScalarAdd[T Number](scalar T, x *Node) *Node {
	return Add(Scalar(x.Graph(), scalar), x)
}

// SubScalar returns x-scalar, built as Sub(x, Scalar(scalar)).
func SubScalar[T Number](x *Node, scalar T) *Node {
	return Sub(x, Scalar(x.Graph(), scalar))
}

// ScalarSub returns scalar-x, built as Sub(Scalar(scalar), x).
func ScalarSub[T Number](scalar T, x *Node) *Node {
	return Sub(Scalar(x.Graph(), scalar), x)
}

// MulScalar returns x*scalar, with the scalar as a new leaf on the right.
func MulScalar[T Number](x *Node, scalar T) *Node {
	return Mul(x, Scalar(x.Graph(), scalar))
}

// ScalarMul returns scalar*x, with the scalar as a new leaf on the left.
func ScalarMul[T Number](scalar T, x *Node) *Node {
	return Mul(Scalar(x.Graph(), scalar), x)
}

// DivScalar returns x/scalar, built as a multiplication by the leaf 1/scalar.
func DivScalar[T Number](x *Node, scalar T) *Node {
	return Mul(x, Scalar(x.Graph(), 1/float64(scalar)))
}

// ScalarDiv returns scalar/x, built as Mul(Scalar(scalar), Reciprocal(x)).
func ScalarDiv[T Number](scalar T, x *Node) *Node {
	return Mul(Scalar(x.Graph(), scalar), Reciprocal(x))
}

// Sum returns the sum of all nodes, folded from left to right: Add(Add(x0, x1), x2)...
//
// A single node is returned as is. It panics if no node is given.
func Sum(nodes ...*Node) *Node {
	if len(nodes) == 0 {
		exceptions.Panicf("Sum() requires at least one node")
	}
	sum := nodes[0]
	for _, node := range nodes[1:] {
		sum = Add(sum, node)
	}
	return sum
}

// Mean returns the Sum of the nodes divided by their count.
func Mean(nodes ...*Node) *Node {
	return DivScalar(Sum(nodes...), len(nodes))
}

// Dot returns the sum of the element-wise products of xs and ys: Sum(Mul(xs[0], ys[0]), Mul(xs[1], ys[1]), ...).
// It panics if xs and ys have different lengths, or are empty.
func Dot(xs, ys []*Node) *Node {
	if len(xs) != len(ys) {
		exceptions.Panicf("Dot() requires inputs of the same length, got %d and %d", len(xs), len(ys))
	}
	if len(xs) == 0 {
		exceptions.Panicf("Dot() requires non-empty inputs")
	}
	products := make([]*Node, len(xs))
	for ii := range xs {
		products[ii] = Mul(xs[ii], ys[ii])
	}
	return Sum(products...)
}
