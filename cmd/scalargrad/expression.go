package main

import (
	"fmt"
	"io"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/scalargrad/pkg/core/graph"
	"k8s.io/klog/v2"
)

// RegressionExpression builds the fixed expression used as a regression check of the engine,
// over the leaves a and b. It uses every operator of the engine, with shared sub-expressions.
//
// For a=-4 and b=2 it evaluates to ≈24.7041, with gradients ∂g/∂a≈138.8338 and ∂g/∂b≈645.5773.
func RegressionExpression(a, b *Node) *Node {
	c := Add(a, b)
	d := Add(Mul(a, b), Pow(b, 3))
	c = Add(c, AddScalar(c, 1))
	c = Add(c, Add(ScalarAdd(1, c), Neg(a)))
	d = Add(d, Add(MulScalar(d, 2), Relu(Add(b, a))))
	d = Add(d, Add(ScalarMul(3, d), Relu(Sub(b, a))))
	e := Sub(c, d)
	f := Pow(e, 2)
	g := DivScalar(f, 2)
	return Add(g, ScalarDiv(10, f))
}

// runExpressionDemo evaluates the RegressionExpression at a=-4, b=2, runs the backward pass and
// prints the result and the gradients of a and b.
func runExpressionDemo(w io.Writer) error {
	var value, gradA, gradB float64
	var numNodes int
	err := exceptions.TryCatch[error](func() {
		g := NewGraph("expression")
		a := Leaf(g, -4)
		b := Leaf(g, 2)
		root := RegressionExpression(a, b)
		Backward(root)
		value, gradA, gradB = root.Value(), a.Grad(), b.Grad()
		numNodes = g.NumNodes()
	})
	if err != nil {
		return err
	}
	klog.V(1).Infof("regression expression built with %d nodes", numNodes)
	_, err = fmt.Fprintf(w, "g = %.4f\na.grad = %.4f\nb.grad = %.4f\n", value, gradA, gradB)
	return err
}
