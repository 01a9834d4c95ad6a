// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graphtest holds test utilities for packages that depend on the graph package.
package graphtest

import (
	"fmt"
	"testing"

	"github.com/gomlx/scalargrad/pkg/core/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats/scalar"
)

// TestGraphFn should build its own inputs, and return both inputs and outputs
type TestGraphFn func(g *graph.Graph) (inputs, outputs []*graph.Node)

// RunTestGraphFn tests a graph building function graphFn by building it on a new graph and comparing
// the value of its output(s) to the values in want, reporting back any errors in t.
//
// delta is the margin of value on the difference of output and want values that are acceptable.
// Values of delta <= 0 means only exact equality is accepted.
func RunTestGraphFn(t *testing.T, testName string, graphFn TestGraphFn, want []float64, delta float64) {
	t.Run(testName, func(t *testing.T) {
		g := graph.NewGraph(testName)
		inputs, outputs := graphFn(g)
		require.Lenf(t, outputs, len(want), "%q: number of outputs doesn't match number of wanted values", testName)

		fmt.Printf("%s:\n", testName)
		for ii, input := range inputs {
			fmt.Printf("\tInput %d: %g\n", ii, input.Value())
		}
		for ii, output := range outputs {
			got := output.Value()
			if len(outputs) == 1 {
				fmt.Printf("\tOutput: %g\n", got)
			} else {
				fmt.Printf("\tOutput %d: %g\n", ii, got)
			}
			if delta > 0 {
				assert.InDeltaf(t, want[ii], got, delta, "%q: output #%d doesn't match", testName, ii)
			} else {
				assert.Equalf(t, want[ii], got, "%q: output #%d doesn't match", testName, ii)
			}
		}
	})
}

// ExprFn builds an expression over the given leaves, and returns its root.
type ExprFn func(g *graph.Graph, leaves []*graph.Node) *graph.Node

// NumericalGradients computes the central-difference approximation of the gradient of the expression built
// by exprFn with respect to each of its leaves, for the given leaf values.
//
// It perturbs the leaves one at a time by ±epsilon, with Node.SetValue, and rebuilds the expression for
// each perturbation.
func NumericalGradients(exprFn ExprFn, leafValues []float64, epsilon float64) []float64 {
	g := graph.NewGraph("numerical_gradients")
	leaves := make([]*graph.Node, len(leafValues))
	for ii, value := range leafValues {
		leaves[ii] = graph.Leaf(g, value)
	}
	mark := g.Mark()
	evaluate := func() float64 {
		defer g.Rewind(mark)
		return exprFn(g, leaves).Value()
	}

	grads := make([]float64, len(leaves))
	for ii, leaf := range leaves {
		original := leaf.Value()
		leaf.SetValue(original + epsilon)
		plus := evaluate()
		leaf.SetValue(original - epsilon)
		minus := evaluate()
		leaf.SetValue(original)
		grads[ii] = (plus - minus) / (2 * epsilon)
	}
	return grads
}

// CheckGradients compares the gradients computed by graph.Backward for the expression built by exprFn
// with the numerical gradients (see NumericalGradients), for every leaf.
//
// delta is used both as absolute and relative tolerance.
func CheckGradients(t *testing.T, testName string, exprFn ExprFn, leafValues []float64, epsilon, delta float64) {
	t.Run(testName, func(t *testing.T) {
		g := graph.NewGraph(testName)
		leaves := make([]*graph.Node, len(leafValues))
		for ii, value := range leafValues {
			leaves[ii] = graph.Leaf(g, value)
		}
		root := exprFn(g, leaves)
		analytic := graph.Gradient(root, leaves...)
		numeric := NumericalGradients(exprFn, leafValues, epsilon)
		for ii := range leaves {
			assert.Truef(t, scalar.EqualWithinAbsOrRel(analytic[ii], numeric[ii], delta, delta),
				"%q: gradient of leaf #%d (value %g): Backward got %g, numerical approximation got %g",
				testName, ii, leafValues[ii], analytic[ii], numeric[ii])
		}
	})
}
