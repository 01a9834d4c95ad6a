// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNodeArity(t *testing.T) {
	g := NewGraph("arity")
	x := Leaf(g, 1)
	y := Leaf(g, 2)

	err := exceptions.TryCatch[error](func() { newNode(NodeTypeAdd, 0, x) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Add takes 2 inputs, 1 given")

	err = exceptions.TryCatch[error](func() { newNode(NodeTypeRelu, 0, x, y) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Relu takes 1 inputs, 2 given")

	require.Panics(t, func() { newNode(NodeTypeLeaf, 0) })
	require.Panics(t, func() { newNode(NodeTypeInvalid, 0, x) })
	assert.Equal(t, 2, g.NumNodes(), "failed ops must not register nodes")
}

func TestInputsHaveSmallerIds(t *testing.T) {
	g := NewGraph("acyclic")
	a := Leaf(g, 0.3)
	b := Leaf(g, -1.2)
	root := Sigmoid(Div(Add(Mul(a, b), Tanh(a)), AddScalar(Exp(b), 1)))
	for _, node := range g.nodes {
		for _, input := range node.inputs {
			assert.Less(t, input, node.id)
		}
	}
	assert.Equal(t, NodeId(len(g.nodes)-1), root.id)
}

func TestBackwardGuard(t *testing.T) {
	g := NewGraph("guard")
	x := Leaf(g, 1)
	y := Exp(x)

	// Emulate a Backward in progress.
	g.inBackward = true
	err := exceptions.TryCatch[error](func() { Backward(y) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is running Backward")
	require.Panics(t, func() { x.SetValue(2) })
	require.Panics(t, func() { Leaf(g, 3) })
	require.Panics(t, func() { Add(x, y) })
	require.Panics(t, func() { g.Rewind(g.Mark()) })
	g.inBackward = false

	// A failed Backward leaves the graph usable.
	require.Panics(t, func() { Backward(nil) })
	Backward(y)
	assert.False(t, g.inBackward)
	assert.InDelta(t, 2.718281828, x.grad, 1e-6)
	x.SetValue(2)
	assert.Equal(t, 2.0, x.value)
}

func TestBackwardPhaseString(t *testing.T) {
	assert.Equal(t, "ordering", backwardOrdering.String())
	assert.Equal(t, "seeding", backwardSeeding.String())
	assert.Equal(t, "propagating", backwardPropagating.String())
	assert.Equal(t, "done", backwardDone.String())
}
