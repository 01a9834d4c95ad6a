/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package graph

import (
	"math"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

// This file implements reverse-mode automatic differentiation.
//
// A Backward call goes through the phases backwardOrdering, backwardSeeding, backwardPropagating and
// backwardDone. Each call is self-contained: it doesn't depend on gradients left by previous calls.

type backwardPhase int

const (
	backwardOrdering backwardPhase = iota
	backwardSeeding
	backwardPropagating
	backwardDone
)

func (p backwardPhase) String() string {
	switch p {
	case backwardOrdering:
		return "ordering"
	case backwardSeeding:
		return "seeding"
	case backwardPropagating:
		return "propagating"
	case backwardDone:
		return "done"
	}
	return "unknown"
}

// Backward sets the gradient of every node reachable from root to the partial derivative of root
// with respect to that node. The gradient of root itself is set to 1.
//
// Nodes not reachable from root keep whatever gradient they had before. Calling Backward again, with
// the same or another root, recomputes the gradients from scratch: they don't accumulate across calls.
//
// It panics if root is invalid, or if a Backward is already running on the same Graph.
func Backward(root *Node) {
	g := validateBuildingGraphFromInputs(root)
	g.inBackward = true
	defer func() { g.inBackward = false }()

	phase := backwardOrdering
	var order []*Node
	for phase != backwardDone {
		klog.V(2).Infof("Backward(#%d) in graph %q: %s", root.id, g.name, phase)
		switch phase {
		case backwardOrdering:
			order = topologicalOrder(root)
			phase = backwardSeeding
		case backwardSeeding:
			for _, node := range order {
				node.grad = 0
			}
			root.grad = 1
			phase = backwardPropagating
		case backwardPropagating:
			// Reverse topological order: all consumers of a node are processed before the node itself.
			for ii := len(order) - 1; ii >= 0; ii-- {
				if node := order[ii]; !node.IsLeaf() {
					node.backward()
				}
			}
			phase = backwardDone
		}
	}
	klog.V(2).Infof("Backward(#%d) in graph %q: %s, %d nodes reached", root.id, g.name, phase, len(order))
}

// backward adds the contribution of n's gradient to the gradient of its inputs.
func (n *Node) backward() {
	nodes := n.graph.nodes
	x := nodes[n.inputs[0]]
	v := n.grad
	switch n.opType {
	case NodeTypeAdd:
		y := nodes[n.inputs[1]]
		x.grad += v
		y.grad += v
	case NodeTypeMul:
		y := nodes[n.inputs[1]]
		x.grad += y.value * v
		y.grad += x.value * v
	case NodeTypePow:
		x.grad += n.exponent * math.Pow(x.value, n.exponent-1) * v
	case NodeTypeRelu:
		if x.value > 0 {
			x.grad += v
		}
	case NodeTypeTanh:
		x.grad += v * (1 - n.value*n.value)
	case NodeTypeExp:
		x.grad += v * n.value
	default:
		exceptions.Panicf("backward() not defined for node %s of type %s", n, n.opType)
	}
}

// TopologicalOrder returns root and every node reachable from it, ordered such that every node comes
// after all its inputs. Root is always the last node.
//
// The order is deterministic: it's the depth-first post-order visit of the graph starting from root,
// visiting inputs in the order they were given to the operation that created each node. Nodes shared
// by more than one path are included only once.
func TopologicalOrder(root *Node) []*Node {
	validateBuildingGraphFromInputs(root)
	return topologicalOrder(root)
}

// topologicalOrder implements TopologicalOrder with an explicit stack, so deep graphs don't overflow
// the goroutine stack.
func topologicalOrder(root *Node) []*Node {
	nodes := root.graph.nodes
	// Inputs always have a smaller id than the node using them, so root.id bounds every reachable id.
	visited := make([]bool, root.id+1)
	type frame struct {
		id        NodeId
		nextInput int
	}
	stack := []frame{{id: root.id}}
	visited[root.id] = true
	var order []*Node
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		node := nodes[top.id]
		if top.nextInput < len(node.inputs) {
			input := node.inputs[top.nextInput]
			top.nextInput++
			if !visited[input] {
				visited[input] = true
				stack = append(stack, frame{id: input})
			}
			continue
		}
		order = append(order, node)
		stack = stack[:len(stack)-1]
	}
	return order
}

// Gradient runs Backward from root and returns the gradients of root with respect to each of the
// given nodes.
//
// Nodes not reachable from root have a gradient of 0.
func Gradient(root *Node, nodes ...*Node) []float64 {
	all := make([]*Node, 0, len(nodes)+1)
	all = append(all, root)
	all = append(all, nodes...)
	validateBuildingGraphFromInputs(all...)

	// Nodes not reachable from root would otherwise keep stale gradients from previous calls.
	for _, node := range nodes {
		node.grad = 0
	}
	Backward(root)
	grads := make([]float64, len(nodes))
	for ii, node := range nodes {
		grads[ii] = node.grad
	}
	return grads
}
