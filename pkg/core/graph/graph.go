/*
 *	Copyright 2025 Jan Pfeifer
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

// Package graph is the core package of scalargrad. It is used to build scalar computation graphs that are
// evaluated eagerly, and to differentiate them in reverse-mode.
//
// The main elements in the package are:
//
//   - Graph is the arena that owns every Node. Nodes refer to each other by NodeId, which is the index of
//     the node in its Graph. A node can only refer to nodes created before it, so a Graph is acyclic by
//     construction.
//
//   - Node holds a float64 value, computed at creation time from its inputs, and a gradient accumulator
//     filled by Backward. Leaf nodes (see Leaf and Scalar) represent inputs and trainable parameters, and
//     are the only nodes whose value can be changed afterward (see Node.SetValue).
//
//   - The ops (Add, Mul, Pow, Relu, Tanh, Exp) and the composite ops built on top of them (Sub, Neg, Div,
//     Reciprocal, AddScalar, ScalarDiv, etc.). Each op creates a new Node and never changes its inputs.
//
//   - Backward runs reverse-mode automatic differentiation from a root node, and sets the gradient of
//     every node reachable from it.
//
// # Error Handling
//
// Graph and Node methods "throw" errors with panic(), with exceptions.Panicf. This prevents having to manage
// error returning for every operation (Add, Sub, Mul, etc.) and makes the code much more readable.
// Use exceptions.TryCatch[error] to convert them back to errors.
//
// Numeric issues are not errors: division by zero, negative bases with fractional exponents, etc. follow
// IEEE-754 float64 semantics and propagate as NaN or Inf.
//
// # Forward passes
//
// A typical training loop creates its parameters as leaves once, takes a Graph.Mark, and then for each
// step builds the model over the parameters, calls Backward on the loss, updates the parameters with
// Node.SetValue and calls Graph.Rewind to discard the derived nodes of that step.
package graph

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Graph owns the nodes of a scalar computation.
//
// It is not safe for concurrent use.
type Graph struct {
	id   GraphId
	name string

	// nodes are all nodes that are part of this Graph, indexed by NodeId.
	nodes []*Node

	// traced indicates whether each node creation should be traced.
	traced bool

	// inBackward is set while Backward runs on a root of this graph.
	inBackward bool
}

// GraphId is a unique identifier for a Graph within a process.
type GraphId int

// NodeId is the index of a Node within its Graph.
type NodeId int

// InvalidNodeId indicates a node that was not registered in a Graph.
const InvalidNodeId = NodeId(-1)

var (
	muGraphCount sync.Mutex
	graphCount   GraphId
)

// NewGraph creates an empty Graph.
//
// If name is empty a unique name is generated.
func NewGraph(name string) *Graph {
	muGraphCount.Lock()
	defer muGraphCount.Unlock()

	if name == "" {
		name = fmt.Sprintf("graph_#%d", graphCount)
	}
	g := &Graph{
		id:   graphCount,
		name: name,
	}
	graphCount++
	return g
}

// Id is the unique id of the Graph within the process.
func (g *Graph) Id() GraphId { return g.id }

// Name of the Graph.
func (g *Graph) Name() string { return g.name }

// NumNodes returns the number of nodes currently in the Graph. Discarded nodes (see Rewind) are not counted.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// Nodes returns a copy of the list of nodes currently in the Graph, in creation order.
func (g *Graph) Nodes() []*Node {
	return append([]*Node(nil), g.nodes...)
}

// CheckValid returns an error if the graph is nil.
func (g *Graph) CheckValid() error {
	if g == nil {
		return errors.Errorf("the Graph is nil")
	}
	return nil
}

// AssertValid panics if the graph is nil.
func (g *Graph) AssertValid() {
	err := g.CheckValid()
	if err != nil {
		panic(err)
	}
}

// AssertBuilding panics if the graph is not valid or if it is in the middle of a Backward pass,
// when no nodes can be created or discarded.
func (g *Graph) AssertBuilding() {
	g.AssertValid()
	if g.inBackward {
		exceptions.Panicf("Graph %q is running Backward, it can not be changed until it finishes", g.name)
	}
}

// SetTraced defines whether each node creation is traced.
// If true, every node will save a stack-trace of where it was created, which is included in the
// error messages of preconditions that fail on that node. See Node.Trace.
//
// This is expensive, but can be handy for debugging.
func (g *Graph) SetTraced(traced bool) {
	g.AssertValid()
	g.traced = traced
}

// IsTraced returns whether Graph nodes are being traced. See SetTraced.
func (g *Graph) IsTraced() bool { return g.traced }

// registerNode in the graph and returns a new unique id within the Graph.
// If Graph.traced is set, it also sets Node.trace to an error with a stack-trace.
func (g *Graph) registerNode(node *Node) (id NodeId) {
	g.AssertBuilding()
	id = NodeId(len(g.nodes))
	g.nodes = append(g.nodes, node)
	node.id = id
	if g.traced {
		node.trace = errors.New("Stack-trace")
	}
	return
}

// NodeById returns the node for the given id.
func (g *Graph) NodeById(id NodeId) *Node {
	g.AssertValid()
	if id <= InvalidNodeId || int(id) >= len(g.nodes) {
		exceptions.Panicf("invalid request Graph.NodeById(id=%d): there are only %d nodes", id, len(g.nodes))
	}
	return g.nodes[id]
}

// Mark is a position in a Graph's list of nodes, see Graph.Mark and Graph.Rewind.
type Mark struct {
	graph    *Graph
	numNodes int
}

// NumNodes in the graph at the time the Mark was taken.
func (m Mark) NumNodes() int { return m.numNodes }

// Mark returns the current position in the Graph, to be later used by Rewind.
func (g *Graph) Mark() Mark {
	g.AssertValid()
	return Mark{graph: g, numNodes: len(g.nodes)}
}

// Rewind discards every node created after mark was taken.
//
// Discarded nodes are invalidated: using them as inputs of new operations, or reading from them, panics.
// Nodes created before the mark, typically leaves holding parameters, are preserved, including their
// values and gradients.
func (g *Graph) Rewind(mark Mark) {
	g.AssertBuilding()
	if mark.graph != g {
		exceptions.Panicf("Graph.Rewind(): mark was taken from a different graph")
	}
	if mark.numNodes > len(g.nodes) {
		exceptions.Panicf("Graph.Rewind(): mark at %d nodes, but Graph %q only has %d nodes, was it already rewound to an earlier mark?",
			mark.numNodes, g.name, len(g.nodes))
	}
	for ii := mark.numNodes; ii < len(g.nodes); ii++ {
		g.nodes[ii].invalidate()
		g.nodes[ii] = nil
	}
	g.nodes = g.nodes[:mark.numNodes]
}

// String converts the Graph to a multiline string with a description of the full graph.
func (g *Graph) String() string {
	if g == nil {
		return "Graph(nil)!?"
	}
	parts := []string{
		fmt.Sprintf("Graph %q: %d nodes", g.name, len(g.nodes)),
	}
	for ii, node := range g.nodes {
		parts = append(parts, fmt.Sprintf("\t#%d\t%s", ii, node))
	}
	return strings.Join(parts, "\n")
}
