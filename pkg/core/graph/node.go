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
	"fmt"
	"math"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Node represents a scalar value in the computation graph, and can be used as input to further operations.
//
// Its value is computed when the node is created, from the current values of its inputs. After that it
// only changes for leaf nodes, with SetValue.
//
// The gradient is set by Backward, and it is the partial derivative of the root used in the last
// Backward call with respect to this node.
//
// Node.String allows for a pretty-printing of node. To see the full graph with all nodes, use Graph.String.
type Node struct {
	graph  *Graph
	id     NodeId // id within graph.
	opType NodeType

	// inputs are the edges of the computation graph, in the order given to the op that created the node.
	inputs []NodeId

	// exponent is the static parameter of NodeTypePow nodes.
	exponent float64

	value, grad float64

	trace error // Stack-trace error of where Node was created. Stored if graph.traced is true.
}

// newNode creates the node for a derived operation, computes its value and registers it in the graph
// of its inputs.
//
// It panics if the number of inputs doesn't match the arity of the operation.
func newNode(opType NodeType, exponent float64, inputs ...*Node) *Node {
	if arity := opType.Arity(); arity <= 0 || len(inputs) != arity {
		exceptions.Panicf("operation %s takes %d inputs, %d given", opType, opType.Arity(), len(inputs))
	}
	g := validateBuildingGraphFromInputs(inputs...)
	node := &Node{
		graph:    g,
		opType:   opType,
		exponent: exponent,
		inputs:   make([]NodeId, len(inputs)),
	}
	for ii, input := range inputs {
		node.inputs[ii] = input.id
	}
	node.value = node.forward()
	g.registerNode(node)
	return node
}

// forward computes the value of a derived node from the current value of its inputs.
func (n *Node) forward() float64 {
	x := n.graph.nodes[n.inputs[0]].value
	switch n.opType {
	case NodeTypeAdd:
		return x + n.graph.nodes[n.inputs[1]].value
	case NodeTypeMul:
		return x * n.graph.nodes[n.inputs[1]].value
	case NodeTypePow:
		return math.Pow(x, n.exponent)
	case NodeTypeRelu:
		// math.Max propagates NaN.
		return math.Max(0, x)
	case NodeTypeTanh:
		return math.Tanh(x)
	case NodeTypeExp:
		return math.Exp(x)
	default:
		exceptions.Panicf("forward() not defined for node type %s", n.opType)
	}
	return 0
}

// Graph that holds this Node.
func (n *Node) Graph() *Graph {
	if n == nil {
		return nil
	}
	return n.graph
}

// Id is the unique id of this node within the Graph.
func (n *Node) Id() NodeId {
	return n.id
}

// Type of the operation that created the node.
func (n *Node) Type() NodeType {
	return n.opType
}

// IsLeaf returns whether the node is a leaf: an input or parameter that doesn't depend on any other node.
func (n *Node) IsLeaf() bool {
	return n.opType == NodeTypeLeaf
}

// Value returns the value of the node.
func (n *Node) Value() float64 {
	n.AssertValid()
	return n.value
}

// Grad returns the gradient of the root of the last Backward call that reached this node, with respect to
// this node. It is 0 for nodes never reached by a Backward call.
func (n *Node) Grad() float64 {
	n.AssertValid()
	return n.grad
}

// SetValue changes the value of a leaf node. It panics if called on a derived node, or while
// a Backward is running.
//
// It doesn't change the value of nodes already derived from n: a new forward pass (building the
// derived nodes again) is needed to observe the effect.
func (n *Node) SetValue(value float64) {
	n.AssertValid()
	if !n.IsLeaf() {
		exceptions.Panicf("SetValue(%g) called on derived node %s: only leaf nodes can have their value changed%s",
			value, n, n.traceMessage())
	}
	if n.graph.inBackward {
		exceptions.Panicf("SetValue(%g) called on node %s while Graph %q is running Backward", value, n, n.graph.name)
	}
	n.value = value
}

// Exponent returns the static exponent of a Pow node. It panics for other node types.
func (n *Node) Exponent() float64 {
	n.AssertValid()
	if n.opType != NodeTypePow {
		exceptions.Panicf("Exponent() called on a %s node, it is only defined for %s nodes", n.opType, NodeTypePow)
	}
	return n.exponent
}

// Inputs are the nodes that are direct inputs to the node, in the order given to the operation that created it.
// It's empty for leaf nodes.
func (n *Node) Inputs() []*Node {
	n.AssertValid()
	inputs := make([]*Node, len(n.inputs))
	for ii, id := range n.inputs {
		inputs[ii] = n.graph.nodes[id]
	}
	return inputs
}

// Trace returns the stack-trace of where the node was created, if the graph was traced at the time (see
// Graph.SetTraced). Otherwise, it returns nil.
func (n *Node) Trace() error {
	return n.trace
}

func (n *Node) traceMessage() string {
	if n.trace == nil {
		return ""
	}
	return fmt.Sprintf("\n\tnode created at: %+v", n.trace)
}

// CheckValid returns an error if n is nil, or if it was discarded by Graph.Rewind.
func (n *Node) CheckValid() error {
	if n == nil {
		return errors.Errorf("Node is nil")
	}
	if n.graph == nil || n.opType == NodeTypeInvalid {
		return errors.Errorf("Node #%d is in an invalid state: it was discarded by Graph.Rewind()", n.id)
	}
	return nil
}

// AssertValid panics if `n` is nil, or if it was discarded by Graph.Rewind.
func (n *Node) AssertValid() {
	if err := n.CheckValid(); err != nil {
		exceptions.Panicf("%v", err)
	}
}

// invalidate the node, called when it is discarded by Graph.Rewind.
func (n *Node) invalidate() {
	n.opType = NodeTypeInvalid
	n.inputs = nil
	n.graph = nil
}

// String implements fmt.Stringer.
//
// Leaf nodes print their value. Derived nodes print their operation over the ids of their inputs,
// followed by their value.
func (n *Node) String() (str string) {
	if n == nil {
		return "Node(nil)"
	}
	if n.graph == nil || n.opType == NodeTypeInvalid {
		return "Node(discarded)"
	}
	switch {
	case n.opType == NodeTypeLeaf:
		str = fmt.Sprintf("Leaf(%g)", n.value)
	case len(n.inputs) == 2:
		str = fmt.Sprintf("#%d %s #%d = %g", n.inputs[0], n.opType.symbol(), n.inputs[1], n.value)
	case n.opType == NodeTypePow:
		str = fmt.Sprintf("#%d^%g = %g", n.inputs[0], n.exponent, n.value)
	default:
		parts := make([]string, len(n.inputs))
		for ii, id := range n.inputs {
			parts[ii] = fmt.Sprintf("#%d", id)
		}
		str = fmt.Sprintf("%s(%s) = %g", n.opType.symbol(), strings.Join(parts, ", "), n.value)
	}
	if n.grad != 0 {
		str = fmt.Sprintf("%s [grad=%g]", str, n.grad)
	}
	return
}
