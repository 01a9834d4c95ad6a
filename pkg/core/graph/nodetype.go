package graph

// NodeType is the closed set of operations a Node can represent.
type NodeType int

const (
	NodeTypeInvalid NodeType = iota
	NodeTypeLeaf
	NodeTypeAdd
	NodeTypeMul
	NodeTypePow
	NodeTypeRelu
	NodeTypeTanh
	NodeTypeExp
)

//go:generate go tool enumer -type=NodeType -trimprefix=NodeType -output=gen_nodetype_enumer.go nodetype.go

// Arity returns the number of input nodes an operation of this type takes.
// It returns -1 for NodeTypeInvalid.
func (t NodeType) Arity() int {
	switch t {
	case NodeTypeLeaf:
		return 0
	case NodeTypeAdd, NodeTypeMul:
		return 2
	case NodeTypePow, NodeTypeRelu, NodeTypeTanh, NodeTypeExp:
		return 1
	default:
		return -1
	}
}

// symbol used when printing a node of this type.
func (t NodeType) symbol() string {
	switch t {
	case NodeTypeAdd:
		return "+"
	case NodeTypeMul:
		return "*"
	case NodeTypePow:
		return "^"
	case NodeTypeRelu:
		return "relu"
	case NodeTypeTanh:
		return "tanh"
	case NodeTypeExp:
		return "exp"
	default:
		return t.String()
	}
}
