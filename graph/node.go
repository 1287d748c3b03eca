package graph

import "github.com/nnrt/core/tensor"

// Tensor is an IR-owned tensor slot: a descriptor plus, for constants, the
// value bytes set before the tensor was consumed as an operator parameter
// (§3's "IR Operator Node" / "parameter tensor" definition). It carries no
// backend binding and no shared-memory storage — that only exists once a
// PreparedModel runs, on runtime-side tensor.Tensor values.
type Tensor struct {
	Desc       *tensor.TensorDesc
	Value      []byte
	IsConstant bool
}

// Node is one operator in the IR: its type, its ordered input/parameter/
// output tensor indices, and the backend-agnostic primitive blob the
// registered builder produced (§3).
type Node struct {
	Type      OperatorType
	ParamIdx  []int
	InputIdx  []int
	OutputIdx []int
	primitive any
}

// Primitive returns the opaque blob the operator builder emitted.
func (n *Node) Primitive() any { return n.primitive }
