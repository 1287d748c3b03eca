package graph

import (
	"github.com/nnrt/core/rterr"
	"github.com/nnrt/core/tensor"
)

// State is the InnerModel's Open→Frozen state machine (§4.2).
type State int

const (
	StateOpen State = iota
	StateFrozen
)

// ExtensionConfig carries the optional keys that propagate from an adopted
// IR into the compilation step (§4.2: QuantBuffer, ModelName, Profiling,
// opLayout).
type ExtensionConfig struct {
	QuantBuffer []byte
	ModelName   string
	Profiling   bool
	OpLayout    tensor.Layout
}

// InnerModel accumulates tensors and operators, validates them, and
// freezes into an immutable IR (spec component C).
type InnerModel struct {
	state State

	tensors []*Tensor
	nodes   []*Node

	inputs, outputs       []int
	ioSpecified           bool
	ext                   *ExtensionConfig
}

// NewInnerModel returns a fresh, Open InnerModel.
func NewInnerModel() *InnerModel {
	return &InnerModel{state: StateOpen}
}

func (m *InnerModel) requireOpen() error {
	if m.state != StateOpen {
		return rterr.New(rterr.OperationForbidden, "inner model is frozen")
	}
	return nil
}

// AddTensor appends a new tensor descriptor and returns its index.
func (m *InnerModel) AddTensor(desc *tensor.TensorDesc) (int, error) {
	if err := m.requireOpen(); err != nil {
		return -1, err
	}
	if desc == nil {
		return -1, rterr.New(rterr.NullPointer, "tensor desc is nil")
	}
	if q := desc.Quant(); q != nil {
		if err := q.Validate(); err != nil {
			return -1, err
		}
	}
	m.tensors = append(m.tensors, &Tensor{Desc: desc})
	return len(m.tensors) - 1, nil
}

// TensorCount returns the number of tensors currently in the IR.
func (m *InnerModel) TensorCount() int { return len(m.tensors) }

// Tensor returns the IR tensor at index i, or nil if out of range.
func (m *InnerModel) Tensor(i int) *Tensor {
	if i < 0 || i >= len(m.tensors) {
		return nil
	}
	return m.tensors[i]
}

// SetTensorValue marks tensor index as a constant operator parameter. Legal
// only for a tensor with a fully static shape, exactly once per tensor
// (§4.2).
func (m *InnerModel) SetTensorValue(index int, data []byte) error {
	if err := m.requireOpen(); err != nil {
		return err
	}
	t := m.Tensor(index)
	if t == nil {
		return rterr.New(rterr.InvalidParameter, "tensor index %d out of range", index)
	}
	if t.IsConstant {
		return rterr.New(rterr.InvalidParameter, "tensor %d already has a value", index)
	}
	if t.Desc.IsDynamic() || len(t.Desc.Shape()) == 0 {
		return rterr.New(rterr.InvalidParameter, "tensor %d has no static shape", index)
	}
	want := t.Desc.GetByteSize()
	if uint64(len(data)) != want {
		return rterr.New(rterr.InvalidParameter, "tensor %d value length %d does not match byte size %d", index, len(data), want)
	}
	t.Value = append([]byte(nil), data...)
	t.IsConstant = true
	return nil
}

// AddOperation validates index ranges, input/output disjointness, arity,
// and that every parameter tensor carries a value, then dispatches to the
// registered builder for type (§4.2).
func (m *InnerModel) AddOperation(opType OperatorType, paramIdx, inputIdx, outputIdx []int) (int, error) {
	if err := m.requireOpen(); err != nil {
		return -1, err
	}

	reg, ok := lookupOperator(opType)
	if !ok {
		return -1, rterr.New(rterr.InvalidParameter, "operator type %d is not registered", int(opType))
	}

	for _, idx := range append(append(append([]int{}, paramIdx...), inputIdx...), outputIdx...) {
		if idx < 0 || idx >= len(m.tensors) {
			return -1, rterr.New(rterr.InvalidParameter, "tensor index %d out of range", idx)
		}
	}

	outSet := make(map[int]bool, len(outputIdx))
	for _, o := range outputIdx {
		outSet[o] = true
	}
	for _, i := range inputIdx {
		if outSet[i] {
			return -1, rterr.New(rterr.InvalidParameter, "tensor index %d used as both input and output", i)
		}
	}

	if len(inputIdx) < reg.arity.MinInputs || len(inputIdx) > reg.arity.MaxInputs {
		return -1, rterr.New(rterr.InvalidParameter, "operator %d expects %d-%d inputs, got %d", int(opType), reg.arity.MinInputs, reg.arity.MaxInputs, len(inputIdx))
	}
	if len(outputIdx) < reg.arity.MinOutputs || len(outputIdx) > reg.arity.MaxOutputs {
		return -1, rterr.New(rterr.InvalidParameter, "operator %d expects %d-%d outputs, got %d", int(opType), reg.arity.MinOutputs, reg.arity.MaxOutputs, len(outputIdx))
	}
	if len(paramIdx) != reg.arity.NumParams {
		return -1, rterr.New(rterr.InvalidParameter, "operator %d expects %d params, got %d", int(opType), reg.arity.NumParams, len(paramIdx))
	}
	for _, p := range paramIdx {
		if !m.tensors[p].IsConstant {
			return -1, rterr.New(rterr.InvalidParameter, "parameter tensor %d has no value", p)
		}
	}

	builder := reg.factory()
	if err := builder.Build(paramIdx, inputIdx, outputIdx, m.tensors); err != nil {
		return -1, err
	}

	node := &Node{
		Type:      opType,
		ParamIdx:  append([]int(nil), paramIdx...),
		InputIdx:  append([]int(nil), inputIdx...),
		OutputIdx: append([]int(nil), outputIdx...),
		primitive: builder.GetPrimitive(),
	}
	m.nodes = append(m.nodes, node)
	return len(m.nodes) - 1, nil
}

// NodeCount and Node expose the frozen (or in-progress) operator list.
func (m *InnerModel) NodeCount() int { return len(m.nodes) }
func (m *InnerModel) Node(i int) *Node {
	if i < 0 || i >= len(m.nodes) {
		return nil
	}
	return m.nodes[i]
}

// SpecifyInputsAndOutputs records graph-level IO. Must be called exactly
// once before Build (§4.2).
func (m *InnerModel) SpecifyInputsAndOutputs(inputs, outputs []int) error {
	if err := m.requireOpen(); err != nil {
		return err
	}
	if m.ioSpecified {
		return rterr.New(rterr.OperationForbidden, "inputs/outputs already specified")
	}
	for _, idx := range append(append([]int{}, inputs...), outputs...) {
		if idx < 0 || idx >= len(m.tensors) {
			return rterr.New(rterr.InvalidParameter, "tensor index %d out of range", idx)
		}
	}
	outputSet := make(map[int]bool, len(outputs))
	for _, o := range outputs {
		outputSet[o] = true
	}
	for _, i := range inputs {
		if outputSet[i] {
			return rterr.New(rterr.InvalidParameter, "tensor %d is both a graph input and output", i)
		}
	}
	// An operator's output index must not also be a graph-level input (§3).
	nodeOutputs := make(map[int]bool)
	for _, n := range m.nodes {
		for _, o := range n.OutputIdx {
			nodeOutputs[o] = true
		}
	}
	for _, i := range inputs {
		if nodeOutputs[i] {
			return rterr.New(rterr.InvalidParameter, "tensor %d is an operator output and cannot be a graph input", i)
		}
	}

	m.inputs = append([]int(nil), inputs...)
	m.outputs = append([]int(nil), outputs...)
	m.ioSpecified = true
	return nil
}

func (m *InnerModel) Inputs() []int  { return append([]int(nil), m.inputs...) }
func (m *InnerModel) Outputs() []int { return append([]int(nil), m.outputs...) }

// Build transitions to Frozen. After this the IR can be traversed but not
// mutated.
func (m *InnerModel) Build() error {
	if err := m.requireOpen(); err != nil {
		return err
	}
	if !m.ioSpecified {
		return rterr.New(rterr.InvalidParameter, "SpecifyInputsAndOutputs must be called before Build")
	}
	m.state = StateFrozen
	return nil
}

func (m *InnerModel) State() State { return m.state }

// BuildFromLiteGraph adopts a pre-existing IR verbatim. Legal only from
// Open with zero prior tensors/ops; after it the model is Frozen (§4.2).
func (m *InnerModel) BuildFromLiteGraph(tensors []*Tensor, nodes []*Node, inputs, outputs []int, ext *ExtensionConfig) error {
	if err := m.requireAdoptable(); err != nil {
		return err
	}
	m.tensors = tensors
	m.nodes = nodes
	m.inputs = inputs
	m.outputs = outputs
	m.ioSpecified = true
	m.ext = ext
	m.state = StateFrozen
	return nil
}

// BuildFromMetaGraph is the counterpart to BuildFromLiteGraph for a
// serialised blob form. Parsing the blob into tensors/nodes is the
// responsibility of the caller (the core does not own a meta-graph codec);
// this method performs the same adopt-and-freeze transition.
func (m *InnerModel) BuildFromMetaGraph(tensors []*Tensor, nodes []*Node, inputs, outputs []int, ext *ExtensionConfig) error {
	return m.BuildFromLiteGraph(tensors, nodes, inputs, outputs, ext)
}

func (m *InnerModel) requireAdoptable() error {
	if m.state != StateOpen {
		return rterr.New(rterr.OperationForbidden, "inner model is frozen")
	}
	if len(m.tensors) != 0 || len(m.nodes) != 0 {
		return rterr.New(rterr.OperationForbidden, "BuildFromLiteGraph/BuildFromMetaGraph requires zero prior tensors/ops")
	}
	return nil
}

// ExtensionConfig returns the extension config adopted via
// BuildFromLiteGraph/BuildFromMetaGraph, or nil if none was set.
func (m *InnerModel) ExtensionConfig() *ExtensionConfig { return m.ext }

// SupportedOperationsProbe is the narrow capability a backend exposes to
// answer GetSupportedOperations without graph importing the backend
// package (§4.2, §4.5).
type SupportedOperationsProbe interface {
	GetSupportedOperation(nodeTypes []OperatorType) ([]bool, error)
}

// GetSupportedOperations freezes the IR if not already, then forwards to
// the backend's capability probe.
func (m *InnerModel) GetSupportedOperations(probe SupportedOperationsProbe) ([]bool, error) {
	if m.state != StateFrozen {
		if err := m.Build(); err != nil {
			return nil, err
		}
	}
	types := make([]OperatorType, len(m.nodes))
	for i, n := range m.nodes {
		types[i] = n.Type
	}
	return probe.GetSupportedOperation(types)
}
