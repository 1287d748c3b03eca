// Package graph implements the Inner Model (spec component C): the
// graph IR builder with its Open→Frozen state machine, operator
// validation, and the process-wide operator registry.
package graph

// OperatorType identifies a registered operator kind. The core treats this
// as an opaque closed enum; concrete values are assigned by whatever
// registers builders (the ~50 per-operator parameter parsers named out of
// scope in spec.md §1).
type OperatorType int

// Arity declares how many inputs/outputs/parameters an operator type
// requires, consulted by the core before a builder ever runs (§4.2).
type Arity struct {
	MinInputs, MaxInputs int
	MinOutputs, MaxOutputs int
	NumParams int // exact count; operators with optional params use MaxInputs-style ranges upstream of this spec
}

// Builder is the narrow capability contract every registered operator
// builder must satisfy (§4.2). The core treats builders as black boxes: it
// validates indices/arity itself and only calls Build once a node passes
// that validation.
type Builder interface {
	// Build consumes the operator's parameter tensors (validating their own
	// dtype/shape) and emits a primitive blob stored in the node.
	Build(paramIdx, inputIdx, outputIdx []int, tensors []*Tensor) error
	GetPrimitive() any
}

// BuilderFactory constructs a fresh Builder instance for one node.
type BuilderFactory func() Builder

type operatorRegistration struct {
	arity   Arity
	factory BuilderFactory
}

// operatorRegistry is the process-wide, init-time-only registry described
// in §4.2 and §5 ("the operator registry is also init-time only").
// Re-registering a type is legal and the latter registration wins — unlike
// the teacher's model.Register/ml.RegisterBackend, which panic on a
// duplicate (see DESIGN.md: this is a deliberate spec-driven deviation).
var operatorRegistry = make(map[OperatorType]operatorRegistration)

// RegisterOperator installs the builder factory and declared arity for an
// operator type. The latest call for a given type wins.
func RegisterOperator(t OperatorType, arity Arity, factory BuilderFactory) {
	operatorRegistry[t] = operatorRegistration{arity: arity, factory: factory}
}

func lookupOperator(t OperatorType) (operatorRegistration, bool) {
	reg, ok := operatorRegistry[t]
	return reg, ok
}
