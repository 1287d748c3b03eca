// Package opref provides one reference operator builder (element-wise Add
// with an optional fusion mode) used by the core's own tests and by the
// cpuref reference backend. The ~50 real per-operator parameter parsers are
// explicitly out of scope (spec.md §1); this one exists only so the IR
// builder, compiler, and executor have something concrete to exercise
// end-to-end, following the same Builder contract any real parser would.
package opref

import "github.com/nnrt/core/graph"

// OpAdd is the operator type for element-wise addition.
const OpAdd graph.OperatorType = 1

// FuseMode mirrors the minimal activation-fusion parameter used in
// spec.md §8 scenario 1.
type FuseMode int8

const (
	FuseNone FuseMode = iota
	FuseRelu
)

// AddPrimitive is the primitive blob an Add node carries.
type AddPrimitive struct {
	Fuse FuseMode
}

type addBuilder struct {
	prim AddPrimitive
}

func (b *addBuilder) Build(paramIdx, inputIdx, outputIdx []int, tensors []*graph.Tensor) error {
	fuse := tensors[paramIdx[0]]
	b.prim = AddPrimitive{Fuse: FuseMode(int8(fuse.Value[0]))}
	return nil
}

func (b *addBuilder) GetPrimitive() any { return b.prim }

func init() {
	graph.RegisterOperator(OpAdd, graph.Arity{
		MinInputs: 2, MaxInputs: 2,
		MinOutputs: 1, MaxOutputs: 1,
		NumParams: 1,
	}, func() graph.Builder { return &addBuilder{} })
}
