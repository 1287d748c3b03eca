package compiler

import (
	"github.com/nnrt/core/executor"
	"github.com/nnrt/core/rterr"
	"github.com/nnrt/core/tensor"
)

// CreateExecutor is legal only in Built and produces a fresh Executor bound
// to the PreparedModel (§4.3).
func (c *Compiler) CreateExecutor() (*executor.Executor, error) {
	if c.state != StateBuilt {
		return nil, rterr.New(rterr.OperationForbidden, "compiler must be Built before CreateExecutor")
	}

	inputDescs, outputDescs, err := c.ioTemplates()
	if err != nil {
		return nil, err
	}

	client := c.schedClient
	if client == nil {
		client = defaultSchedulerClient()
	}

	// The PreparedModel's own model ID stands in for the
	// scheduler-assigned hiaiModelId (§4.4): it is the one stable numeric
	// identifier the core already has in hand at CreateExecutor time.
	cfg := executor.Config{SchedulerModelID: uint64(c.preparedModel.GetModelID())}

	return executor.New(c.preparedModel, c.deviceID, inputDescs, outputDescs, cfg, client)
}

// ioTemplates derives per-input/output TensorDesc templates. When the
// compiler was built from an in-memory IR these come straight from the
// graph; otherwise (cache/offline sources, where no IR is available) they
// are reconstructed from the PreparedModel's own reported dimension ranges.
func (c *Compiler) ioTemplates() ([]*tensor.TensorDesc, []*tensor.TensorDesc, error) {
	if c.ir != nil {
		inIdx, outIdx := c.ir.Inputs(), c.ir.Outputs()
		inDescs := make([]*tensor.TensorDesc, len(inIdx))
		for i, idx := range inIdx {
			inDescs[i] = c.ir.Tensor(idx).Desc.Clone()
		}
		outDescs := make([]*tensor.TensorDesc, len(outIdx))
		for i, idx := range outIdx {
			outDescs[i] = c.ir.Tensor(idx).Desc.Clone()
		}
		return inDescs, outDescs, nil
	}

	inDescs, err := dimRangeDescs(c.preparedModel.GetInputDimRanges)
	if err != nil {
		return nil, nil, rterr.New(rterr.Failed, "get input dim ranges: %v", err)
	}
	outDescs, err := dimRangeDescs(c.preparedModel.GetOutputDimRanges)
	if err != nil {
		return nil, nil, rterr.New(rterr.Failed, "get output dim ranges: %v", err)
	}
	return inDescs, outDescs, nil
}

// dimRangeDescs builds TensorDesc templates from a GetInputDimRanges/
// GetOutputDimRanges-shaped call, marking any axis whose min and max differ
// as dynamic.
func dimRangeDescs(rangeFn func() (min, max [][]int, err error)) ([]*tensor.TensorDesc, error) {
	mins, maxs, err := rangeFn()
	if err != nil {
		return nil, err
	}
	descs := make([]*tensor.TensorDesc, len(mins))
	for i := range mins {
		d := tensor.CreateDesc()
		shape := append([]int(nil), mins[i]...)
		for j := range shape {
			if maxs[i][j] != mins[i][j] {
				shape[j] = tensor.DynamicAxis
			}
		}
		_ = d.SetShape(shape)
		descs[i] = d
	}
	return descs, nil
}
