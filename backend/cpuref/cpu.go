// Package cpuref is a minimal, in-tree reference implementation of
// backend.Backend that runs on the host CPU using plain Go loops. It exists
// so the registry, compiler, and executor packages have a real backend to
// compile and run against in tests, standing in for the HDI driver
// implementations that are out of scope for the core (spec.md §1).
package cpuref

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync/atomic"

	"github.com/nnrt/core/backend"
	"github.com/nnrt/core/graph"
	"github.com/nnrt/core/opref"
	"github.com/nnrt/core/rterr"
	"github.com/nnrt/core/tensor"
)

// DeviceID is the stable ID the reference CPU backend registers under.
const DeviceID backend.DeviceID = 0

func init() {
	backend.RegisterBackend(DeviceID, "cpu-reference", func() (backend.Backend, error) {
		return &Backend{}, nil
	})
}

// Backend is the reference CPU device driver.
type Backend struct{}

func (b *Backend) GetDeviceName() string       { return "cpu-reference" }
func (b *Backend) VendorName() string          { return "nnrt" }
func (b *Backend) Version() string             { return "1.0" }
func (b *Backend) Type() backend.DeviceType    { return backend.DeviceTypeCPU }
func (b *Backend) Status() backend.DeviceStatus { return backend.DeviceStatusAvailable }

func (b *Backend) IsFp16Supported() bool          { return false }
func (b *Backend) IsPerfModeSupported() bool      { return false }
func (b *Backend) IsPrioritySupported() bool      { return false }
func (b *Backend) IsDynamicInputSupported() bool  { return true }
func (b *Backend) IsModelCacheSupported() bool    { return true }

func (b *Backend) GetSupportedOperation(nodeTypes []graph.OperatorType) ([]bool, error) {
	out := make([]bool, len(nodeTypes))
	for i, t := range nodeTypes {
		out[i] = t == opref.OpAdd
	}
	return out, nil
}

func (b *Backend) PrepareModel(ir *graph.InnerModel, config backend.PrepareConfig) (backend.PreparedModel, error) {
	if config.Fp16 && !b.IsFp16Supported() {
		return nil, rterr.New(rterr.Unsupported, "fp16 not supported by cpu-reference")
	}
	if ir.State() != graph.StateFrozen {
		return nil, rterr.New(rterr.InvalidParameter, "ir must be frozen before prepare")
	}
	for i := 0; i < ir.NodeCount(); i++ {
		if ir.Node(i).Type != opref.OpAdd {
			return nil, rterr.New(rterr.Unsupported, "cpu-reference only supports opref.OpAdd")
		}
	}
	return newPreparedModel(ir), nil
}

func (b *Backend) PrepareModelFromCache(buffers [][]byte, config backend.PrepareConfig) (backend.PreparedModel, error) {
	if len(buffers) != 1 {
		return nil, rterr.New(rterr.InvalidFile, "cpu-reference cache expects exactly one blob")
	}
	pm, err := decodePreparedModel(buffers[0])
	if err != nil {
		return nil, rterr.New(rterr.InvalidFile, "decode cache: %v", err)
	}
	return pm, nil
}

func (b *Backend) PrepareOfflineModel(blob []byte, config backend.PrepareConfig) (backend.PreparedModel, error) {
	pm, err := decodePreparedModel(blob)
	if err != nil {
		return nil, rterr.New(rterr.InvalidFile, "decode offline model: %v", err)
	}
	return pm, nil
}

var nextBufferFd int64 = 1000

// AllocateBuffer backs shared storage with a new file in the OS temp
// directory, the simplest fd-producing allocator a reference CPU backend
// can offer. The file is not removed afterwards.
func (b *Backend) AllocateBuffer(size uint64) (int, error) {
	f, err := os.CreateTemp("", "nnrt-cpuref-*")
	if err != nil {
		return 0, err
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return 0, err
	}
	atomic.AddInt64(&nextBufferFd, 1)
	return int(f.Fd()), nil
}

func (b *Backend) ReleaseBuffer(fd int, size uint64) error {
	return nil // the fd's owning *os.File is left to the GC/finalizer in this reference implementation
}

// preparedModel runs Add nodes of a frozen graph against float32 inputs.
type preparedModel struct {
	modelID   uint32
	numInputs int
	outShape  []int
	fuse      opref.FuseMode
	inDescs   []*tensor.TensorDesc
	outDescs  []*tensor.TensorDesc

	extConfig map[string][]byte
}

func newPreparedModel(ir *graph.InnerModel) *preparedModel {
	node := ir.Node(0)
	prim := node.Primitive().(opref.AddPrimitive)

	inDescs := make([]*tensor.TensorDesc, len(ir.Inputs()))
	for i, idx := range ir.Inputs() {
		inDescs[i] = ir.Tensor(idx).Desc
	}
	outDescs := make([]*tensor.TensorDesc, len(ir.Outputs()))
	for i, idx := range ir.Outputs() {
		outDescs[i] = ir.Tensor(idx).Desc
	}

	h := sha256.New()
	for _, idx := range append(append([]int{}, ir.Inputs()...), ir.Outputs()...) {
		binary.Write(h, binary.LittleEndian, int64(idx))
	}
	sum := h.Sum(nil)

	return &preparedModel{
		modelID:   binary.LittleEndian.Uint32(sum[:4]),
		numInputs: len(inDescs),
		outShape:  outDescs[0].Shape(),
		fuse:      prim.Fuse,
		inDescs:   inDescs,
		outDescs:  outDescs,
	}
}

func (p *preparedModel) Run(inputs, outputs []*tensor.Tensor) (backend.RunOutcome, error) {
	if len(inputs) != p.numInputs || len(outputs) != 1 {
		return backend.RunOutcome{}, rterr.New(rterr.InvalidParameter, "unexpected input/output count")
	}
	a := bytesToFloat32(inputs[0].Bytes())
	bv := bytesToFloat32(inputs[1].Bytes())
	out := outputs[0].Bytes()
	if len(a) != len(bv) || len(out) < len(a)*4 {
		return backend.RunOutcome{}, rterr.New(rterr.MemoryError, "buffer size mismatch")
	}
	for i := range a {
		v := a[i] + bv[i]
		if p.fuse == opref.FuseRelu && v < 0 {
			v = 0
		}
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return backend.RunOutcome{
		OutputShapes: [][]int{p.outShape},
		EnoughBuffer: []bool{len(out) >= len(a)*4},
	}, nil
}

func (p *preparedModel) RunAsync(inputs, outputs []*tensor.Tensor, timeoutMs int, onDone func(backend.RunOutcome, error)) error {
	go func() {
		outcome, err := p.Run(inputs, outputs)
		onDone(outcome, err)
	}()
	return nil
}

func (p *preparedModel) ExportModelCache() ([][]byte, error) {
	return [][]byte{encodePreparedModel(p)}, nil
}

func (p *preparedModel) GetModelID() uint32 { return p.modelID }

func (p *preparedModel) GetInputDimRanges() (min, max [][]int, err error) {
	min = make([][]int, len(p.inDescs))
	max = make([][]int, len(p.inDescs))
	for i, d := range p.inDescs {
		shape := d.Shape()
		min[i] = append([]int(nil), shape...)
		max[i] = append([]int(nil), shape...)
	}
	return min, max, nil
}

// GetOutputDimRanges mirrors GetInputDimRanges for outputs so a
// cache/offline-restored compilation can reconstruct output templates
// without running the model first (§4.3, §4.4).
func (p *preparedModel) GetOutputDimRanges() (min, max [][]int, err error) {
	min = make([][]int, len(p.outDescs))
	max = make([][]int, len(p.outDescs))
	for i, d := range p.outDescs {
		shape := d.Shape()
		min[i] = append([]int(nil), shape...)
		max[i] = append([]int(nil), shape...)
	}
	return min, max, nil
}

// SetExtensionConfig records the executor's hiaiModelId/isNeedModelLatency
// map. The reference backend has no HDI session to forward it to; it keeps
// the latest map so tests can assert it was actually pushed.
func (p *preparedModel) SetExtensionConfig(config map[string][]byte) error {
	p.extConfig = config
	return nil
}

func (p *preparedModel) ReleaseBuiltModel() {}

func bytesToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// encodePreparedModel/decodePreparedModel implement the tiny fixed-width
// cache blob format for this reference backend: modelID, fuse mode, output
// shape length + dims, then each input descriptor's shape.
func encodePreparedModel(p *preparedModel) []byte {
	buf := make([]byte, 0, 64)
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], p.modelID)
	buf = append(buf, tmp[:]...)
	buf = append(buf, byte(p.fuse))
	buf = append(buf, byte(len(p.outShape)))
	for _, d := range p.outShape {
		binary.LittleEndian.PutUint32(tmp[:], uint32(d))
		buf = append(buf, tmp[:]...)
	}
	buf = append(buf, byte(p.numInputs))
	for _, desc := range p.inDescs {
		shape := desc.Shape()
		buf = append(buf, byte(len(shape)))
		for _, d := range shape {
			binary.LittleEndian.PutUint32(tmp[:], uint32(d))
			buf = append(buf, tmp[:]...)
		}
	}
	return buf
}

func decodePreparedModel(buf []byte) (*preparedModel, error) {
	r := buf
	read32 := func() (uint32, error) {
		if len(r) < 4 {
			return 0, fmt.Errorf("truncated buffer")
		}
		v := binary.LittleEndian.Uint32(r[:4])
		r = r[4:]
		return v, nil
	}
	modelID, err := read32()
	if err != nil {
		return nil, err
	}
	if len(r) < 2 {
		return nil, fmt.Errorf("truncated buffer")
	}
	fuse := opref.FuseMode(int8(r[0]))
	outLen := int(r[1])
	r = r[2:]
	outShape := make([]int, outLen)
	for i := range outShape {
		v, err := read32()
		if err != nil {
			return nil, err
		}
		outShape[i] = int(v)
	}
	if len(r) < 1 {
		return nil, fmt.Errorf("truncated buffer")
	}
	numInputs := int(r[0])
	r = r[1:]
	inDescs := make([]*tensor.TensorDesc, numInputs)
	for i := range inDescs {
		if len(r) < 1 {
			return nil, fmt.Errorf("truncated buffer")
		}
		shapeLen := int(r[0])
		r = r[1:]
		shape := make([]int, shapeLen)
		for j := range shape {
			v, err := read32()
			if err != nil {
				return nil, err
			}
			shape[j] = int(v)
		}
		d := tensor.CreateDesc()
		d.SetDType(tensor.DTypeFloat32)
		if err := d.SetShape(shape); err != nil {
			return nil, err
		}
		inDescs[i] = d
	}
	outDesc := tensor.CreateDesc()
	outDesc.SetDType(tensor.DTypeFloat32)
	if err := outDesc.SetShape(outShape); err != nil {
		return nil, err
	}
	return &preparedModel{
		modelID:   modelID,
		numInputs: numInputs,
		outShape:  outShape,
		fuse:      fuse,
		inDescs:   inDescs,
		outDescs:  []*tensor.TensorDesc{outDesc},
	}, nil
}
