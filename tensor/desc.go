package tensor

import (
	"github.com/nnrt/core/rterr"
)

// MaxShapeLen is the maximum number of axes a TensorDesc may carry (§3).
const MaxShapeLen = 200

// MaxByteSize is the largest byte size a single tensor may describe (2^32-1,
// per §3's invariant on product-of-dims × element size).
const MaxByteSize = (uint64(1) << 32) - 1

// DynamicAxis marks a shape axis as not statically known.
const DynamicAxis = -1

// QuantParam carries per-layer or per-channel quantisation parameters.
// Currently only 8-bit quantisation is accepted (§3).
type QuantParam struct {
	NumBits   []int
	Scale     []float32
	ZeroPoint []int32
}

// Validate checks the parallel-vector length and numBits constraints.
func (q *QuantParam) Validate() error {
	if q == nil {
		return nil
	}
	n := len(q.NumBits)
	if len(q.Scale) != n || len(q.ZeroPoint) != n {
		return rterr.New(rterr.InvalidParameter, "quant param vectors have mismatched lengths")
	}
	for _, b := range q.NumBits {
		if b != 8 {
			return rterr.New(rterr.InvalidParameter, "quant param numBits %d unsupported, only 8 is accepted", b)
		}
	}
	return nil
}

// TensorDesc describes a tensor's shape, element type, layout, name, and
// optional quantisation — but owns no storage (§3, §4.1).
type TensorDesc struct {
	name   string
	dtype  DType
	shape  []int
	layout Layout
	quant  *QuantParam
}

// CreateDesc returns a fresh, empty TensorDesc.
func CreateDesc() *TensorDesc {
	return &TensorDesc{dtype: DTypeUnknown}
}

func (d *TensorDesc) Name() string { return d.name }
func (d *TensorDesc) SetName(name string) { d.name = name }

func (d *TensorDesc) DType() DType { return d.dtype }
func (d *TensorDesc) SetDType(dt DType) { d.dtype = dt }

func (d *TensorDesc) Layout() Layout { return d.layout }
func (d *TensorDesc) SetLayout(l Layout) { d.layout = l }

func (d *TensorDesc) Quant() *QuantParam { return d.quant }
func (d *TensorDesc) SetQuant(q *QuantParam) { d.quant = q }

// Shape returns a copy of the descriptor's shape.
func (d *TensorDesc) Shape() []int {
	out := make([]int, len(d.shape))
	copy(out, d.shape)
	return out
}

// SetShape validates and installs a new shape. The other setters (name,
// dtype, layout, quant) are not restricted once a shape has been set, and a
// later SetDType does not re-run the byte-size check.
func (d *TensorDesc) SetShape(shape []int) error {
	if len(shape) > MaxShapeLen {
		return rterr.New(rterr.InvalidParameter, "shape length %d exceeds max %d", len(shape), MaxShapeLen)
	}
	for _, dim := range shape {
		if dim == 0 {
			return rterr.New(rterr.InvalidParameter, "shape dimension 0 is forbidden")
		}
		if dim < 0 && dim != DynamicAxis {
			return rterr.New(rterr.InvalidParameter, "negative shape dimension %d is not the dynamic-axis marker", dim)
		}
	}
	if err := checkByteCap(shape, d.dtype); err != nil {
		return err
	}
	d.shape = append([]int(nil), shape...)
	return nil
}

func checkByteCap(shape []int, dt DType) error {
	width := uint64(dt.ByteWidth())
	if width == 0 {
		return nil // unknown dtype: size cannot be checked yet
	}
	total := uint64(1)
	for _, dim := range shape {
		if dim == DynamicAxis {
			return nil // dynamic shapes cannot be size-checked ahead of binding
		}
		total *= uint64(dim)
		if total > MaxByteSize {
			break
		}
	}
	if total*width > MaxByteSize {
		return rterr.New(rterr.InvalidParameter, "tensor byte size exceeds cap of %d bytes", MaxByteSize)
	}
	return nil
}

// IsDynamic reports whether any axis of the shape is the dynamic-axis marker.
func (d *TensorDesc) IsDynamic() bool {
	for _, dim := range d.shape {
		if dim == DynamicAxis {
			return true
		}
	}
	return false
}

// GetElementCount returns the product of absolute shape dims, or 0 if the
// shape has a dynamic axis or has not been set.
func (d *TensorDesc) GetElementCount() uint64 {
	if len(d.shape) == 0 || d.IsDynamic() {
		return 0
	}
	count := uint64(1)
	for _, dim := range d.shape {
		count *= uint64(dim)
	}
	return count
}

// GetByteSize returns GetElementCount() × sizeOf(dtype).
func (d *TensorDesc) GetByteSize() uint64 {
	return d.GetElementCount() * uint64(d.dtype.ByteWidth())
}

// Clone returns an independent copy of the descriptor.
func (d *TensorDesc) Clone() *TensorDesc {
	c := &TensorDesc{
		name:   d.name,
		dtype:  d.dtype,
		layout: d.layout,
		shape:  append([]int(nil), d.shape...),
	}
	if d.quant != nil {
		q := *d.quant
		q.NumBits = append([]int(nil), d.quant.NumBits...)
		q.Scale = append([]float32(nil), d.quant.Scale...)
		q.ZeroPoint = append([]int32(nil), d.quant.ZeroPoint...)
		c.quant = &q
	}
	return c
}
