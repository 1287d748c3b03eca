// Package tensor implements TensorDesc and Tensor (spec component A): the
// shape/dtype/format/quantisation descriptor, the storage-owning tensor
// handle, and the process-wide shared-memory registry used to recover a
// backing fd from a client-visible pointer.
package tensor

import "fmt"

// DType is the closed set of element types a TensorDesc may carry.
type DType int

const (
	DTypeUnknown DType = iota
	DTypeBool
	DTypeInt8
	DTypeInt16
	DTypeInt32
	DTypeInt64
	DTypeUint8
	DTypeUint16
	DTypeUint32
	DTypeUint64
	DTypeFloat16
	DTypeFloat32
	DTypeFloat64
)

// ByteWidth returns the size in bytes of one element of this type, or 0 for
// DTypeUnknown.
func (d DType) ByteWidth() int {
	switch d {
	case DTypeBool, DTypeInt8, DTypeUint8:
		return 1
	case DTypeInt16, DTypeUint16, DTypeFloat16:
		return 2
	case DTypeInt32, DTypeUint32, DTypeFloat32:
		return 4
	case DTypeInt64, DTypeUint64, DTypeFloat64:
		return 8
	default:
		return 0
	}
}

func (d DType) String() string {
	switch d {
	case DTypeBool:
		return "bool"
	case DTypeInt8:
		return "int8"
	case DTypeInt16:
		return "int16"
	case DTypeInt32:
		return "int32"
	case DTypeInt64:
		return "int64"
	case DTypeUint8:
		return "uint8"
	case DTypeUint16:
		return "uint16"
	case DTypeUint32:
		return "uint32"
	case DTypeUint64:
		return "uint64"
	case DTypeFloat16:
		return "float16"
	case DTypeFloat32:
		return "float32"
	case DTypeFloat64:
		return "float64"
	default:
		return fmt.Sprintf("unknown(%d)", int(d))
	}
}

// Layout is the optional tensor memory layout.
type Layout int

const (
	LayoutNone Layout = iota
	LayoutNCHW
	LayoutNHWC
)
