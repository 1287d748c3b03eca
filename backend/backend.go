package backend

import (
	"github.com/nnrt/core/graph"
	"github.com/nnrt/core/tensor"
)

// PrepareConfig carries the compiler options that may require a capability
// check against the backend before being applied (§4.3 Build() step 2).
type PrepareConfig struct {
	Fp16        bool
	PerfMode    int
	Priority    int
	ModelCache  bool
	VendorOpts  map[string]string
	ExtConfig   *graph.ExtensionConfig
}

// RunOutcome is what a completed Run/RunAsync reports: the actual output
// shapes (dynamic axes resolved) and, per output, whether the caller's
// buffer was large enough (§4.5).
type RunOutcome struct {
	OutputShapes [][]int
	EnoughBuffer []bool
}

// PreparedModel is the opaque backend-owned artefact resulting from
// successful compilation (§3, §4.5).
type PreparedModel interface {
	Run(inputs, outputs []*tensor.Tensor) (RunOutcome, error)
	RunAsync(inputs, outputs []*tensor.Tensor, timeoutMs int, onDone func(RunOutcome, error)) error
	ExportModelCache() ([][]byte, error)
	GetModelID() uint32
	GetInputDimRanges() (min, max [][]int, err error)
	GetOutputDimRanges() (min, max [][]int, err error)
	// SetExtensionConfig pushes the executor's string→bytes config map
	// (hiaiModelId, isNeedModelLatency — §4.4) to the backend, mirroring
	// the HDI executor's SetExtensionConfig entry.
	SetExtensionConfig(config map[string][]byte) error
	ReleaseBuiltModel()
}

// Backend is the capability-oriented interface each device driver
// implements (§4.5).
type Backend interface {
	GetDeviceName() string
	VendorName() string
	Version() string
	Type() DeviceType
	Status() DeviceStatus

	GetSupportedOperation(nodeTypes []graph.OperatorType) ([]bool, error)

	IsFp16Supported() bool
	IsPerfModeSupported() bool
	IsPrioritySupported() bool
	IsDynamicInputSupported() bool
	IsModelCacheSupported() bool

	PrepareModel(ir *graph.InnerModel, config PrepareConfig) (PreparedModel, error)
	PrepareModelFromCache(buffers [][]byte, config PrepareConfig) (PreparedModel, error)
	PrepareOfflineModel(blob []byte, config PrepareConfig) (PreparedModel, error)

	tensor.Allocator
}
