package compiler

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	backendref "github.com/nnrt/core/backend/cpuref"
	"github.com/nnrt/core/graph"
	"github.com/nnrt/core/opref"
	"github.com/nnrt/core/tensor"
)

func floatDesc(shape []int) *tensor.TensorDesc {
	d := tensor.CreateDesc()
	d.SetDType(tensor.DTypeFloat32)
	_ = d.SetShape(shape)
	return d
}

func int8ScalarDesc() *tensor.TensorDesc {
	d := tensor.CreateDesc()
	d.SetDType(tensor.DTypeInt8)
	_ = d.SetShape([]int{1})
	return d
}

// buildAddIR constructs the spec.md §8.1 scenario graph.
func buildAddIR(t *testing.T) *graph.InnerModel {
	t.Helper()
	m := graph.NewInnerModel()
	in0, err := m.AddTensor(floatDesc([]int{1, 2, 2, 3}))
	require.NoError(t, err)
	in1, err := m.AddTensor(floatDesc([]int{1, 2, 2, 3}))
	require.NoError(t, err)
	fuse, err := m.AddTensor(int8ScalarDesc())
	require.NoError(t, err)
	require.NoError(t, m.SetTensorValue(fuse, []byte{byte(opref.FuseNone)}))
	out, err := m.AddTensor(floatDesc([]int{1, 2, 2, 3}))
	require.NoError(t, err)
	_, err = m.AddOperation(opref.OpAdd, []int{fuse}, []int{in0, in1}, []int{out})
	require.NoError(t, err)
	require.NoError(t, m.SpecifyInputsAndOutputs([]int{in0, in1}, []int{out}))
	require.NoError(t, m.Build())
	return m
}

func float32Bytes(vals []float32) []byte {
	buf := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func TestCompileAndRunAddEndToEnd(t *testing.T) {
	ir := buildAddIR(t)

	c, err := NewFromInnerModel(ir, backendref.DeviceID)
	require.NoError(t, err)
	require.NoError(t, c.Build())
	assert.Equal(t, StateBuilt, c.State())

	ex, err := c.CreateExecutor()
	require.NoError(t, err)
	assert.Equal(t, 2, ex.GetInputCount())
	assert.Equal(t, 1, ex.GetOutputCount())

	inDesc0, err := ex.CreateInputTensorDesc(0)
	require.NoError(t, err)
	inDesc1, err := ex.CreateInputTensorDesc(1)
	require.NoError(t, err)
	outDesc, err := ex.CreateOutputTensorDesc(0)
	require.NoError(t, err)

	alloc, _ := getAllocator(t, c)

	in0, err := tensor.CreateTensor(int(backendref.DeviceID), inDesc0, alloc)
	require.NoError(t, err)
	require.NoError(t, in0.AllocateStorage(0))
	copy(in0.Bytes(), float32Bytes([]float32{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}))

	in1, err := tensor.CreateTensor(int(backendref.DeviceID), inDesc1, alloc)
	require.NoError(t, err)
	require.NoError(t, in1.AllocateStorage(0))
	copy(in1.Bytes(), float32Bytes([]float32{2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2}))

	out, err := tensor.CreateTensor(int(backendref.DeviceID), outDesc, alloc)
	require.NoError(t, err)
	require.NoError(t, out.AllocateStorage(0))

	outcome, err := ex.RunSync([]*tensor.Tensor{in0, in1}, []*tensor.Tensor{out})
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1, 2, 2, 3}}, outcome.OutputShapes)

	gotBytes := out.Bytes()
	for i := 0; i < 12; i++ {
		v := math.Float32frombits(binary.LittleEndian.Uint32(gotBytes[i*4:]))
		assert.InDelta(t, float32(3.0), v, 1e-6)
	}

	in0.Destroy()
	in1.Destroy()
	out.Destroy()
}

// getAllocator resolves the backend Compiler just compiled against so tests
// can allocate tensors bound to the same device.
func getAllocator(t *testing.T, c *Compiler) (tensor.Allocator, error) {
	t.Helper()
	return c.be, nil
}

func TestDynamicShapeRejectedForConstant(t *testing.T) {
	m := graph.NewInnerModel()
	idx, err := m.AddTensor(floatDesc([]int{2, tensor.DynamicAxis}))
	require.NoError(t, err)

	err = m.SetTensorValue(idx, []byte{0, 0, 0, 0})
	require.Error(t, err)
}

func TestBuildAfterBuildForbidden(t *testing.T) {
	ir := buildAddIR(t)
	c, err := NewFromInnerModel(ir, backendref.DeviceID)
	require.NoError(t, err)
	require.NoError(t, c.Build())

	err = c.Build()
	require.Error(t, err)
}

func TestAmbiguousSourceSelectionRejected(t *testing.T) {
	ir := buildAddIR(t)
	c, err := NewFromInnerModel(ir, backendref.DeviceID)
	require.NoError(t, err)
	require.NoError(t, c.SetOfflineModelBuffer([]byte{1, 2, 3}))

	err = c.Build()
	require.Error(t, err)
}

func TestCacheRoundTrip(t *testing.T) {
	ir := buildAddIR(t)
	dir := t.TempDir()

	c1, err := NewFromInnerModel(ir, backendref.DeviceID)
	require.NoError(t, err)
	require.NoError(t, c1.SetCacheDir(dir, 1))
	require.NoError(t, c1.Build())

	assert.FileExists(t, filepath.Join(dir, "manifest"))
	assert.FileExists(t, filepath.Join(dir, "blob-0.bin"))

	c2 := NewForCache(backendref.DeviceID)
	require.NoError(t, c2.SetCacheDir(dir, 1))
	require.NoError(t, c2.Build())
	assert.Equal(t, StateBuilt, c2.State())

	ex1, err := c1.CreateExecutor()
	require.NoError(t, err)
	ex2, err := c2.CreateExecutor()
	require.NoError(t, err)
	assert.Equal(t, ex1.GetInputCount(), ex2.GetInputCount())
	assert.Equal(t, ex1.GetOutputCount(), ex2.GetOutputCount())

	p1 := c1.PreparedModel()
	p2 := c2.PreparedModel()
	assert.Equal(t, p1.GetModelID(), p2.GetModelID())
}

func TestCacheVersionMismatchFails(t *testing.T) {
	ir := buildAddIR(t)
	dir := t.TempDir()

	c1, err := NewFromInnerModel(ir, backendref.DeviceID)
	require.NoError(t, err)
	require.NoError(t, c1.SetCacheDir(dir, 1))
	require.NoError(t, c1.Build())

	c2 := NewForCache(backendref.DeviceID)
	require.NoError(t, c2.SetCacheDir(dir, 2))
	err = c2.Build()
	require.Error(t, err)
}

func TestImportCacheFromBuffer(t *testing.T) {
	ir := buildAddIR(t)
	c1, err := NewFromInnerModel(ir, backendref.DeviceID)
	require.NoError(t, err)
	require.NoError(t, c1.Build())

	blobs, err := c1.PreparedModel().ExportModelCache()
	require.NoError(t, err)

	c2 := NewForCache(backendref.DeviceID)
	require.NoError(t, c2.ImportCacheFromBuffer(blobs[0]))
	require.NoError(t, c2.Build())
	assert.Equal(t, c1.PreparedModel().GetModelID(), c2.PreparedModel().GetModelID())
}

func TestOfflineModelPathNotFoundFails(t *testing.T) {
	c := NewForCache(backendref.DeviceID)
	require.NoError(t, c.SetOfflineModelPath(filepath.Join(t.TempDir(), "missing.bin")))
	err := c.Build()
	require.Error(t, err)
}

func TestDestroyIsIdempotent(t *testing.T) {
	ir := buildAddIR(t)
	c, err := NewFromInnerModel(ir, backendref.DeviceID)
	require.NoError(t, err)
	require.NoError(t, c.Build())
	c.Destroy()
	c.Destroy() // must not panic
	assert.Equal(t, StateDestroyed, c.State())
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
