package tensor

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTensorDescByteSize(t *testing.T) {
	d := CreateDesc()
	d.SetDType(DTypeFloat32)
	require.NoError(t, d.SetShape([]int{1, 2, 2, 3}))

	assert.Equal(t, uint64(12), d.GetElementCount())
	assert.Equal(t, uint64(48), d.GetByteSize())
}

func TestTensorDescDynamicShapeHasZeroElementCount(t *testing.T) {
	d := CreateDesc()
	d.SetDType(DTypeFloat32)
	require.NoError(t, d.SetShape([]int{2, DynamicAxis}))

	assert.Equal(t, uint64(0), d.GetElementCount())
	assert.Equal(t, uint64(0), d.GetByteSize())
}

func TestTensorDescRejectsZeroDim(t *testing.T) {
	d := CreateDesc()
	err := d.SetShape([]int{2, 0, 3})
	require.Error(t, err)
}

func TestTensorDescRejectsOversizedShapeLen(t *testing.T) {
	d := CreateDesc()
	shape := make([]int, MaxShapeLen+1)
	for i := range shape {
		shape[i] = 1
	}
	err := d.SetShape(shape)
	require.Error(t, err)
}

func TestTensorDescRejectsOversizedByteSize(t *testing.T) {
	d := CreateDesc()
	d.SetDType(DTypeFloat64)
	err := d.SetShape([]int{1 << 30, 1 << 30})
	require.Error(t, err)
}

type fakeAllocator struct {
	released map[int]uint64
}

func newFakeAllocator() *fakeAllocator {
	return &fakeAllocator{released: make(map[int]uint64)}
}

func (f *fakeAllocator) AllocateBuffer(size uint64) (int, error) {
	file, err := os.CreateTemp("", "nnrt-shm-*")
	if err != nil {
		return 0, err
	}
	if err := file.Truncate(int64(size)); err != nil {
		file.Close()
		return 0, err
	}
	return int(file.Fd()), nil
}

func (f *fakeAllocator) ReleaseBuffer(fd int, size uint64) error {
	f.released[fd] = size
	return nil
}

func TestTensorAllocateStorageLifecycle(t *testing.T) {
	d := CreateDesc()
	d.SetDType(DTypeFloat32)
	require.NoError(t, d.SetShape([]int{4, 4}))

	alloc := newFakeAllocator()
	tn, err := CreateTensor(0, d, alloc)
	require.NoError(t, err)

	require.NoError(t, tn.AllocateStorage(0))
	assert.True(t, tn.HasStorage())
	assert.NotEqual(t, -1, tn.FD())

	// recoverable via the shared-memory registry by the handle minted internally
	fd, length, err := GetMemory(tn.shmPtr)
	require.NoError(t, err)
	assert.Equal(t, tn.FD(), fd)
	assert.Equal(t, d.GetByteSize(), length)

	tn.Destroy()
	_, _, err = GetMemory(tn.shmPtr)
	require.Error(t, err)

	// destroying twice must not panic or double-release.
	tn.Destroy()
}

func TestTensorAttachForeignStorageValidatesSize(t *testing.T) {
	d := CreateDesc()
	d.SetDType(DTypeFloat32)
	require.NoError(t, d.SetShape([]int{4, 4}))

	tn, err := CreateTensor(0, d, nil)
	require.NoError(t, err)

	err = tn.AttachForeignStorage(3, 10, 5) // 10-5=5 bytes available, need 64
	require.Error(t, err)

	err = tn.AttachForeignStorage(3, 100, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, tn.FD())
	assert.Equal(t, uint64(4), tn.Offset())

	tn.Destroy()
}
