package tensor

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/nnrt/core/rterr"
)

// MaxAllocationBytes is the single-allocation cap from §4.1.
const MaxAllocationBytes = 1 << 30 // 1 GiB

// MaxModelBinaryBytes is the single-model-binary cap (§4.1, §4.3). The
// compiler's RAM-limit gate does not read this constant: it takes its
// threshold from runtimeconfig.OversizedModelBytes, whose default is the
// same 200 MiB.
const MaxModelBinaryBytes = 200 * 1024 * 1024 // 200 MiB

// Allocator is the narrow capability a backend must expose so tensors can
// request shared-memory storage from it (§4.5's AllocateBuffer/ReleaseBuffer).
type Allocator interface {
	AllocateBuffer(size uint64) (fd int, err error)
	ReleaseBuffer(fd int, size uint64) error
}

// storageKind distinguishes the three storage modes of §3.
type storageKind int

const (
	storageNone storageKind = iota
	storageHeap
	storageSharedOwned
	storageSharedBorrowed
)

// Tensor is a TensorDesc plus storage, bound to exactly one backend for the
// life of its storage (§3).
type Tensor struct {
	mu sync.Mutex

	desc      *TensorDesc
	backendID int
	kind      storageKind

	heap []byte

	fd      int
	size    uint64 // total mapped/declared region size
	offset  uint64
	shmPtr  uintptr // handle into the shared-memory registry, for owned storage
	mmapped []byte  // non-nil only for runtime-mmapped (owned) storage

	allocator Allocator
	released  bool
}

// CreateTensor creates a tensor bound to backendID with no storage yet.
func CreateTensor(backendID int, desc *TensorDesc, allocator Allocator) (*Tensor, error) {
	if desc == nil {
		return nil, rterr.New(rterr.NullPointer, "tensor desc is nil")
	}
	return &Tensor{desc: desc, backendID: backendID, kind: storageNone, allocator: allocator}, nil
}

func (t *Tensor) Desc() *TensorDesc { return t.desc }
func (t *Tensor) BackendID() int    { return t.backendID }

// HasStorage reports whether storage has been allocated or attached.
func (t *Tensor) HasStorage() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.kind != storageNone
}

// AllocateStorage allocates storage for this tensor. If size is 0, the
// descriptor's GetByteSize() is used. Delegates to the backend's allocator,
// which returns a shared-memory fd; the runtime mmaps it and records the
// mapping in the shared-memory registry (§4.1).
func (t *Tensor) AllocateStorage(size uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.kind != storageNone {
		return rterr.New(rterr.OperationForbidden, "tensor already has storage")
	}
	if size == 0 {
		size = t.desc.GetByteSize()
	}
	if size == 0 {
		return rterr.New(rterr.InvalidParameter, "cannot allocate zero-byte storage")
	}
	if size > MaxAllocationBytes {
		return rterr.New(rterr.InvalidParameter, "allocation of %d bytes exceeds cap of %d", size, MaxAllocationBytes)
	}
	if t.allocator == nil {
		return rterr.New(rterr.UnavailableDevice, "no allocator bound to backend %d", t.backendID)
	}

	fd, err := t.allocator.AllocateBuffer(size)
	if err != nil {
		return rterr.New(rterr.MemoryError, "backend allocate failed: %v", err)
	}

	mapped, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		t.allocator.ReleaseBuffer(fd, size)
		return rterr.New(rterr.MemoryError, "mmap failed: %v", err)
	}

	t.fd = fd
	t.size = size
	t.offset = 0
	t.mmapped = mapped
	t.kind = storageSharedOwned
	t.shmPtr = shmRegistry.Insert(fd, size)
	return nil
}

// AttachForeignStorage binds this tensor to a client-supplied shared-memory
// region. The runtime does not mmap client memory — it is the client's
// (§4.1).
func (t *Tensor) AttachForeignStorage(fd int, size, offset uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.kind != storageNone {
		return rterr.New(rterr.OperationForbidden, "tensor already has storage")
	}
	need := t.desc.GetByteSize()
	if size < offset || size-offset < need {
		return rterr.New(rterr.InvalidParameter, "foreign storage too small: size=%d offset=%d need=%d", size, offset, need)
	}
	t.fd = fd
	t.size = size
	t.offset = offset
	t.kind = storageSharedBorrowed
	t.shmPtr = shmRegistry.Insert(fd, size)
	return nil
}

// Bytes returns the raw storage backing this tensor, or nil if storage is a
// borrowed fd the caller hasn't mapped into this process (heap and
// runtime-mmapped storage are always directly readable).
func (t *Tensor) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.kind {
	case storageHeap:
		return t.heap
	case storageSharedOwned:
		return t.mmapped[t.offset:]
	default:
		return nil
	}
}

// FD, Size, Offset expose the shared-buffer transport triple (§6).
func (t *Tensor) FD() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.kind == storageNone || t.kind == storageHeap {
		return -1
	}
	return t.fd
}

func (t *Tensor) Size() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

func (t *Tensor) Offset() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offset
}

// Destroy releases all storage owned by this tensor. It is infallible: it
// always erases the shared-memory registry entry even if an underlying
// release reports an error (§7 "Destructors are infallible").
func (t *Tensor) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.released {
		return
	}
	t.released = true

	switch t.kind {
	case storageSharedOwned:
		if t.mmapped != nil {
			unix.Munmap(t.mmapped)
			t.mmapped = nil
		}
		if t.allocator != nil {
			t.allocator.ReleaseBuffer(t.fd, t.size)
		}
		unix.Close(t.fd)
		shmRegistry.Erase(t.shmPtr)
	case storageSharedBorrowed:
		// client-owned memory: nothing to unmap or close, just forget it.
		shmRegistry.Erase(t.shmPtr)
	case storageHeap:
		t.heap = nil
	}
	t.kind = storageNone
}
