package tensor

import (
	"sync"

	"github.com/nnrt/core/rterr"
)

// shmMapping is what the registry remembers about one live shared buffer.
type shmMapping struct {
	fd     int
	length uint64
}

// sharedMemoryRegistry is the process-wide singleton mapping a user-visible
// pointer (here, a synthetic handle minted on allocation) to the {fd,
// length} pair backing it, so that a tensor handle crossing the backend
// boundary can recover its original fd (§4.1, §9 "global mutable state").
type sharedMemoryRegistry struct {
	mu      sync.Mutex
	nextPtr uintptr
	entries map[uintptr]shmMapping
}

var shmRegistry = &sharedMemoryRegistry{
	nextPtr: 1,
	entries: make(map[uintptr]shmMapping),
}

// Insert records a new mapping and returns the handle that identifies it.
func (r *sharedMemoryRegistry) Insert(fd int, length uint64) uintptr {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.nextPtr
	r.nextPtr++
	r.entries[p] = shmMapping{fd: fd, length: length}
	return p
}

// Lookup recovers the {fd, length} pair for a handle.
func (r *sharedMemoryRegistry) Lookup(ptr uintptr) (int, uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.entries[ptr]
	if !ok {
		return 0, 0, rterr.New(rterr.InvalidParameter, "no shared memory mapping for pointer")
	}
	return m.fd, m.length, nil
}

// Erase removes a mapping. Erasing an already-erased or unknown handle is a
// no-op, matching the destructor contract in §4.1 ("in all cases erase the
// map entry").
func (r *sharedMemoryRegistry) Erase(ptr uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, ptr)
}

// GetMemory exposes the registry lookup for clients that need to recover an
// fd from a pointer they already hold (spec.md §8 scenario 6).
func GetMemory(ptr uintptr) (fd int, length uint64, err error) {
	return shmRegistry.Lookup(ptr)
}
