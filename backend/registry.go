package backend

import (
	"sort"
	"sync"

	"github.com/nnrt/core/rterr"
)

// Factory constructs the Backend instance for a device. Factories are
// registered at process init and invoked lazily, once, the first time the
// device is resolved (§4.5, §5: "written only at process init, read-only
// thereafter" describes the registration half; instantiation is memoized
// the first time a caller asks for it).
type Factory func() (Backend, error)

type registryEntry struct {
	name    string
	factory Factory

	once     sync.Once
	instance Backend
	err      error
}

var (
	registryMu sync.Mutex
	registry   = make(map[DeviceID]*registryEntry)
)

// RegisterBackend installs a backend factory under a stable device ID,
// generalizing the teacher's single-name map-based registry
// (ml.RegisterBackend/NewBackend) to the spec's multi-device registry.
// Registering the same ID twice panics, matching the teacher's behaviour —
// unlike the operator registry (§4.2), backend identity is not meant to be
// silently replaced at runtime.
func RegisterBackend(id DeviceID, name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[id]; ok {
		panic("backend: device already registered")
	}
	registry[id] = &registryEntry{name: name, factory: factory}
}

// AllBackendIDs returns every registered device ID, sorted.
func AllBackendIDs() []DeviceID {
	registryMu.Lock()
	defer registryMu.Unlock()
	ids := make([]DeviceID, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// BackendName returns the registered name for a device ID without
// instantiating it.
func BackendName(id DeviceID) (string, error) {
	registryMu.Lock()
	entry, ok := registry[id]
	registryMu.Unlock()
	if !ok {
		return "", rterr.New(rterr.InvalidParameter, "unknown device id %d", int(id))
	}
	return entry.name, nil
}

// Resolve returns the (lazily constructed, memoized) Backend instance for a
// device ID. An unknown ID fails with InvalidParameter (§4.5).
func Resolve(id DeviceID) (Backend, error) {
	registryMu.Lock()
	entry, ok := registry[id]
	registryMu.Unlock()
	if !ok {
		return nil, rterr.New(rterr.InvalidParameter, "unknown device id %d", int(id))
	}
	entry.once.Do(func() {
		entry.instance, entry.err = entry.factory()
	})
	if entry.err != nil {
		return nil, rterr.New(rterr.UnavailableDevice, "backend %d init failed: %v", int(id), entry.err)
	}
	return entry.instance, nil
}

// resetForTest clears the registry. Only called from tests in this package
// to keep registrations isolated between test cases.
func resetForTest() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[DeviceID]*registryEntry)
}
