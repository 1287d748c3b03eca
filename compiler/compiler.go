// Package compiler implements the Compiler (spec component D): backend
// selection, option propagation, model fingerprinting, cache lookup and
// persistence, and the Configured→Built→Destroyed state machine governing
// legal caller operations (§4.3).
package compiler

import (
	"log/slog"

	"github.com/nnrt/core/backend"
	"github.com/nnrt/core/graph"
	"github.com/nnrt/core/rterr"
	"github.com/nnrt/core/runtimeconfig"
	"github.com/nnrt/core/scheduler"
)

// State is the compiler's Configured→Built→Destroyed state machine (§4.3).
type State int

const (
	StateConfigured State = iota
	StateBuilt
	StateDestroyed
)

// sourceKind distinguishes the four entry variants of §4.3's table.
type sourceKind int

const (
	sourceNone sourceKind = iota
	sourceInnerModel
	sourceCacheDir
	sourceCacheBuffer
	sourceOfflinePath
	sourceOfflineBuffer
)

// Compiler is the mutable configuration object of §3/§4.3.
type Compiler struct {
	state State

	deviceID  backend.DeviceID
	be        backend.Backend
	sources   []sourceKind

	ir            *graph.InnerModel
	cacheDir      string
	cacheVersion  int
	cacheBuffer   []byte
	offlinePath   string
	offlineBuffer []byte

	fp16       bool
	perfMode   int
	priority   int
	wantCache  bool
	vendorOpts map[string]string
	extConfig  []ExtensionConfigEntry

	fingerprint   [32]byte
	preparedModel backend.PreparedModel

	schedClient scheduler.Client
}

// ExtensionConfigEntry is one key→blob extension config entry (§4.3).
type ExtensionConfigEntry struct {
	Key   string
	Value []byte
}

// NewFromInnerModel is the "freshly built in-memory IR" entry variant.
func NewFromInnerModel(ir *graph.InnerModel, deviceID backend.DeviceID) (*Compiler, error) {
	if ir == nil {
		return nil, rterr.New(rterr.NullPointer, "inner model is nil")
	}
	c := newCompiler(deviceID)
	c.ir = ir
	c.sources = append(c.sources, sourceInnerModel)
	return c, nil
}

// NewForCache is the base of the "cached artefact" and "offline" entry
// variants: construct with just a device, then call SetCacheDir,
// ImportCacheFromBuffer, SetOfflineModelPath, or SetOfflineModelBuffer.
func NewForCache(deviceID backend.DeviceID) *Compiler {
	return newCompiler(deviceID)
}

func newCompiler(deviceID backend.DeviceID) *Compiler {
	return &Compiler{state: StateConfigured, deviceID: deviceID, wantCache: false}
}

// SetSchedulerClient installs the optional sibling scheduler service used
// by the RAM-limit gate (§4.3). Nil (the default) falls back to a client
// built from runtimeconfig.SchedulerAddr(); when that address is empty as
// well, the gate is skipped entirely.
func (c *Compiler) SetSchedulerClient(client scheduler.Client) error {
	if err := c.requireConfigured(); err != nil {
		return err
	}
	c.schedClient = client
	return nil
}

func (c *Compiler) requireConfigured() error {
	switch c.state {
	case StateBuilt:
		return rterr.New(rterr.OperationForbidden, "compiler is already built")
	case StateDestroyed:
		return rterr.New(rterr.OperationForbidden, "compiler is destroyed")
	}
	return nil
}

// SetCacheDir sets the cache directory and version, per §4.3's table. On a
// compiler built from an in-memory IR the directory is only a persistence
// target, written after Build prepares the model; on a compiler with no IR
// it selects the "cached artefact on disk" source and is only read. An
// empty path falls back to runtimeconfig.CacheDir
// (NNRT_CACHE_DIR); it is an error only if that default is also unset.
func (c *Compiler) SetCacheDir(path string, version int) error {
	if err := c.requireConfigured(); err != nil {
		return err
	}
	if path == "" {
		path = runtimeconfig.CacheDir()
	}
	if path == "" {
		return rterr.New(rterr.InvalidPath, "cache dir path is empty")
	}
	c.cacheDir = path
	c.cacheVersion = version
	c.wantCache = true
	if c.ir == nil {
		c.sources = append(c.sources, sourceCacheDir)
	}
	return nil
}

// ImportCacheFromBuffer selects the "cached artefact in buffer" source.
func (c *Compiler) ImportCacheFromBuffer(buf []byte) error {
	if err := c.requireConfigured(); err != nil {
		return err
	}
	if len(buf) == 0 {
		return rterr.New(rterr.InvalidParameter, "cache buffer is empty")
	}
	c.cacheBuffer = append([]byte(nil), buf...)
	c.sources = append(c.sources, sourceCacheBuffer)
	return nil
}

// SetOfflineModelPath selects the "offline pre-compiled blob" (path)
// source.
func (c *Compiler) SetOfflineModelPath(path string) error {
	if err := c.requireConfigured(); err != nil {
		return err
	}
	if path == "" {
		return rterr.New(rterr.InvalidPath, "offline model path is empty")
	}
	c.offlinePath = path
	c.sources = append(c.sources, sourceOfflinePath)
	return nil
}

// SetOfflineModelBuffer selects the "offline pre-compiled blob" (buffer)
// source.
func (c *Compiler) SetOfflineModelBuffer(buf []byte) error {
	if err := c.requireConfigured(); err != nil {
		return err
	}
	if len(buf) == 0 {
		return rterr.New(rterr.InvalidParameter, "offline model buffer is empty")
	}
	c.offlineBuffer = append([]byte(nil), buf...)
	c.sources = append(c.sources, sourceOfflineBuffer)
	return nil
}

// Option setters: legal only in Configured (§4.3).
func (c *Compiler) EnableFp16(v bool) error {
	if err := c.requireConfigured(); err != nil {
		return err
	}
	c.fp16 = v
	return nil
}

func (c *Compiler) SetPerfMode(mode int) error {
	if err := c.requireConfigured(); err != nil {
		return err
	}
	c.perfMode = mode
	return nil
}

func (c *Compiler) SetPriority(priority int) error {
	if err := c.requireConfigured(); err != nil {
		return err
	}
	c.priority = priority
	return nil
}

func (c *Compiler) AddExtensionConfig(key string, value []byte) error {
	if err := c.requireConfigured(); err != nil {
		return err
	}
	c.extConfig = append(c.extConfig, ExtensionConfigEntry{Key: key, Value: value})
	return nil
}

func (c *Compiler) AddVendorOption(key, value string) error {
	if err := c.requireConfigured(); err != nil {
		return err
	}
	if c.vendorOpts == nil {
		c.vendorOpts = make(map[string]string)
	}
	c.vendorOpts[key] = value
	return nil
}

func (c *Compiler) State() State { return c.state }

// Fingerprint returns the model fingerprint computed during Build. Calling
// before Build returns the zero value.
func (c *Compiler) Fingerprint() [32]byte { return c.fingerprint }

// PreparedModel returns the backend-produced artefact. Only valid once
// State() == StateBuilt.
func (c *Compiler) PreparedModel() backend.PreparedModel { return c.preparedModel }

// Destroy releases the backend's prepared model, if any, and transitions to
// Destroyed. Infallible (§7).
func (c *Compiler) Destroy() {
	if c.state == StateDestroyed {
		return
	}
	if c.preparedModel != nil {
		c.preparedModel.ReleaseBuiltModel()
	}
	c.state = StateDestroyed
}

func (c *Compiler) resolveBackend() error {
	if c.be != nil {
		return nil
	}
	be, err := backend.Resolve(c.deviceID)
	if err != nil {
		return err
	}
	c.be = be
	return nil
}

func defaultSchedulerClient() scheduler.Client {
	if !scheduler.Configured() {
		return nil
	}
	slog.Debug("scheduler service configured", "addr", runtimeconfig.SchedulerAddr())
	return scheduler.NewLocalClient(false)
}
