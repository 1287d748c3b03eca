package compiler

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/nnrt/core/backend"
	"github.com/nnrt/core/graph"
	"github.com/nnrt/core/rterr"
	"github.com/nnrt/core/runtimeconfig"
)

// Build runs the six-step algorithm of §4.3. Steps after (1) may be retried
// by reconfiguring the compiler; once a PreparedModel is in hand (step 5
// succeeds) the compiler is Built forever, per the state machine.
func (c *Compiler) Build() error {
	if err := c.requireConfigured(); err != nil {
		return err
	}

	// (1) Validate the source selection is unambiguous.
	if len(c.sources) != 1 {
		return rterr.New(rterr.InvalidParameter, "exactly one compilation source must be selected, got %d", len(c.sources))
	}
	source := c.sources[0]

	if err := c.resolveBackend(); err != nil {
		return err
	}

	// (2)+(3) Ask the backend for capability bits; fail fast on a denied
	// capability before computing a fingerprint or touching the backend.
	if c.fp16 && !c.be.IsFp16Supported() {
		return rterr.New(rterr.Unsupported, "backend does not support fp16")
	}
	if c.perfMode != 0 && !c.be.IsPerfModeSupported() {
		return rterr.New(rterr.Unsupported, "backend does not support performance mode")
	}
	if c.priority != 0 && !c.be.IsPrioritySupported() {
		return rterr.New(rterr.Unsupported, "backend does not support priority")
	}
	if c.wantCache && !c.be.IsModelCacheSupported() {
		return rterr.New(rterr.Unsupported, "backend does not support model caching")
	}

	cfg := backend.PrepareConfig{
		Fp16:       c.fp16,
		PerfMode:   c.perfMode,
		Priority:   c.priority,
		ModelCache: c.wantCache,
		VendorOpts: c.vendorOpts,
	}
	if c.ir != nil {
		cfg.ExtConfig = c.ir.ExtensionConfig()
	}

	// (4) Compute a model fingerprint.
	fingerprint, err := c.computeFingerprint(source)
	if err != nil {
		return err
	}
	c.fingerprint = fingerprint

	// RAM-limit gate, applied before step (5)'s prepare call.
	if err := c.ramLimitGate(source); err != nil {
		return err
	}

	// (5) Ask the backend to prepare the model.
	prepared, err := c.prepare(source, cfg)
	if err != nil {
		return err
	}
	c.preparedModel = prepared
	c.state = StateBuilt

	// (6) If a cache path was set, persist the exported blobs.
	if c.wantCache && c.cacheDir != "" && source == sourceInnerModel {
		blobs, err := prepared.ExportModelCache()
		if err != nil {
			return rterr.New(rterr.Failed, "export model cache: %v", err)
		}
		if err := writeCache(c.cacheDir, c.cacheVersion, blobs); err != nil {
			return err
		}
	}

	return nil
}

func (c *Compiler) prepare(source sourceKind, cfg backend.PrepareConfig) (backend.PreparedModel, error) {
	switch source {
	case sourceInnerModel:
		return c.be.PrepareModel(c.ir, cfg)
	case sourceCacheDir:
		blobs, err := readCache(c.cacheDir, c.cacheVersion)
		if err != nil {
			return nil, err
		}
		return c.be.PrepareModelFromCache(blobs, cfg)
	case sourceCacheBuffer:
		return c.be.PrepareModelFromCache([][]byte{c.cacheBuffer}, cfg)
	case sourceOfflinePath:
		blob, err := readOfflineFile(c.offlinePath)
		if err != nil {
			return nil, err
		}
		return c.be.PrepareOfflineModel(blob, cfg)
	case sourceOfflineBuffer:
		return c.be.PrepareOfflineModel(c.offlineBuffer, cfg)
	default:
		return nil, rterr.New(rterr.InvalidParameter, "no compilation source selected")
	}
}

// computeFingerprint implements §4.3 step 4: SHA-256 over the IR's
// serialised form, the cache path's hash, or a composition of the first and
// last 512 KiB of a large buffer (buffers ≤ 1 MiB are hashed whole).
func (c *Compiler) computeFingerprint(source sourceKind) ([32]byte, error) {
	switch source {
	case sourceInnerModel:
		return sha256.Sum256(serializeIR(c.ir)), nil
	case sourceCacheDir:
		return sha256.Sum256([]byte(c.cacheDir)), nil
	case sourceCacheBuffer:
		return fingerprintBuffer(c.cacheBuffer), nil
	case sourceOfflinePath:
		return sha256.Sum256([]byte(c.offlinePath)), nil
	case sourceOfflineBuffer:
		return fingerprintBuffer(c.offlineBuffer), nil
	default:
		return [32]byte{}, rterr.New(rterr.InvalidParameter, "no compilation source selected")
	}
}

const largeBufferThreshold = 1 << 20 // 1 MiB
const edgeChunk = 512 * 1024         // 512 KiB

func fingerprintBuffer(buf []byte) [32]byte {
	if len(buf) <= largeBufferThreshold {
		return sha256.Sum256(buf)
	}
	h := sha256.New()
	h.Write(buf[:edgeChunk])
	h.Write(buf[len(buf)-edgeChunk:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// serializeIR produces a deterministic byte encoding of the IR sufficient
// to fingerprint it: tensor descriptors (dtype, shape, constant flag/value)
// followed by node types and index lists.
func serializeIR(ir *graph.InnerModel) []byte {
	var buf []byte
	putU64 := func(v uint64) {
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], v)
		buf = append(buf, tmp[:]...)
	}
	putInts := func(vals []int) {
		putU64(uint64(len(vals)))
		for _, v := range vals {
			putU64(uint64(int64(v)))
		}
	}

	putU64(uint64(ir.TensorCount()))
	for i := 0; i < ir.TensorCount(); i++ {
		t := ir.Tensor(i)
		putU64(uint64(t.Desc.DType()))
		putInts(t.Desc.Shape())
		if t.IsConstant {
			buf = append(buf, 1)
			putU64(uint64(len(t.Value)))
			buf = append(buf, t.Value...)
		} else {
			buf = append(buf, 0)
		}
	}

	putU64(uint64(ir.NodeCount()))
	for i := 0; i < ir.NodeCount(); i++ {
		n := ir.Node(i)
		putU64(uint64(n.Type))
		putInts(n.ParamIdx)
		putInts(n.InputIdx)
		putInts(n.OutputIdx)
	}

	putInts(ir.Inputs())
	putInts(ir.Outputs())
	return buf
}
