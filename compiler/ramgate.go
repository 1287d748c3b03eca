package compiler

import (
	"os"

	"github.com/nnrt/core/rterr"
	"github.com/nnrt/core/runtimeconfig"
)

func readOfflineFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, rterr.New(rterr.InvalidFile, "read offline model: %v", err)
	}
	return b, nil
}

// sourceByteSize estimates the size of the compilation source in bytes, for
// the RAM-limit gate.
func (c *Compiler) sourceByteSize(source sourceKind) (uint64, error) {
	switch source {
	case sourceInnerModel:
		return uint64(len(serializeIR(c.ir))), nil
	case sourceCacheBuffer:
		return uint64(len(c.cacheBuffer)), nil
	case sourceOfflineBuffer:
		return uint64(len(c.offlineBuffer)), nil
	case sourceOfflinePath:
		info, err := os.Stat(c.offlinePath)
		if err != nil {
			return 0, rterr.New(rterr.InvalidFile, "stat offline model: %v", err)
		}
		return uint64(info.Size()), nil
	case sourceCacheDir:
		// cache directory size isn't known ahead of read; treat as small.
		return 0, nil
	default:
		return 0, nil
	}
}

// ramLimitGate implements §4.3's RAM-limit gate: before prepare, if the
// source exceeds the oversized-model threshold and a scheduler service is
// both reachable and authentication-capable, ask it to authenticate and
// abort on refusal. An unreachable service is skipped silently
// (best-effort), per spec.md §8 scenario 5.
func (c *Compiler) ramLimitGate(source sourceKind) error {
	size, err := c.sourceByteSize(source)
	if err != nil {
		return err
	}
	if size <= runtimeconfig.OversizedModelBytes() {
		return nil
	}

	client := c.schedClient
	if client == nil {
		client = defaultSchedulerClient()
	}
	if client == nil || !client.Reachable() {
		return nil // best-effort: no scheduler configured or unreachable
	}
	if !client.SupportsAuthentication() {
		return nil
	}

	ok, err := client.Authenticate(c.fingerprint)
	if err != nil {
		return rterr.New(rterr.UnavailableDevice, "scheduler authentication failed: %v", err)
	}
	if !ok {
		return rterr.New(rterr.UnavailableDevice, "scheduler refused to admit oversized model")
	}
	return nil
}
