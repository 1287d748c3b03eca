// Package runtimeconfig reads process-wide runtime tunables from the
// environment: the compiler's on-disk cache root, the scheduler-feedback
// queue depth, and the oversized-model RAM-limit gate threshold.
package runtimeconfig

import (
	"log/slog"
	"os"
	"strconv"
)

// Var reads a raw environment variable, trimming nothing — callers decide
// how to interpret an empty string.
func Var(key string) string {
	return os.Getenv(key)
}

// String returns a getter for a string environment variable with a default.
func String(key, defaultValue string) func() string {
	return func() string {
		if v := Var(key); v != "" {
			return v
		}
		return defaultValue
	}
}

// Uint64 returns a getter for a uint64 environment variable with a default,
// warning and falling back to the default on a malformed value.
func Uint64(key string, defaultValue uint64) func() uint64 {
	return func() uint64 {
		s := Var(key)
		if s == "" {
			return defaultValue
		}
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			return defaultValue
		}
		return n
	}
}

// Bool returns a getter for a boolean environment variable with a default.
func Bool(key string, defaultValue bool) func() bool {
	return func() bool {
		s := Var(key)
		if s == "" {
			return defaultValue
		}
		b, err := strconv.ParseBool(s)
		if err != nil {
			slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			return defaultValue
		}
		return b
	}
}

// CacheDir is the default root directory for compiler caches when a
// compilation does not set one explicitly.
var CacheDir = String("NNRT_CACHE_DIR", "")

// MaxQueue bounds the scheduler-feedback channel depth (§5, §4.4).
var MaxQueue = Uint64("NNRT_MAX_QUEUE", 512)

// OversizedModelBytes is the RAM-limit gate threshold from compiler §4.3:
// models whose serialised size exceeds this trigger the scheduler
// admission check (when a scheduler service is configured).
var OversizedModelBytes = Uint64("NNRT_OVERSIZED_MODEL_BYTES", 200*1024*1024)

// SchedulerAddr is the optional scheduler service address. Empty means no
// scheduler is configured and the RAM-limit gate and latency feedback are
// both skipped.
var SchedulerAddr = String("NNRT_SCHEDULER_ADDR", "")
