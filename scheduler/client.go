// Package scheduler defines the narrow interface the optional sibling
// scheduler service exposes to the compiler (admission/authentication, §4.3
// RAM-limit gate) and the executor (latency telemetry, §4.4). It is
// grounded on the teacher's Scheduler/runnerRef admission flow
// (server/sched_types.go, server/sched_processing.go), generalized from
// GPU-memory-fit admission and HTTP-runner latency bookkeeping to this
// spec's narrower authenticate-or-skip and fire-and-forget-report contract.
package scheduler

import (
	"time"

	"github.com/google/uuid"

	"github.com/nnrt/core/runtimeconfig"
)

// LatencyReport is what the executor sends back after a timed run
// (spec.md §4.4 step 4). CorrelationID lets a scheduler match this report
// back to the run that produced it without assuming anything about the
// core's internal request bookkeeping, the same role the teacher's request
// IDs play across server and runner.
type LatencyReport struct {
	ModelID       uint32
	Latency       time.Duration
	CorrelationID uuid.UUID
}

// Client is the capability a scheduler service exposes. The core treats an
// unreachable service as best-effort and skips the gate silently (§4.3).
type Client interface {
	// Reachable reports whether the service answered at all.
	Reachable() bool
	// SupportsAuthentication reports whether the service can gate model
	// admission. Checked before calling Authenticate.
	SupportsAuthentication() bool
	// Authenticate asks the service to admit a model identified by its
	// fingerprint. A false result means the service refused.
	Authenticate(fingerprint [32]byte) (bool, error)
	// ReportLatency is fire-and-forget telemetry; it is always called from
	// a background goroutine by the caller, never synchronously (§4.4).
	ReportLatency(report LatencyReport)
}

// Configured reports whether a scheduler service address was provided via
// runtime configuration. When it is not, callers should skip the RAM-limit
// gate and latency feedback entirely rather than construct a Client.
func Configured() bool {
	return runtimeconfig.SchedulerAddr() != ""
}
