// Package executor implements the Executor (spec component E): input/
// output binding, synchronous and asynchronous runs with a model-latency
// feedback loop, and the per-run timeout/cancellation contract (§4.4).
package executor

import "strconv"

// MaxBoundTensors is the per-call cap on inputs/outputs (§4.4).
const MaxBoundTensors = 200

// Config carries the two items visible to the backend via the executor's
// string→bytes map (§4.4): the scheduler's hiaiModelId and the
// latency-needed flag.
type Config struct {
	SchedulerModelID uint64
	NeedLatency      bool
}

// ToBackendMap renders the config the way §4.4 describes it crossing to the
// backend: hiaiModelId as an ASCII decimal string, latency-needed as one
// byte.
func (c Config) ToBackendMap() map[string][]byte {
	needed := byte(0)
	if c.NeedLatency {
		needed = 1
	}
	return map[string][]byte{
		"hiaiModelId":      []byte(strconv.FormatUint(c.SchedulerModelID, 10)),
		"isNeedModelLatency": {needed},
	}
}
