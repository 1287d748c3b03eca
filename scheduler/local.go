package scheduler

import (
	"sync"

	"github.com/nnrt/core/runtimeconfig"
)

// LocalClient is an in-process reference Client used by tests and by
// standalone deployments with no real sibling scheduler process. Reports
// are buffered on a channel the way the teacher buffers completed/expired
// runner notifications (finishedReqCh in server/sched_types.go) rather than
// blocking the reporting goroutine.
type LocalClient struct {
	mu           sync.Mutex
	authenticate bool
	refuse       bool
	reports      chan LatencyReport
}

// NewLocalClient returns a LocalClient that authenticates (admits) every
// model unless refuse is true. The report channel is sized by
// runtimeconfig.MaxQueue (NNRT_MAX_QUEUE), the same bound a real sibling
// scheduler's feedback queue would enforce.
func NewLocalClient(refuse bool) *LocalClient {
	return &LocalClient{authenticate: true, refuse: refuse, reports: make(chan LatencyReport, int(runtimeconfig.MaxQueue()))}
}

func (c *LocalClient) Reachable() bool                { return true }
func (c *LocalClient) SupportsAuthentication() bool    { return c.authenticate }

func (c *LocalClient) Authenticate(fingerprint [32]byte) (bool, error) {
	return !c.refuse, nil
}

func (c *LocalClient) ReportLatency(report LatencyReport) {
	select {
	case c.reports <- report:
	default:
		// queue full: drop, matching the maxQueue-bounded channels in
		// server/sched_types.go which favor dropping over blocking.
	}
}

// Reports drains the buffered latency reports, for test assertions.
func (c *LocalClient) Reports() []LatencyReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []LatencyReport
	for {
		select {
		case r := <-c.reports:
			out = append(out, r)
		default:
			return out
		}
	}
}

// UnreachableClient always reports as unreachable, exercising the
// best-effort skip path of the RAM-limit gate.
type UnreachableClient struct{}

func (UnreachableClient) Reachable() bool             { return false }
func (UnreachableClient) SupportsAuthentication() bool { return false }
func (UnreachableClient) Authenticate([32]byte) (bool, error) { return false, nil }
func (UnreachableClient) ReportLatency(LatencyReport)  {}
