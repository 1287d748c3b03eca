package executor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/nnrt/core/backend"
	"github.com/nnrt/core/rterr"
	"github.com/nnrt/core/scheduler"
	"github.com/nnrt/core/tensor"
)

// maxConcurrentAsyncRuns bounds in-flight RunAsync calls per executor, the
// same role the teacher's llmServer.sem (golang.org/x/sync/semaphore.Weighted)
// plays in gating concurrent completions in server_inference.go.
const maxConcurrentAsyncRuns = 8

// RunDoneFunc is invoked once per completed RunAsync, on a goroutine that
// holds no internal lock (§9 "async callbacks"). userData is opaque to the
// core and passed through verbatim from the RunAsync call.
type RunDoneFunc func(userData any, outcome backend.RunOutcome, err error)

// ServiceDiedFunc is invoked once per observed transport failure, after
// which the executor is permanently invalid (§5, §7).
type ServiceDiedFunc func(userData any)

// Executor binds I/O tensors to a PreparedModel and runs it (spec
// component E). Once constructed it is immutable apart from callback
// registration and per-run config (§3).
type Executor struct {
	mu sync.Mutex

	prepared  backend.PreparedModel
	backendID backend.DeviceID

	inputDescs  []*tensor.TensorDesc
	outputDescs []*tensor.TensorDesc

	cfg Config

	onRunDone     RunDoneFunc
	onServiceDied ServiceDiedFunc

	schedClient scheduler.Client

	unavailable bool // latched true after a service-died event (§7)

	runSem *semaphore.Weighted
}

// New constructs an Executor bound to a PreparedModel. Only the compiler's
// CreateExecutor (legal only in its Built state, §4.3) is expected to call
// this.
func New(prepared backend.PreparedModel, backendID backend.DeviceID, inputDescs, outputDescs []*tensor.TensorDesc, cfg Config, schedClient scheduler.Client) (*Executor, error) {
	if prepared == nil {
		return nil, rterr.New(rterr.NullPointer, "prepared model is nil")
	}
	if len(inputDescs) > MaxBoundTensors || len(outputDescs) > MaxBoundTensors {
		return nil, rterr.New(rterr.InvalidParameter, "executor exceeds max bound tensor count %d", MaxBoundTensors)
	}
	return &Executor{
		prepared:    prepared,
		backendID:   backendID,
		inputDescs:  inputDescs,
		outputDescs: outputDescs,
		cfg:         cfg,
		schedClient: schedClient,
		runSem:      semaphore.NewWeighted(maxConcurrentAsyncRuns),
	}, nil
}

func (e *Executor) GetInputCount() int  { return len(e.inputDescs) }
func (e *Executor) GetOutputCount() int { return len(e.outputDescs) }

// CreateInputTensorDesc/CreateOutputTensorDesc return independent copies of
// the executor's templates — the executor owns no storage, only the
// templates (§4.4).
func (e *Executor) CreateInputTensorDesc(i int) (*tensor.TensorDesc, error) {
	if i < 0 || i >= len(e.inputDescs) {
		return nil, rterr.New(rterr.InvalidParameter, "input index %d out of range", i)
	}
	return e.inputDescs[i].Clone(), nil
}

func (e *Executor) CreateOutputTensorDesc(i int) (*tensor.TensorDesc, error) {
	if i < 0 || i >= len(e.outputDescs) {
		return nil, rterr.New(rterr.InvalidParameter, "output index %d out of range", i)
	}
	return e.outputDescs[i].Clone(), nil
}

// GetInputDimRange forwards to the PreparedModel; fixed axes report
// {dim, dim}, dynamic axes report real bounds (§4.4).
func (e *Executor) GetInputDimRange(i int) (min, max []int, err error) {
	if i < 0 || i >= len(e.inputDescs) {
		return nil, nil, rterr.New(rterr.InvalidParameter, "input index %d out of range", i)
	}
	mins, maxs, err := e.prepared.GetInputDimRanges()
	if err != nil {
		return nil, nil, rterr.New(rterr.Failed, "get input dim ranges: %v", err)
	}
	if i >= len(mins) {
		return nil, nil, rterr.New(rterr.InvalidParameter, "no dim range reported for input %d", i)
	}
	return mins[i], maxs[i], nil
}

// SetOnRunDone/SetOnServiceDied register completion callbacks. Last-wins;
// passing nil unregisters (§4.4).
func (e *Executor) SetOnRunDone(cb RunDoneFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onRunDone = cb
}

func (e *Executor) SetOnServiceDied(cb ServiceDiedFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onServiceDied = cb
}

// SetLatencyNeeded flips the per-run latency-measurement flag (cleared
// automatically after one RunSync reports it, §4.4 step 4).
func (e *Executor) SetLatencyNeeded(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.NeedLatency = v
}

// SetSchedulerModelID overrides the hiaiModelId half of the per-executor
// config map (§4.4). CreateExecutor seeds this from the compiler's own
// model ID; a caller with a real sibling scheduler assigning its own ID can
// replace it before the next run.
func (e *Executor) SetSchedulerModelID(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.SchedulerModelID = id
}

func (e *Executor) isUnavailable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unavailable
}

func (e *Executor) latchUnavailable() {
	e.mu.Lock()
	e.unavailable = true
	cb := e.onServiceDied
	e.mu.Unlock()
	if cb != nil {
		go cb(nil)
	}
}

func (e *Executor) validateBound(tensors []*tensor.Tensor, want int) error {
	if len(tensors) != want {
		return rterr.New(rterr.InvalidParameter, "expected %d tensors, got %d", want, len(tensors))
	}
	for _, t := range tensors {
		if t == nil {
			return rterr.New(rterr.NullPointer, "bound tensor is nil")
		}
		if t.BackendID() != int(e.backendID) {
			return rterr.New(rterr.InvalidParameter, "tensor bound to backend %d, executor expects %d", t.BackendID(), int(e.backendID))
		}
	}
	return nil
}

// RunSync implements §4.4's five-step synchronous run.
func (e *Executor) RunSync(inputs, outputs []*tensor.Tensor) (backend.RunOutcome, error) {
	if e.isUnavailable() {
		return backend.RunOutcome{}, rterr.New(rterr.UnavailableDevice, "executor is permanently unavailable after service death")
	}
	if err := e.validateBound(inputs, len(e.inputDescs)); err != nil {
		return backend.RunOutcome{}, err
	}
	if err := e.validateBound(outputs, len(e.outputDescs)); err != nil {
		return backend.RunOutcome{}, err
	}

	e.mu.Lock()
	needLatency := e.cfg.NeedLatency
	modelID := e.prepared.GetModelID()
	client := e.schedClient
	backendMap := e.cfg.ToBackendMap()
	e.mu.Unlock()

	if err := e.prepared.SetExtensionConfig(backendMap); err != nil {
		return backend.RunOutcome{}, rterr.New(rterr.Failed, "push extension config: %v", err)
	}

	var start time.Time
	if needLatency {
		start = time.Now()
	}

	outcome, err := e.prepared.Run(inputs, outputs)

	if needLatency {
		elapsed := time.Since(start)
		if client != nil {
			go client.ReportLatency(scheduler.LatencyReport{ModelID: modelID, Latency: elapsed, CorrelationID: uuid.New()})
		}
		e.mu.Lock()
		e.cfg.NeedLatency = false
		e.mu.Unlock()
	}

	if err != nil {
		status := rterr.StatusOf(err)
		if status == rterr.UnavailableDevice {
			e.latchUnavailable()
		}
		return backend.RunOutcome{}, err
	}
	return outcome, nil
}

// RunAsync dispatches to the backend's async-run entry. userData is opaque
// to the core and passed verbatim to onRunDone. Cancellation is
// cooperative: timeoutMs is the backend's responsibility (§4.4, §5).
// In-flight async runs per executor are bounded by runSem so a caller that
// never waits on completions cannot pile up unbounded backend work.
func (e *Executor) RunAsync(inputs, outputs []*tensor.Tensor, timeoutMs int, userData any) error {
	if e.isUnavailable() {
		return rterr.New(rterr.UnavailableDevice, "executor is permanently unavailable after service death")
	}
	if err := e.validateBound(inputs, len(e.inputDescs)); err != nil {
		return err
	}
	if err := e.validateBound(outputs, len(e.outputDescs)); err != nil {
		return err
	}

	if err := e.runSem.Acquire(context.Background(), 1); err != nil {
		return rterr.New(rterr.Failed, "acquire run slot: %v", err)
	}

	e.mu.Lock()
	cb := e.onRunDone
	needLatency := e.cfg.NeedLatency
	backendMap := e.cfg.ToBackendMap()
	if needLatency {
		e.cfg.NeedLatency = false
	}
	modelID := e.prepared.GetModelID()
	client := e.schedClient
	e.mu.Unlock()

	if err := e.prepared.SetExtensionConfig(backendMap); err != nil {
		e.runSem.Release(1)
		return rterr.New(rterr.Failed, "push extension config: %v", err)
	}

	correlationID := uuid.New()
	start := time.Now()

	err := e.prepared.RunAsync(inputs, outputs, timeoutMs, func(outcome backend.RunOutcome, runErr error) {
		defer e.runSem.Release(1)

		if needLatency && client != nil {
			go client.ReportLatency(scheduler.LatencyReport{ModelID: modelID, Latency: time.Since(start), CorrelationID: correlationID})
		}
		if runErr != nil && rterr.StatusOf(runErr) == rterr.UnavailableDevice {
			e.latchUnavailable()
			return
		}
		if cb != nil {
			cb(userData, outcome, runErr)
		}
	})
	if err != nil {
		e.runSem.Release(1)
		return rterr.New(rterr.Failed, "dispatch async run: %v", err)
	}
	return nil
}
