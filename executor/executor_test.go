package executor

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnrt/core/backend"
	"github.com/nnrt/core/rterr"
	"github.com/nnrt/core/scheduler"
	"github.com/nnrt/core/tensor"
)

// fakePrepared is a minimal backend.PreparedModel stub for exercising the
// Executor's binding and dispatch logic in isolation from any real backend.
type fakePrepared struct {
	mu         sync.Mutex
	runErr     error
	runCalls   int
	modelID    uint32
	sleep      time.Duration
	failAsync  bool
	extConfigs []map[string][]byte
}

func (p *fakePrepared) Run(inputs, outputs []*tensor.Tensor) (backend.RunOutcome, error) {
	p.mu.Lock()
	p.runCalls++
	p.mu.Unlock()
	if p.sleep > 0 {
		time.Sleep(p.sleep)
	}
	if p.runErr != nil {
		return backend.RunOutcome{}, p.runErr
	}
	return backend.RunOutcome{OutputShapes: [][]int{{1}}, EnoughBuffer: []bool{true}}, nil
}

func (p *fakePrepared) RunAsync(inputs, outputs []*tensor.Tensor, timeoutMs int, onDone func(backend.RunOutcome, error)) error {
	if p.failAsync {
		return rterr.New(rterr.Failed, "dispatch refused")
	}
	go func() {
		outcome, err := p.Run(inputs, outputs)
		onDone(outcome, err)
	}()
	return nil
}

func (p *fakePrepared) ExportModelCache() ([][]byte, error) { return [][]byte{{1}}, nil }
func (p *fakePrepared) GetModelID() uint32                  { return p.modelID }
func (p *fakePrepared) GetInputDimRanges() (min, max [][]int, err error) {
	return [][]int{{1}}, [][]int{{1}}, nil
}
func (p *fakePrepared) GetOutputDimRanges() (min, max [][]int, err error) {
	return [][]int{{1}}, [][]int{{1}}, nil
}
func (p *fakePrepared) SetExtensionConfig(config map[string][]byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.extConfigs = append(p.extConfigs, config)
	return nil
}
func (p *fakePrepared) ReleaseBuiltModel() {}

type fakeAllocator struct{}

func (fakeAllocator) AllocateBuffer(size uint64) (int, error) {
	f, err := os.CreateTemp("", "nnrt-exec-test-*")
	if err != nil {
		return 0, err
	}
	if err := f.Truncate(int64(size)); err != nil {
		return 0, err
	}
	return int(f.Fd()), nil
}

func (fakeAllocator) ReleaseBuffer(fd int, size uint64) error { return nil }

func scalarDesc() *tensor.TensorDesc {
	d := tensor.CreateDesc()
	d.SetDType(tensor.DTypeFloat32)
	_ = d.SetShape([]int{1})
	return d
}

func newTestExecutor(t *testing.T, p backend.PreparedModel) *Executor {
	t.Helper()
	ex, err := New(p, backend.DeviceID(0), []*tensor.TensorDesc{scalarDesc(), scalarDesc()}, []*tensor.TensorDesc{scalarDesc()}, Config{}, nil)
	require.NoError(t, err)
	return ex
}

func boundTensors(t *testing.T, n int) []*tensor.Tensor {
	t.Helper()
	out := make([]*tensor.Tensor, n)
	for i := range out {
		tn, err := tensor.CreateTensor(0, scalarDesc(), fakeAllocator{})
		require.NoError(t, err)
		require.NoError(t, tn.AllocateStorage(0))
		out[i] = tn
	}
	return out
}

func TestExecutorCountsAndDescTemplates(t *testing.T) {
	ex := newTestExecutor(t, &fakePrepared{})
	assert.Equal(t, 2, ex.GetInputCount())
	assert.Equal(t, 1, ex.GetOutputCount())

	d, err := ex.CreateInputTensorDesc(0)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, d.Shape())

	_, err = ex.CreateInputTensorDesc(5)
	require.Error(t, err)
}

func TestRunSyncHappyPath(t *testing.T) {
	ex := newTestExecutor(t, &fakePrepared{modelID: 7})
	outcome, err := ex.RunSync(boundTensors(t, 2), boundTensors(t, 1))
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1}}, outcome.OutputShapes)
}

func TestRunSyncRejectsWrongInputCount(t *testing.T) {
	ex := newTestExecutor(t, &fakePrepared{})
	_, err := ex.RunSync(boundTensors(t, 1), boundTensors(t, 1))
	require.Error(t, err)
	assert.Equal(t, rterr.InvalidParameter, rterr.StatusOf(err))
}

func TestRunSyncLatchesUnavailableOnDeviceError(t *testing.T) {
	p := &fakePrepared{runErr: rterr.New(rterr.UnavailableDevice, "device gone")}
	ex := newTestExecutor(t, p)

	var died bool
	var mu sync.Mutex
	done := make(chan struct{})
	ex.SetOnServiceDied(func(userData any) {
		mu.Lock()
		died = true
		mu.Unlock()
		close(done)
	})

	_, err := ex.RunSync(boundTensors(t, 2), boundTensors(t, 1))
	require.Error(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onServiceDied was not invoked")
	}
	mu.Lock()
	assert.True(t, died)
	mu.Unlock()

	_, err = ex.RunSync(boundTensors(t, 2), boundTensors(t, 1))
	require.Error(t, err)
	assert.Equal(t, rterr.UnavailableDevice, rterr.StatusOf(err))
}

func TestRunAsyncInvokesCallbackWithUserData(t *testing.T) {
	ex := newTestExecutor(t, &fakePrepared{modelID: 3})

	type result struct {
		userData any
		outcome  backend.RunOutcome
		err      error
	}
	results := make(chan result, 1)
	ex.SetOnRunDone(func(userData any, outcome backend.RunOutcome, err error) {
		results <- result{userData, outcome, err}
	})

	err := ex.RunAsync(boundTensors(t, 2), boundTensors(t, 1), 1000, "token-42")
	require.NoError(t, err)

	select {
	case r := <-results:
		assert.Equal(t, "token-42", r.userData)
		require.NoError(t, r.err)
		assert.Equal(t, [][]int{{1}}, r.outcome.OutputShapes)
	case <-time.After(time.Second):
		t.Fatal("onRunDone was not invoked")
	}
}

func TestRunAsyncDispatchFailureReturnsError(t *testing.T) {
	ex := newTestExecutor(t, &fakePrepared{failAsync: true})
	err := ex.RunAsync(boundTensors(t, 2), boundTensors(t, 1), 1000, nil)
	require.Error(t, err)
}

func TestLatencyNeededReportsAndClearsItself(t *testing.T) {
	client := scheduler.NewLocalClient(false)
	ex, err := New(&fakePrepared{modelID: 9}, backend.DeviceID(0), []*tensor.TensorDesc{scalarDesc(), scalarDesc()}, []*tensor.TensorDesc{scalarDesc()}, Config{}, client)
	require.NoError(t, err)

	ex.SetLatencyNeeded(true)
	_, err = ex.RunSync(boundTensors(t, 2), boundTensors(t, 1))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(client.Reports()) == 1
	}, time.Second, 10*time.Millisecond)

	assert.False(t, ex.cfg.NeedLatency)
}

func TestExecutorRejectsTensorBoundToWrongBackend(t *testing.T) {
	ex := newTestExecutor(t, &fakePrepared{})
	mismatched, err := tensor.CreateTensor(99, scalarDesc(), fakeAllocator{})
	require.NoError(t, err)
	require.NoError(t, mismatched.AllocateStorage(0))

	_, err = ex.RunSync([]*tensor.Tensor{mismatched, mismatched}, boundTensors(t, 1))
	require.Error(t, err)
}

func TestNewRejectsNilPreparedModel(t *testing.T) {
	_, err := New(nil, backend.DeviceID(0), nil, nil, Config{}, nil)
	require.Error(t, err)
}
