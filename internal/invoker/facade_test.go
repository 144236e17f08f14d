package invoker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/serverless-fanout/invoker/internal/backend"
	"github.com/serverless-fanout/invoker/internal/job"
	"github.com/serverless-fanout/invoker/internal/monitor"
	"github.com/serverless-fanout/invoker/internal/runtime"
	"github.com/serverless-fanout/invoker/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is a backend.Backend whose Invoke can be scripted to reject
// the first N attempts per call before succeeding, and that reports every
// successful activation ID it hands out for uniqueness checks.
type fakeBackend struct {
	mu           sync.Mutex
	meta         job.RuntimeMeta
	rejectsLeft  map[string]int
	activationID atomic.Int64
	invocations  int
	createCalls  int
	distinctIDs  map[string]struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		meta:        job.RuntimeMeta{LanguageVersion: "3.11"},
		rejectsLeft: make(map[string]int),
		distinctIDs: make(map[string]struct{}),
	}
}

func (f *fakeBackend) GetRuntimeKey(runtimeName string, runtimeMemory int) string {
	return runtimeName
}

func (f *fakeBackend) CreateRuntime(ctx context.Context, runtimeName string, runtimeMemory, runtimeTimeout int) (job.RuntimeMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	return f.meta, nil
}

func (f *fakeBackend) RunJob(ctx context.Context, payload job.StandalonePayload) error { return nil }

func (f *fakeBackend) Invoke(ctx context.Context, runtimeName string, runtimeMemory int, payload job.Payload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invocations++
	if left := f.rejectsLeft[payload.CallID]; left > 0 {
		f.rejectsLeft[payload.CallID] = left - 1
		return "", nil
	}
	id := f.activationID.Add(1)
	activationID := time.Now().Format("150405.000000") + "-" + payload.CallID + "-" + itoa(int(id))
	f.distinctIDs[activationID] = struct{}{}
	return activationID, nil
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := []byte{}
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}

func newTestFacade(t *testing.T, b backend.Backend, workers int) (*Facade, *memstore.Store) {
	t.Helper()
	return newTestFacadeWithVersion(t, b, workers, "")
}

func newTestFacadeWithVersion(t *testing.T, b backend.Backend, workers int, expectedLanguageVersion string) (*Facade, *memstore.Store) {
	t.Helper()
	s := memstore.New()
	sel := runtime.New(b, s, nil)
	mon := monitor.New(s, nil, false, nil)
	return New(b, sel, mon, workers, expectedLanguageVersion, nil), s
}

func testJob(executorID, jobID string, totalCalls int) *job.Job {
	ranges := make([]job.ByteRange, totalCalls)
	for i := range ranges {
		ranges[i] = job.ByteRange{Start: int64(i), End: int64(i + 1)}
	}
	return &job.Job{
		ExecutorID:        executorID,
		JobID:             jobID,
		FunctionName:      "fn",
		TotalCalls:        totalCalls,
		RuntimeName:       "python3.11",
		RuntimeMemory:     256,
		RuntimeTimeout:    60 * time.Second,
		ExecutionTimeout:  30 * time.Second,
		FuncKey:           "func-key",
		DataKey:           "data-key",
		DataRanges:        ranges,
		InvokePoolThreads: 8,
	}
}

// S1: burst fits budget.
func TestRun_S1_BurstFitsBudget(t *testing.T) {
	b := newFakeBackend()
	f, _ := newTestFacade(t, b, 10)
	defer f.Stop()

	futures, err := f.Run(context.Background(), testJob("exec-1", "job-1", 5))
	require.NoError(t, err)
	assert.Len(t, futures, 5)
	assert.Equal(t, "00000", futures[0].CallID)
	assert.Equal(t, "00004", futures[4].CallID)
}

// S2: overflow — 4 direct, 6 enqueued, CallIDs in order 00000..00009.
func TestRun_S2_Overflow(t *testing.T) {
	b := newFakeBackend()
	f, _ := newTestFacade(t, b, 4)
	defer f.Stop()

	futures, err := f.Run(context.Background(), testJob("exec-1", "job-1", 10))
	require.NoError(t, err)
	require.Len(t, futures, 10)
	for i, fut := range futures {
		assert.Equal(t, job.CallID(i), fut.CallID)
	}
}

// S3: quota storm — backend rejects first attempts then succeeds; all
// calls eventually get a distinct activation ID.
func TestRun_S3_QuotaStorm(t *testing.T) {
	b := newFakeBackend()
	b.rejectsLeft["00000"] = 2
	b.rejectsLeft["00001"] = 1
	b.rejectsLeft["00002"] = 1

	f, s := newTestFacade(t, b, 2)
	defer f.Stop()

	futures, err := f.Run(context.Background(), testJob("exec-1", "job-1", 3))
	require.NoError(t, err)
	require.Len(t, futures, 3)

	for i := 0; i < 3; i++ {
		s.MarkDone("exec-1", "job-1", job.CallID(i))
	}

	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.distinctIDs) == 3
	}, 10*time.Second, 50*time.Millisecond)
}

// S4: runtime install — create_runtime called once per distinct key.
func TestRun_S4_RuntimeInstallOnce(t *testing.T) {
	b := newFakeBackend()
	f, _ := newTestFacade(t, b, 5)
	defer f.Stop()

	_, err := f.Run(context.Background(), testJob("exec-1", "job-1", 2))
	require.NoError(t, err)
	_, err = f.Run(context.Background(), testJob("exec-1", "job-2", 2))
	require.NoError(t, err)

	// Both jobs share runtime key "python3.11"; CreateRuntime must not be
	// re-invoked on the second Run since the metadata store now has it
	// cached.
	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, 1, b.createCalls)
}

// S5: version mismatch — Run returns ErrRuntimeIncompatible, no futures.
func TestRun_S5_VersionMismatch(t *testing.T) {
	b := newFakeBackend()
	b.meta = job.RuntimeMeta{LanguageVersion: "3.9"}

	f, _ := newTestFacadeWithVersion(t, b, 5, "3.11")
	defer f.Stop()

	futures, err := f.Run(context.Background(), testJob("exec-1", "job-1", 2))
	assert.ErrorIs(t, err, runtime.ErrRuntimeIncompatible)
	assert.Nil(t, futures)
}

// S6: remote-invoker branch — exactly one backend.Invoke call, no
// enqueues, monitor never watches this job, 100 futures returned.
func TestRun_S6_RemoteInvoker(t *testing.T) {
	b := newFakeBackend()
	f, _ := newTestFacade(t, b, 5)
	defer f.Stop()

	j := testJob("exec-1", "job-1", 100)
	j.RemoteInvoker = true

	futures, err := f.Run(context.Background(), j)
	require.NoError(t, err)
	require.Len(t, futures, 100)
	assert.Equal(t, 1, b.invocations)
	assert.Equal(t, 0, f.monitor.ActiveJobs())
}

// Invariant 6: CallID formatting.
func TestCallID_Ordering(t *testing.T) {
	assert.Equal(t, "00000", job.CallID(0))
	assert.Equal(t, "00099", job.CallID(99))
}

// Stop is idempotent and a subsequent Run returns ErrFacadeStopped.
func TestStop_ThenRunReturnsErrFacadeStopped(t *testing.T) {
	b := newFakeBackend()
	f, _ := newTestFacade(t, b, 2)

	_, err := f.Run(context.Background(), testJob("exec-1", "job-1", 1))
	require.NoError(t, err)

	f.Stop()
	f.Stop() // idempotent

	_, err = f.Run(context.Background(), testJob("exec-1", "job-2", 1))
	assert.ErrorIs(t, err, ErrFacadeStopped)
}
