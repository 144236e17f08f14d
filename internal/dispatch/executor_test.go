package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/serverless-fanout/invoker/internal/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu          sync.Mutex
	invocations []job.Payload
	rejectFirst map[string]bool // call ID -> reject once
}

func (f *fakeBackend) GetRuntimeKey(runtimeName string, runtimeMemory int) string { return runtimeName }
func (f *fakeBackend) CreateRuntime(ctx context.Context, runtimeName string, runtimeMemory, runtimeTimeout int) (job.RuntimeMeta, error) {
	return job.RuntimeMeta{}, nil
}
func (f *fakeBackend) RunJob(ctx context.Context, payload job.StandalonePayload) error { return nil }

func (f *fakeBackend) Invoke(ctx context.Context, runtimeName string, runtimeMemory int, payload job.Payload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invocations = append(f.invocations, payload)
	if f.rejectFirst[payload.CallID] {
		f.rejectFirst[payload.CallID] = false
		return "", nil
	}
	return "act-" + payload.CallID, nil
}

func TestExecutor_DispatchesAllCalls(t *testing.T) {
	backend := &fakeBackend{}
	tokens := NewTokenBucket(4)
	queue := NewPendingQueue(4)
	exec := NewExecutor(backend, tokens, queue, 2, 4, nil)

	j := &job.Job{ExecutorID: "exec-1", JobID: "job-1", RuntimeName: "python3.11"}
	for i := 0; i < 3; i++ {
		require.NoError(t, queue.Push(context.Background(), Call{
			Job:       j,
			CallIndex: i,
			Payload:   job.NewPayload(j, i, time.Unix(0, 0)),
		}))
	}
	queue.CloseFor(2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	results := make([]Result, 0, 3)
	done := make(chan struct{})
	go func() {
		exec.Run(ctx)
		close(done)
	}()
	for r := range exec.Results {
		results = append(results, r)
	}
	<-done

	assert.Len(t, results, 3)
	for _, r := range results {
		assert.NoError(t, r.Err)
		assert.NotEmpty(t, r.ActivationID)
	}
}

func TestExecutor_RequeuesOnQuotaRejection(t *testing.T) {
	backend := &fakeBackend{rejectFirst: map[string]bool{"00000": true}}
	tokens := NewTokenBucket(2)
	queue := NewPendingQueue(4)
	exec := NewExecutor(backend, tokens, queue, 1, 2, nil)

	j := &job.Job{ExecutorID: "exec-1", JobID: "job-1", RuntimeName: "python3.11"}
	require.NoError(t, queue.Push(context.Background(), Call{
		Job:       j,
		CallIndex: 0,
		Payload:   job.NewPayload(j, 0, time.Unix(0, 0)),
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer func() {
		queue.CloseFor(1)
		cancel()
	}()

	go exec.Run(ctx)

	select {
	case r := <-exec.Results:
		assert.Equal(t, "act-00000", r.ActivationID)
	case <-time.After(7 * time.Second):
		t.Fatal("timed out waiting for requeued call to succeed")
	}
}
