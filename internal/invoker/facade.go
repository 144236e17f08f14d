// Package invoker implements the invoker facade (spec.md C8): the single
// entry point that admits a job, selects its runtime, and either
// dispatches it directly/through the shared dispatcher pool or delegates
// it whole to a remote invoker activation.
package invoker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"sigs.k8s.io/controller-runtime/pkg/manager"

	"github.com/serverless-fanout/invoker/internal/backend"
	"github.com/serverless-fanout/invoker/internal/dispatch"
	"github.com/serverless-fanout/invoker/internal/job"
	"github.com/serverless-fanout/invoker/internal/logctx"
	"github.com/serverless-fanout/invoker/internal/monitor"
	"github.com/serverless-fanout/invoker/internal/runtime"
)

// RemoteInvokerMemory is the runtime memory (MB) used to select a runtime
// for the single remote-invoker activation (spec.md §6).
const RemoteInvokerMemory = 2048

// RemoteInvokerFanout is the embedded dispatcher fan-out the spec's
// remote-invoker payload advertises to the remote activation.
const RemoteInvokerFanout = 4

// remoteInvokerSettleDelay is slept after handing the remote-invoker
// payload to the backend, so a caller's first log lines from the
// just-spawned activation interleave sanely with ours — kept from the
// original Python invoker's 0.1s sleep rather than dropped as a bare
// magic number (see SUPPLEMENTED FEATURES).
const remoteInvokerSettleDelay = 100 * time.Millisecond

// Facade is the invocation core's single entry point (spec.md C8). One
// Facade owns one shared dispatcher pool and job monitor across however
// many Run calls are made against it, until Stop retires it for good.
type Facade struct {
	backend         backend.Backend
	selector        *runtime.Selector
	monitor         *monitor.Monitor
	logger          *zap.Logger
	languageVersion string

	workers int

	tokens   *dispatch.TokenBucket
	queue    *dispatch.PendingQueue
	executor *dispatch.Executor

	// ongoingActivations approximates spec.md §4.5's `ongoing_activations`:
	// the number of direct-burst calls dispatched but not yet known to
	// have completed. It is reset to 0 only when Run first starts the
	// dispatcher pool, incremented by each Run's direct-burst size, and
	// decremented by Drain when a stale completion token surfaces.
	ongoingActivations atomic.Int32

	running atomic.Bool
	stopped atomic.Bool
	cancel  context.CancelFunc
	execWG  sync.WaitGroup
}

// New builds a Facade with a dispatch pool sized to workers tokens
// (spec.md §6's `lithops.workers`). languageVersion is this process's
// local interpreter/ABI version string (spec.md §4.1 step 4); an empty
// string skips the runtime-compatibility check entirely.
func New(b backend.Backend, sel *runtime.Selector, mon *monitor.Monitor, workers int, languageVersion string, logger *zap.Logger) *Facade {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = 1
	}
	tokens := dispatch.NewTokenBucket(workers)
	queue := dispatch.NewPendingQueue(workers * 4)
	return &Facade{
		backend:         b,
		selector:        sel,
		monitor:         mon,
		logger:          logger,
		languageVersion: languageVersion,
		workers:         workers,
		tokens:          tokens,
		queue:           queue,
		executor:        dispatch.NewExecutor(b, tokens, queue, dispatch.InvokerProcesses, dispatch.MaxConcurrentPerWorker, logger),
	}
}

// InvokerProcesses default, re-exported here for callers building a
// Facade without reaching into internal/dispatch directly.
const InvokerProcesses = dispatch.InvokerProcesses

var _ manager.Runnable = (*Facade)(nil)

// start lazily starts the shared dispatcher pool; it is idempotent and
// safe to call from every Run. The pool keeps ctx's values but not its
// cancellation: it runs until Stop, not until the first Run's ctx ends.
func (f *Facade) start(ctx context.Context) {
	if !f.running.CompareAndSwap(false, true) {
		return
	}
	f.ongoingActivations.Store(0)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f.cancel = cancel
	f.execWG.Add(1)
	go func() {
		defer f.execWG.Done()
		f.executor.Run(runCtx)
	}()
	go func() {
		for range f.executor.Results {
			// Drained here purely to keep the channel from filling;
			// per-call outcomes are not this core's concern (spec.md §7).
		}
	}()
}

// Run admits job, resolves its runtime, and dispatches its calls,
// returning one Future per call. It waits for the direct-burst Invoke
// calls to return. Calls beyond the direct burst are pushed onto the
// pending queue, which holds 4×workers calls; while it is full, Run waits
// for dispatchers to take calls off it, which happens only as completion
// tokens arrive for earlier calls.
func (f *Facade) Run(ctx context.Context, j *job.Job) ([]*Future, error) {
	if f.stopped.Load() {
		return nil, ErrFacadeStopped
	}
	if err := j.Validate(); err != nil {
		return nil, fmt.Errorf("invoker: %w", err)
	}

	fields := logctx.Job(j.ExecutorID, j.JobID)

	// Drain stale tokens (spec.md §4.5 step 2): a non-blocking drain of
	// the Token Bucket reconciles ongoingActivations if a prior job's
	// completions over-minted tokens still sitting in the bucket.
	if drained := f.tokens.Drain(); drained > 0 {
		f.ongoingActivations.Add(-int32(drained))
	}

	if j.RemoteInvoker {
		return f.runRemote(ctx, j, fields)
	}

	if _, err := f.selector.Select(ctx, j.ExecutorID, j.JobID, j.RuntimeName, j.RuntimeMemory, int(j.RuntimeTimeout.Seconds()), f.languageVersion); err != nil {
		return nil, err
	}

	f.start(ctx)
	f.monitor.Watch(ctx, j.ExecutorID, j.JobID, j.TotalCalls, f.tokens)

	now := time.Now()
	futures := make([]*Future, j.TotalCalls)

	// direct = max(0, workers - ongoing_activations) (spec.md §4.5 step
	// 4b). These calls are submitted straight to the short-lived burst
	// executor below, without ever touching the Token Bucket — the
	// initial worker budget, not gated by completion tokens.
	direct := f.workers - int(f.ongoingActivations.Load())
	if direct < 0 {
		direct = 0
	}
	if direct > j.TotalCalls {
		direct = j.TotalCalls
	}
	f.ongoingActivations.Add(int32(direct))

	var directWG sync.WaitGroup
	poolThreads := j.InvokePoolThreads
	if poolThreads <= 0 {
		poolThreads = 1
	}
	sem := make(chan struct{}, poolThreads)

	for i := 0; i < direct; i++ {
		call := dispatch.Call{Job: j, CallIndex: i, Payload: job.NewPayload(j, i, now)}
		futures[i] = &Future{ExecutorID: j.ExecutorID, JobID: j.JobID, CallID: job.CallID(i), State: Invoked}

		directWG.Add(1)
		sem <- struct{}{}
		go func(c dispatch.Call) {
			defer directWG.Done()
			defer func() { <-sem }()
			f.executor.Invoke(ctx, c)
		}(call)
	}
	directWG.Wait()

	for i := direct; i < j.TotalCalls; i++ {
		call := dispatch.Call{Job: j, CallIndex: i, Payload: job.NewPayload(j, i, now)}
		if err := f.queue.Push(ctx, call); err != nil {
			return nil, fmt.Errorf("invoker: enqueue call %d: %w", i, err)
		}
		futures[i] = &Future{ExecutorID: j.ExecutorID, JobID: j.JobID, CallID: job.CallID(i), State: Invoked}
	}

	f.logger.Info("job dispatched", append(fields,
		zap.Int("total_calls", j.TotalCalls),
		zap.Int("direct", direct),
		zap.Int("queued", j.TotalCalls-direct))...)

	return futures, nil
}

func (f *Facade) runRemote(ctx context.Context, j *job.Job, fields []zap.Field) ([]*Future, error) {
	if _, err := f.selector.Select(ctx, j.ExecutorID, j.JobID, j.RuntimeName, RemoteInvokerMemory, int(j.RuntimeTimeout.Seconds()), f.languageVersion); err != nil {
		return nil, err
	}

	remotePayload := job.RemoteInvokerPayload{
		ExecutorID:     j.ExecutorID,
		JobID:          j.JobID,
		JobDescription: j,
		RemoteInvoker:  true,
		Invokers:       RemoteInvokerFanout,
	}
	encoded, err := json.Marshal(remotePayload)
	if err != nil {
		return nil, fmt.Errorf("invoker: marshal remote invoker payload: %w", err)
	}

	payload := job.Payload{
		ExecutorID:     j.ExecutorID,
		JobID:          j.JobID,
		CallID:         job.CallID(0),
		RuntimeName:    j.RuntimeName,
		RuntimeMemory:  RemoteInvokerMemory,
		RuntimeTimeout: j.RuntimeTimeout,
		ExtraEnv:       map[string]string{"REMOTE_INVOKER_PAYLOAD": string(encoded)},
	}

	activationID, err := f.backend.Invoke(ctx, j.RuntimeName, RemoteInvokerMemory, payload)
	if err != nil {
		return nil, fmt.Errorf("invoker: remote invoker invoke: %w", err)
	}
	if activationID == "" {
		return nil, ErrRemoteInvokerSpawnFailed
	}

	time.Sleep(remoteInvokerSettleDelay)
	f.logger.Info("remote invoker dispatched", append(fields,
		zap.String("activation_id", activationID),
		zap.Int("total_calls", j.TotalCalls))...)

	futures := make([]*Future, j.TotalCalls)
	for i := range futures {
		futures[i] = &Future{ExecutorID: j.ExecutorID, JobID: j.JobID, CallID: job.CallID(i), State: Invoked}
	}
	return futures, nil
}

// Stop retires the facade for good: it cancels the shared dispatcher
// pool's context and waits for every worker to exit. A subsequent Run
// returns ErrFacadeStopped.
func (f *Facade) Stop() {
	if !f.stopped.CompareAndSwap(false, true) {
		return
	}
	if f.cancel != nil {
		f.queue.CloseFor(dispatch.InvokerProcesses)
		f.cancel()
	}
	f.execWG.Wait()
}

// Start implements sigs.k8s.io/controller-runtime's manager.Runnable: it
// blocks until ctx is done, then stops the facade. cmd/invokerctl's serve
// calls it directly; a caller that runs a controller-runtime Manager can
// pass the Facade to mgr.Add instead.
func (f *Facade) Start(ctx context.Context) error {
	<-ctx.Done()
	f.Stop()
	return nil
}
