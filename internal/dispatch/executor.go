package dispatch

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/serverless-fanout/invoker/internal/backend"
	"github.com/serverless-fanout/invoker/internal/logctx"
)

// Pool-sizing constants from spec.md §6, owned here since internal/dispatch
// is what actually consumes them; internal/config re-exports them, and no
// config key overrides them.
const (
	// InvokerProcesses is the default number of dispatcher-pool workers.
	InvokerProcesses = 2
	// MaxConcurrentPerWorker bounds concurrent in-flight invocations per
	// worker.
	MaxConcurrentPerWorker = 250
	// QuotaBackoffMax bounds the random delay before a quota-rejected
	// call is requeued.
	QuotaBackoffMax = 5 * time.Second
)

// Result reports the outcome of one dispatched call.
type Result struct {
	Call         Call
	ActivationID string
	Err          error
}

// Executor is the dispatcher pool (C6): Workers goroutines, each pulling
// a token then a pending call and invoking it, bounded to
// PerWorkerConcurrency concurrent in-flight invocations — the Go
// collapse of the Python invoker's per-process thread pool, sanctioned by
// spec.md §9.
type Executor struct {
	Backend              backend.Backend
	Tokens               *TokenBucket
	Queue                *PendingQueue
	Workers              int
	PerWorkerConcurrency int
	Logger               *zap.Logger

	// Results receives one Result per dispatched call. The caller (the
	// invoker facade) drains it and never closes it; Executor closes it
	// once every worker has exited.
	Results chan Result
}

// NewExecutor wires tokensAvailableFunc to tokens and sets the
// max-in-flight gauge, mirroring the teacher's New().
func NewExecutor(b backend.Backend, tokens *TokenBucket, queue *PendingQueue, workers, perWorkerConcurrency int, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxInFlightGauge.Set(float64(tokens.Len()))
	tokensAvailableFunc = tokens.Len
	return &Executor{
		Backend:              b,
		Tokens:               tokens,
		Queue:                queue,
		Workers:              workers,
		PerWorkerConcurrency: perWorkerConcurrency,
		Logger:               logger,
		Results:              make(chan Result, perWorkerConcurrency*workers),
	}
}

// Run starts Workers goroutines and blocks until they all exit — either
// because ctx was cancelled or because the queue was closed with
// CloseFor(Workers). It closes Results before returning.
func (e *Executor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < e.Workers; i++ {
		wg.Add(1)
		go e.worker(ctx, &wg)
	}
	wg.Wait()
	close(e.Results)
}

func (e *Executor) worker(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	sem := make(chan struct{}, e.PerWorkerConcurrency)
	var inFlight sync.WaitGroup

	for {
		start := time.Now()
		if err := e.Tokens.Take(ctx); err != nil {
			break
		}
		tokenWaitDurationHistogram.Observe(time.Since(start).Seconds())

		call, ok := e.Queue.Pop(ctx)
		if !ok {
			e.Tokens.TryPut()
			break
		}

		sem <- struct{}{}
		inFlight.Add(1)
		go func(c Call) {
			defer inFlight.Done()
			defer func() { <-sem }()
			e.Invoke(ctx, c)
		}(call)
	}
	inFlight.Wait()
}

// Invoke runs call against Backend, routing the outcome: success and hard
// errors are sent to Results; a quota rejection (empty activation ID) is
// absorbed here — requeued with a remínted token after the spec's [0,5]s
// backoff — with nothing sent to Results for that attempt, matching the
// Python invoker's `_invoke`, which this method is shared by both the
// dispatcher pool's workers and the invoker facade's direct-burst path.
func (e *Executor) Invoke(ctx context.Context, call Call) {
	fields := logctx.Call(call.Job.ExecutorID, call.Job.JobID, call.Payload.CallID)

	activationID, err := e.Backend.Invoke(ctx, call.Job.RuntimeName, call.Job.RuntimeMemory, call.Payload)
	if err != nil {
		invokeErrorCounter.Inc()
		e.Logger.Error("invoke failed", append(fields, zap.Error(err))...)
		e.Tokens.TryPut()
		e.Results <- Result{Call: call, Err: err}
		return
	}

	if activationID == "" {
		quotaRejectedCounter.Inc()
		backoff := time.Duration(rand.IntN(int(QuotaBackoffMax/time.Second)+1)) * time.Second
		e.Logger.Debug("quota rejected, requeuing", append(fields, zap.Duration("backoff", backoff))...)

		timer := time.NewTimer(backoff)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}

		// Requeue the call and remint its token — mirrors the Python
		// invoker's requeue-then-put-token-back order exactly; the token
		// is picked up by whichever worker's next loop iteration gets to
		// it, not necessarily this one.
		if err := e.Queue.Push(ctx, call); err == nil {
			e.Tokens.TryPut()
		}
		return
	}

	invokedCounter.Inc()
	e.Logger.Debug("invoked", append(fields, zap.String("activation_id", activationID))...)
	e.Results <- Result{Call: call, ActivationID: activationID}
}
