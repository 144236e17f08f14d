package dispatch

import (
	"context"

	"github.com/serverless-fanout/invoker/internal/job"
)

// Call is one call awaiting dispatch: the job it belongs to, its index,
// and the payload snapshot already built for it.
type Call struct {
	Job       *job.Job
	CallIndex int
	Payload   job.Payload
}

// zeroCall is the sentinel pushed onto a PendingQueue to wake and retire
// a worker during shutdown, mirroring the Python invoker's `'#'`/`(None,
// None)` sentinel push.
var zeroCall = Call{}

// IsSentinel reports whether c is the shutdown sentinel.
func (c Call) IsSentinel() bool {
	return c.Job == nil
}

// PendingQueue is the bounded channel of calls waiting for a token to
// become available (spec.md C5).
type PendingQueue struct {
	ch chan Call
}

// NewPendingQueue returns a queue with room for capacity pending calls.
func NewPendingQueue(capacity int) *PendingQueue {
	return &PendingQueue{ch: make(chan Call, capacity)}
}

// Push enqueues call, blocking until there is room or ctx is done.
func (q *PendingQueue) Push(ctx context.Context, call Call) error {
	select {
	case q.ch <- call:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// Pop blocks for the next call, returning ok=false if it was the shutdown
// sentinel or ctx ended first.
func (q *PendingQueue) Pop(ctx context.Context) (Call, bool) {
	select {
	case call := <-q.ch:
		if call.IsSentinel() {
			return Call{}, false
		}
		return call, true
	case <-ctx.Done():
		return Call{}, false
	}
}

// CloseFor pushes n shutdown sentinels, one per worker, so every worker
// blocked in Pop wakes up and exits even if the queue is otherwise empty.
func (q *PendingQueue) CloseFor(n int) {
	for range n {
		q.ch <- zeroCall
	}
}

// Len reports the number of calls currently buffered.
func (q *PendingQueue) Len() int {
	return len(q.ch)
}
