// Package monitor implements the job monitor (spec.md C7): it watches a
// running job for call completions and mints one dispatch token per call
// that finishes, in either of two modes grounded on the Python invoker's
// JobMonitor class (_job_monitoring_os / _job_monitoring_rabbitmq).
package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/serverless-fanout/invoker/internal/bus"
	"github.com/serverless-fanout/invoker/internal/dispatch"
	"github.com/serverless-fanout/invoker/internal/logctx"
	"github.com/serverless-fanout/invoker/internal/store"
)

// PollInterval is the storage-polling tick rate (spec.md §6).
const PollInterval = time.Second

type state int32

const (
	stateStarted state = iota
	stateObserving
	stateDrained
	stateStopped
)

// Monitor tracks in-flight jobs and mints tokens back into a TokenBucket
// as calls finish, either via storage polling or a message bus.
type Monitor struct {
	store  store.Store
	bus    bus.MessageBus
	logger *zap.Logger

	useBus bool

	mu     sync.Mutex
	active map[string]*jobWatch
}

type jobWatch struct {
	executorID, jobID string
	tokens            *dispatch.TokenBucket
	totalCalls        int
	seen              map[string]struct{}
	state             atomic.Int32
	sub               bus.Subscription
}

// New builds a Monitor. useBus selects message-bus mode over
// storage-polling mode, matching config.Config.Lithops.RabbitMQMonitor.
func New(s store.Store, b bus.MessageBus, useBus bool, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	activeJobsGaugeFunc = func() int {
		return 0 // overwritten below once the first Monitor is built
	}
	m := &Monitor{store: s, bus: b, useBus: useBus, logger: logger, active: make(map[string]*jobWatch)}
	activeJobsGaugeFunc = m.ActiveJobs
	return m
}

// ActiveJobs returns the count of jobs currently being monitored.
func (m *Monitor) ActiveJobs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Watch begins monitoring (executorID, jobID) for completions, minting a
// token into tokens per call that finishes, until totalCalls calls have
// finished or ctx is done.
func (m *Monitor) Watch(ctx context.Context, executorID, jobID string, totalCalls int, tokens *dispatch.TokenBucket) {
	w := &jobWatch{
		executorID: executorID,
		jobID:      jobID,
		tokens:     tokens,
		totalCalls: totalCalls,
		seen:       make(map[string]struct{}),
	}
	w.state.Store(int32(stateStarted))

	m.mu.Lock()
	m.active[jobKey(executorID, jobID)] = w
	m.mu.Unlock()

	w.state.Store(int32(stateObserving))
	if m.useBus && m.bus != nil {
		go m.watchBus(ctx, w)
	} else {
		go m.watchStore(ctx, w)
	}
}

func (m *Monitor) finish(w *jobWatch, reason state) {
	w.state.Store(int32(reason))
	m.mu.Lock()
	delete(m.active, jobKey(w.executorID, w.jobID))
	m.mu.Unlock()
	if w.sub != nil {
		_ = w.sub.Unsubscribe()
	}
}

func (m *Monitor) watchStore(ctx context.Context, w *jobWatch) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	fields := logctx.Job(w.executorID, w.jobID)
	for {
		select {
		case <-ctx.Done():
			m.finish(w, stateStopped)
			return
		case <-ticker.C:
			start := time.Now()
			statusQueryCounter.Inc()
			_, done, err := m.store.GetJobStatus(ctx, w.executorID, w.jobID)
			statusQueryDurationHistogram.Observe(time.Since(start).Seconds())
			if err != nil {
				statusQueryErrorCounter.Inc()
				m.logger.Warn("job status query failed", append(fields, zap.Error(err))...)
				continue
			}

			newlyDone := 0
			for _, callID := range done {
				if _, ok := w.seen[callID]; !ok {
					w.seen[callID] = struct{}{}
					newlyDone++
				}
			}
			if newlyDone > 0 {
				callsCompletedCounter.Add(float64(newlyDone))
				for i := 0; i < newlyDone; i++ {
					w.tokens.TryPut()
				}
			}

			if len(w.seen) >= w.totalCalls {
				m.finish(w, stateDrained)
				return
			}
		}
	}
}

func (m *Monitor) watchBus(ctx context.Context, w *jobWatch) {
	fields := logctx.Job(w.executorID, w.jobID)
	done := make(chan struct{})

	sub, err := m.bus.Subscribe(ctx, bus.CompletionSubject(w.executorID, w.jobID), func(msg *bus.Message) {
		busMessagesCounter.Inc()
		var payload struct {
			Type   string `json:"type"`
			CallID string `json:"call_id"`
		}
		if jsonErr := json.Unmarshal(msg.Data, &payload); jsonErr != nil {
			m.logger.Warn("malformed completion message", append(fields, zap.Error(jsonErr))...)
			return
		}
		if payload.Type != bus.EndMessageType {
			return
		}

		m.mu.Lock()
		if _, seen := w.seen[payload.CallID]; !seen {
			w.seen[payload.CallID] = struct{}{}
			w.tokens.TryPut()
			callsCompletedCounter.Inc()
		}
		drained := len(w.seen) >= w.totalCalls
		m.mu.Unlock()

		if drained {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})
	if err != nil {
		m.logger.Error("bus subscribe failed", append(fields, zap.Error(err))...)
		m.finish(w, stateStopped)
		return
	}
	w.sub = sub

	select {
	case <-ctx.Done():
		m.finish(w, stateStopped)
	case <-done:
		m.finish(w, stateDrained)
	}
}

func jobKey(executorID, jobID string) string {
	return executorID + "/" + jobID
}
