// Package memstore is an in-memory store.Store used by tests and
// single-process demos.
package memstore

import (
	"context"
	"sync"

	"github.com/serverless-fanout/invoker/internal/job"
	"github.com/serverless-fanout/invoker/internal/store"
)

// Store is a map-backed store.Store. The zero value is not usable; build
// one with New.
type Store struct {
	mu       sync.RWMutex
	runtimes map[string]job.RuntimeMeta

	// jobs tracks each job's running/done call IDs as the test or demo
	// driving this store reports them via MarkRunning/MarkDone.
	jobs map[string]*jobState
}

type jobState struct {
	running map[string]struct{}
	done    map[string]struct{}
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		runtimes: make(map[string]job.RuntimeMeta),
		jobs:     make(map[string]*jobState),
	}
}

func (s *Store) GetRuntimeMeta(ctx context.Context, key string) (job.RuntimeMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.runtimes[key]
	if !ok {
		return job.RuntimeMeta{}, store.ErrRuntimeMetaNotFound
	}
	return meta, nil
}

func (s *Store) PutRuntimeMeta(ctx context.Context, key string, meta job.RuntimeMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runtimes[key] = meta
	return nil
}

func (s *Store) GetJobStatus(ctx context.Context, executorID, jobID string) (running, done []string, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.jobs[jobKey(executorID, jobID)]
	if st == nil {
		return nil, nil, nil
	}
	for id := range st.running {
		running = append(running, id)
	}
	for id := range st.done {
		done = append(done, id)
	}
	return running, done, nil
}

// MarkRunning records that callID has started for (executorID, jobID).
// Exercised by tests to drive the monitor's storage-polling mode without
// a real compute backend.
func (s *Store) MarkRunning(executorID, jobID, callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateLocked(executorID, jobID)
	st.running[callID] = struct{}{}
}

// MarkDone moves callID from running to done for (executorID, jobID).
func (s *Store) MarkDone(executorID, jobID, callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateLocked(executorID, jobID)
	delete(st.running, callID)
	st.done[callID] = struct{}{}
}

func (s *Store) stateLocked(executorID, jobID string) *jobState {
	key := jobKey(executorID, jobID)
	st, ok := s.jobs[key]
	if !ok {
		st = &jobState{running: make(map[string]struct{}), done: make(map[string]struct{})}
		s.jobs[key] = st
	}
	return st
}

func jobKey(executorID, jobID string) string {
	return executorID + "/" + jobID
}
