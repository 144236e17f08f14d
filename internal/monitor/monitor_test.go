package monitor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/serverless-fanout/invoker/internal/bus"
	"github.com/serverless-fanout/invoker/internal/dispatch"
	"github.com/serverless-fanout/invoker/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch_StoragePolling_MintsTokensAsCallsFinish(t *testing.T) {
	s := memstore.New()
	m := New(s, nil, false, nil)
	tokens := dispatch.NewTokenBucket(2)
	tokens.Drain()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Watch(ctx, "exec-1", "job-1", 2, tokens)
	require.Eventually(t, func() bool { return m.ActiveJobs() == 1 }, time.Second, 10*time.Millisecond)

	s.MarkRunning("exec-1", "job-1", "00000")
	s.MarkRunning("exec-1", "job-1", "00001")
	s.MarkDone("exec-1", "job-1", "00000")

	require.Eventually(t, func() bool { return tokens.Len() == 1 }, 2*time.Second, 20*time.Millisecond)

	s.MarkDone("exec-1", "job-1", "00001")
	require.Eventually(t, func() bool { return tokens.Len() == 2 }, 2*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool { return m.ActiveJobs() == 0 }, time.Second, 10*time.Millisecond)
}

func TestWatch_MessageBus_MintsTokenPerEndMessage(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()
	m := New(nil, b, true, nil)
	tokens := dispatch.NewTokenBucket(1)
	tokens.Drain()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Watch(ctx, "exec-1", "job-1", 1, tokens)
	require.Eventually(t, func() bool { return m.ActiveJobs() == 1 }, time.Second, 10*time.Millisecond)

	payload, err := json.Marshal(map[string]string{"type": bus.EndMessageType, "call_id": "00000"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), bus.CompletionSubject("exec-1", "job-1"), payload))

	require.Eventually(t, func() bool { return tokens.Len() == 1 }, 2*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool { return m.ActiveJobs() == 0 }, time.Second, 10*time.Millisecond)
}

func TestActiveJobs_InitiallyZero(t *testing.T) {
	m := New(memstore.New(), nil, false, nil)
	assert.Equal(t, 0, m.ActiveJobs())
}
