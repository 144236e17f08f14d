package dispatch

import (
	"context"
	"testing"

	"github.com/serverless-fanout/invoker/internal/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingQueue_PushPop(t *testing.T) {
	q := NewPendingQueue(4)
	call := Call{Job: &job.Job{JobID: "job-1"}, CallIndex: 0}
	require.NoError(t, q.Push(context.Background(), call))

	got, ok := q.Pop(context.Background())
	require.True(t, ok)
	assert.Equal(t, "job-1", got.Job.JobID)
}

func TestPendingQueue_CloseForWakesWorkers(t *testing.T) {
	q := NewPendingQueue(4)
	q.CloseFor(2)

	_, ok1 := q.Pop(context.Background())
	_, ok2 := q.Pop(context.Background())
	assert.False(t, ok1)
	assert.False(t, ok2)
}

func TestCall_IsSentinel(t *testing.T) {
	assert.True(t, Call{}.IsSentinel())
	assert.False(t, Call{Job: &job.Job{}}.IsSentinel())
}
