package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validJob() *Job {
	return &Job{
		ExecutorID:        "exec-1",
		JobID:             "job-1",
		FunctionName:      "my-func",
		TotalCalls:        3,
		RuntimeName:       "python3.11",
		RuntimeMemory:     256,
		RuntimeTimeout:    60 * time.Second,
		ExecutionTimeout:  30 * time.Second,
		FuncKey:           "func-key",
		DataKey:           "data-key",
		DataRanges:        []ByteRange{{0, 10}, {10, 20}, {20, 30}},
		InvokePoolThreads: 4,
	}
}

func TestValidate_OK(t *testing.T) {
	j := validJob()
	require.NoError(t, j.Validate())
}

func TestValidate_TruncatesExecutionTimeout(t *testing.T) {
	j := validJob()
	j.RuntimeTimeout = 10 * time.Second
	j.ExecutionTimeout = 9 * time.Second // violates runtime_timeout - 5s guard
	require.NoError(t, j.Validate())
	assert.Equal(t, 5*time.Second, j.ExecutionTimeout)
}

func TestValidate_RejectsZeroTotalCalls(t *testing.T) {
	j := validJob()
	j.TotalCalls = 0
	j.DataRanges = nil
	require.Error(t, j.Validate())
}

func TestValidate_RejectsMismatchedDataRanges(t *testing.T) {
	j := validJob()
	j.DataRanges = j.DataRanges[:2]
	require.Error(t, j.Validate())
}

func TestCallID(t *testing.T) {
	assert.Equal(t, "00000", CallID(0))
	assert.Equal(t, "00042", CallID(42))
	assert.Equal(t, "12345", CallID(12345))
}

func TestNewPayload(t *testing.T) {
	j := validJob()
	now := time.Unix(1700000000, 0)
	p := NewPayload(j, 1, now)
	assert.Equal(t, "00001", p.CallID)
	assert.Equal(t, j.DataRanges[1], p.DataByteRange)
	assert.Equal(t, now.Unix(), p.HostSubmitTstamp)
	assert.Equal(t, j.RuntimeName, p.RuntimeName)
}
