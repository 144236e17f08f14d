// Package job holds the data model shared by every component of the
// invocation core: the Job itself, the per-call Payload sent to the
// compute backend, and the RuntimeMeta persisted by the metadata store.
package job

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ByteRange is the [start, end) byte offset of one call's slice of the
// job's serialized input data.
type ByteRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Job is immutable after Validate succeeds and the facade admits it.
type Job struct {
	ExecutorID string `json:"executor_id" validate:"required"`
	JobID      string `json:"job_id" validate:"required"`

	FunctionName string `json:"function_name" validate:"required"`
	TotalCalls   int    `json:"total_calls" validate:"gte=1"`

	RuntimeName      string        `json:"runtime_name" validate:"required"`
	RuntimeMemory    int           `json:"runtime_memory" validate:"gte=0"`
	RuntimeTimeout   time.Duration `json:"runtime_timeout" validate:"gt=0"`
	ExecutionTimeout time.Duration `json:"execution_timeout" validate:"gt=0"`

	FuncKey string `json:"func_key" validate:"required"`
	DataKey string `json:"data_key" validate:"required"`

	DataRanges []ByteRange `json:"data_ranges"`

	ExtraEnv map[string]string `json:"extra_env"`

	InvokePoolThreads int `json:"invoke_pool_threads" validate:"gte=1"`

	Metadata map[string]string `json:"metadata"`

	RemoteInvoker bool `json:"remote_invoker"`
}

// ExecutionTimeoutGuard is the minimum headroom execution_timeout must leave
// below runtime_timeout (spec.md §3 invariant).
const ExecutionTimeoutGuard = 5 * time.Second

// Validate checks struct tags and the execution/runtime timeout invariant,
// truncating ExecutionTimeout in place when it violates the guard rather
// than rejecting the job outright — this mirrors the Python admission path,
// which silently clamps instead of raising.
func (j *Job) Validate() error {
	if err := validate.Struct(j); err != nil {
		return fmt.Errorf("job validation: %w", err)
	}
	if len(j.DataRanges) != j.TotalCalls {
		return fmt.Errorf("job validation: data_ranges has %d entries, want %d (total_calls)", len(j.DataRanges), j.TotalCalls)
	}
	if j.ExecutionTimeout > j.RuntimeTimeout-ExecutionTimeoutGuard {
		j.ExecutionTimeout = j.RuntimeTimeout - ExecutionTimeoutGuard
	}
	return nil
}

// CallID returns the zero-padded five-digit decimal identity of call i,
// stable across retries (spec.md §3).
func CallID(i int) string {
	return fmt.Sprintf("%05d", i)
}

// Payload is the per-invocation snapshot sent to the compute backend.
type Payload struct {
	FuncKey          string            `json:"func_key"`
	DataKey          string            `json:"data_key"`
	ExtraEnv         map[string]string `json:"extra_env"`
	ExecutionTimeout time.Duration     `json:"execution_timeout"`
	DataByteRange    ByteRange         `json:"data_byte_range"`
	ExecutorID       string            `json:"executor_id"`
	JobID            string            `json:"job_id"`
	CallID           string            `json:"call_id"`
	HostSubmitTstamp int64             `json:"host_submit_tstamp"`
	RuntimeName      string            `json:"runtime_name"`
	RuntimeMemory    int               `json:"runtime_memory"`
	RuntimeTimeout   time.Duration     `json:"runtime_timeout"`
}

// NewPayload builds the Payload for call index i of job j, stamping the
// submit time at call time as spec.md §3 requires.
func NewPayload(j *Job, i int, now time.Time) Payload {
	return Payload{
		FuncKey:          j.FuncKey,
		DataKey:          j.DataKey,
		ExtraEnv:         j.ExtraEnv,
		ExecutionTimeout: j.ExecutionTimeout,
		DataByteRange:    j.DataRanges[i],
		ExecutorID:       j.ExecutorID,
		JobID:            j.JobID,
		CallID:           CallID(i),
		HostSubmitTstamp: now.Unix(),
		RuntimeName:      j.RuntimeName,
		RuntimeMemory:    j.RuntimeMemory,
		RuntimeTimeout:   j.RuntimeTimeout,
	}
}

// RemoteInvokerPayload is sent once, to a single activation, when the job
// is dispatched in remote-invoker mode. It omits every per-call field.
type RemoteInvokerPayload struct {
	ExecutorID     string `json:"executor_id"`
	JobID          string `json:"job_id"`
	JobDescription *Job   `json:"job_description"`
	RemoteInvoker  bool   `json:"remote_invoker"`
	Invokers       int    `json:"invokers"`
}

// StandalonePayload is the wire shape accepted by the standalone
// (non-serverless) backend's RunJob. The core never builds or sends one;
// it exists so backend.Backend's interface boundary is visible in the
// types even though that variant is out of scope (spec.md §1, Non-goals).
type StandalonePayload struct {
	ExecutorID     string `json:"executor_id"`
	JobID          string `json:"job_id"`
	JobDescription *Job   `json:"job_description"`
}

// RuntimeMeta is persisted in the metadata store, keyed by a
// backend-specific runtime key. Created once per (runtime_name,
// runtime_memory) and treated as immutable thereafter.
type RuntimeMeta struct {
	LanguageVersion     string `json:"language_version"`
	PreinstalledModules []byte `json:"preinstalled_modules"`
}
