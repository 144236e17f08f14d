// Package backend defines the compute-backend interface the runtime
// selector and dispatcher pool invoke against (spec.md C1).
package backend

import (
	"context"

	"github.com/serverless-fanout/invoker/internal/job"
)

// Backend is the compute-backend interface. RunJob exists for interface
// completeness with the standalone (non-serverless) variant described in
// spec.md §1; the serverless invocation core never calls it (see
// DESIGN.md / SPEC_FULL.md Non-goals).
type Backend interface {
	// GetRuntimeKey returns the backend-specific cache key for
	// (runtimeName, runtimeMemory), stable across CreateRuntime calls.
	GetRuntimeKey(runtimeName string, runtimeMemory int) string

	// CreateRuntime provisions the named runtime and returns its
	// metadata. Called once per (runtimeName, runtimeMemory) the
	// metadata store has never seen.
	CreateRuntime(ctx context.Context, runtimeName string, runtimeMemory int, runtimeTimeout int) (job.RuntimeMeta, error)

	// Invoke submits one call's payload for execution. A zero-value
	// activation ID with a nil error signals a quota rejection (spec.md
	// §4.3/§7's QuotaRejected), distinct from a hard error.
	Invoke(ctx context.Context, runtimeName string, runtimeMemory int, payload job.Payload) (activationID string, err error)

	// RunJob submits a whole job description directly to a standalone
	// (non-serverless) backend. Never called by internal/invoker.
	RunJob(ctx context.Context, payload job.StandalonePayload) error
}
