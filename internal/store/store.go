// Package store defines the metadata-store interface the runtime selector
// and job monitor depend on (spec.md C2), and the errors its
// implementations return.
package store

import (
	"context"
	"errors"

	"github.com/serverless-fanout/invoker/internal/job"
)

// ErrRuntimeMetaNotFound is returned by GetRuntimeMeta when key has never
// been stored, the trigger for the runtime selector's create-runtime path.
var ErrRuntimeMetaNotFound = errors.New("store: runtime meta not found")

// Store is the metadata-store interface (spec.md C2). Implementations must
// be safe for concurrent use; GetJobStatus in particular is polled
// concurrently with PutRuntimeMeta calls from unrelated jobs.
type Store interface {
	// GetRuntimeMeta returns the cached metadata for key, or
	// ErrRuntimeMetaNotFound if no runtime has ever been created for it.
	GetRuntimeMeta(ctx context.Context, key string) (job.RuntimeMeta, error)

	// PutRuntimeMeta persists meta under key, overwriting any prior value.
	PutRuntimeMeta(ctx context.Context, key string, meta job.RuntimeMeta) error

	// GetJobStatus returns the call IDs currently running and the call IDs
	// that have finished for (executorID, jobID), used by the job
	// monitor's storage-polling mode.
	GetJobStatus(ctx context.Context, executorID, jobID string) (running, done []string, err error)
}
