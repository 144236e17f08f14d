// Package runtime implements the runtime selector (spec.md C3): resolving
// a job's declared runtime name/memory to concrete metadata, creating the
// runtime on first use and caching the result in the metadata store.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/serverless-fanout/invoker/internal/backend"
	"github.com/serverless-fanout/invoker/internal/job"
	"github.com/serverless-fanout/invoker/internal/logctx"
	"github.com/serverless-fanout/invoker/internal/store"
)

// ErrRuntimeIncompatible is returned when the selected runtime's recorded
// language version does not match what the caller expects.
var ErrRuntimeIncompatible = errors.New("runtime: incompatible language version")

// Selector resolves (runtimeName, runtimeMemory, runtimeTimeout) into a
// job.RuntimeMeta, creating the runtime through backend on a store miss.
// It holds no distributed lock: two selectors racing to create the same
// runtime key both succeed, each storing its own metadata, the last write
// winning (spec.md §9, preserved deliberately — see DESIGN.md).
type Selector struct {
	backend backend.Backend
	store   store.Store
	logger  *zap.Logger
}

// New builds a Selector over backend b and metadata store s.
func New(b backend.Backend, s store.Store, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{backend: b, store: s, logger: logger}
}

// Select returns the runtime metadata for the job's declared runtime,
// expectedLanguageVersion is compared case-insensitively against the
// resolved metadata when non-empty.
func (s *Selector) Select(ctx context.Context, executorID, jobID, runtimeName string, runtimeMemory, runtimeTimeout int, expectedLanguageVersion string) (job.RuntimeMeta, error) {
	fields := logctx.Job(executorID, jobID)
	key := s.backend.GetRuntimeKey(runtimeName, runtimeMemory)

	meta, err := s.store.GetRuntimeMeta(ctx, key)
	if err != nil {
		// Any lookup failure — not-found or transport — is treated as "not
		// deployed", mirroring the Python invoker's bare `except Exception:
		// runtime_deployed = False`. A store outage must not block runtime
		// creation.
		if !errors.Is(err, store.ErrRuntimeMetaNotFound) {
			s.logger.Debug("runtime lookup failed, treating as not deployed",
				append(fields, zap.String("runtime_key", key), zap.Error(err))...)
		}
		s.logger.Info("creating runtime", append(fields, zap.String("runtime_key", key))...)
		meta, err = s.backend.CreateRuntime(ctx, runtimeName, runtimeMemory, runtimeTimeout)
		if err != nil {
			return job.RuntimeMeta{}, fmt.Errorf("runtime: create %s: %w", key, err)
		}
		if err := s.store.PutRuntimeMeta(ctx, key, meta); err != nil {
			return job.RuntimeMeta{}, fmt.Errorf("runtime: cache %s: %w", key, err)
		}
	} else {
		s.logger.Debug("runtime cache hit", append(fields, zap.String("runtime_key", key))...)
	}

	if expectedLanguageVersion != "" && !strings.EqualFold(meta.LanguageVersion, expectedLanguageVersion) {
		return job.RuntimeMeta{}, fmt.Errorf("%w: runtime %s is %s, job expects %s",
			ErrRuntimeIncompatible, key, meta.LanguageVersion, expectedLanguageVersion)
	}
	return meta, nil
}
