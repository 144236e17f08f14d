package graphqlmeta

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/Khan/genqlient/graphql"
	"github.com/buildkite/roko"

	"github.com/serverless-fanout/invoker/internal/job"
	"github.com/serverless-fanout/invoker/internal/store"
)

// Store is a store.Store backed by a GraphQL metadata API, with transient
// failures (spec.md §7's StoreTransient) retried silently via roko instead
// of surfacing to the caller.
type Store struct {
	client graphql.Client
}

// New wraps client in a Store. Use NewClient to build the authenticated
// client the way the teacher's api.NewClient does.
func New(client graphql.Client) *Store {
	return &Store{client: client}
}

func (s *Store) GetRuntimeMeta(ctx context.Context, key string) (job.RuntimeMeta, error) {
	var resp struct {
		RuntimeMeta *struct {
			LanguageVersion     string `json:"languageVersion"`
			PreinstalledModules string `json:"preinstalledModules"`
		} `json:"runtimeMeta"`
	}

	err := retry(ctx, func(ctx context.Context) error {
		req := &graphql.Request{
			OpName: "RuntimeMeta",
			Query: `query RuntimeMeta($key: String!) {
				runtimeMeta(key: $key) { languageVersion preinstalledModules }
			}`,
			Variables: map[string]any{"key": key},
		}
		return s.client.MakeRequest(ctx, req, &graphql.Response{Data: &resp})
	})
	if err != nil {
		return job.RuntimeMeta{}, fmt.Errorf("graphqlmeta: get runtime meta %q: %w", key, err)
	}
	if resp.RuntimeMeta == nil {
		return job.RuntimeMeta{}, store.ErrRuntimeMetaNotFound
	}

	modules, err := base64.StdEncoding.DecodeString(resp.RuntimeMeta.PreinstalledModules)
	if err != nil {
		return job.RuntimeMeta{}, fmt.Errorf("graphqlmeta: decode preinstalled modules for %q: %w", key, err)
	}
	return job.RuntimeMeta{
		LanguageVersion:     resp.RuntimeMeta.LanguageVersion,
		PreinstalledModules: modules,
	}, nil
}

func (s *Store) PutRuntimeMeta(ctx context.Context, key string, meta job.RuntimeMeta) error {
	err := retry(ctx, func(ctx context.Context) error {
		req := &graphql.Request{
			OpName: "PutRuntimeMeta",
			Query: `mutation PutRuntimeMeta($key: String!, $languageVersion: String!, $preinstalledModules: String!) {
				putRuntimeMeta(key: $key, languageVersion: $languageVersion, preinstalledModules: $preinstalledModules) { key }
			}`,
			Variables: map[string]any{
				"key":                 key,
				"languageVersion":     meta.LanguageVersion,
				"preinstalledModules": base64.StdEncoding.EncodeToString(meta.PreinstalledModules),
			},
		}
		var resp struct {
			PutRuntimeMeta struct {
				Key string `json:"key"`
			} `json:"putRuntimeMeta"`
		}
		return s.client.MakeRequest(ctx, req, &graphql.Response{Data: &resp})
	})
	if err != nil {
		return fmt.Errorf("graphqlmeta: put runtime meta %q: %w", key, err)
	}
	return nil
}

func (s *Store) GetJobStatus(ctx context.Context, executorID, jobID string) (running, done []string, err error) {
	var resp struct {
		Job *struct {
			RunningCallIDs []string `json:"runningCallIds"`
			DoneCallIDs    []string `json:"doneCallIds"`
		} `json:"job"`
	}

	retryErr := retry(ctx, func(ctx context.Context) error {
		req := &graphql.Request{
			OpName: "JobStatus",
			Query: `query JobStatus($executorId: String!, $jobId: String!) {
				job(executorId: $executorId, jobId: $jobId) { runningCallIds doneCallIds }
			}`,
			Variables: map[string]any{"executorId": executorID, "jobId": jobID},
		}
		return s.client.MakeRequest(ctx, req, &graphql.Response{Data: &resp})
	})
	if retryErr != nil {
		return nil, nil, fmt.Errorf("graphqlmeta: get job status %s/%s: %w", executorID, jobID, retryErr)
	}
	if resp.Job == nil {
		return nil, nil, nil
	}
	return resp.Job.RunningCallIDs, resp.Job.DoneCallIDs, nil
}

// retry runs fn under a roko retrier with jittered exponential backoff,
// silently absorbing transient GraphQL/transport failures per spec.md §7.
func retry(ctx context.Context, fn func(context.Context) error) error {
	retrier := roko.NewRetrier(
		roko.WithMaxAttempts(5),
		roko.WithStrategy(roko.ExponentialSubsecond(200*time.Millisecond)),
		roko.WithJitter(),
	)
	return retrier.DoWithContext(ctx, func(r *roko.Retrier) error {
		return fn(ctx)
	})
}
