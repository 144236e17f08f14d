// Package httpfn implements backend.Backend over a plain authenticated
// HTTP API, for FaaS backends that aren't Kubernetes. It reuses the
// authenticated/debug-logging transport chain the teacher builds for its
// GraphQL client, since the same auth-and-log concerns apply here.
package httpfn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httputil"
	"os"
	"time"

	"github.com/serverless-fanout/invoker/internal/job"
)

// Config configures the endpoint and credentials of the HTTP backend.
type Config struct {
	Endpoint string
	Token    string
}

// Backend implements backend.Backend by POSTing payloads to Config.Endpoint.
type Backend struct {
	cfg    Config
	client *http.Client
}

// New builds a Backend whose http.Client logs full request/response dumps
// when DEBUG is set, identical to the teacher's logTransport.
func New(cfg Config) *Backend {
	return &Backend{
		cfg: cfg,
		client: &http.Client{
			Timeout: 60 * time.Second,
			Transport: newLogTransport(&authedTransport{
				key:     cfg.Token,
				wrapped: http.DefaultTransport,
			}),
		},
	}
}

func (b *Backend) GetRuntimeKey(runtimeName string, runtimeMemory int) string {
	return fmt.Sprintf("%s-%d", runtimeName, runtimeMemory)
}

func (b *Backend) CreateRuntime(ctx context.Context, runtimeName string, runtimeMemory int, runtimeTimeout int) (job.RuntimeMeta, error) {
	req := struct {
		RuntimeName    string `json:"runtime_name"`
		RuntimeMemory  int    `json:"runtime_memory"`
		RuntimeTimeout int    `json:"runtime_timeout"`
	}{runtimeName, runtimeMemory, runtimeTimeout}

	var meta job.RuntimeMeta
	if err := b.postJSON(ctx, "/runtimes", req, &meta); err != nil {
		return job.RuntimeMeta{}, fmt.Errorf("httpfn: create runtime %s: %w", runtimeName, err)
	}
	return meta, nil
}

// Invoke POSTs payload to /invocations. A 429 response is treated as a
// quota rejection (empty activation ID, nil error) per spec.md §4.3/§7.
func (b *Backend) Invoke(ctx context.Context, runtimeName string, runtimeMemory int, payload job.Payload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("httpfn: marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.Endpoint+"/invocations", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("httpfn: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("httpfn: invoke %s/%s: %w", payload.JobID, payload.CallID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", nil
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("httpfn: invoke %s/%s: status %d: %s", payload.JobID, payload.CallID, resp.StatusCode, data)
	}

	var out struct {
		ActivationID string `json:"activation_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("httpfn: decode invoke response: %w", err)
	}
	return out.ActivationID, nil
}

func (b *Backend) RunJob(ctx context.Context, payload job.StandalonePayload) error {
	return fmt.Errorf("httpfn: RunJob is not supported by the serverless invocation core")
}

func (b *Backend) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, data)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type authedTransport struct {
	key     string
	wrapped http.RoundTripper
}

func (t *authedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	reqBodyClosed := false
	if req.Body != nil {
		defer func() {
			if !reqBodyClosed {
				req.Body.Close()
			}
		}()
	}

	reqCopy := req.Clone(req.Context())
	reqCopy.Header.Set("Authorization", "Bearer "+t.key)

	reqBodyClosed = true
	return t.wrapped.RoundTrip(reqCopy)
}

type logTransport struct {
	inner http.RoundTripper
}

func newLogTransport(inner http.RoundTripper) http.RoundTripper {
	return &logTransport{inner}
}

func (t *logTransport) RoundTrip(in *http.Request) (out *http.Response, err error) {
	if _, ok := os.LookupEnv("DEBUG"); !ok {
		return t.inner.RoundTrip(in)
	}

	log.Printf("--> %s %s", in.Method, in.URL)

	inCopy := in
	if in.Header != nil && in.Header.Get("authorization") != "" {
		inCopy = in.Clone(in.Context())
		inCopy.Header.Set("authorization", "<redacted>")
	}
	if b, dumpErr := httputil.DumpRequestOut(inCopy, true); dumpErr == nil && len(b) > 0 {
		log.Println(string(b))
	}

	start := time.Now()
	out, err = t.inner.RoundTrip(in)
	duration := time.Since(start)
	if err != nil {
		log.Printf("<-- %v %s %s (%s)", err, in.Method, in.URL, duration)
		return
	}
	log.Printf("<-- %d %s (%s)", out.StatusCode, in.URL, duration)
	if b, dumpErr := httputil.DumpResponse(out, true); dumpErr == nil && len(b) > 0 {
		log.Println(string(b))
	}
	return
}
