// Package k8sjob implements backend.Backend by submitting one
// batch/v1.Job per call invocation, grounded on the teacher pack's
// Kubernetes Job-per-unit-of-work dispatch pattern.
package k8sjob

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/utils/ptr"

	"github.com/serverless-fanout/invoker/internal/job"
)

// Config configures the backend's target namespace and container image
// template.
type Config struct {
	Kubeconfig string
	Namespace  string

	// Image is the container image that hosts the function runtime.
	// {{RUNTIME_NAME}} is substituted per invocation.
	Image string

	// Entrypoint is a shell command line tokenized with go-shellquote and
	// run as the container's command; the payload JSON is appended as a
	// single base64-encoded argument.
	Entrypoint string

	BackoffLimit int32
}

// Backend implements backend.Backend by creating one Job per call.
type Backend struct {
	cfg       Config
	client    kubernetes.Interface
	namespace string
}

// New builds a Backend. It loads an in-cluster config when cfg.Kubeconfig
// is empty, falling back to ~/.kube/config, matching the teacher's
// buildKubeClient precedence.
func New(cfg Config) (*Backend, error) {
	client, err := buildKubeClient(cfg.Kubeconfig)
	if err != nil {
		return nil, err
	}
	return &Backend{cfg: cfg, client: client, namespace: detectNamespace(cfg.Namespace)}, nil
}

// newWithClient builds a Backend around an already-constructed client,
// used by tests to inject a fake clientset.
func newWithClient(cfg Config, client kubernetes.Interface) *Backend {
	return &Backend{cfg: cfg, client: client, namespace: detectNamespace(cfg.Namespace)}
}

func (b *Backend) GetRuntimeKey(runtimeName string, runtimeMemory int) string {
	return fmt.Sprintf("%s-%d", runtimeName, runtimeMemory)
}

// CreateRuntime has no provisioning step of its own in the k8s backend:
// the runtime image is already baked and referenced per Invoke call, so
// this only returns metadata whose LanguageVersion is runtimeName itself.
// No preinstalled-modules manifest is produced.
func (b *Backend) CreateRuntime(ctx context.Context, runtimeName string, runtimeMemory int, runtimeTimeout int) (job.RuntimeMeta, error) {
	return job.RuntimeMeta{LanguageVersion: runtimeName}, nil
}

// Invoke creates a batch/v1.Job for one call and returns its name as the
// activation ID. A ResourceQuota rejection from the API server is
// reported as a quota rejection (empty activation ID, nil error) rather
// than an error, per spec.md §4.3/§7.
func (b *Backend) Invoke(ctx context.Context, runtimeName string, runtimeMemory int, payload job.Payload) (string, error) {
	jobName := callJobName(payload)
	k8sJob, err := b.buildJob(jobName, runtimeName, runtimeMemory, payload)
	if err != nil {
		return "", fmt.Errorf("k8sjob: build job spec for %s: %w", jobName, err)
	}

	_, err = b.client.BatchV1().Jobs(b.namespace).Create(ctx, k8sJob, metav1.CreateOptions{})
	if err != nil {
		if apierrors.IsForbidden(err) && isQuotaExceeded(err) {
			return "", nil
		}
		return "", fmt.Errorf("k8sjob: create job %s: %w", jobName, err)
	}
	return jobName, nil
}

func (b *Backend) RunJob(ctx context.Context, payload job.StandalonePayload) error {
	return fmt.Errorf("k8sjob: RunJob is not supported by the serverless invocation core")
}

func callJobName(p job.Payload) string {
	name := fmt.Sprintf("invoker-%s-%s-%s", p.ExecutorID, p.JobID, p.CallID)
	name = strings.ToLower(name)
	if len(name) > 63 {
		name = name[:63]
	}
	return strings.Trim(name, "-")
}

func (b *Backend) buildJob(jobName, runtimeName string, runtimeMemory int, payload job.Payload) (*batchv1.Job, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(payloadJSON)

	command, err := shellquote.Split(b.cfg.Entrypoint)
	if err != nil {
		return nil, fmt.Errorf("parsing entrypoint %q: %w", b.cfg.Entrypoint, err)
	}
	args := append(append([]string(nil), command[1:]...), encoded)

	image := strings.ReplaceAll(b.cfg.Image, "{{RUNTIME_NAME}}", runtimeName)

	backoffLimit := b.cfg.BackoffLimit
	if backoffLimit == 0 {
		backoffLimit = 1
	}

	deadline := int64(payload.RuntimeTimeout / time.Second)

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName,
			Namespace: b.namespace,
			Labels: map[string]string{
				"invoker.io/executor-id": payload.ExecutorID,
				"invoker.io/job-id":      payload.JobID,
				"invoker.io/call-id":     payload.CallID,
			},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:          ptr.To(backoffLimit),
			ActiveDeadlineSeconds: ptr.To(deadline),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{
						"invoker.io/executor-id": payload.ExecutorID,
						"invoker.io/job-id":      payload.JobID,
					},
				},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{
						{
							Name:    command[0],
							Image:   image,
							Command: []string{command[0]},
							Args:    args,
							Env: []corev1.EnvVar{
								{Name: "INVOKER_RUNTIME_MEMORY", Value: fmt.Sprintf("%d", runtimeMemory)},
							},
						},
					},
				},
			},
		},
	}, nil
}

// isQuotaExceeded reports whether a Forbidden API error was caused by a
// ResourceQuota limit rather than an RBAC denial.
func isQuotaExceeded(err error) bool {
	return strings.Contains(err.Error(), "exceeded quota")
}

func buildKubeClient(kubeconfig string) (kubernetes.Interface, error) {
	if strings.TrimSpace(kubeconfig) != "" {
		cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("loading kubeconfig %s: %w", kubeconfig, err)
		}
		return kubernetes.NewForConfig(cfg)
	}

	cfg, err := rest.InClusterConfig()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return nil, fmt.Errorf("creating in-cluster config: %w", err)
		}
		path := filepath.Join(home, ".kube", "config")
		cfg, err = clientcmd.BuildConfigFromFlags("", path)
		if err != nil {
			return nil, fmt.Errorf("loading kubeconfig %s: %w", path, err)
		}
	}
	return kubernetes.NewForConfig(cfg)
}

func detectNamespace(explicit string) string {
	if ns := strings.TrimSpace(explicit); ns != "" {
		return ns
	}
	data, err := os.ReadFile("/var/run/secrets/kubernetes.io/serviceaccount/namespace")
	if err == nil {
		if ns := strings.TrimSpace(string(data)); ns != "" {
			return ns
		}
	}
	if ns := strings.TrimSpace(os.Getenv("POD_NAMESPACE")); ns != "" {
		return ns
	}
	return "default"
}
