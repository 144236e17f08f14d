package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Lithops.Workers)
	assert.False(t, cfg.Lithops.RabbitMQMonitor)
	assert.Equal(t, 600*time.Second, cfg.Serverless.RuntimeTimeout)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "invoker.yaml")
	contents := []byte("lithops:\n  workers: 42\n  rabbitmq_monitor: true\nserverless:\n  runtime: python3.11\n")
	require.NoError(t, os.WriteFile(path, contents, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Lithops.Workers)
	assert.True(t, cfg.Lithops.RabbitMQMonitor)
	assert.Equal(t, "python3.11", cfg.Serverless.Runtime)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("INVOKER_LITHOPS_WORKERS", "7")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Lithops.Workers)
}
