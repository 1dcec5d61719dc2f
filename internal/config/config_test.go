package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Default(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout())
	assert.Equal(t, 4096, cfg.AuditBufferSize)
	assert.Equal(t, 256, cfg.Sandbox.MemoryLimitMB)
	assert.Equal(t, 10, cfg.Pool.MaxInstances)
	assert.Equal(t, 4, cfg.Workflow.MaxConcurrentNodes)
}

func Test_Load_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
shutdown_timeout_ms: 5000
audit_buffer_size: 64
sandbox:
  memory_limit_mb: 128
  call_timeout_ms: 1000
pool:
  max_instances: 3
workflow:
  max_concurrent_nodes: 8
  checkpoint_dir: /tmp/checkpoints
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout())
	assert.Equal(t, 64, cfg.AuditBufferSize)
	assert.Equal(t, 128, cfg.Sandbox.MemoryLimitMB)
	assert.Equal(t, 3, cfg.Pool.MaxInstances)
	// Unset keys keep their defaults.
	assert.Equal(t, 1, cfg.Pool.MinInstances)
	assert.Equal(t, 8, cfg.Workflow.MaxConcurrentNodes)
	assert.Equal(t, "/tmp/checkpoints", cfg.Workflow.CheckpointDir)
}

func Test_Load_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{{"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func Test_Load_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
