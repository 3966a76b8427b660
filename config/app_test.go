package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Tasks.StreamPollInterval)
	assert.Equal(t, "memory", cfg.Tasks.Store)
	assert.Equal(t, 4, cfg.Normalizer.SequenceThreshold)
	assert.Contains(t, cfg.Upload.AllowedExtensions, ".docx")
}

func TestLoadYAMLThenEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  addr: ":9000"
tasks:
  streamPollInterval: 2s
  store: redis
  dispatcher: asynq
inference:
  model: qwen-vl-plus
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("INFERENCE_MODEL", "qwen-vl-max")
	t.Setenv("TASK_STREAM_POLL_INTERVAL", "750ms")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "asynq", cfg.Tasks.Dispatcher)
	assert.Equal(t, "qwen-vl-max", cfg.Inference.Model)
	assert.Equal(t, 750*time.Millisecond, cfg.Tasks.StreamPollInterval)
}

func TestValidateRejectsAsynqWithMemoryStore(t *testing.T) {
	cfg := Default()
	cfg.Tasks.Dispatcher = "asynq"

	assert.Error(t, cfg.Validate())

	cfg.Tasks.Store = "redis"
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestWorkerLogPaths(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"stdout", "logs/app.log"}, cfg.Log.OutputPaths)
	assert.Equal(t, []string{"stdout", "logs/worker.log"}, cfg.Log.WorkerOutputPaths)

	t.Setenv("LOG_WORKER_OUTPUT_PATHS", "stdout, /var/log/extractor/worker.log")
	cfg, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"stdout", "/var/log/extractor/worker.log"}, cfg.Log.WorkerOutputPaths)
	assert.Equal(t, []string{"stdout", "logs/app.log"}, cfg.Log.OutputPaths)
}
