package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEngineConfigDefaults(t *testing.T) {
	config, err := LoadEngineConfig("")
	require.NoError(t, err)

	assert.Equal(t, 16, config.WorkerLimit)
	assert.Equal(t, 5*time.Second, config.PollInterval)
	assert.Equal(t, time.Second, config.Backoff.Base)
	assert.Equal(t, 5*time.Minute, config.Backoff.Max)
	assert.InDelta(t, 0.2, config.Backoff.Jitter, 0.001)
}

func TestLoadEngineConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	content := `
worker_limit: 4
poll_interval: 30s
backoff:
  base: 2s
  max: 10m
  jitter: 0.5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	config, err := LoadEngineConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 4, config.WorkerLimit)
	assert.Equal(t, 30*time.Second, config.PollInterval)
	assert.Equal(t, 2*time.Second, config.Backoff.Base)
	assert.Equal(t, 10*time.Minute, config.Backoff.Max)
	assert.InDelta(t, 0.5, config.Backoff.Jitter, 0.001)
}

func TestLoadEngineConfigRejectsBadJitter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backoff:\n  jitter: 1.5\n"), 0o600))

	_, err := LoadEngineConfig(path)
	assert.Error(t, err)
}

func TestLoadEngineConfigMissingFile(t *testing.T) {
	_, err := LoadEngineConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
