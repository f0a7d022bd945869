package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{
		"port": 8080,
		"mongodb": {"uri": "mongodb://localhost:27017", "db": "docsense"},
		"analyzers": [
			{"id": "language", "base_url": "http://localhost:9001", "base_weight": 1.1}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Len(t, cfg.Analyzers, 1)

	// Untouched tuning sections pick up defaults.
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 2, cfg.Breaker.SuccessThreshold)
	assert.Equal(t, 30*time.Second, cfg.Breaker.RecoveryTimeout())
	assert.Equal(t, 3, cfg.Executor.MaxRetries)
	assert.Equal(t, 0.3, cfg.Verification.UncertaintyThreshold)
	assert.Equal(t, 100, cfg.Cache.MemoryCapacity)
}

func TestLoadConfigKeepsExplicitTuning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{
		"executor": {"base_delay_ms": 50, "cap_delay_ms": 1000, "max_retries": 5}
	}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 50*time.Millisecond, cfg.Executor.BaseDelay())
	assert.Equal(t, time.Second, cfg.Executor.CapDelay())
	assert.Equal(t, 5, cfg.Executor.MaxRetries)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}
