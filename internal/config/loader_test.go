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

	assert.Equal(t, "copy", cfg.Isolation)
	assert.False(t, cfg.UnsafeTools)
	assert.Equal(t, 4, cfg.Pool.MaxWorkers)
	assert.Equal(t, 30*time.Minute, cfg.Pool.CollectTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Pool.StallTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NotEmpty(t, cfg.RunRoot)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
run_root: /tmp/overseer-test
isolation: worktree
pool:
  max_workers: 2
  stall_timeout: 5m
logging:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/overseer-test", cfg.RunRoot)
	assert.Equal(t, "worktree", cfg.Isolation)
	assert.Equal(t, 2, cfg.Pool.MaxWorkers)
	assert.Equal(t, 5*time.Minute, cfg.Pool.StallTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("OVERSEER_POOL_MAX_WORKERS", "7")
	t.Setenv("OVERSEER_ISOLATION", "worktree")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Pool.MaxWorkers)
	assert.Equal(t, "worktree", cfg.Isolation)
}

func TestLoad_InvalidIsolation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("isolation: chroot\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "isolation")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
