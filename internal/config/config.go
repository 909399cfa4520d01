// Package config provides configuration loading for overseer.
package config

import (
	"fmt"
	"time"

	"github.com/stackmesa/overseer/internal/logging"
)

// Config is the root engine configuration.
type Config struct {
	// RunRoot is the directory run artifacts are written under.
	RunRoot string `koanf:"run_root"`

	// Workspace is the source tree isolated workspaces are created from.
	Workspace string `koanf:"workspace"`

	// Isolation selects the workspace isolation strategy: "copy" or "worktree".
	Isolation string `koanf:"isolation"`

	// UnsafeTools enables dangerous tool execution. Never inferred.
	UnsafeTools bool `koanf:"unsafe_tools"`

	Pool    PoolConfig     `koanf:"pool"`
	Logging logging.Config `koanf:"logging"`
}

// PoolConfig configures the worker pool and health monitor.
type PoolConfig struct {
	// MaxWorkers is the concurrency ceiling for simultaneous runs.
	MaxWorkers int `koanf:"max_workers"`

	// CollectTimeout bounds the total wait for all workers.
	CollectTimeout time.Duration `koanf:"collect_timeout"`

	// StallTimeout marks a worker unhealthy after running this long.
	StallTimeout time.Duration `koanf:"stall_timeout"`

	// ProbeInterval is how often the health monitor classifies workers.
	ProbeInterval time.Duration `koanf:"probe_interval"`
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Isolation != "copy" && c.Isolation != "worktree" {
		return fmt.Errorf("invalid isolation strategy %q (expected copy or worktree)", c.Isolation)
	}
	if c.Pool.MaxWorkers < 1 {
		return fmt.Errorf("pool.max_workers must be >= 1, got %d", c.Pool.MaxWorkers)
	}
	if c.Pool.CollectTimeout <= 0 {
		return fmt.Errorf("pool.collect_timeout must be positive, got %s", c.Pool.CollectTimeout)
	}
	if c.Pool.StallTimeout <= 0 {
		return fmt.Errorf("pool.stall_timeout must be positive, got %s", c.Pool.StallTimeout)
	}
	if c.Pool.ProbeInterval <= 0 {
		return fmt.Errorf("pool.probe_interval must be positive, got %s", c.Pool.ProbeInterval)
	}
	return c.Logging.Validate()
}
