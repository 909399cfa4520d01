package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "OVERSEER_"

// Load loads configuration from a YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (OVERSEER_POOL_MAX_WORKERS, OVERSEER_RUN_ROOT, ...)
//  2. YAML config file
//  3. Defaults
//
// If configPath is empty the file step is skipped entirely.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// OVERSEER_POOL_MAX_WORKERS -> pool.max_workers
	// OVERSEER_RUN_ROOT -> run_root
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))

		for _, section := range []string{"pool", "logging"} {
			if strings.HasPrefix(lower, section+"_") {
				return section + "." + strings.TrimPrefix(lower, section+"_")
			}
		}
		return lower
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.RunRoot == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.RunRoot = filepath.Join(home, ".overseer", "runs")
		} else {
			cfg.RunRoot = filepath.Join(os.TempDir(), "overseer", "runs")
		}
	}
	if cfg.Workspace == "" {
		cfg.Workspace = "."
	}
	if cfg.Isolation == "" {
		cfg.Isolation = "copy"
	}
	if cfg.Pool.MaxWorkers == 0 {
		cfg.Pool.MaxWorkers = 4
	}
	if cfg.Pool.CollectTimeout == 0 {
		cfg.Pool.CollectTimeout = 30 * time.Minute
	}
	if cfg.Pool.StallTimeout == 0 {
		cfg.Pool.StallTimeout = 10 * time.Minute
	}
	if cfg.Pool.ProbeInterval == 0 {
		cfg.Pool.ProbeInterval = 15 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
