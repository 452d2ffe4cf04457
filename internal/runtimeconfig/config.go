// Package runtimeconfig loads the simulator's tunables (tick interval,
// sandbox resource caps, translate backend) by layering defaults, a YAML
// file, then env overrides.
package runtimeconfig

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Limits bundles every resource cap the sandbox, queue, and event console
// enforce.
type Limits struct {
	MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	KillSwitchMargin time.Duration `yaml:"kill_switch_margin"`
	MaxMemoryBytes   int64         `yaml:"max_memory_bytes"`
	MaxStackBytes    int64         `yaml:"max_stack_bytes"`
	MaxConsoleLines  int           `yaml:"max_console_lines"`
	MaxLogLineChars  int           `yaml:"max_log_line_chars"`
	MaxOps           int           `yaml:"max_ops"`
	MaxJobsPerTick   int           `yaml:"max_jobs_per_tick"`
	MaxOutputChars   int           `yaml:"max_output_chars"`
	MaxQueueSize     int           `yaml:"max_queue_size"`
	MaxEvents        int           `yaml:"max_events"`
	MaxStateBytes    int           `yaml:"max_state_bytes"`
}

// Config is the full set of runtime tunables.
type Config struct {
	TickIntervalMs int64  `yaml:"tick_interval_ms"`
	RuntimeMode    string `yaml:"runtime_mode"` // "auto" | "step"
	TranslateURL   string `yaml:"translate_url"`
	Limits         Limits `yaml:"limits"`
}

// Default returns the stock limits at 1x speed.
func Default() Config {
	return Config{
		TickIntervalMs: 2000,
		RuntimeMode:    "auto",
		Limits: Limits{
			MaxExecutionTime: 5 * time.Second,
			KillSwitchMargin: 250 * time.Millisecond,
			MaxMemoryBytes:   10 << 20,
			MaxStackBytes:    1 << 20,
			MaxConsoleLines:  200,
			MaxLogLineChars:  2000,
			MaxOps:           200,
			MaxJobsPerTick:   10,
			MaxOutputChars:   10_000,
			MaxQueueSize:     100,
			MaxEvents:        1000,
			MaxStateBytes:    200 * 1024,
		},
	}
}

// Load applies defaults, then an optional YAML file, then CANVAS_* env overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config file: %w", err)
			}
		} else if len(bytes.TrimSpace(data)) > 0 {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := lookupEnv("CANVAS_TICK_INTERVAL_MS"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TickIntervalMs = n
		}
	}
	if v, ok := lookupEnv("CANVAS_RUNTIME_MODE"); ok {
		v = strings.TrimSpace(strings.ToLower(v))
		if v == "auto" || v == "step" {
			cfg.RuntimeMode = v
		}
	}
	if v, ok := lookupEnv("CANVAS_TRANSLATE_URL"); ok {
		cfg.TranslateURL = v
	}
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}
