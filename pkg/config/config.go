// Package config loads runtime settings for the vault CLI: environment
// variables first, then an optional TOML file layered on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds every knob the orchestrator and CLI need at process start.
type Config struct {
	// StoreRoot is the default store directory used when a command is
	// invoked without an explicit --store flag.
	StoreRoot string

	// WatchDebounce is how long the watch command waits after the last
	// filesystem event before triggering a backup.
	WatchDebounce time.Duration

	// MetricsAddr is the listen address for serve-metrics.
	MetricsAddr string

	// PolicyFile, if non-empty, is loaded in place of the built-in
	// default policy table.
	PolicyFile string

	// OperatorRoleEnv names the environment variable identity.Resolve
	// reads for a role override.
	OperatorRoleEnv string

	// DefaultLabel is used for backups invoked without an explicit
	// --label flag.
	DefaultLabel string
}

// fileConfig mirrors Config's file-overridable fields for TOML decoding.
type fileConfig struct {
	StoreRoot       string `toml:"store_root"`
	WatchDebounceMS int64  `toml:"watch_debounce_ms"`
	MetricsAddr     string `toml:"metrics_addr"`
	PolicyFile      string `toml:"policy_file"`
	OperatorRoleEnv string `toml:"operator_role_env"`
	DefaultLabel    string `toml:"default_label"`
}

// Default returns the built-in configuration used when neither
// environment variables nor a config file override it.
func Default() *Config {
	return &Config{
		StoreRoot:       "./store",
		WatchDebounce:   500 * time.Millisecond,
		MetricsAddr:     ":9090",
		PolicyFile:      "",
		OperatorRoleEnv: "SNAPVAULT_OPERATOR_ROLE",
		DefaultLabel:    "manual",
	}
}

// LoadFromEnv applies SNAPVAULT_* environment variables over the default
// configuration.
func LoadFromEnv() *Config {
	cfg := Default()

	if v := os.Getenv("SNAPVAULT_STORE_ROOT"); v != "" {
		cfg.StoreRoot = v
	}
	if v := os.Getenv("SNAPVAULT_WATCH_DEBOUNCE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.WatchDebounce = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("SNAPVAULT_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("SNAPVAULT_POLICY_FILE"); v != "" {
		cfg.PolicyFile = v
	}
	if v := os.Getenv("SNAPVAULT_OPERATOR_ROLE_ENV"); v != "" {
		cfg.OperatorRoleEnv = v
	}
	if v := os.Getenv("SNAPVAULT_DEFAULT_LABEL"); v != "" {
		cfg.DefaultLabel = v
	}

	return cfg
}

// LoadFile layers a TOML config file's fields over cfg, leaving fields the
// file omits untouched. A missing file is not an error; callers that want
// a required file should os.Stat first.
func LoadFile(cfg *Config, path string) (*Config, error) {
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	out := *cfg
	if fc.StoreRoot != "" {
		out.StoreRoot = fc.StoreRoot
	}
	if fc.WatchDebounceMS > 0 {
		out.WatchDebounce = time.Duration(fc.WatchDebounceMS) * time.Millisecond
	}
	if fc.MetricsAddr != "" {
		out.MetricsAddr = fc.MetricsAddr
	}
	if fc.PolicyFile != "" {
		out.PolicyFile = fc.PolicyFile
	}
	if fc.OperatorRoleEnv != "" {
		out.OperatorRoleEnv = fc.OperatorRoleEnv
	}
	if fc.DefaultLabel != "" {
		out.DefaultLabel = fc.DefaultLabel
	}
	return &out, nil
}

// Validate checks that cfg's values are usable.
func (c *Config) Validate() error {
	if c.StoreRoot == "" {
		return fmt.Errorf("store root must not be empty")
	}
	if c.WatchDebounce <= 0 {
		return fmt.Errorf("watch debounce must be positive, got: %s", c.WatchDebounce)
	}
	if c.MetricsAddr == "" {
		return fmt.Errorf("metrics address must not be empty")
	}
	if c.OperatorRoleEnv == "" {
		return fmt.Errorf("operator role env var name must not be empty")
	}
	return nil
}

// Load combines LoadFromEnv and LoadFile: environment variables are read
// first, then overridden by configFile if it exists.
func Load(configFile string) (*Config, error) {
	cfg := LoadFromEnv()
	cfg, err := LoadFile(cfg, configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
