// Package config loads the changegate configuration and translates it into
// the frozen configs the engine components take at construction.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/changegate/changegate/internal/gate"
	"github.com/changegate/changegate/internal/risk"
	"github.com/changegate/changegate/internal/sandbox"
	"github.com/changegate/changegate/internal/scan"
)

// Config holds the global changegate configuration.
type Config struct {
	// ContentRoot is the directory target units live under. Target paths in
	// proposals are always relative to it.
	ContentRoot string            `yaml:"content_root"`
	Store       StoreConfig       `yaml:"store"`
	Audit       AuditConfig       `yaml:"audit"`
	Scan        ScanConfig        `yaml:"scan"`
	Sensitivity SensitivityConfig `yaml:"sensitivity"`
	Risk        RiskConfig        `yaml:"risk"`
	Sandbox     SandboxConfig     `yaml:"sandbox"`
	Policy      PolicyConfig      `yaml:"policy"`
	Daemon      DaemonConfig      `yaml:"daemon"`
}

// StoreConfig selects the ledger record store.
type StoreConfig struct {
	// Driver is "sqlite", "postgres", or "memory".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// AuditConfig controls audit log settings.
type AuditConfig struct {
	Path string `yaml:"path"`
}

// ScanConfig controls the pattern scanner's allowlists.
type ScanConfig struct {
	AllowedLoads       []string `yaml:"allowed_loads"`
	AllowedDeleteRoots []string `yaml:"allowed_delete_roots"`
}

// SensitivityConfig marks target paths as high sensitivity by glob.
type SensitivityConfig struct {
	HighPaths []string `yaml:"high_paths"`
}

// RiskConfig controls the classifier thresholds.
type RiskConfig struct {
	WarningCap           string  `yaml:"warning_cap"`
	LargeChangeBytes     int     `yaml:"large_change_bytes"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold"`
}

// SandboxConfig controls sandbox execution limits.
type SandboxConfig struct {
	Timeout     string `yaml:"timeout"`
	MaxSteps    uint64 `yaml:"max_steps"`
	MaxMemoryMB uint64 `yaml:"max_memory_mb"`
	MaxOutputKB int    `yaml:"max_output_kb"`
}

// PolicyConfig controls the policy gate.
type PolicyConfig struct {
	// AutoApplyEnabled: nil = default (enabled).
	AutoApplyEnabled *bool `yaml:"auto_apply_enabled"`
	MaxRefinements   int   `yaml:"max_refinements"`
}

// DaemonConfig controls review daemon behavior.
type DaemonConfig struct {
	// Enabled: nil = auto (try daemon, fall back to in-process),
	// true = require daemon, false = always in-process.
	Enabled     *bool  `yaml:"enabled"`
	IdleTimeout string `yaml:"idle_timeout"`
	// Socket overrides the daemon socket path. Empty uses the runtime dir.
	Socket string `yaml:"socket"`
}

// DefaultIdleTimeout is used when no idle_timeout is configured.
const DefaultIdleTimeout = 5 * time.Minute

// IdleTimeoutDuration parses the configured idle timeout or returns the default.
func (d *DaemonConfig) IdleTimeoutDuration() time.Duration {
	if d.IdleTimeout != "" {
		dur, err := time.ParseDuration(d.IdleTimeout)
		if err == nil {
			return dur
		}
	}
	return DefaultIdleTimeout
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		ContentRoot: ".",
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    filepath.Join(home, ".local", "share", "changegate", "ledger.db"),
		},
		Audit: AuditConfig{
			Path: filepath.Join(home, ".local", "share", "changegate", "audit.jsonl"),
		},
	}
}

// Load reads the config from the standard location (~/.config/changegate/config.yaml).
// If the file doesn't exist, returns the default config.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	path := filepath.Join(home, ".config", "changegate", "config.yaml")
	return LoadFrom(path)
}

// LoadFrom reads the config from the given path.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.Audit.Path = expandHome(cfg.Audit.Path)
	cfg.Store.DSN = expandHome(cfg.Store.DSN)
	cfg.ContentRoot = expandHome(cfg.ContentRoot)
	cfg.Daemon.Socket = expandHome(cfg.Daemon.Socket)

	return cfg, nil
}

func expandHome(path string) string {
	if path != "" && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

// ScannerConfig builds the pattern scanner config.
func (c *Config) ScannerConfig() scan.Config {
	return scan.Config{
		AllowedLoads:       c.Scan.AllowedLoads,
		AllowedDeleteRoots: c.Scan.AllowedDeleteRoots,
	}
}

// ClassifierConfig builds the risk classifier config. An unparseable or
// missing warning cap falls back to the classifier default.
func (c *Config) ClassifierConfig() risk.Config {
	cfg := risk.DefaultConfig()
	if c.Risk.WarningCap != "" {
		if level, err := risk.ParseSafetyLevel(c.Risk.WarningCap); err == nil {
			cfg.WarningCap = level
		}
	}
	if c.Risk.LargeChangeBytes > 0 {
		cfg.LargeChangeBytes = c.Risk.LargeChangeBytes
	}
	if c.Risk.FailureRateThreshold > 0 {
		cfg.FailureRateThreshold = c.Risk.FailureRateThreshold
	}
	return cfg
}

// SandboxLimits builds the sandbox limits.
func (c *Config) SandboxLimits() sandbox.Limits {
	limits := sandbox.DefaultLimits()
	if c.Sandbox.Timeout != "" {
		if dur, err := time.ParseDuration(c.Sandbox.Timeout); err == nil && dur > 0 {
			limits.Timeout = dur
		}
	}
	if c.Sandbox.MaxSteps > 0 {
		limits.MaxSteps = c.Sandbox.MaxSteps
	}
	if c.Sandbox.MaxMemoryMB > 0 {
		limits.MaxMemoryBytes = c.Sandbox.MaxMemoryMB << 20
	}
	if c.Sandbox.MaxOutputKB > 0 {
		limits.MaxOutputBytes = c.Sandbox.MaxOutputKB * 1024
	}
	return limits
}

// GateConfig builds the policy gate config.
func (c *Config) GateConfig() gate.Config {
	cfg := gate.DefaultConfig()
	if c.Policy.AutoApplyEnabled != nil {
		cfg.AutoApplyEnabled = *c.Policy.AutoApplyEnabled
	}
	if c.Policy.MaxRefinements > 0 {
		cfg.MaxRefinements = c.Policy.MaxRefinements
	}
	return cfg
}

// SensitivityFor classifies a target path against the configured globs.
// Globs match either the full path or its base name.
func (c *Config) SensitivityFor(target string) risk.Sensitivity {
	for _, pattern := range c.Sensitivity.HighPaths {
		if ok, _ := filepath.Match(pattern, target); ok {
			return risk.SensitivityHigh
		}
		if ok, _ := filepath.Match(pattern, filepath.Base(target)); ok {
			return risk.SensitivityHigh
		}
	}
	return risk.SensitivityNormal
}

// ConfigPath returns the standard config file path.
func ConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "changegate", "config.yaml")
}
