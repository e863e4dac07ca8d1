// Package config handles configuration loading and management for noode.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/omen4impact/noode/pkg/models"
)

// Config holds all configuration for the coordination core.
type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Review    ReviewConfig    `mapstructure:"review"`
	Gate      GateConfig      `mapstructure:"gate"`
	Lease     LeaseConfig     `mapstructure:"lease"`
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
}

// SchedulerConfig holds dispatch and retry settings.
type SchedulerConfig struct {
	// RetryBudget is the number of retries granted to a failing task before
	// it is marked failed.
	RetryBudget int `mapstructure:"retry_budget"`
	// RetryBackoff is the base backoff between retries; doubled per attempt.
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// RegistryConfig holds worker liveness settings.
type RegistryConfig struct {
	// HeartbeatInterval is how often workers are expected to report in.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// MaxMissedBeats is the number of consecutive missed liveness signals
	// before a worker is marked unavailable.
	MaxMissedBeats int `mapstructure:"max_missed_beats"`
	// CompatTable is the path to the YAML capability compatibility table.
	// Empty disables substitution entirely.
	CompatTable string `mapstructure:"compat_table"`
}

// ReviewConfig holds review-round settings.
type ReviewConfig struct {
	// IterationLimit is the maximum number of rejected-revised-reviewed
	// cycles for one change lineage before forced escalation.
	IterationLimit int `mapstructure:"iteration_limit"`
	// TierBudgets holds the per-tier review latency budget. The string
	// "unlimited" is an explicit sentinel meaning no cap.
	TierBudgets map[string]string `mapstructure:"tier_budgets"`
}

// GateConfig holds classifier settings.
type GateConfig struct {
	// SensitiveDomains lists capability domains that force tier 3.
	SensitiveDomains []string `mapstructure:"sensitive_domains"`
	// FindingWindow is how far back the classifier looks for prior
	// tier-3+ findings when deciding context-aware escalation.
	FindingWindow time.Duration `mapstructure:"finding_window"`
}

// LeaseConfig holds lease settings.
type LeaseConfig struct {
	// DeployTTL is the time-to-live granted on the deployment lease.
	DeployTTL time.Duration `mapstructure:"deploy_ttl"`
	// SweepInterval is how often expired leases are reaped.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	// Addr is the listen address for the collaborator API.
	Addr string `mapstructure:"addr"`
}

// StoreConfig holds audit store settings.
type StoreConfig struct {
	// Path is the SQLite database path. Empty selects the default under the
	// XDG data directory.
	Path string `mapstructure:"path"`
}

// Budget is a review latency budget. The zero value means "not configured";
// Unlimited marks an explicit no-cap sentinel.
type Budget struct {
	Duration  time.Duration
	Unlimited bool
}

// ParseBudget parses a budget string. "unlimited" yields the sentinel;
// anything else must be a Go duration.
func ParseBudget(s string) (Budget, error) {
	if s == "unlimited" {
		return Budget{Unlimited: true}, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return Budget{}, fmt.Errorf("parse budget %q: %w", s, err)
	}
	return Budget{Duration: d}, nil
}

// TierBudget returns the review latency budget for a tier. Unconfigured
// tiers 3 and 4 default to unlimited; lower tiers default to one minute.
func (c *ReviewConfig) TierBudget(tier models.Tier) (Budget, error) {
	if s, ok := c.TierBudgets[tier.String()]; ok {
		return ParseBudget(s)
	}
	if tier >= models.Tier3 {
		return Budget{Unlimited: true}, nil
	}
	return Budget{Duration: time.Minute}, nil
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables. Precedence (highest to lowest):
//  1. Environment variables (NOODE_*)
//  2. Project config (.noode.yaml in current directory or parent)
//  3. User config (~/.config/noode/config.yaml)
//  4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("NOODE")
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("scheduler.retry_budget", 2)
	v.SetDefault("scheduler.retry_backoff", "2s")

	v.SetDefault("registry.heartbeat_interval", "10s")
	v.SetDefault("registry.max_missed_beats", 3)
	v.SetDefault("registry.compat_table", "")

	v.SetDefault("review.iteration_limit", 3)
	v.SetDefault("review.tier_budgets", map[string]string{
		"tier-0": "0s",
		"tier-1": "30s",
		"tier-2": "5m",
		"tier-3": "unlimited",
		"tier-4": "unlimited",
	})

	v.SetDefault("gate.sensitive_domains", []string{"authentication", "payment", "schema"})
	v.SetDefault("gate.finding_window", "168h")

	v.SetDefault("lease.deploy_ttl", "2m")
	v.SetDefault("lease.sweep_interval", "5s")

	v.SetDefault("server.addr", ":8642")
	v.SetDefault("store.path", "")
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			RetryBudget:  2,
			RetryBackoff: 2 * time.Second,
		},
		Registry: RegistryConfig{
			HeartbeatInterval: 10 * time.Second,
			MaxMissedBeats:    3,
		},
		Review: ReviewConfig{
			IterationLimit: 3,
			TierBudgets: map[string]string{
				"tier-0": "0s",
				"tier-1": "30s",
				"tier-2": "5m",
				"tier-3": "unlimited",
				"tier-4": "unlimited",
			},
		},
		Gate: GateConfig{
			SensitiveDomains: []string{"authentication", "payment", "schema"},
			FindingWindow:    168 * time.Hour,
		},
		Lease: LeaseConfig{
			DeployTTL:     2 * time.Minute,
			SweepInterval: 5 * time.Second,
		},
		Server: ServerConfig{Addr: ":8642"},
	}
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// getUserConfigDir returns the XDG config directory for noode.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "noode")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "noode")
	}
	return filepath.Join(home, ".config", "noode")
}

// findProjectConfig searches for .noode.yaml in the current directory and
// parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, ".noode.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}
	return ""
}
