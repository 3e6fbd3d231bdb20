// Package config loads and validates atelier's process-wide configuration.
// Configuration is read once at startup and treated as immutable afterwards;
// nothing in the core mutates it at runtime.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all atelier configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// StateDir is where atelier keeps its own state: logs, the signing key
	// salt, and the audit database. Defaults to ~/.atelier.
	StateDir string `yaml:"state_dir"`

	// Session lifecycle and capacity
	Sessions SessionsConfig `yaml:"sessions"`

	// Persistence pipeline
	Persistence PersistenceConfig `yaml:"persistence"`

	// Rate limiting
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Security boundary checks
	Security SecurityConfig `yaml:"security"`

	// Default LLM parameters for new sessions
	LLM LLMConfig `yaml:"llm"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// SessionsConfig bounds the live session population.
type SessionsConfig struct {
	// MaxSessions caps how many sessions may run at once.
	MaxSessions int `yaml:"max_sessions"`

	// StopTimeout bounds how long StopSession waits for a clean shutdown.
	StopTimeout string `yaml:"stop_timeout"`
}

// PersistenceConfig configures the sign-save-resume pipeline.
type PersistenceConfig struct {
	// SessionsDir is where closed sessions are persisted as {id}.json.
	SessionsDir string `yaml:"sessions_dir"`

	// MaxFileSizeBytes rejects persisted files above this size before parsing.
	MaxFileSizeBytes int64 `yaml:"max_file_size_bytes"`

	// CleanupMaxAgeDays is the default age cutoff for `atelier cleanup`.
	CleanupMaxAgeDays int `yaml:"cleanup_max_age_days"`
}

// RateLimitConfig configures the sliding-window limiter guarding resume.
type RateLimitConfig struct {
	ResumeLimit   int    `yaml:"resume_limit"`   // attempts per window per id
	ResumeWindow  string `yaml:"resume_window"`  // e.g. "60s"
	SweepInterval string `yaml:"sweep_interval"` // idle key eviction period
}

// SecurityConfig configures the path validator.
type SecurityConfig struct {
	// CheckOwnership additionally requires validated files to be owned by
	// the current uid. Off by default; shared checkouts break it.
	CheckOwnership bool `yaml:"check_ownership"`
}

// LLMConfig holds the default provider parameters new sessions inherit.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Timeout     string  `yaml:"timeout"`
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	stateDir := filepath.Join(home, ".atelier")

	return &Config{
		Name:     "atelier",
		Version:  "0.4.0",
		StateDir: stateDir,

		Sessions: SessionsConfig{
			MaxSessions: 10,
			StopTimeout: "10s",
		},

		Persistence: PersistenceConfig{
			SessionsDir:       filepath.Join(stateDir, "sessions"),
			MaxFileSizeBytes:  10 * 1024 * 1024,
			CleanupMaxAgeDays: 30,
		},

		RateLimit: RateLimitConfig{
			ResumeLimit:   5,
			ResumeWindow:  "60s",
			SweepInterval: "5m",
		},

		Security: SecurityConfig{
			CheckOwnership: false,
		},

		LLM: LLMConfig{
			Provider:    "zai",
			Model:       "glm-4.6",
			Temperature: 0.7,
			MaxTokens:   8192,
			Timeout:     "120s",
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides lets the environment override file values.
// Only the knobs that matter for scripted/CI usage are exposed.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ATELIER_STATE_DIR"); v != "" {
		c.StateDir = v
	}
	if v := os.Getenv("ATELIER_SESSIONS_DIR"); v != "" {
		c.Persistence.SessionsDir = v
	}
	if v := os.Getenv("ATELIER_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("ATELIER_MODEL"); v != "" {
		c.LLM.Model = v
	}
}

// Validate checks that configured values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Sessions.MaxSessions < 1 {
		return fmt.Errorf("sessions.max_sessions must be >= 1")
	}
	if c.Persistence.MaxFileSizeBytes < 1024 {
		return fmt.Errorf("persistence.max_file_size_bytes must be >= 1024")
	}
	if c.Persistence.SessionsDir == "" {
		return fmt.Errorf("persistence.sessions_dir must not be empty")
	}
	if c.RateLimit.ResumeLimit < 1 {
		return fmt.Errorf("rate_limit.resume_limit must be >= 1")
	}
	if _, err := c.ResumeWindow(); err != nil {
		return fmt.Errorf("rate_limit.resume_window: %w", err)
	}
	if _, err := c.SweepInterval(); err != nil {
		return fmt.Errorf("rate_limit.sweep_interval: %w", err)
	}
	if _, err := c.StopTimeout(); err != nil {
		return fmt.Errorf("sessions.stop_timeout: %w", err)
	}
	return nil
}

// ResumeWindow parses the configured resume rate-limit window.
func (c *Config) ResumeWindow() (time.Duration, error) {
	return time.ParseDuration(c.RateLimit.ResumeWindow)
}

// SweepInterval parses the configured limiter sweep interval.
func (c *Config) SweepInterval() (time.Duration, error) {
	return time.ParseDuration(c.RateLimit.SweepInterval)
}

// StopTimeout parses the configured session stop timeout.
func (c *Config) StopTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Sessions.StopTimeout)
}
