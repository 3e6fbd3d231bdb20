package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig() should validate: %v", err)
	}
	if cfg.Sessions.MaxSessions != 10 {
		t.Errorf("MaxSessions = %d, want 10", cfg.Sessions.MaxSessions)
	}
	if cfg.Persistence.MaxFileSizeBytes != 10*1024*1024 {
		t.Errorf("MaxFileSizeBytes = %d", cfg.Persistence.MaxFileSizeBytes)
	}
	window, err := cfg.ResumeWindow()
	if err != nil {
		t.Fatalf("ResumeWindow: %v", err)
	}
	if window != 60*time.Second {
		t.Errorf("ResumeWindow = %v", window)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load missing file: %v", err)
	}
	if cfg.Sessions.MaxSessions != 10 {
		t.Errorf("expected defaults, got MaxSessions=%d", cfg.Sessions.MaxSessions)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Sessions.MaxSessions = 3
	cfg.Persistence.SessionsDir = filepath.Join(dir, "sessions")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Sessions.MaxSessions != 3 {
		t.Errorf("MaxSessions = %d, want 3", loaded.Sessions.MaxSessions)
	}
	if loaded.Persistence.SessionsDir != cfg.Persistence.SessionsDir {
		t.Errorf("SessionsDir = %q", loaded.Persistence.SessionsDir)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max sessions", func(c *Config) { c.Sessions.MaxSessions = 0 }},
		{"tiny size cap", func(c *Config) { c.Persistence.MaxFileSizeBytes = 10 }},
		{"empty sessions dir", func(c *Config) { c.Persistence.SessionsDir = "" }},
		{"zero resume limit", func(c *Config) { c.RateLimit.ResumeLimit = 0 }},
		{"bad window", func(c *Config) { c.RateLimit.ResumeWindow = "soon" }},
		{"bad stop timeout", func(c *Config) { c.Sessions.StopTimeout = "whenever" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() should fail")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("ATELIER_SESSIONS_DIR", filepath.Join(dir, "override"))
	os.Setenv("ATELIER_MODEL", "glm-4.7")
	defer os.Unsetenv("ATELIER_SESSIONS_DIR")
	defer os.Unsetenv("ATELIER_MODEL")

	cfg, err := Load(filepath.Join(dir, "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Persistence.SessionsDir != filepath.Join(dir, "override") {
		t.Errorf("SessionsDir = %q", cfg.Persistence.SessionsDir)
	}
	if cfg.LLM.Model != "glm-4.7" {
		t.Errorf("Model = %q", cfg.LLM.Model)
	}
}
