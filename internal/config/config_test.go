package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestLoad_Defaults tests loading with no config file present
func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !cfg.Sync.EnableOfflineMode {
		t.Error("offline mode should default to enabled")
	}
	if cfg.Sync.MaxRetries != 5 || cfg.Sync.BatchSize != 20 {
		t.Errorf("sync defaults = %+v", cfg.Sync)
	}
	if cfg.DatabasePath() != filepath.Join(cfg.DataDir, "matchsync.db") {
		t.Errorf("DatabasePath() = %q", cfg.DatabasePath())
	}
}

// TestLoad_File tests YAML file overrides
func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
data_dir: /tmp/matchsync-test
remote:
  base_url: https://sync.example.com
sync:
  max_retries: 2
  interval: 10s
dashboard:
  enabled: true
  addr: 127.0.0.1:9999
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Remote.BaseURL != "https://sync.example.com" {
		t.Errorf("base url = %q", cfg.Remote.BaseURL)
	}
	if cfg.Sync.MaxRetries != 2 {
		t.Errorf("max retries = %d, want 2", cfg.Sync.MaxRetries)
	}
	if cfg.Sync.Interval != 10*time.Second {
		t.Errorf("interval = %s, want 10s", cfg.Sync.Interval)
	}
	// Unset values keep their defaults.
	if cfg.Sync.BatchSize != 20 {
		t.Errorf("batch size = %d, want default 20", cfg.Sync.BatchSize)
	}
	if !cfg.Dashboard.Enabled || cfg.Dashboard.Addr != "127.0.0.1:9999" {
		t.Errorf("dashboard = %+v", cfg.Dashboard)
	}
}

// TestLoad_InvalidValues tests validation at load time
func TestLoad_InvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("sync:\n  batch_size: 0\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load accepted batch_size 0")
	}
}

// TestLoad_MissingExplicitFile tests that a named missing file is an error
func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load accepted a missing explicit config path")
	}
}

// TestWriteDefault tests the starter-config writer
func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() failed: %v", err)
	}
	if err := WriteDefault(path); err == nil {
		t.Error("WriteDefault overwrote an existing file")
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() of written default failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("written default invalid: %v", err)
	}
}

// TestValidate_Bounds tests the individual bound checks
func TestValidate_Bounds(t *testing.T) {
	cfg := Default()
	cfg.Sync.MaxRetries = -1
	if err := cfg.Validate(); err == nil {
		t.Error("negative max_retries validated")
	}

	cfg = Default()
	cfg.Sync.BackoffMax = cfg.Sync.BackoffBase / 2
	if err := cfg.Validate(); err == nil {
		t.Error("backoff_max below backoff_base validated")
	}

	cfg = Default()
	cfg.Dashboard.Enabled = true
	cfg.Dashboard.Addr = ""
	if err := cfg.Validate(); err == nil {
		t.Error("enabled dashboard without addr validated")
	}
}
