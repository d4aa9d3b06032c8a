// Package config loads daemon configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	DataDir      string             `mapstructure:"data_dir" yaml:"data_dir"`
	Remote       RemoteConfig       `mapstructure:"remote" yaml:"remote"`
	Sync         SyncConfig         `mapstructure:"sync" yaml:"sync"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity" yaml:"connectivity"`
	Import       ImportConfig       `mapstructure:"import" yaml:"import"`
	Dashboard    DashboardConfig    `mapstructure:"dashboard" yaml:"dashboard"`
	Log          LogConfig          `mapstructure:"log" yaml:"log"`
}

// RemoteConfig identifies the backend.
type RemoteConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SyncConfig holds the sync engine tunables.
type SyncConfig struct {
	EnableOfflineMode bool          `mapstructure:"enable_offline_mode" yaml:"enable_offline_mode"`
	SyncOnReconnect   bool          `mapstructure:"sync_on_reconnect" yaml:"sync_on_reconnect"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	BatchSize         int           `mapstructure:"batch_size" yaml:"batch_size"`
	Interval          time.Duration `mapstructure:"interval" yaml:"interval"`
	BackoffBase       time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	BackoffMax        time.Duration `mapstructure:"backoff_max" yaml:"backoff_max"`
	CallTimeout       time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
}

// ConnectivityConfig controls the reachability probe.
type ConnectivityConfig struct {
	ProbeInterval time.Duration `mapstructure:"probe_interval" yaml:"probe_interval"`
}

// ImportConfig controls the import inbox watcher.
type ImportConfig struct {
	InboxDir string `mapstructure:"inbox_dir" yaml:"inbox_dir"`
}

// DashboardConfig controls the local status dashboard.
type DashboardConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// LogConfig controls log output and rotation.
type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dataDir := filepath.Join(home, ".matchsync")
	return &Config{
		DataDir: dataDir,
		Remote: RemoteConfig{
			BaseURL: "http://localhost:8787",
			Timeout: 15 * time.Second,
		},
		Sync: SyncConfig{
			EnableOfflineMode: true,
			SyncOnReconnect:   true,
			MaxRetries:        5,
			BatchSize:         20,
			Interval:          30 * time.Second,
			BackoffBase:       2 * time.Second,
			BackoffMax:        5 * time.Minute,
			CallTimeout:       15 * time.Second,
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: 30 * time.Second,
		},
		Import: ImportConfig{
			InboxDir: filepath.Join(dataDir, "inbox"),
		},
		Dashboard: DashboardConfig{
			Enabled: false,
			Addr:    "127.0.0.1:8790",
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 30,
		},
	}
}

// DatabasePath returns the SQLite file path under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "matchsync.db")
}

// Validate checks the configuration bounds.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries must be >= 0 (got %d)", c.Sync.MaxRetries)
	}
	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("sync.batch_size must be >= 1 (got %d)", c.Sync.BatchSize)
	}
	if c.Sync.BackoffBase <= 0 {
		return fmt.Errorf("sync.backoff_base must be > 0 (got %s)", c.Sync.BackoffBase)
	}
	if c.Sync.BackoffMax < c.Sync.BackoffBase {
		return fmt.Errorf("sync.backoff_max must be >= sync.backoff_base")
	}
	if c.Dashboard.Enabled && c.Dashboard.Addr == "" {
		return fmt.Errorf("dashboard.addr must be set when the dashboard is enabled")
	}
	return nil
}

// Load reads configuration from path (or the default locations when path is
// empty), applies MATCHSYNC_* environment overrides, and fills unset values
// from defaults. A missing config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(filepath.Join("$HOME", ".matchsync"))
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("MATCHSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, Default())

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// WriteDefault writes a starter config with the default values to path,
// refusing to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("remote.base_url", d.Remote.BaseURL)
	v.SetDefault("remote.timeout", d.Remote.Timeout)
	v.SetDefault("sync.enable_offline_mode", d.Sync.EnableOfflineMode)
	v.SetDefault("sync.sync_on_reconnect", d.Sync.SyncOnReconnect)
	v.SetDefault("sync.max_retries", d.Sync.MaxRetries)
	v.SetDefault("sync.batch_size", d.Sync.BatchSize)
	v.SetDefault("sync.interval", d.Sync.Interval)
	v.SetDefault("sync.backoff_base", d.Sync.BackoffBase)
	v.SetDefault("sync.backoff_max", d.Sync.BackoffMax)
	v.SetDefault("sync.call_timeout", d.Sync.CallTimeout)
	v.SetDefault("connectivity.probe_interval", d.Connectivity.ProbeInterval)
	v.SetDefault("import.inbox_dir", d.Import.InboxDir)
	v.SetDefault("dashboard.enabled", d.Dashboard.Enabled)
	v.SetDefault("dashboard.addr", d.Dashboard.Addr)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
}
