// Package config loads tasksync settings from the config file, environment
// variables, and defaults, in that order of increasing precedence for env
// overrides and decreasing for defaults.
//
// The file lives at ~/.tasksync/config.yaml unless overridden; environment
// variables use the TASKSYNC_ prefix with underscores for nesting
// (TASKSYNC_SYNC_BATCH_SIZE, TASKSYNC_REMOTE_BASE_URL, ...).
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

// Config holds all recognized settings.
type Config struct {
	// DBPath is the SQLite database location.
	DBPath string `yaml:"db_path"`

	Remote struct {
		// BaseURL of the sync peer, e.g. https://sync.example.com/api.
		BaseURL string `yaml:"base_url"`
		// RequestTimeout bounds each request to the peer.
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"remote"`

	Sync struct {
		BatchSize  int `yaml:"batch_size"`
		MaxRetries int `yaml:"max_retries"`
		Workers    int `yaml:"workers"`
		// Interval between daemon-triggered passes.
		Interval time.Duration `yaml:"interval"`
	} `yaml:"sync"`

	Daemon struct {
		// InboxDir is watched for dropped task JSON files. Empty disables
		// the watcher.
		InboxDir string `yaml:"inbox_dir"`
		// LogFile receives rotated daemon logs. Empty logs to stderr.
		LogFile string `yaml:"log_file"`
		// DashboardPort serves the websocket event feed. 0 disables it.
		DashboardPort int `yaml:"dashboard_port"`
	} `yaml:"daemon"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.DBPath = filepath.Join(baseDir(), "tasks.db")
	cfg.Remote.BaseURL = "http://localhost:9090"
	cfg.Remote.RequestTimeout = 10 * time.Second
	cfg.Sync.BatchSize = 50
	cfg.Sync.MaxRetries = 3
	cfg.Sync.Workers = 4
	cfg.Sync.Interval = 30 * time.Second
	cfg.Daemon.DashboardPort = 8080
	return cfg
}

// Load reads configuration. If path is empty, ~/.tasksync/config.yaml is
// tried; a missing file is not an error, defaults and env apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	def := Default()

	v.SetDefault("db_path", def.DBPath)
	v.SetDefault("remote.base_url", def.Remote.BaseURL)
	v.SetDefault("remote.request_timeout", def.Remote.RequestTimeout)
	v.SetDefault("sync.batch_size", def.Sync.BatchSize)
	v.SetDefault("sync.max_retries", def.Sync.MaxRetries)
	v.SetDefault("sync.workers", def.Sync.Workers)
	v.SetDefault("sync.interval", def.Sync.Interval)
	v.SetDefault("daemon.inbox_dir", "")
	v.SetDefault("daemon.log_file", "")
	v.SetDefault("daemon.dashboard_port", def.Daemon.DashboardPort)

	v.SetEnvPrefix("TASKSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(baseDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	cfg.DBPath = v.GetString("db_path")
	cfg.Remote.BaseURL = v.GetString("remote.base_url")
	cfg.Remote.RequestTimeout = v.GetDuration("remote.request_timeout")
	cfg.Sync.BatchSize = v.GetInt("sync.batch_size")
	cfg.Sync.MaxRetries = v.GetInt("sync.max_retries")
	cfg.Sync.Workers = v.GetInt("sync.workers")
	cfg.Sync.Interval = v.GetDuration("sync.interval")
	cfg.Daemon.InboxDir = v.GetString("daemon.inbox_dir")
	cfg.Daemon.LogFile = v.GetString("daemon.log_file")
	cfg.Daemon.DashboardPort = v.GetInt("daemon.dashboard_port")

	return cfg, nil
}

// WriteTemplate writes the default configuration to path as yaml, creating
// parent directories. Refuses to overwrite an existing file.
func WriteTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	return filepath.Join(baseDir(), "config.yaml")
}

// baseDir returns the tasksync home directory.
func baseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".tasksync")
}
