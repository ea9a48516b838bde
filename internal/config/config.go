// Package config loads agent configuration from an optional YAML file,
// environment variables, and defaults.
package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "github.com/timberline/fleetsync/internal/errors"
)

// Config is the full agent configuration.
type Config struct {
	DataDir     string            `mapstructure:"data_dir"`
	Remote      RemoteConfig      `mapstructure:"remote"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Attachments AttachmentsConfig `mapstructure:"attachments"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// RemoteConfig points at the central fleet service.
type RemoteConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
	Timeout string `mapstructure:"timeout"`
}

// GetTimeout parses the request timeout, falling back to 30s.
func (r RemoteConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(r.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// SyncConfig tunes the reconciliation machinery.
type SyncConfig struct {
	ProbeInterval string `mapstructure:"probe_interval"`
	Schedule      string `mapstructure:"schedule"`
	MaxRetries    int    `mapstructure:"max_retries"`
	MaxQueueItems int    `mapstructure:"max_queue_items"`
}

// GetProbeInterval parses the probe interval, falling back to 30s.
func (s SyncConfig) GetProbeInterval() time.Duration {
	d, err := time.ParseDuration(s.ProbeInterval)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// AttachmentsConfig bounds staged attachment bodies.
type AttachmentsConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes"`
}

// ServerConfig describes the local HTTP listener the SPA talks to.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from the given file (optional), FLEETSYNC_*
// environment variables, and built-in defaults, in that order of
// precedence from highest to lowest: env, file, defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("data_dir", "./data")
	v.SetDefault("remote.base_url", "http://localhost:8090")
	v.SetDefault("remote.timeout", "30s")
	v.SetDefault("sync.probe_interval", "30s")
	v.SetDefault("sync.schedule", "@every 5m")
	v.SetDefault("sync.max_retries", 5)
	v.SetDefault("sync.max_queue_items", 1000)
	v.SetDefault("attachments.max_bytes", 8<<20)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8787)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetEnvPrefix("FLEETSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			// A missing file is fine, the defaults and env cover it.
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to read config file", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to parse config", err)
	}

	return &cfg, nil
}
