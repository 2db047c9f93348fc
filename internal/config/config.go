package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roshanlam/iFetch/internal/logging"
	"github.com/roshanlam/iFetch/internal/progress"
)

// Config defines configuration for the ifetch CLI.
type Config struct {
	BaseURL   string         `yaml:"base_url"`
	Username  string         `yaml:"username"`
	Source    string         `yaml:"source"`
	Dest      string         `yaml:"dest"`
	Workers   int            `yaml:"workers"`
	ChunkSize int64          `yaml:"chunk_size"`
	Progress  bool           `yaml:"progress"`
	Archive   bool           `yaml:"archive"`
	Retry     RetryConfig    `yaml:"retry"`
	Profiles  string         `yaml:"profiles"` // profiles YAML path
	Profile   string         `yaml:"profile"`  // active profile name
	StateURL  string         `yaml:"state_url"`  // checkpoint bucket, blob URL
	IndexFile string         `yaml:"index_file"` // completed-files index, empty disables
	Logging   logging.Config `yaml:"logging"`
}

// RetryConfig defines per-chunk retry behavior.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Workers:   4,
		ChunkSize: 1 << 20, // 1MB
		Archive:   true,
		Retry: RetryConfig{
			Attempts:   3,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "console",
		},
	}
}

// yamlConfig is used for YAML unmarshaling with human-readable sizes and
// durations.
type yamlConfig struct {
	BaseURL   string          `yaml:"base_url"`
	Username  string          `yaml:"username"`
	Source    string          `yaml:"source"`
	Dest      string          `yaml:"dest"`
	Workers   int             `yaml:"workers"`
	ChunkSize string          `yaml:"chunk_size"`
	Progress  bool            `yaml:"progress"`
	Archive   *bool           `yaml:"archive"`
	Retry     yamlRetryConfig `yaml:"retry"`
	Profiles  string          `yaml:"profiles"`
	Profile   string          `yaml:"profile"`
	StateURL  string          `yaml:"state_url"`
	IndexFile string          `yaml:"index_file"`
	Logging   logging.Config  `yaml:"logging"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file on top of defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.BaseURL != "" {
		cfg.BaseURL = yc.BaseURL
	}
	if yc.Username != "" {
		cfg.Username = yc.Username
	}
	if yc.Source != "" {
		cfg.Source = yc.Source
	}
	if yc.Dest != "" {
		cfg.Dest = yc.Dest
	}
	if yc.Workers != 0 {
		cfg.Workers = yc.Workers
	}
	if yc.ChunkSize != "" {
		size, err := progress.ParseBytes(yc.ChunkSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse chunk_size: %w", err)
		}
		cfg.ChunkSize = size
	}
	cfg.Progress = yc.Progress
	if yc.Archive != nil {
		cfg.Archive = *yc.Archive
	}
	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}
	if yc.Retry.Backoff != "" {
		d, err := time.ParseDuration(yc.Retry.Backoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.backoff: %w", err)
		}
		cfg.Retry.Backoff = d
	}
	if yc.Retry.MaxBackoff != "" {
		d, err := time.ParseDuration(yc.Retry.MaxBackoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.max_backoff: %w", err)
		}
		cfg.Retry.MaxBackoff = d
	}
	if yc.Profiles != "" {
		cfg.Profiles = yc.Profiles
	}
	if yc.Profile != "" {
		cfg.Profile = yc.Profile
	}
	if yc.StateURL != "" {
		cfg.StateURL = yc.StateURL
	}
	if yc.IndexFile != "" {
		cfg.IndexFile = yc.IndexFile
	}
	if yc.Logging.Level != "" {
		cfg.Logging.Level = yc.Logging.Level
	}
	if yc.Logging.Format != "" {
		cfg.Logging.Format = yc.Logging.Format
	}
	if yc.Logging.OutputPath != "" {
		cfg.Logging.OutputPath = yc.Logging.OutputPath
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the IFETCH_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("IFETCH_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("IFETCH_USERNAME"); v != "" {
		c.Username = v
	}
	if v := os.Getenv("IFETCH_SOURCE"); v != "" {
		c.Source = v
	}
	if v := os.Getenv("IFETCH_DEST"); v != "" {
		c.Dest = v
	}
	if v := os.Getenv("IFETCH_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse IFETCH_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("IFETCH_CHUNK_SIZE"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse IFETCH_CHUNK_SIZE: %w", err)
		}
		c.ChunkSize = size
	}
	if v := os.Getenv("IFETCH_PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}
	if v := os.Getenv("IFETCH_ARCHIVE"); v != "" {
		c.Archive = v == "true" || v == "1"
	}
	if v := os.Getenv("IFETCH_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse IFETCH_RETRY_ATTEMPTS: %w", err)
		}
		c.Retry.Attempts = n
	}
	if v := os.Getenv("IFETCH_RETRY_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse IFETCH_RETRY_BACKOFF: %w", err)
		}
		c.Retry.Backoff = d
	}
	if v := os.Getenv("IFETCH_RETRY_MAX_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse IFETCH_RETRY_MAX_BACKOFF: %w", err)
		}
		c.Retry.MaxBackoff = d
	}
	if v := os.Getenv("IFETCH_PROFILES"); v != "" {
		c.Profiles = v
	}
	if v := os.Getenv("IFETCH_PROFILE"); v != "" {
		c.Profile = v
	}
	if v := os.Getenv("IFETCH_STATE_URL"); v != "" {
		c.StateURL = v
	}
	if v := os.Getenv("IFETCH_INDEX_FILE"); v != "" {
		c.IndexFile = v
	}
	if v := os.Getenv("IFETCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("IFETCH_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("config: base_url is required")
	}
	if c.Source == "" {
		return errors.New("config: source is required")
	}
	if c.Dest == "" {
		return errors.New("config: dest is required")
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: chunk_size must be positive")
	}
	if c.Retry.Attempts <= 0 {
		return errors.New("config: retry.attempts must be positive")
	}
	if c.Profile != "" && c.Profiles == "" {
		return errors.New("config: profile requires a profiles file")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.BaseURL != "" {
		c.BaseURL = override.BaseURL
	}
	if override.Username != "" {
		c.Username = override.Username
	}
	if override.Source != "" {
		c.Source = override.Source
	}
	if override.Dest != "" {
		c.Dest = override.Dest
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.ChunkSize != 0 {
		c.ChunkSize = override.ChunkSize
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	if override.Profiles != "" {
		c.Profiles = override.Profiles
	}
	if override.Profile != "" {
		c.Profile = override.Profile
	}
	if override.StateURL != "" {
		c.StateURL = override.StateURL
	}
	if override.IndexFile != "" {
		c.IndexFile = override.IndexFile
	}
	if override.Logging.Level != "" {
		c.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		c.Logging.Format = override.Logging.Format
	}
	return c
}
