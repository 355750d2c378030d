// Package config loads migrant's configuration with precedence:
// defaults -> YAML file -> environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure. It is read-only after
// Load returns and safe for concurrent reads.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Migration  MigrationConfig  `yaml:"migration"`
	Retry      RetryConfig      `yaml:"retry"`
	Backfill   BackfillConfig   `yaml:"backfill"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig contains admin HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// MigrationConfig contains the migration:// connection string and
// default routing phase.
type MigrationConfig struct {
	URL          string `yaml:"url"`
	DefaultPhase string `yaml:"default_phase"`
}

// RetryConfig contains secondary-write retry queue settings.
type RetryConfig struct {
	MaxSize        int      `yaml:"max_size"`
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
	MaxAttempts    int      `yaml:"max_attempts"`
}

// BackfillConfig contains paged-copy settings.
type BackfillConfig struct {
	PageSize             int      `yaml:"page_size"`
	Concurrency          int      `yaml:"concurrency"`
	MaxErrorsBeforePause int      `yaml:"max_errors_before_pause"`
	MaxErrorsToRetain    int      `yaml:"max_errors_to_retain"`
	FailFast             bool     `yaml:"fail_fast"`
	DelayBetweenBatches  Duration `yaml:"delay_between_batches"`
}

// CheckpointConfig contains S3-compatible backfill checkpoint storage
// settings. Bucket empty means checkpointing is disabled.
type CheckpointConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"-"` // env-only, never in YAML
	SecretKey string `yaml:"-"` // env-only, never in YAML
	Region    string `yaml:"region"`
	UseSSL    *bool  `yaml:"use_ssl"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string
// parsing ("30s", "5m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults -> YAML file ->
// env vars.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("MIGRANT_CONFIG_PATH", "config/migrant.yaml")
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a specific path. The file must
// exist. Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8090,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Migration: MigrationConfig{
			DefaultPhase: "SOURCE_ONLY",
		},
		Retry: RetryConfig{
			MaxSize:        10000,
			InitialBackoff: Duration(100 * time.Millisecond),
			MaxBackoff:     Duration(5 * time.Second),
			MaxAttempts:    3,
		},
		Backfill: BackfillConfig{
			PageSize:             1000,
			Concurrency:          4,
			MaxErrorsBeforePause: 100,
			MaxErrorsToRetain:    100,
			FailFast:             false,
			DelayBetweenBatches:  0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIGRANT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("MIGRANT_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = Duration(d)
		}
	}
	if v := os.Getenv("MIGRANT_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = Duration(d)
		}
	}

	if v := os.Getenv("MIGRANT_URL"); v != "" {
		cfg.Migration.URL = v
	}
	if v := os.Getenv("MIGRANT_DEFAULT_PHASE"); v != "" {
		cfg.Migration.DefaultPhase = v
	}

	if v := os.Getenv("MIGRANT_RETRY_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.MaxSize = n
		}
	}
	if v := os.Getenv("MIGRANT_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.MaxAttempts = n
		}
	}

	if v := os.Getenv("MIGRANT_BACKFILL_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backfill.PageSize = n
		}
	}
	if v := os.Getenv("MIGRANT_BACKFILL_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backfill.Concurrency = n
		}
	}

	if v := os.Getenv("MIGRANT_CHECKPOINT_BUCKET"); v != "" {
		cfg.Checkpoint.Bucket = v
	}
	if v := os.Getenv("MIGRANT_CHECKPOINT_ENDPOINT"); v != "" {
		cfg.Checkpoint.Endpoint = v
	}
	if v := os.Getenv("MIGRANT_CHECKPOINT_ACCESS_KEY"); v != "" {
		cfg.Checkpoint.AccessKey = v
	}
	if v := os.Getenv("MIGRANT_CHECKPOINT_SECRET_KEY"); v != "" {
		cfg.Checkpoint.SecretKey = v
	}

	if v := os.Getenv("MIGRANT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("MIGRANT_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks that required configuration values are set.
func (c *Config) validate() error {
	if c.Migration.URL == "" {
		return errors.New("MIGRANT_URL (migration.url) is required")
	}
	if c.Checkpoint.Bucket != "" && (c.Checkpoint.AccessKey == "" || c.Checkpoint.SecretKey == "") {
		return errors.New("checkpoint bucket configured without access credentials")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
