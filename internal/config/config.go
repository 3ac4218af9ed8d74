package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the launcher config file looked up in the working
// directory when --config is not given.
const DefaultPath = "nodestrap.yaml"

// Config holds all nodestrap launcher settings. None of it reaches the
// generated node configuration file, which is fixed.
type Config struct {
	// BinaryPath is the daemon executable, relative to the install root.
	BinaryPath string `yaml:"binary_path"`

	// DataDir is the daemon data directory, relative to the working
	// directory unless absolute.
	DataDir string `yaml:"data_dir"`

	// TempDir holds the generated node config. Empty means the OS default.
	TempDir string `yaml:"temp_dir"`

	// ShutdownTimeout is how long the daemon gets to exit after SIGTERM
	// before it is killed.
	ShutdownTimeout string `yaml:"shutdown_timeout"`

	Retry    RetryConfig    `yaml:"retry"`
	Progress ProgressConfig `yaml:"progress"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BinaryPath:      filepath.Join("bin", "bitcoind"),
		DataDir:         "data",
		ShutdownTimeout: "2m",
		Retry: RetryConfig{
			MaxAttempts: 1,
			Delay:       "10s",
			MaxDelay:    "5m",
		},
		Progress: ProgressConfig{
			Enabled:  true,
			Interval: "30s",
			LogFile:  "debug.log",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the config at path on top of the defaults and applies
// environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save writes the config as YAML, creating parent directories.
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

// applyEnvOverrides applies environment variable overrides.
// Values that do not parse are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("NODESTRAP_BINARY_PATH"); v != "" {
		c.BinaryPath = v
	}
	if v := os.Getenv("NODESTRAP_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("NODESTRAP_TEMP_DIR"); v != "" {
		c.TempDir = v
	}

	if v := os.Getenv("NODESTRAP_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retry.MaxAttempts = n
		}
	}
	if v := os.Getenv("NODESTRAP_RETRY_DELAY"); v != "" {
		c.Retry.Delay = v
	}

	if v := os.Getenv("NODESTRAP_PROGRESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Progress.Enabled = b
		}
	}

	if v := os.Getenv("NODESTRAP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// GetShutdownTimeout returns the shutdown timeout as a duration.
func (c *Config) GetShutdownTimeout() time.Duration {
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.BinaryPath == "" {
		return fmt.Errorf("binary_path must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	timeout, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil {
		return fmt.Errorf("invalid shutdown_timeout %q: %w", c.ShutdownTimeout, err)
	}
	// A zero WaitDelay never escalates to SIGKILL.
	if timeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %s", c.ShutdownTimeout)
	}
	if err := c.Retry.validate(); err != nil {
		return err
	}
	if err := c.Progress.validate(); err != nil {
		return err
	}
	return c.Logging.validate()
}
