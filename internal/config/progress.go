package config

import (
	"fmt"
	"time"
)

// ProgressConfig configures the sync progress watcher.
type ProgressConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Interval string `yaml:"interval"`
	LogFile  string `yaml:"log_file"` // relative to the data dir
}

// GetInterval returns the report interval as a duration.
func (p ProgressConfig) GetInterval() time.Duration {
	d, err := time.ParseDuration(p.Interval)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

func (p ProgressConfig) validate() error {
	if !p.Enabled {
		return nil
	}
	if d, err := time.ParseDuration(p.Interval); err != nil || d <= 0 {
		return fmt.Errorf("invalid progress.interval %q", p.Interval)
	}
	if p.LogFile == "" {
		return fmt.Errorf("progress.log_file must not be empty when progress is enabled")
	}
	return nil
}
