package config

import "fmt"

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`      // debug, info, warn, error
	Format     string          `yaml:"format"`     // console, json
	File       string          `yaml:"file"`       // empty = stderr
	Categories map[string]bool `yaml:"categories"` // per-category toggles
}

var validLevels = []string{"debug", "info", "warn", "error"}

func (c LoggingConfig) validate() error {
	levelOK := false
	for _, l := range validLevels {
		if c.Level == l {
			levelOK = true
			break
		}
	}
	if !levelOK {
		return fmt.Errorf("invalid logging.level: %s (valid: %v)", c.Level, validLevels)
	}
	if c.Format != "console" && c.Format != "json" {
		return fmt.Errorf("invalid logging.format: %s (valid: console, json)", c.Format)
	}
	return nil
}
