package config

import (
	"fmt"
	"time"
)

// RetryConfig bounds how often the daemon is re-invoked after a non-zero
// exit. MaxAttempts of 1 means a single invocation.
type RetryConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	Delay       string `yaml:"delay"`     // wait before the second attempt
	MaxDelay    string `yaml:"max_delay"` // cap for the doubling delay
}

// GetDelay returns the initial retry delay as a duration.
func (r RetryConfig) GetDelay() time.Duration {
	d, err := time.ParseDuration(r.Delay)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetMaxDelay returns the retry delay cap as a duration.
func (r RetryConfig) GetMaxDelay() time.Duration {
	d, err := time.ParseDuration(r.MaxDelay)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

func (r RetryConfig) validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", r.MaxAttempts)
	}
	delay, err := time.ParseDuration(r.Delay)
	if err != nil {
		return fmt.Errorf("invalid retry.delay %q: %w", r.Delay, err)
	}
	if delay < 0 {
		return fmt.Errorf("retry.delay must not be negative, got %s", r.Delay)
	}
	maxDelay, err := time.ParseDuration(r.MaxDelay)
	if err != nil {
		return fmt.Errorf("invalid retry.max_delay %q: %w", r.MaxDelay, err)
	}
	if delay > maxDelay {
		return fmt.Errorf("retry.delay %s exceeds retry.max_delay %s", r.Delay, r.MaxDelay)
	}
	return nil
}
