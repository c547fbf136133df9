package guardian

import (
	"fmt"
	"time"

	"guardian/internal/retry"
)

// RetryReason tags transitions applied by the retry scheduler.
const RetryReason = "auto-retry after failure"

// Config holds Guardian settings. Zero retry durations, factors, attempt caps
// and log capacities fall back to DefaultConfig values, so auto-retry is always
// capped.
type Config struct {
	// MaxConcurrentTasks is advisory: exceeding it logs a warning and is never
	// enforced.
	MaxConcurrentTasks   int  `mapstructure:"max_concurrent_tasks"`
	AutoRetryFailedTasks bool `mapstructure:"auto_retry_failed_tasks"`
	NotificationsEnabled bool `mapstructure:"notifications_enabled"`
	// PersistenceEnabled is advisory; the core never writes to storage.
	PersistenceEnabled bool `mapstructure:"persistence_enabled"`

	RetryDelay             time.Duration `mapstructure:"retry_delay"`
	MaxRetryAttempts       int           `mapstructure:"max_retry_attempts"`
	RetryBackoffMultiplier float64       `mapstructure:"retry_backoff_multiplier"`
	RetryMaxDelay          time.Duration `mapstructure:"retry_max_delay"`
	RetryJitter            float64       `mapstructure:"retry_jitter"`

	EventLogCapacity int `mapstructure:"event_log_capacity"`
}

// DefaultConfig returns the default Guardian configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTasks:     3,
		AutoRetryFailedTasks:   true,
		NotificationsEnabled:   true,
		PersistenceEnabled:     false,
		RetryDelay:             5 * time.Second,
		MaxRetryAttempts:       3,
		RetryBackoffMultiplier: 2,
		RetryMaxDelay:          time.Minute,
		RetryJitter:            0,
		EventLogCapacity:       DefaultEventLogCapacity,
	}
}

// Validate rejects negative limits and out-of-range factors.
func (c Config) Validate() error {
	switch {
	case c.MaxConcurrentTasks < 0:
		return fmt.Errorf("%w: max_concurrent_tasks must not be negative", ErrInvalidConfig)
	case c.RetryDelay < 0:
		return fmt.Errorf("%w: retry_delay must not be negative", ErrInvalidConfig)
	case c.MaxRetryAttempts < 0:
		return fmt.Errorf("%w: max_retry_attempts must not be negative", ErrInvalidConfig)
	case c.RetryBackoffMultiplier < 0:
		return fmt.Errorf("%w: retry_backoff_multiplier must not be negative", ErrInvalidConfig)
	case c.RetryMaxDelay < 0:
		return fmt.Errorf("%w: retry_max_delay must not be negative", ErrInvalidConfig)
	case c.RetryJitter < 0 || c.RetryJitter > 1:
		return fmt.Errorf("%w: retry_jitter must be within [0, 1]", ErrInvalidConfig)
	case c.EventLogCapacity < 0:
		return fmt.Errorf("%w: event_log_capacity must not be negative", ErrInvalidConfig)
	}
	return nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RetryDelay == 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.MaxRetryAttempts == 0 {
		c.MaxRetryAttempts = def.MaxRetryAttempts
	}
	if c.RetryBackoffMultiplier == 0 {
		c.RetryBackoffMultiplier = def.RetryBackoffMultiplier
	}
	if c.RetryMaxDelay == 0 {
		c.RetryMaxDelay = def.RetryMaxDelay
	}
	if c.EventLogCapacity == 0 {
		c.EventLogCapacity = def.EventLogCapacity
	}
	return c
}

// RetryPolicy derives the scheduler policy from the retry fields.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		InitialDelay: c.RetryDelay,
		MaxDelay:     c.RetryMaxDelay,
		Multiplier:   c.RetryBackoffMultiplier,
		Jitter:       c.RetryJitter,
		MaxAttempts:  c.MaxRetryAttempts,
	}
}
