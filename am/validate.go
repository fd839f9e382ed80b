package am

import (
	"strings"

	"github.com/teranos/warden/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Registry: 0 backups and 0 flush delay are valid ("zero means zero"), negative is invalid
	if c.Registry.FlushDelayMS < 0 {
		return errors.Newf("registry.flush_delay_ms must be >= 0, got %d", c.Registry.FlushDelayMS)
	}
	if c.Registry.Backups < 0 {
		return errors.Newf("registry.backups must be >= 0, got %d", c.Registry.Backups)
	}

	// Scheduler interval only matters when the scheduler runs
	if c.Scheduler.Enabled && c.Scheduler.SleepCheckIntervalSeconds <= 0 {
		return errors.Newf("scheduler.sleep_check_interval_seconds must be > 0 when the scheduler is enabled, got %d", c.Scheduler.SleepCheckIntervalSeconds)
	}

	// Dispatcher: a ceiling of 0 would block every execution
	if c.Dispatcher.MaxConcurrent <= 0 {
		return errors.Newf("dispatcher.max_concurrent must be > 0, got %d", c.Dispatcher.MaxConcurrent)
	}
	switch strings.ToLower(c.Dispatcher.Overflow) {
	case "", "queue", "fail_fast":
	default:
		return errors.Newf("dispatcher.overflow must be queue or fail_fast, got %q", c.Dispatcher.Overflow)
	}
	if c.Dispatcher.QueueTimeoutSeconds < 0 {
		return errors.Newf("dispatcher.queue_timeout_seconds must be >= 0, got %d", c.Dispatcher.QueueTimeoutSeconds)
	}
	if c.Dispatcher.CallTimeoutSeconds < 0 {
		return errors.Newf("dispatcher.call_timeout_seconds must be >= 0, got %d", c.Dispatcher.CallTimeoutSeconds)
	}
	if c.Dispatcher.ErrorRateThreshold < 0 || c.Dispatcher.ErrorRateThreshold > 1 {
		return errors.Newf("dispatcher.error_rate_threshold must be within [0, 1], got %f", c.Dispatcher.ErrorRateThreshold)
	}
	if c.Dispatcher.ErrorMinSamples < 0 {
		return errors.Newf("dispatcher.error_min_samples must be >= 0, got %d", c.Dispatcher.ErrorMinSamples)
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.Newf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}

	return nil
}
