package am

import (
	"fmt"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Registry defaults
	v.SetDefault("registry.path", "functions_registry.json")
	v.SetDefault("registry.flush_delay_ms", 1000) // At most a second of staleness
	v.SetDefault("registry.backups", 3)           // .back1 .. .back3
	v.SetDefault("registry.schema_version", "2.0")

	// Scheduler defaults
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.sleep_check_interval_seconds", 300) // Every 5 minutes

	// Dispatcher defaults
	v.SetDefault("dispatcher.max_concurrent", 32)
	v.SetDefault("dispatcher.overflow", "queue")
	v.SetDefault("dispatcher.queue_timeout_seconds", 30)
	v.SetDefault("dispatcher.call_timeout_seconds", 60)
	v.SetDefault("dispatcher.error_rate_threshold", 0.5) // Half of the window failing
	v.SetDefault("dispatcher.error_min_samples", 5)

	// Telemetry defaults
	v.SetDefault("telemetry.metrics_enabled", true)
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", false)
	v.SetDefault("telemetry.audit_db_path", "")

	// Log defaults
	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")

	// Manager defaults
	v.SetDefault("manager.version", "2.0.0")
}

// BindSensitiveEnvVars explicitly binds configuration that deployments set from the environment
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("registry.path", "WARDEN_REGISTRY_PATH")
	v.BindEnv("telemetry.otlp_endpoint", "WARDEN_TELEMETRY_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	v.BindEnv("telemetry.audit_db_path", "WARDEN_TELEMETRY_AUDIT_DB_PATH")
}

// GetRegistryPath returns the configured registry path
func (c *Config) GetRegistryPath() string {
	if c.Registry.Path == "" {
		return "functions_registry.json" // Fallback default
	}
	return c.Registry.Path
}

// GetLogLevel returns the log level (default: info)
func (c *Config) GetLogLevel() string {
	if c.Log.Level == "" {
		return "info"
	}
	return c.Log.Level
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Registry: %s, Scheduler: {Enabled: %t, Interval: %ds}, Dispatcher: {MaxConcurrent: %d, Overflow: %s}}",
		c.Registry.Path, c.Scheduler.Enabled, c.Scheduler.SleepCheckIntervalSeconds,
		c.Dispatcher.MaxConcurrent, c.Dispatcher.Overflow)
}
