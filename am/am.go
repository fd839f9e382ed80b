// Package am loads warden's configuration ("am" as in "I am configured as").
//
// Values come from built-in defaults, then /etc/warden/am.toml, ~/.warden/am.toml,
// the nearest project am.toml, and finally WARDEN_* environment variables.
package am

import "time"

// Config represents the warden configuration
type Config struct {
	Registry   RegistryConfig   `mapstructure:"registry" toml:"registry"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler" toml:"scheduler"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher" toml:"dispatcher"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry" toml:"telemetry"`
	Log        LogConfig        `mapstructure:"log" toml:"log"`
	Manager    ManagerConfig    `mapstructure:"manager" toml:"manager"`
}

// RegistryConfig configures the persisted function registry
type RegistryConfig struct {
	Path          string `mapstructure:"path" toml:"path" comment:"Registry file holding every function record"`
	FlushDelayMS  int    `mapstructure:"flush_delay_ms" toml:"flush_delay_ms" comment:"Longest delay between a change and its write (0 = write on every change)"`
	Backups       int    `mapstructure:"backups" toml:"backups" comment:"Rotating .backN copies kept before each write (0 = none)"`
	SchemaVersion string `mapstructure:"schema_version" toml:"schema_version" comment:"Schema version written to new registry files"`
}

// SchedulerConfig configures the sleep/wake scheduler
type SchedulerConfig struct {
	Enabled                   bool `mapstructure:"enabled" toml:"enabled" comment:"Run the automatic sleep pass"`
	SleepCheckIntervalSeconds int  `mapstructure:"sleep_check_interval_seconds" toml:"sleep_check_interval_seconds" comment:"Seconds between sleep passes"`
}

// DispatcherConfig configures function execution
type DispatcherConfig struct {
	MaxConcurrent       int     `mapstructure:"max_concurrent" toml:"max_concurrent" comment:"Executions allowed at once across all functions"`
	Overflow            string  `mapstructure:"overflow" toml:"overflow" comment:"What happens beyond max_concurrent: queue or fail_fast"`
	QueueTimeoutSeconds int     `mapstructure:"queue_timeout_seconds" toml:"queue_timeout_seconds" comment:"Longest wait for a slot in queue mode"`
	CallTimeoutSeconds  int     `mapstructure:"call_timeout_seconds" toml:"call_timeout_seconds" comment:"Per-call deadline (0 = none)"`
	ErrorRateThreshold  float64 `mapstructure:"error_rate_threshold" toml:"error_rate_threshold" comment:"Error fraction above which a function moves to error (0 = never)"`
	ErrorMinSamples     int     `mapstructure:"error_min_samples" toml:"error_min_samples" comment:"Executions needed before the error rate applies"`
}

// TelemetryConfig configures the observability pipeline
type TelemetryConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled" toml:"metrics_enabled" comment:"Record OpenTelemetry metrics"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint" toml:"otlp_endpoint" comment:"OTLP/HTTP collector host:port (empty = metrics stay in process)"`
	OTLPInsecure   bool   `mapstructure:"otlp_insecure" toml:"otlp_insecure" comment:"Use plain HTTP for the collector"`
	AuditDBPath    string `mapstructure:"audit_db_path" toml:"audit_db_path" comment:"SQLite file for the audit trail (empty = disabled)"`
}

// LogConfig configures logging
type LogConfig struct {
	JSON  bool   `mapstructure:"json" toml:"json" comment:"Write JSON logs instead of console logs"`
	Level string `mapstructure:"level" toml:"level" comment:"debug, info, warn or error"`
}

// ManagerConfig configures the manager itself
type ManagerConfig struct {
	Version string `mapstructure:"version" toml:"version" comment:"Version checked against a function's requires constraint"`
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)

// FlushDelay returns registry.flush_delay_ms as a duration.
func (c *Config) FlushDelay() time.Duration {
	return time.Duration(c.Registry.FlushDelayMS) * time.Millisecond
}

// SleepCheckInterval returns scheduler.sleep_check_interval_seconds as a duration.
func (c *Config) SleepCheckInterval() time.Duration {
	return time.Duration(c.Scheduler.SleepCheckIntervalSeconds) * time.Second
}

// QueueTimeout returns dispatcher.queue_timeout_seconds as a duration.
func (c *Config) QueueTimeout() time.Duration {
	return time.Duration(c.Dispatcher.QueueTimeoutSeconds) * time.Second
}

// CallTimeout returns dispatcher.call_timeout_seconds as a duration.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Dispatcher.CallTimeoutSeconds) * time.Second
}
