package manager

import (
	"time"

	"go.uber.org/zap"

	"github.com/teranos/warden/am"
	"github.com/teranos/warden/function"
	"github.com/teranos/warden/pulse/dispatch"
	"github.com/teranos/warden/telemetry"
)

// Options configures a Manager.
type Options struct {
	RegistryPath string        // Registry file; empty keeps the store in memory only
	FlushDelay   time.Duration // Longest staleness of the registry file; 0 writes on every change
	Backups      int           // Rotating .backN copies kept before each write

	SchedulerEnabled   bool
	SleepCheckInterval time.Duration

	Dispatch dispatch.Config

	// ManagerVersion is checked against a function's requires constraint
	ManagerVersion string

	// Defaults are code-defined functions merged with the registry at startup
	Defaults []function.Spec

	Emitter telemetry.Emitter  // Receives every event in addition to the audit log
	Logger  *zap.SugaredLogger // nil discards logs
	Clock   func() time.Time   // nil uses time.Now
}

// DefaultOptions returns the options matching the built-in configuration defaults.
func DefaultOptions() Options {
	return OptionsFromConfig(am.DefaultConfig())
}

// OptionsFromConfig maps a loaded configuration onto manager options.
func OptionsFromConfig(cfg *am.Config) Options {
	overflow, err := dispatch.ParseOverflow(cfg.Dispatcher.Overflow)
	if err != nil {
		// Validate rejects unknown modes; fall back for unvalidated configs
		overflow = dispatch.OverflowQueue
	}

	return Options{
		RegistryPath:       cfg.GetRegistryPath(),
		FlushDelay:         cfg.FlushDelay(),
		Backups:            cfg.Registry.Backups,
		SchedulerEnabled:   cfg.Scheduler.Enabled,
		SleepCheckInterval: cfg.SleepCheckInterval(),
		Dispatch: dispatch.Config{
			MaxConcurrent: int64(cfg.Dispatcher.MaxConcurrent),
			Overflow:      overflow,
			QueueTimeout:  cfg.QueueTimeout(),
			CallTimeout:   cfg.CallTimeout(),
			ErrorPolicy:   errorPolicy(cfg),
		},
		ManagerVersion: cfg.Manager.Version,
	}
}

func errorPolicy(cfg *am.Config) function.ErrorPolicy {
	return function.ErrorPolicy{
		Threshold:  cfg.Dispatcher.ErrorRateThreshold,
		MinSamples: int64(cfg.Dispatcher.ErrorMinSamples),
	}
}

// RegisterOption adjusts a single Register call.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	overwrite bool
	handler   dispatch.Handler
}

// WithOverwrite replaces the metadata of an already registered function instead of
// failing with ErrDuplicateID. Status, counters and created_at are kept.
func WithOverwrite() RegisterOption {
	return func(o *registerOptions) { o.overwrite = true }
}

// WithHandler binds h to the function as part of registration.
func WithHandler(h dispatch.Handler) RegisterOption {
	return func(o *registerOptions) { o.handler = h }
}
