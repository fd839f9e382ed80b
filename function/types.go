// Package function holds the managed-function record, the concurrency-safe record store,
// and the lifecycle state machine that governs record status.
//
// A function is a named, versioned unit of capability (bot, analyzer, integration)
// whose implementation is opaque to the manager. The manager only tracks its
// metadata, lifecycle status, and execution counters.
package function

import (
	"strings"
	"time"

	"github.com/teranos/warden/errors"
)

// Status is the lifecycle state of a function.
type Status string

const (
	// StatusEnabled indicates the function accepts executions
	StatusEnabled Status = "enabled"
	// StatusDisabled indicates the function was switched off by an operator
	StatusDisabled Status = "disabled"
	// StatusSleeping indicates the function is idle-deactivated and wakes on demand
	StatusSleeping Status = "sleeping"
	// StatusTesting indicates a test invocation is wrapping the function
	StatusTesting Status = "testing"
	// StatusError indicates handler resolution failed or the error rate crossed the threshold
	StatusError Status = "error"
	// StatusMaintenance indicates the function is quiesced for an external upgrade
	StatusMaintenance Status = "maintenance"
)

// AllStatuses lists every status in display order.
var AllStatuses = []Status{
	StatusEnabled, StatusDisabled, StatusSleeping, StatusTesting, StatusError, StatusMaintenance,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// UnmarshalText accepts any case so registries written by other tools ("ENABLED") load.
func (s *Status) UnmarshalText(text []byte) error {
	*s = Status(strings.ToLower(strings.TrimSpace(string(text))))
	return nil
}

// ParseStatus parses a status name, case-insensitively.
func ParseStatus(name string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(name)))
	if !s.Valid() {
		return "", errors.NewInvalidRequestError("unknown status %q", name)
	}
	return s, nil
}

// SecurityLevel is an ordered classification of a function's sensitivity.
type SecurityLevel string

const (
	SecurityLow      SecurityLevel = "low"
	SecurityMedium   SecurityLevel = "medium"
	SecurityHigh     SecurityLevel = "high"
	SecurityCritical SecurityLevel = "critical"
)

var securityRank = map[SecurityLevel]int{
	SecurityLow:      1,
	SecurityMedium:   2,
	SecurityHigh:     3,
	SecurityCritical: 4,
}

// Rank returns the ordinal of the level (low=1 .. critical=4), or 0 if unknown.
func (l SecurityLevel) Rank() int {
	return securityRank[l]
}

// Valid reports whether l is a known level.
func (l SecurityLevel) Valid() bool {
	return l.Rank() > 0
}

// UnmarshalText accepts any case.
func (l *SecurityLevel) UnmarshalText(text []byte) error {
	*l = SecurityLevel(strings.ToLower(strings.TrimSpace(string(text))))
	return nil
}

// ParseSecurityLevel parses a level name, case-insensitively.
func ParseSecurityLevel(name string) (SecurityLevel, error) {
	l := SecurityLevel(strings.ToLower(strings.TrimSpace(name)))
	if !l.Valid() {
		return "", errors.NewInvalidRequestError("unknown security level %q", name)
	}
	return l, nil
}

// SleepPolicy controls automatic sleep for an idle function.
type SleepPolicy struct {
	AutoSleep       bool    `json:"auto_sleep"`
	SleepAfterHours float64 `json:"sleep_after_hours"`
}

// IdleThreshold is SleepAfterHours as a duration.
func (p SleepPolicy) IdleThreshold() time.Duration {
	return time.Duration(p.SleepAfterHours * float64(time.Hour))
}

// DefaultSleepPolicy sleeps a function after a day of inactivity.
func DefaultSleepPolicy() SleepPolicy {
	return SleepPolicy{AutoSleep: true, SleepAfterHours: 24}
}

// TestResult is the outcome of the most recent test invocation.
type TestResult struct {
	At    time.Time `json:"at"`
	OK    bool      `json:"ok"`
	Error string    `json:"error,omitempty"`
}

// Counters is the execution counter triple carried on events and status reports.
type Counters struct {
	Executions int64 `json:"execution_count"`
	Successes  int64 `json:"success_count"`
	Errors     int64 `json:"error_count"`
}

// Spec is the caller-supplied metadata for registering a function.
type Spec struct {
	FunctionID    string
	Name          string
	Description   string
	FunctionType  string
	SecurityLevel SecurityLevel
	IsCritical    bool
	AutoEnable    bool
	Dependencies  []string
	SleepPolicy   SleepPolicy
	HandlerRef    string
	Version       string
	Requires      string // semver constraint on the manager version
}

// Validate checks s for structural problems.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.FunctionID) == "" {
		return errors.NewInvalidRequestError("function_id is required")
	}
	if strings.ContainsAny(s.FunctionID, " \t\n") {
		return errors.NewInvalidRequestError("function_id %q must not contain whitespace", s.FunctionID)
	}
	if s.SecurityLevel != "" && !s.SecurityLevel.Valid() {
		return errors.NewInvalidRequestError("unknown security level %q", s.SecurityLevel)
	}
	if s.SleepPolicy.SleepAfterHours < 0 {
		return errors.NewInvalidRequestError("sleep_after_hours must not be negative")
	}
	seen := make(map[string]bool, len(s.Dependencies))
	for _, dep := range s.Dependencies {
		if dep == s.FunctionID {
			return errors.NewInvalidRequestError("function %s cannot depend on itself", s.FunctionID)
		}
		if seen[dep] {
			return errors.NewInvalidRequestError("duplicate dependency %q", dep)
		}
		seen[dep] = true
	}
	return validateVersion(s.Version, s.Requires)
}

// NewRecord creates the initial record for a spec.
// Status is ENABLED when AutoEnable is set, otherwise DISABLED.
func NewRecord(spec Spec, now time.Time) Record {
	status := StatusDisabled
	if spec.AutoEnable {
		status = StatusEnabled
	}
	level := spec.SecurityLevel
	if level == "" {
		level = SecurityMedium
	}
	rec := Record{
		FunctionID:   spec.FunctionID,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActivity: now,
	}
	rec.applySpec(spec)
	rec.SecurityLevel = level
	return rec
}

// ApplySpec replaces the record's metadata with spec while keeping identity,
// status, timestamps and counters.
func (r *Record) ApplySpec(spec Spec, now time.Time) {
	r.applySpec(spec)
	if r.SecurityLevel == "" {
		r.SecurityLevel = SecurityMedium
	}
	r.UpdatedAt = now
}

func (r *Record) applySpec(spec Spec) {
	r.Name = spec.Name
	if r.Name == "" {
		r.Name = spec.FunctionID
	}
	r.Description = spec.Description
	r.FunctionType = spec.FunctionType
	r.SecurityLevel = spec.SecurityLevel
	r.IsCritical = spec.IsCritical
	r.AutoEnable = spec.AutoEnable
	r.Dependencies = append([]string(nil), spec.Dependencies...)
	r.SleepPolicy = spec.SleepPolicy
	r.HandlerRef = spec.HandlerRef
	r.Version = spec.Version
	r.Requires = spec.Requires
}
