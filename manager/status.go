package manager

import (
	"time"

	"github.com/teranos/warden/errors"
	"github.com/teranos/warden/function"
	"github.com/teranos/warden/pulse/dispatch"
	"github.com/teranos/warden/query"
	"github.com/teranos/warden/registry"
	"github.com/teranos/warden/telemetry"
)

var _ telemetry.GaugeSource = (*Manager)(nil)

// StatusReport is the operator view of a single function.
type StatusReport struct {
	FunctionID       string                 `json:"function_id"`
	Name             string                 `json:"name"`
	FunctionType     string                 `json:"function_type"`
	SecurityLevel    function.SecurityLevel `json:"security_level"`
	Status           function.Status        `json:"status"`
	IsCritical       bool                   `json:"is_critical"`
	Dependencies     []string               `json:"dependencies"`
	HandlerBound     bool                   `json:"handler_bound"`
	LastActivity     time.Time              `json:"last_activity"`
	IdleFor          time.Duration          `json:"idle_for_ns"`
	SleepPolicy      function.SleepPolicy   `json:"sleep_policy"`
	AutoSleepDue     bool                   `json:"auto_sleep_due"`
	Counters         function.Counters      `json:"counters"`
	SleepTransitions int64                  `json:"sleep_transitions"`
	WakeTransitions  int64                  `json:"wake_transitions"`
	WindowErrorRate  float64                `json:"window_error_rate"`
	LastTest         *function.TestResult   `json:"last_test,omitempty"`
}

// GetStatus returns the status report for one function.
func (m *Manager) GetStatus(functionID string) (StatusReport, error) {
	rec, ok := m.store.Get(functionID)
	if !ok {
		return StatusReport{}, errors.NewNotFoundError("function not found: %s", functionID)
	}
	now := m.now()

	report := StatusReport{
		FunctionID:       rec.FunctionID,
		Name:             rec.Name,
		FunctionType:     rec.FunctionType,
		SecurityLevel:    rec.SecurityLevel,
		Status:           rec.Status,
		IsCritical:       rec.IsCritical,
		Dependencies:     rec.Dependencies,
		LastActivity:     rec.LastActivity,
		IdleFor:          rec.IdleFor(now),
		SleepPolicy:      rec.SleepPolicy,
		AutoSleepDue:     function.EligibleForAutoSleep(&rec, now),
		Counters:         rec.Counters(),
		SleepTransitions: rec.SleepTransitions,
		WakeTransitions:  rec.WakeTransitions,
		LastTest:         rec.LastTest,
	}
	if rec.WindowExecutions > 0 {
		report.WindowErrorRate = float64(rec.WindowErrors) / float64(rec.WindowExecutions)
	}
	if _, err := m.handlers.Resolve(&rec); err == nil {
		report.HandlerBound = true
	}
	return report, nil
}

// Search filters, sorts and paginates the registered functions.
func (m *Manager) Search(filter query.Filter, req query.PageRequest) (query.Page, error) {
	return m.query.Search(filter, req)
}

// List returns every function matching filter, sorted by function_id.
func (m *Manager) List(filter query.Filter) []function.Record {
	return m.query.List(filter)
}

// ListByType returns the functions of one function_type.
func (m *Manager) ListByType(functionType string) []function.Record {
	return m.query.ListByType(functionType)
}

// ListByStatus returns the functions currently in status.
func (m *Manager) ListByStatus(status function.Status) []function.Record {
	return m.query.ListByStatus(status)
}

// GetStatistics returns aggregate statistics over all functions.
func (m *Manager) GetStatistics() query.Statistics {
	return m.query.Statistics()
}

// InFlight returns the number of executions currently holding a concurrency slot.
func (m *Manager) InFlight() int64 {
	return m.dispatcher.InFlight()
}

// StatusCounts returns the number of functions per status, including empty statuses.
func (m *Manager) StatusCounts() map[string]int {
	counts := make(map[string]int, len(function.AllStatuses))
	for _, s := range function.AllStatuses {
		counts[string(s)] = 0
	}
	for _, rec := range m.store.Snapshot() {
		counts[string(rec.Status)]++
	}
	return counts
}

// RuntimeStats describes the manager's moving parts.
type RuntimeStats struct {
	Functions    int                    `json:"functions"`
	InFlight     int64                  `json:"in_flight"`
	HandlerRefs  []string               `json:"handler_refs"`
	RegistryPath string                 `json:"registry_path,omitempty"`
	LoadError    string                 `json:"load_error,omitempty"`
	Registry     *registry.FlusherStats `json:"registry,omitempty"`
	Scheduler    map[string]interface{} `json:"scheduler"`
	System       dispatch.SystemMetrics `json:"system"`
}

// Stats returns runtime statistics for status displays.
func (m *Manager) Stats() RuntimeStats {
	stats := RuntimeStats{
		Functions:    m.store.Len(),
		InFlight:     m.dispatcher.InFlight(),
		HandlerRefs:  m.handlers.Refs(),
		RegistryPath: m.opts.RegistryPath,
		Scheduler:    m.scheduler.GetStats(),
		System:       m.dispatcher.SystemMetrics(),
	}
	if m.loadErr != nil {
		stats.LoadError = m.loadErr.Error()
	}
	if m.flusher != nil {
		fs := m.flusher.Stats()
		stats.Registry = &fs
	}
	return stats
}
