package query

import (
	"time"

	"github.com/teranos/warden/function"
)

// Statistics aggregates the store for operators and for the registry file's statistics block.
type Statistics struct {
	TotalFunctions    int            `json:"total_functions"`
	ByStatus          map[string]int `json:"by_status"`
	ByType            map[string]int `json:"by_type"`
	BySecurityLevel   map[string]int `json:"by_security_level"`
	CriticalFunctions int            `json:"critical_functions"`
	TotalExecutions   int64          `json:"total_executions"`
	TotalSuccesses    int64          `json:"total_successes"`
	TotalErrors       int64          `json:"total_errors"`
	SleepTransitions  int64          `json:"sleep_transitions"`
	WakeTransitions   int64          `json:"wake_transitions"`
	// SuccessRate is successes / executions, or 0 with no executions.
	SuccessRate float64   `json:"success_rate"`
	LastUpdated time.Time `json:"last_updated"`
}

// Compute builds statistics over records. Every known status appears in ByStatus, even at zero.
func Compute(records []function.Record, now time.Time) Statistics {
	stats := Statistics{
		TotalFunctions:  len(records),
		ByStatus:        make(map[string]int, len(function.AllStatuses)),
		ByType:          make(map[string]int),
		BySecurityLevel: make(map[string]int),
		LastUpdated:     now,
	}
	for _, s := range function.AllStatuses {
		stats.ByStatus[string(s)] = 0
	}

	for i := range records {
		r := &records[i]
		stats.ByStatus[string(r.Status)]++
		typ := r.FunctionType
		if typ == "" {
			typ = "unknown"
		}
		stats.ByType[typ]++
		stats.BySecurityLevel[string(r.SecurityLevel)]++
		if r.IsCritical {
			stats.CriticalFunctions++
		}
		stats.TotalExecutions += r.ExecutionCount
		stats.TotalSuccesses += r.SuccessCount
		stats.TotalErrors += r.ErrorCount
		stats.SleepTransitions += r.SleepTransitions
		stats.WakeTransitions += r.WakeTransitions
	}

	if stats.TotalExecutions > 0 {
		stats.SuccessRate = float64(stats.TotalSuccesses) / float64(stats.TotalExecutions)
	}
	return stats
}
