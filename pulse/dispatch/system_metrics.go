package dispatch

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/warden/errors"
)

// SystemMetrics tracks resource usage alongside dispatcher load
type SystemMetrics struct {
	InFlight      int64   `json:"in_flight"`       // Executions currently holding a slot
	MaxConcurrent int64   `json:"max_concurrent"`  // Configured concurrency ceiling
	MemoryUsedGB  float64 `json:"memory_used_gb"`  // Current memory usage in GB
	MemoryTotalGB float64 `json:"memory_total_gb"` // Total system memory in GB
	MemoryPercent float64 `json:"memory_percent"`  // Memory utilization percentage
}

const (
	memoryPerExecutionGB = 0.25 // Rough budget for one in-flight handler
	memoryBufferGB       = 1.0  // Reserved for the OS and the manager itself
)

// memoryStats is swapped out in tests
var memoryStats = func() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// recommendedConcurrency suggests a ceiling for the available memory
func recommendedConcurrency(availableGB float64) int64 {
	if availableGB <= memoryBufferGB {
		return 1 // Always allow at least one execution
	}
	n := int64((availableGB - memoryBufferGB) / memoryPerExecutionGB)
	if n < 1 {
		return 1
	}
	return n
}

// SystemMetrics returns current system resource usage
func (d *Dispatcher) SystemMetrics() SystemMetrics {
	m := SystemMetrics{
		InFlight:      d.InFlight(),
		MaxConcurrent: d.maxConcurrent,
	}

	total, available, err := memoryStats()
	if err == nil && total > 0 {
		m.MemoryTotalGB = float64(total) / 1024 / 1024 / 1024
		m.MemoryUsedGB = float64(total-available) / 1024 / 1024 / 1024
		m.MemoryPercent = (m.MemoryUsedGB / m.MemoryTotalGB) * 100
	}
	return m
}

// checkMemoryPressure validates the ceiling against available memory.
// Returns a warning message if the ceiling may be too high, empty string if OK.
func (d *Dispatcher) checkMemoryPressure() string {
	total, available, err := memoryStats()
	if err != nil || total == 0 {
		return "" // Can't check, assume OK
	}

	availableGB := float64(available) / 1024 / 1024 / 1024
	totalGB := float64(total) / 1024 / 1024 / 1024
	recommended := recommendedConcurrency(availableGB)

	if d.maxConcurrent > recommended {
		return fmt.Sprintf(
			"Concurrency ceiling (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB). "+
				"Consider lowering dispatcher.max_concurrent.",
			d.maxConcurrent, recommended, totalGB-availableGB, totalGB)
	}
	return ""
}
