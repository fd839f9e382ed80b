package registry

import (
	"sort"
	"time"

	"github.com/teranos/warden/function"
)

// Merge combines code-defined defaults with persisted records.
//
// For an id present in both, the code defines the metadata (name, type, level, criticality,
// dependencies, handler, version) and the persisted record wins for everything that is runtime
// state: status, counters, timestamps, a non-zero sleep policy, pending restore, last test and extension
// fields. Persisted records without a default are kept as they are. Defaults without a
// persisted record start fresh. The result is sorted by function_id.
func Merge(defaults []function.Spec, persisted map[string]function.Record, now time.Time) []function.Record {
	out := make([]function.Record, 0, len(defaults)+len(persisted))
	seen := make(map[string]bool, len(defaults))

	for _, spec := range defaults {
		if seen[spec.FunctionID] {
			continue
		}
		seen[spec.FunctionID] = true

		saved, ok := persisted[spec.FunctionID]
		if !ok {
			out = append(out, function.NewRecord(spec, now))
			continue
		}

		merged := saved.Copy()
		updatedAt := merged.UpdatedAt
		sleepPolicy := merged.SleepPolicy
		merged.ApplySpec(spec, now)
		merged.UpdatedAt = updatedAt
		if sleepPolicy != (function.SleepPolicy{}) {
			merged.SleepPolicy = sleepPolicy
		}
		out = append(out, merged)
	}

	for id, rec := range persisted {
		if !seen[id] {
			out = append(out, rec.Copy())
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].FunctionID < out[j].FunctionID })
	return out
}
