// Package query is the read side of the function store: filtering, substring search,
// paginated listing and aggregate statistics.
//
// Everything here works on snapshots and never mutates a record. Concurrent writers may
// change the store between two calls; each call observes one consistent snapshot.
package query

import (
	"strings"

	"github.com/teranos/warden/function"
)

// Filter narrows a listing. Zero-valued fields match everything.
type Filter struct {
	FunctionType  string
	Status        function.Status
	SecurityLevel function.SecurityLevel
	// MinSecurityLevel matches records at or above this level.
	MinSecurityLevel function.SecurityLevel
	Critical         *bool
	// Text is a case-insensitive substring over function_id, name and description.
	Text string
}

// Match reports whether r passes every set criterion.
func (f Filter) Match(r *function.Record) bool {
	if f.FunctionType != "" && !strings.EqualFold(r.FunctionType, f.FunctionType) {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.SecurityLevel != "" && r.SecurityLevel != f.SecurityLevel {
		return false
	}
	if f.MinSecurityLevel != "" && r.SecurityLevel.Rank() < f.MinSecurityLevel.Rank() {
		return false
	}
	if f.Critical != nil && r.IsCritical != *f.Critical {
		return false
	}
	if f.Text != "" && !matchText(r, strings.ToLower(f.Text)) {
		return false
	}
	return true
}

func matchText(r *function.Record, needle string) bool {
	return strings.Contains(strings.ToLower(r.FunctionID), needle) ||
		strings.Contains(strings.ToLower(r.Name), needle) ||
		strings.Contains(strings.ToLower(r.Description), needle)
}

// Apply returns the records matching f, in input order.
func Apply(records []function.Record, f Filter) []function.Record {
	out := make([]function.Record, 0, len(records))
	for i := range records {
		if f.Match(&records[i]) {
			out = append(out, records[i])
		}
	}
	return out
}

// Bool returns a pointer to b, for Filter.Critical.
func Bool(b bool) *bool {
	return &b
}
