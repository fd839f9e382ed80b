// Package sym defines the glyphs warden prints for lifecycle states and command groups.
// These symbols are stable across CLI output, logs and documentation.
package sym

import "github.com/teranos/warden/function"

// Command group glyphs.
const (
	AM     = "≡" // am: configuration and system settings
	Ls     = "⋈" // ls/status/stats: query the registry
	Daemon = "꩜" // daemon: scheduler and background work
	Audit  = "▤" // audit trail
	DB     = "⊔" // registry and audit storage
)

// Lifecycle state glyphs.
const (
	Enabled     = "●"
	Disabled    = "○"
	Sleeping    = "☾"
	Testing     = "◐"
	Error       = "✗"
	Maintenance = "⚒"
	Unknown     = "?"
)

// Critical marks functions exempt from automatic sleep.
const Critical = "✦"

// entry binds a status to its glyph and a one-line description.
type entry struct {
	status      function.Status
	glyph       string
	description string
}

// registry is the canonical status table, in function.AllStatuses order.
var registry = []entry{
	{function.StatusEnabled, Enabled, "Accepting executions"},
	{function.StatusDisabled, Disabled, "Registered but refusing executions"},
	{function.StatusSleeping, Sleeping, "Idle; woken by the next execution"},
	{function.StatusTesting, Testing, "Held for a test invocation"},
	{function.StatusError, Error, "Error rate exceeded; needs an operator enable"},
	{function.StatusMaintenance, Maintenance, "Quiesced for an external upgrade"},
}

// Lookup tables built from the registry at init time.
var (
	statusToGlyph map[function.Status]string
	glyphToStatus map[string]function.Status
)

func init() {
	statusToGlyph = make(map[function.Status]string, len(registry))
	glyphToStatus = make(map[string]function.Status, len(registry))
	for _, e := range registry {
		statusToGlyph[e.status] = e.glyph
		glyphToStatus[e.glyph] = e.status
	}
}

// Glyph returns the glyph for a status, or Unknown.
func Glyph(s function.Status) string {
	if g, ok := statusToGlyph[s]; ok {
		return g
	}
	return Unknown
}

// FromGlyph returns the status a glyph stands for, or "" if none.
func FromGlyph(glyph string) function.Status {
	return glyphToStatus[glyph]
}

// Describe returns the one-line description of a status.
func Describe(s function.Status) string {
	for _, e := range registry {
		if e.status == s {
			return e.description
		}
	}
	return ""
}

// Legend is the status legend printed under listings, in status order.
func Legend() []string {
	out := make([]string, 0, len(registry))
	for _, e := range registry {
		out = append(out, e.glyph+" "+string(e.status))
	}
	return out
}
