package function

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"
)

// Record is the persisted and in-memory state of one managed function.
//
// Extra holds per-record fields written by other tools that this schema does not
// recognize; they are carried through load/save untouched.
type Record struct {
	FunctionID    string        `json:"function_id"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	FunctionType  string        `json:"function_type"`
	SecurityLevel SecurityLevel `json:"security_level"`
	Status        Status        `json:"status"`
	IsCritical    bool          `json:"is_critical"`
	AutoEnable    bool          `json:"auto_enable"`
	Dependencies  []string      `json:"dependencies"`
	Version       string        `json:"version,omitempty"`
	Requires      string        `json:"requires,omitempty"`
	HandlerRef    string        `json:"handler_ref,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	LastActivity time.Time `json:"last_activity"`

	ExecutionCount   int64 `json:"execution_count"`
	SuccessCount     int64 `json:"success_count"`
	ErrorCount       int64 `json:"error_count"`
	SleepTransitions int64 `json:"sleep_transitions"`
	WakeTransitions  int64 `json:"wake_transitions"`

	// Error window since the last operator reset; drives ERROR escalation.
	WindowExecutions int64 `json:"window_executions"`
	WindowErrors     int64 `json:"window_errors"`

	SleepPolicy SleepPolicy `json:"sleep_policy"`

	// RestoreStatus is the status to return to when TESTING or MAINTENANCE ends.
	RestoreStatus Status      `json:"restore_status,omitempty"`
	LastTest      *TestResult `json:"last_test,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Counters returns the execution counter triple.
func (r *Record) Counters() Counters {
	return Counters{Executions: r.ExecutionCount, Successes: r.SuccessCount, Errors: r.ErrorCount}
}

// IdleFor returns how long the function has been without activity at now.
func (r *Record) IdleFor(now time.Time) time.Duration {
	if r.LastActivity.IsZero() {
		return 0
	}
	return now.Sub(r.LastActivity)
}

// RecordExecution applies the outcome of one completed call to the counters.
// ExecutionCount always equals SuccessCount + ErrorCount afterwards.
func (r *Record) RecordExecution(success bool, now time.Time) {
	r.ExecutionCount++
	r.WindowExecutions++
	if success {
		r.SuccessCount++
	} else {
		r.ErrorCount++
		r.WindowErrors++
	}
	r.LastActivity = now
	r.UpdatedAt = now
}

// ResetErrorWindow clears the error-rate window.
func (r *Record) ResetErrorWindow() {
	r.WindowExecutions = 0
	r.WindowErrors = 0
}

// Copy returns a deep copy safe to hand out of the store.
func (r Record) Copy() Record {
	out := r
	if r.Dependencies != nil {
		out.Dependencies = append([]string(nil), r.Dependencies...)
	}
	if r.LastTest != nil {
		lt := *r.LastTest
		out.LastTest = &lt
	}
	if r.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(r.Extra))
		for k, v := range r.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

// ErrorPolicy decides when repeated failures escalate a function to ERROR.
type ErrorPolicy struct {
	// Threshold is the error fraction of the window above which the function fails; 0 disables.
	Threshold float64
	// MinSamples is the minimum window size before the threshold applies.
	MinSamples int64
}

// Exceeded reports whether r's error window is above the policy threshold.
func (p ErrorPolicy) Exceeded(r *Record) bool {
	if p.Threshold <= 0 || r.WindowExecutions == 0 {
		return false
	}
	min := p.MinSamples
	if min < 1 {
		min = 1
	}
	if r.WindowExecutions < min {
		return false
	}
	return float64(r.WindowErrors)/float64(r.WindowExecutions) > p.Threshold
}

// recordAlias drops Record's methods so the JSON codecs below do not recurse.
type recordAlias Record

// recordJSON shadows the timestamp fields with the tolerant Timestamp codec.
type recordJSON struct {
	*recordAlias
	CreatedAt    Timestamp `json:"created_at"`
	UpdatedAt    Timestamp `json:"updated_at"`
	LastActivity Timestamp `json:"last_activity"`
}

var knownRecordFields = jsonFieldNames(reflect.TypeOf(Record{}))

// MarshalJSON writes the known fields and merges Extra back in.
// Known fields always win over an Extra entry with the same name.
func (r Record) MarshalJSON() ([]byte, error) {
	alias := recordAlias(r)
	if alias.Dependencies == nil {
		alias.Dependencies = []string{}
	}
	known, err := json.Marshal(recordJSON{
		recordAlias:  &alias,
		CreatedAt:    Timestamp(r.CreatedAt),
		UpdatedAt:    Timestamp(r.UpdatedAt),
		LastActivity: Timestamp(r.LastActivity),
	})
	if err != nil || len(r.Extra) == 0 {
		return known, err
	}

	merged := make(map[string]json.RawMessage, len(r.Extra)+len(knownRecordFields))
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON reads the known fields and keeps everything else in Extra.
func (r *Record) UnmarshalJSON(data []byte) error {
	var alias recordAlias
	in := recordJSON{recordAlias: &alias}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for name := range knownRecordFields {
		delete(raw, name)
	}

	*r = Record(alias)
	r.CreatedAt = time.Time(in.CreatedAt)
	r.UpdatedAt = time.Time(in.UpdatedAt)
	r.LastActivity = time.Time(in.LastActivity)
	r.Extra = nil
	if len(raw) > 0 {
		r.Extra = raw
	}
	return nil
}

// jsonFieldNames returns the JSON names of t's exported, non-skipped fields.
func jsonFieldNames(t reflect.Type) map[string]bool {
	names := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if name == "" {
			name = f.Name
		}
		names[name] = true
	}
	return names
}
