package manager

import (
	"context"
	"time"

	"github.com/teranos/warden/errors"
	"github.com/teranos/warden/function"
	"github.com/teranos/warden/logger"
	"github.com/teranos/warden/pulse/dispatch"
	"github.com/teranos/warden/telemetry"
)

// Enable moves a DISABLED, SLEEPING or ERROR function to ENABLED.
// Enabling a function in ERROR also resets its error window.
func (m *Manager) Enable(ctx context.Context, functionID string) (function.Transition, error) {
	return m.transition(ctx, functionID, function.TriggerEnable)
}

// Disable moves any function not under test to DISABLED.
func (m *Manager) Disable(ctx context.Context, functionID string) (function.Transition, error) {
	return m.transition(ctx, functionID, function.TriggerDisable)
}

// Sleep puts an ENABLED function to sleep. Critical functions fail with ErrCriticalFunction.
func (m *Manager) Sleep(ctx context.Context, functionID string) (function.Transition, error) {
	return m.transition(ctx, functionID, function.TriggerSleep)
}

// ForceSleep puts an ENABLED function to sleep even when it is critical.
func (m *Manager) ForceSleep(ctx context.Context, functionID string) (function.Transition, error) {
	tr, err := m.transition(ctx, functionID, function.TriggerForceSleep)
	if err == nil && tr.Changed {
		if rec, ok := m.store.Get(functionID); ok && rec.IsCritical {
			m.logger.Warnw("Critical function force-slept by operator override",
				logger.FieldFunctionID, functionID)
		}
	}
	return tr, err
}

// Wake moves a SLEEPING function back to ENABLED.
func (m *Manager) Wake(ctx context.Context, functionID string) (function.Transition, error) {
	return m.transition(ctx, functionID, function.TriggerWake)
}

// BeginMaintenance quiesces a function; EndMaintenance restores the status it had before.
func (m *Manager) BeginMaintenance(ctx context.Context, functionID string) (function.Transition, error) {
	return m.transition(ctx, functionID, function.TriggerBeginMaintenance)
}

// EndMaintenance restores the status a function had before maintenance began.
func (m *Manager) EndMaintenance(ctx context.Context, functionID string) (function.Transition, error) {
	return m.transition(ctx, functionID, function.TriggerEndMaintenance)
}

// transition applies trigger under the store lock and publishes the change, if any.
func (m *Manager) transition(ctx context.Context, functionID string, trigger function.Trigger) (function.Transition, error) {
	now := m.now()
	var tr function.Transition
	rec, err := m.store.Update(functionID, func(r *function.Record) error {
		var err error
		tr, err = function.Apply(r, trigger, now)
		return err
	})
	if err != nil {
		return tr, err
	}
	if !tr.Changed {
		m.logger.Debugw("Lifecycle command did not change status",
			logger.FieldFunctionID, functionID,
			logger.FieldTrigger, string(trigger),
			logger.FieldStatus, string(tr.From))
		return tr, nil
	}

	m.logger.Infow("Function status changed",
		logger.FieldFunctionID, functionID,
		logger.FieldTrigger, string(trigger),
		logger.FieldPrevStatus, string(tr.From),
		logger.FieldStatus, string(tr.To))
	m.emitter.Emit(ctx, telemetry.TransitionEvent(tr, &rec, now))
	m.markDirty()
	return tr, nil
}

// TestReport is the outcome of Test.
type TestReport struct {
	FunctionID string        `json:"function_id"`
	OK         bool          `json:"ok"`
	Error      string        `json:"error,omitempty"`
	ErrorKind  string        `json:"error_kind,omitempty"`
	Output     any           `json:"output,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	At         time.Time     `json:"at"`
}

// Test invokes a function's handler once while the function is held in TESTING.
//
// Only ENABLED and DISABLED functions can be tested; the prior status is restored
// afterwards. The outcome is stored in last_test and never touches the execution counters.
// A failing handler is reported in the TestReport, not as an error.
func (m *Manager) Test(ctx context.Context, functionID string, params dispatch.Params) (TestReport, error) {
	if _, err := m.transition(ctx, functionID, function.TriggerBeginTest); err != nil {
		return TestReport{}, err
	}

	rec, ok := m.store.Get(functionID)
	if !ok {
		return TestReport{}, errors.NewNotFoundError("function %s was unregistered during its test", functionID)
	}
	output, dur, callErr := m.dispatcher.Probe(ctx, rec, params)

	now := m.now()
	report := TestReport{FunctionID: functionID, OK: callErr == nil, Output: output, Duration: dur, At: now}
	result := function.TestResult{At: now, OK: callErr == nil}
	if callErr != nil {
		report.Error = callErr.Error()
		report.ErrorKind = errors.Kind(callErr)
		result.Error = callErr.Error()
	}

	var tr function.Transition
	rec, err := m.store.Update(functionID, func(r *function.Record) error {
		var err error
		tr, err = function.Apply(r, function.TriggerEndTest, now)
		r.LastTest = &result
		return err
	})
	if err != nil {
		return report, err
	}

	m.logger.Infow("Function tested",
		logger.FieldFunctionID, functionID,
		"ok", report.OK,
		logger.FieldDurationMS, dur.Milliseconds())
	event := telemetry.NewEvent(telemetry.EventTest, &rec, now).WithError(callErr)
	event.Duration = dur
	m.emitter.Emit(ctx, event)
	if tr.Changed {
		m.emitter.Emit(ctx, telemetry.TransitionEvent(tr, &rec, now))
	}
	m.markDirty()
	return report, nil
}
