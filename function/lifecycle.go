package function

import (
	"time"

	"github.com/teranos/warden/errors"
)

// Trigger names the cause of a lifecycle transition.
type Trigger string

const (
	TriggerEnable           Trigger = "enable"
	TriggerDisable          Trigger = "disable"
	TriggerSleep            Trigger = "sleep"
	TriggerForceSleep       Trigger = "force_sleep"
	TriggerAutoSleep        Trigger = "auto_sleep"
	TriggerWake             Trigger = "wake"
	TriggerWakeOnDemand     Trigger = "wake_on_demand"
	TriggerBeginTest        Trigger = "begin_test"
	TriggerEndTest          Trigger = "end_test"
	TriggerFail             Trigger = "fail"
	TriggerBeginMaintenance Trigger = "begin_maintenance"
	TriggerEndMaintenance   Trigger = "end_maintenance"
)

// Transition describes the effect of applying a trigger to a record.
// Changed is false when the trigger did not apply and nothing was modified.
type Transition struct {
	FunctionID string
	Trigger    Trigger
	From       Status
	To         Status
	Changed    bool
}

// EligibleForAutoSleep reports whether the automatic sleep policy applies to r at now.
// Critical functions are never eligible.
func EligibleForAutoSleep(r *Record, now time.Time) bool {
	if r.Status != StatusEnabled || r.IsCritical || !r.SleepPolicy.AutoSleep {
		return false
	}
	return r.IdleFor(now) > r.SleepPolicy.IdleThreshold()
}

// Apply runs the state machine for one trigger against r.
//
// Requests that do not apply to the current status succeed with Changed=false and leave
// counters untouched. Requests that would corrupt a pending TESTING or MAINTENANCE restore
// return ErrInvalidTransition; a manual sleep of a critical function returns ErrCriticalFunction.
func Apply(r *Record, trigger Trigger, now time.Time) (Transition, error) {
	tr := Transition{FunctionID: r.FunctionID, Trigger: trigger, From: r.Status, To: r.Status}

	switch trigger {
	case TriggerEnable:
		if err := guardQuiesced(r, trigger, true); err != nil {
			return tr, err
		}
		switch r.Status {
		case StatusDisabled:
			r.Status = StatusEnabled
		case StatusError:
			r.Status = StatusEnabled
			r.ResetErrorWindow()
		case StatusSleeping:
			r.Status = StatusEnabled
			r.WakeTransitions++
			r.LastActivity = now
		}

	case TriggerDisable:
		if err := guardQuiesced(r, trigger, false); err != nil {
			return tr, err
		}
		if r.Status != StatusDisabled {
			r.Status = StatusDisabled
			r.RestoreStatus = ""
		}

	case TriggerSleep, TriggerForceSleep:
		if err := guardQuiesced(r, trigger, true); err != nil {
			return tr, err
		}
		if r.Status != StatusEnabled {
			break
		}
		if trigger == TriggerSleep && r.IsCritical {
			err := errors.Mark(errors.Newf("function %s is critical and cannot be put to sleep", r.FunctionID), errors.ErrCriticalFunction)
			return tr, errors.WithHint(err, "use force-sleep to override the critical exemption")
		}
		enterSleep(r, now)

	case TriggerAutoSleep:
		if EligibleForAutoSleep(r, now) {
			enterSleep(r, now)
		}

	case TriggerWake, TriggerWakeOnDemand:
		if err := guardQuiesced(r, trigger, true); err != nil {
			return tr, err
		}
		if r.Status == StatusSleeping {
			r.Status = StatusEnabled
			r.WakeTransitions++
			r.LastActivity = now
		}

	case TriggerBeginTest:
		switch r.Status {
		case StatusEnabled, StatusDisabled:
			r.RestoreStatus = r.Status
			r.Status = StatusTesting
		case StatusTesting:
			return tr, errors.NewTransitionError("function %s is already under test", r.FunctionID)
		default:
			err := errors.NewTransitionError("function %s is %s; tests require enabled or disabled", r.FunctionID, r.Status)
			return tr, errors.WithHint(err, "enable or disable the function before testing it")
		}

	case TriggerEndTest:
		if r.Status == StatusTesting {
			r.Status = restoreTarget(r.RestoreStatus, StatusDisabled)
			r.RestoreStatus = ""
		}

	case TriggerFail:
		switch r.Status {
		case StatusEnabled, StatusSleeping:
			r.Status = StatusError
		case StatusTesting:
			return tr, errors.NewTransitionError("function %s is under test", r.FunctionID)
		}

	case TriggerBeginMaintenance:
		if r.Status == StatusTesting {
			return tr, errors.NewTransitionError("function %s is under test", r.FunctionID)
		}
		if r.Status != StatusMaintenance {
			r.RestoreStatus = r.Status
			r.Status = StatusMaintenance
		}

	case TriggerEndMaintenance:
		if r.Status == StatusMaintenance {
			r.Status = restoreTarget(r.RestoreStatus, StatusDisabled)
			r.RestoreStatus = ""
		}

	default:
		return tr, errors.NewInvalidRequestError("unknown trigger %q", trigger)
	}

	tr.To = r.Status
	tr.Changed = tr.From != tr.To
	if tr.Changed {
		r.UpdatedAt = now
	}
	return tr, nil
}

func enterSleep(r *Record, now time.Time) {
	r.Status = StatusSleeping
	r.SleepTransitions++
	r.LastActivity = now
}

// guardQuiesced rejects commands while a TESTING wrap is pending, and, when blockMaintenance
// is set, while the function is in MAINTENANCE.
func guardQuiesced(r *Record, trigger Trigger, blockMaintenance bool) error {
	switch {
	case r.Status == StatusTesting:
		return errors.NewTransitionError("cannot %s function %s while it is under test", trigger, r.FunctionID)
	case blockMaintenance && r.Status == StatusMaintenance:
		err := errors.NewTransitionError("cannot %s function %s while it is in maintenance", trigger, r.FunctionID)
		return errors.WithHint(err, "end maintenance first")
	}
	return nil
}

func restoreTarget(saved, fallback Status) Status {
	if saved.Valid() && saved != StatusTesting && saved != StatusMaintenance {
		return saved
	}
	return fallback
}
