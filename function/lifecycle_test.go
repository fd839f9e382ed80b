package function

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/warden/errors"
)

func recordIn(status Status) Record {
	rec := testRecord("f", true)
	rec.Status = status
	return rec
}

func TestApply_Transitions(t *testing.T) {
	now := t0.Add(time.Hour)

	tests := []struct {
		name    string
		from    Status
		trigger Trigger
		want    Status
		changed bool
		errKind error
	}{
		{"enable disabled", StatusDisabled, TriggerEnable, StatusEnabled, true, nil},
		{"enable enabled is a no-op", StatusEnabled, TriggerEnable, StatusEnabled, false, nil},
		{"enable error recovers", StatusError, TriggerEnable, StatusEnabled, true, nil},
		{"enable sleeping wakes", StatusSleeping, TriggerEnable, StatusEnabled, true, nil},
		{"enable in maintenance", StatusMaintenance, TriggerEnable, StatusMaintenance, false, errors.ErrInvalidTransition},
		{"enable under test", StatusTesting, TriggerEnable, StatusTesting, false, errors.ErrInvalidTransition},

		{"disable enabled", StatusEnabled, TriggerDisable, StatusDisabled, true, nil},
		{"disable disabled is a no-op", StatusDisabled, TriggerDisable, StatusDisabled, false, nil},
		{"disable sleeping", StatusSleeping, TriggerDisable, StatusDisabled, true, nil},
		{"disable error", StatusError, TriggerDisable, StatusDisabled, true, nil},
		{"disable maintenance", StatusMaintenance, TriggerDisable, StatusDisabled, true, nil},
		{"disable under test", StatusTesting, TriggerDisable, StatusTesting, false, errors.ErrInvalidTransition},

		{"sleep enabled", StatusEnabled, TriggerSleep, StatusSleeping, true, nil},
		{"sleep disabled is a no-op", StatusDisabled, TriggerSleep, StatusDisabled, false, nil},
		{"sleep in maintenance", StatusMaintenance, TriggerSleep, StatusMaintenance, false, errors.ErrInvalidTransition},

		{"wake sleeping", StatusSleeping, TriggerWake, StatusEnabled, true, nil},
		{"wake enabled is a no-op", StatusEnabled, TriggerWake, StatusEnabled, false, nil},
		{"wake disabled is a no-op", StatusDisabled, TriggerWake, StatusDisabled, false, nil},
		{"wake on demand", StatusSleeping, TriggerWakeOnDemand, StatusEnabled, true, nil},

		{"begin test enabled", StatusEnabled, TriggerBeginTest, StatusTesting, true, nil},
		{"begin test disabled", StatusDisabled, TriggerBeginTest, StatusTesting, true, nil},
		{"begin test sleeping", StatusSleeping, TriggerBeginTest, StatusSleeping, false, errors.ErrInvalidTransition},
		{"begin test twice", StatusTesting, TriggerBeginTest, StatusTesting, false, errors.ErrInvalidTransition},

		{"fail enabled", StatusEnabled, TriggerFail, StatusError, true, nil},
		{"fail error is a no-op", StatusError, TriggerFail, StatusError, false, nil},
		{"fail disabled is a no-op", StatusDisabled, TriggerFail, StatusDisabled, false, nil},

		{"begin maintenance enabled", StatusEnabled, TriggerBeginMaintenance, StatusMaintenance, true, nil},
		{"begin maintenance twice", StatusMaintenance, TriggerBeginMaintenance, StatusMaintenance, false, nil},
		{"end maintenance when not in maintenance", StatusEnabled, TriggerEndMaintenance, StatusEnabled, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := recordIn(tt.from)
			tr, err := Apply(&rec, tt.trigger, now)

			if tt.errKind != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.errKind), "got %v", err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, rec.Status)
			assert.Equal(t, tt.changed, tr.Changed)
			assert.Equal(t, tt.from, tr.From)
			assert.True(t, rec.Status.Valid())
		})
	}
}

func TestApply_SleepCounters(t *testing.T) {
	now := t0.Add(2 * time.Hour)
	rec := recordIn(StatusEnabled)

	_, err := Apply(&rec, TriggerSleep, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.SleepTransitions)
	assert.Equal(t, now, rec.LastActivity)
	assert.Equal(t, now, rec.UpdatedAt)

	_, err = Apply(&rec, TriggerWake, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.WakeTransitions)

	// A wake against an awake function must not touch counters.
	_, err = Apply(&rec, TriggerWake, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.WakeTransitions)
}

func TestApply_CriticalSleep(t *testing.T) {
	now := t0.Add(time.Hour)

	t.Run("manual sleep refused", func(t *testing.T) {
		rec := recordIn(StatusEnabled)
		rec.IsCritical = true

		_, err := Apply(&rec, TriggerSleep, now)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrCriticalFunction))
		assert.Contains(t, errors.FlattenHints(err), "force-sleep")
		assert.Equal(t, StatusEnabled, rec.Status)
	})

	t.Run("force sleep overrides", func(t *testing.T) {
		rec := recordIn(StatusEnabled)
		rec.IsCritical = true

		tr, err := Apply(&rec, TriggerForceSleep, now)
		require.NoError(t, err)
		assert.True(t, tr.Changed)
		assert.Equal(t, StatusSleeping, rec.Status)
	})

	t.Run("auto sleep never applies", func(t *testing.T) {
		rec := recordIn(StatusEnabled)
		rec.IsCritical = true

		tr, err := Apply(&rec, TriggerAutoSleep, t0.Add(48*time.Hour))
		require.NoError(t, err)
		assert.False(t, tr.Changed)
		assert.Equal(t, StatusEnabled, rec.Status)
	})
}

func TestEligibleForAutoSleep(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Record)
		idle   time.Duration
		want   bool
	}{
		{"idle past threshold", nil, 2 * time.Hour, true},
		{"idle below threshold", nil, 30 * time.Minute, false},
		{"exactly at threshold", nil, time.Hour, false},
		{"critical", func(r *Record) { r.IsCritical = true }, 2 * time.Hour, false},
		{"auto sleep off", func(r *Record) { r.SleepPolicy.AutoSleep = false }, 2 * time.Hour, false},
		{"not enabled", func(r *Record) { r.Status = StatusDisabled }, 2 * time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := recordIn(StatusEnabled)
			if tt.mutate != nil {
				tt.mutate(&rec)
			}
			assert.Equal(t, tt.want, EligibleForAutoSleep(&rec, rec.LastActivity.Add(tt.idle)))
		})
	}
}

func TestApply_TestRestoresStatus(t *testing.T) {
	for _, from := range []Status{StatusEnabled, StatusDisabled} {
		t.Run(string(from), func(t *testing.T) {
			rec := recordIn(from)
			_, err := Apply(&rec, TriggerBeginTest, t0)
			require.NoError(t, err)
			assert.Equal(t, StatusTesting, rec.Status)

			_, err = Apply(&rec, TriggerEndTest, t0)
			require.NoError(t, err)
			assert.Equal(t, from, rec.Status)
			assert.Empty(t, rec.RestoreStatus)
		})
	}
}

func TestApply_MaintenanceRestoresStatus(t *testing.T) {
	rec := recordIn(StatusSleeping)
	_, err := Apply(&rec, TriggerBeginMaintenance, t0)
	require.NoError(t, err)
	assert.Equal(t, StatusMaintenance, rec.Status)
	assert.Equal(t, StatusSleeping, rec.RestoreStatus)

	_, err = Apply(&rec, TriggerEndMaintenance, t0)
	require.NoError(t, err)
	assert.Equal(t, StatusSleeping, rec.Status)
}

func TestApply_EnableResetsErrorWindow(t *testing.T) {
	rec := recordIn(StatusError)
	rec.WindowExecutions = 10
	rec.WindowErrors = 9

	_, err := Apply(&rec, TriggerEnable, t0)
	require.NoError(t, err)
	assert.Zero(t, rec.WindowExecutions)
	assert.Zero(t, rec.WindowErrors)
}

func TestApply_UnknownTrigger(t *testing.T) {
	rec := recordIn(StatusEnabled)
	_, err := Apply(&rec, Trigger("explode"), t0)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestErrorPolicy_Exceeded(t *testing.T) {
	policy := ErrorPolicy{Threshold: 0.5, MinSamples: 4}
	rec := recordIn(StatusEnabled)

	for i := 0; i < 3; i++ {
		rec.RecordExecution(false, t0)
	}
	assert.False(t, policy.Exceeded(&rec), "below min samples")

	rec.RecordExecution(true, t0)
	assert.True(t, policy.Exceeded(&rec), "3/4 errors > 0.5")

	assert.False(t, ErrorPolicy{}.Exceeded(&rec), "zero threshold disables escalation")
}
