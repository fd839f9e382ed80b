package function

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/warden/errors"
)

func TestRecordJSON_PreservesUnknownFields(t *testing.T) {
	input := `{
		"function_id": "malware_scanner",
		"name": "Malware Scanner",
		"function_type": "ai_agent",
		"security_level": "HIGH",
		"status": "ENABLED",
		"is_critical": true,
		"execution_count": 7,
		"success_count": 5,
		"error_count": 2,
		"created_at": "2025-09-01T10:00:00.123456",
		"last_activity": "2025-09-02 08:30:00",
		"sleep_policy": {"auto_sleep": true, "sleep_after_hours": 6},
		"vendor_tags": ["edr", "yara"],
		"owner": {"team": "blue"}
	}`

	var rec Record
	require.NoError(t, json.Unmarshal([]byte(input), &rec))

	assert.Equal(t, "malware_scanner", rec.FunctionID)
	assert.Equal(t, StatusEnabled, rec.Status)
	assert.Equal(t, SecurityHigh, rec.SecurityLevel)
	assert.Equal(t, int64(7), rec.ExecutionCount)
	assert.Equal(t, 2025, rec.CreatedAt.Year())
	assert.Equal(t, 8, rec.LastActivity.Hour())
	assert.True(t, rec.UpdatedAt.IsZero())
	require.Len(t, rec.Extra, 2)
	assert.JSONEq(t, `["edr","yara"]`, string(rec.Extra["vendor_tags"]))

	out, err := json.Marshal(rec)
	require.NoError(t, err)

	var generic map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &generic))
	assert.Equal(t, "enabled", generic["status"])
	assert.Equal(t, map[string]interface{}{"team": "blue"}, generic["owner"])
	assert.Nil(t, generic["updated_at"], "zero time is written as null")

	var again Record
	require.NoError(t, json.Unmarshal(out, &again))
	assert.Equal(t, rec.Counters(), again.Counters())
	require.Len(t, again.Extra, 2)
	assert.JSONEq(t, string(rec.Extra["owner"]), string(again.Extra["owner"]))
	assert.True(t, rec.CreatedAt.Equal(again.CreatedAt))
}

func TestRecordJSON_KnownFieldsWinOverExtra(t *testing.T) {
	rec := NewRecord(Spec{FunctionID: "f1", AutoEnable: true}, t0)
	rec.Extra = map[string]json.RawMessage{"status": json.RawMessage(`"bogus"`)}

	out, err := json.Marshal(rec)
	require.NoError(t, err)

	var generic map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &generic))
	assert.Equal(t, "enabled", generic["status"])
	assert.Equal(t, []interface{}{}, generic["dependencies"])
}

func TestTimestamp_UnixSeconds(t *testing.T) {
	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`1700000000.5`), &ts))
	assert.Equal(t, int64(1700000000), time.Time(ts).Unix())

	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
}

func TestSpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{"minimal", Spec{FunctionID: "f1"}, false},
		{"empty id", Spec{}, true},
		{"whitespace id", Spec{FunctionID: "bad id"}, true},
		{"unknown level", Spec{FunctionID: "f1", SecurityLevel: "extreme"}, true},
		{"negative sleep hours", Spec{FunctionID: "f1", SleepPolicy: SleepPolicy{SleepAfterHours: -1}}, true},
		{"self dependency", Spec{FunctionID: "f1", Dependencies: []string{"f1"}}, true},
		{"duplicate dependency", Spec{FunctionID: "f1", Dependencies: []string{"a", "a"}}, true},
		{"valid version", Spec{FunctionID: "f1", Version: "1.2.3", Requires: ">= 2.0.0"}, false},
		{"invalid version", Spec{FunctionID: "f1", Version: "one"}, true},
		{"invalid constraint", Spec{FunctionID: "f1", Requires: "invalid-constraint"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalidRequestError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSpec_CheckCompatibility(t *testing.T) {
	spec := Spec{FunctionID: "f1", Requires: "^2.0.0"}
	assert.NoError(t, spec.CheckCompatibility("2.4.1"))

	err := spec.CheckCompatibility("3.0.0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires manager")

	assert.NoError(t, Spec{FunctionID: "f1"}.CheckCompatibility("not-a-version"))
}

func TestNewRecord(t *testing.T) {
	rec := NewRecord(Spec{FunctionID: "f1", AutoEnable: false}, t0)
	assert.Equal(t, StatusDisabled, rec.Status)
	assert.Equal(t, SecurityMedium, rec.SecurityLevel)
	assert.Equal(t, "f1", rec.Name)
	assert.Equal(t, t0, rec.CreatedAt)
}

func TestApplySpecKeepsCounters(t *testing.T) {
	rec := NewRecord(Spec{FunctionID: "f1", AutoEnable: true}, t0)
	rec.RecordExecution(true, t0)

	later := t0.Add(time.Hour)
	rec.ApplySpec(Spec{FunctionID: "f1", Name: "Renamed", IsCritical: true}, later)

	assert.Equal(t, "Renamed", rec.Name)
	assert.True(t, rec.IsCritical)
	assert.Equal(t, int64(1), rec.ExecutionCount)
	assert.Equal(t, StatusEnabled, rec.Status)
	assert.Equal(t, t0, rec.CreatedAt)
	assert.Equal(t, later, rec.UpdatedAt)
}

func TestParseHelpers(t *testing.T) {
	s, err := ParseStatus("Sleeping")
	require.NoError(t, err)
	assert.Equal(t, StatusSleeping, s)
	_, err = ParseStatus("napping")
	assert.Error(t, err)

	l, err := ParseSecurityLevel("CRITICAL")
	require.NoError(t, err)
	assert.Equal(t, 4, l.Rank())
	assert.Greater(t, SecurityHigh.Rank(), SecurityMedium.Rank())
}
