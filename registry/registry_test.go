package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/warden/errors"
	"github.com/teranos/warden/function"
)

var fixedNow = time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func newTestStore(t *testing.T, opts ...Option) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "functions_registry.json")
	opts = append([]Option{WithClock(clock), WithLogger(zaptest.NewLogger(t).Sugar())}, opts...)
	return NewFileStore(path, opts...), path
}

func sampleRecords() []function.Record {
	a := function.NewRecord(function.Spec{FunctionID: "alpha", FunctionType: "bot", AutoEnable: true}, fixedNow)
	a.RecordExecution(true, fixedNow)
	a.RecordExecution(false, fixedNow)
	a.Extra = map[string]json.RawMessage{"owner": json.RawMessage(`"blue-team"`)}

	b := function.NewRecord(function.Spec{FunctionID: "beta", IsCritical: true}, fixedNow)
	b.Status = function.StatusSleeping
	b.SleepTransitions = 3
	return []function.Record{a, b}
}

func TestLoad_MissingFile(t *testing.T) {
	fs, _ := newTestStore(t)

	doc, err := fs.Load()
	require.NoError(t, err)
	assert.Empty(t, doc.Functions)
	assert.Equal(t, SchemaVersion, doc.Version)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	fs, path := newTestStore(t)

	base := NewDocument()
	base.Extra = map[string]json.RawMessage{"generator": json.RawMessage(`{"tool":"ops-script"}`)}
	require.NoError(t, fs.Save(base.WithRecords(sampleRecords())))

	doc, err := fs.Load()
	require.NoError(t, err)
	require.Len(t, doc.Functions, 2)

	alpha := doc.Functions["alpha"]
	assert.Equal(t, function.StatusEnabled, alpha.Status)
	assert.Equal(t, function.Counters{Executions: 2, Successes: 1, Errors: 1}, alpha.Counters())
	assert.JSONEq(t, `"blue-team"`, string(alpha.Extra["owner"]))

	beta := doc.Functions["beta"]
	assert.Equal(t, function.StatusSleeping, beta.Status)
	assert.Equal(t, int64(3), beta.SleepTransitions)
	assert.True(t, beta.IsCritical)

	assert.JSONEq(t, `{"tool":"ops-script"}`, string(doc.Extra["generator"]))
	assert.True(t, doc.LastUpdated.Equal(fixedNow))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var top map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &top))
	for _, key := range []string{"version", "last_updated", "functions", "statistics", "generator"} {
		assert.Contains(t, top, key)
	}

	var stats struct {
		TotalFunctions  int   `json:"total_functions"`
		TotalExecutions int64 `json:"total_executions"`
	}
	require.NoError(t, json.Unmarshal(top["statistics"], &stats))
	assert.Equal(t, 2, stats.TotalFunctions)
	assert.Equal(t, int64(2), stats.TotalExecutions)
}

func TestLoad_ExternallyAuthoredFile(t *testing.T) {
	fs, path := newTestStore(t)
	content := `{
		"version": "1.4",
		"last_updated": "2025-11-02T10:11:12.000123",
		"functions": {
			"legacy_bot": {
				"name": "Legacy Bot",
				"status": "RUNNING",
				"security_level": "ULTRA",
				"execution_count": 10,
				"success_count": 4,
				"error_count": 2,
				"plugin_settings": {"retries": 3}
			},
			"broken": "not a record",
			"scanner": {"function_id": "scanner", "status": "maintenance"}
		},
		"statistics": {"by_status": ["shape", "from", "another", "tool"]},
		"exported_by": "dashboard"
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	doc, err := fs.Load()
	require.NoError(t, err)

	legacy := doc.Functions["legacy_bot"]
	assert.Equal(t, "legacy_bot", legacy.FunctionID, "id taken from the map key")
	assert.Equal(t, function.StatusDisabled, legacy.Status, "unknown status disables")
	assert.Equal(t, function.SecurityMedium, legacy.SecurityLevel)
	assert.Equal(t, int64(6), legacy.ExecutionCount, "count repaired to successes + errors")
	assert.Contains(t, legacy.Extra, "plugin_settings")

	assert.Equal(t, function.StatusMaintenance, doc.Functions["scanner"].Status)
	assert.Contains(t, doc.Unparsed, "broken")
	assert.NotContains(t, doc.Functions, "broken")

	require.NoError(t, fs.Save(doc.WithRecords(doc.Records())))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var top struct {
		Functions  map[string]json.RawMessage `json:"functions"`
		ExportedBy string                     `json:"exported_by"`
	}
	require.NoError(t, json.Unmarshal(raw, &top))
	assert.Equal(t, "dashboard", top.ExportedBy)
	assert.JSONEq(t, `"not a record"`, string(top.Functions["broken"]), "undecodable entries survive a save")
	assert.Contains(t, string(top.Functions["legacy_bot"]), `"plugin_settings"`)
}

func TestLoad_InterruptedTest(t *testing.T) {
	fs, path := newTestStore(t)
	content := `{"functions": {
		"f1": {"status": "testing", "restore_status": "enabled", "execution_count": 2, "success_count": 2},
		"f2": {"status": "testing"},
		"f3": {"status": "testing", "restore_status": "maintenance"}
	}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	doc, err := fs.Load()
	require.NoError(t, err)

	f1 := doc.Functions["f1"]
	assert.Equal(t, function.StatusEnabled, f1.Status)
	assert.Empty(t, f1.RestoreStatus)
	assert.Equal(t, int64(2), f1.ExecutionCount)

	assert.Equal(t, function.StatusDisabled, doc.Functions["f2"].Status, "no saved status falls back to disabled")
	assert.Equal(t, function.StatusDisabled, doc.Functions["f3"].Status)
	assert.Empty(t, doc.Functions["f3"].RestoreStatus)
}

func TestLoad_CorruptFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"truncated json", `{"version": "2.0", "functions": {"a": `},
		{"not json", "this is not a registry"},
		{"empty", "   \n"},
		{"functions is a list", `{"functions": ["a", "b"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.InfoLevel)
			fs, path := newTestStore(t, WithLogger(zap.New(core).Sugar()))
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			doc, err := fs.Load()
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCorruptRegistry))
			require.NotNil(t, doc)
			assert.Empty(t, doc.Functions)

			_, statErr := os.Stat(path)
			assert.True(t, os.IsNotExist(statErr), "corrupt file moved aside")

			quarantined := fmt.Sprintf("%s.corrupt-%d", path, fixedNow.Unix())
			kept, readErr := os.ReadFile(quarantined)
			require.NoError(t, readErr)
			assert.Equal(t, tt.content, string(kept))

			assert.Equal(t, 1, logs.FilterMessage("Registry file is corrupt, starting with an empty store").Len())
		})
	}
}

func TestSave_RotatesBackups(t *testing.T) {
	fs, path := newTestStore(t, WithBackups(3))

	for i := 0; i < 5; i++ {
		rec := function.NewRecord(function.Spec{FunctionID: fmt.Sprintf("gen%d", i)}, fixedNow)
		require.NoError(t, fs.Save(NewDocument().WithRecords([]function.Record{rec})))
	}

	for n := 1; n <= 3; n++ {
		_, err := os.Stat(backupPath(path, n))
		assert.NoError(t, err, "backup %d exists", n)
	}
	_, err := os.Stat(backupPath(path, 4))
	assert.True(t, os.IsNotExist(err))

	newest, err := os.ReadFile(backupPath(path, 1))
	require.NoError(t, err)
	assert.Contains(t, string(newest), "gen3")

	oldest, err := os.ReadFile(backupPath(path, 3))
	require.NoError(t, err)
	assert.Contains(t, string(oldest), "gen1")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-", "temp files are cleaned up")
	}
}

func TestSave_NoBackups(t *testing.T) {
	fs, path := newTestStore(t, WithBackups(0))
	require.NoError(t, fs.Save(NewDocument()))
	require.NoError(t, fs.Save(NewDocument()))

	_, err := os.Stat(backupPath(path, 1))
	assert.True(t, os.IsNotExist(err))
}

func TestSave_Failure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	fs := NewFileStore(filepath.Join(blocker, "registry.json"), WithClock(clock))
	err := fs.Save(NewDocument())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPersistence))
}

func TestMerge(t *testing.T) {
	persisted := map[string]function.Record{}

	saved := function.NewRecord(function.Spec{FunctionID: "scanner", Name: "Old Name", AutoEnable: true}, fixedNow.Add(-48*time.Hour))
	saved.Status = function.StatusSleeping
	saved.RecordExecution(true, fixedNow.Add(-24*time.Hour))
	saved.SleepPolicy = function.SleepPolicy{AutoSleep: false, SleepAfterHours: 2}
	saved.Extra = map[string]json.RawMessage{"vendor": json.RawMessage(`"acme"`)}
	persisted["scanner"] = saved

	orphan := function.NewRecord(function.Spec{FunctionID: "orphan"}, fixedNow)
	persisted["orphan"] = orphan

	defaults := []function.Spec{
		{FunctionID: "scanner", Name: "Malware Scanner", FunctionType: "ai_agent", IsCritical: true, AutoEnable: true, SleepPolicy: function.DefaultSleepPolicy()},
		{FunctionID: "fresh", Name: "Fresh", AutoEnable: true, SleepPolicy: function.DefaultSleepPolicy()},
		{FunctionID: "fresh", Name: "Duplicate default ignored"},
	}

	merged := Merge(defaults, persisted, fixedNow)
	require.Len(t, merged, 3)
	assert.Equal(t, "fresh", merged[0].FunctionID)
	assert.Equal(t, "orphan", merged[1].FunctionID)
	assert.Equal(t, "scanner", merged[2].FunctionID)

	fresh := merged[0]
	assert.Equal(t, "Fresh", fresh.Name)
	assert.Equal(t, function.StatusEnabled, fresh.Status)

	scanner := merged[2]
	assert.Equal(t, "Malware Scanner", scanner.Name, "code metadata wins")
	assert.True(t, scanner.IsCritical)
	assert.Equal(t, function.StatusSleeping, scanner.Status, "persisted status wins")
	assert.Equal(t, int64(1), scanner.ExecutionCount, "persisted counters win")
	assert.Equal(t, saved.CreatedAt, scanner.CreatedAt)
	assert.Equal(t, saved.UpdatedAt, scanner.UpdatedAt)
	assert.Equal(t, function.SleepPolicy{AutoSleep: false, SleepAfterHours: 2}, scanner.SleepPolicy, "persisted sleep policy wins")
	assert.Contains(t, scanner.Extra, "vendor")

	assert.Equal(t, function.StatusDisabled, merged[1].Status, "records without a default are kept as-is")

	merged[2].Extra["vendor"] = json.RawMessage(`"changed"`)
	assert.JSONEq(t, `"acme"`, string(persisted["scanner"].Extra["vendor"]), "merge does not alias persisted records")
}
