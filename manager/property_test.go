//go:build property
// +build property

package manager

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"

	"github.com/teranos/warden/errors"
	"github.com/teranos/warden/function"
	wardentest "github.com/teranos/warden/internal/testing"
	"github.com/teranos/warden/pulse/dispatch"
	"github.com/teranos/warden/query"
)

func quietManager(t *testing.T, clock *wardentest.Clock, path string) *Manager {
	t.Helper()
	opts := DefaultOptions()
	opts.RegistryPath = path
	opts.SchedulerEnabled = false
	opts.FlushDelay = time.Hour
	opts.Logger = zap.NewNop().Sugar()
	opts.Clock = clock.Now
	opts.Dispatch.ErrorPolicy = function.ErrorPolicy{} // never escalate
	m, err := New(opts)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return m
}

// TestCounterIdentity verifies execution_count == success_count + error_count.
// Property: for any sequence of outcomes the identity holds after every call
func TestCounterIdentity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("execution counters always add up", prop.ForAll(
		func(outcomes []bool) bool {
			m := quietManager(t, wardentest.NewClock(start), "")
			defer m.Close()
			ctx := context.Background()

			if _, err := m.Register(ctx, spec("f", true)); err != nil {
				return false
			}
			m.RegisterHandler("f", dispatch.HandlerFunc(func(_ context.Context, p dispatch.Params) (any, error) {
				if p["ok"] == true {
					return nil, nil
				}
				return nil, errors.New("boom")
			}))

			for _, ok := range outcomes {
				m.Execute(ctx, "f", dispatch.Params{"ok": ok})
				rec, _ := m.Get("f")
				if rec.ExecutionCount != rec.SuccessCount+rec.ErrorCount {
					return false
				}
			}
			rec, _ := m.Get("f")
			return rec.ExecutionCount == int64(len(outcomes))
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}

// TestCriticalExemption verifies the automatic pass never sleeps a critical function.
// Property: after any idle time, critical functions stay ENABLED and others sleep past their threshold
func TestCriticalExemption(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("auto sleep respects criticality", prop.ForAll(
		func(critical bool, idleMinutes int, thresholdHours float64) bool {
			clock := wardentest.NewClock(start)
			m := quietManager(t, clock, "")
			defer m.Close()

			s := spec("f", true)
			s.IsCritical = critical
			s.SleepPolicy = function.SleepPolicy{AutoSleep: true, SleepAfterHours: thresholdHours}
			if _, err := m.Register(context.Background(), s); err != nil {
				return false
			}

			idle := time.Duration(idleMinutes) * time.Minute
			clock.Advance(idle)
			m.SleepPass(context.Background())

			rec, _ := m.Get("f")
			if critical {
				return rec.Status == function.StatusEnabled
			}
			shouldSleep := idle > s.SleepPolicy.IdleThreshold()
			return (rec.Status == function.StatusSleeping) == shouldSleep
		},
		gen.Bool(),
		gen.IntRange(0, 72*60),
		gen.Float64Range(0.1, 48),
	))

	properties.TestingRun(t)
}

// TestRegistryRoundTrip verifies a saved registry reloads to the same ids, statuses and counters.
// Property: Close then New reproduces the store for any mix of statuses
func TestRegistryRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	triggers := []func(*Manager, context.Context, string) (function.Transition, error){
		(*Manager).Enable,
		(*Manager).Disable,
		(*Manager).ForceSleep,
		(*Manager).BeginMaintenance,
	}

	properties.Property("registry round trip", prop.ForAll(
		func(choices []int) bool {
			path := filepath.Join(t.TempDir(), "functions_registry.json")
			clock := wardentest.NewClock(start)
			ctx := context.Background()

			first := quietManager(t, clock, path)
			for i, c := range choices {
				id := fmt.Sprintf("fn-%03d", i)
				if _, err := first.Register(ctx, spec(id, i%2 == 0)); err != nil {
					return false
				}
				triggers[c](first, ctx, id)
			}
			if err := first.Close(); err != nil {
				return false
			}

			second := quietManager(t, clock, path)
			defer second.Close()

			before := first.List(query.Filter{})
			after := second.List(query.Filter{})
			if len(before) != len(after) {
				return false
			}
			for i := range before {
				if before[i].FunctionID != after[i].FunctionID ||
					before[i].Status != after[i].Status ||
					before[i].Counters() != after[i].Counters() {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}
