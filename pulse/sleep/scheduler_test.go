package sleep

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/warden/function"
	wardentest "github.com/teranos/warden/internal/testing"
	"github.com/teranos/warden/telemetry"
)

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func hourly(id string, critical bool) function.Spec {
	return function.Spec{
		FunctionID:  id,
		AutoEnable:  true,
		IsCritical:  critical,
		SleepPolicy: function.SleepPolicy{AutoSleep: true, SleepAfterHours: 1},
	}
}

type fixture struct {
	store   *function.Store
	clock   *wardentest.Clock
	changes atomic.Int64
	mu      sync.Mutex
	events  []telemetry.Event
	s       *Scheduler
}

func newFixture(t *testing.T, specs ...function.Spec) *fixture {
	t.Helper()
	f := &fixture{store: function.NewStore(), clock: wardentest.NewClock(start)}
	for _, spec := range specs {
		require.NoError(t, f.store.Insert(function.NewRecord(spec, start)))
	}
	f.s = New(f.store, Config{Interval: time.Hour},
		WithClock(f.clock.Now),
		WithLogger(zaptest.NewLogger(t).Sugar()),
		WithEmitter(telemetry.EmitterFunc(func(_ context.Context, e telemetry.Event) {
			f.mu.Lock()
			f.events = append(f.events, e)
			f.mu.Unlock()
		})),
		WithChangeHook(func() { f.changes.Add(1) }),
	)
	return f
}

func (f *fixture) status(t *testing.T, id string) function.Status {
	t.Helper()
	rec, ok := f.store.Get(id)
	require.True(t, ok)
	return rec.Status
}

func TestRunOnce_CriticalExemption(t *testing.T) {
	f := newFixture(t, hourly("f2", true))
	f.clock.Advance(2 * time.Hour)

	applied := f.s.RunOnce(context.Background())
	assert.Empty(t, applied)
	assert.Equal(t, function.StatusEnabled, f.status(t, "f2"))
	assert.Zero(t, f.changes.Load())
	assert.Empty(t, f.events)
}

func TestRunOnce_IdleFunctionSleeps(t *testing.T) {
	f := newFixture(t, hourly("f3", false), hourly("fresh", false))

	f.clock.Advance(90 * time.Minute)
	_, err := f.store.Update("fresh", func(r *function.Record) error {
		r.LastActivity = f.clock.Now()
		return nil
	})
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	applied := f.s.RunOnce(context.Background())

	require.Len(t, applied, 1)
	assert.Equal(t, "f3", applied[0].FunctionID)
	assert.Equal(t, function.StatusSleeping, f.status(t, "f3"))
	assert.Equal(t, function.StatusEnabled, f.status(t, "fresh"))

	rec, _ := f.store.Get("f3")
	assert.Equal(t, int64(1), rec.SleepTransitions)
	assert.Equal(t, f.clock.Now(), rec.LastActivity)

	require.Len(t, f.events, 1)
	assert.Equal(t, telemetry.EventTransition, f.events[0].EventType)
	assert.Equal(t, "auto_sleep", f.events[0].Trigger)
	assert.Equal(t, int64(1), f.changes.Load())

	// Already sleeping: only the other function is picked up later.
	f.clock.Advance(3 * time.Hour)
	applied = f.s.RunOnce(context.Background())
	require.Len(t, applied, 1)
	assert.Equal(t, "fresh", applied[0].FunctionID)
}

func TestRunOnce_SkipsIneligible(t *testing.T) {
	noAuto := hourly("manual", false)
	noAuto.SleepPolicy.AutoSleep = false
	disabled := hourly("off", false)
	disabled.AutoEnable = false

	f := newFixture(t, noAuto, disabled, hourly("edge", false))
	f.clock.Advance(time.Hour)

	assert.Empty(t, f.s.RunOnce(context.Background()), "exactly at the threshold is not past it")

	f.clock.Advance(time.Hour)
	applied := f.s.RunOnce(context.Background())
	require.Len(t, applied, 1)
	assert.Equal(t, "edge", applied[0].FunctionID)
	assert.Equal(t, function.StatusEnabled, f.status(t, "manual"))
	assert.Equal(t, function.StatusDisabled, f.status(t, "off"))
}

func TestRunOnce_ForceSleptCriticalStaysUntouched(t *testing.T) {
	f := newFixture(t, hourly("core", true))
	_, err := f.store.Update("core", func(r *function.Record) error {
		_, err := function.Apply(r, function.TriggerForceSleep, start)
		return err
	})
	require.NoError(t, err)
	_, err = f.store.Update("core", func(r *function.Record) error {
		_, err := function.Apply(r, function.TriggerWake, start)
		return err
	})
	require.NoError(t, err)

	f.clock.Advance(5 * time.Hour)
	assert.Empty(t, f.s.RunOnce(context.Background()))
	assert.Equal(t, function.StatusEnabled, f.status(t, "core"))
}

func TestGetStats(t *testing.T) {
	f := newFixture(t, hourly("a", false), hourly("b", false))
	f.clock.Advance(2 * time.Hour)
	f.s.RunOnce(context.Background())
	f.s.RunOnce(context.Background())

	stats := f.s.GetStats()
	assert.Equal(t, int64(2), stats["passes_since_start"])
	assert.Equal(t, int64(2), stats["slept_total"])
	assert.Equal(t, f.clock.Now(), stats["last_pass_at"])
	assert.Equal(t, time.Hour, stats["interval"])
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, hourly("f3", false))
	f.clock.Advance(2 * time.Hour)

	f.s.Start()
	f.s.Start()
	f.s.SetInterval(5 * time.Millisecond)

	assert.Eventually(t, func() bool {
		rec, _ := f.store.Get("f3")
		return rec.Status == function.StatusSleeping
	}, 2*time.Second, 5*time.Millisecond)

	f.s.Stop()
	assert.Equal(t, 5*time.Millisecond, f.s.GetStats()["interval"])
}

func TestStopsWithParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewWithContext(ctx, function.NewStore(), Config{Interval: time.Millisecond})
	s.Start()
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler loop did not exit after parent cancellation")
	}
}
