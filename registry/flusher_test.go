package registry

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/warden/errors"
	"github.com/teranos/warden/function"
)

func storeWith(t *testing.T, ids ...string) *function.Store {
	t.Helper()
	store := function.NewStore()
	for _, id := range ids {
		require.NoError(t, store.Insert(function.NewRecord(function.Spec{FunctionID: id, AutoEnable: true}, fixedNow)))
	}
	return store
}

func TestFlusher_ImmediateMode(t *testing.T) {
	fs, _ := newTestStore(t)
	store := storeWith(t, "a")
	f := NewFlusher(fs, store, nil, 0, zaptest.NewLogger(t).Sugar())

	f.MarkDirty()
	assert.Equal(t, int64(1), f.Stats().Saves)
	assert.False(t, f.Stats().Dirty)

	doc, err := fs.Load()
	require.NoError(t, err)
	assert.Contains(t, doc.Functions, "a")
}

func TestFlusher_DebounceCoalesces(t *testing.T) {
	fs, _ := newTestStore(t)
	store := storeWith(t, "a")
	f := NewFlusher(fs, store, nil, 50*time.Millisecond, zaptest.NewLogger(t).Sugar())

	for i := 0; i < 20; i++ {
		f.MarkDirty()
	}
	assert.Equal(t, int64(0), f.Stats().Saves, "nothing written before the delay")

	require.Eventually(t, func() bool { return f.Stats().Saves == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, f.Stats().Dirty)

	// Quiet store: no further writes
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, int64(1), f.Stats().Saves)
}

func TestFlusher_StopFlushesPending(t *testing.T) {
	fs, _ := newTestStore(t)
	store := storeWith(t, "a")
	f := NewFlusher(fs, store, nil, time.Hour, nil)

	f.MarkDirty()
	require.NoError(t, store.Insert(function.NewRecord(function.Spec{FunctionID: "b"}, fixedNow)))
	require.NoError(t, f.Stop())

	doc, err := fs.Load()
	require.NoError(t, err)
	assert.Len(t, doc.Functions, 2)

	f.MarkDirty()
	assert.False(t, f.Stats().Dirty, "marks after stop are ignored")
}

func TestFlusher_FlushWhenClean(t *testing.T) {
	fs, path := newTestStore(t)
	f := NewFlusher(fs, storeWith(t, "a"), nil, time.Hour, nil)

	require.NoError(t, f.Flush())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "clean flusher writes nothing")
}

func TestFlusher_FailureCallbackAndRetry(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	fs := NewFileStore(filepath.Join(blocker, "registry.json"), WithClock(clock))
	f := NewFlusher(fs, storeWith(t, "a"), nil, 20*time.Millisecond, zaptest.NewLogger(t).Sugar())

	var mu sync.Mutex
	var failures []error
	f.OnFailure(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, err)
	})

	f.MarkDirty()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(failures) >= 2
	}, 2*time.Second, 10*time.Millisecond, "failed saves are retried")

	mu.Lock()
	assert.True(t, errors.Is(failures[0], errors.ErrPersistence))
	mu.Unlock()

	stats := f.Stats()
	assert.True(t, stats.Dirty)
	assert.GreaterOrEqual(t, stats.Failures, int64(2))
	assert.Error(t, stats.LastError)

	// Unblock the path; the next retry succeeds.
	require.NoError(t, os.Remove(blocker))
	require.Eventually(t, func() bool { return f.Stats().Saves == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, f.Stop())
	assert.NoError(t, f.Stats().LastError)
}

func TestFlusher_CarriesBaseDocument(t *testing.T) {
	fs, path := newTestStore(t)
	require.NoError(t, os.WriteFile(path, []byte(`{"version":"2.0","functions":{"x":"opaque"},"owner":"ops"}`), 0644))

	base, err := fs.Load()
	require.NoError(t, err)

	f := NewFlusher(fs, storeWith(t, "a"), base, 0, nil)
	f.MarkDirty()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"owner": "ops"`)
	assert.Contains(t, string(raw), `"x": "opaque"`)
}

func TestFlusher_Forget(t *testing.T) {
	fs, path := newTestStore(t)
	require.NoError(t, os.WriteFile(path, []byte(`{"functions":{"x":"opaque","y":42}}`), 0644))

	base, err := fs.Load()
	require.NoError(t, err)

	f := NewFlusher(fs, storeWith(t, "a"), base, 0, nil)
	assert.False(t, f.Forget("a"), "decoded records are not forgotten here")
	assert.True(t, f.Forget("x"))
	assert.False(t, f.Forget("x"))
	assert.Contains(t, base.Unparsed, "x", "the loaded document is left untouched")

	f.MarkDirty()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"x"`)
	assert.Contains(t, string(raw), `"y": 42`)
}
