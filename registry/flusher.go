package registry

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/warden/function"
	"github.com/teranos/warden/logger"
)

// Snapshotter provides the records to persist. *function.Store satisfies it.
type Snapshotter interface {
	Snapshot() []function.Record
}

// FailureFunc is called after every failed save.
type FailureFunc func(err error)

// Flusher batches store mutations into registry writes.
//
// MarkDirty schedules a save at most delay after the first unsaved mutation; further marks
// inside that window coalesce into the same save. Staleness is therefore bounded by delay
// (plus the save itself). A delay of zero saves synchronously on every mark.
// A failed save keeps the flusher dirty and is retried after another delay.
type Flusher struct {
	file   *FileStore
	source Snapshotter
	delay  time.Duration
	logger *zap.SugaredLogger

	// failLog throttles repeated failure logs; every failure still reaches onFailure.
	failLog rate.Sometimes

	// saveMu orders snapshot+save pairs so an older snapshot never lands after a newer one.
	saveMu sync.Mutex

	mu        sync.Mutex
	base      *Document
	dirty     bool
	timer     *time.Timer
	stopped   bool
	onFailure FailureFunc
	saves     int64
	failures  int64
	lastErr   error
}

// NewFlusher creates a flusher writing source to file. base supplies the schema version,
// unknown top-level fields and undecodable entries from the loaded document; nil starts fresh.
func NewFlusher(file *FileStore, source Snapshotter, base *Document, delay time.Duration, log *zap.SugaredLogger) *Flusher {
	if base == nil {
		base = NewDocument()
	}
	if delay < 0 {
		delay = 0
	}
	return &Flusher{
		file:    file,
		source:  source,
		base:    base,
		delay:   delay,
		logger:  logger.OrNop(log),
		failLog: rate.Sometimes{First: 1, Interval: 30 * time.Second},
	}
}

// OnFailure registers a callback for failed saves.
func (f *Flusher) OnFailure(fn FailureFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFailure = fn
}

// MarkDirty records that the store changed and schedules a save.
func (f *Flusher) MarkDirty() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.dirty = true
	if f.delay == 0 {
		f.mu.Unlock()
		_ = f.Flush()
		return
	}
	if f.timer == nil {
		f.timer = time.AfterFunc(f.delay, f.timerFired)
	}
	f.mu.Unlock()
}

func (f *Flusher) timerFired() {
	f.mu.Lock()
	f.timer = nil
	f.mu.Unlock()
	_ = f.Flush()
}

// Forget drops an undecodable entry with the given id so the next save no longer
// writes it back. It reports whether such an entry existed.
func (f *Flusher) Forget(functionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.base.Unparsed[functionID]; !ok {
		return false
	}
	// Copy on write: an in-progress save may still hold the old map.
	next := *f.base
	next.Unparsed = make(map[string]json.RawMessage, len(f.base.Unparsed)-1)
	for id, raw := range f.base.Unparsed {
		if id != functionID {
			next.Unparsed[id] = raw
		}
	}
	f.base = &next
	return true
}

// Flush saves the current snapshot now if anything changed since the last successful save.
// The error is also delivered to the OnFailure callback.
func (f *Flusher) Flush() error {
	f.saveMu.Lock()
	defer f.saveMu.Unlock()

	f.mu.Lock()
	if !f.dirty {
		f.mu.Unlock()
		return nil
	}
	f.dirty = false
	base := f.base
	f.mu.Unlock()

	err := f.file.Save(base.WithRecords(f.source.Snapshot()))
	if err == nil {
		f.mu.Lock()
		f.saves++
		f.lastErr = nil
		f.mu.Unlock()
		return nil
	}

	f.mu.Lock()
	f.failures++
	f.lastErr = err
	f.dirty = true
	if !f.stopped && f.timer == nil && f.delay > 0 {
		f.timer = time.AfterFunc(f.delay, f.timerFired)
	}
	onFailure := f.onFailure
	failures := f.failures
	f.mu.Unlock()

	f.failLog.Do(func() {
		f.logger.Errorw("Registry save failed, in-memory state remains authoritative",
			logger.FieldPath, f.file.Path(),
			logger.FieldTotalCount, failures,
			logger.FieldError, err.Error())
	})
	if onFailure != nil {
		onFailure(err)
	}
	return err
}

// Stop cancels any pending timer and performs a final save if dirty.
func (f *Flusher) Stop() error {
	f.mu.Lock()
	f.stopped = true
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.mu.Unlock()
	return f.Flush()
}

// FlusherStats reports flusher activity.
type FlusherStats struct {
	Saves     int64 `json:"saves"`
	Failures  int64 `json:"failures"`
	Dirty     bool  `json:"dirty"`
	LastError error `json:"-"`
}

// MarshalJSON renders LastError as its message.
func (s FlusherStats) MarshalJSON() ([]byte, error) {
	type plain FlusherStats
	out := struct {
		plain
		LastError string `json:"last_error,omitempty"`
	}{plain: plain(s)}
	if s.LastError != nil {
		out.LastError = s.LastError.Error()
	}
	return json.Marshal(out)
}

// Stats returns current counters.
func (f *Flusher) Stats() FlusherStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return FlusherStats{Saves: f.saves, Failures: f.failures, Dirty: f.dirty, LastError: f.lastErr}
}
