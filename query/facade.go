package query

import (
	"time"

	"github.com/teranos/warden/function"
)

// Source provides point-in-time copies of every record.
// *function.Store satisfies it.
type Source interface {
	Snapshot() []function.Record
}

// Facade answers read-only queries against a Source.
type Facade struct {
	src Source
	now func() time.Time
}

// New creates a Facade over src.
func New(src Source) *Facade {
	return &Facade{src: src, now: time.Now}
}

// WithClock replaces the clock used for Statistics.LastUpdated.
func (f *Facade) WithClock(now func() time.Time) *Facade {
	f.now = now
	return f
}

// Search returns one page of records matching filter.
func (f *Facade) Search(filter Filter, req PageRequest) (Page, error) {
	return Paginate(Apply(f.src.Snapshot(), filter), req)
}

// List returns every record matching filter, sorted by function_id.
func (f *Facade) List(filter Filter) []function.Record {
	return Apply(f.src.Snapshot(), filter)
}

// ListByType returns every record of the given function_type.
func (f *Facade) ListByType(functionType string) []function.Record {
	return f.List(Filter{FunctionType: functionType})
}

// ListByStatus returns every record currently in status.
func (f *Facade) ListByStatus(status function.Status) []function.Record {
	return f.List(Filter{Status: status})
}

// Statistics aggregates the current snapshot.
func (f *Facade) Statistics() Statistics {
	return Compute(f.src.Snapshot(), f.now())
}
