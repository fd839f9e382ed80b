package function

import (
	"sort"
	"sync"

	"github.com/teranos/warden/errors"
)

// Store is the in-memory map of function_id -> record and the single source of truth at runtime.
//
// Mutations take the write lock for the duration of the change; reads take the read lock
// and always return copies, so callers never observe a record mid-mutation.
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewStore creates an empty record store
func NewStore() *Store {
	return &Store{
		records: make(map[string]*Record),
	}
}

// Peers gives a mutation read access to other records while the store lock is held.
type Peers interface {
	Peek(id string) (Record, bool)
}

type lockedPeers map[string]*Record

func (p lockedPeers) Peek(id string) (Record, bool) {
	rec, ok := p[id]
	if !ok {
		return Record{}, false
	}
	return rec.Copy(), true
}

// Insert adds a new record.
// Returns ErrDuplicateID if the function_id is already present.
func (s *Store) Insert(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.FunctionID]; exists {
		err := errors.Mark(errors.Newf("function already registered: %s", rec.FunctionID), errors.ErrDuplicateID)
		return errors.WithHint(err, "unregister it first or register with overwrite")
	}
	stored := rec.Copy()
	s.records[rec.FunctionID] = &stored
	return nil
}

// Delete removes a record. Returns false if it was absent.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[id]; !exists {
		return false
	}
	delete(s.records, id)
	return true
}

// Get retrieves a copy of a record by function_id
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return rec.Copy(), true
}

// Has reports whether id is registered.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[id]
	return ok
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// IDs returns all function_ids in sorted order
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns copies of all records sorted by function_id.
func (s *Store) Snapshot() []Record {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Copy())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].FunctionID < out[j].FunctionID })
	return out
}

// Update applies fn to a copy of the record under the write lock and commits the copy
// only if fn returns nil. Returns the committed (or unchanged) record.
func (s *Store) Update(id string, fn func(*Record) error) (Record, error) {
	return s.UpdateWithPeers(id, func(rec *Record, _ Peers) error {
		return fn(rec)
	})
}

// UpdateWithPeers is Update with read access to other records inside the same critical section.
func (s *Store) UpdateWithPeers(id string, fn func(*Record, Peers) error) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[id]
	if !ok {
		return Record{}, errors.NewNotFoundError("function not found: %s", id)
	}

	working := current.Copy()
	if err := fn(&working, lockedPeers(s.records)); err != nil {
		return current.Copy(), err
	}
	if working.FunctionID != id {
		return current.Copy(), errors.AssertionFailedf("function_id is immutable: %s -> %s", id, working.FunctionID)
	}
	s.records[id] = &working
	return working.Copy(), nil
}

// ReplaceAll swaps the store contents for recs. Used when loading the registry at startup.
func (s *Store) ReplaceAll(recs []Record) {
	next := make(map[string]*Record, len(recs))
	for _, rec := range recs {
		stored := rec.Copy()
		next[rec.FunctionID] = &stored
	}

	s.mu.Lock()
	s.records = next
	s.mu.Unlock()
}
