package snapshot

import (
	"sort"
	"sync"

	"github.com/cuemby/bellhop/pkg/types"
)

// Store holds the last-known records of one board. It has no logic of its
// own; the reconciler is the only writer.
type Store struct {
	mu      sync.RWMutex
	records map[string]*types.Record
}

// New creates an empty snapshot store
func New() *Store {
	return &Store{records: make(map[string]*types.Record)}
}

// Replace swaps the whole contents for records
func (s *Store) Replace(records []*types.Record) {
	next := make(map[string]*types.Record, len(records))
	for _, r := range records {
		if r != nil {
			next[r.ID] = r.Clone()
		}
	}
	s.mu.Lock()
	s.records = next
	s.mu.Unlock()
}

// Upsert replaces the record with the same id or adds it
func (s *Store) Upsert(record *types.Record) {
	if record == nil {
		return
	}
	s.mu.Lock()
	s.records[record.ID] = record.Clone()
	s.mu.Unlock()
}

// Delete removes a record; missing ids are ignored
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
}

// Get returns a copy of the record with id
func (s *Store) Get(id string) (*types.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r.Clone(), ok
}

// List returns copies of all records, oldest first
func (s *Store) List() []*types.Record {
	s.mu.RLock()
	out := make([]*types.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of records
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
