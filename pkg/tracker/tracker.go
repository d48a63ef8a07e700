package tracker

import (
	"errors"
	"sync"
	"time"

	"github.com/cuemby/bellhop/pkg/types"
)

var (
	// ErrAlreadySeeded is returned by a second Seed call in the same session
	ErrAlreadySeeded = errors.New("tracker already seeded")
)

// Tracker is the per-session set of record ids that have been observed at
// least once. Membership only grows; an id that is present is never reported
// as new again until Reset.
type Tracker struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	seeded bool
	now    func() time.Time
}

// New creates an empty, unseeded tracker
func New() *Tracker {
	return &Tracker{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Seed marks every id of the first snapshot as known. It must run once,
// before any poll or push event is classified.
func (t *Tracker) Seed(ids []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.seeded {
		return ErrAlreadySeeded
	}
	now := t.now()
	for _, id := range ids {
		if _, ok := t.seen[id]; !ok {
			t.seen[id] = now
		}
	}
	t.seeded = true
	return nil
}

// Seeded reports whether Seed has run
func (t *Tracker) Seeded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seeded
}

// Classify partitions records into those seen for the first time and those
// already known, and adds every id to the set. Duplicate ids inside one
// snapshot are reported as new at most once.
func (t *Tracker) Classify(records []*types.Record) (fresh, seen []*types.Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if _, ok := t.seen[rec.ID]; ok {
			seen = append(seen, rec)
			continue
		}
		t.seen[rec.ID] = now
		fresh = append(fresh, rec)
	}
	return fresh, seen
}

// Contains reports whether id has been observed
func (t *Tracker) Contains(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.seen[id]
	return ok
}

// FirstSeen returns when id was first observed
func (t *Tracker) FirstSeen(id string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.seen[id]
	return at, ok
}

// Len returns the number of tracked ids
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}

// Reset forgets every id and clears the seeded flag. Only an explicit
// session reset calls this.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen = make(map[string]time.Time)
	t.seeded = false
}
