package alert

import (
	"sort"
	"sync"

	"github.com/cuemby/bellhop/pkg/types"
)

// Predicate marks records that need staff attention
type Predicate func(*types.Record) bool

// OrderNeedsAttention is true for orders nobody has confirmed or rejected yet
func OrderNeedsAttention(r *types.Record) bool {
	return r != nil && r.Status == types.StatusNew
}

// ReservationNeedsAttention is true for confirmed reservations without a table
func ReservationNeedsAttention(r *types.Record) bool {
	return r != nil && r.Status == types.StatusConfirmed && r.TableID == ""
}

// PredicateFor returns the alert predicate of a record kind
func PredicateFor(kind types.Kind) Predicate {
	if kind == types.KindReservation {
		return ReservationNeedsAttention
	}
	return OrderNeedsAttention
}

// Change describes one state transition of a session
type Change struct {
	From   types.AlertState
	To     types.AlertState
	Active []string
}

// Listener is called synchronously for every transition, in order. A
// listener must not call back into the session that invoked it.
type Listener func(Change)

// Session drives the "something needs attention" signal of one board.
//
// Alerting holds iff the active set is non-empty and the session is not
// suppressed. Dismissal silences the signal without clearing the active set;
// suppression is dropped when the set empties or when a new id is flagged.
type Session struct {
	// emitMu serializes mutate+notify so listeners observe transitions in order
	emitMu sync.Mutex

	mu         sync.Mutex
	active     map[string]struct{}
	suppressed bool
	state      types.AlertState
	listeners  []Listener
}

// NewSession creates an idle session
func NewSession() *Session {
	return &Session{
		active: make(map[string]struct{}),
		state:  types.AlertIdle,
	}
}

// OnStateChanged registers a listener for transitions
func (s *Session) OnStateChanged(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// State returns the current state
func (s *Session) State() types.AlertState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active returns the flagged ids, sorted
func (s *Session) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

// IsActive reports whether id is flagged
func (s *Session) IsActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[id]
	return ok
}

// Flag adds newly arrived ids. Any id that was not already active clears
// suppression, so a new arrival always re-alerts.
func (s *Session) Flag(ids ...string) {
	s.update(func() {
		added := false
		for _, id := range ids {
			if _, ok := s.active[id]; !ok {
				s.active[id] = struct{}{}
				added = true
			}
		}
		if added {
			s.suppressed = false
		}
	})
}

// Handle removes ids that staff acted on
func (s *Session) Handle(ids ...string) {
	s.update(func() {
		for _, id := range ids {
			delete(s.active, id)
		}
	})
}

// Dismiss silences the signal until the active set empties or a new id arrives
func (s *Session) Dismiss() {
	s.update(func() {
		if len(s.active) > 0 {
			s.suppressed = true
		}
	})
}

// Reset clears everything and returns to Idle
func (s *Session) Reset() {
	s.update(func() {
		s.active = make(map[string]struct{})
		s.suppressed = false
	})
}

func (s *Session) update(mutate func()) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	from := s.state
	mutate()
	if len(s.active) == 0 {
		s.suppressed = false
	}
	s.state = s.evaluate()
	change := Change{From: from, To: s.state, Active: s.activeLocked()}
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	if change.From == change.To {
		return
	}
	for _, l := range listeners {
		l(change)
	}
}

func (s *Session) evaluate() types.AlertState {
	switch {
	case len(s.active) == 0:
		return types.AlertIdle
	case s.suppressed:
		return types.AlertSuppressed
	default:
		return types.AlertAlerting
	}
}

func (s *Session) activeLocked() []string {
	out := make([]string, 0, len(s.active))
	for id := range s.active {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
