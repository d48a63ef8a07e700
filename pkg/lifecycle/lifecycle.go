package lifecycle

import (
	"fmt"
	"time"

	"github.com/cuemby/bellhop/pkg/types"
)

// Graph is the static set of legal status edges for one record kind
type Graph struct {
	kind     types.Kind
	edges    map[types.Status][]types.Status
	terminal map[types.Status]bool
	// notify lists the target statuses that have an external notification
	notify map[types.Status]bool
	// reasonRequired lists the target statuses that need a reason code
	reasonRequired map[types.Status]bool
}

// OrderGraph: new -> confirmed -> preparing -> ready -> completed, new -> rejected
var OrderGraph = &Graph{
	kind: types.KindOrder,
	edges: map[types.Status][]types.Status{
		types.StatusNew:       {types.StatusConfirmed, types.StatusRejected},
		types.StatusConfirmed: {types.StatusPreparing},
		types.StatusPreparing: {types.StatusReady},
		types.StatusReady:     {types.StatusCompleted},
	},
	terminal:       map[types.Status]bool{types.StatusCompleted: true, types.StatusRejected: true},
	notify:         map[types.Status]bool{types.StatusConfirmed: true, types.StatusRejected: true},
	reasonRequired: map[types.Status]bool{types.StatusRejected: true},
}

// ReservationGraph: confirmed -> completed (via occupy/release), confirmed -> cancelled
var ReservationGraph = &Graph{
	kind: types.KindReservation,
	edges: map[types.Status][]types.Status{
		types.StatusConfirmed: {types.StatusCompleted, types.StatusCancelled},
	},
	terminal: map[types.Status]bool{types.StatusCompleted: true, types.StatusCancelled: true},
	notify:   map[types.Status]bool{types.StatusCancelled: true},
}

// ForKind returns the graph of a record kind
func ForKind(kind types.Kind) (*Graph, error) {
	switch kind {
	case types.KindOrder:
		return OrderGraph, nil
	case types.KindReservation:
		return ReservationGraph, nil
	}
	return nil, fmt.Errorf("no lifecycle graph for kind %q", kind)
}

// Kind returns the record kind this graph governs
func (g *Graph) Kind() types.Kind { return g.kind }

// Allowed reports whether from -> to is an edge of the graph
func (g *Graph) Allowed(from, to types.Status) bool {
	for _, next := range g.edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Successors returns the statuses reachable in one step from s
func (g *Graph) Successors(s types.Status) []types.Status {
	return append([]types.Status(nil), g.edges[s]...)
}

// Reachable reports whether to can be reached from from in zero or more steps
func (g *Graph) Reachable(from, to types.Status) bool {
	if from == to {
		return true
	}
	seen := map[types.Status]bool{from: true}
	queue := []types.Status{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.edges[cur] {
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s
func (g *Graph) IsTerminal(s types.Status) bool { return g.terminal[s] }

// Notifies reports whether reaching target has an external notification
func (g *Graph) Notifies(target types.Status) bool { return g.notify[target] }

// Machine validates and applies transitions on one graph. It never persists
// anything and never mutates its input records.
type Machine struct {
	graph *Graph
	now   func() time.Time
}

// NewMachine creates a state machine for a graph
func NewMachine(g *Graph) *Machine {
	return &Machine{graph: g, now: time.Now}
}

// Graph returns the machine's graph
func (m *Machine) Graph() *Graph { return m.graph }

// Result is the outcome of a successful transition
type Result struct {
	Record *types.Record
	// Notify is true when the transition has an external notification mapping
	Notify bool
}

// Transition validates record.Status -> target and returns an updated copy
func (m *Machine) Transition(record *types.Record, target types.Status, tc types.TransitionContext) (*Result, error) {
	if record == nil {
		return nil, types.ErrNotFound
	}
	if record.Kind != m.graph.kind {
		return nil, fmt.Errorf("%w: %s record on %s graph", types.ErrInvalidTransition, record.Kind, m.graph.kind)
	}
	if !m.graph.Allowed(record.Status, target) {
		return nil, fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, record.Status, target)
	}

	next := record.Clone()

	if m.graph.reasonRequired[target] {
		if tc.Reason == "" {
			return nil, fmt.Errorf("%w: %s", types.ErrMissingReason, target)
		}
		reason, err := types.ParseRejectReason(string(tc.Reason))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrMissingReason, err)
		}
		next.RejectReason = reason
		next.RejectNote = tc.Note
	}

	// Completing a reservation goes through Release so the table is freed
	if m.graph.kind == types.KindReservation && target == types.StatusCompleted && !record.Occupied {
		return nil, fmt.Errorf("%w: reservation %s was never marked occupied", types.ErrInvalidTransition, record.ID)
	}

	next.Status = target
	if target == types.StatusCompleted || target == types.StatusCancelled {
		next.Occupied = false
	}
	next.UpdatedAt = m.now()

	return &Result{Record: next, Notify: m.graph.Notifies(target)}, nil
}

// Occupy is the first step of the arrival gesture: the party is seated
func (m *Machine) Occupy(record *types.Record) (*types.Record, error) {
	if err := m.checkArrival(record); err != nil {
		return nil, err
	}
	if record.Occupied {
		return nil, fmt.Errorf("%w: reservation %s already occupied", types.ErrInvalidTransition, record.ID)
	}
	next := record.Clone()
	next.Occupied = true
	next.UpdatedAt = m.now()
	return next, nil
}

// Release is the second step of the arrival gesture: the table is freed and
// the reservation completes
func (m *Machine) Release(record *types.Record) (*Result, error) {
	if err := m.checkArrival(record); err != nil {
		return nil, err
	}
	if !record.Occupied {
		return nil, fmt.Errorf("%w: reservation %s is not occupied", types.ErrInvalidTransition, record.ID)
	}
	return m.Transition(record, types.StatusCompleted, types.TransitionContext{})
}

// AssignTable sets the table of a confirmed reservation
func (m *Machine) AssignTable(record *types.Record, tableID string) (*types.Record, error) {
	if err := m.checkArrival(record); err != nil {
		return nil, err
	}
	if tableID == "" {
		return nil, fmt.Errorf("%w: empty table id", types.ErrInvalidTransition)
	}
	next := record.Clone()
	next.TableID = tableID
	next.UpdatedAt = m.now()
	return next, nil
}

func (m *Machine) checkArrival(record *types.Record) error {
	if record == nil {
		return types.ErrNotFound
	}
	if record.Kind != types.KindReservation || m.graph.kind != types.KindReservation {
		return fmt.Errorf("%w: table operations only apply to reservations", types.ErrInvalidTransition)
	}
	if record.Status != types.StatusConfirmed {
		return fmt.Errorf("%w: reservation %s is %s", types.ErrInvalidTransition, record.ID, record.Status)
	}
	return nil
}
