package alert

import (
	"testing"

	"github.com/cuemby/bellhop/pkg/types"
	"github.com/stretchr/testify/assert"
)

type recorder struct {
	changes []Change
}

func (r *recorder) listen(c Change) { r.changes = append(r.changes, c) }

func (r *recorder) states() []types.AlertState {
	out := make([]types.AlertState, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.To)
	}
	return out
}

func TestIdleToAlertingToIdle(t *testing.T) {
	s := NewSession()
	rec := &recorder{}
	s.OnStateChanged(rec.listen)

	s.Flag("2")
	assert.Equal(t, types.AlertAlerting, s.State())
	assert.Equal(t, []string{"2"}, s.Active())

	s.Handle("2")
	assert.Equal(t, types.AlertIdle, s.State())
	assert.Equal(t, []types.AlertState{types.AlertAlerting, types.AlertIdle}, rec.states())
}

func TestDismissKeepsActiveSet(t *testing.T) {
	s := NewSession()
	s.Flag("A")
	s.Dismiss()

	assert.Equal(t, types.AlertSuppressed, s.State())
	assert.True(t, s.IsActive("A"))
}

func TestReAlertAfterSuppression(t *testing.T) {
	s := NewSession()
	rec := &recorder{}
	s.OnStateChanged(rec.listen)

	s.Flag("A")
	s.Dismiss()
	s.Flag("B")

	assert.Equal(t, types.AlertAlerting, s.State())
	assert.Equal(t, []string{"A", "B"}, s.Active())
	assert.Equal(t, []types.AlertState{types.AlertAlerting, types.AlertSuppressed, types.AlertAlerting}, rec.states())
}

func TestReflaggingActiveIDDoesNotClearSuppression(t *testing.T) {
	s := NewSession()
	s.Flag("A")
	s.Dismiss()
	s.Flag("A")

	assert.Equal(t, types.AlertSuppressed, s.State())
}

func TestSuppressionClearsOnEmpty(t *testing.T) {
	s := NewSession()
	s.Flag("A")
	s.Dismiss()

	s.Handle("A")
	assert.Equal(t, types.AlertIdle, s.State())

	s.Flag("C")
	assert.Equal(t, types.AlertAlerting, s.State())
}

func TestDismissWhileIdleIsNoop(t *testing.T) {
	s := NewSession()
	rec := &recorder{}
	s.OnStateChanged(rec.listen)

	s.Dismiss()
	s.Flag("A")

	assert.Equal(t, types.AlertAlerting, s.State())
	assert.Len(t, rec.changes, 1)
}

func TestHandleUnknownIDNoTransition(t *testing.T) {
	s := NewSession()
	rec := &recorder{}
	s.OnStateChanged(rec.listen)

	s.Flag("A", "B")
	s.Handle("zzz")
	s.Handle("A")

	assert.Equal(t, types.AlertAlerting, s.State())
	assert.Len(t, rec.changes, 1)
	assert.Equal(t, []string{"A", "B"}, rec.changes[0].Active)
}

func TestReset(t *testing.T) {
	s := NewSession()
	s.Flag("A")
	s.Dismiss()
	s.Reset()

	assert.Equal(t, types.AlertIdle, s.State())
	assert.Empty(t, s.Active())
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name   string
		record *types.Record
		want   bool
	}{
		{"new order", &types.Record{Kind: types.KindOrder, Status: types.StatusNew}, true},
		{"confirmed order", &types.Record{Kind: types.KindOrder, Status: types.StatusConfirmed}, false},
		{"unassigned reservation", &types.Record{Kind: types.KindReservation, Status: types.StatusConfirmed}, true},
		{"assigned reservation", &types.Record{Kind: types.KindReservation, Status: types.StatusConfirmed, TableID: "T1"}, false},
		{"cancelled reservation", &types.Record{Kind: types.KindReservation, Status: types.StatusCancelled}, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind := types.KindOrder
			if tt.record != nil {
				kind = tt.record.Kind
			}
			assert.Equal(t, tt.want, PredicateFor(kind)(tt.record))
		})
	}
}
