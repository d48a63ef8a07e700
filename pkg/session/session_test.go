package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/bellhop/pkg/alert"
	"github.com/cuemby/bellhop/pkg/audio"
	"github.com/cuemby/bellhop/pkg/dispatch"
	"github.com/cuemby/bellhop/pkg/notify"
	"github.com/cuemby/bellhop/pkg/reconciler"
	"github.com/cuemby/bellhop/pkg/storage"
	"github.com/cuemby/bellhop/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu    sync.Mutex
	sent  []*dispatch.Payload
	fail  error
	count atomic.Int32
}

func (f *fakeTransport) Send(ctx context.Context, p *dispatch.Payload) error {
	f.count.Add(1)
	if f.fail != nil {
		return f.fail
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, p)
	return nil
}

type fakePlayer struct {
	plays atomic.Int32
}

func (f *fakePlayer) Unlock(ctx context.Context) error { return nil }

func (f *fakePlayer) Play(ctx context.Context, chime audio.Chime) error {
	f.plays.Add(1)
	return nil
}

var (
	orderBoard       = types.BoardKey{TenantID: "t1", Kind: types.KindOrder}
	reservationBoard = types.BoardKey{TenantID: "t1", Kind: types.KindReservation}
)

func withEmail(rec *types.Record) *types.Record {
	rec.Attributes = map[string]string{notify.AttrEmail: "guest@example.com"}
	return rec
}

type fixture struct {
	store     *storage.MemoryStore
	ledger    *storage.MemoryLedger
	transport *fakeTransport
	player    *fakePlayer
}

func newFixture() *fixture {
	return &fixture{
		store:     storage.NewMemoryStore(),
		ledger:    storage.NewMemoryLedger(),
		transport: &fakeTransport{},
		player:    &fakePlayer{},
	}
}

func (f *fixture) session(t *testing.T, board types.BoardKey, withFeed bool) *Session {
	t.Helper()
	composer := &notify.Composer{}
	cfg := Config{
		Board:        board,
		Store:        f.store,
		Ledger:       f.ledger,
		Transport:    f.transport,
		Payload:      composer.Compose,
		Flags:        f.store,
		Player:       f.player,
		DeviceID:     "dev1",
		PollInterval: time.Hour,
		ToneInterval: 10 * time.Millisecond,
	}
	if withFeed {
		cfg.Feed = f.store
	}
	s, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
	return s
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Config{Board: orderBoard})
	assert.Error(t, err)
}

func TestConfirmOrderHandlesAlertAndNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	s := f.session(t, orderBoard, true)

	require.NoError(t, f.store.Insert(ctx, withEmail(&types.Record{ID: "3", TenantID: "t1", Kind: types.KindOrder, Status: types.StatusNew})))
	// The poll sees the same record after the push did
	require.NoError(t, s.Refresh(ctx))

	state, active := s.AlertState()
	assert.Equal(t, types.AlertAlerting, state)
	assert.Equal(t, []string{"3"}, active)

	rec, err := s.TransitionStatus(ctx, "3", types.StatusConfirmed, types.TransitionContext{})
	require.NoError(t, err)
	assert.Equal(t, types.StatusConfirmed, rec.Status)

	state, _ = s.AlertState()
	assert.Equal(t, types.AlertIdle, state)
	assert.Equal(t, int32(1), f.transport.count.Load())
	assert.Equal(t, "Your order 3 is confirmed", f.transport.sent[0].Subject)

	// Moving on to preparing has no side effect
	_, err = s.TransitionStatus(ctx, "3", types.StatusPreparing, types.TransitionContext{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.transport.count.Load())

	stored, err := f.store.FetchAll(ctx, orderBoard)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, types.StatusPreparing, stored[0].Status)
}

func TestStalePollsDoNotUndoPushesOrTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	s := f.session(t, orderBoard, true)
	r := s.Reconciler()

	beforeInsert := r.PushSeq()
	require.NoError(t, f.store.Insert(ctx, withEmail(&types.Record{ID: "3", TenantID: "t1", Kind: types.KindOrder, Status: types.StatusNew})))

	// Fetched before the insert, applied after it
	r.Apply(reconciler.PollAfter([]*types.Record{}, beforeInsert))
	state, active := s.AlertState()
	assert.Equal(t, types.AlertAlerting, state)
	assert.Equal(t, []string{"3"}, active)
	require.Len(t, s.Records(), 1)

	beforeConfirm := r.PushSeq()
	_, err := s.TransitionStatus(ctx, "3", types.StatusConfirmed, types.TransitionContext{})
	require.NoError(t, err)

	// Fetched before the confirmation, applied after it
	r.Apply(reconciler.PollAfter([]*types.Record{
		{ID: "3", TenantID: "t1", Kind: types.KindOrder, Status: types.StatusNew},
	}, beforeConfirm))

	rec, err := s.Record("3")
	require.NoError(t, err)
	assert.Equal(t, types.StatusConfirmed, rec.Status)
	state, active = s.AlertState()
	assert.Equal(t, types.AlertIdle, state)
	assert.Empty(t, active)
	assert.Equal(t, int32(1), f.transport.count.Load())
}

func TestTwoDevicesConfirmingSendOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.Put(withEmail(&types.Record{ID: "o1", TenantID: "t1", Kind: types.KindOrder, Status: types.StatusNew}))

	// No push channel, so neither device learns about the other's confirmation
	deviceA := f.session(t, orderBoard, false)
	deviceB := f.session(t, orderBoard, false)

	_, err := deviceA.TransitionStatus(ctx, "o1", types.StatusConfirmed, types.TransitionContext{})
	require.NoError(t, err)
	_, err = deviceB.TransitionStatus(ctx, "o1", types.StatusConfirmed, types.TransitionContext{})
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.transport.count.Load())
}

func TestInvalidTransitionsLeaveRecordUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.Put(&types.Record{ID: "o1", TenantID: "t1", Kind: types.KindOrder, Status: types.StatusNew})
	s := f.session(t, orderBoard, false)

	tests := []struct {
		name    string
		target  types.Status
		tc      types.TransitionContext
		wantErr error
	}{
		{name: "skip ahead", target: types.StatusReady, wantErr: types.ErrInvalidTransition},
		{name: "reject without reason", target: types.StatusRejected, wantErr: types.ErrMissingReason},
		{name: "reservation status", target: types.StatusCancelled, wantErr: types.ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.TransitionStatus(ctx, "o1", tt.target, tt.tc)
			assert.ErrorIs(t, err, tt.wantErr)

			rec, err := s.Record("o1")
			require.NoError(t, err)
			assert.Equal(t, types.StatusNew, rec.Status)
		})
	}

	_, err := s.TransitionStatus(ctx, "missing", types.StatusConfirmed, types.TransitionContext{})
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Zero(t, f.transport.count.Load())
}

func TestRejectWithReasonNotifies(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.Put(withEmail(&types.Record{ID: "o1", TenantID: "t1", Kind: types.KindOrder, Status: types.StatusNew}))
	s := f.session(t, orderBoard, false)

	rec, err := s.TransitionStatus(ctx, "o1", types.StatusRejected, types.TransitionContext{Reason: types.RejectClosed, Note: "Back at 6pm"})
	require.NoError(t, err)
	assert.Equal(t, types.RejectClosed, rec.RejectReason)
	assert.Equal(t, int32(1), f.transport.count.Load())
	assert.Contains(t, f.transport.sent[0].Body, "Back at 6pm")
}

func TestFailedStoreUpdateLeavesSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.Put(withEmail(&types.Record{ID: "o1", TenantID: "t1", Kind: types.KindOrder, Status: types.StatusNew}))
	s := f.session(t, orderBoard, false)

	f.store.FailUpdate(errors.New("read-only replica"))
	_, err := s.TransitionStatus(ctx, "o1", types.StatusConfirmed, types.TransitionContext{})
	assert.ErrorIs(t, err, types.ErrStoreUnavailable)

	rec, err := s.Record("o1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusNew, rec.Status)
	assert.Zero(t, f.transport.count.Load())
}

func TestSendFailureDoesNotRollBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.transport.fail = errors.New("relay unreachable")
	f.store.Put(withEmail(&types.Record{ID: "o1", TenantID: "t1", Kind: types.KindOrder, Status: types.StatusNew}))
	s := f.session(t, orderBoard, false)

	rec, err := s.TransitionStatus(ctx, "o1", types.StatusConfirmed, types.TransitionContext{})
	require.NoError(t, err)
	assert.Equal(t, types.StatusConfirmed, rec.Status)

	gaps, err := dispatch.Gaps(ctx, f.ledger, "t1")
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	assert.Equal(t, "o1", gaps[0].EntityID)
}

func TestReservationArrivalAndCancellation(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	s := f.session(t, reservationBoard, true)

	require.NoError(t, f.store.Insert(ctx, withEmail(&types.Record{ID: "r1", TenantID: "t1", Kind: types.KindReservation, Status: types.StatusConfirmed})))
	require.NoError(t, f.store.Insert(ctx, withEmail(&types.Record{ID: "r2", TenantID: "t1", Kind: types.KindReservation, Status: types.StatusConfirmed})))

	state, active := s.AlertState()
	assert.Equal(t, types.AlertAlerting, state)
	assert.Equal(t, []string{"r1", "r2"}, active)

	_, err := s.AssignTable(ctx, "r1", "T7")
	require.NoError(t, err)
	_, active = s.AlertState()
	assert.Equal(t, []string{"r2"}, active)

	// Completing directly skips the arrival gesture
	_, err = s.TransitionStatus(ctx, "r1", types.StatusCompleted, types.TransitionContext{})
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	_, err = s.Occupy(ctx, "r1")
	require.NoError(t, err)
	rec, err := s.Release(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, rec.Status)
	assert.False(t, rec.Occupied)
	assert.Zero(t, f.transport.count.Load())

	_, err = s.TransitionStatus(ctx, "r2", types.StatusCancelled, types.TransitionContext{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.transport.count.Load())

	state, _ = s.AlertState()
	assert.Equal(t, types.AlertIdle, state)
}

func TestDismissAndRearm(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	s := f.session(t, orderBoard, true)

	var changes []types.AlertState
	s.OnAlertStateChanged(func(ch alert.Change) { changes = append(changes, ch.To) })

	require.NoError(t, f.store.Insert(ctx, &types.Record{ID: "a", TenantID: "t1", Kind: types.KindOrder, Status: types.StatusNew}))
	s.Dismiss()
	state, _ := s.AlertState()
	assert.Equal(t, types.AlertSuppressed, state)

	require.NoError(t, f.store.Insert(ctx, &types.Record{ID: "b", TenantID: "t1", Kind: types.KindOrder, Status: types.StatusNew}))
	state, _ = s.AlertState()
	assert.Equal(t, types.AlertAlerting, state)

	s.HandleRecord("a")
	s.HandleRecord("b")
	state, _ = s.AlertState()
	assert.Equal(t, types.AlertIdle, state)

	assert.Equal(t, []types.AlertState{types.AlertAlerting, types.AlertSuppressed, types.AlertAlerting, types.AlertIdle}, changes)
}

func TestAudioFollowsAlertState(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	s := f.session(t, orderBoard, true)

	// Not activated: an arrival stays silent
	require.NoError(t, f.store.Insert(ctx, &types.Record{ID: "a", TenantID: "t1", Kind: types.KindOrder, Status: types.StatusNew}))
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, f.player.plays.Load())
	assert.False(t, s.AudioActivated(ctx, ""))

	// Activating while alerting starts the chime
	require.NoError(t, s.ActivateAudio(ctx, ""))
	assert.True(t, s.AudioActivated(ctx, "dev1"))
	assert.Eventually(t, func() bool { return f.player.plays.Load() >= 2 }, time.Second, 5*time.Millisecond)

	s.HandleRecord("a")
	stopped := f.player.plays.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, stopped, f.player.plays.Load())

	require.NoError(t, s.DeactivateAudio(ctx, ""))
	assert.False(t, s.AudioActivated(ctx, ""))
}

func TestActivateAudioWithoutPlayer(t *testing.T) {
	store := storage.NewMemoryStore()
	s, err := New(Config{Board: orderBoard, Store: store, PollInterval: time.Hour})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	err = s.ActivateAudio(context.Background(), "")
	assert.ErrorIs(t, err, types.ErrAudioUnavailable)
}
