package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/bellhop/pkg/alert"
	"github.com/cuemby/bellhop/pkg/audio"
	"github.com/cuemby/bellhop/pkg/dispatch"
	"github.com/cuemby/bellhop/pkg/events"
	"github.com/cuemby/bellhop/pkg/lifecycle"
	"github.com/cuemby/bellhop/pkg/log"
	"github.com/cuemby/bellhop/pkg/metrics"
	"github.com/cuemby/bellhop/pkg/reconciler"
	"github.com/cuemby/bellhop/pkg/storage"
	"github.com/cuemby/bellhop/pkg/types"
	"github.com/rs/zerolog"
)

// PayloadFunc builds the notification for a record that just reached its
// current status. Returning nil skips the notification.
type PayloadFunc func(record *types.Record) *dispatch.Payload

// Config wires a session to its collaborators. Ledger, Transport, Flags and
// Player are optional; without them the session sends no notifications or
// plays no audio.
type Config struct {
	Board     types.BoardKey
	Store     storage.RecordStore
	Feed      storage.ChangeFeed
	Ledger    storage.LedgerStore
	Transport dispatch.Transport
	Payload   PayloadFunc
	Flags     storage.FlagStore
	Player    audio.TonePlayer
	// DeviceID names the device whose audio activation is used by default
	DeviceID     string
	PollInterval time.Duration
	ToneInterval time.Duration
	Broker       *events.Broker
}

// Session is the live engine of one board: a tenant's orders or its
// reservations.
type Session struct {
	board        types.BoardKey
	store        storage.RecordStore
	reconciler   *reconciler.Reconciler
	machine      *lifecycle.Machine
	dispatcher   *dispatch.Dispatcher
	payload      PayloadFunc
	flags        storage.FlagStore
	player       audio.TonePlayer
	device       string
	toneInterval time.Duration
	broker       *events.Broker
	logger       zerolog.Logger

	gatesMu sync.Mutex
	gates   map[string]*audio.Gate
}

// New builds a session with fresh tracker, snapshot and alert state
func New(cfg Config) (*Session, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session %s: record store is required", cfg.Board)
	}
	graph, err := lifecycle.ForKind(cfg.Board.Kind)
	if err != nil {
		return nil, err
	}
	rec, err := reconciler.New(cfg.Board, cfg.Store, cfg.Feed, reconciler.Options{
		PollInterval: cfg.PollInterval,
		Broker:       cfg.Broker,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		board:        cfg.Board,
		store:        cfg.Store,
		reconciler:   rec,
		machine:      lifecycle.NewMachine(graph),
		payload:      cfg.Payload,
		flags:        cfg.Flags,
		player:       cfg.Player,
		device:       cfg.DeviceID,
		toneInterval: cfg.ToneInterval,
		broker:       cfg.Broker,
		logger:       log.WithBoard("session", cfg.Board.TenantID, string(cfg.Board.Kind)),
		gates:        make(map[string]*audio.Gate),
	}
	if s.device == "" {
		s.device = "default"
	}
	if cfg.Ledger != nil && cfg.Transport != nil {
		s.dispatcher = dispatch.New(cfg.Board.TenantID, cfg.Ledger, cfg.Transport, cfg.Broker)
	}
	if s.flags != nil && s.player != nil {
		s.gates[s.device] = audio.NewGate(s.flags, s.device, cfg.Board.TenantID, s.player)
	}

	rec.Alerts().OnStateChanged(s.onAlertChange)
	return s, nil
}

// Board returns the session's board key
func (s *Session) Board() types.BoardKey { return s.board }

// Reconciler returns the session's reconciler
func (s *Session) Reconciler() *reconciler.Reconciler { return s.reconciler }

// Start seeds the board and begins watching the store
func (s *Session) Start(ctx context.Context) error {
	metrics.AlertState.WithLabelValues(s.board.TenantID, string(s.board.Kind)).Set(0)
	return s.reconciler.Start(ctx)
}

// Stop stops polling, the subscription and any repeating chime
func (s *Session) Stop() {
	s.reconciler.Stop()
	for _, g := range s.gateList() {
		g.StopRepeating()
	}
	metrics.AlertState.DeleteLabelValues(s.board.TenantID, string(s.board.Kind))
	metrics.ActiveAlerts.DeleteLabelValues(s.board.TenantID, string(s.board.Kind))
}

// Refresh polls the store immediately
func (s *Session) Refresh(ctx context.Context) error {
	return s.reconciler.Refresh(ctx)
}

func (s *Session) onAlertChange(ch alert.Change) {
	metrics.AlertState.WithLabelValues(s.board.TenantID, string(s.board.Kind)).Set(alertStateValue(ch.To))
	metrics.ActiveAlerts.WithLabelValues(s.board.TenantID, string(s.board.Kind)).Set(float64(len(ch.Active)))

	s.logger.Info().
		Str("from", string(ch.From)).
		Str("to", string(ch.To)).
		Int("active", len(ch.Active)).
		Msg("Alert state changed")

	switch {
	case ch.To == types.AlertAlerting:
		for _, g := range s.gateList() {
			g.StartRepeating(s.toneInterval)
		}
	case ch.From == types.AlertAlerting:
		for _, g := range s.gateList() {
			g.StopRepeating()
		}
	}

	if s.broker != nil {
		s.broker.Publish(&events.Event{
			Type:     events.EventAlertChanged,
			TenantID: s.board.TenantID,
			Kind:     string(s.board.Kind),
			Message:  string(ch.To),
			Metadata: map[string]string{"from": string(ch.From)},
			Payload:  ch,
		})
	}
}

func alertStateValue(state types.AlertState) float64 {
	switch state {
	case types.AlertAlerting:
		return 1
	case types.AlertSuppressed:
		return 2
	default:
		return 0
	}
}

// OnAlertStateChanged registers a listener for alert transitions. The
// listener runs synchronously and must not call back into the session.
func (s *Session) OnAlertStateChanged(l alert.Listener) {
	s.reconciler.Alerts().OnStateChanged(l)
}

// AlertState returns the current alert state and the ids needing attention
func (s *Session) AlertState() (types.AlertState, []string) {
	a := s.reconciler.Alerts()
	return a.State(), a.Active()
}

// HandleRecord marks a flagged record as dealt with
func (s *Session) HandleRecord(id string) {
	s.reconciler.Alerts().Handle(id)
}

// Dismiss silences the alert until a new record arrives
func (s *Session) Dismiss() {
	s.reconciler.Alerts().Dismiss()
}

// Records returns the last known snapshot
func (s *Session) Records() []*types.Record {
	return s.reconciler.Snapshot().List()
}

// Record returns one record of the last known snapshot
func (s *Session) Record(id string) (*types.Record, error) {
	rec, ok := s.reconciler.Snapshot().Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, id)
	}
	return rec, nil
}

// TransitionStatus moves a record to target, persists it and fires the
// notification the transition calls for. Notification failures are logged
// and never undo the status change.
func (s *Session) TransitionStatus(ctx context.Context, id string, target types.Status, tc types.TransitionContext) (*types.Record, error) {
	current, err := s.Record(id)
	if err != nil {
		return nil, err
	}
	res, err := s.machine.Transition(current, target, tc)
	if err != nil {
		return nil, err
	}
	if err := s.persist(ctx, res.Record); err != nil {
		return nil, err
	}
	metrics.TransitionsTotal.WithLabelValues(string(s.board.Kind), string(target)).Inc()
	s.reconciler.Alerts().Handle(id)

	if res.Notify {
		s.notify(ctx, res.Record)
	}
	return res.Record, nil
}

// Occupy marks a confirmed reservation's guests as arrived
func (s *Session) Occupy(ctx context.Context, id string) (*types.Record, error) {
	current, err := s.Record(id)
	if err != nil {
		return nil, err
	}
	updated, err := s.machine.Occupy(current)
	if err != nil {
		return nil, err
	}
	if err := s.persist(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// Release frees an occupied table and completes the reservation
func (s *Session) Release(ctx context.Context, id string) (*types.Record, error) {
	current, err := s.Record(id)
	if err != nil {
		return nil, err
	}
	res, err := s.machine.Release(current)
	if err != nil {
		return nil, err
	}
	if err := s.persist(ctx, res.Record); err != nil {
		return nil, err
	}
	metrics.TransitionsTotal.WithLabelValues(string(s.board.Kind), string(res.Record.Status)).Inc()
	s.reconciler.Alerts().Handle(id)

	if res.Notify {
		s.notify(ctx, res.Record)
	}
	return res.Record, nil
}

// AssignTable seats a confirmed reservation at a table
func (s *Session) AssignTable(ctx context.Context, id, tableID string) (*types.Record, error) {
	current, err := s.Record(id)
	if err != nil {
		return nil, err
	}
	updated, err := s.machine.AssignTable(current, tableID)
	if err != nil {
		return nil, err
	}
	if err := s.persist(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// persist writes the record to the store and, on success only, merges it
// into the snapshot through the reconciler
func (s *Session) persist(ctx context.Context, record *types.Record) error {
	record.UpdatedAt = time.Now()
	if err := s.store.UpdateStatus(ctx, record); err != nil {
		logger := log.WithRecordID(s.logger, record.ID)
		logger.Error().Err(err).Msg("Failed to persist record")
		return err
	}
	s.reconciler.Apply(reconciler.Push(types.ChangeEvent{Kind: types.ChangeUpdate, Record: record}))
	return nil
}

func (s *Session) notify(ctx context.Context, record *types.Record) {
	logger := log.WithRecordID(s.logger, record.ID).With().Str("target", string(record.Status)).Logger()
	if s.dispatcher == nil {
		logger.Debug().Msg("No notification transport configured")
		return
	}
	if s.payload == nil {
		logger.Debug().Msg("No payload builder configured")
		return
	}
	payload := s.payload(record)
	if payload == nil {
		logger.Debug().Msg("Record has no recipient, skipping notification")
		return
	}
	if err := s.dispatcher.Notify(ctx, record.ID, record.Status, payload); err != nil {
		logger.Warn().Err(err).Bool("gap", dispatch.IsGap(err)).Msg("Notification not delivered")
	}
}

// gate returns the audio gate of a device, creating it on first use
func (s *Session) gate(device string) (*audio.Gate, error) {
	if s.flags == nil || s.player == nil {
		return nil, fmt.Errorf("%w: no tone player configured", types.ErrAudioUnavailable)
	}
	if device == "" {
		device = s.device
	}
	s.gatesMu.Lock()
	defer s.gatesMu.Unlock()
	g, ok := s.gates[device]
	if !ok {
		g = audio.NewGate(s.flags, device, s.board.TenantID, s.player)
		s.gates[device] = g
	}
	return g, nil
}

func (s *Session) gateList() []*audio.Gate {
	s.gatesMu.Lock()
	defer s.gatesMu.Unlock()
	devices := make([]string, 0, len(s.gates))
	for d := range s.gates {
		devices = append(devices, d)
	}
	sort.Strings(devices)
	out := make([]*audio.Gate, 0, len(devices))
	for _, d := range devices {
		out = append(out, s.gates[d])
	}
	return out
}

// ActivateAudio unlocks audio on a device ("" for the session's default
// device). If the board is already alerting the chime starts right away.
func (s *Session) ActivateAudio(ctx context.Context, device string) error {
	g, err := s.gate(device)
	if err != nil {
		return err
	}
	if err := g.Activate(ctx); err != nil {
		return err
	}
	if s.reconciler.Alerts().State() == types.AlertAlerting {
		g.StartRepeating(s.toneInterval)
		// The alert may have ended while the loop was starting
		if s.reconciler.Alerts().State() != types.AlertAlerting {
			g.StopRepeating()
		}
	}
	return nil
}

// DeactivateAudio silences a device until it is activated again
func (s *Session) DeactivateAudio(ctx context.Context, device string) error {
	g, err := s.gate(device)
	if err != nil {
		return err
	}
	return g.Deactivate(ctx)
}

// AudioActivated reports whether audio is activated on a device
func (s *Session) AudioActivated(ctx context.Context, device string) bool {
	g, err := s.gate(device)
	if err != nil {
		return false
	}
	return g.IsActivated(ctx)
}
