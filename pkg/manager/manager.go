package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/bellhop/pkg/config"
	"github.com/cuemby/bellhop/pkg/events"
	"github.com/cuemby/bellhop/pkg/health"
	"github.com/cuemby/bellhop/pkg/log"
	"github.com/cuemby/bellhop/pkg/metrics"
	"github.com/cuemby/bellhop/pkg/notify"
	"github.com/cuemby/bellhop/pkg/session"
	"github.com/cuemby/bellhop/pkg/storage"
	"github.com/cuemby/bellhop/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Manager owns the board sessions of one bellhop node and the backends they
// share
type Manager struct {
	cfg      *config.Config
	broker   *events.Broker
	backends *Backends
	composer *notify.Composer
	logger   zerolog.Logger

	mu       sync.RWMutex
	sessions map[types.BoardKey]*session.Session
	shutdown bool
}

// NewManager starts the event broker and opens the configured backends
func NewManager(cfg *config.Config) (*Manager, error) {
	broker := events.NewBroker()
	broker.Start()

	backends, err := OpenBackends(cfg, broker)
	if err != nil {
		broker.Stop()
		return nil, fmt.Errorf("failed to open backends: %w", err)
	}

	return NewManagerWithBackends(cfg, broker, backends), nil
}

// NewManagerWithBackends creates a manager over already opened backends. The
// broker must be started.
func NewManagerWithBackends(cfg *config.Config, broker *events.Broker, backends *Backends) *Manager {
	return &Manager{
		cfg:      cfg,
		broker:   broker,
		backends: backends,
		composer: &notify.Composer{Letterhead: cfg.Notify.Letterhead},
		logger:   log.WithComponent("manager"),
		sessions: make(map[types.BoardKey]*session.Session),
	}
}

// EventBroker returns the node's event broker
func (m *Manager) EventBroker() *events.Broker {
	return m.broker
}

// Ledger returns the sent ledger shared by all boards
func (m *Manager) Ledger() storage.LedgerStore {
	return m.backends.Ledger
}

// Probes returns health checkers for the node's probe-able backends
func (m *Manager) Probes() map[string]health.Checker {
	return m.backends.Probes()
}

// OpenConfigured opens every board listed in the configuration
func (m *Manager) OpenConfigured(ctx context.Context) error {
	keys, err := m.cfg.BoardKeys()
	if err != nil {
		return err
	}
	for _, key := range keys {
		if _, err := m.Open(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) newSession(board types.BoardKey) (*session.Session, error) {
	return session.New(session.Config{
		Board:        board,
		Store:        m.backends.Records,
		Feed:         m.backends.Feed,
		Ledger:       m.backends.Ledger,
		Transport:    m.backends.Transport,
		Payload:      m.composer.Compose,
		Flags:        m.backends.Flags,
		Player:       m.backends.Player(board),
		DeviceID:     m.cfg.DeviceID,
		PollInterval: m.cfg.PollInterval,
		ToneInterval: m.cfg.ToneInterval,
		Broker:       m.broker,
	})
}

// Open starts a session for board. Opening an open board returns the
// running session.
func (m *Manager) Open(ctx context.Context, board types.BoardKey) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown {
		return nil, errors.New("manager is shut down")
	}
	if s, ok := m.sessions[board]; ok {
		return s, nil
	}

	s, err := m.newSession(board)
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		s.Stop()
		return nil, fmt.Errorf("failed to open board %s: %w", board, err)
	}

	m.sessions[board] = s
	metrics.BoardsOpen.Set(float64(len(m.sessions)))
	m.publish(events.EventBoardOpened, board)
	m.logger.Info().Str("board", board.String()).Msg("Board opened")
	return s, nil
}

// Close stops the session of board
func (m *Manager) Close(board types.BoardKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked(board)
}

func (m *Manager) closeLocked(board types.BoardKey) error {
	s, ok := m.sessions[board]
	if !ok {
		return fmt.Errorf("board %s: %w", board, types.ErrNotFound)
	}
	s.Stop()
	delete(m.sessions, board)
	metrics.BoardsOpen.Set(float64(len(m.sessions)))
	metrics.SnapshotRecords.DeleteLabelValues(board.TenantID, string(board.Kind))
	metrics.KnownEntities.DeleteLabelValues(board.TenantID, string(board.Kind))
	m.publish(events.EventBoardClosed, board)
	m.logger.Info().Str("board", board.String()).Msg("Board closed")
	return nil
}

// Restart replaces the session of board with a fresh one: new tracker, new
// snapshot and no alert state carried over
func (m *Manager) Restart(ctx context.Context, board types.BoardKey) (*session.Session, error) {
	m.mu.Lock()
	if _, ok := m.sessions[board]; ok {
		if err := m.closeLocked(board); err != nil {
			m.mu.Unlock()
			return nil, err
		}
	}
	m.mu.Unlock()
	return m.Open(ctx, board)
}

// Get returns the open session of board
func (m *Manager) Get(board types.BoardKey) (*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[board]
	if !ok {
		return nil, fmt.Errorf("board %s: %w", board, types.ErrNotFound)
	}
	return s, nil
}

// Boards lists the open boards
func (m *Manager) Boards() []types.BoardKey {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]types.BoardKey, 0, len(m.sessions))
	for k := range m.sessions {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

func (m *Manager) sessionList() []*session.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// InsertRecord writes a new record to the record store. Stores without their
// own change feed get the insert published on the configured push channel.
func (m *Manager) InsertRecord(ctx context.Context, record *types.Record) (*types.Record, error) {
	if m.backends.Writer == nil {
		return nil, errors.New("record store does not accept inserts")
	}
	if record.TenantID == "" {
		return nil, errors.New("tenant is required")
	}
	kind, err := types.ParseKind(string(record.Kind))
	if err != nil {
		return nil, err
	}

	rec := record.Clone()
	rec.Kind = kind
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = types.Statuses(kind)[0]
	} else {
		status, err := types.ParseStatus(kind, string(rec.Status))
		if err != nil {
			return nil, err
		}
		rec.Status = status
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	if err := m.backends.Writer.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to insert record: %w", err)
	}

	if m.backends.Publisher != nil {
		board := types.BoardKey{TenantID: rec.TenantID, Kind: rec.Kind}
		change := types.ChangeEvent{Kind: types.ChangeInsert, Record: rec.Clone()}
		if err := m.backends.Publisher.Publish(ctx, board, change); err != nil {
			// The poll loop still picks the record up
			m.logger.Warn().Err(err).Str("record_id", rec.ID).Msg("Failed to publish insert")
		}
	}
	return rec, nil
}

// Shutdown closes every board, the backends and the broker
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	for board := range m.sessions {
		m.closeLocked(board)
	}
	m.mu.Unlock()

	err := m.backends.Close()
	m.broker.Stop()
	return err
}

func (m *Manager) publish(t events.EventType, board types.BoardKey) {
	m.broker.Publish(&events.Event{
		Type:     t,
		TenantID: board.TenantID,
		Kind:     string(board.Kind),
		Message:  board.String(),
	})
}
