package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/bellhop/pkg/types"
)

// MemoryStore is a process-local record store, change feed and flag store.
// It backs tests and the "memory" record backend used for dry runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[types.BoardKey]map[string]*types.Record
	flags   map[string]bool
	subs    map[types.BoardKey]map[int]func(types.ChangeEvent)
	nextSub int

	// fetchErr, when set, is returned by every FetchAll
	fetchErr  error
	updateErr error
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[types.BoardKey]map[string]*types.Record),
		flags:   make(map[string]bool),
		subs:    make(map[types.BoardKey]map[int]func(types.ChangeEvent)),
	}
}

// FailFetch makes FetchAll fail with err until called again with nil
func (m *MemoryStore) FailFetch(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr = err
}

// FailUpdate makes UpdateStatus fail with err until called again with nil
func (m *MemoryStore) FailUpdate(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateErr = err
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) FetchAll(ctx context.Context, board types.BoardKey) ([]*types.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStoreUnavailable, m.fetchErr)
	}
	out := make([]*types.Record, 0, len(m.records[board]))
	for _, r := range m.records[board] {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, record *types.Record) error {
	board := types.BoardKey{TenantID: record.TenantID, Kind: record.Kind}
	m.mu.Lock()
	if m.updateErr != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, m.updateErr)
	}
	if _, ok := m.records[board][record.ID]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrNotFound, record.ID)
	}
	m.records[board][record.ID] = record.Clone()
	subs := m.subscribers(board)
	m.mu.Unlock()

	notify(subs, types.ChangeEvent{Kind: types.ChangeUpdate, Record: record.Clone()})
	return nil
}

func (m *MemoryStore) Insert(ctx context.Context, record *types.Record) error {
	board := types.BoardKey{TenantID: record.TenantID, Kind: record.Kind}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	m.mu.Lock()
	if m.records[board] == nil {
		m.records[board] = make(map[string]*types.Record)
	}
	if _, ok := m.records[board][record.ID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("record %s already exists", record.ID)
	}
	m.records[board][record.ID] = record.Clone()
	subs := m.subscribers(board)
	m.mu.Unlock()

	notify(subs, types.ChangeEvent{Kind: types.ChangeInsert, Record: record.Clone()})
	return nil
}

// Put stores a record without notifying subscribers, as a write missed by
// the push channel would look
func (m *MemoryStore) Put(record *types.Record) {
	board := types.BoardKey{TenantID: record.TenantID, Kind: record.Kind}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records[board] == nil {
		m.records[board] = make(map[string]*types.Record)
	}
	m.records[board][record.ID] = record.Clone()
}

func (m *MemoryStore) Delete(ctx context.Context, board types.BoardKey, id string) error {
	m.mu.Lock()
	delete(m.records[board], id)
	subs := m.subscribers(board)
	m.mu.Unlock()

	notify(subs, types.ChangeEvent{Kind: types.ChangeDelete, Record: &types.Record{ID: id, TenantID: board.TenantID, Kind: board.Kind}})
	return nil
}

// Subscribe delivers changes synchronously from the writing goroutine
func (m *MemoryStore) Subscribe(ctx context.Context, board types.BoardKey, onChange func(types.ChangeEvent)) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs[board] == nil {
		m.subs[board] = make(map[int]func(types.ChangeEvent))
	}
	id := m.nextSub
	m.nextSub++
	m.subs[board][id] = onChange
	return &memorySubscription{store: m, board: board, id: id}, nil
}

// Subscribers returns the number of live subscriptions for a board
func (m *MemoryStore) Subscribers(board types.BoardKey) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[board])
}

func (m *MemoryStore) subscribers(board types.BoardKey) []func(types.ChangeEvent) {
	out := make([]func(types.ChangeEvent), 0, len(m.subs[board]))
	for _, fn := range m.subs[board] {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func(types.ChangeEvent), ev types.ChangeEvent) {
	for _, fn := range subs {
		fn(ev)
	}
}

type memorySubscription struct {
	store *MemoryStore
	board types.BoardKey
	id    int
}

func (s *memorySubscription) Close() error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	delete(s.store.subs[s.board], s.id)
	return nil
}

func (m *MemoryStore) GetFlag(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags[key], nil
}

func (m *MemoryStore) SetFlag(ctx context.Context, key string, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[key] = value
	return nil
}

// MemoryLedger is a non-durable LedgerStore
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[types.LedgerKey]*types.LedgerEntry
	err     error
}

// NewMemoryLedger creates an empty ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[types.LedgerKey]*types.LedgerEntry)}
}

// Fail makes Reserve fail with err until called again with nil
func (l *MemoryLedger) Fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

func (l *MemoryLedger) Reserve(ctx context.Context, key types.LedgerKey) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if _, ok := l.entries[key]; ok {
		return false, nil
	}
	now := time.Now()
	l.entries[key] = &types.LedgerEntry{
		TenantID:   key.TenantID,
		EntityID:   key.EntityID,
		Target:     key.Target,
		State:      types.DeliveryPending,
		ReservedAt: now,
		UpdatedAt:  now,
	}
	return true, nil
}

func (l *MemoryLedger) Complete(ctx context.Context, key types.LedgerKey, state types.DeliveryState, errMsg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	if !ok {
		return fmt.Errorf("%w: ledger entry %s", types.ErrNotFound, key)
	}
	entry.State = state
	entry.Error = errMsg
	entry.UpdatedAt = time.Now()
	return nil
}

func (l *MemoryLedger) Get(ctx context.Context, key types.LedgerKey) (*types.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: ledger entry %s", types.ErrNotFound, key)
	}
	copied := *entry
	return &copied, nil
}

func (l *MemoryLedger) List(ctx context.Context, tenantID string) ([]*types.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*types.LedgerEntry
	for _, entry := range l.entries {
		if tenantID != "" && entry.TenantID != tenantID {
			continue
		}
		copied := *entry
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReservedAt.Before(out[j].ReservedAt) })
	return out, nil
}

func (l *MemoryLedger) Close() error { return nil }
