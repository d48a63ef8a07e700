package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/bellhop/pkg/events"
	"github.com/cuemby/bellhop/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketRecords = []byte("records")
	bucketLedger  = []byte("sent_ledger")
	bucketFlags   = []byte("device_flags")
)

// BoltStore is the local, single-node store. It serves as the record store
// for standalone boards, the sent ledger and the device flag store. Record
// writes are published on the broker, which makes it its own change feed.
type BoltStore struct {
	db     *bolt.DB
	broker *events.Broker
	now    func() time.Time
}

// NewBoltStore creates a new BoltDB-backed store. broker may be nil when the
// store is not used as a change feed.
func NewBoltStore(dataDir string, broker *events.Broker) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "bellhop.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketRecords, bucketLedger, bucketFlags} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, broker: broker, now: time.Now}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Ping fails once the database has been closed
func (s *BoltStore) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error { return nil })
}

func recordPrefix(board types.BoardKey) []byte {
	return []byte(types.JoinKey(board.TenantID, string(board.Kind)) + "/")
}

func recordKey(r *types.Record) []byte {
	return []byte(types.JoinKey(r.TenantID, string(r.Kind), r.ID))
}

// Record operations

// FetchAll returns every record of a board. Documents whose status cannot be
// normalized are skipped.
func (s *BoltStore) FetchAll(ctx context.Context, board types.BoardKey) ([]*types.Record, error) {
	var records []*types.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRecords).Cursor()
		prefix := recordPrefix(board)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var doc types.RecordDoc
			if err := json.Unmarshal(v, &doc); err != nil {
				return err
			}
			rec, err := doc.ToRecord(board.Kind)
			if err != nil {
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	return records, nil
}

// Insert adds a new record
func (s *BoltStore) Insert(ctx context.Context, record *types.Record) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now()
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		if b.Get(recordKey(record)) != nil {
			return fmt.Errorf("record %s already exists", record.ID)
		}
		return putRecord(b, record)
	})
	if err != nil {
		return err
	}
	s.publish(events.EventRecordInserted, record)
	return nil
}

// UpdateStatus persists the lifecycle fields of an existing record
func (s *BoltStore) UpdateStatus(ctx context.Context, record *types.Record) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		if b.Get(recordKey(record)) == nil {
			return fmt.Errorf("%w: %s", types.ErrNotFound, record.ID)
		}
		return putRecord(b, record)
	})
	if err != nil {
		return err
	}
	s.publish(events.EventRecordUpdated, record)
	return nil
}

// Delete removes a record
func (s *BoltStore) Delete(ctx context.Context, board types.BoardKey, id string) error {
	rec := &types.Record{ID: id, TenantID: board.TenantID, Kind: board.Kind}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).Delete(recordKey(rec))
	})
	if err != nil {
		return err
	}
	s.publish(events.EventRecordDeleted, rec)
	return nil
}

func putRecord(b *bolt.Bucket, record *types.Record) error {
	data, err := json.Marshal(types.DocFromRecord(record))
	if err != nil {
		return err
	}
	return b.Put(recordKey(record), data)
}

func (s *BoltStore) publish(t events.EventType, record *types.Record) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{
		Type:     t,
		TenantID: record.TenantID,
		Kind:     string(record.Kind),
		Message:  record.ID,
		Payload:  record.Clone(),
	})
}

// Subscribe delivers the store's own record writes for one board
func (s *BoltStore) Subscribe(ctx context.Context, board types.BoardKey, onChange func(types.ChangeEvent)) (Subscription, error) {
	if s.broker == nil {
		return nil, fmt.Errorf("%w: local store has no broker", types.ErrStoreUnavailable)
	}
	ch := s.broker.Subscribe(events.ForBoard(board.TenantID, string(board.Kind)), events.InCategory("record"))
	sub := &brokerSubscription{broker: s.broker, ch: ch, done: make(chan struct{})}
	go sub.run(ctx, onChange)
	return sub, nil
}

type brokerSubscription struct {
	broker *events.Broker
	ch     events.Subscriber
	once   sync.Once
	done   chan struct{}
}

func (b *brokerSubscription) run(ctx context.Context, onChange func(types.ChangeEvent)) {
	defer b.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case ev, ok := <-b.ch:
			if !ok {
				return
			}
			rec, isRecord := ev.Payload.(*types.Record)
			if !isRecord {
				continue
			}
			var kind types.ChangeKind
			switch ev.Type {
			case events.EventRecordInserted:
				kind = types.ChangeInsert
			case events.EventRecordUpdated:
				kind = types.ChangeUpdate
			case events.EventRecordDeleted:
				kind = types.ChangeDelete
			default:
				continue
			}
			onChange(types.ChangeEvent{Kind: kind, Record: rec.Clone()})
		}
	}
}

func (b *brokerSubscription) Close() error {
	b.once.Do(func() {
		close(b.done)
		b.broker.Unsubscribe(b.ch)
	})
	return nil
}

// Flag operations

func (s *BoltStore) GetFlag(ctx context.Context, key string) (bool, error) {
	var value bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketFlags).Get([]byte(key))
		value = len(data) == 1 && data[0] == 1
		return nil
	})
	return value, err
}

func (s *BoltStore) SetFlag(ctx context.Context, key string, value bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFlags)
		if !value {
			return b.Delete([]byte(key))
		}
		return b.Put([]byte(key), []byte{1})
	})
}

// Ledger operations

// Reserve records key as pending unless it already exists. Bolt serializes
// write transactions, so the check and the put cannot interleave.
func (s *BoltStore) Reserve(ctx context.Context, key types.LedgerKey) (bool, error) {
	reserved := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLedger)
		k := []byte(key.String())
		if b.Get(k) != nil {
			return nil
		}
		now := s.now()
		data, err := json.Marshal(&types.LedgerEntry{
			TenantID:   key.TenantID,
			EntityID:   key.EntityID,
			Target:     key.Target,
			State:      types.DeliveryPending,
			ReservedAt: now,
			UpdatedAt:  now,
		})
		if err != nil {
			return err
		}
		reserved = true
		return b.Put(k, data)
	})
	if err != nil {
		return false, err
	}
	return reserved, nil
}

// Complete records the outcome of a reserved send
func (s *BoltStore) Complete(ctx context.Context, key types.LedgerKey, state types.DeliveryState, errMsg string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLedger)
		k := []byte(key.String())
		data := b.Get(k)
		if data == nil {
			return fmt.Errorf("%w: ledger entry %s", types.ErrNotFound, key)
		}
		var entry types.LedgerEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return err
		}
		entry.State = state
		entry.Error = errMsg
		entry.UpdatedAt = s.now()
		updated, err := json.Marshal(&entry)
		if err != nil {
			return err
		}
		return b.Put(k, updated)
	})
}

func (s *BoltStore) Get(ctx context.Context, key types.LedgerKey) (*types.LedgerEntry, error) {
	var entry types.LedgerEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketLedger).Get([]byte(key.String()))
		if data == nil {
			return fmt.Errorf("%w: ledger entry %s", types.ErrNotFound, key)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *BoltStore) List(ctx context.Context, tenantID string) ([]*types.LedgerEntry, error) {
	var entries []*types.LedgerEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLedger).Cursor()
		// An empty tenant lists every entry
		var prefix []byte
		if tenantID != "" {
			prefix = []byte(types.LedgerTenantPrefix(tenantID))
		}
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var entry types.LedgerEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].ReservedAt.Before(entries[j].ReservedAt) })
	return entries, err
}
