package storage

import (
	"context"

	"github.com/cuemby/bellhop/pkg/types"
)

// RecordStore is the external store holding orders and reservations.
// Implementations normalize statuses on read (see types.RecordDoc).
type RecordStore interface {
	FetchAll(ctx context.Context, board types.BoardKey) ([]*types.Record, error)
	UpdateStatus(ctx context.Context, record *types.Record) error
	Close() error
}

// RecordWriter is implemented by stores that also accept inserts and deletes
// (the local store used for standalone boards and demos)
type RecordWriter interface {
	Insert(ctx context.Context, record *types.Record) error
	Delete(ctx context.Context, board types.BoardKey, id string) error
}

// ChangeFeed is the push channel delivering single-record changes
type ChangeFeed interface {
	Subscribe(ctx context.Context, board types.BoardKey, onChange func(types.ChangeEvent)) (Subscription, error)
}

// Subscription is an active change feed subscription
type Subscription interface {
	Close() error
}

// FlagStore is a durable key/value store of boolean flags scoped by the caller
type FlagStore interface {
	GetFlag(ctx context.Context, key string) (bool, error)
	SetFlag(ctx context.Context, key string, value bool) error
}

// Pinger is implemented by backends that can check their connection
type Pinger interface {
	Ping(ctx context.Context) error
}

// LedgerStore persists sent-ledger entries. Reserve must be atomic: of any
// number of concurrent callers for one key, exactly one gets true.
type LedgerStore interface {
	Reserve(ctx context.Context, key types.LedgerKey) (bool, error)
	Complete(ctx context.Context, key types.LedgerKey, state types.DeliveryState, errMsg string) error
	Get(ctx context.Context, key types.LedgerKey) (*types.LedgerEntry, error)
	List(ctx context.Context, tenantID string) ([]*types.LedgerEntry, error)
	Close() error
}
