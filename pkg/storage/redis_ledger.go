package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cuemby/bellhop/pkg/types"
	"github.com/redis/go-redis/v9"
)

const redisLedgerPrefix = "bellhop:ledger:"

var globEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)

// RedisLedger keeps the sent ledger in Redis so that every device of a tenant
// shares it. Reserve is a SETNX, which Redis executes atomically.
type RedisLedger struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisLedger connects using a redis:// URL
func NewRedisLedger(url string) (*RedisLedger, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisLedgerFromClient(client), nil
}

// NewRedisLedgerFromClient wraps an existing client
func NewRedisLedgerFromClient(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client, now: time.Now}
}

func (l *RedisLedger) Close() error {
	return l.client.Close()
}

func (l *RedisLedger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func ledgerRedisKey(key types.LedgerKey) string {
	return redisLedgerPrefix + key.String()
}

func (l *RedisLedger) Reserve(ctx context.Context, key types.LedgerKey) (bool, error) {
	now := l.now().UTC()
	data, err := json.Marshal(&types.LedgerEntry{
		TenantID:   key.TenantID,
		EntityID:   key.EntityID,
		Target:     key.Target,
		State:      types.DeliveryPending,
		ReservedAt: now,
		UpdatedAt:  now,
	})
	if err != nil {
		return false, err
	}
	ok, err := l.client.SetNX(ctx, ledgerRedisKey(key), data, 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve %s: %w", key, err)
	}
	return ok, nil
}

func (l *RedisLedger) Complete(ctx context.Context, key types.LedgerKey, state types.DeliveryState, errMsg string) error {
	entry, err := l.Get(ctx, key)
	if err != nil {
		return err
	}
	entry.State = state
	entry.Error = errMsg
	entry.UpdatedAt = l.now().UTC()
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	// XX: only overwrite, never resurrect an entry removed by an operator
	ok, err := l.client.SetXX(ctx, ledgerRedisKey(key), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to complete %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("%w: ledger entry %s", types.ErrNotFound, key)
	}
	return nil
}

func (l *RedisLedger) Get(ctx context.Context, key types.LedgerKey) (*types.LedgerEntry, error) {
	data, err := l.client.Get(ctx, ledgerRedisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: ledger entry %s", types.ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	var entry types.LedgerEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (l *RedisLedger) List(ctx context.Context, tenantID string) ([]*types.LedgerEntry, error) {
	match := redisLedgerPrefix + "*"
	if tenantID != "" {
		match = redisLedgerPrefix + globEscaper.Replace(types.LedgerTenantPrefix(tenantID)) + "*"
	}

	var entries []*types.LedgerEntry
	iter := l.client.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		data, err := l.client.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var entry types.LedgerEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("malformed ledger entry %s: %w", strings.TrimPrefix(k, redisLedgerPrefix), err)
		}
		entries = append(entries, &entry)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ReservedAt.Before(entries[j].ReservedAt) })
	return entries, nil
}
