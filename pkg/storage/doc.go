/*
Package storage holds the persistence interfaces of bellhop and their
backends.

# Interfaces

	RecordStore   FetchAll, UpdateStatus     the orders and reservations
	RecordWriter  Insert, Delete             stores that accept local writes
	ChangeFeed    Subscribe                  the push channel
	FlagStore     GetFlag, SetFlag           device-local audio activation
	LedgerStore   Reserve, Complete, List    the at-most-once sent ledger
	Pinger        Ping                       backends the health monitor probes

# Backends

	┌──────────────────────┬─────────┬────────┬──────┬───────┬────────┐
	│ backend              │ records │ feed   │ flags│ledger │ shared │
	├──────────────────────┼─────────┼────────┼──────┼───────┼────────┤
	│ BoltStore            │   ✓     │ broker │  ✓   │  ✓    │  no    │
	│ PostgresRecordStore  │   ✓     │        │      │       │  yes   │
	│ SQLLedger (sqlite3)  │         │        │      │  ✓    │  no    │
	│ SQLLedger (postgres) │         │        │      │  ✓    │  yes   │
	│ RedisLedger          │         │        │      │  ✓    │  yes   │
	│ MemoryStore          │   ✓     │   ✓    │  ✓   │       │  no    │
	│ MemoryLedger         │         │        │      │  ✓    │  no    │
	└──────────────────────┴─────────┴────────┴──────┴───────┴────────┘

BoltStore keeps everything for a standalone node in <data-dir>/bellhop.db
with one bucket each for records, the sent ledger and device flags. It
publishes record.* events on every write and subscribes to them to act as
its own change feed. The manager opens it once and hands the same instance
to every role that uses it, since bbolt locks the file.

PostgresRecordStore reads a bellhop_records table that other systems may
write to with any status casing; statuses are normalized on read. Its push
channel comes from the Redis feed (package feed).

# Sent ledger

Reserve is the heart of the at-most-once guarantee: of any number of callers
for the same (tenant, record, target status) key, exactly one gets true.
Each backend makes that atomic with the primitive it has:

  - bolt: a read-check-write inside one Update transaction
  - SQL: INSERT ... ON CONFLICT DO NOTHING on the composite primary key
  - Redis: SETNX on bellhop:ledger:<tenant>/<record>/<target>
  - memory: a mutex

Bolt and Redis keys join the fields with "/" after escaping "%" and "/"
inside them (types.JoinKey), so a tenant or record id containing "/" never
collides with another key and listing one tenant never returns another's.

An entry left "pending" or marked "failed" is a delivery gap. Gaps are
listed for manual follow-up and never retried.

The ledger must be shared by every device of a tenant for the guarantee to
hold across devices, so multi-device installations use the Postgres or
Redis ledger.
*/
package storage
