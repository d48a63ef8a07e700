package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/bellhop/pkg/types"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const sqlOperationTimeout = 5 * time.Second

// Dialect selects the SQL flavour of a SQLLedger
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

type ledgerQueries struct {
	schema   string
	reserve  string
	complete string
	get      string
	list     string
	listAll  string
}

const ledgerColumns = "tenant_id, entity_id, target, state, error, reserved_at, updated_at"

var ledgerDialects = map[Dialect]ledgerQueries{
	DialectSQLite: {
		schema: `CREATE TABLE IF NOT EXISTS sent_ledger (
			tenant_id   TEXT NOT NULL,
			entity_id   TEXT NOT NULL,
			target      TEXT NOT NULL,
			state       TEXT NOT NULL,
			error       TEXT NOT NULL DEFAULT '',
			reserved_at TIMESTAMP NOT NULL,
			updated_at  TIMESTAMP NOT NULL,
			PRIMARY KEY (tenant_id, entity_id, target)
		)`,
		reserve: `INSERT INTO sent_ledger (` + ledgerColumns + `)
			VALUES (?, ?, ?, ?, '', ?, ?)
			ON CONFLICT (tenant_id, entity_id, target) DO NOTHING`,
		complete: `UPDATE sent_ledger SET state = ?, error = ?, updated_at = ?
			WHERE tenant_id = ? AND entity_id = ? AND target = ?`,
		get:     `SELECT ` + ledgerColumns + ` FROM sent_ledger WHERE tenant_id = ? AND entity_id = ? AND target = ?`,
		list:    `SELECT ` + ledgerColumns + ` FROM sent_ledger WHERE tenant_id = ? ORDER BY reserved_at`,
		listAll: `SELECT ` + ledgerColumns + ` FROM sent_ledger ORDER BY reserved_at`,
	},
	DialectPostgres: {
		schema: `CREATE TABLE IF NOT EXISTS sent_ledger (
			tenant_id   TEXT NOT NULL,
			entity_id   TEXT NOT NULL,
			target      TEXT NOT NULL,
			state       TEXT NOT NULL,
			error       TEXT NOT NULL DEFAULT '',
			reserved_at TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (tenant_id, entity_id, target)
		)`,
		reserve: `INSERT INTO sent_ledger (` + ledgerColumns + `)
			VALUES ($1, $2, $3, $4, '', $5, $6)
			ON CONFLICT (tenant_id, entity_id, target) DO NOTHING`,
		complete: `UPDATE sent_ledger SET state = $1, error = $2, updated_at = $3
			WHERE tenant_id = $4 AND entity_id = $5 AND target = $6`,
		get:     `SELECT ` + ledgerColumns + ` FROM sent_ledger WHERE tenant_id = $1 AND entity_id = $2 AND target = $3`,
		list:    `SELECT ` + ledgerColumns + ` FROM sent_ledger WHERE tenant_id = $1 ORDER BY reserved_at`,
		listAll: `SELECT ` + ledgerColumns + ` FROM sent_ledger ORDER BY reserved_at`,
	},
}

// SQLLedger is a sent ledger in SQLite (single node) or Postgres (shared by
// every device of a tenant). The primary key makes Reserve an atomic
// check-and-set on both.
type SQLLedger struct {
	db      *sql.DB
	queries ledgerQueries
	now     func() time.Time
}

// OpenSQLLedger opens the database and applies the schema
func OpenSQLLedger(dialect Dialect, dsn string) (*SQLLedger, error) {
	queries, ok := ledgerDialects[dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported ledger dialect %q", dialect)
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if dialect == DialectSQLite {
		// SQLite only supports one writer at a time
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, queries.schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLLedger{db: db, queries: queries, now: time.Now}, nil
}

// Close closes the database connection
func (l *SQLLedger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *SQLLedger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

func (l *SQLLedger) Reserve(ctx context.Context, key types.LedgerKey) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	now := l.now().UTC()
	res, err := l.db.ExecContext(ctx, l.queries.reserve,
		key.TenantID, key.EntityID, string(key.Target), string(types.DeliveryPending), now, now)
	if err != nil {
		return false, fmt.Errorf("failed to reserve %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *SQLLedger) Complete(ctx context.Context, key types.LedgerKey, state types.DeliveryState, errMsg string) error {
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	res, err := l.db.ExecContext(ctx, l.queries.complete,
		string(state), errMsg, l.now().UTC(), key.TenantID, key.EntityID, string(key.Target))
	if err != nil {
		return fmt.Errorf("failed to complete %s: %w", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: ledger entry %s", types.ErrNotFound, key)
	}
	return nil
}

func (l *SQLLedger) Get(ctx context.Context, key types.LedgerKey) (*types.LedgerEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	row := l.db.QueryRowContext(ctx, l.queries.get, key.TenantID, key.EntityID, string(key.Target))
	entry, err := scanLedgerEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: ledger entry %s", types.ErrNotFound, key)
	}
	return entry, err
}

func (l *SQLLedger) List(ctx context.Context, tenantID string) ([]*types.LedgerEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	var (
		rows *sql.Rows
		err  error
	)
	if tenantID == "" {
		rows, err = l.db.QueryContext(ctx, l.queries.listAll)
	} else {
		rows, err = l.db.QueryContext(ctx, l.queries.list, tenantID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*types.LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLedgerEntry(row rowScanner) (*types.LedgerEntry, error) {
	var (
		entry  types.LedgerEntry
		target string
		state  string
	)
	if err := row.Scan(&entry.TenantID, &entry.EntityID, &target, &state, &entry.Error, &entry.ReservedAt, &entry.UpdatedAt); err != nil {
		return nil, err
	}
	entry.Target = types.Status(target)
	entry.State = types.DeliveryState(state)
	return &entry, nil
}
