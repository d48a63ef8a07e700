package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/bellhop/pkg/log"
	"github.com/cuemby/bellhop/pkg/types"
	"github.com/rs/zerolog"
)

const postgresRecordsSchema = `
	CREATE TABLE IF NOT EXISTS bellhop_records (
		tenant_id     TEXT NOT NULL,
		kind          TEXT NOT NULL,
		id            TEXT NOT NULL,
		status        TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		table_id      TEXT NOT NULL DEFAULT '',
		occupied      BOOLEAN NOT NULL DEFAULT FALSE,
		reject_reason TEXT NOT NULL DEFAULT '',
		reject_note   TEXT NOT NULL DEFAULT '',
		attributes    TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (tenant_id, kind, id)
	)`

// PostgresRecordStore reads and updates records in a shared Postgres
// database. Rows may be written by other systems with any status casing;
// they are normalized on read.
type PostgresRecordStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewPostgresRecordStore connects and makes sure the records table exists
func NewPostgresRecordStore(dsn string) (*PostgresRecordStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()

	if _, err := db.ExecContext(ctx, postgresRecordsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &PostgresRecordStore{db: db, logger: log.WithComponent("postgres-records")}, nil
}

// Close closes the database connection
func (s *PostgresRecordStore) Close() error {
	return s.db.Close()
}

func (s *PostgresRecordStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresRecordStore) FetchAll(ctx context.Context, board types.BoardKey) ([]*types.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, created_at, updated_at, table_id, occupied, reject_reason, reject_note, attributes
		FROM bellhop_records WHERE tenant_id = $1 AND kind = $2 ORDER BY created_at`,
		board.TenantID, string(board.Kind))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var records []*types.Record
	for rows.Next() {
		doc := types.RecordDoc{TenantID: board.TenantID, Kind: string(board.Kind)}
		var attrs string
		if err := rows.Scan(&doc.ID, &doc.Status, &doc.CreatedAt, &doc.UpdatedAt, &doc.TableID,
			&doc.Occupied, &doc.RejectReason, &doc.RejectNote, &attrs); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
		}
		if attrs != "" {
			if err := json.Unmarshal([]byte(attrs), &doc.Attributes); err != nil {
				s.logger.Warn().Err(err).Str("record_id", doc.ID).Msg("Ignoring malformed attributes")
			}
		}
		rec, err := doc.ToRecord(board.Kind)
		if err != nil {
			s.logger.Warn().Err(err).Str("record_id", doc.ID).Msg("Skipping record with unknown status")
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	return records, nil
}

func (s *PostgresRecordStore) UpdateStatus(ctx context.Context, record *types.Record) error {
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	updatedAt := record.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE bellhop_records
		SET status = $1, table_id = $2, occupied = $3, reject_reason = $4, reject_note = $5, updated_at = $6
		WHERE tenant_id = $7 AND kind = $8 AND id = $9`,
		string(record.Status), record.TableID, record.Occupied, string(record.RejectReason), record.RejectNote,
		updatedAt, record.TenantID, string(record.Kind), record.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", types.ErrNotFound, record.ID)
	}
	return nil
}

func (s *PostgresRecordStore) Insert(ctx context.Context, record *types.Record) error {
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	attrs, err := json.Marshal(record.Attributes)
	if err != nil {
		return err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bellhop_records (tenant_id, kind, id, status, created_at, updated_at, table_id, occupied, attributes)
		VALUES ($1, $2, $3, $4, $5, $5, $6, $7, $8)`,
		record.TenantID, string(record.Kind), record.ID, string(record.Status), record.CreatedAt,
		record.TableID, record.Occupied, string(attrs))
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PostgresRecordStore) Delete(ctx context.Context, board types.BoardKey, id string) error {
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `DELETE FROM bellhop_records WHERE tenant_id = $1 AND kind = $2 AND id = $3`,
		board.TenantID, string(board.Kind), id)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	return nil
}
