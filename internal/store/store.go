package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
)

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists run results to PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const createRunsTableSQL = `
CREATE TABLE IF NOT EXISTS runs (
	run_id             UUID PRIMARY KEY,
	url                TEXT NOT NULL,
	instruction        TEXT NOT NULL,
	success            BOOLEAN NOT NULL,
	reason             TEXT,
	steps_taken        INTEGER NOT NULL,
	data               JSONB NOT NULL DEFAULT '{}',
	hints              JSONB,
	suggested_commands JSONB,
	started_at         TIMESTAMPTZ NOT NULL,
	finished_at        TIMESTAMPTZ NOT NULL
)`

// EnsureSchema creates the runs table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createRunsTableSQL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

const insertRunSQL = `
INSERT INTO runs (
	run_id, url, instruction, success, reason, steps_taken,
	data, hints, suggested_commands, started_at, finished_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (run_id) DO NOTHING`

// SaveResult inserts one run result. Re-saving the same run id is a no-op.
func (s *Store) SaveResult(ctx context.Context, url, instruction string, result schemas.Result) error {
	data, err := json.Marshal(result.Data)
	if err != nil {
		return fmt.Errorf("failed to encode result data: %w", err)
	}
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage("{}")
	}
	hints, err := json.Marshal(result.Meta.Hints)
	if err != nil {
		return fmt.Errorf("failed to encode hints: %w", err)
	}
	commands, err := json.Marshal(result.Meta.SuggestedCommands)
	if err != nil {
		return fmt.Errorf("failed to encode suggested commands: %w", err)
	}

	tag, err := s.pool.Exec(ctx, insertRunSQL,
		result.RunID, url, instruction, result.Success, result.Reason, result.StepsTaken,
		data, hints, commands,
		result.StartedAt.UTC(), result.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.log.Debug("Run already persisted, skipping.", zap.String("run_id", result.RunID))
		return nil
	}

	s.log.Info("Run result persisted.",
		zap.String("run_id", result.RunID),
		zap.Bool("success", result.Success))
	return nil
}

// RunRecord is the row shape returned by ListRecent.
type RunRecord struct {
	RunID      string
	URL        string
	Success    bool
	Reason     string
	StepsTaken int
	FinishedAt time.Time
}

const listRecentSQL = `
SELECT run_id, url, success, reason, steps_taken, finished_at
FROM runs
ORDER BY finished_at DESC
LIMIT $1`

// ListRecent returns the most recently finished runs, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, listRecentSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent runs: %w", err)
	}
	defer rows.Close()

	records := make([]RunRecord, 0, limit)
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.RunID, &r.URL, &r.Success, &r.Reason, &r.StepsTaken, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading run rows: %w", err)
	}
	return records, nil
}
