package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/docsync-api/internal/platform/logger"
)

// Run operations
const (
	OperationAdd    = "add"
	OperationUpdate = "update"
	OperationDelete = "delete"
)

// SyncRun is one write against a collection.
type SyncRun struct {
	ID           uuid.UUID `json:"id"`
	Collection   string    `json:"collection"`
	Operation    string    `json:"operation"`
	Total        int       `json:"total"`
	Failed       int       `json:"failed"`
	ErrorMessage string    `json:"error_message,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// RunStore persists SyncRuns.
type RunStore struct {
	db DBTX
}

// NewRunStore creates a RunStore.
func NewRunStore(db DBTX) *RunStore {
	return &RunStore{db: db}
}

// Record inserts run, assigning an ID when it has none.
func (s *RunStore) Record(ctx context.Context, run *SyncRun) error {
	log := logger.FromContext(ctx)

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	query := `
		INSERT INTO sync_runs (id, collection, operation, total, failed, error_message, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Collection,
		run.Operation,
		run.Total,
		run.Failed,
		run.ErrorMessage,
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
	)
	if err != nil {
		log.Error("failed to record sync run",
			"run_id", run.ID,
			"collection", run.Collection,
			"error", err)
		return fmt.Errorf("failed to record sync run: %w", MapError(err))
	}
	return nil
}

// Recent returns the latest runs of collection, newest first.
func (s *RunStore) Recent(ctx context.Context, collection string, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, collection, operation, total, failed, error_message, started_at, finished_at
		FROM sync_runs
		WHERE collection = $1
		ORDER BY started_at DESC
		LIMIT $2
	`
	return s.query(ctx, query, collection, limit)
}

// FailedSince returns runs with failures that finished at or after since,
// oldest first.
func (s *RunStore) FailedSince(ctx context.Context, since time.Time) ([]SyncRun, error) {
	query := `
		SELECT id, collection, operation, total, failed, error_message, started_at, finished_at
		FROM sync_runs
		WHERE finished_at >= $1 AND (failed > 0 OR error_message <> '')
		ORDER BY finished_at ASC
	`
	return s.query(ctx, query, since.UTC())
}

func (s *RunStore) query(ctx context.Context, query string, args ...any) ([]SyncRun, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var runs []SyncRun
	for rows.Next() {
		var r SyncRun
		if err := rows.Scan(
			&r.ID,
			&r.Collection,
			&r.Operation,
			&r.Total,
			&r.Failed,
			&r.ErrorMessage,
			&r.StartedAt,
			&r.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync runs: %w", err)
	}
	return runs, nil
}
