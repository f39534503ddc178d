// Package postgres provides PostgreSQL-backed storage for completed run
// records. Scalar columns carry the fields listings filter and sort on; the
// execution tree and progress snapshot are stored as JSONB.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // database/sql driver registration

	"github.com/runtrace/runtrace/pkg/history"
	"github.com/runtrace/runtrace/pkg/models"
)

// History implements the history.History interface on PostgreSQL.
type History struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewHistory connects to PostgreSQL, verifies the connection, and runs any
// pending schema migrations before returning.
func NewHistory(ctx context.Context, logger *slog.Logger, databaseURL string) (*History, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrator := newMigrator(logger, db, migrations())
	if err := migrator.run(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &History{db: db, logger: logger}, nil
}

func (h *History) SaveRun(ctx context.Context, record *models.RunRecord) error {
	if record == nil || record.ID == "" {
		return history.NewRunError("SaveRun", "", errors.New("record has no id"))
	}

	progressJSON, err := json.Marshal(record.Progress)
	if err != nil {
		return history.NewRunError("SaveRun", record.ID, err)
	}

	nodesJSON, err := json.Marshal(record.Nodes)
	if err != nil {
		return history.NewRunError("SaveRun", record.ID, err)
	}

	query := `
		INSERT INTO runs (id, workflow_run_id, task_id, state, error,
			progress, nodes, dropped_events, started_at, finished_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			workflow_run_id = EXCLUDED.workflow_run_id,
			task_id = EXCLUDED.task_id,
			state = EXCLUDED.state,
			error = EXCLUDED.error,
			progress = EXCLUDED.progress,
			nodes = EXCLUDED.nodes,
			dropped_events = EXCLUDED.dropped_events,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			created_at = EXCLUDED.created_at
	`

	_, err = h.db.ExecContext(ctx, query,
		record.ID,
		record.WorkflowRunID,
		record.TaskID,
		record.State,
		record.Error,
		progressJSON,
		nodesJSON,
		record.DroppedEvents,
		record.StartedAt,
		record.FinishedAt,
		record.CreatedAt,
	)
	if err != nil {
		return history.NewRunError("SaveRun", record.ID, err)
	}

	return nil
}

func (h *History) Runs(ctx context.Context, opts history.ListOptions) (*history.ListResult, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	var totalCount int64

	err := h.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&totalCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}

	query := `
		SELECT
			id
		  , workflow_run_id
		  , task_id
		  , state
		  , error
		  , progress
		  , nodes
		  , dropped_events
		  , started_at
		  , finished_at
		  , created_at
		FROM runs
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2
	`

	rows, err := h.db.QueryContext(ctx, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			h.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	runs := make([]*models.RunRecord, 0)

	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return &history.ListResult{
		Runs:        runs,
		TotalCount:  totalCount,
		HasNextPage: int64(opts.Offset+len(runs)) < totalCount,
	}, nil
}

func (h *History) RunByID(ctx context.Context, id string) (*models.RunRecord, error) {
	query := `
		SELECT
			id
		  , workflow_run_id
		  , task_id
		  , state
		  , error
		  , progress
		  , nodes
		  , dropped_events
		  , started_at
		  , finished_at
		  , created_at
		FROM runs
		WHERE id = $1
	`

	record, err := scanRun(h.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, history.NewRunError("RunByID", id, history.ErrRunNotFound)
		}

		return nil, history.NewRunError("RunByID", id, err)
	}

	return record, nil
}

func (h *History) DeleteRun(ctx context.Context, id string) error {
	result, err := h.db.ExecContext(ctx, "DELETE FROM runs WHERE id = $1", id)
	if err != nil {
		return history.NewRunError("DeleteRun", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return history.NewRunError("DeleteRun", id, err)
	}

	if rowsAffected == 0 {
		return history.NewRunError("DeleteRun", id, history.ErrRunNotFound)
	}

	return nil
}

func (h *History) HealthCheck(ctx context.Context) error {
	if err := h.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (h *History) Close(_ context.Context) error {
	if h.db == nil {
		return nil
	}

	if err := h.db.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}

	return nil
}

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*models.RunRecord, error) {
	var (
		record                  models.RunRecord
		progressJSON, nodesJSON []byte
	)

	err := scanner.Scan(
		&record.ID,
		&record.WorkflowRunID,
		&record.TaskID,
		&record.State,
		&record.Error,
		&progressJSON,
		&nodesJSON,
		&record.DroppedEvents,
		&record.StartedAt,
		&record.FinishedAt,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if progressJSON != nil {
		if err := json.Unmarshal(progressJSON, &record.Progress); err != nil {
			return nil, fmt.Errorf("failed to unmarshal progress: %w", err)
		}
	}

	if nodesJSON != nil {
		if err := json.Unmarshal(nodesJSON, &record.Nodes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
		}
	}

	return &record, nil
}
