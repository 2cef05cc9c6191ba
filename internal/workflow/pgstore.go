package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/switchboard/model"
)

// schema creates the runs table. Results are stored as a JSON array.
const schema = `
CREATE TABLE IF NOT EXISTS workflow_runs (
	id          TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	status      TEXT NOT NULL,
	results     JSONB NOT NULL DEFAULT '[]',
	error       TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS workflow_runs_workflow_started
	ON workflow_runs (workflow_id, started_at DESC);`

const runColumns = `id, workflow_id, status, results, error, started_at, finished_at`

// PgRunStore is a PostgreSQL-backed RunStore using pgx/v5.
type PgRunStore struct {
	pool *pgxpool.Pool
}

// NewPgRunStore creates a new PostgreSQL run store.
func NewPgRunStore(pool *pgxpool.Pool) *PgRunStore {
	return &PgRunStore{pool: pool}
}

// OpenPgRunStore connects to dsn, creates the schema if needed and returns
// the store.
func OpenPgRunStore(ctx context.Context, dsn string, maxConns int32) (*PgRunStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse run store dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	s := NewPgRunStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the runs table and index when missing.
func (s *PgRunStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate workflow_runs: %w", err)
	}
	return nil
}

// Create inserts a new run.
func (s *PgRunStore) Create(ctx context.Context, run model.WorkflowRun) error {
	resultsJSON, err := marshalResults(run.Results)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.WorkflowID, run.Status, resultsJSON, run.Error, run.StartedAt, run.FinishedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return model.NewConflictError(fmt.Sprintf("workflow run %q already exists", run.ID))
	}
	if err != nil {
		return fmt.Errorf("insert workflow run: %w", err)
	}
	return nil
}

// Update replaces the mutable fields of a run.
func (s *PgRunStore) Update(ctx context.Context, run model.WorkflowRun) error {
	resultsJSON, err := marshalResults(run.Results)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_runs SET
			status = $1,
			results = $2,
			error = $3,
			finished_at = $4
		WHERE id = $5`,
		run.Status, resultsJSON, run.Error, run.FinishedAt, run.ID,
	)
	if err != nil {
		return fmt.Errorf("update workflow run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("workflow run %q not found", run.ID))
	}
	return nil
}

// Get retrieves a run by id.
func (s *PgRunStore) Get(ctx context.Context, runID string) (model.WorkflowRun, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+runColumns+` FROM workflow_runs WHERE id = $1`, runID)
	if err != nil {
		return model.WorkflowRun{}, fmt.Errorf("query workflow run: %w", err)
	}
	run, err := pgx.CollectExactlyOneRow(rows, scanRun)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkflowRun{}, model.NewNotFoundError(fmt.Sprintf("workflow run %q not found", runID))
	}
	if err != nil {
		return model.WorkflowRun{}, fmt.Errorf("scan workflow run: %w", err)
	}
	return run, nil
}

// List returns runs newest first.
func (s *PgRunStore) List(ctx context.Context, filters RunFilters) ([]model.WorkflowRun, error) {
	query := `SELECT ` + runColumns + ` FROM workflow_runs WHERE TRUE`
	var args []any
	argIdx := 1

	if filters.WorkflowID != "" {
		query += fmt.Sprintf(" AND workflow_id = $%d", argIdx)
		args = append(args, filters.WorkflowID)
		argIdx++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filters.Status)
		argIdx++
	}

	query += " ORDER BY started_at DESC, id DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
		argIdx++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filters.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query workflow runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, scanRun)
	if err != nil {
		return nil, fmt.Errorf("scan workflow runs: %w", err)
	}
	return runs, nil
}

// HealthCheck pings the database.
func (s *PgRunStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *PgRunStore) Close() {
	s.pool.Close()
}

func scanRun(row pgx.CollectableRow) (model.WorkflowRun, error) {
	var run model.WorkflowRun
	var resultsJSON []byte
	if err := row.Scan(
		&run.ID, &run.WorkflowID, &run.Status, &resultsJSON, &run.Error, &run.StartedAt, &run.FinishedAt,
	); err != nil {
		return model.WorkflowRun{}, err
	}
	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &run.Results); err != nil {
			return model.WorkflowRun{}, fmt.Errorf("unmarshal results: %w", err)
		}
	}
	return run, nil
}

func marshalResults(results []model.StepResult) ([]byte, error) {
	if results == nil {
		results = []model.StepResult{}
	}
	b, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("marshal results: %w", err)
	}
	return b, nil
}
