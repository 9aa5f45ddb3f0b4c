package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gae-orchestrator/internal/workflow"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB  *sql.DB
	Now func() time.Time
}

const selectColumns = `id, name, status, algorithm, engine_id, retry_count, started_at, ended_at, result, updated_at`

// Save upserts the run row keyed by result.ID.
func (r *PGRepo) Save(ctx context.Context, result workflow.AnalysisResult) error {
	const query = `
INSERT INTO analysis_runs (
    id,
    name,
    status,
    algorithm,
    engine_id,
    retry_count,
    started_at,
    ended_at,
    result,
    updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    status = EXCLUDED.status,
    algorithm = EXCLUDED.algorithm,
    engine_id = EXCLUDED.engine_id,
    retry_count = EXCLUDED.retry_count,
    ended_at = EXCLUDED.ended_at,
    result = EXCLUDED.result,
    updated_at = EXCLUDED.updated_at`

	run := fromResult(result, r.now())
	payload, err := json.Marshal(run.Result)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.ID, err)
	}
	var endedAt sql.NullTime
	if run.EndedAt != nil {
		endedAt = sql.NullTime{Time: *run.EndedAt, Valid: true}
	}

	_, err = r.DB.ExecContext(
		ctx,
		query,
		run.ID,
		run.Name,
		string(run.Status),
		run.Algorithm,
		run.EngineID,
		run.RetryCount,
		run.StartedAt,
		endedAt,
		payload,
		run.UpdatedAt,
	)
	return err
}

// GetByID fetches one run.
func (r *PGRepo) GetByID(ctx context.Context, id string) (Run, error) {
	query := `SELECT ` + selectColumns + ` FROM analysis_runs WHERE id = $1`
	run, err := scanRun(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, ErrNotFound
		}
		return Run{}, err
	}
	return run, nil
}

// List lists runs ordered newest-first.
func (r *PGRepo) List(ctx context.Context, limit, offset int) ([]Run, error) {
	limit, offset = clampPage(limit, offset)
	query := `SELECT ` + selectColumns + `
FROM analysis_runs
ORDER BY started_at DESC, id DESC
LIMIT $1 OFFSET $2`

	rows, err := r.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var status string
	var endedAt sql.NullTime
	var payload []byte
	if err := row.Scan(
		&run.ID,
		&run.Name,
		&status,
		&run.Algorithm,
		&run.EngineID,
		&run.RetryCount,
		&run.StartedAt,
		&endedAt,
		&payload,
		&run.UpdatedAt,
	); err != nil {
		return Run{}, err
	}
	run.Status = workflow.Status(status)
	if endedAt.Valid {
		t := endedAt.Time
		run.EndedAt = &t
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &run.Result); err != nil {
			return Run{}, fmt.Errorf("decode run %s: %w", run.ID, err)
		}
	}
	return run, nil
}

func (r *PGRepo) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

var _ Repo = (*PGRepo)(nil)
