package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/visibility-gap/internal/types"
)

// -----------------------------------------------------------------------------
// Analysis Job Methods
// -----------------------------------------------------------------------------

const jobColumns = `id, project_id, kind, status, progress, external_job_id, external_run_id,
	error_message, failure_kind, step_info, created_at, started_at, finished_at`

// SaveJob inserts or updates an analysis job snapshot.
func (db *DB) SaveJob(ctx context.Context, job types.AnalysisJob) error {
	id, err := uuid.Parse(job.ID)
	if err != nil {
		return fmt.Errorf("invalid job id %q: %w", job.ID, err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO analysis_jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO UPDATE SET
		     status = EXCLUDED.status,
		     progress = EXCLUDED.progress,
		     external_job_id = EXCLUDED.external_job_id,
		     external_run_id = EXCLUDED.external_run_id,
		     error_message = EXCLUDED.error_message,
		     failure_kind = EXCLUDED.failure_kind,
		     step_info = EXCLUDED.step_info,
		     started_at = EXCLUDED.started_at,
		     finished_at = EXCLUDED.finished_at,
		     updated_at = NOW()`,
		id, job.ProjectID, string(job.Kind), string(job.Status), job.Progress,
		nullable(job.ExternalJobID), nullable(job.ExternalRunID), nullable(job.Error),
		nullable(job.FailureKind), nullable(job.StepInfo), job.CreatedAt, job.StartedAt, job.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by id.
func (db *DB) GetJob(ctx context.Context, id string) (*types.AnalysisJob, error) {
	jobID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}
	row := db.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM analysis_jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs returns a project's jobs oldest first.
func (db *DB) ListJobs(ctx context.Context, projectID string) ([]types.AnalysisJob, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM analysis_jobs WHERE project_id = $1 ORDER BY created_at, id`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []types.AnalysisJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// HasCompletedRun reports whether the project has a completed job of the given phase.
func (db *DB) HasCompletedRun(ctx context.Context, projectID string, kind types.PhaseKind) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM analysis_jobs WHERE project_id = $1 AND kind = $2 AND status = 'completed')`,
		projectID, string(kind),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check completed runs: %w", err)
	}
	return exists, nil
}

// LatestCitationRunID returns the run of the project's most recent completed citation job.
func (db *DB) LatestCitationRunID(ctx context.Context, projectID string) (string, error) {
	var runID *string
	err := db.pool.QueryRow(ctx,
		`SELECT external_run_id FROM analysis_jobs
		 WHERE project_id = $1 AND kind = 'citation' AND status = 'completed'
		 ORDER BY finished_at DESC NULLS LAST, created_at DESC
		 LIMIT 1`,
		projectID,
	).Scan(&runID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get latest citation run: %w", err)
	}
	if runID == nil {
		return "", ErrNotFound
	}
	return *runID, nil
}

func scanJob(row pgx.Row) (*types.AnalysisJob, error) {
	var job types.AnalysisJob
	var id uuid.UUID
	var kind, status string
	var externalJobID, externalRunID, errMsg, failure, stepInfo *string
	err := row.Scan(&id, &job.ProjectID, &kind, &status, &job.Progress, &externalJobID, &externalRunID,
		&errMsg, &failure, &stepInfo, &job.CreatedAt, &job.StartedAt, &job.FinishedAt)
	if err != nil {
		return nil, err
	}
	job.ID = id.String()
	job.Kind = types.PhaseKind(kind)
	job.Status = types.JobStatus(status)
	job.ExternalJobID = deref(externalJobID)
	job.ExternalRunID = deref(externalRunID)
	job.Error = deref(errMsg)
	job.FailureKind = deref(failure)
	job.StepInfo = deref(stepInfo)
	return &job, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
