package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediaforge/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL. Every
// status write is a single compare-and-set statement guarded on the
// current status, so a duplicate driver can never overwrite a terminal
// record or produce a partially-updated row.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

const jobFields = `id, owner_id, kind, provider, prompt, provider_task_id, status, result_url, error_message, created_at, updated_at, completed_at`

// Create inserts a new job record with status QUEUED, assigning its id.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = domain.JobStatusQueued
	query := `
INSERT INTO jobs (id, owner_id, kind, provider, prompt, status)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at, updated_at;
`
	row := r.pool.QueryRow(ctx, query,
		job.ID,
		job.OwnerID,
		job.Kind,
		job.Provider,
		job.Prompt,
		job.Status,
	)
	if err := row.Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// RecordTaskID stores the provider task id. It succeeds only once, while
// the task id is still unset and the job is non-terminal.
func (r *JobRepositoryPG) RecordTaskID(ctx context.Context, jobID, taskID string) error {
	query := `
UPDATE jobs
SET provider_task_id = $2,
    updated_at = NOW()
WHERE id = $1
  AND provider_task_id = ''
  AND status IN ('QUEUED', 'PROCESSING');
`
	tag, err := r.pool.Exec(ctx, query, jobID, taskID)
	if err != nil {
		return fmt.Errorf("record task id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.resolveWriteConflict(ctx, jobID)
	}
	return nil
}

// UpdateStatus moves a non-terminal job to a new status. Attempts against
// an already-terminal job fail with domain.ErrInvalidTransition.
func (r *JobRepositoryPG) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	query := `
UPDATE jobs
SET status = $2,
    updated_at = NOW()
WHERE id = $1
  AND status IN ('QUEUED', 'PROCESSING');
`
	tag, err := r.pool.Exec(ctx, query, jobID, status)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.resolveWriteConflict(ctx, jobID)
	}
	return nil
}

// Complete atomically records the terminal SUCCESS state together with the
// stable result URL and the completion timestamp.
func (r *JobRepositoryPG) Complete(ctx context.Context, jobID, resultURL string) error {
	query := `
UPDATE jobs
SET status = 'SUCCESS',
    result_url = $2,
    updated_at = NOW(),
    completed_at = NOW()
WHERE id = $1
  AND status IN ('QUEUED', 'PROCESSING');
`
	tag, err := r.pool.Exec(ctx, query, jobID, resultURL)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.resolveWriteConflict(ctx, jobID)
	}
	return nil
}

// Fail atomically records the terminal FAILED state together with the
// failure reason and the completion timestamp.
func (r *JobRepositoryPG) Fail(ctx context.Context, jobID, reason string) error {
	query := `
UPDATE jobs
SET status = 'FAILED',
    error_message = $2,
    updated_at = NOW(),
    completed_at = NOW()
WHERE id = $1
  AND status IN ('QUEUED', 'PROCESSING');
`
	tag, err := r.pool.Exec(ctx, query, jobID, reason)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.resolveWriteConflict(ctx, jobID)
	}
	return nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1;`, jobFields)
	return r.scanJob(r.pool.QueryRow(ctx, query, jobID))
}

// GetForOwner fetches a job scoped to its owning user.
func (r *JobRepositoryPG) GetForOwner(ctx context.Context, ownerID, jobID string) (*domain.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1 AND owner_id = $2;`, jobFields)
	return r.scanJob(r.pool.QueryRow(ctx, query, jobID, ownerID))
}

// ListByOwner returns the owner's jobs, newest first.
func (r *JobRepositoryPG) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
SELECT %s
FROM jobs
WHERE owner_id = $1
ORDER BY created_at DESC
LIMIT $2;
`, jobFields)
	rows, err := r.pool.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// Claim atomically moves the oldest QUEUED job to PROCESSING and returns
// it. SKIP LOCKED keeps concurrent workers from claiming the same row.
func (r *JobRepositoryPG) Claim(ctx context.Context) (*domain.Job, error) {
	query := fmt.Sprintf(`
UPDATE jobs
SET status = 'PROCESSING',
    updated_at = NOW()
WHERE id = (
	SELECT id FROM jobs
	WHERE status = 'QUEUED'
	ORDER BY created_at
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING %s;
`, jobFields)
	return r.scanJob(r.pool.QueryRow(ctx, query))
}

// Delete removes a job record scoped to its owning user.
func (r *JobRepositoryPG) Delete(ctx context.Context, ownerID, jobID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1 AND owner_id = $2;`, jobID, ownerID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// resolveWriteConflict distinguishes a missing job from a rejected write
// against a terminal record.
func (r *JobRepositoryPG) resolveWriteConflict(ctx context.Context, jobID string) error {
	if _, err := r.GetByID(ctx, jobID); err != nil {
		return err
	}
	return domain.ErrInvalidTransition
}

func (r *JobRepositoryPG) scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var completedAt *time.Time
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.Kind,
		&job.Provider,
		&job.Prompt,
		&job.ProviderTaskID,
		&job.Status,
		&job.ResultURL,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
		&completedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	job.CompletedAt = completedAt
	return &job, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
