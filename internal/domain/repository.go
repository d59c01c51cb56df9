package domain

import "context"

// JobRepository defines durable persistence for generation jobs. All writes
// are atomic per record: concurrent observers never see a partially-updated
// job (for example SUCCESS without a result URL). Status writes against an
// already-terminal record fail with ErrInvalidTransition.
type JobRepository interface {
	// Create persists a new job with status QUEUED, assigning its id and
	// creation timestamp.
	Create(ctx context.Context, job *Job) error
	// RecordTaskID stores the provider-assigned task id. It is the single
	// allowed pre-poll mutation and may happen only once.
	RecordTaskID(ctx context.Context, jobID, taskID string) error
	// UpdateStatus moves a non-terminal job to a new non-terminal status.
	UpdateStatus(ctx context.Context, jobID string, status JobStatus) error
	// Complete atomically sets SUCCESS, the result URL, and the completion
	// timestamp.
	Complete(ctx context.Context, jobID, resultURL string) error
	// Fail atomically sets FAILED, the failure reason, and the completion
	// timestamp.
	Fail(ctx context.Context, jobID, reason string) error
	// GetByID fetches a job, failing with ErrNotFound if absent.
	GetByID(ctx context.Context, jobID string) (*Job, error)
	// GetForOwner fetches a job scoped to its owning user.
	GetForOwner(ctx context.Context, ownerID, jobID string) (*Job, error)
	// ListByOwner returns the owner's jobs, newest first.
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]Job, error)
	// Claim atomically moves the oldest QUEUED job to PROCESSING and
	// returns it, or ErrNotFound when no job is ready.
	Claim(ctx context.Context) (*Job, error)
	// Delete removes a job record scoped to its owning user.
	Delete(ctx context.Context, ownerID, jobID string) error
}
