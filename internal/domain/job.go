package domain

import (
	"fmt"
	"time"
)

// JobKind enumerates supported generation job categories.
type JobKind string

const (
	JobKindImage JobKind = "IMAGE"
	JobKindVideo JobKind = "VIDEO"
)

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool {
	return k == JobKindImage || k == JobKindVideo
}

// FileExtension returns the result file extension for the kind.
func (k JobKind) FileExtension() string {
	if k == JobKindVideo {
		return ".mp4"
	}
	return ".png"
}

// JobStatus enumerates job lifecycle states. Transitions are monotonic:
// QUEUED -> PROCESSING -> SUCCESS | FAILED. Terminal states never change.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "QUEUED"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusSuccess    JobStatus = "SUCCESS"
	JobStatusFailed     JobStatus = "FAILED"
)

// Terminal reports whether s is a final state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailed
}

// Job tracks one user-initiated generation request through its lifecycle.
// ResultURL is set if and only if the status is SUCCESS; ErrorMessage is set
// if and only if the status is FAILED. ProviderTaskID is recorded once,
// immediately after the provider accepts the submission, and before any
// poll is attempted.
type Job struct {
	ID             string
	OwnerID        string
	Kind           JobKind
	Provider       string
	Prompt         string
	ProviderTaskID string
	Status         JobStatus
	ResultURL      string
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	return j.Status.Terminal()
}

// StorageKey returns the deterministic object path for the job's result
// media, derived from the owner and job ids so retried transfers for the
// same job overwrite rather than duplicate.
func (j *Job) StorageKey() string {
	return fmt.Sprintf("%s/jobs/%s%s", j.OwnerID, j.ID, j.Kind.FileExtension())
}
