// Package providers defines the outbound contract against external
// generative-media APIs. Clients are pure I/O adapters: they normalize
// provider responses and perform no retries; retry policy belongs to the
// orchestrator.
package providers

import (
	"context"
	"errors"
	"io"
)

// TaskState is provider-reported progress normalized into a closed set.
type TaskState string

const (
	StatePending TaskState = "pending"
	StateDone    TaskState = "done"
	StateError   TaskState = "error"
)

// TaskStatus is the result of one status poll. ResultHandle is set when
// State is StateDone; Reason is set when State is StateError.
type TaskStatus struct {
	State        TaskState
	ResultHandle string
	Reason       string
}

// ErrMalformedStatus indicates a status payload that could not be
// normalized. Callers treat it as "not yet" rather than a failure, but
// count consecutive occurrences so a permanently misbehaving provider
// still terminates the job.
var ErrMalformedStatus = errors.New("malformed status payload")

// Client is implemented once per external generation API.
type Client interface {
	// Name identifies the provider in job records and configuration.
	Name() string
	// Submit sends the generation request and returns the provider's task
	// id. Fails with domain.ErrProviderUnavailable when the network call
	// does not complete, or domain.ErrProviderRejected when the provider
	// returns a non-success response with a machine-readable reason.
	Submit(ctx context.Context, prompt string) (string, error)
	// PollStatus retrieves and normalizes the task's progress. An
	// unparseable or partially-absent payload fails with
	// ErrMalformedStatus, never with a terminal error.
	PollStatus(ctx context.Context, taskID string) (TaskStatus, error)
	// FetchResult opens a stream over the completed result identified by
	// handle, returning the body and its content type. Fails with
	// domain.ErrResultUnavailable if the download URL cannot be resolved
	// or the download itself fails.
	FetchResult(ctx context.Context, handle string) (io.ReadCloser, string, error)
}
