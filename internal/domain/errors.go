package domain

import "errors"

var (
	// ErrNotFound indicates the referenced job does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition indicates a write against an already-terminal
	// job record. It signals an orchestration bug and is never swallowed.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrProviderUnavailable indicates the provider network call did not
	// complete.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrProviderRejected indicates the provider returned a non-success
	// response with a machine-readable reason.
	ErrProviderRejected = errors.New("provider rejected request")
	// ErrResultUnavailable indicates a completed result could not be
	// resolved or downloaded from the provider.
	ErrResultUnavailable = errors.New("result unavailable")
	// ErrTransferFailed indicates the download or re-upload of a result
	// into owned storage failed.
	ErrTransferFailed = errors.New("media transfer failed")
	// ErrMaxRetriesExceeded indicates the poll loop gave up after the
	// configured bound of consecutive invalid provider responses.
	ErrMaxRetriesExceeded = errors.New("max retries reached")
)
