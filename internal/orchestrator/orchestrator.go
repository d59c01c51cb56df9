// Package orchestrator drives generation jobs through their state machine:
// submit to the provider, poll with a bounded invalid-response budget,
// transfer the result into owned storage on completion, and record exactly
// one terminal outcome. Provider and transfer failures become terminal
// FAILED records; a job is never left PROCESSING once the provider has
// reported completion or the retry budget is spent.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"mediaforge/internal/domain"
	"mediaforge/internal/providers"
	"mediaforge/internal/transfer"
)

// MediaTransferrer is the slice of the transfer component the orchestrator
// needs.
type MediaTransferrer interface {
	Transfer(ctx context.Context, src transfer.Source, destPath string) (string, error)
}

// JobLocker guards against a duplicate driver for the same job.
type JobLocker interface {
	Acquire(ctx context.Context, jobID string) (bool, error)
	Release(ctx context.Context, jobID string)
}

// Config bounds the poll loop. The bounds are explicit so tests can
// exercise termination directly.
type Config struct {
	// PollInterval is the fixed wait between status polls.
	PollInterval time.Duration
	// MaxInvalidPolls is the number of consecutive invalid status
	// responses tolerated before the job fails. A valid response resets
	// the counter.
	MaxInvalidPolls int
	// RefreshAttempts bounds the transient-error retry inside a one-shot
	// status refresh.
	RefreshAttempts int
	// RefreshRetryDelay is the wait between refresh retry attempts.
	RefreshRetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.MaxInvalidPolls <= 0 {
		c.MaxInvalidPolls = 10
	}
	if c.RefreshAttempts <= 0 {
		c.RefreshAttempts = 3
	}
	if c.RefreshRetryDelay <= 0 {
		c.RefreshRetryDelay = time.Second
	}
	return c
}

// SubmitParams carries one generation request into the orchestrator.
type SubmitParams struct {
	OwnerID  string
	Kind     domain.JobKind
	Provider string
	Prompt   string
}

// Orchestrator owns the job state machine. All collaborators are injected
// once at construction; there is no process-wide state.
type Orchestrator struct {
	jobs    domain.JobRepository
	clients map[string]providers.Client
	media   MediaTransferrer
	locks   JobLocker
	cfg     Config
	logger  zerolog.Logger
}

// New constructs an Orchestrator. locks may be nil when duplicate-driver
// defense is not configured.
func New(jobs domain.JobRepository, clients []providers.Client, media MediaTransferrer, locks JobLocker, cfg Config, logger zerolog.Logger) *Orchestrator {
	byName := make(map[string]providers.Client, len(clients))
	for _, c := range clients {
		byName[c.Name()] = c
	}
	return &Orchestrator{
		jobs:    jobs,
		clients: byName,
		media:   media,
		locks:   locks,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// HasProvider reports whether a client is registered under name.
func (o *Orchestrator) HasProvider(name string) bool {
	_, ok := o.clients[name]
	return ok
}

// Run creates a job for params and drives it to a terminal state
// synchronously. Submission failure produces a terminal FAILED record (the
// job is kept for audit) and is also returned to the caller; every later
// failure is absorbed into the job record.
func (o *Orchestrator) Run(ctx context.Context, params SubmitParams) (*domain.Job, error) {
	if _, ok := o.clients[params.Provider]; !ok {
		return nil, fmt.Errorf("unknown provider %q", params.Provider)
	}
	job := &domain.Job{
		OwnerID:  params.OwnerID,
		Kind:     params.Kind,
		Provider: params.Provider,
		Prompt:   params.Prompt,
	}
	if err := o.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return o.Execute(ctx, job)
}

// Execute drives an existing job record to a terminal state. Re-invoking
// it for an already-terminal job is a no-op returning the stored record.
// When another driver holds the job's lock the current record is returned
// untouched.
func (o *Orchestrator) Execute(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	if job.Terminal() {
		return job, nil
	}

	if ok, err := o.acquire(ctx, job.ID); err != nil {
		return job, err
	} else if !ok {
		o.logger.Debug().Str("job_id", job.ID).Msg("orchestrator: job locked by another driver")
		return job, nil
	}
	defer o.release(ctx, job.ID)

	client, ok := o.clients[job.Provider]
	if !ok {
		err := fmt.Errorf("provider %q not configured", job.Provider)
		o.failJob(ctx, job, err.Error())
		return job, err
	}

	if job.ProviderTaskID == "" {
		taskID, err := client.Submit(ctx, job.Prompt)
		if err != nil {
			o.failJob(ctx, job, fmt.Sprintf("submit: %v", err))
			return job, err
		}
		if err := o.jobs.RecordTaskID(ctx, job.ID, taskID); err != nil {
			o.surface(job.ID, err)
			return job, err
		}
		job.ProviderTaskID = taskID
	}

	if job.Status == domain.JobStatusQueued {
		if err := o.jobs.UpdateStatus(ctx, job.ID, domain.JobStatusProcessing); err != nil {
			o.surface(job.ID, err)
			return job, err
		}
		job.Status = domain.JobStatusProcessing
	}

	return o.poll(ctx, job, client)
}

// poll is the suspend-and-resume loop: wait the fixed interval, poll once,
// dispatch on the normalized state. Cancellation is honored only at
// iteration boundaries.
func (o *Orchestrator) poll(ctx context.Context, job *domain.Job, client providers.Client) (*domain.Job, error) {
	invalid := 0
	for {
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-time.After(o.cfg.PollInterval):
		}

		status, err := client.PollStatus(ctx, job.ProviderTaskID)
		if err != nil {
			if ctx.Err() != nil {
				return job, ctx.Err()
			}
			// Malformed payloads and unreachable-provider polls both count
			// against the consecutive-invalid budget; any valid response
			// resets it. This caps total wait under a permanently
			// misbehaving provider.
			invalid++
			o.logger.Warn().Err(err).
				Str("job_id", job.ID).
				Int("attempt", invalid).
				Int("max", o.cfg.MaxInvalidPolls).
				Msg("orchestrator: invalid poll response")
			if invalid >= o.cfg.MaxInvalidPolls {
				reason := fmt.Sprintf("%v: unable to fetch task status after %d attempts", domain.ErrMaxRetriesExceeded, invalid)
				o.failJob(ctx, job, reason)
				return job, domain.ErrMaxRetriesExceeded
			}
			continue
		}
		invalid = 0

		switch status.State {
		case providers.StatePending:
			continue
		case providers.StateDone:
			return job, o.finalize(ctx, job, client, status.ResultHandle)
		case providers.StateError:
			o.failJob(ctx, job, status.Reason)
			return job, nil
		}
	}
}

// finalize transfers the completed result into owned storage and records
// the terminal outcome. A transfer failure fails the job: it must never
// stay PROCESSING after the provider reported completion.
func (o *Orchestrator) finalize(ctx context.Context, job *domain.Job, client providers.Client, handle string) error {
	src := transfer.SourceFunc(func(ctx context.Context) (io.ReadCloser, string, error) {
		return client.FetchResult(ctx, handle)
	})
	url, err := o.media.Transfer(ctx, src, job.StorageKey())
	if err != nil {
		o.failJob(ctx, job, fmt.Sprintf("transfer result: %v", err))
		return nil
	}

	if err := o.jobs.Complete(ctx, job.ID, url); err != nil {
		o.surface(job.ID, err)
		return err
	}
	job.Status = domain.JobStatusSuccess
	job.ResultURL = url
	now := time.Now()
	job.CompletedAt = &now
	o.logger.Info().Str("job_id", job.ID).Str("result_url", url).Msg("orchestrator: job succeeded")
	return nil
}

// Refresh opportunistically advances a PROCESSING job whose driving loop
// may have been interrupted: it polls once and finalizes on completion,
// otherwise the job is left unchanged. Transient provider unavailability is
// retried with an explicit bounded loop.
func (o *Orchestrator) Refresh(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		o.surface(jobID, err)
		return nil, err
	}
	if job.Terminal() || job.Status != domain.JobStatusProcessing || job.ProviderTaskID == "" {
		return job, nil
	}

	client, ok := o.clients[job.Provider]
	if !ok {
		return job, fmt.Errorf("provider %q not configured", job.Provider)
	}

	if ok, err := o.acquire(ctx, job.ID); err != nil {
		return job, err
	} else if !ok {
		return job, nil
	}
	defer o.release(ctx, job.ID)

	status, err := o.pollWithRetry(ctx, client, job.ProviderTaskID)
	if err != nil {
		// One-shot refresh never fails a job; the owning driver holds the
		// retry budget.
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("orchestrator: refresh poll failed")
		return job, nil
	}

	if status.State != providers.StateDone {
		return job, nil
	}
	if err := o.finalize(ctx, job, client, status.ResultHandle); err != nil {
		return job, err
	}
	return o.jobs.GetByID(ctx, job.ID)
}

// pollWithRetry wraps one status poll in a bounded retry over transient
// transport errors, with a fixed delay between attempts.
func (o *Orchestrator) pollWithRetry(ctx context.Context, client providers.Client, taskID string) (providers.TaskStatus, error) {
	var lastErr error
	for attempt := 0; attempt < o.cfg.RefreshAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return providers.TaskStatus{}, ctx.Err()
			case <-time.After(o.cfg.RefreshRetryDelay):
			}
		}
		status, err := client.PollStatus(ctx, taskID)
		if err == nil {
			return status, nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrProviderUnavailable) {
			break
		}
	}
	return providers.TaskStatus{}, lastErr
}

// failJob records the terminal FAILED state; it is the single sink for
// every failure path.
func (o *Orchestrator) failJob(ctx context.Context, job *domain.Job, reason string) {
	if err := o.jobs.Fail(ctx, job.ID, reason); err != nil {
		o.surface(job.ID, err)
		return
	}
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = reason
	now := time.Now()
	job.CompletedAt = &now
	o.logger.Info().Str("job_id", job.ID).Str("reason", reason).Msg("orchestrator: job failed")
}

func (o *Orchestrator) acquire(ctx context.Context, jobID string) (bool, error) {
	if o.locks == nil {
		return true, nil
	}
	return o.locks.Acquire(ctx, jobID)
}

func (o *Orchestrator) release(ctx context.Context, jobID string) {
	if o.locks == nil {
		return
	}
	o.locks.Release(ctx, jobID)
}

// surface logs broken-invariant errors loudly. ErrInvalidTransition and
// ErrNotFound here mean an orchestration bug, not a provider problem.
func (o *Orchestrator) surface(jobID string, err error) {
	if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
		o.logger.Error().Err(err).Str("job_id", jobID).Msg("orchestrator: broken job invariant")
		return
	}
	o.logger.Error().Err(err).Str("job_id", jobID).Msg("orchestrator: job store write failed")
}
