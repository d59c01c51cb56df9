// Package worker runs the background pool that claims queued jobs from the
// store and drives each one through the orchestrator, decoupling job
// progress from any inbound request lifecycle.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mediaforge/internal/domain"
	"mediaforge/internal/orchestrator"
)

// Pool claims and executes queued jobs with a fixed number of concurrent
// drivers. Jobs are independent; each driver owns exactly one job at a
// time.
type Pool struct {
	jobs        domain.JobRepository
	orch        *orchestrator.Orchestrator
	concurrency int
	idleWait    time.Duration
	logger      zerolog.Logger
}

// New creates a worker pool.
func New(jobs domain.JobRepository, orch *orchestrator.Orchestrator, concurrency int, idleWait time.Duration, logger zerolog.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if idleWait <= 0 {
		idleWait = 2 * time.Second
	}
	return &Pool{
		jobs:        jobs,
		orch:        orch,
		concurrency: concurrency,
		idleWait:    idleWait,
		logger:      logger,
	}
}

// Run blocks, claiming and executing jobs until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info().Int("concurrency", p.concurrency).Msg("worker: started")
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		g.Go(func() error { return p.loop(ctx) })
	}
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job, err := p.jobs.Claim(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				p.idle(ctx)
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Error().Err(err).Msg("worker: failed to claim job")
			p.idle(ctx)
			continue
		}

		p.handle(ctx, job)
	}
}

func (p *Pool) handle(ctx context.Context, job *domain.Job) {
	p.logger.Info().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Str("provider", job.Provider).
		Msg("worker: picked job")

	if _, err := p.orch.Execute(ctx, job); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: job execution failed")
	}
}

func (p *Pool) idle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.idleWait):
	}
}
