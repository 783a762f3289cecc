package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/adfharrison1/go-batch/pkg/domain"
)

// Executor runs the chunked mutation loop for one job at a time. It holds no
// per-job state: everything it needs is re-read from the job store.
type Executor struct {
	jobs    domain.JobStore
	mutator ChunkMutator
	logger  zerolog.Logger
}

// NewExecutor creates an executor
func NewExecutor(jobs domain.JobStore, mutator ChunkMutator, logger zerolog.Logger) *Executor {
	return &Executor{jobs: jobs, mutator: mutator, logger: logger}
}

// Run drives job id to COMPLETED, FAILED or CANCELLED. If ctx is cancelled the
// loop stops at the next chunk boundary and leaves the job resumable.
func (e *Executor) Run(ctx context.Context, id uuid.UUID) error {
	log := e.logger.With().Str("job_id", id.String()).Logger()

	job, err := e.jobs.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}

	switch job.Status {
	case domain.JobStatusCancelled:
		log.Info().Msg("Job cancelled before pickup")
		return nil
	case domain.JobStatusCompleted, domain.JobStatusFailed:
		log.Debug().Str("status", string(job.Status)).Msg("Job already finished")
		return nil
	case domain.JobStatusPending:
		if _, err := e.jobs.UpdateJob(ctx, id, domain.StatusUpdate(domain.JobStatusInProgress)); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				log.Info().Msg("Job cancelled before pickup")
				return nil
			}
			return fmt.Errorf("failed to start job: %w", err)
		}
		log.Info().
			Str("job_type", string(job.Type)).
			Int("total_count", job.TotalCount).
			Msg("Job started")
	case domain.JobStatusInProgress:
		log.Info().Int("processed_count", job.ProcessedCount).Msg("Resuming job")
	}

	total := job.TotalCount
	size := ChunkSize(total)

	for offset := job.ProcessedCount; offset < total; offset += size {
		if err := ctx.Err(); err != nil {
			log.Info().Int("processed_count", offset).Msg("Job interrupted by shutdown")
			return err
		}

		current, err := e.jobs.GetJob(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				log.Warn().Msg("Job removed while running")
				return nil
			}
			return fmt.Errorf("failed to reload job: %w", err)
		}
		if current.Status != domain.JobStatusInProgress {
			log.Info().
				Str("status", string(current.Status)).
				Int("processed_count", current.ProcessedCount).
				Msg("Job stopped at chunk boundary")
			return nil
		}

		start, end := chunkBounds(offset, size, total)
		if err := e.applyChunk(ctx, job, job.EntityIDs[start:end]); err != nil {
			if ctx.Err() != nil {
				log.Info().Int("processed_count", offset).Msg("Job interrupted by shutdown")
				return ctx.Err()
			}
			e.fail(ctx, log, id, err)
			return nil
		}

		if _, err := e.jobs.UpdateJob(ctx, id, domain.ProgressUpdate(end)); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				log.Warn().Msg("Job removed while running")
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.fail(ctx, log, id, fmt.Errorf("failed to record progress: %w", err))
			return nil
		}
	}

	completed := domain.JobStatusCompleted
	final := domain.JobUpdate{Status: &completed, ProcessedCount: &total}
	if _, err := e.jobs.UpdateJob(ctx, id, final); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
			log.Info().Msg("Job cancelled after its last chunk")
			return nil
		}
		return fmt.Errorf("failed to complete job: %w", err)
	}

	log.Info().Int("processed_count", total).Msg("Job completed")
	return nil
}

// applyChunk converts a panic inside the mutator into an error
func (e *Executor) applyChunk(ctx context.Context, job *domain.BatchJob, ids []int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing chunk: %v", r)
		}
	}()
	return e.mutator.ApplyChunk(ctx, job, ids)
}

// fail records cause as the job's error. A job cancelled concurrently stays CANCELLED.
func (e *Executor) fail(ctx context.Context, log zerolog.Logger, id uuid.UUID, cause error) {
	log.Error().Err(cause).Msg("Job failed")
	if _, err := e.jobs.UpdateJob(ctx, id, domain.FailureUpdate(cause.Error())); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return
		}
		log.Error().Err(err).Msg("Failed to record job failure")
	}
}
