package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/adfharrison1/go-batch/pkg/domain"
)

// JobRunner executes a single job to a stopping point
type JobRunner interface {
	Run(ctx context.Context, id uuid.UUID) error
}

// Dispatcher hands job ids to independently scheduled executors. Only the id
// crosses over; executors read everything else from the job store.
type Dispatcher struct {
	runner JobRunner
	jobs   domain.JobStore
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	mu       sync.Mutex
	closed   bool
	inFlight atomic.Int64
}

// NewDispatcher creates a dispatcher whose executors run until Shutdown
func NewDispatcher(runner JobRunner, jobs domain.JobStore, logger zerolog.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		runner: runner,
		jobs:   jobs,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Dispatch schedules id and returns immediately. After Shutdown the job is left
// in the store for Resume on the next start.
func (d *Dispatcher) Dispatch(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		d.logger.Warn().Str("job_id", id.String()).Msg("Dispatcher closed, job left for resume")
		return
	}

	d.inFlight.Add(1)
	d.group.Go(func() error {
		defer d.inFlight.Add(-1)
		if err := d.runner.Run(d.ctx, id); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error().Err(err).Str("job_id", id.String()).Msg("Job execution error")
		}
		return nil
	})
}

// Resume re-dispatches every PENDING or IN_PROGRESS job found in the store
func (d *Dispatcher) Resume(ctx context.Context) (int, error) {
	jobs, err := d.jobs.ListJobsByStatus(ctx, domain.JobStatusPending, domain.JobStatusInProgress)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		d.Dispatch(job.ID)
	}
	if len(jobs) > 0 {
		d.logger.Info().Int("jobs", len(jobs)).Msg("Resumed unfinished jobs")
	}
	return len(jobs), nil
}

// InFlight returns the number of executors currently running
func (d *Dispatcher) InFlight() int64 {
	return d.inFlight.Load()
}

// Wait blocks until every dispatched executor has returned
func (d *Dispatcher) Wait() error {
	return d.group.Wait()
}

// Shutdown stops accepting jobs, asks executors to stop at their next chunk
// boundary and waits for them or for ctx to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info().Msg("All executors stopped")
		return nil
	case <-ctx.Done():
		d.logger.Warn().Int64("in_flight", d.InFlight()).Msg("Timed out waiting for executors")
		return ctx.Err()
	}
}
