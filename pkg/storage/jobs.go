package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/adfharrison1/go-batch/pkg/domain"
)

// CreateJob stores a new job record
func (se *StorageEngine) CreateJob(ctx context.Context, job *domain.BatchJob) error {
	if err := job.Validate(); err != nil {
		return err
	}

	se.jobsMu.Lock()
	defer se.jobsMu.Unlock()

	if _, exists := se.jobs[job.ID]; exists {
		return fmt.Errorf("%w: job %s already exists", domain.ErrConflict, job.ID)
	}
	se.jobs[job.ID] = job.Clone()
	se.jobIdx.Insert(job)
	se.markDirty()
	return nil
}

// GetJob returns a copy of the latest committed job record
func (se *StorageEngine) GetJob(ctx context.Context, id uuid.UUID) (*domain.BatchJob, error) {
	se.jobsMu.RLock()
	defer se.jobsMu.RUnlock()

	job, exists := se.jobs[id]
	if !exists {
		return nil, domain.JobNotFound(id)
	}
	return job.Clone(), nil
}

// UpdateJob applies a partial update under the jobs lock
func (se *StorageEngine) UpdateJob(ctx context.Context, id uuid.UUID, update domain.JobUpdate) (*domain.BatchJob, error) {
	return se.mutateJob(id, func(job *domain.BatchJob, now time.Time) error {
		return update.Apply(job, now)
	})
}

// CancelJob flips a PENDING or IN_PROGRESS job to CANCELLED
func (se *StorageEngine) CancelJob(ctx context.Context, id uuid.UUID) (*domain.BatchJob, error) {
	return se.mutateJob(id, domain.Cancel)
}

// mutateJob runs fn against a working copy and commits it only when fn succeeds
func (se *StorageEngine) mutateJob(id uuid.UUID, fn func(*domain.BatchJob, time.Time) error) (*domain.BatchJob, error) {
	se.jobsMu.Lock()
	defer se.jobsMu.Unlock()

	current, exists := se.jobs[id]
	if !exists {
		return nil, domain.JobNotFound(id)
	}

	working := current.Clone()
	if err := fn(working, time.Now()); err != nil {
		return nil, err
	}
	se.jobs[id] = working
	se.jobIdx.Update(current, working)
	se.markDirty()
	return working.Clone(), nil
}

// ListJobsByStatus returns jobs in any of the given statuses, oldest first.
// No statuses means every job.
func (se *StorageEngine) ListJobsByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.BatchJob, error) {
	se.jobsMu.RLock()
	var result []*domain.BatchJob
	if len(statuses) == 0 {
		for _, job := range se.jobs {
			result = append(result, job.Clone())
		}
	} else {
		for _, id := range se.jobIdx.ByStatus(statuses...) {
			result = append(result, se.jobs[id].Clone())
		}
	}
	se.jobsMu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}
