package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobType identifies which membership mutation a job applies
type JobType string

const (
	JobTypeAdd    JobType = "ADD"
	JobTypeDelete JobType = "DELETE"
)

// Valid reports whether t is a known job type
func (t JobType) Valid() bool {
	return t == JobTypeAdd || t == JobTypeDelete
}

// JobStatus is the lifecycle state of a batch job
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

// IsTerminal reports whether no further transitions are possible from s
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusInProgress, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next follows the job state machine:
// PENDING -> IN_PROGRESS -> {COMPLETED, FAILED, CANCELLED}, and PENDING -> CANCELLED.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusInProgress || next == JobStatusCancelled
	case JobStatusInProgress:
		return next == JobStatusCompleted || next == JobStatusFailed || next == JobStatusCancelled
	}
	return false
}

// BatchJob is a tracked asynchronous bulk membership change
type BatchJob struct {
	ID                 uuid.UUID  `json:"job_id"`
	Type               JobType    `json:"job_type"`
	SourceCollectionID uuid.UUID  `json:"source_collection_id"`
	TargetCollectionID *uuid.UUID `json:"target_collection_id,omitempty"`
	EntityIDs          []int64    `json:"-"`
	TotalCount         int        `json:"total_count"`
	ProcessedCount     int        `json:"processed_count"`
	Status             JobStatus  `json:"status"`
	ErrorMessage       *string    `json:"error_message,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// NewAddJob builds a PENDING job that adds ids to target.
func NewAddJob(source, target uuid.UUID, ids []int64) *BatchJob {
	t := target
	return newJob(JobTypeAdd, source, &t, ids)
}

// NewDeleteJob builds a PENDING job that removes ids from collection.
func NewDeleteJob(collection uuid.UUID, ids []int64) *BatchJob {
	return newJob(JobTypeDelete, collection, nil, ids)
}

func newJob(jobType JobType, source uuid.UUID, target *uuid.UUID, ids []int64) *BatchJob {
	now := time.Now().UTC()
	owned := make([]int64, len(ids))
	copy(owned, ids)
	return &BatchJob{
		ID:                 uuid.New(),
		Type:               jobType,
		SourceCollectionID: source,
		TargetCollectionID: target,
		EntityIDs:          owned,
		TotalCount:         len(owned),
		ProcessedCount:     0,
		Status:             JobStatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// MutationCollection returns the collection whose associations the job changes:
// the target for ADD jobs and the source for DELETE jobs.
func (j *BatchJob) MutationCollection() uuid.UUID {
	if j.Type == JobTypeAdd && j.TargetCollectionID != nil {
		return *j.TargetCollectionID
	}
	return j.SourceCollectionID
}

// References reports whether the job names collectionID as source or target
func (j *BatchJob) References(collectionID uuid.UUID) bool {
	if j.SourceCollectionID == collectionID {
		return true
	}
	return j.TargetCollectionID != nil && *j.TargetCollectionID == collectionID
}

// Validate checks the structural invariants of a job record
func (j *BatchJob) Validate() error {
	if !j.Type.Valid() {
		return &ValidationError{Field: "job_type", Reason: fmt.Sprintf("unknown job type %q", j.Type)}
	}
	if !j.Status.Valid() {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", j.Status)}
	}
	switch j.Type {
	case JobTypeAdd:
		if j.TargetCollectionID == nil {
			return &ValidationError{Field: "target_collection_id", Reason: "required for ADD jobs"}
		}
		if *j.TargetCollectionID == j.SourceCollectionID {
			return &ValidationError{Field: "target_collection_id", Reason: "must differ from source_collection_id"}
		}
	case JobTypeDelete:
		if j.TargetCollectionID != nil {
			return &ValidationError{Field: "target_collection_id", Reason: "must be absent for DELETE jobs"}
		}
	}
	if j.TotalCount != len(j.EntityIDs) {
		return &ValidationError{Field: "total_count", Reason: "does not match identifier list length"}
	}
	if j.ProcessedCount < 0 || j.ProcessedCount > j.TotalCount {
		return &ValidationError{Field: "processed_count", Reason: "out of range"}
	}
	return nil
}

// Clone returns a deep copy so callers never alias a store's record
func (j *BatchJob) Clone() *BatchJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.TargetCollectionID != nil {
		t := *j.TargetCollectionID
		c.TargetCollectionID = &t
	}
	if j.ErrorMessage != nil {
		m := *j.ErrorMessage
		c.ErrorMessage = &m
	}
	c.EntityIDs = make([]int64, len(j.EntityIDs))
	copy(c.EntityIDs, j.EntityIDs)
	return &c
}

// JobUpdate is a partial update of the mutable job fields. Nil fields are left untouched.
type JobUpdate struct {
	Status         *JobStatus
	ProcessedCount *int
	ErrorMessage   *string
}

// StatusUpdate builds an update that only changes the status
func StatusUpdate(status JobStatus) JobUpdate {
	return JobUpdate{Status: &status}
}

// ProgressUpdate builds an update that only changes processed_count
func ProgressUpdate(processed int) JobUpdate {
	return JobUpdate{ProcessedCount: &processed}
}

// FailureUpdate marks a job FAILED with message
func FailureUpdate(message string) JobUpdate {
	status := JobStatusFailed
	return JobUpdate{Status: &status, ErrorMessage: &message}
}

// Apply validates the update against the current record and mutates job in place.
// Every store funnels writes through Apply so the state machine and progress
// invariants hold regardless of backend.
func (u JobUpdate) Apply(job *BatchJob, now time.Time) error {
	if u.Status != nil && *u.Status != job.Status {
		if !job.Status.CanTransitionTo(*u.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, *u.Status)
		}
	}
	if u.ProcessedCount != nil {
		p := *u.ProcessedCount
		if p < job.ProcessedCount {
			return &ValidationError{Field: "processed_count", Reason: fmt.Sprintf("cannot decrease from %d to %d", job.ProcessedCount, p)}
		}
		if p > job.TotalCount {
			return &ValidationError{Field: "processed_count", Reason: fmt.Sprintf("%d exceeds total_count %d", p, job.TotalCount)}
		}
	}

	if u.Status != nil {
		job.Status = *u.Status
	}
	if u.ProcessedCount != nil {
		job.ProcessedCount = *u.ProcessedCount
	}
	if u.ErrorMessage != nil {
		m := *u.ErrorMessage
		job.ErrorMessage = &m
	}
	job.UpdatedAt = now.UTC()
	return nil
}

// Cancel flips a non-terminal job to CANCELLED, or fails with ErrConflict.
func Cancel(job *BatchJob, now time.Time) error {
	if job.Status.IsTerminal() {
		return fmt.Errorf("%w: job %s is already %s", ErrConflict, job.ID, job.Status)
	}
	return StatusUpdate(JobStatusCancelled).Apply(job, now)
}
