// Package indexing keeps inverted indexes over batch jobs so the memory store
// can list jobs by status and find the jobs touching a collection without
// scanning every record.
package indexing

import (
	"github.com/google/uuid"

	"github.com/adfharrison1/go-batch/pkg/domain"
)

// Index stores a mapping from a field's value to job IDs.
type Index struct {
	Field    string
	Inverted map[interface{}]map[uuid.UUID]struct{}
}

// NewIndex creates an index on a specific field.
func NewIndex(field string) *Index {
	return &Index{
		Field:    field,
		Inverted: make(map[interface{}]map[uuid.UUID]struct{}),
	}
}

// Add records id under value
func (idx *Index) Add(value interface{}, id uuid.UUID) {
	ids, ok := idx.Inverted[value]
	if !ok {
		ids = make(map[uuid.UUID]struct{})
		idx.Inverted[value] = ids
	}
	ids[id] = struct{}{}
}

// Remove drops id from value, pruning empty entries
func (idx *Index) Remove(value interface{}, id uuid.UUID) {
	ids, ok := idx.Inverted[value]
	if !ok {
		return
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(idx.Inverted, value)
	}
}

// Query returns the job IDs that match a given value in the indexed field.
func (idx *Index) Query(value interface{}) []uuid.UUID {
	ids := idx.Inverted[value]
	if len(ids) == 0 {
		return nil
	}
	result := make([]uuid.UUID, 0, len(ids))
	for id := range ids {
		result = append(result, id)
	}
	return result
}

// Count returns how many jobs carry value
func (idx *Index) Count(value interface{}) int {
	return len(idx.Inverted[value])
}

// JobIndex indexes jobs by status and by every collection they reference.
// It is not safe for concurrent use; callers hold their own lock.
type JobIndex struct {
	byStatus     *Index
	byCollection *Index
}

// NewJobIndex creates an empty job index
func NewJobIndex() *JobIndex {
	return &JobIndex{
		byStatus:     NewIndex("status"),
		byCollection: NewIndex("collection_id"),
	}
}

// Insert indexes a new job
func (ji *JobIndex) Insert(job *domain.BatchJob) {
	ji.byStatus.Add(job.Status, job.ID)
	for _, c := range collectionsOf(job) {
		ji.byCollection.Add(c, job.ID)
	}
}

// Update moves a job between status entries. Collection references never change.
func (ji *JobIndex) Update(oldJob, newJob *domain.BatchJob) {
	if oldJob.Status == newJob.Status {
		return
	}
	ji.byStatus.Remove(oldJob.Status, oldJob.ID)
	ji.byStatus.Add(newJob.Status, newJob.ID)
}

// Remove drops every entry for job
func (ji *JobIndex) Remove(job *domain.BatchJob) {
	ji.byStatus.Remove(job.Status, job.ID)
	for _, c := range collectionsOf(job) {
		ji.byCollection.Remove(c, job.ID)
	}
}

// ByStatus returns the IDs of jobs in any of statuses
func (ji *JobIndex) ByStatus(statuses ...domain.JobStatus) []uuid.UUID {
	var ids []uuid.UUID
	for _, s := range statuses {
		ids = append(ids, ji.byStatus.Query(s)...)
	}
	return ids
}

// ByCollection returns the IDs of jobs using collectionID as source or target
func (ji *JobIndex) ByCollection(collectionID uuid.UUID) []uuid.UUID {
	return ji.byCollection.Query(collectionID)
}

// CountByStatus returns the number of jobs per status, for stats
func (ji *JobIndex) CountByStatus() map[string]int {
	counts := make(map[string]int, len(ji.byStatus.Inverted))
	for value, ids := range ji.byStatus.Inverted {
		counts[string(value.(domain.JobStatus))] = len(ids)
	}
	return counts
}

// Rebuild replaces the index contents with jobs
func (ji *JobIndex) Rebuild(jobs map[uuid.UUID]*domain.BatchJob) {
	ji.byStatus = NewIndex("status")
	ji.byCollection = NewIndex("collection_id")
	for _, job := range jobs {
		ji.Insert(job)
	}
}

func collectionsOf(job *domain.BatchJob) []uuid.UUID {
	if job.TargetCollectionID == nil || *job.TargetCollectionID == job.SourceCollectionID {
		return []uuid.UUID{job.SourceCollectionID}
	}
	return []uuid.UUID{job.SourceCollectionID, *job.TargetCollectionID}
}
