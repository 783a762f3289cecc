package indexing_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adfharrison1/go-batch/pkg/domain"
	"github.com/adfharrison1/go-batch/pkg/indexing"
)

func TestIndex_AddRemoveQuery(t *testing.T) {
	idx := indexing.NewIndex("status")
	a, b := uuid.New(), uuid.New()

	idx.Add("PENDING", a)
	idx.Add("PENDING", b)
	idx.Add("PENDING", a)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, idx.Query("PENDING"))
	assert.Equal(t, 2, idx.Count("PENDING"))

	idx.Remove("PENDING", a)
	assert.Equal(t, []uuid.UUID{b}, idx.Query("PENDING"))

	idx.Remove("PENDING", b)
	assert.Nil(t, idx.Query("PENDING"))
	assert.NotContains(t, idx.Inverted, "PENDING", "empty entries are pruned")

	// Removing from a missing entry is a no-op
	idx.Remove("COMPLETED", a)
	assert.Equal(t, 0, idx.Count("COMPLETED"))
}

func TestJobIndex_StatusTransitions(t *testing.T) {
	ji := indexing.NewJobIndex()
	source, target := uuid.New(), uuid.New()

	job := domain.NewAddJob(source, target, []int64{1, 2})
	other := domain.NewDeleteJob(target, []int64{3})
	ji.Insert(job)
	ji.Insert(other)

	assert.ElementsMatch(t, []uuid.UUID{job.ID, other.ID}, ji.ByStatus(domain.JobStatusPending))

	running := job.Clone()
	running.Status = domain.JobStatusInProgress
	ji.Update(job, running)

	assert.Equal(t, []uuid.UUID{other.ID}, ji.ByStatus(domain.JobStatusPending))
	assert.Equal(t, []uuid.UUID{job.ID}, ji.ByStatus(domain.JobStatusInProgress))
	assert.ElementsMatch(t, []uuid.UUID{job.ID, other.ID},
		ji.ByStatus(domain.JobStatusPending, domain.JobStatusInProgress))
	assert.Empty(t, ji.ByStatus(domain.JobStatusCompleted))

	assert.Equal(t, map[string]int{"PENDING": 1, "IN_PROGRESS": 1}, ji.CountByStatus())
}

func TestJobIndex_ByCollection(t *testing.T) {
	ji := indexing.NewJobIndex()
	source, target, unrelated := uuid.New(), uuid.New(), uuid.New()

	add := domain.NewAddJob(source, target, []int64{1})
	del := domain.NewDeleteJob(target, []int64{1})
	elsewhere := domain.NewDeleteJob(unrelated, []int64{1})
	for _, j := range []*domain.BatchJob{add, del, elsewhere} {
		ji.Insert(j)
	}

	assert.Equal(t, []uuid.UUID{add.ID}, ji.ByCollection(source))
	assert.ElementsMatch(t, []uuid.UUID{add.ID, del.ID}, ji.ByCollection(target))

	ji.Remove(add)
	assert.Nil(t, ji.ByCollection(source))
	assert.Equal(t, []uuid.UUID{del.ID}, ji.ByCollection(target))
	assert.NotContains(t, ji.ByStatus(domain.JobStatusPending), add.ID)
}

func TestJobIndex_Rebuild(t *testing.T) {
	ji := indexing.NewJobIndex()
	stale := domain.NewDeleteJob(uuid.New(), []int64{1})
	ji.Insert(stale)

	done := domain.NewDeleteJob(uuid.New(), []int64{1})
	done.Status = domain.JobStatusCompleted
	jobs := map[uuid.UUID]*domain.BatchJob{done.ID: done}

	ji.Rebuild(jobs)
	assert.Empty(t, ji.ByStatus(domain.JobStatusPending))
	require.Len(t, ji.ByStatus(domain.JobStatusCompleted), 1)
	assert.Equal(t, done.ID, ji.ByStatus(domain.JobStatusCompleted)[0])
}
