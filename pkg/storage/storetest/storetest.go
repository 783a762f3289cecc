// Package storetest holds the behaviour every domain.Store backend must share.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adfharrison1/go-batch/pkg/domain"
)

// Factory returns an empty store. The store is closed by the suite.
type Factory func(t *testing.T) domain.Store

// Run executes the conformance suite against stores built by factory
func Run(t *testing.T, factory Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, store domain.Store)
	}{
		{"CollectionLifecycle", testCollectionLifecycle},
		{"DuplicateCollectionName", testDuplicateCollectionName},
		{"JobCreateAndGet", testJobCreateAndGet},
		{"JobNotFound", testJobNotFound},
		{"JobStateMachine", testJobStateMachine},
		{"JobProgressMonotonic", testJobProgressMonotonic},
		{"CancelJob", testCancelJob},
		{"ListJobsByStatus", testListJobsByStatus},
		{"AssociationsAreSets", testAssociationsAreSets},
		{"DeleteAssociationIdempotent", testDeleteAssociationIdempotent},
		{"InsertIntoMissingCollection", testInsertIntoMissingCollection},
		{"DeleteCollectionCascades", testDeleteCollectionCascades},
		{"ConcurrentProgressUpdates", testConcurrentProgressUpdates},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			tt.fn(t, store)
		})
	}
}

func mustCollection(t *testing.T, store domain.Store, name string) *domain.Collection {
	t.Helper()
	c := domain.NewCollection(name + "-" + uuid.NewString()[:8])
	require.NoError(t, store.CreateCollection(context.Background(), c))
	return c
}

func testCollectionLifecycle(t *testing.T, store domain.Store) {
	ctx := context.Background()
	c := mustCollection(t, store, "companies")

	exists, err := store.CollectionExists(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := store.GetCollection(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Name, got.Name)

	exists, err = store.CollectionExists(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.GetCollection(ctx, uuid.New())
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	ids, err := store.ListEntityIDs(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func testDuplicateCollectionName(t *testing.T, store domain.Store) {
	ctx := context.Background()
	c := mustCollection(t, store, "dup")

	err := store.CreateCollection(ctx, domain.NewCollection(c.Name))
	assert.True(t, errors.Is(err, domain.ErrConflict))

	err = store.CreateCollection(ctx, domain.NewCollection("  "))
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func testJobCreateAndGet(t *testing.T, store domain.Store) {
	ctx := context.Background()
	src := mustCollection(t, store, "src")
	dst := mustCollection(t, store, "dst")

	job := domain.NewAddJob(src.ID, dst.ID, []int64{5, 3, 9})
	require.NoError(t, store.CreateJob(ctx, job))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, domain.JobTypeAdd, got.Type)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Equal(t, []int64{5, 3, 9}, got.EntityIDs)
	assert.Equal(t, 3, got.TotalCount)
	assert.Equal(t, 0, got.ProcessedCount)
	require.NotNil(t, got.TargetCollectionID)
	assert.Equal(t, dst.ID, *got.TargetCollectionID)
	assert.Nil(t, got.ErrorMessage)

	// Returned records must not alias stored state
	got.EntityIDs[0] = 100
	again, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), again.EntityIDs[0])

	err = store.CreateJob(ctx, job)
	assert.Error(t, err)
}

func testJobNotFound(t *testing.T, store domain.Store) {
	ctx := context.Background()
	id := uuid.New()

	_, err := store.GetJob(ctx, id)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = store.UpdateJob(ctx, id, domain.ProgressUpdate(1))
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = store.CancelJob(ctx, id)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func testJobStateMachine(t *testing.T, store domain.Store) {
	ctx := context.Background()
	c := mustCollection(t, store, "sm")
	job := domain.NewDeleteJob(c.ID, []int64{1, 2})
	require.NoError(t, store.CreateJob(ctx, job))

	_, err := store.UpdateJob(ctx, job.ID, domain.StatusUpdate(domain.JobStatusCompleted))
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	updated, err := store.UpdateJob(ctx, job.ID, domain.StatusUpdate(domain.JobStatusInProgress))
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusInProgress, updated.Status)
	assert.False(t, updated.UpdatedAt.Before(job.UpdatedAt))

	updated, err = store.UpdateJob(ctx, job.ID, domain.FailureUpdate("boom"))
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, updated.Status)
	require.NotNil(t, updated.ErrorMessage)
	assert.Equal(t, "boom", *updated.ErrorMessage)

	_, err = store.UpdateJob(ctx, job.ID, domain.StatusUpdate(domain.JobStatusInProgress))
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
}

func testJobProgressMonotonic(t *testing.T, store domain.Store) {
	ctx := context.Background()
	c := mustCollection(t, store, "progress")
	job := domain.NewDeleteJob(c.ID, []int64{1, 2, 3})
	require.NoError(t, store.CreateJob(ctx, job))

	_, err := store.UpdateJob(ctx, job.ID, domain.ProgressUpdate(2))
	require.NoError(t, err)

	_, err = store.UpdateJob(ctx, job.ID, domain.ProgressUpdate(1))
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = store.UpdateJob(ctx, job.ID, domain.ProgressUpdate(4))
	assert.True(t, errors.Is(err, domain.ErrValidation))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ProcessedCount)
}

func testCancelJob(t *testing.T, store domain.Store) {
	ctx := context.Background()
	c := mustCollection(t, store, "cancel")

	pending := domain.NewDeleteJob(c.ID, []int64{1})
	require.NoError(t, store.CreateJob(ctx, pending))
	cancelled, err := store.CancelJob(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, cancelled.Status)

	_, err = store.CancelJob(ctx, pending.ID)
	assert.True(t, errors.Is(err, domain.ErrConflict))

	// Progress still lands on a cancelled job
	_, err = store.UpdateJob(ctx, pending.ID, domain.ProgressUpdate(1))
	require.NoError(t, err)

	completed := domain.NewDeleteJob(c.ID, []int64{1})
	require.NoError(t, store.CreateJob(ctx, completed))
	_, err = store.UpdateJob(ctx, completed.ID, domain.StatusUpdate(domain.JobStatusInProgress))
	require.NoError(t, err)
	_, err = store.UpdateJob(ctx, completed.ID, domain.StatusUpdate(domain.JobStatusCompleted))
	require.NoError(t, err)

	_, err = store.CancelJob(ctx, completed.ID)
	assert.True(t, errors.Is(err, domain.ErrConflict))
}

func testListJobsByStatus(t *testing.T, store domain.Store) {
	ctx := context.Background()
	c := mustCollection(t, store, "list")

	a := domain.NewDeleteJob(c.ID, []int64{1})
	b := domain.NewDeleteJob(c.ID, []int64{2})
	d := domain.NewDeleteJob(c.ID, []int64{3})
	for _, j := range []*domain.BatchJob{a, b, d} {
		require.NoError(t, store.CreateJob(ctx, j))
	}
	_, err := store.UpdateJob(ctx, b.ID, domain.StatusUpdate(domain.JobStatusInProgress))
	require.NoError(t, err)
	_, err = store.CancelJob(ctx, d.ID)
	require.NoError(t, err)

	jobs, err := store.ListJobsByStatus(ctx, domain.JobStatusPending, domain.JobStatusInProgress)
	require.NoError(t, err)

	found := make(map[uuid.UUID]domain.JobStatus)
	for _, j := range jobs {
		found[j.ID] = j.Status
	}
	assert.Equal(t, domain.JobStatusPending, found[a.ID])
	assert.Equal(t, domain.JobStatusInProgress, found[b.ID])
	_, hasCancelled := found[d.ID]
	assert.False(t, hasCancelled)
}

func testAssociationsAreSets(t *testing.T, store domain.Store) {
	ctx := context.Background()
	c := mustCollection(t, store, "set")

	assocs := []domain.Association{
		{EntityID: 3, CollectionID: c.ID},
		{EntityID: 1, CollectionID: c.ID},
	}
	require.NoError(t, store.InsertAssociations(ctx, assocs))
	require.NoError(t, store.InsertAssociations(ctx, []domain.Association{{EntityID: 2, CollectionID: c.ID}}))

	exists, err := store.AssociationExists(ctx, 1, c.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.AssociationExists(ctx, 4, c.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	ids, err := store.ListEntityIDs(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)

	require.NoError(t, store.InsertAssociations(ctx, nil))
}

func testDeleteAssociationIdempotent(t *testing.T, store domain.Store) {
	ctx := context.Background()
	c := mustCollection(t, store, "del")
	require.NoError(t, store.InsertAssociations(ctx, []domain.Association{{EntityID: 7, CollectionID: c.ID}}))

	require.NoError(t, store.DeleteAssociation(ctx, 7, c.ID))
	require.NoError(t, store.DeleteAssociation(ctx, 7, c.ID))
	require.NoError(t, store.DeleteAssociation(ctx, 8, c.ID))

	ids, err := store.ListEntityIDs(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func testInsertIntoMissingCollection(t *testing.T, store domain.Store) {
	ctx := context.Background()
	err := store.InsertAssociations(ctx, []domain.Association{{EntityID: 1, CollectionID: uuid.New()}})
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = store.ListEntityIDs(ctx, uuid.New())
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func testDeleteCollectionCascades(t *testing.T, store domain.Store) {
	ctx := context.Background()
	keep := mustCollection(t, store, "keep")
	drop := mustCollection(t, store, "drop")

	require.NoError(t, store.InsertAssociations(ctx, []domain.Association{
		{EntityID: 1, CollectionID: keep.ID},
		{EntityID: 1, CollectionID: drop.ID},
	}))
	refJob := domain.NewAddJob(keep.ID, drop.ID, []int64{1})
	otherJob := domain.NewDeleteJob(keep.ID, []int64{1})
	require.NoError(t, store.CreateJob(ctx, refJob))
	require.NoError(t, store.CreateJob(ctx, otherJob))

	require.NoError(t, store.DeleteCollection(ctx, drop.ID))

	exists, err := store.CollectionExists(ctx, drop.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.GetJob(ctx, refJob.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = store.GetJob(ctx, otherJob.ID)
	assert.NoError(t, err)

	ids, err := store.ListEntityIDs(ctx, keep.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)

	err = store.DeleteCollection(ctx, drop.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func testConcurrentProgressUpdates(t *testing.T, store domain.Store) {
	ctx := context.Background()
	c := mustCollection(t, store, "concurrent")
	ids := make([]int64, 50)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	job := domain.NewDeleteJob(c.ID, ids)
	require.NoError(t, store.CreateJob(ctx, job))
	_, err := store.UpdateJob(ctx, job.ID, domain.StatusUpdate(domain.JobStatusInProgress))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			// Out-of-order writes are rejected, never applied
			store.UpdateJob(ctx, job.ID, domain.ProgressUpdate(p))
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		store.CancelJob(ctx, job.ID)
	}()
	wg.Wait()

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, got.Status)
	assert.LessOrEqual(t, got.ProcessedCount, got.TotalCount)
	assert.Greater(t, got.ProcessedCount, 0)
}
