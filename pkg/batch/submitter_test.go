package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adfharrison1/go-batch/pkg/domain"
	"github.com/adfharrison1/go-batch/pkg/storage"
)

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (r *recordingDispatcher) Dispatch(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func (r *recordingDispatcher) Dispatched() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID(nil), r.ids...)
}

func TestSubmitter_SubmitAdd(t *testing.T) {
	f := newFixture(t)
	dispatcher := &recordingDispatcher{}
	submitter := NewSubmitter(f.engine, dispatcher, zerolog.Nop())

	tests := []struct {
		name        string
		req         AddRequest
		expectedErr error
	}{
		{
			name: "valid request",
			req: AddRequest{
				SourceCollectionID: f.source.ID,
				TargetCollectionID: f.target.ID,
				EntityIDs:          []int64{1, 2, 3},
			},
		},
		{
			name: "empty identifier list",
			req: AddRequest{
				SourceCollectionID: f.source.ID,
				TargetCollectionID: f.target.ID,
			},
		},
		{
			name: "same source and target",
			req: AddRequest{
				SourceCollectionID: f.source.ID,
				TargetCollectionID: f.source.ID,
				EntityIDs:          []int64{1},
			},
			expectedErr: domain.ErrValidation,
		},
		{
			name: "missing target",
			req: AddRequest{
				SourceCollectionID: f.source.ID,
				EntityIDs:          []int64{1},
			},
			expectedErr: domain.ErrValidation,
		},
		{
			name: "zero and negative identifiers",
			req: AddRequest{
				SourceCollectionID: f.source.ID,
				TargetCollectionID: f.target.ID,
				EntityIDs:          []int64{1, 0, -7},
			},
		},
		{
			name: "unknown source collection",
			req: AddRequest{
				SourceCollectionID: uuid.New(),
				TargetCollectionID: f.target.ID,
				EntityIDs:          []int64{1},
			},
			expectedErr: domain.ErrNotFound,
		},
		{
			name: "unknown target collection",
			req: AddRequest{
				SourceCollectionID: f.source.ID,
				TargetCollectionID: uuid.New(),
				EntityIDs:          []int64{1},
			},
			expectedErr: domain.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			before, err := f.engine.ListJobsByStatus(ctx)
			require.NoError(t, err)
			dispatched := len(dispatcher.Dispatched())

			job, err := submitter.SubmitAdd(ctx, tt.req)

			after, listErr := f.engine.ListJobsByStatus(ctx)
			require.NoError(t, listErr)

			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				assert.Nil(t, job)
				assert.Len(t, after, len(before), "no job row on rejected submit")
				assert.Len(t, dispatcher.Dispatched(), dispatched)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, domain.JobStatusPending, job.Status)
			assert.Equal(t, domain.JobTypeAdd, job.Type)
			assert.Equal(t, len(tt.req.EntityIDs), job.TotalCount)
			assert.Equal(t, 0, job.ProcessedCount)
			assert.Len(t, after, len(before)+1)
			assert.Equal(t, job.ID, dispatcher.Dispatched()[dispatched])
		})
	}
}

func TestSubmitter_SubmitDelete(t *testing.T) {
	f := newFixture(t)
	dispatcher := &recordingDispatcher{}
	submitter := NewSubmitter(f.engine, dispatcher, zerolog.Nop())
	ctx := context.Background()

	job, err := submitter.SubmitDelete(ctx, DeleteRequest{CollectionID: f.source.ID, EntityIDs: []int64{9}})
	require.NoError(t, err)
	assert.Equal(t, domain.JobTypeDelete, job.Type)
	assert.Nil(t, job.TargetCollectionID)
	assert.Equal(t, []uuid.UUID{job.ID}, dispatcher.Dispatched())

	_, err = submitter.SubmitDelete(ctx, DeleteRequest{CollectionID: uuid.New(), EntityIDs: []int64{9}})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = submitter.SubmitDelete(ctx, DeleteRequest{EntityIDs: []int64{9}})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "collection_id", verr.Field)
}

func TestSubmitter_StatusAndCancel(t *testing.T) {
	f := newFixture(t)
	submitter := NewSubmitter(f.engine, &recordingDispatcher{}, zerolog.Nop())
	ctx := context.Background()

	_, err := submitter.Status(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = submitter.Cancel(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	job, err := submitter.SubmitDelete(ctx, DeleteRequest{CollectionID: f.source.ID, EntityIDs: []int64{1}})
	require.NoError(t, err)

	cancelled, err := submitter.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, cancelled.Status)

	_, err = submitter.Cancel(ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := submitter.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, got.Status)
}

func TestSubmitter_CancelTerminalJobs(t *testing.T) {
	f := newFixture(t)
	submitter := NewSubmitter(f.engine, &recordingDispatcher{}, zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		name   string
		finish func(id uuid.UUID)
		status domain.JobStatus
	}{
		{
			name: "completed",
			finish: func(id uuid.UUID) {
				_, err := f.engine.UpdateJob(ctx, id, domain.StatusUpdate(domain.JobStatusInProgress))
				require.NoError(t, err)
				_, err = f.engine.UpdateJob(ctx, id, domain.StatusUpdate(domain.JobStatusCompleted))
				require.NoError(t, err)
			},
			status: domain.JobStatusCompleted,
		},
		{
			name: "failed",
			finish: func(id uuid.UUID) {
				_, err := f.engine.UpdateJob(ctx, id, domain.StatusUpdate(domain.JobStatusInProgress))
				require.NoError(t, err)
				_, err = f.engine.UpdateJob(ctx, id, domain.FailureUpdate("boom"))
				require.NoError(t, err)
			},
			status: domain.JobStatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := submitter.SubmitDelete(ctx, DeleteRequest{CollectionID: f.source.ID, EntityIDs: []int64{1}})
			require.NoError(t, err)
			tt.finish(job.ID)

			before, err := submitter.Status(ctx, job.ID)
			require.NoError(t, err)

			_, err = submitter.Cancel(ctx, job.ID)
			assert.ErrorIs(t, err, domain.ErrConflict)

			after, err := submitter.Status(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.status, after.Status)
			assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
		})
	}
}

func TestDispatcher_RunsJobsEndToEnd(t *testing.T) {
	f := newFixture(t)
	executor := NewExecutor(f.engine, NewMutator(f.engine), zerolog.Nop())
	dispatcher := NewDispatcher(executor, f.engine, zerolog.Nop())
	submitter := NewSubmitter(f.engine, dispatcher, zerolog.Nop())
	ctx := context.Background()

	var jobs []*domain.BatchJob
	for i := 0; i < 5; i++ {
		job, err := submitter.SubmitAdd(ctx, AddRequest{
			SourceCollectionID: f.source.ID,
			TargetCollectionID: f.target.ID,
			EntityIDs:          []int64{int64(i*10 + 1), int64(i*10 + 2)},
		})
		require.NoError(t, err)
		jobs = append(jobs, job)
	}

	require.NoError(t, dispatcher.Wait())
	assert.Equal(t, int64(0), dispatcher.InFlight())

	for _, job := range jobs {
		got, err := submitter.Status(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, got.Status)
		assert.Equal(t, 2, got.ProcessedCount)
	}

	members, err := f.engine.ListEntityIDs(ctx, f.target.ID)
	require.NoError(t, err)
	assert.Len(t, members, 10)
}

func TestDispatcher_Resume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.createJob(t, domain.NewAddJob(f.source.ID, f.target.ID, []int64{1, 2}))
	running := f.createJob(t, domain.NewAddJob(f.source.ID, f.target.ID, []int64{3, 4, 5}))
	_, err := f.engine.UpdateJob(ctx, running.ID, domain.StatusUpdate(domain.JobStatusInProgress))
	require.NoError(t, err)
	_, err = f.engine.UpdateJob(ctx, running.ID, domain.ProgressUpdate(1))
	require.NoError(t, err)
	cancelled := f.createJob(t, domain.NewAddJob(f.source.ID, f.target.ID, []int64{6}))
	_, err = f.engine.CancelJob(ctx, cancelled.ID)
	require.NoError(t, err)

	executor := NewExecutor(f.engine, NewMutator(f.engine), zerolog.Nop())
	dispatcher := NewDispatcher(executor, f.engine, zerolog.Nop())

	n, err := dispatcher.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, dispatcher.Wait())

	for _, id := range []uuid.UUID{pending.ID, running.ID} {
		got, err := f.engine.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, got.Status)
	}

	// The first id of the resumed job was counted before the restart and is not re-applied
	members, err := f.engine.ListEntityIDs(ctx, f.target.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 4, 5}, members)
}

// blockingRunner holds every job until its context ends
type blockingRunner struct {
	started chan uuid.UUID
}

func (b *blockingRunner) Run(ctx context.Context, id uuid.UUID) error {
	b.started <- id
	<-ctx.Done()
	return ctx.Err()
}

func TestDispatcher_Shutdown(t *testing.T) {
	runner := &blockingRunner{started: make(chan uuid.UUID, 2)}
	dispatcher := NewDispatcher(runner, storage.NewStorageEngine(), zerolog.Nop())

	dispatcher.Dispatch(uuid.New())
	dispatcher.Dispatch(uuid.New())
	<-runner.started
	<-runner.started
	assert.Equal(t, int64(2), dispatcher.InFlight())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, dispatcher.Shutdown(ctx))
	assert.Equal(t, int64(0), dispatcher.InFlight())

	// Dispatch after shutdown is dropped; the job stays in the store for resume
	dispatcher.Dispatch(uuid.New())
	assert.Equal(t, int64(0), dispatcher.InFlight())
}
