package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adfharrison1/go-batch/pkg/batch"
	"github.com/adfharrison1/go-batch/pkg/domain"
	"github.com/adfharrison1/go-batch/pkg/storage/codec"
	"github.com/adfharrison1/go-batch/pkg/storage/storetest"
)

func TestStorageEngine_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.Store {
		return NewStorageEngine()
	})
}

func TestStorageEngine_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	engine1 := NewStorageEngine(WithDataDir(dir))
	defer engine1.StopBackgroundWorkers()

	src := domain.NewCollection("My List")
	dst := domain.NewCollection("Liked")
	require.NoError(t, engine1.CreateCollection(ctx, src))
	require.NoError(t, engine1.CreateCollection(ctx, dst))
	require.NoError(t, engine1.InsertAssociations(ctx, []domain.Association{
		{EntityID: 10, CollectionID: src.ID},
		{EntityID: 2, CollectionID: dst.ID},
	}))

	job := domain.NewAddJob(src.ID, dst.ID, []int64{10, 11})
	require.NoError(t, engine1.CreateJob(ctx, job))
	_, err := engine1.UpdateJob(ctx, job.ID, domain.StatusUpdate(domain.JobStatusInProgress))
	require.NoError(t, err)
	_, err = engine1.UpdateJob(ctx, job.ID, domain.ProgressUpdate(1))
	require.NoError(t, err)

	assert.True(t, engine1.IsDirty())
	require.NoError(t, engine1.SaveToFile("snapshot"+codec.FileExtension))
	assert.False(t, engine1.IsDirty())

	fileInfo, err := os.Stat(filepath.Join(dir, "snapshot"+codec.FileExtension))
	require.NoError(t, err)
	assert.Greater(t, fileInfo.Size(), int64(0))

	engine2 := NewStorageEngine(WithDataDir(dir))
	defer engine2.StopBackgroundWorkers()
	require.NoError(t, engine2.LoadFromFile("snapshot"+codec.FileExtension))

	got, err := engine2.GetCollection(ctx, dst.ID)
	require.NoError(t, err)
	assert.Equal(t, "Liked", got.Name)

	ids, err := engine2.ListEntityIDs(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{10}, ids)

	restored, err := engine2.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusInProgress, restored.Status)
	assert.Equal(t, 1, restored.ProcessedCount)
	assert.Equal(t, []int64{10, 11}, restored.EntityIDs)
}

func TestStorageEngine_LoadFromFile_FileNotExists(t *testing.T) {
	engine := NewStorageEngine(WithDataDir(t.TempDir()))
	defer engine.StopBackgroundWorkers()

	assert.NoError(t, engine.LoadFromFile("missing.gobj"))
	assert.Empty(t, engine.collections)
}

func TestStorageEngine_LoadFromFile_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "invalid.gobj")
	require.NoError(t, os.WriteFile(path, []byte("not a snapshot"), 0644))

	engine := NewStorageEngine()
	defer engine.StopBackgroundWorkers()

	err := engine.LoadFromFile(path)
	assert.Error(t, err)
}

func TestStorageEngine_LoadFromFile_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.gobj")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	engine := NewStorageEngine()
	defer engine.StopBackgroundWorkers()

	assert.NoError(t, engine.LoadFromFile(path))
}

func TestStorageEngine_CloseWritesSnapshot(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	engine := NewStorageEngine(WithDataDir(dir), WithSnapshotFile("final.gobj"))
	require.NoError(t, engine.CreateCollection(ctx, domain.NewCollection("companies")))
	require.NoError(t, engine.Close())

	_, err := os.Stat(filepath.Join(dir, "final.gobj"))
	assert.NoError(t, err)
}

func TestStorageEngine_BackgroundSave(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	engine := NewStorageEngine(
		WithDataDir(dir),
		WithSnapshotFile("bg.gobj"),
		WithBackgroundSave(20*time.Millisecond),
	)
	engine.StartBackgroundWorkers()
	defer engine.StopBackgroundWorkers()

	require.NoError(t, engine.CreateCollection(ctx, domain.NewCollection("companies")))

	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "bg.gobj"))
		return err == nil && !engine.IsDirty()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStorageEngine_StopBackgroundWorkersTwice(t *testing.T) {
	engine := NewStorageEngine(WithBackgroundSave(time.Second), WithSnapshotFile("x.gobj"), WithDataDir(t.TempDir()))
	engine.StartBackgroundWorkers()
	engine.StopBackgroundWorkers()
	engine.StopBackgroundWorkers()
}

func TestStorageEngine_Stats(t *testing.T) {
	ctx := context.Background()
	engine := NewStorageEngine()
	defer engine.StopBackgroundWorkers()

	c := domain.NewCollection("companies")
	require.NoError(t, engine.CreateCollection(ctx, c))
	require.NoError(t, engine.InsertAssociations(ctx, []domain.Association{
		{EntityID: 1, CollectionID: c.ID},
		{EntityID: 2, CollectionID: c.ID},
	}))
	require.NoError(t, engine.CreateJob(ctx, domain.NewDeleteJob(c.ID, []int64{1})))

	stats := engine.Stats()
	assert.Equal(t, "memory", stats["backend"])
	assert.Equal(t, 1, stats["collections"])
	assert.Equal(t, 2, stats["associations"])
	assert.Equal(t, 1, stats["jobs"])
	assert.Equal(t, map[string]int{"PENDING": 1}, stats["jobs_by_status"])
	assert.Contains(t, stats, "alloc_mb")
	assert.Contains(t, stats, "num_goroutines")
}

func TestStorageOptions(t *testing.T) {
	tests := []struct {
		name     string
		options  []StorageOption
		expected func(*testing.T, *StorageEngine)
	}{
		{
			name:    "defaults",
			options: nil,
			expected: func(t *testing.T, se *StorageEngine) {
				assert.Equal(t, ".", se.dataDir)
				assert.False(t, se.backgroundSave)
				assert.Equal(t, 5*time.Minute, se.saveInterval)
			},
		},
		{
			name:    "background save enabled",
			options: []StorageOption{WithBackgroundSave(time.Minute)},
			expected: func(t *testing.T, se *StorageEngine) {
				assert.True(t, se.backgroundSave)
				assert.Equal(t, time.Minute, se.saveInterval)
			},
		},
		{
			name:    "zero interval disables background save",
			options: []StorageOption{WithBackgroundSave(0)},
			expected: func(t *testing.T, se *StorageEngine) {
				assert.False(t, se.backgroundSave)
			},
		},
		{
			name:    "data dir and snapshot",
			options: []StorageOption{WithDataDir("/tmp/data"), WithSnapshotFile("snap.gobj")},
			expected: func(t *testing.T, se *StorageEngine) {
				assert.Equal(t, "/tmp/data", se.dataDir)
				assert.Equal(t, "snap.gobj", se.snapshotFile)
				assert.Equal(t, "/tmp/data/snap.gobj", se.resolvePath("snap.gobj"))
				assert.Equal(t, "/abs/snap.gobj", se.resolvePath("/abs/snap.gobj"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewStorageEngine(tt.options...)
			defer engine.StopBackgroundWorkers()
			tt.expected(t, engine)
		})
	}
}

func TestStorageEngine_StatsConcurrentWithInserts(t *testing.T) {
	ctx := context.Background()
	engine := NewStorageEngine()
	defer engine.StopBackgroundWorkers()

	c := domain.NewCollection("companies")
	require.NoError(t, engine.CreateCollection(ctx, c))

	const writers, perWriter = 4, 200
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				id := int64(w*perWriter + i)
				assert.NoError(t, engine.InsertAssociations(ctx, []domain.Association{{EntityID: id, CollectionID: c.ID}}))
				if i%2 == 0 {
					assert.NoError(t, engine.DeleteAssociation(ctx, id, c.ID))
				}
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
			stats := engine.Stats()
			assert.LessOrEqual(t, stats["associations"].(int), writers*perWriter)
		}
	}

	assert.Equal(t, writers*perWriter/2, engine.Stats()["associations"])
}

func TestStorageEngine_InsertAfterDeleteLeavesNoOrphanSet(t *testing.T) {
	ctx := context.Background()
	engine := NewStorageEngine()
	defer engine.StopBackgroundWorkers()

	for round := 0; round < 50; round++ {
		c := domain.NewCollection("doomed")
		require.NoError(t, engine.CreateCollection(ctx, c))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := int64(0); i < 20; i++ {
				err := engine.InsertAssociations(ctx, []domain.Association{{EntityID: i, CollectionID: c.ID}})
				if err != nil {
					assert.ErrorIs(t, err, domain.ErrNotFound)
				}
			}
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, engine.DeleteCollection(ctx, c.ID))
		}()
		wg.Wait()

		engine.mu.RLock()
		_, orphan := engine.associations[c.ID]
		engine.mu.RUnlock()
		require.False(t, orphan, "membership set recreated for deleted collection in round %d", round)

		_, err := engine.ListEntityIDs(ctx, c.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}
}

func TestStorageEngine_SnapshotDuringChunkResumesConsistently(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	engine := NewStorageEngine(WithDataDir(dir))
	defer engine.StopBackgroundWorkers()

	src := domain.NewCollection("My List")
	dst := domain.NewCollection("Liked")
	require.NoError(t, engine.CreateCollection(ctx, src))
	require.NoError(t, engine.CreateCollection(ctx, dst))

	job := domain.NewAddJob(src.ID, dst.ID, []int64{1, 2})
	require.NoError(t, engine.CreateJob(ctx, job))
	_, err := engine.UpdateJob(ctx, job.ID, domain.StatusUpdate(domain.JobStatusInProgress))
	require.NoError(t, err)

	// Hold the job table while a snapshot starts, then land chunk 1 the way
	// the executor does: membership first, progress second.
	engine.jobsMu.Lock()
	saved := make(chan error, 1)
	go func() { saved <- engine.SaveToFile("snap.gobj") }()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, engine.InsertAssociations(ctx, []domain.Association{{EntityID: 1, CollectionID: dst.ID}}))
	working := engine.jobs[job.ID].Clone()
	require.NoError(t, domain.ProgressUpdate(1).Apply(working, time.Now()))
	engine.jobs[job.ID] = working
	engine.jobsMu.Unlock()

	require.NoError(t, <-saved)

	restored := NewStorageEngine(WithDataDir(dir))
	defer restored.StopBackgroundWorkers()
	require.NoError(t, restored.LoadFromFile("snap.gobj"))

	executor := batch.NewExecutor(restored, batch.NewMutator(restored), zerolog.Nop())
	require.NoError(t, executor.Run(ctx, job.ID))

	got, err := restored.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.ProcessedCount)

	members, err := restored.ListEntityIDs(ctx, dst.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, members)
}
