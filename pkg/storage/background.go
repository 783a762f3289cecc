package storage

import (
	"runtime"
	"time"

	"github.com/google/uuid"
)

// Stats returns current memory usage and record counts
func (se *StorageEngine) Stats() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	se.mu.RLock()
	collections := len(se.collections)
	collectionIDs := make([]uuid.UUID, 0, len(se.associations))
	for id := range se.associations {
		collectionIDs = append(collectionIDs, id)
	}
	se.mu.RUnlock()

	// Sets are written under the collection lock, not se.mu
	associations := 0
	for _, id := range collectionIDs {
		_ = se.withCollectionReadLock(id, func() error {
			associations += len(se.memberSet(id, false))
			return nil
		})
	}

	se.jobsMu.RLock()
	jobs := len(se.jobs)
	jobsByStatus := se.jobIdx.CountByStatus()
	se.jobsMu.RUnlock()

	return map[string]interface{}{
		"backend":        "memory",
		"alloc_mb":       m.Alloc / 1024 / 1024,
		"sys_mb":         m.Sys / 1024 / 1024,
		"num_goroutines": runtime.NumGoroutine(),
		"collections":    collections,
		"associations":   associations,
		"jobs":           jobs,
		"jobs_by_status": jobsByStatus,
	}
}

// StartBackgroundWorkers starts the periodic snapshot worker
func (se *StorageEngine) StartBackgroundWorkers() {
	if !se.backgroundSave || se.snapshotFile == "" {
		return
	}

	se.backgroundWg.Add(1)
	go func() {
		defer se.backgroundWg.Done()
		ticker := time.NewTicker(se.saveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				se.saveIfDirty()
			case <-se.stopChan:
				return
			}
		}
	}()
}

// StopBackgroundWorkers stops background workers
func (se *StorageEngine) StopBackgroundWorkers() {
	se.stopOnce.Do(func() {
		close(se.stopChan)
	})
	se.backgroundWg.Wait()
}

// saveIfDirty writes a snapshot when anything changed since the last one
func (se *StorageEngine) saveIfDirty() {
	if !se.IsDirty() {
		se.logger.Debug().Msg("No changes to snapshot")
		return
	}

	start := time.Now()
	if err := se.SaveToFile(se.snapshotFile); err != nil {
		se.logger.Error().Err(err).Str("file", se.snapshotFile).Msg("Background snapshot failed")
		return
	}
	se.logger.Info().
		Str("file", se.snapshotFile).
		Dur("elapsed", time.Since(start)).
		Msg("Background snapshot completed successfully")
}
