package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/adfharrison1/go-batch/pkg/domain"
	"github.com/adfharrison1/go-batch/pkg/storage/codec"
)

// resolvePath places relative snapshot names under the data directory
func (se *StorageEngine) resolvePath(filename string) string {
	if filepath.IsAbs(filename) || se.dataDir == "" || se.dataDir == "." {
		return filename
	}
	return filepath.Join(se.dataDir, filename)
}

// SaveToFile writes every collection, membership set and job to a snapshot file
func (se *StorageEngine) SaveToFile(filename string) error {
	snap := codec.NewSnapshot()

	// Clear before copying so concurrent writes re-mark the engine dirty
	se.dirty.Store(false)

	// Jobs are copied before memberships. Progress is recorded after a chunk
	// lands, so the saved progress never runs ahead of the saved sets.
	se.jobsMu.RLock()
	for _, job := range se.jobs {
		rec, err := codec.ToJobRecord(job)
		if err != nil {
			se.jobsMu.RUnlock()
			se.markDirty()
			return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
		}
		snap.Jobs = append(snap.Jobs, *rec)
	}
	se.jobsMu.RUnlock()

	se.mu.RLock()
	collectionIDs := make([]uuid.UUID, 0, len(se.collections))
	for id, c := range se.collections {
		collectionIDs = append(collectionIDs, id)
		snap.Collections = append(snap.Collections, codec.ToCollectionRecord(c))
	}
	se.mu.RUnlock()

	for _, id := range collectionIDs {
		lock := se.getOrCreateCollectionLock(id)
		lock.mu.RLock()
		set := se.memberSet(id, false)
		ids := make([]int64, 0, len(set))
		for entityID := range set {
			ids = append(ids, entityID)
		}
		lock.mu.RUnlock()
		snap.Associations[id.String()] = ids
	}

	var buf bytes.Buffer
	if err := codec.WriteSnapshot(&buf, snap); err != nil {
		se.markDirty()
		return err
	}

	path := se.resolvePath(filename)
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			se.markDirty()
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	// Write to temporary file first, then rename (atomic operation)
	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, buf.Bytes(), 0644); err != nil {
		se.markDirty()
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}
	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		se.markDirty()
		return fmt.Errorf("failed to rename snapshot file: %w", err)
	}

	se.logger.Debug().
		Str("file", path).
		Int("collections", len(snap.Collections)).
		Int("jobs", len(snap.Jobs)).
		Msg("Saved snapshot")
	return nil
}

// LoadFromFile restores state from a snapshot file. A missing file is not an error.
func (se *StorageEngine) LoadFromFile(filename string) error {
	path := se.resolvePath(filename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	snap, err := codec.ReadSnapshot(bytes.NewReader(data))
	if err != nil {
		return err
	}

	collections := make(map[uuid.UUID]*domain.Collection, len(snap.Collections))
	for _, rec := range snap.Collections {
		c, err := rec.Collection()
		if err != nil {
			return err
		}
		collections[c.ID] = c
	}

	associations := make(map[uuid.UUID]map[int64]struct{}, len(snap.Associations))
	for rawID, ids := range snap.Associations {
		id, err := uuid.Parse(rawID)
		if err != nil {
			return fmt.Errorf("invalid collection id %q: %w", rawID, err)
		}
		set := make(map[int64]struct{}, len(ids))
		for _, entityID := range ids {
			set[entityID] = struct{}{}
		}
		associations[id] = set
	}

	jobs := make(map[uuid.UUID]*domain.BatchJob, len(snap.Jobs))
	for i := range snap.Jobs {
		job, err := snap.Jobs[i].Job()
		if err != nil {
			return err
		}
		jobs[job.ID] = job
	}

	se.mu.Lock()
	se.collections = collections
	se.associations = associations
	se.mu.Unlock()

	se.jobsMu.Lock()
	se.jobs = jobs
	se.jobIdx.Rebuild(jobs)
	se.jobsMu.Unlock()

	se.dirty.Store(false)
	se.logger.Info().
		Str("file", path).
		Int("collections", len(collections)).
		Int("jobs", len(jobs)).
		Msg("Loaded snapshot")
	return nil
}
