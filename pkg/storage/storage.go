package storage

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/adfharrison1/go-batch/pkg/domain"
	"github.com/adfharrison1/go-batch/pkg/indexing"
)

// CollectionLock provides per-collection concurrency control over a membership set
type CollectionLock struct {
	mu sync.RWMutex
}

// StorageEngine is the in-memory implementation of domain.Store. State can be
// snapshotted to a single msgpack+lz4 file and restored on startup.
type StorageEngine struct {
	mu           sync.RWMutex
	collections  map[uuid.UUID]*domain.Collection
	associations map[uuid.UUID]map[int64]struct{} // collection id -> member entity ids

	jobsMu sync.RWMutex
	jobs   map[uuid.UUID]*domain.BatchJob
	jobIdx *indexing.JobIndex // guarded by jobsMu

	// Per-collection locks for membership mutations
	collectionLocks map[uuid.UUID]*CollectionLock
	locksMu         sync.RWMutex

	// Configuration
	dataDir        string
	snapshotFile   string // Snapshot written on Close when set
	backgroundSave bool
	saveInterval   time.Duration
	logger         zerolog.Logger

	dirty atomic.Bool

	// Background workers
	backgroundWg sync.WaitGroup
	stopChan     chan struct{}
	stopOnce     sync.Once
}

var _ domain.Store = (*StorageEngine)(nil)

// NewStorageEngine creates a new in-memory storage engine
func NewStorageEngine(options ...StorageOption) *StorageEngine {
	engine := &StorageEngine{
		collections:     make(map[uuid.UUID]*domain.Collection),
		associations:    make(map[uuid.UUID]map[int64]struct{}),
		jobs:            make(map[uuid.UUID]*domain.BatchJob),
		jobIdx:          indexing.NewJobIndex(),
		collectionLocks: make(map[uuid.UUID]*CollectionLock),
		dataDir:         ".",
		backgroundSave:  false,
		saveInterval:    5 * time.Minute,
		logger:          zerolog.Nop(),
		stopChan:        make(chan struct{}),
	}

	for _, option := range options {
		option(engine)
	}

	return engine
}

// getOrCreateCollectionLock gets or creates a lock for a collection
func (se *StorageEngine) getOrCreateCollectionLock(collectionID uuid.UUID) *CollectionLock {
	se.locksMu.RLock()
	if lock, exists := se.collectionLocks[collectionID]; exists {
		se.locksMu.RUnlock()
		return lock
	}
	se.locksMu.RUnlock()

	se.locksMu.Lock()
	defer se.locksMu.Unlock()

	// Double-check in case another goroutine created it
	if lock, exists := se.collectionLocks[collectionID]; exists {
		return lock
	}

	lock := &CollectionLock{}
	se.collectionLocks[collectionID] = lock
	return lock
}

// withCollectionReadLock executes a function with a read lock on the specified collection
func (se *StorageEngine) withCollectionReadLock(collectionID uuid.UUID, fn func() error) error {
	lock := se.getOrCreateCollectionLock(collectionID)
	lock.mu.RLock()
	defer lock.mu.RUnlock()
	return fn()
}

// withCollectionWriteLock executes a function with a write lock on the specified collection
func (se *StorageEngine) withCollectionWriteLock(collectionID uuid.UUID, fn func() error) error {
	lock := se.getOrCreateCollectionLock(collectionID)
	lock.mu.Lock()
	defer lock.mu.Unlock()
	return fn()
}

// memberSet returns the membership set for a collection, creating it when asked
func (se *StorageEngine) memberSet(collectionID uuid.UUID, create bool) map[int64]struct{} {
	se.mu.RLock()
	set, ok := se.associations[collectionID]
	se.mu.RUnlock()
	if ok || !create {
		return set
	}

	se.mu.Lock()
	defer se.mu.Unlock()
	if set, ok = se.associations[collectionID]; ok {
		return set
	}
	set = make(map[int64]struct{})
	se.associations[collectionID] = set
	return set
}

func (se *StorageEngine) markDirty() {
	se.dirty.Store(true)
}

// IsDirty reports whether there are changes not yet written to a snapshot
func (se *StorageEngine) IsDirty() bool {
	return se.dirty.Load()
}

// Close stops background workers and writes a final snapshot when one is configured
func (se *StorageEngine) Close() error {
	se.StopBackgroundWorkers()
	if se.snapshotFile == "" {
		return nil
	}
	return se.SaveToFile(se.snapshotFile)
}
