package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/adfharrison1/go-batch/pkg/domain"
)

// CollectionExists reports whether a collection id is registered
func (se *StorageEngine) CollectionExists(ctx context.Context, id uuid.UUID) (bool, error) {
	se.mu.RLock()
	defer se.mu.RUnlock()
	_, exists := se.collections[id]
	return exists, nil
}

// CreateCollection registers a new collection
func (se *StorageEngine) CreateCollection(ctx context.Context, collection *domain.Collection) error {
	if strings.TrimSpace(collection.Name) == "" {
		return &domain.ValidationError{Field: "collection_name", Reason: "collection name cannot be empty"}
	}

	se.mu.Lock()
	defer se.mu.Unlock()

	if _, exists := se.collections[collection.ID]; exists {
		return fmt.Errorf("%w: collection %s already exists", domain.ErrConflict, collection.ID)
	}
	for _, existing := range se.collections {
		if existing.Name == collection.Name {
			return fmt.Errorf("%w: collection name %q already exists", domain.ErrConflict, collection.Name)
		}
	}

	c := *collection
	se.collections[collection.ID] = &c
	se.markDirty()
	return nil
}

// GetCollection returns a collection by id
func (se *StorageEngine) GetCollection(ctx context.Context, id uuid.UUID) (*domain.Collection, error) {
	se.mu.RLock()
	defer se.mu.RUnlock()

	collection, exists := se.collections[id]
	if !exists {
		return nil, domain.CollectionNotFound(id)
	}
	c := *collection
	return &c, nil
}

// DeleteCollection removes the collection, its associations and the jobs that reference it
func (se *StorageEngine) DeleteCollection(ctx context.Context, id uuid.UUID) error {
	err := se.withCollectionWriteLock(id, func() error {
		se.mu.Lock()
		defer se.mu.Unlock()

		if _, exists := se.collections[id]; !exists {
			return domain.CollectionNotFound(id)
		}
		delete(se.collections, id)
		delete(se.associations, id)
		return nil
	})
	if err != nil {
		return err
	}

	se.jobsMu.Lock()
	for _, jobID := range se.jobIdx.ByCollection(id) {
		se.jobIdx.Remove(se.jobs[jobID])
		delete(se.jobs, jobID)
	}
	se.jobsMu.Unlock()

	se.markDirty()
	return nil
}
