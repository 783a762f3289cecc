package storage

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/adfharrison1/go-batch/pkg/domain"
)

// AssociationExists reports whether entityID belongs to the collection
func (se *StorageEngine) AssociationExists(ctx context.Context, entityID int64, collectionID uuid.UUID) (bool, error) {
	var exists bool
	err := se.withCollectionReadLock(collectionID, func() error {
		set := se.memberSet(collectionID, false)
		_, exists = set[entityID]
		return nil
	})
	return exists, err
}

// InsertAssociations adds all associations, grouped per collection. Memberships are
// sets keyed by (collection, entity), so a pair never appears twice.
func (se *StorageEngine) InsertAssociations(ctx context.Context, associations []domain.Association) error {
	if len(associations) == 0 {
		return nil
	}

	byCollection := make(map[uuid.UUID][]int64)
	var order []uuid.UUID
	for _, a := range associations {
		if _, seen := byCollection[a.CollectionID]; !seen {
			order = append(order, a.CollectionID)
		}
		byCollection[a.CollectionID] = append(byCollection[a.CollectionID], a.EntityID)
	}

	for _, collectionID := range order {
		exists, err := se.CollectionExists(ctx, collectionID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.CollectionNotFound(collectionID)
		}
	}

	for _, collectionID := range order {
		ids := byCollection[collectionID]
		err := se.withCollectionWriteLock(collectionID, func() error {
			// DeleteCollection may have run since the check above
			se.mu.RLock()
			_, exists := se.collections[collectionID]
			se.mu.RUnlock()
			if !exists {
				return domain.CollectionNotFound(collectionID)
			}
			set := se.memberSet(collectionID, true)
			for _, id := range ids {
				set[id] = struct{}{}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	se.markDirty()
	return nil
}

// DeleteAssociation removes the pair if present
func (se *StorageEngine) DeleteAssociation(ctx context.Context, entityID int64, collectionID uuid.UUID) error {
	return se.withCollectionWriteLock(collectionID, func() error {
		set := se.memberSet(collectionID, false)
		if _, exists := set[entityID]; exists {
			delete(set, entityID)
			se.markDirty()
		}
		return nil
	})
}

// ListEntityIDs returns the members of a collection in ascending order
func (se *StorageEngine) ListEntityIDs(ctx context.Context, collectionID uuid.UUID) ([]int64, error) {
	exists, err := se.CollectionExists(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.CollectionNotFound(collectionID)
	}

	ids := make([]int64, 0)
	err = se.withCollectionReadLock(collectionID, func() error {
		for id := range se.memberSet(collectionID, false) {
			ids = append(ids, id)
		}
		return nil
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, err
}
