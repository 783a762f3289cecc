package batch

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/adfharrison1/go-batch/pkg/domain"
)

// ChunkMutator applies one chunk of a job's identifiers
type ChunkMutator interface {
	ApplyChunk(ctx context.Context, job *domain.BatchJob, ids []int64) error
}

// Mutator applies ADD and DELETE semantics against an association store
type Mutator struct {
	store domain.AssociationStore
}

var _ ChunkMutator = (*Mutator)(nil)

// NewMutator creates a mutator over store
func NewMutator(store domain.AssociationStore) *Mutator {
	return &Mutator{store: store}
}

// ApplyChunk dispatches on the job type
func (m *Mutator) ApplyChunk(ctx context.Context, job *domain.BatchJob, ids []int64) error {
	switch job.Type {
	case domain.JobTypeAdd:
		return m.Add(ctx, job.MutationCollection(), ids)
	case domain.JobTypeDelete:
		return m.Delete(ctx, job.MutationCollection(), ids)
	default:
		return fmt.Errorf("unsupported job type %q", job.Type)
	}
}

// Add stages every id not yet in target and inserts the staged set in one write
func (m *Mutator) Add(ctx context.Context, target uuid.UUID, ids []int64) error {
	staged := make([]domain.Association, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		exists, err := m.store.AssociationExists(ctx, id, target)
		if err != nil {
			return fmt.Errorf("failed to check association %d: %w", id, err)
		}
		if !exists {
			staged = append(staged, domain.Association{EntityID: id, CollectionID: target})
		}
	}

	if len(staged) == 0 {
		return nil
	}
	if err := m.store.InsertAssociations(ctx, staged); err != nil {
		return fmt.Errorf("failed to insert %d associations: %w", len(staged), err)
	}
	return nil
}

// Delete removes each (id, collection) pair; absent pairs are skipped
func (m *Mutator) Delete(ctx context.Context, collection uuid.UUID, ids []int64) error {
	for _, id := range ids {
		if err := m.store.DeleteAssociation(ctx, id, collection); err != nil {
			return fmt.Errorf("failed to delete association %d: %w", id, err)
		}
	}
	return nil
}
