package domain

import (
	"context"

	"github.com/google/uuid"
)

// JobStore defines durable CRUD over job records.
// This is the single source of truth for job state: submitter, executor and
// status queries communicate only through it.
type JobStore interface {
	CreateJob(ctx context.Context, job *BatchJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*BatchJob, error)
	// UpdateJob applies update atomically and returns the committed record.
	// Implementations must run update.Apply against the latest committed state.
	UpdateJob(ctx context.Context, id uuid.UUID, update JobUpdate) (*BatchJob, error)
	// CancelJob atomically flips a non-terminal job to CANCELLED (see Cancel).
	CancelJob(ctx context.Context, id uuid.UUID) (*BatchJob, error)
	ListJobsByStatus(ctx context.Context, statuses ...JobStatus) ([]*BatchJob, error)
}

// AssociationStore defines the membership-association operations the mutator needs
type AssociationStore interface {
	AssociationExists(ctx context.Context, entityID int64, collectionID uuid.UUID) (bool, error)
	// InsertAssociations writes all associations in one batched write
	InsertAssociations(ctx context.Context, associations []Association) error
	// DeleteAssociation removes the pair if present; absence is not an error
	DeleteAssociation(ctx context.Context, entityID int64, collectionID uuid.UUID) error
	// ListEntityIDs returns the members of a collection in ascending order
	ListEntityIDs(ctx context.Context, collectionID uuid.UUID) ([]int64, error)
}

// CollectionStore is the collection collaborator: existence lookup plus the
// minimal lifecycle the HTTP surface exposes
type CollectionStore interface {
	CollectionExists(ctx context.Context, id uuid.UUID) (bool, error)
	CreateCollection(ctx context.Context, collection *Collection) error
	GetCollection(ctx context.Context, id uuid.UUID) (*Collection, error)
	// DeleteCollection removes the collection, its associations and every job
	// referencing it as source or target
	DeleteCollection(ctx context.Context, id uuid.UUID) error
}

// Store combines every store concern behind one handle
type Store interface {
	JobStore
	AssociationStore
	CollectionStore
	Stats() map[string]interface{}
	Close() error
}
