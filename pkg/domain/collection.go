package domain

import (
	"time"

	"github.com/google/uuid"
)

// Collection is a named grouping that entities belong to through associations
type Collection struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"collection_name"`
	CreatedAt time.Time `json:"created_at"`
}

// NewCollection creates a new collection with a fresh id
func NewCollection(name string) *Collection {
	return &Collection{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
}

// Association links one entity to one collection
type Association struct {
	EntityID     int64     `json:"company_id"`
	CollectionID uuid.UUID `json:"collection_id"`
}
