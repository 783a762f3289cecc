package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown job or collection ids
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an operation is not allowed in the current state
	ErrConflict = errors.New("conflict")
	// ErrValidation is returned for malformed requests
	ErrValidation = errors.New("validation failed")
	// ErrInvalidTransition is returned when a status write would break the state machine
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrProtectedCollection is returned when deleting a collection that must be kept
	ErrProtectedCollection = errors.New("collection is protected")
)

// NotFoundError names the missing resource
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// JobNotFound builds a NotFoundError for a job id
func JobNotFound(id fmt.Stringer) error {
	return &NotFoundError{Kind: "job", ID: id.String()}
}

// CollectionNotFound builds a NotFoundError for a collection id
func CollectionNotFound(id fmt.Stringer) error {
	return &NotFoundError{Kind: "collection", ID: id.String()}
}

// ValidationError describes a rejected field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
