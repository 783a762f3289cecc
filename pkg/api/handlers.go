package api

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/adfharrison1/go-batch/pkg/batch"
	"github.com/adfharrison1/go-batch/pkg/domain"
)

// JobService is the job lifecycle the handlers drive
type JobService interface {
	SubmitAdd(ctx context.Context, req batch.AddRequest) (*domain.BatchJob, error)
	SubmitDelete(ctx context.Context, req batch.DeleteRequest) (*domain.BatchJob, error)
	Status(ctx context.Context, id uuid.UUID) (*domain.BatchJob, error)
	Cancel(ctx context.Context, id uuid.UUID) (*domain.BatchJob, error)
}

// Handler provides HTTP handlers for the batch job API
type Handler struct {
	jobs      JobService
	store     domain.Store
	protected map[string]bool
	logger    zerolog.Logger
}

// NewHandler creates a new API handler with dependency injection
func NewHandler(jobs JobService, store domain.Store, protected []string, logger zerolog.Logger) *Handler {
	names := make(map[string]bool, len(protected))
	for _, p := range protected {
		names[strings.ToLower(strings.TrimSpace(p))] = true
	}
	return &Handler{
		jobs:      jobs,
		store:     store,
		protected: names,
		logger:    logger,
	}
}

func (h *Handler) isProtected(name string) bool {
	return h.protected[strings.ToLower(strings.TrimSpace(name))]
}
