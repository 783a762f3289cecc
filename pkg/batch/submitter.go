package batch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/adfharrison1/go-batch/pkg/domain"
)

// AddRequest asks for ids to be added to the target collection
type AddRequest struct {
	SourceCollectionID uuid.UUID `json:"source_collection_id" validate:"required"`
	TargetCollectionID uuid.UUID `json:"target_collection_id" validate:"required"`
	EntityIDs          []int64   `json:"company_ids"`
}

// DeleteRequest asks for ids to be removed from a collection
type DeleteRequest struct {
	CollectionID uuid.UUID `json:"collection_id" validate:"required"`
	EntityIDs    []int64   `json:"company_ids"`
}

// SubmitStore is the job store plus the collection lookups the submitter needs
type SubmitStore interface {
	domain.JobStore
	domain.CollectionStore
}

// JobDispatcher schedules a stored job for execution
type JobDispatcher interface {
	Dispatch(id uuid.UUID)
}

// Submitter validates requests, creates PENDING jobs and dispatches them
type Submitter struct {
	store      SubmitStore
	dispatcher JobDispatcher
	validate   *validator.Validate
	logger     zerolog.Logger
}

// NewSubmitter creates a submitter
func NewSubmitter(store SubmitStore, dispatcher JobDispatcher, logger zerolog.Logger) *Submitter {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Submitter{
		store:      store,
		dispatcher: dispatcher,
		validate:   validate,
		logger:     logger,
	}
}

// SubmitAdd creates and dispatches an ADD job
func (s *Submitter) SubmitAdd(ctx context.Context, req AddRequest) (*domain.BatchJob, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	if req.SourceCollectionID == req.TargetCollectionID {
		return nil, &domain.ValidationError{Field: "target_collection_id", Reason: "must differ from source_collection_id"}
	}
	if err := s.requireCollection(ctx, "Source", req.SourceCollectionID); err != nil {
		return nil, err
	}
	if err := s.requireCollection(ctx, "Target", req.TargetCollectionID); err != nil {
		return nil, err
	}

	return s.submit(ctx, domain.NewAddJob(req.SourceCollectionID, req.TargetCollectionID, req.EntityIDs))
}

// SubmitDelete creates and dispatches a DELETE job
func (s *Submitter) SubmitDelete(ctx context.Context, req DeleteRequest) (*domain.BatchJob, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	if err := s.requireCollection(ctx, "Collection", req.CollectionID); err != nil {
		return nil, err
	}

	return s.submit(ctx, domain.NewDeleteJob(req.CollectionID, req.EntityIDs))
}

// Status returns the latest committed state of a job
func (s *Submitter) Status(ctx context.Context, id uuid.UUID) (*domain.BatchJob, error) {
	return s.store.GetJob(ctx, id)
}

// Cancel flips a PENDING or IN_PROGRESS job to CANCELLED. The executor notices
// at its next chunk boundary.
func (s *Submitter) Cancel(ctx context.Context, id uuid.UUID) (*domain.BatchJob, error) {
	job, err := s.store.CancelJob(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("job_id", id.String()).
		Int("processed_count", job.ProcessedCount).
		Msg("Job cancellation requested")
	return job, nil
}

func (s *Submitter) submit(ctx context.Context, job *domain.BatchJob) (*domain.BatchJob, error) {
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	s.logger.Info().
		Str("job_id", job.ID.String()).
		Str("job_type", string(job.Type)).
		Int("total_count", job.TotalCount).
		Msg("Job submitted")

	s.dispatcher.Dispatch(job.ID)
	return job.Clone(), nil
}

func (s *Submitter) requireCollection(ctx context.Context, role string, id uuid.UUID) error {
	exists, err := s.store.CollectionExists(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to look up collection: %w", err)
	}
	if !exists {
		return &domain.NotFoundError{Kind: role + " collection", ID: id.String()}
	}
	return nil
}

func (s *Submitter) validateStruct(req interface{}) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		reason := fmt.Sprintf("failed on '%s'", fe.Tag())
		if fe.Tag() == "required" {
			reason = "is required"
		}
		return &domain.ValidationError{Field: fe.Field(), Reason: reason}
	}
	return &domain.ValidationError{Reason: err.Error()}
}
