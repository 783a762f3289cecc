package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/adfharrison1/go-batch/pkg/domain"
)

// JobResponse is the job descriptor returned by submit and status calls
type JobResponse struct {
	JobID          uuid.UUID `json:"job_id"`
	Status         string    `json:"status"`
	JobType        string    `json:"job_type"`
	TotalCount     int       `json:"total_count"`
	ProcessedCount int       `json:"processed_count"`
	CreatedAt      string    `json:"created_at"`
	UpdatedAt      string    `json:"updated_at"`
	ErrorMessage   *string   `json:"error_message"`
}

// NewJobResponse builds the descriptor for job
func NewJobResponse(job *domain.BatchJob) JobResponse {
	return JobResponse{
		JobID:          job.ID,
		Status:         string(job.Status),
		JobType:        string(job.Type),
		TotalCount:     job.TotalCount,
		ProcessedCount: job.ProcessedCount,
		CreatedAt:      job.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:      job.UpdatedAt.UTC().Format(time.RFC3339Nano),
		ErrorMessage:   job.ErrorMessage,
	}
}
