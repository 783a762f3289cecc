package api

import (
	"encoding/json"
	"net/http"

	"github.com/adfharrison1/go-batch/pkg/batch"
)

// HandleBatchAdd handles POST requests that add companies to a collection in the background
func (h *Handler) HandleBatchAdd(w http.ResponseWriter, r *http.Request) {
	h.logger.Info().Msg("handleBatchAdd called")

	var req batch.AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error().Err(err).Msg("Decoding body failed")
		WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	job, err := h.jobs.SubmitAdd(r.Context(), req)
	if err != nil {
		h.logger.Warn().Err(err).
			Str("source_collection_id", req.SourceCollectionID.String()).
			Str("target_collection_id", req.TargetCollectionID.String()).
			Msg("Batch add rejected")
		h.writeError(w, err)
		return
	}

	h.logger.Info().
		Str("job_id", job.ID.String()).
		Int("total_count", job.TotalCount).
		Msg("Batch add job accepted")
	writeJSON(w, http.StatusOK, NewJobResponse(job))
}
