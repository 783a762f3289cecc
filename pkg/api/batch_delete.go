package api

import (
	"encoding/json"
	"net/http"

	"github.com/adfharrison1/go-batch/pkg/batch"
)

// HandleBatchDelete handles POST requests that remove companies from a collection in the background
func (h *Handler) HandleBatchDelete(w http.ResponseWriter, r *http.Request) {
	h.logger.Info().Msg("handleBatchDelete called")

	var req batch.DeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error().Err(err).Msg("Decoding body failed")
		WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	job, err := h.jobs.SubmitDelete(r.Context(), req)
	if err != nil {
		h.logger.Warn().Err(err).Str("collection_id", req.CollectionID.String()).Msg("Batch delete rejected")
		h.writeError(w, err)
		return
	}

	h.logger.Info().
		Str("job_id", job.ID.String()).
		Int("total_count", job.TotalCount).
		Msg("Batch delete job accepted")
	writeJSON(w, http.StatusOK, NewJobResponse(job))
}
