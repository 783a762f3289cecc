package api

import (
	"net/http"
)

// MessageResponse is a plain acknowledgement
type MessageResponse struct {
	Message string `json:"message"`
}

// HandleJobCancel handles POST requests to cancel a pending or running job
func (h *Handler) HandleJobCancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "job_id")
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.Info().Str("job_id", id.String()).Msg("handleJobCancel called")

	if _, err := h.jobs.Cancel(r.Context(), id); err != nil {
		h.logger.Warn().Err(err).Str("job_id", id.String()).Msg("Cancel rejected")
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Job cancelled successfully"})
}
