package api

import (
	"net/http"
)

// HandleJobStatus handles GET requests for the latest state of a job
func (h *Handler) HandleJobStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "job_id")
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.Debug().Str("job_id", id.String()).Msg("handleJobStatus called")

	job, err := h.jobs.Status(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, NewJobResponse(job))
}
