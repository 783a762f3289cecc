package api

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes registers all API routes with the given router
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.HandleHealth).Methods("GET")

	// Batch jobs
	router.HandleFunc("/batch/add-companies", h.HandleBatchAdd).Methods("POST")
	router.HandleFunc("/batch/delete-companies", h.HandleBatchDelete).Methods("POST")
	router.HandleFunc("/batch/jobs/{job_id}/status", h.HandleJobStatus).Methods("GET")
	router.HandleFunc("/batch/jobs/{job_id}/cancel", h.HandleJobCancel).Methods("POST")

	// Collections
	router.HandleFunc("/collections", h.HandleCreateCollection).Methods("POST")
	router.HandleFunc("/collections/{collection_id}", h.HandleGetCollection).Methods("GET")
	router.HandleFunc("/collections/{collection_id}", h.HandleDeleteCollection).Methods("DELETE")
	router.HandleFunc("/collections/{collection_id}/companies/all-ids", h.HandleCollectionCompanyIDs).Methods("GET")
}
