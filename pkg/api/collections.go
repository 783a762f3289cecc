package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/adfharrison1/go-batch/pkg/domain"
)

// CreateCollectionRequest represents the request body for creating a collection
type CreateCollectionRequest struct {
	CollectionName string `json:"collection_name"`
}

// CollectionResponse describes a single collection
type CollectionResponse struct {
	ID             string `json:"id"`
	CollectionName string `json:"collection_name"`
	Message        string `json:"message,omitempty"`
}

// CollectionIDsResponse lists every member of a collection
type CollectionIDsResponse struct {
	CompanyIDs []int64 `json:"company_ids"`
	TotalCount int     `json:"total_count"`
}

// HandleCreateCollection handles POST requests to create a new collection
func (h *Handler) HandleCreateCollection(w http.ResponseWriter, r *http.Request) {
	h.logger.Info().Msg("handleCreateCollection called")

	var req CreateCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error().Err(err).Msg("Decoding body failed")
		WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	collection := domain.NewCollection(strings.TrimSpace(req.CollectionName))
	if err := h.store.CreateCollection(r.Context(), collection); err != nil {
		h.logger.Warn().Err(err).Str("collection_name", req.CollectionName).Msg("Create collection failed")
		h.writeError(w, err)
		return
	}

	h.logger.Info().
		Str("collection_id", collection.ID.String()).
		Str("collection_name", collection.Name).
		Msg("Created collection")
	writeJSON(w, http.StatusCreated, CollectionResponse{
		ID:             collection.ID.String(),
		CollectionName: collection.Name,
		Message:        fmt.Sprintf("Collection '%s' created successfully", collection.Name),
	})
}

// HandleGetCollection handles GET requests for a single collection
func (h *Handler) HandleGetCollection(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "collection_id")
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.Debug().Str("collection_id", id.String()).Msg("handleGetCollection called")

	collection, err := h.store.GetCollection(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CollectionResponse{
		ID:             collection.ID.String(),
		CollectionName: collection.Name,
	})
}

// HandleCollectionCompanyIDs handles GET requests for every company id in a collection
func (h *Handler) HandleCollectionCompanyIDs(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "collection_id")
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.Debug().Str("collection_id", id.String()).Msg("handleCollectionCompanyIDs called")

	ids, err := h.store.ListEntityIDs(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CollectionIDsResponse{
		CompanyIDs: ids,
		TotalCount: len(ids),
	})
}

// HandleDeleteCollection handles DELETE requests for a collection, its
// associations and the jobs that reference it
func (h *Handler) HandleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "collection_id")
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.Info().Str("collection_id", id.String()).Msg("handleDeleteCollection called")

	collection, err := h.store.GetCollection(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if h.isProtected(collection.Name) {
		h.writeError(w, fmt.Errorf("%w: cannot delete '%s'", domain.ErrProtectedCollection, collection.Name))
		return
	}

	if err := h.store.DeleteCollection(r.Context(), id); err != nil {
		h.logger.Error().Err(err).Str("collection_id", id.String()).Msg("Delete collection failed")
		h.writeError(w, err)
		return
	}

	h.logger.Info().Str("collection_id", id.String()).Str("collection_name", collection.Name).Msg("Deleted collection")
	writeJSON(w, http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Collection '%s' deleted successfully", collection.Name),
	})
}
