package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/docsync-api/internal/api/shared"
	"github.com/phrazzld/docsync-api/internal/platform/logger"
	"github.com/phrazzld/docsync-api/internal/platform/vectordb"
)

// CollectionResponse is returned after a collection is created.
type CollectionResponse struct {
	Name string `json:"collection_name"`
}

// CollectionHandler handles collection lifecycle requests.
type CollectionHandler struct {
	store VectorStore
}

// NewCollectionHandler creates a CollectionHandler.
func NewCollectionHandler(store VectorStore) *CollectionHandler {
	return &CollectionHandler{store: store}
}

// CreateCollection handles POST /api/v1/collections requests.
func (h *CollectionHandler) CreateCollection(w http.ResponseWriter, r *http.Request) {
	var req vectordb.Collection
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	if err := h.store.CreateCollection(r.Context(), req); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	logger.FromContext(r.Context()).Info("collection created", "collection", req.Name)
	shared.RespondWithJSON(w, r, http.StatusCreated, CollectionResponse{Name: req.Name})
}

// DeleteCollection handles DELETE /api/v1/collections/{name} requests.
func (h *CollectionHandler) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Collection name is required")
		return
	}

	if err := h.store.DeleteCollection(r.Context(), name); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	logger.FromContext(r.Context()).Info("collection deleted", "collection", name)
	w.WriteHeader(http.StatusNoContent)
}
