package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/docsync-api/internal/api/shared"
	"github.com/phrazzld/docsync-api/internal/platform/vectordb"
)

// MultiSearchRequest searches several collections with one query.
type MultiSearchRequest struct {
	Collections []string            `json:"collections" validate:"required,min=1,max=20,dive,required"`
	Param       vectordb.QueryParam `json:"param"`
}

// SearchFailureResponse names a collection whose search failed.
type SearchFailureResponse struct {
	Collection string `json:"collection"`
	Error      string `json:"error"`
}

// SearchResponse carries hits ordered by descending score.
type SearchResponse struct {
	Hits     []vectordb.Hit          `json:"hits"`
	Failures []SearchFailureResponse `json:"failures,omitempty"`
}

// SearchHandler handles search requests.
type SearchHandler struct {
	store VectorStore
}

// NewSearchHandler creates a SearchHandler.
func NewSearchHandler(store VectorStore) *SearchHandler {
	return &SearchHandler{store: store}
}

func newQueryParam() vectordb.QueryParam {
	return vectordb.QueryParam{RetrievalConfig: vectordb.DefaultRetrievalConfig()}
}

// Search handles POST /api/v1/collections/{name}/search requests.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "name")
	if collection == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Collection name is required")
		return
	}

	q := newQueryParam()
	if err := shared.DecodeJSON(w, r, &q); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	hits, err := h.store.QueryRecords(r.Context(), collection, q)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if hits == nil {
		hits = []vectordb.Hit{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, SearchResponse{Hits: hits})
}

// MultiSearch handles POST /api/v1/search requests. Collections that fail
// are listed in the response next to the hits of the others.
func (h *SearchHandler) MultiSearch(w http.ResponseWriter, r *http.Request) {
	req := MultiSearchRequest{Param: newQueryParam()}
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	hits, failures, err := h.store.MultiSearch(r.Context(), req.Collections, req.Param)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if len(failures) == len(req.Collections) {
		HandleAPIError(w, r, failures[0].Err, "All collection searches failed")
		return
	}

	resp := SearchResponse{Hits: hits}
	if resp.Hits == nil {
		resp.Hits = []vectordb.Hit{}
	}
	for _, f := range failures {
		resp.Failures = append(resp.Failures, SearchFailureResponse{
			Collection: f.Collection,
			Error:      GetSafeErrorMessage(f.Err),
		})
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}
