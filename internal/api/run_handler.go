package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/docsync-api/internal/api/shared"
	"github.com/phrazzld/docsync-api/internal/platform/postgres"
)

const maxRunLimit = 100

// RunHandler lists recorded sync runs.
type RunHandler struct {
	runs RunHistory
}

// NewRunHandler creates a RunHandler. runs may be nil when run history is
// disabled.
func NewRunHandler(runs RunHistory) *RunHandler {
	return &RunHandler{runs: runs}
}

// ListRuns handles GET /api/v1/collections/{name}/runs requests.
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		HandleAPIError(w, r, ErrRunHistoryDisabled, "")
		return
	}

	collection := chi.URLParam(r, "name")
	if collection == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Collection name is required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxRunLimit {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid limit: must be between 1 and 100")
			return
		}
		limit = parsed
	}

	runs, err := h.runs.Recent(r.Context(), collection, limit)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []postgres.SyncRun{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, runs)
}
