package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/docsync-api/internal/api/shared"
	"github.com/phrazzld/docsync-api/internal/platform/logger"
	"github.com/phrazzld/docsync-api/internal/platform/postgres"
	"github.com/phrazzld/docsync-api/internal/platform/vectordb"
	"github.com/phrazzld/docsync-api/internal/supervisor"
)

// Write modes accepted by the mode query parameter.
const (
	modeAdd    = "add"
	modeUpdate = "update"
)

// RecordRequest is one document in a write request.
type RecordRequest struct {
	DocID string         `json:"doc_id" validate:"required"`
	Text  string         `json:"text" validate:"required"`
	Extra map[string]any `json:"extra,omitempty"`
}

// WriteDocumentsRequest is the body of a document write.
type WriteDocumentsRequest struct {
	Type       string          `json:"type" validate:"required,oneof=text text_json text_html"`
	Records    []RecordRequest `json:"records" validate:"required,min=1,dive"`
	RetryTimes *int            `json:"retry_times,omitempty" validate:"omitempty,gte=0,lte=10"`
}

// WriteDocumentsResponse reports which records were written.
type WriteDocumentsResponse struct {
	Total     int      `json:"total"`
	Failed    int      `json:"failed"`
	Results   []bool   `json:"results"`
	FailedIDs []string `json:"failed_ids,omitempty"`
}

// AsyncWriteResponse is returned when a write continues in the background.
type AsyncWriteResponse struct {
	TaskID    string `json:"task_id"`
	RequestID string `json:"request_id,omitempty"`
}

// DeleteDocumentsRequest is the body of a delete by filters.
type DeleteDocumentsRequest struct {
	Filters []vectordb.Filter `json:"filters" validate:"required,min=1,dive"`
}

// DocumentHandler handles document writes and deletes.
type DocumentHandler struct {
	store    VectorStore
	runs     RunHistory
	timeFunc func() time.Time
}

// NewDocumentHandler creates a DocumentHandler. runs may be nil, in which
// case writes are not recorded.
func NewDocumentHandler(store VectorStore, runs RunHistory) *DocumentHandler {
	return &DocumentHandler{store: store, runs: runs, timeFunc: time.Now}
}

// WriteDocuments handles POST /api/v1/collections/{name}/documents requests.
// mode=update updates instead of adding; async=true answers 202 and lets the
// write finish as a supervised task.
func (h *DocumentHandler) WriteDocuments(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "name")
	if collection == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Collection name is required")
		return
	}

	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = modeAdd
	}
	if mode != modeAdd && mode != modeUpdate {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid mode: must be add or update")
		return
	}

	async := false
	if raw := r.URL.Query().Get("async"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid async flag")
			return
		}
		async = parsed
	}

	var req WriteDocumentsRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	records := make([]vectordb.Record, len(req.Records))
	for i, rec := range req.Records {
		records[i] = vectordb.Record{DocID: rec.DocID, Text: rec.Text, Extra: rec.Extra}
	}
	retryTimes := h.store.RetryTimes()
	if req.RetryTimes != nil {
		retryTimes = *req.RetryTimes
	}

	if async {
		t := supervisor.Go(r.Context(), "write_documents", func(ctx context.Context) error {
			_, err := h.write(ctx, mode, req.Type, collection, records, retryTimes)
			return err
		})
		resp := AsyncWriteResponse{TaskID: t.ID()}
		if rc := supervisor.FromContext(r.Context()); rc != nil {
			resp.RequestID = rc.ID()
		}
		logger.FromContext(r.Context()).Info("document write accepted",
			"collection", collection,
			"mode", mode,
			"records", len(records),
			"task_id", t.ID())
		shared.RespondWithJSON(w, r, http.StatusAccepted, resp)
		return
	}

	results, err := h.write(r.Context(), mode, req.Type, collection, records, retryTimes)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	resp := WriteDocumentsResponse{Total: len(results), Results: results}
	for i, ok := range results {
		if !ok {
			resp.Failed++
			resp.FailedIDs = append(resp.FailedIDs, records[i].DocID)
		}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// write applies the records and records the run.
func (h *DocumentHandler) write(
	ctx context.Context,
	mode, recordType, collection string,
	records []vectordb.Record,
	retryTimes int,
) ([]bool, error) {
	started := h.timeFunc()

	var results []bool
	var err error
	operation := postgres.OperationAdd
	if mode == modeUpdate {
		operation = postgres.OperationUpdate
		results, err = h.store.UpdateRecords(ctx, recordType, collection, records, retryTimes)
	} else {
		results, err = h.store.AddRecords(ctx, recordType, collection, records, retryTimes)
	}

	failed := len(records)
	if err == nil {
		failed = 0
		for _, ok := range results {
			if !ok {
				failed++
			}
		}
	}
	h.recordRun(ctx, postgres.SyncRun{
		Collection: collection,
		Operation:  operation,
		Total:      len(records),
		Failed:     failed,
		StartedAt:  started,
	}, err)

	return results, err
}

// DeleteDocuments handles DELETE /api/v1/collections/{name}/documents requests.
func (h *DocumentHandler) DeleteDocuments(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "name")
	if collection == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Collection name is required")
		return
	}

	var req DeleteDocumentsRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	started := h.timeFunc()
	err := h.store.DeleteRecords(r.Context(), collection, req.Filters)
	failed := 0
	if err != nil {
		failed = len(req.Filters)
	}
	h.recordRun(r.Context(), postgres.SyncRun{
		Collection: collection,
		Operation:  postgres.OperationDelete,
		Total:      len(req.Filters),
		Failed:     failed,
		StartedAt:  started,
	}, err)

	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// recordRun stores run when run history is enabled. It runs even when ctx
// has been cancelled so interrupted writes are still visible.
func (h *DocumentHandler) recordRun(ctx context.Context, run postgres.SyncRun, runErr error) {
	if h.runs == nil {
		return
	}
	log := logger.FromContext(ctx)

	run.FinishedAt = h.timeFunc()
	if runErr != nil {
		run.ErrorMessage = runErr.Error()
	}
	if err := h.runs.Record(context.WithoutCancel(ctx), &run); err != nil {
		log.Error("failed to record sync run",
			"error", err,
			"collection", run.Collection,
			"operation", run.Operation)
	}
}
