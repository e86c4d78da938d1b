package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/docsync-api/internal/platform/postgres"
	"github.com/phrazzld/docsync-api/internal/platform/vectordb"
)

type writeCall struct {
	mode       string
	recordType string
	collection string
	records    []vectordb.Record
	retryTimes int
}

type fakeVectorStore struct {
	mu sync.Mutex

	createErr  error
	deleteErr  error
	writeErr   error
	results    []bool
	queryErr   error
	hits       []vectordb.Hit
	failures   []vectordb.SearchFailure
	writeGate  chan struct{}
	created    []vectordb.Collection
	deleted    []string
	writes     []writeCall
	queries    []vectordb.QueryParam
	deletes    [][]vectordb.Filter
	searchedIn []string
}

func (f *fakeVectorStore) CreateCollection(ctx context.Context, c vectordb.Collection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, c)
	return f.createErr
}

func (f *fakeVectorStore) DeleteCollection(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	return f.deleteErr
}

func (f *fakeVectorStore) write(ctx context.Context, mode, recordType, collection string, records []vectordb.Record, retryTimes int) ([]bool, error) {
	if f.writeGate != nil {
		select {
		case <-f.writeGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, writeCall{mode, recordType, collection, records, retryTimes})
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	if f.results != nil {
		return f.results, nil
	}
	out := make([]bool, len(records))
	for i := range out {
		out[i] = true
	}
	return out, nil
}

func (f *fakeVectorStore) AddRecords(ctx context.Context, recordType, collection string, records []vectordb.Record, retryTimes int) ([]bool, error) {
	return f.write(ctx, modeAdd, recordType, collection, records, retryTimes)
}

func (f *fakeVectorStore) UpdateRecords(ctx context.Context, recordType, collection string, records []vectordb.Record, retryTimes int) ([]bool, error) {
	return f.write(ctx, modeUpdate, recordType, collection, records, retryTimes)
}

func (f *fakeVectorStore) QueryRecords(ctx context.Context, collection string, q vectordb.QueryParam) ([]vectordb.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.hits, f.queryErr
}

func (f *fakeVectorStore) DeleteRecords(ctx context.Context, collection string, filters []vectordb.Filter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, filters)
	return f.deleteErr
}

func (f *fakeVectorStore) MultiSearch(ctx context.Context, collections []string, q vectordb.QueryParam) ([]vectordb.Hit, []vectordb.SearchFailure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchedIn = append(f.searchedIn, collections...)
	f.queries = append(f.queries, q)
	return f.hits, f.failures, f.queryErr
}

func (f *fakeVectorStore) RetryTimes() int { return 2 }

func (f *fakeVectorStore) writeCalls() []writeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]writeCall(nil), f.writes...)
}

type fakeRunHistory struct {
	mu        sync.Mutex
	recorded  []postgres.SyncRun
	recent    []postgres.SyncRun
	recentErr error
	limits    []int
}

func (f *fakeRunHistory) Record(ctx context.Context, run *postgres.SyncRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, *run)
	return nil
}

func (f *fakeRunHistory) Recent(ctx context.Context, collection string, limit int) ([]postgres.SyncRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, limit)
	return f.recent, f.recentErr
}

func (f *fakeRunHistory) runs() []postgres.SyncRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]postgres.SyncRun(nil), f.recorded...)
}

func newTestRouter(store VectorStore, runs RunHistory) http.Handler {
	collections := NewCollectionHandler(store)
	documents := NewDocumentHandler(store, runs)
	search := NewSearchHandler(store)
	history := NewRunHandler(runs)

	r := chi.NewRouter()
	r.Get("/api/", Hello)
	r.Post("/collections", collections.CreateCollection)
	r.Delete("/collections/{name}", collections.DeleteCollection)
	r.Post("/collections/{name}/documents", documents.WriteDocuments)
	r.Delete("/collections/{name}/documents", documents.DeleteDocuments)
	r.Post("/collections/{name}/search", search.Search)
	r.Get("/collections/{name}/runs", history.ListRuns)
	r.Post("/search", search.MultiSearch)
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHello(t *testing.T) {
	t.Parallel()

	w := doRequest(t, newTestRouter(&fakeVectorStore{}, nil), http.MethodGet, "/api/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"code":3020,"msg":"hello"}`, w.Body.String())
}

func TestCreateCollection(t *testing.T) {
	t.Parallel()

	t.Run("created", func(t *testing.T) {
		t.Parallel()
		store := &fakeVectorStore{}
		w := doRequest(t, newTestRouter(store, nil), http.MethodPost, "/collections", map[string]any{
			"collection_name":     "docs",
			"extra_field_schemas": []map[string]string{{"data_type": "keyword", "name": "lang"}},
		})
		assert.Equal(t, http.StatusCreated, w.Code)
		require.Len(t, store.created, 1)
		assert.Equal(t, "docs", store.created[0].Name)
		assert.Equal(t, "lang", store.created[0].ExtraFields[0].Name)
	})

	t.Run("missing name", func(t *testing.T) {
		t.Parallel()
		store := &fakeVectorStore{}
		w := doRequest(t, newTestRouter(store, nil), http.MethodPost, "/collections", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, store.created)
	})

	t.Run("unknown field", func(t *testing.T) {
		t.Parallel()
		w := doRequest(t, newTestRouter(&fakeVectorStore{}, nil), http.MethodPost, "/collections",
			map[string]any{"collection_name": "docs", "owner": "x"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("store duplication", func(t *testing.T) {
		t.Parallel()
		store := &fakeVectorStore{createErr: fmt.Errorf("create collection docs: %w",
			&vectordb.Error{Code: vectordb.StatusDataDuplication, Detail: "exists"})}
		w := doRequest(t, newTestRouter(store, nil), http.MethodPost, "/collections",
			map[string]any{"collection_name": "docs"})
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestDeleteCollection(t *testing.T) {
	t.Parallel()

	store := &fakeVectorStore{}
	w := doRequest(t, newTestRouter(store, nil), http.MethodDelete, "/collections/docs", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"docs"}, store.deleted)

	failing := &fakeVectorStore{deleteErr: vectordb.ErrRequestFailed}
	w = doRequest(t, newTestRouter(failing, nil), http.MethodDelete, "/collections/docs", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func writeBody(ids ...string) map[string]any {
	records := make([]map[string]any, len(ids))
	for i, id := range ids {
		records[i] = map[string]any{"doc_id": id, "text": "text of " + id}
	}
	return map[string]any{"type": "text", "records": records}
}

func TestWriteDocuments(t *testing.T) {
	t.Parallel()

	t.Run("add reports per record results and records the run", func(t *testing.T) {
		t.Parallel()
		store := &fakeVectorStore{results: []bool{true, false, true}}
		runs := &fakeRunHistory{}
		w := doRequest(t, newTestRouter(store, runs), http.MethodPost, "/collections/docs/documents", writeBody("a", "b", "c"))

		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeBody[WriteDocumentsResponse](t, w)
		assert.Equal(t, 3, resp.Total)
		assert.Equal(t, 1, resp.Failed)
		assert.Equal(t, []bool{true, false, true}, resp.Results)
		assert.Equal(t, []string{"b"}, resp.FailedIDs)

		calls := store.writeCalls()
		require.Len(t, calls, 1)
		assert.Equal(t, modeAdd, calls[0].mode)
		assert.Equal(t, "docs", calls[0].collection)
		assert.Equal(t, 2, calls[0].retryTimes)

		recorded := runs.runs()
		require.Len(t, recorded, 1)
		assert.Equal(t, postgres.OperationAdd, recorded[0].Operation)
		assert.Equal(t, 3, recorded[0].Total)
		assert.Equal(t, 1, recorded[0].Failed)
		assert.Empty(t, recorded[0].ErrorMessage)
	})

	t.Run("update mode with explicit retry budget", func(t *testing.T) {
		t.Parallel()
		store := &fakeVectorStore{}
		body := writeBody("a")
		body["retry_times"] = 0
		w := doRequest(t, newTestRouter(store, nil), http.MethodPost, "/collections/docs/documents?mode=update", body)

		require.Equal(t, http.StatusOK, w.Code)
		calls := store.writeCalls()
		require.Len(t, calls, 1)
		assert.Equal(t, modeUpdate, calls[0].mode)
		assert.Equal(t, 0, calls[0].retryTimes)
	})

	t.Run("fatal write is reported and recorded", func(t *testing.T) {
		t.Parallel()
		store := &fakeVectorStore{writeErr: vectordb.ErrRequestFailed}
		runs := &fakeRunHistory{}
		w := doRequest(t, newTestRouter(store, runs), http.MethodPost, "/collections/docs/documents", writeBody("a", "b"))

		assert.Equal(t, http.StatusBadGateway, w.Code)
		recorded := runs.runs()
		require.Len(t, recorded, 1)
		assert.Equal(t, 2, recorded[0].Failed)
		assert.NotEmpty(t, recorded[0].ErrorMessage)
	})

	t.Run("bad requests", func(t *testing.T) {
		t.Parallel()
		store := &fakeVectorStore{}
		router := newTestRouter(store, nil)

		w := doRequest(t, router, http.MethodPost, "/collections/docs/documents?mode=merge", writeBody("a"))
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = doRequest(t, router, http.MethodPost, "/collections/docs/documents?async=maybe", writeBody("a"))
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = doRequest(t, router, http.MethodPost, "/collections/docs/documents", map[string]any{"type": "text"})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = doRequest(t, router, http.MethodPost, "/collections/docs/documents",
			map[string]any{"type": "pdf", "records": []map[string]any{{"doc_id": "a", "text": "x"}}})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		assert.Empty(t, store.writeCalls())
	})
}

func TestWriteDocuments_AsyncContinuesAfterResponse(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	store := &fakeVectorStore{writeGate: gate}
	runs := &fakeRunHistory{}

	w := doRequest(t, newTestRouter(store, runs), http.MethodPost, "/collections/docs/documents?async=true", writeBody("a", "b"))
	require.Equal(t, http.StatusAccepted, w.Code)
	resp := decodeBody[AsyncWriteResponse](t, w)
	assert.NotEmpty(t, resp.TaskID)
	assert.Empty(t, store.writeCalls())

	close(gate)
	require.Eventually(t, func() bool {
		return len(store.writeCalls()) == 1 && len(runs.runs()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, runs.runs()[0].Failed)
}

func TestDeleteDocuments(t *testing.T) {
	t.Parallel()

	store := &fakeVectorStore{}
	runs := &fakeRunHistory{}
	router := newTestRouter(store, runs)

	w := doRequest(t, router, http.MethodDelete, "/collections/docs/documents", map[string]any{
		"filters": []map[string]any{
			{"field_name": "doc_id", "value": []string{"a", "b"}, "operator": "contains_any"},
		},
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
	require.Len(t, store.deletes, 1)
	assert.Equal(t, []string{"a", "b"}, store.deletes[0][0].Values)
	require.Len(t, runs.runs(), 1)
	assert.Equal(t, postgres.OperationDelete, runs.runs()[0].Operation)

	w = doRequest(t, router, http.MethodDelete, "/collections/docs/documents", map[string]any{"filters": []any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, store.deletes, 1)
}

func TestSearch(t *testing.T) {
	t.Parallel()

	store := &fakeVectorStore{hits: []vectordb.Hit{{"doc_id": "a", "score": 0.9}}}
	router := newTestRouter(store, nil)

	w := doRequest(t, router, http.MethodPost, "/collections/docs/search", map[string]any{"query": "hello"})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[SearchResponse](t, w)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "a", resp.Hits[0]["doc_id"])

	require.Len(t, store.queries, 1)
	assert.Equal(t, vectordb.DefaultRetrievalConfig(), store.queries[0].RetrievalConfig)

	w = doRequest(t, router, http.MethodPost, "/collections/docs/search",
		map[string]any{"query": "hello", "retrieval_config": map[string]any{"limit": 3}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, store.queries[1].RetrievalConfig.Limit)
	assert.Equal(t, vectordb.SearchSemantic, store.queries[1].RetrievalConfig.SearchMethod)

	invalid := &fakeVectorStore{queryErr: fmt.Errorf("%w: query required", vectordb.ErrInvalidInput)}
	w = doRequest(t, newTestRouter(invalid, nil), http.MethodPost, "/collections/docs/search", map[string]any{"query": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMultiSearch(t *testing.T) {
	t.Parallel()

	t.Run("partial failures are listed", func(t *testing.T) {
		t.Parallel()
		store := &fakeVectorStore{
			hits:     []vectordb.Hit{{"doc_id": "a", "score": 0.9, "collection": "one"}},
			failures: []vectordb.SearchFailure{{Collection: "two", Err: vectordb.ErrRequestFailed}},
		}
		w := doRequest(t, newTestRouter(store, nil), http.MethodPost, "/search", map[string]any{
			"collections": []string{"one", "two"},
			"param":       map[string]any{"query": "hello"},
		})

		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeBody[SearchResponse](t, w)
		assert.Len(t, resp.Hits, 1)
		require.Len(t, resp.Failures, 1)
		assert.Equal(t, "two", resp.Failures[0].Collection)
		assert.Equal(t, "Vector store request failed", resp.Failures[0].Error)
		assert.Equal(t, []string{"one", "two"}, store.searchedIn)
	})

	t.Run("all failed", func(t *testing.T) {
		t.Parallel()
		store := &fakeVectorStore{
			failures: []vectordb.SearchFailure{{Collection: "one", Err: vectordb.ErrRequestFailed}},
		}
		w := doRequest(t, newTestRouter(store, nil), http.MethodPost, "/search", map[string]any{
			"collections": []string{"one"},
			"param":       map[string]any{"query": "hello"},
		})
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})

	t.Run("no collections", func(t *testing.T) {
		t.Parallel()
		w := doRequest(t, newTestRouter(&fakeVectorStore{}, nil), http.MethodPost, "/search", map[string]any{
			"collections": []string{},
			"param":       map[string]any{"query": "hello"},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()
		w := doRequest(t, newTestRouter(&fakeVectorStore{}, nil), http.MethodGet, "/collections/docs/runs", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("lists recent runs", func(t *testing.T) {
		t.Parallel()
		runs := &fakeRunHistory{recent: []postgres.SyncRun{{Collection: "docs", Operation: postgres.OperationAdd, Total: 3}}}
		w := doRequest(t, newTestRouter(&fakeVectorStore{}, runs), http.MethodGet, "/collections/docs/runs?limit=5", nil)

		require.Equal(t, http.StatusOK, w.Code)
		got := decodeBody[[]postgres.SyncRun](t, w)
		require.Len(t, got, 1)
		assert.Equal(t, 3, got[0].Total)
		assert.Equal(t, []int{5}, runs.limits)
	})

	t.Run("invalid limit", func(t *testing.T) {
		t.Parallel()
		w := doRequest(t, newTestRouter(&fakeVectorStore{}, &fakeRunHistory{}), http.MethodGet, "/collections/docs/runs?limit=0", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		t.Parallel()
		runs := &fakeRunHistory{recentErr: errors.New("connection reset")}
		w := doRequest(t, newTestRouter(&fakeVectorStore{}, runs), http.MethodGet, "/collections/docs/runs", nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "connection reset")
	})
}
