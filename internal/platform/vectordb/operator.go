package vectordb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/phrazzld/docsync-api/internal/batch"
	"github.com/phrazzld/docsync-api/internal/config"
	"github.com/phrazzld/docsync-api/internal/fanout"
	"github.com/phrazzld/docsync-api/internal/metrics"
)

// Requester sends one request to the vector store.
type Requester interface {
	Request(ctx context.Context, method, endpoint string, headers map[string]string, body any) (*Response, error)
}

// SearchFailure records a collection that could not be searched.
type SearchFailure struct {
	Collection string
	Err        error
}

// Operator implements collection and document operations on top of a
// Requester.
type Operator struct {
	client      Requester
	recordLimit int
	retryTimes  int
	cache       *queryCache
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewOperator creates an Operator. A zero query cache TTL disables caching.
func NewOperator(client Requester, cfg config.VectorDBConfig, logger *slog.Logger, m *metrics.Metrics) *Operator {
	limit := cfg.RecordLimit
	if limit <= 0 {
		limit = 100
	}
	return &Operator{
		client:      client,
		recordLimit: limit,
		retryTimes:  cfg.RetryTimes,
		cache:       newQueryCache(cfg.QueryCacheTTL),
		logger:      logger.With("component", "vectordb_operator"),
		metrics:     m,
	}
}

// RetryTimes returns the configured retry budget for record writes.
func (o *Operator) RetryTimes() int {
	return o.retryTimes
}

// Close releases the query cache.
func (o *Operator) Close() {
	o.cache.stop()
}

func collectionHeader(name string) map[string]string {
	return map[string]string{"collection-name": name}
}

// expectSuccess turns a non-success envelope into an *Error.
func (o *Operator) expectSuccess(resp *Response) error {
	if resp.Succeeded() {
		return nil
	}
	o.logFailure(resp)
	return &Error{Code: resp.Code, Detail: resp.Msg}
}

func (o *Operator) logFailure(resp *Response) {
	o.logger.Warn("vector db request failed",
		"code", resp.Code,
		"status", StatusText(resp.Code),
		"msg", resp.Msg,
		"raw_response", truncate(resp.Data))
}

// CreateCollection creates a collection.
func (o *Operator) CreateCollection(ctx context.Context, c Collection) error {
	if err := validateStruct(c); err != nil {
		return err
	}
	resp, err := o.client.Request(ctx, http.MethodPost, "/collection/create", map[string]string{}, c)
	if err != nil {
		return fmt.Errorf("create collection %s: %w", c.Name, err)
	}
	if err := o.expectSuccess(resp); err != nil {
		return fmt.Errorf("create collection %s: %w", c.Name, err)
	}
	return nil
}

// DeleteCollection drops a collection.
func (o *Operator) DeleteCollection(ctx context.Context, name string) error {
	body := map[string]string{"collection_name": name}
	resp, err := o.client.Request(ctx, http.MethodPost, "/collection/delete", map[string]string{}, body)
	if err != nil {
		return fmt.Errorf("delete collection %s: %w", name, err)
	}
	if err := o.expectSuccess(resp); err != nil {
		return fmt.Errorf("delete collection %s: %w", name, err)
	}
	o.cache.invalidate(name)
	return nil
}

// AddRecords creates records, updating those the store already holds. It
// returns, per record, whether the write succeeded.
func (o *Operator) AddRecords(ctx context.Context, recordType, collection string, records []Record, retryTimes int) ([]bool, error) {
	if err := validateRecords(recordType, records); err != nil {
		return nil, err
	}
	defer o.cache.invalidate(collection)

	o.logger.Debug("adding records", "collection", collection, "records", len(records))
	return batch.Apply(ctx, batch.Plan[Record]{
		Attempt:     o.createAttempt(recordType, collection),
		OnDuplicate: o.updateAttempt(recordType, collection),
		ID:          recordID,
		RetryBudget: retryTimes,
		Limit:       o.recordLimit,
		Logger:      o.logger.With("collection", collection, "op", "add"),
		Metrics:     o.metrics,
	}, records)
}

// UpdateRecords updates existing records. It returns, per record, whether
// the write succeeded.
func (o *Operator) UpdateRecords(ctx context.Context, recordType, collection string, records []Record, retryTimes int) ([]bool, error) {
	if err := validateRecords(recordType, records); err != nil {
		return nil, err
	}
	defer o.cache.invalidate(collection)

	o.logger.Debug("updating records", "collection", collection, "records", len(records))
	return batch.Apply(ctx, batch.Plan[Record]{
		Attempt:     o.updateAttempt(recordType, collection),
		ID:          recordID,
		RetryBudget: retryTimes,
		Limit:       o.recordLimit,
		Logger:      o.logger.With("collection", collection, "op", "update"),
		Metrics:     o.metrics,
	}, records)
}

// QueryRecords searches one collection.
func (o *Operator) QueryRecords(ctx context.Context, collection string, q QueryParam) ([]Hit, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if hits, ok := o.cache.get(collection, q); ok {
		o.logger.Debug("query cache hit", "collection", collection)
		return hits, nil
	}
	gen := o.cache.generation(collection)

	resp, err := o.client.Request(ctx, http.MethodPost, "/documents/search", collectionHeader(collection), q)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	if err := o.expectSuccess(resp); err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}

	var hits []Hit
	if len(resp.Data) > 0 && string(resp.Data) != "null" {
		if err := json.Unmarshal(resp.Data, &hits); err != nil {
			return nil, fmt.Errorf("query %s: %w: decoding hits: %v", collection, ErrRequestFailed, err)
		}
	}
	o.cache.set(collection, gen, q, hits)
	return hits, nil
}

// DeleteRecords deletes the documents matching every filter.
func (o *Operator) DeleteRecords(ctx context.Context, collection string, filters []Filter) error {
	for _, f := range filters {
		if err := validateStruct(f); err != nil {
			return err
		}
	}
	body := map[string]any{"filters": filters}
	resp, err := o.client.Request(ctx, http.MethodPost, "/documents/delete", collectionHeader(collection), body)
	if err != nil {
		return fmt.Errorf("delete records from %s: %w", collection, err)
	}
	o.cache.invalidate(collection)
	if err := o.expectSuccess(resp); err != nil {
		return fmt.Errorf("delete records from %s: %w", collection, err)
	}
	return nil
}

// MultiSearch searches several collections concurrently and merges the hits
// by descending score. Collections that fail are reported, not fatal.
func (o *Operator) MultiSearch(ctx context.Context, collections []string, q QueryParam) ([]Hit, []SearchFailure, error) {
	if err := q.Validate(); err != nil {
		return nil, nil, err
	}

	g := fanout.NewGroup[[]Hit](0)
	for _, name := range collections {
		g.Add(func(ctx context.Context) ([]Hit, error) {
			hits, err := o.QueryRecords(ctx, name, q)
			if err != nil {
				return nil, err
			}
			tagged := make([]Hit, len(hits))
			for i, h := range hits {
				t := make(Hit, len(h)+1)
				for k, v := range h {
					t[k] = v
				}
				t["collection"] = name
				tagged[i] = t
			}
			return tagged, nil
		})
	}

	var merged []Hit
	var failures []SearchFailure
	for _, r := range g.RunAllCapturing(ctx) {
		if r.Err != nil {
			o.logger.Warn("collection search failed",
				"collection", collections[r.Index],
				"error", r.Err)
			failures = append(failures, SearchFailure{Collection: collections[r.Index], Err: r.Err})
			continue
		}
		merged = append(merged, r.Value...)
	}

	sorted, err := fanout.SortByKey(ctx, merged, func(ctx context.Context, h Hit) (float64, error) {
		return h.Score(), nil
	}, true)
	if err != nil {
		return nil, failures, err
	}
	return sorted, failures, nil
}

func (o *Operator) createAttempt(recordType, collection string) batch.Attempt[Record] {
	return func(ctx context.Context, records []Record) (batch.Outcome, error) {
		body := map[string]any{
			"type": recordType,
			"data": wrapProperties(records),
			"segmentation": map[string]any{
				"chunk_size":    0,
				"chunk_overlap": 0,
				"separators":    []string{"(?!)"},
			},
		}
		resp, err := o.client.Request(ctx, http.MethodPost, "/documents/create", collectionHeader(collection), body)
		if err != nil {
			return batch.Outcome{}, err
		}
		return o.classify(resp), nil
	}
}

func (o *Operator) updateAttempt(recordType, collection string) batch.Attempt[Record] {
	return func(ctx context.Context, records []Record) (batch.Outcome, error) {
		data := make([]map[string]any, len(records))
		for i, r := range records {
			data[i] = r.Properties()
		}
		body := map[string]any{"type": recordType, "data": data}
		resp, err := o.client.Request(ctx, http.MethodPost, "/documents/update", collectionHeader(collection), body)
		if err != nil {
			return batch.Outcome{}, err
		}
		return o.classify(resp), nil
	}
}

// classify maps a write response to a batch outcome.
func (o *Operator) classify(resp *Response) batch.Outcome {
	if resp.Succeeded() {
		return batch.Succeeded()
	}
	duplicates, failed, found := resp.partialIDs()
	o.logFailure(resp)
	switch {
	case !found:
		return batch.FatalOf(fmt.Sprintf("vector database error %d: %s", resp.Code, resp.Msg))
	case duplicates != nil:
		return batch.DuplicateOf(duplicates...)
	default:
		return batch.FailedOf(failed...)
	}
}

func wrapProperties(records []Record) []map[string]any {
	data := make([]map[string]any, len(records))
	for i, r := range records {
		data[i] = map[string]any{"properties": r.Properties()}
	}
	return data
}

func recordID(r Record) string {
	return r.DocID
}

func validateRecords(recordType string, records []Record) error {
	switch recordType {
	case TypeText, TypeTextJSON, TypeTextHTML:
	default:
		return fmt.Errorf("%w: unknown record type %q", ErrInvalidInput, recordType)
	}
	for _, r := range records {
		if err := validateStruct(r); err != nil {
			return err
		}
	}
	return nil
}
