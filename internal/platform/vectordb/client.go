package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/docsync-api/internal/config"
	"github.com/phrazzld/docsync-api/internal/metrics"
	"github.com/phrazzld/docsync-api/internal/task"
)

// logTruncate bounds request and response bodies in log lines.
const logTruncate = 256

// Response is the vector store's response envelope.
type Response struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// Succeeded reports whether the envelope carries the success code.
func (r *Response) Succeeded() bool {
	return r.Code == StatusSuccess
}

// partialIDs extracts duplicate_ids and failed_ids from an object payload.
func (r *Response) partialIDs() (duplicates, failed []string, found bool) {
	var data struct {
		DuplicateIDs *[]string `json:"duplicate_ids"`
		FailedIDs    *[]string `json:"failed_ids"`
	}
	if err := json.Unmarshal(r.Data, &data); err != nil {
		return nil, nil, false
	}
	switch {
	case data.DuplicateIDs != nil:
		return *data.DuplicateIDs, nil, true
	case data.FailedIDs != nil:
		return nil, *data.FailedIDs, true
	default:
		return nil, nil, false
	}
}

// Client sends requests to the vector store through a throttled queue.
type Client struct {
	baseURL string
	http    *http.Client
	queue   *task.ThrottledQueue
	logger  *slog.Logger
}

// NewClient creates a client from cfg. The queue's consumer starts with the
// first request.
func NewClient(cfg config.VectorDBConfig, logger *slog.Logger, m *metrics.Metrics) *Client {
	logger = logger.With("component", "vectordb")
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		queue: task.NewThrottledQueue(task.QueueConfig{
			Interval: cfg.RequestInterval,
			Capacity: cfg.QueueSize,
		}, logger, m),
		logger: logger,
	}
}

// Request sends one request. endpoint must start with "/". A transport
// failure, a non-200 status or an undecodable body yields ErrRequestFailed.
func (c *Client) Request(
	ctx context.Context,
	method string,
	endpoint string,
	headers map[string]string,
	body any,
) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	c.queue.Start(context.Background())
	future, err := c.queue.Enqueue(ctx, func(ctx context.Context) (any, error) {
		return c.send(ctx, method, endpoint, headers, payload)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule request: %w", err)
	}

	return task.Await[*Response](ctx, future)
}

func (c *Client) send(
	ctx context.Context,
	method string,
	endpoint string,
	headers map[string]string,
	payload []byte,
) (*Response, error) {
	url := c.baseURL + endpoint
	log := c.logger.With("url", url, "method", method)
	log.Info("request vector db")

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn("vector db request error",
			"error", err,
			"cost", time.Since(start))
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrRequestFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Error("vector db answered with unexpected status",
			"headers", headers,
			"json", truncate(payload),
			"status_code", resp.StatusCode,
			"body", truncate(raw))
		return nil, fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}

	var envelope Response
	if err := json.Unmarshal(raw, &envelope); err != nil {
		log.Error("vector db answered with invalid json",
			"error", err,
			"body", truncate(raw))
		return nil, fmt.Errorf("%w: decoding body: %v", ErrRequestFailed, err)
	}

	log.Info("vector db response",
		"headers", headers,
		"json", truncate(payload),
		"response", truncate(raw),
		"cost", time.Since(start))

	return &envelope, nil
}

// Close stops the request queue. Queued requests fail.
func (c *Client) Close() {
	c.queue.Stop()
}

func truncate(b []byte) string {
	if len(b) > logTruncate {
		return string(b[:logTruncate]) + "..."
	}
	return string(b)
}
