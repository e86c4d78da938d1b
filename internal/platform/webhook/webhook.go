// Package webhook posts plain text messages to a chat group webhook.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrSendFailed is returned when the webhook does not answer 200.
var ErrSendFailed = errors.New("webhook send failed")

// mentionAll prefixes every message so the whole group is notified.
const mentionAll = `<at user_id="all"></at>`

// Notifier posts messages to one webhook URL. A Notifier with an empty URL
// drops every message.
type Notifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// New creates a Notifier for url.
func New(url string, logger *slog.Logger) *Notifier {
	return &Notifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.With("component", "webhook"),
	}
}

// Enabled reports whether a webhook URL is configured.
func (n *Notifier) Enabled() bool {
	return n.url != ""
}

type textContent struct {
	Text string `json:"text"`
}

type textMessage struct {
	MsgType string `json:"msg_type"`
	// Content is the JSON-encoded textContent, as the webhook expects.
	Content string `json:"content"`
}

// Send posts message as a text message.
func (n *Notifier) Send(ctx context.Context, message string) error {
	if !n.Enabled() {
		n.logger.Debug("webhook disabled, dropping message")
		return nil
	}

	content, err := json.Marshal(textContent{Text: mentionAll + " \n" + message})
	if err != nil {
		return fmt.Errorf("failed to encode message content: %w", err)
	}
	body, err := json.Marshal(textMessage{MsgType: "text", Content: string(content)})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		n.logger.Error("webhook rejected message", "status_code", resp.StatusCode)
		return fmt.Errorf("%w: status %d", ErrSendFailed, resp.StatusCode)
	}
	return nil
}
