// Package notify delivers chat messages through the bot-gateway collaborator.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"clubsync/internal/metrics"
)

// Action is a button attached to a message. Callback is an opaque string the
// chat collaborator posts back to our action endpoints.
type Action struct {
	Label    string `json:"label"`
	Callback string `json:"callback"`
}

// Notifier delivers a message with optional action buttons to a user or
// channel chat. Delivery is fire-and-forget: the core never blocks state
// transitions on a send and never retries a failed one.
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string, actions []Action) error
}

// HTTPNotifier posts messages to the bot gateway
type HTTPNotifier struct {
	httpClient *http.Client
	url        string
	token      string
	logger     *slog.Logger
}

// NewHTTPNotifier creates a notifier posting to the given gateway URL
func NewHTTPNotifier(url, token string) *HTTPNotifier {
	return &HTTPNotifier{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		url:        url,
		token:      token,
		logger:     slog.Default(),
	}
}

type sendRequest struct {
	ChatID  int64    `json:"chat_id"`
	Text    string   `json:"text"`
	Actions []Action `json:"actions,omitempty"`
}

// Send posts one message. Errors are returned for logging at the call site
// but carry no retry semantics.
func (n *HTTPNotifier) Send(ctx context.Context, chatID int64, text string, actions []Action) error {
	body, err := json.Marshal(sendRequest{ChatID: chatID, Text: text, Actions: actions})
	if err != nil {
		return fmt.Errorf("failed to marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notifier send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("notifier send failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// NopNotifier logs messages and drops them. Used when no gateway is
// configured, so the jobs still advance state.
type NopNotifier struct{}

func (NopNotifier) Send(_ context.Context, chatID int64, text string, _ []Action) error {
	slog.Default().Info("Dropping notification (no gateway)", "chat_id", chatID, "text", text)
	return nil
}

// Deliver sends through any Notifier, logging failures instead of
// propagating them. Used by jobs after their state changes are committed.
func Deliver(ctx context.Context, n Notifier, kind string, chatID int64, text string, actions []Action) {
	if err := n.Send(ctx, chatID, text, actions); err != nil {
		metrics.NotificationsSentTotal.WithLabelValues(kind, metrics.ResultFailure).Inc()
		slog.Default().Warn("Notification delivery failed", "kind", kind, "chat_id", chatID, "error", err)
		return
	}
	metrics.NotificationsSentTotal.WithLabelValues(kind, metrics.ResultSuccess).Inc()
}
