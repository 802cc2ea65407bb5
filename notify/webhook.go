package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookDispatcher posts notification events to the platform's fan-out
// endpoint, which owns real-time and email delivery plus its own
// retry/backoff policy.
type WebhookDispatcher struct {
	url    string
	client *http.Client
}

// NewWebhookDispatcher builds a dispatcher for the given endpoint.
func NewWebhookDispatcher(url string, timeout time.Duration) *WebhookDispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookDispatcher{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Dispatch posts one event. Any non-2xx response is an error; the caller
// decides whether that matters.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, targetUserID, eventType string, payload map[string]any) error {
	body, err := json.Marshal(map[string]any{
		"target_user_id": targetUserID,
		"event_type":     eventType,
		"payload":        payload,
	})
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: dispatch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: dispatch: unexpected status %d", resp.StatusCode)
	}
	return nil
}
