package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"cvewatch/internal/model"
)

// WebhookNotifier sends a report to a configured webhook endpoint.
type WebhookNotifier struct {
	URL     string
	Headers map[string]string
	Client  *http.Client
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(extras model.WebhookExtras) *WebhookNotifier {
	return &WebhookNotifier{
		URL:     extras.URL,
		Headers: extras.Headers,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Send issues a single POST with the serialized report. Any non-2xx response
// or transport error is returned as a failure; there is no automatic retry.
func (n *WebhookNotifier) Send(ctx context.Context, report *model.Report) (int, error) {
	if n.URL == "" {
		return 0, fmt.Errorf("webhook URL is not configured")
	}

	body, err := json.Marshal(report)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal report payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", n.URL, bytes.NewBuffer(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range n.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send webhook notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("webhook notification failed with status %d: %s", resp.StatusCode, string(text))
	}

	return resp.StatusCode, nil
}
