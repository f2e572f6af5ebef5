package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"stratengine/internal/model"
)

// WebhookNotifier POSTs alerts to an HTTP endpoint. In Discord mode the
// body is a Discord webhook message; otherwise it is the alert event JSON.
type WebhookNotifier struct {
	url     string
	discord bool
	client  *http.Client
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(url string, discord bool) *WebhookNotifier {
	return &WebhookNotifier{
		url:     url,
		discord: discord,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, ev model.AlertEvent) error {
	var payload interface{} = ev
	if w.discord {
		payload = map[string]string{
			"content": fmt.Sprintf("%s **%s**\n%s", icon(ev.Milestone), ev.Title(), ev.Message()),
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}

	log.Printf("[webhook] sent alert: %s", ev.Title())
	return nil
}
