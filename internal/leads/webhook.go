package leads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/phase-funnel/internal/pkg/httpretry"
	"github.com/ignite/phase-funnel/internal/tracking"
)

// WebhookSink posts each lead as JSON to an external URL, retrying 429 and
// 5xx responses.
type WebhookSink struct {
	url        string
	httpClient httpretry.HTTPDoer
}

func NewWebhookSink(url string, maxRetries int) *WebhookSink {
	return &WebhookSink{
		url:        url,
		httpClient: httpretry.NewRetryClient(&http.Client{Timeout: 10 * time.Second}, maxRetries, httpretry.DefaultBackoff),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing)
func (s *WebhookSink) SetHTTPClient(client httpretry.HTTPDoer) {
	s.httpClient = client
}

func (s *WebhookSink) Name() string { return "webhook" }

type webhookPayload struct {
	Event string `json:"event"`
	Lead  Lead   `json:"lead"`
}

func (s *WebhookSink) Deliver(ctx context.Context, lead Lead) error {
	body, err := json.Marshal(webhookPayload{Event: "lead.created", Lead: lead})
	if err != nil {
		return fmt.Errorf("marshal lead: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", lead.ID)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &tracking.DeliveryError{Channel: "webhook", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &tracking.DeliveryError{Channel: "webhook", Status: resp.StatusCode, Err: fmt.Errorf("unexpected status")}
	}
	return nil
}
