package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/phase-funnel/internal/pkg/httpretry"
)

// ServerChannel is channel B: delivery through the server endpoint.
type ServerChannel interface {
	Send(ctx context.Context, req ForwardRequest) error
}

// HTTPChannel posts ForwardRequests to the conversions endpoint. It makes
// exactly one attempt per call.
type HTTPChannel struct {
	endpoint string
	client   httpretry.HTTPDoer
}

func NewHTTPChannel(endpoint string, client httpretry.HTTPDoer) *HTTPChannel {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPChannel{endpoint: endpoint, client: client}
}

type forwardResponse struct {
	Success bool `json:"success"`
}

func (c *HTTPChannel) Send(ctx context.Context, fr ForwardRequest) error {
	body, err := json.Marshal(fr)
	if err != nil {
		return fmt.Errorf("marshal forward request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build forward request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if fr.UserAgent != "" {
		req.Header.Set("User-Agent", fr.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &DeliveryError{Channel: "server", Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{Channel: "server", Status: resp.StatusCode, Err: fmt.Errorf("%s", bytes.TrimSpace(raw))}
	}
	var out forwardResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return &DeliveryError{Channel: "server", Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if !out.Success {
		return &DeliveryError{Channel: "server", Status: resp.StatusCode, Err: fmt.Errorf("upstream rejected event %s", fr.EventID)}
	}
	return nil
}

// ChannelFunc adapts a function to ServerChannel. The server wires it
// straight to the forwarder, skipping the HTTP hop.
type ChannelFunc func(ctx context.Context, req ForwardRequest) error

func (f ChannelFunc) Send(ctx context.Context, req ForwardRequest) error { return f(ctx, req) }
