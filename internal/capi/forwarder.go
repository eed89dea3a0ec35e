// Package capi forwards tracked events to the ad platform's Conversions API.
// Person attributes arrive unhashed from channel B and leave hashed.
package capi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/phase-funnel/internal/pkg/distlock"
	"github.com/ignite/phase-funnel/internal/pkg/httpretry"
	"github.com/ignite/phase-funnel/internal/pkg/logger"
	"github.com/ignite/phase-funnel/internal/tracking"
)

const (
	DefaultGraphBaseURL = "https://graph.facebook.com"
	DefaultAPIVersion   = "v21.0"
	DefaultClaimTTL     = 48 * time.Hour

	claimPrefix = "capi:"
)

// ErrInvalidRequest means required tracking fields are missing or malformed.
var ErrInvalidRequest = errors.New("invalid tracking request")

// ErrNotConfigured is wrapped in a DeliveryError when pixel id or token
// are missing.
var ErrNotConfigured = errors.New("conversions API not configured")

// Config holds the platform credentials.
type Config struct {
	PixelID       string
	AccessToken   string
	TestEventCode string
	GraphBaseURL  string
	APIVersion    string
	ClaimTTL      time.Duration
}

// RequestContext is what the forwarder needs from the inbound request.
type RequestContext struct {
	ClientIP  string
	UserAgent string
}

// RequestContextFrom reads the client address from proxy headers.
func RequestContextFrom(r *http.Request) RequestContext {
	return RequestContext{ClientIP: ClientIP(r.Header), UserAgent: r.UserAgent()}
}

// Result describes a successful forward.
type Result struct {
	EventsReceived int
	TraceID        string
	// Replayed is set when the event id was already delivered and the
	// upstream call was skipped.
	Replayed bool
}

// Forwarder posts one event per request to the Conversions API. Each call
// makes at most one upstream attempt.
type Forwarder struct {
	cfg        Config
	httpClient httpretry.HTTPDoer
	claims     distlock.Claims
	log        *logger.Logger
	now        func() time.Time
}

// NewForwarder builds a Forwarder. claims may be nil to disable replay
// protection.
func NewForwarder(cfg Config, claims distlock.Claims, log *logger.Logger) *Forwarder {
	if cfg.GraphBaseURL == "" {
		cfg.GraphBaseURL = DefaultGraphBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = DefaultClaimTTL
	}
	if log == nil {
		log = logger.Default()
	}
	return &Forwarder{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		claims:     claims,
		log:        log,
		now:        time.Now,
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing)
func (f *Forwarder) SetHTTPClient(client httpretry.HTTPDoer) {
	f.httpClient = client
}

// Configured reports whether credentials are present.
func (f *Forwarder) Configured() bool {
	return f.cfg.PixelID != "" && f.cfg.AccessToken != ""
}

// Validate checks the fields a forward cannot do without.
func Validate(fr tracking.ForwardRequest) error {
	if strings.TrimSpace(fr.EventName) == "" {
		return fmt.Errorf("%w: eventName is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(fr.EventID) == "" {
		return fmt.Errorf("%w: eventId is required", ErrInvalidRequest)
	}
	if err := fr.CustomData.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// Forward validates, hashes and posts fr. It returns ErrInvalidRequest for
// bad input and a *tracking.DeliveryError for every upstream failure.
func (f *Forwarder) Forward(ctx context.Context, fr tracking.ForwardRequest, rc RequestContext) (Result, error) {
	if err := Validate(fr); err != nil {
		return Result{}, err
	}
	if !f.Configured() {
		return Result{}, &tracking.DeliveryError{Channel: "capi", Err: ErrNotConfigured}
	}
	if fr.UserAgent == "" {
		fr.UserAgent = rc.UserAgent
	}

	claimed := false
	if f.claims != nil {
		ok, err := f.claims.Claim(ctx, claimPrefix+fr.EventID, f.cfg.ClaimTTL)
		switch {
		case err != nil:
			f.log.Warn("capi: idempotency claim unavailable, sending anyway", "event_id", fr.EventID, "error", err)
		case !ok:
			f.log.Info("capi: duplicate event id skipped", "event_name", fr.EventName, "event_id", fr.EventID)
			return Result{EventsReceived: 1, Replayed: true}, nil
		default:
			claimed = true
		}
	}

	res, err := f.post(ctx, f.buildPayload(fr, rc))
	if err != nil {
		if claimed {
			if rerr := f.claims.Release(context.Background(), claimPrefix+fr.EventID); rerr != nil {
				f.log.Warn("capi: claim release failed", "event_id", fr.EventID, "error", rerr)
			}
		}
		return Result{}, err
	}
	f.log.Info("capi: event delivered", "event_name", fr.EventName, "event_id", fr.EventID, "fbtrace_id", res.TraceID)
	return res, nil
}

type serverEvent struct {
	EventName      string              `json:"event_name"`
	EventTime      int64               `json:"event_time"`
	EventID        string              `json:"event_id"`
	EventSourceURL string              `json:"event_source_url,omitempty"`
	ActionSource   string              `json:"action_source"`
	UserData       UserData            `json:"user_data"`
	CustomData     tracking.CustomData `json:"custom_data,omitempty"`
}

type eventsPayload struct {
	Data          []serverEvent `json:"data"`
	TestEventCode string        `json:"test_event_code,omitempty"`
}

type eventsResponse struct {
	EventsReceived int    `json:"events_received"`
	FBTraceID      string `json:"fbtrace_id"`
	Error          *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

func (f *Forwarder) buildPayload(fr tracking.ForwardRequest, rc RequestContext) eventsPayload {
	ip := rc.ClientIP
	if ip == "" {
		ip = UnknownIP
	}
	return eventsPayload{
		Data: []serverEvent{{
			EventName:      fr.EventName,
			EventTime:      f.now().Unix(),
			EventID:        fr.EventID,
			EventSourceURL: fr.EventSourceURL,
			ActionSource:   "website",
			UserData:       BuildUserData(fr, ip),
			CustomData:     fr.CustomData,
		}},
		TestEventCode: f.cfg.TestEventCode,
	}
}

func (f *Forwarder) endpoint() string {
	base := strings.TrimRight(f.cfg.GraphBaseURL, "/")
	return fmt.Sprintf("%s/%s/%s/events?access_token=%s",
		base, f.cfg.APIVersion, url.PathEscape(f.cfg.PixelID), url.QueryEscape(f.cfg.AccessToken))
}

func (f *Forwarder) post(ctx context.Context, payload eventsPayload) (Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, &tracking.DeliveryError{Channel: "capi", Err: fmt.Errorf("marshal payload: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint(), bytes.NewReader(body))
	if err != nil {
		return Result{}, &tracking.DeliveryError{Channel: "capi", Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Result{}, &tracking.DeliveryError{Channel: "capi", Err: redactToken(err, f.cfg.AccessToken)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, &tracking.DeliveryError{Channel: "capi", Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	var out eventsResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, &tracking.DeliveryError{Channel: "capi", Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if out.Error != nil {
			msg = fmt.Sprintf("%s (code %d)", out.Error.Message, out.Error.Code)
		}
		return Result{}, &tracking.DeliveryError{Channel: "capi", Status: resp.StatusCode, Err: errors.New(msg)}
	}
	if out.EventsReceived != 1 {
		return Result{}, &tracking.DeliveryError{Channel: "capi", Status: resp.StatusCode,
			Err: fmt.Errorf("events_received=%d, want 1", out.EventsReceived)}
	}
	return Result{EventsReceived: out.EventsReceived, TraceID: out.FBTraceID}, nil
}

// redactToken keeps the access token out of logged transport errors, which
// quote the request URL.
func redactToken(err error, token string) error {
	if token == "" {
		return err
	}
	msg := err.Error()
	if !strings.Contains(msg, token) && !strings.Contains(msg, url.QueryEscape(token)) {
		return err
	}
	msg = strings.ReplaceAll(msg, url.QueryEscape(token), "***")
	return errors.New(strings.ReplaceAll(msg, token, "***"))
}
