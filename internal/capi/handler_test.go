package capi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/phase-funnel/internal/tracking"
)

type stubSender struct {
	got   tracking.ForwardRequest
	rc    RequestContext
	err   error
	panic bool
}

func (s *stubSender) Forward(_ context.Context, fr tracking.ForwardRequest, rc RequestContext) (Result, error) {
	if s.panic {
		panic("boom")
	}
	s.got, s.rc = fr, rc
	if s.err != nil {
		return Result{}, s.err
	}
	return Result{EventsReceived: 1}, nil
}

func serve(t *testing.T, s Sender, contentType, body string, headers map[string]string) (*httptest.ResponseRecorder, forwardResponse) {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(s, quiet()).Routes(r)

	req := httptest.NewRequest(http.MethodPost, "/api/meta-conversions", strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var out forwardResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestHandleForward(t *testing.T) {
	tests := []struct {
		name        string
		sender      *stubSender
		contentType string
		body        string
		wantStatus  int
		wantSuccess bool
	}{
		{
			name:        "delivered",
			sender:      &stubSender{},
			contentType: "application/json",
			body:        `{"eventName":"Lead","eventId":"evt-1","email":"a@b.co","customData":{"segment":"ira","value":10}}`,
			wantStatus:  http.StatusOK,
			wantSuccess: true,
		},
		{
			name:        "beacon text plain",
			sender:      &stubSender{},
			contentType: "text/plain;charset=UTF-8",
			body:        `{"eventName":"PageView","eventId":"pv_1_Lw"}`,
			wantStatus:  http.StatusOK,
			wantSuccess: true,
		},
		{
			name:        "upstream failure is still 200",
			sender:      &stubSender{err: &tracking.DeliveryError{Channel: "capi", Status: 500, Err: errors.New("x")}},
			contentType: "application/json",
			body:        `{"eventName":"Lead","eventId":"evt-1"}`,
			wantStatus:  http.StatusOK,
			wantSuccess: false,
		},
		{
			name:        "missing event id",
			sender:      &stubSender{},
			contentType: "application/json",
			body:        `{"eventName":"Lead"}`,
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "unknown top-level field",
			sender:      &stubSender{},
			contentType: "application/json",
			body:        `{"eventName":"Lead","eventId":"e","ipAddress":"1.2.3.4"}`,
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "custom data must be flat",
			sender:      &stubSender{},
			contentType: "application/json",
			body:        `{"eventName":"Lead","eventId":"e","customData":{"ok":true}}`,
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "malformed json",
			sender:      &stubSender{},
			contentType: "application/json",
			body:        `{"eventName":`,
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "panic is 500",
			sender:      &stubSender{panic: true},
			contentType: "application/json",
			body:        `{"eventName":"Lead","eventId":"e"}`,
			wantStatus:  http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, out := serve(t, tt.sender, tt.contentType, tt.body, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantSuccess, out.Success)
		})
	}
}

func TestHandleForwardPassesClientContext(t *testing.T) {
	s := &stubSender{}
	rec, _ := serve(t, s, "application/json", `{"eventName":"Lead","eventId":"evt-1","customData":{"k":"v"}}`,
		map[string]string{"X-Forwarded-For": "198.51.100.7, 10.0.0.1", "User-Agent": "UA/1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "198.51.100.7", s.rc.ClientIP)
	assert.Equal(t, "UA/1", s.rc.UserAgent)
	assert.Equal(t, "v", s.got.CustomData["k"])
}

func TestChannelAdapter(t *testing.T) {
	s := &stubSender{}
	ch := Channel(s, RequestContext{ClientIP: "192.0.2.1"})
	require.NoError(t, ch.Send(context.Background(), tracking.ForwardRequest{EventName: "Lead", EventID: "e"}))
	assert.Equal(t, "192.0.2.1", s.rc.ClientIP)
	assert.Equal(t, "e", s.got.EventID)
}
