package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/phase-funnel/internal/tracking"
)

func TestRun(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{name: "accepted", status: http.StatusOK, body: `{"success":true}`},
		{name: "upstream rejected", status: http.StatusOK, body: `{"success":false}`, wantErr: true},
		{name: "server error", status: http.StatusBadGateway, body: `{"success":false,"error":"down"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got tracking.ForwardRequest
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := run(context.Background(), options{
				endpoint:  srv.URL,
				event:     tracking.EventLead,
				email:     "a@b.com",
				sourceURL: "https://quiz.example.com/?fbclid=xyz",
			})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tracking.EventLead, got.EventName)
			assert.NotEmpty(t, got.EventID)
			assert.NotEmpty(t, got.ExternalID)
			assert.NotEmpty(t, got.FBP)
			assert.Contains(t, got.FBC, ".xyz")
			assert.Equal(t, "a@b.com", got.Email)
		})
	}
}

func TestRunRequiresEvent(t *testing.T) {
	assert.Error(t, run(context.Background(), options{endpoint: "http://127.0.0.1:0"}))
}
