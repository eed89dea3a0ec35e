package capi

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/phase-funnel/internal/pkg/httputil"
	"github.com/ignite/phase-funnel/internal/pkg/logger"
	"github.com/ignite/phase-funnel/internal/tracking"
)

// Sender is the forwarding operation the handler needs.
type Sender interface {
	Forward(ctx context.Context, fr tracking.ForwardRequest, rc RequestContext) (Result, error)
}

// Channel adapts a Sender into a channel B bound to one inbound request's
// context, for events the server emits itself.
func Channel(s Sender, rc RequestContext) tracking.ChannelFunc {
	return func(ctx context.Context, fr tracking.ForwardRequest) error {
		_, err := s.Forward(ctx, fr, rc)
		return err
	}
}

// Handler serves the channel B endpoint.
type Handler struct {
	sender Sender
	log    *logger.Logger
}

func NewHandler(sender Sender, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Default()
	}
	return &Handler{sender: sender, log: log}
}

// Routes mounts the endpoint.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/meta-conversions", h.HandleForward)
}

type forwardResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// HandleForward answers 400 for malformed input, 500 for a panic and 200
// otherwise. Upstream failures are reported as success:false, never as an
// error status. Beacon requests arrive as text/plain and are accepted.
func (h *Handler) HandleForward(w http.ResponseWriter, r *http.Request) {
	defer httputil.Recover(w, "capi")

	var fr tracking.ForwardRequest
	if err := httputil.DecodeStrict(r.Body, &fr); err != nil {
		httputil.JSON(w, http.StatusBadRequest, forwardResponse{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := Validate(fr); err != nil {
		httputil.JSON(w, http.StatusBadRequest, forwardResponse{Error: err.Error()})
		return
	}

	rc := RequestContextFrom(r)
	if _, err := h.sender.Forward(r.Context(), fr, rc); err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			httputil.JSON(w, http.StatusBadRequest, forwardResponse{Error: err.Error()})
			return
		}
		h.log.Warn("capi: forward failed", "event_name", fr.EventName, "event_id", fr.EventID, "error", err)
		httputil.OK(w, forwardResponse{Success: false})
		return
	}
	httputil.OK(w, forwardResponse{Success: true})
}
