package api

import (
	"errors"
	"net/http"

	"github.com/ignite/phase-funnel/internal/leads"
	"github.com/ignite/phase-funnel/internal/pkg/httputil"
	"github.com/ignite/phase-funnel/internal/scoring"
	"github.com/ignite/phase-funnel/internal/utm"
)

type leadRequest struct {
	Name      string          `json:"name"`
	Email     string          `json:"email"`
	Phone     string          `json:"phone"`
	Answers   scoring.Answers `json:"answers,omitempty"`
	SourceURL string          `json:"sourceUrl,omitempty"`
}

type leadResponse struct {
	ID      string          `json:"id"`
	Segment scoring.Segment `json:"segment"`
	Events  []PixelEvent    `json:"events"`
}

// PostLead validates and delivers a contact, then reports the Lead
// conversion. Field errors are 422, a sink failure is 502 and may be
// retried by the user.
//
//	POST /api/leads
func (h *Handlers) PostLead(w http.ResponseWriter, r *http.Request) {
	var req leadRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	v := h.newVisit(w, r)
	lead := leads.Lead{
		Name:       req.Name,
		Email:      req.Email,
		Phone:      req.Phone,
		ExternalID: v.identity.GetOrCreateExternalID(r.Context()),
		SourceURL:  req.SourceURL,
	}
	if len(req.Answers) > 0 {
		res := h.scorer.ComputeSegment(req.Answers)
		lead.Segment, lead.Scores = res.Segment, res.Scores
	}
	if campaign, err := utm.Load(r.Context(), v.jar); err == nil {
		lead.UTM = campaign
	}

	receipt, err := h.leads.Submit(r.Context(), lead, v.emitter, r.UserAgent())
	if err != nil {
		var fe leads.FieldErrors
		switch {
		case errors.As(err, &fe):
			httputil.Unprocessable(w, "invalid lead", fe)
		case errors.Is(err, leads.ErrDeliveryFailed):
			respondSafeError(w, http.StatusBadGateway, err, "não foi possível enviar seus dados, tente novamente")
		default:
			httputil.InternalError(w, err)
		}
		return
	}

	httputil.Created(w, leadResponse{
		ID:      receipt.Lead.ID,
		Segment: receipt.Lead.Segment,
		Events:  v.pixelEvents(),
	})
}

// GetLeadStats returns captured leads per segment.
//
//	GET /api/leads/stats
func (h *Handlers) GetLeadStats(w http.ResponseWriter, r *http.Request) {
	if h.counter == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "lead database not configured")
		return
	}
	counts, err := h.counter.CountBySegment(r.Context())
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "failed to count leads")
		return
	}
	httputil.OK(w, map[string]any{"segments": counts})
}
