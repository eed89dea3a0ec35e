package api

import (
	"errors"
	"net/http"

	"github.com/ignite/phase-funnel/internal/pkg/httputil"
	"github.com/ignite/phase-funnel/internal/report"
	"github.com/ignite/phase-funnel/internal/scoring"
)

type reportRequest struct {
	Name    string                  `json:"name"`
	Segment scoring.Segment         `json:"segment,omitempty"`
	Scores  map[scoring.Segment]int `json:"scores,omitempty"`
	Answers scoring.Answers         `json:"answers,omitempty"`
}

type reportResponse struct {
	Text string `json:"text"`
}

// PostReportPreview generates the personalised report. When the client goes
// away the upstream call is cancelled and nothing is written.
//
//	POST /api/report/preview
func (h *Handlers) PostReportPreview(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "report generation not configured")
		return
	}
	var req reportRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	prompt := report.Prompt{Name: req.Name, Segment: req.Segment, Scores: req.Scores}
	if len(req.Answers) > 0 {
		res := h.scorer.ComputeSegment(req.Answers)
		prompt.Segment, prompt.Scores = res.Segment, res.Scores
	}
	if !prompt.Segment.Valid() {
		httputil.BadRequest(w, "segment is required")
		return
	}

	preview := report.NewPreview(h.reports)
	if err := preview.Load(r.Context(), prompt); err != nil {
		if errors.Is(err, report.ErrAborted) {
			h.log.Debug("api: report preview aborted", "segment", prompt.Segment)
			return
		}
		respondSafeError(w, http.StatusBadGateway, err, "não foi possível gerar seu relatório agora")
		return
	}
	httputil.OK(w, reportResponse{Text: preview.State().Text})
}
