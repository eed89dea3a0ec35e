package api

import (
	"net/http"
	"strconv"

	"github.com/ignite/phase-funnel/internal/pkg/httputil"
	"github.com/ignite/phase-funnel/internal/scoring"
	"github.com/ignite/phase-funnel/internal/tracking"
	"github.com/ignite/phase-funnel/internal/utm"
)

// quizCompleteKey is the session marker for the quiz completion event.
const quizCompleteKey = "quiz_complete"

type questionsResponse struct {
	Questions []scoring.Question `json:"questions"`
	Segments  []scoring.Segment  `json:"segments"`
}

// GetQuestions returns the catalogue the scorer uses, so the front end
// renders the same definitions.
//
//	GET /api/quiz/questions
func (h *Handlers) GetQuestions(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, questionsResponse{Questions: h.scorer.Questions(), Segments: scoring.Priority})
}

type quizResultRequest struct {
	Answers   scoring.Answers `json:"answers"`
	SourceURL string          `json:"sourceUrl,omitempty"`
}

type quizResultResponse struct {
	scoring.Result
	Events []PixelEvent `json:"events"`
}

// PostQuizResult scores the answers and reports the completion once per
// session. Answer content never fails the request; only a malformed body
// is rejected.
//
//	POST /api/quiz/result
func (h *Handlers) PostQuizResult(w http.ResponseWriter, r *http.Request) {
	var req quizResultRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	res := h.scorer.ComputeSegment(req.Answers)

	v := h.newVisit(w, r)
	campaign, err := utm.Load(r.Context(), v.jar)
	if err != nil {
		h.log.Warn("api: utm unavailable", "error", err)
	}
	v.dedup.EmitOnce(r.Context(), quizCompleteKey, tracking.Params{
		EventName: tracking.EventCompleteReg,
		CustomData: tracking.CustomData{
			"content_name": "quiz_fase",
			"segment":      string(res.Segment),
			"total_score":  strconv.Itoa(res.TotalScore),
		}.Merge(campaign.CustomData()),
		SourceURL: req.SourceURL,
		UserAgent: r.UserAgent(),
	})

	httputil.OK(w, quizResultResponse{Result: res, Events: v.pixelEvents()})
}
