package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/ignite/phase-funnel/internal/consent"
	"github.com/ignite/phase-funnel/internal/pkg/httputil"
	"github.com/ignite/phase-funnel/internal/tracking"
	"github.com/ignite/phase-funnel/internal/utm"
)

type consentView struct {
	State          consent.State `json:"state"`
	BannerRequired bool          `json:"bannerRequired"`
	Recording      bool          `json:"recording"`
}

func (v *visit) consentView(r *http.Request) consentView {
	s := v.consent.Sync(r.Context())
	return consentView{State: s, BannerRequired: s == consent.Unset, Recording: v.recorder.Recording()}
}

type pageViewRequest struct {
	SourceURL string `json:"sourceUrl"`
}

type pageViewResponse struct {
	Fired   bool         `json:"fired"`
	Events  []PixelEvent `json:"events"`
	Consent consentView  `json:"consent"`
}

// PostPageView runs the landing bootstrap: first-touch UTM capture, client
// tokens, and the session's single page view.
//
//	POST /api/track/pageview
func (h *Handlers) PostPageView(w http.ResponseWriter, r *http.Request) {
	var req pageViewRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	v := h.newVisit(w, r)
	fired := h.bootstrap(r, v, req.SourceURL)
	httputil.OK(w, pageViewResponse{Fired: fired, Events: v.pixelEvents(), Consent: v.consentView(r)})
}

// bootstrap runs the landing sequence for sourceURL and reports whether a
// page view was emitted.
func (h *Handlers) bootstrap(r *http.Request, v *visit, sourceURL string) bool {
	ctx := r.Context()
	campaign, err := utm.Capture(ctx, v.jar, sourceURL)
	if err != nil {
		h.log.Warn("api: utm capture failed", "error", err)
	}
	v.identity.EnsureClientToken1(ctx)
	v.identity.ClientToken2(ctx, sourceURL)

	if v.markers.HasFired(ctx, tracking.PageViewKey) {
		return false
	}
	id := v.emitter.BootstrapPageView(ctx, tracking.Params{
		EventName:  tracking.EventPageView,
		CustomData: tracking.CustomData{}.Merge(campaign.CustomData()),
		SourceURL:  sourceURL,
		UserAgent:  r.UserAgent(),
	}, v.markers)
	return id != ""
}

// GetBootstrapScript is the script-tag form of PostPageView: it answers
// with the fbq() calls to run, each carrying its event id. The page URL
// comes from ?url= or the Referer.
//
//	GET /api/track/bootstrap.js
func (h *Handlers) GetBootstrapScript(w http.ResponseWriter, r *http.Request) {
	sourceURL := r.URL.Query().Get("url")
	if sourceURL == "" {
		sourceURL = r.Referer()
	}
	v := h.newVisit(w, r)
	h.bootstrap(r, v, sourceURL)

	var script tracking.ScriptSink
	for _, c := range v.pixel.Calls() {
		script.Track(c.EventName, c.CustomData, c.EventID)
	}
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	io.WriteString(w, script.Script())
}

type trackRequest struct {
	EventName  string              `json:"eventName"`
	Key        string              `json:"key,omitempty"`
	CustomData tracking.CustomData `json:"customData,omitempty"`
	SourceURL  string              `json:"sourceUrl,omitempty"`
}

type trackResponse struct {
	Fired  bool         `json:"fired"`
	Events []PixelEvent `json:"events"`
}

// PostTrack emits one funnel event through the session deduplicator. The
// key defaults to the lowercased event name; keys ending in a timestamp
// fire every time.
//
//	POST /api/track/event
func (h *Handlers) PostTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	req.EventName = strings.TrimSpace(req.EventName)
	if req.EventName == "" {
		httputil.BadRequest(w, "eventName is required")
		return
	}
	if err := req.CustomData.Validate(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	key := strings.TrimSpace(req.Key)
	if key == "" {
		key = defaultKey(req.EventName)
	}

	v := h.newVisit(w, r)
	campaign, err := utm.Load(r.Context(), v.jar)
	if err != nil {
		h.log.Warn("api: utm unavailable", "error", err)
	}
	fired := v.dedup.EmitOnce(r.Context(), key, tracking.Params{
		EventName:  req.EventName,
		CustomData: req.CustomData.Merge(campaign.CustomData()),
		SourceURL:  req.SourceURL,
		UserAgent:  r.UserAgent(),
	})
	httputil.OK(w, trackResponse{Fired: fired, Events: v.pixelEvents()})
}

// defaultKey is the dedup key for an event posted without one. PageView
// shares the bootstrap's session marker.
func defaultKey(eventName string) string {
	if eventName == tracking.EventPageView {
		return tracking.PageViewKey
	}
	return strings.ToLower(eventName)
}

// GetConsent reports the banner state and re-applies it to the recorder.
//
//	GET /api/consent
func (h *Handlers) GetConsent(w http.ResponseWriter, r *http.Request) {
	v := h.newVisit(w, r)
	httputil.OK(w, v.consentView(r))
}

type consentRequest struct {
	Action string `json:"action"`
}

// PostConsent applies a banner answer: grant, decline or withdraw.
//
//	POST /api/consent
func (h *Handlers) PostConsent(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	v := h.newVisit(w, r)
	ctx := r.Context()

	var err error
	switch req.Action {
	case "grant":
		err = v.consent.Grant(ctx)
	case "decline":
		err = v.consent.Decline(ctx)
	case "withdraw":
		if v.consent.State(ctx) != consent.Granted {
			httputil.Error(w, http.StatusConflict, "consent was not granted")
			return
		}
		err = v.consent.Withdraw(ctx)
	default:
		httputil.BadRequest(w, "action must be grant, decline or withdraw")
		return
	}
	if err != nil {
		h.log.Warn("api: consent not persisted", "action", req.Action, "error", err)
	}
	httputil.OK(w, v.consentView(r))
}
