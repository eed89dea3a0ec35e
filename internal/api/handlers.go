package api

import (
	"context"
	"net/http"
	"time"

	"github.com/samber/lo"

	"github.com/ignite/phase-funnel/internal/capi"
	"github.com/ignite/phase-funnel/internal/consent"
	"github.com/ignite/phase-funnel/internal/dedup"
	"github.com/ignite/phase-funnel/internal/identity"
	"github.com/ignite/phase-funnel/internal/kvstore"
	"github.com/ignite/phase-funnel/internal/leads"
	"github.com/ignite/phase-funnel/internal/pkg/logger"
	"github.com/ignite/phase-funnel/internal/report"
	"github.com/ignite/phase-funnel/internal/scoring"
	"github.com/ignite/phase-funnel/internal/tracking"
)

// SegmentCounter reports captured leads per segment.
type SegmentCounter interface {
	CountBySegment(ctx context.Context) (map[string]int, error)
}

// Deps are the collaborators the handlers are built from. Optional ones may
// be nil: no Forwarder means pixel-only tracking, no Reports means the
// preview endpoint answers 503.
type Deps struct {
	Scorer    *scoring.Scorer
	Emitter   *tracking.Emitter
	Forwarder capi.Sender
	Sessions  kvstore.Store
	Leads     *leads.Service
	Counter   SegmentCounter
	Reports   report.Generator
	Cookies   kvstore.CookieOptions
	Log       *logger.Logger
}

// Handlers contains all HTTP handlers
type Handlers struct {
	scorer    *scoring.Scorer
	emitter   *tracking.Emitter
	forwarder capi.Sender
	sessions  kvstore.Store
	leads     *leads.Service
	counter   SegmentCounter
	reports   report.Generator
	cookies   kvstore.CookieOptions
	log       *logger.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(d Deps) *Handlers {
	if d.Scorer == nil {
		d.Scorer = scoring.Default()
	}
	if d.Sessions == nil {
		d.Sessions = kvstore.NewMemory(kvstore.DefaultSessionTTL)
	}
	if d.Emitter == nil {
		d.Emitter = tracking.NewEmitter(nil, nil, nil, tracking.Config{})
	}
	if d.Leads == nil {
		d.Leads = leads.NewService(nil, d.Log)
	}
	if d.Log == nil {
		d.Log = logger.Default()
	}
	if d.Cookies.MaxAge == 0 {
		d.Cookies.MaxAge = 90 * 24 * time.Hour
	}
	return &Handlers{
		scorer:    d.Scorer,
		emitter:   d.Emitter,
		forwarder: d.Forwarder,
		sessions:  d.Sessions,
		leads:     d.Leads,
		counter:   d.Counter,
		reports:   d.Reports,
		cookies:   d.Cookies,
		log:       d.Log,
	}
}

// visit is the tracking state of one request: its cookies, identity,
// session markers and an emitter whose channel A is recorded so the event
// ids can be handed back to the browser pixel.
type visit struct {
	jar      *kvstore.CookieJar
	identity *identity.Store
	markers  *dedup.StoreMarkers
	pixel    *tracking.RecordingSink
	emitter  *tracking.Emitter
	dedup    *dedup.Deduplicator
	consent  *consent.Gate
	recorder *consent.SwitchRecorder
}

func (h *Handlers) newVisit(w http.ResponseWriter, r *http.Request) *visit {
	jar := kvstore.NewCookieJar(r, w, h.cookies)
	id := identity.New(jar, jar, identity.WithLogger(h.log))
	externalID := id.GetOrCreateExternalID(r.Context())

	var server tracking.ServerChannel
	if h.forwarder != nil {
		server = capi.Channel(h.forwarder, capi.RequestContextFrom(r))
	}
	pixel := tracking.NewRecordingSink()
	em := h.emitter.Fork(pixel, server, id)
	markers := dedup.NewStoreMarkers(kvstore.Prefixed(h.sessions, externalID+":"), h.log)
	recorder := &consent.SwitchRecorder{}

	return &visit{
		jar:      jar,
		identity: id,
		markers:  markers,
		pixel:    pixel,
		emitter:  em,
		dedup:    dedup.New(em, markers),
		consent:  consent.NewGate(jar, recorder, h.log),
		recorder: recorder,
	}
}

// PixelEvent tells the browser which pixel call to make so both channels
// share one event id.
type PixelEvent struct {
	EventName  string              `json:"eventName"`
	EventID    string              `json:"eventId"`
	CustomData tracking.CustomData `json:"customData,omitempty"`
}

func (v *visit) pixelEvents() []PixelEvent {
	return lo.Map(v.pixel.Calls(), func(c tracking.PixelCall, _ int) PixelEvent {
		return PixelEvent{EventName: c.EventName, EventID: c.EventID, CustomData: c.CustomData}
	})
}
