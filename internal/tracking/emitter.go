// Package tracking implements the dual-channel event protocol: every logical
// occurrence is reported once through the in-browser pixel (channel A) and
// once through the server conversions endpoint (channel B), both carrying the
// same event id so the ad platform counts it once.
package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/phase-funnel/internal/eventid"
	"github.com/ignite/phase-funnel/internal/pkg/logger"
)

// DefaultChannelBDelay keeps the server copy behind the pixel copy; the
// platform's matching expects the pixel event to arrive first.
const DefaultChannelBDelay = 500 * time.Millisecond

// DefaultSendTimeout bounds one channel B attempt.
const DefaultSendTimeout = 5 * time.Second

// PageViewKey is the session marker key for the landing page view.
const PageViewKey = "page_view"

// Identity supplies the correlation identifiers attached to channel B.
type Identity interface {
	GetOrCreateExternalID(ctx context.Context) string
	ClientToken1(ctx context.Context) (string, bool)
	ClientToken2(ctx context.Context, pageURL string) (string, bool)
}

// Marker records that a session-level event already fired.
type Marker interface {
	MarkFired(ctx context.Context, key, eventID string)
}

// Config tunes an Emitter. Zero values take the defaults.
type Config struct {
	ChannelBDelay time.Duration
	SendTimeout   time.Duration
}

// Emitter fans one event out to both channels.
type Emitter struct {
	pixel     PixelSink
	server    ServerChannel
	identity  Identity
	ids       eventid.Strategy
	bootstrap eventid.Strategy
	delay     time.Duration
	timeout   time.Duration
	log       *logger.Logger
	now       func() time.Time

	life *lifecycle
}

// lifecycle is shared by an Emitter and its forks so one Close flushes all
// of them.
type lifecycle struct {
	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures an Emitter.
type Option func(*Emitter)

func WithIDStrategy(s eventid.Strategy) Option { return func(e *Emitter) { e.ids = s } }
func WithBootstrapStrategy(s eventid.Strategy) Option {
	return func(e *Emitter) { e.bootstrap = s }
}
func WithLogger(l *logger.Logger) Option    { return func(e *Emitter) { e.log = l } }
func WithClock(now func() time.Time) Option { return func(e *Emitter) { e.now = now } }

// NewEmitter builds an Emitter. identity may be nil, in which case channel B
// carries no correlation tokens.
func NewEmitter(pixel PixelSink, server ServerChannel, identity Identity, cfg Config, opts ...Option) *Emitter {
	if cfg.ChannelBDelay <= 0 {
		cfg.ChannelBDelay = DefaultChannelBDelay
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	e := &Emitter{
		pixel:     pixel,
		server:    server,
		identity:  identity,
		ids:       eventid.RandomStrategy{},
		bootstrap: eventid.BootstrapStrategy{},
		delay:     cfg.ChannelBDelay,
		timeout:   cfg.SendTimeout,
		log:       logger.Default(),
		now:       time.Now,
		life:      &lifecycle{stop: make(chan struct{})},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Emit reports one occurrence and returns its event id. Channel A fires
// before Emit returns; channel B is spawned and runs after the configured
// delay. Emit never blocks on the network and never panics; channel B
// failures are logged and dropped without retry. An empty return means no
// id could be minted and nothing was sent.
func (e *Emitter) Emit(ctx context.Context, p Params) string {
	id, err := e.ids.NewID(eventid.Request{Path: pathOf(p.SourceURL), At: e.now()})
	if err != nil {
		e.log.Error("tracking: event id unavailable, event dropped", "event_name", p.EventName, "error", err)
		return ""
	}
	if id.Degraded() {
		e.log.Warn("tracking: degraded event id source", "event_name", p.EventName, "event_id", id.Value)
	}
	e.dispatch(ctx, p, id.Value)
	return id.Value
}

// BootstrapPageView handles the very first page view of a session. The id
// comes from the bootstrap strategy (timestamp + path) instead of the random
// generator, and the PageViewKey marker is written with that id so later
// deduplicated page views are suppressed.
func (e *Emitter) BootstrapPageView(ctx context.Context, p Params, marker Marker) string {
	if p.EventName == "" {
		p.EventName = EventPageView
	}
	id, err := e.bootstrap.NewID(eventid.Request{Path: pathOf(p.SourceURL), At: e.now()})
	if err != nil {
		e.log.Error("tracking: bootstrap id unavailable", "error", err)
		return ""
	}
	e.dispatch(ctx, p, id.Value)
	if marker != nil {
		marker.MarkFired(ctx, PageViewKey, id.Value)
	}
	return id.Value
}

// Fork returns an Emitter bound to per-request sinks and identity. It
// shares id strategies, timing and lifecycle with e, so e.Close also
// flushes the fork's pending sends.
func (e *Emitter) Fork(pixel PixelSink, server ServerChannel, identity Identity) *Emitter {
	f := *e
	f.pixel, f.server, f.identity = pixel, server, identity
	return &f
}

func (e *Emitter) dispatch(ctx context.Context, p Params, eventID string) {
	e.fireA(p, eventID)
	if e.server == nil {
		return
	}
	req := e.forwardRequest(ctx, p, eventID)
	e.life.wg.Add(1)
	go e.fireB(req)
}

func (e *Emitter) fireA(p Params, eventID string) {
	if e.pixel == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			e.log.Error("tracking: pixel sink panicked", "event_name", p.EventName, "event_id", eventID, "panic", rec)
		}
	}()
	e.pixel.Track(p.EventName, p.CustomData, eventID)
}

// fireB is detached from the caller's context: the caller may be long gone
// (navigation, handler return) by the time the delay elapses. Shutdown cuts
// the delay short but still sends.
func (e *Emitter) fireB(req ForwardRequest) {
	defer e.life.wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			e.log.Error("tracking: server channel panicked", "event_id", req.EventID, "panic", rec)
		}
	}()

	timer := time.NewTimer(e.delay)
	select {
	case <-timer.C:
	case <-e.life.stop:
		timer.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	if err := e.server.Send(ctx, req); err != nil {
		e.log.Warn("tracking: server channel failed", "event_name", req.EventName, "event_id", req.EventID, "error", err)
		return
	}
	e.log.Debug("tracking: server channel delivered", "event_name", req.EventName, "event_id", req.EventID)
}

func (e *Emitter) forwardRequest(ctx context.Context, p Params, eventID string) ForwardRequest {
	fr := ForwardRequest{
		EventName:      p.EventName,
		EventID:        eventID,
		CustomData:     p.CustomData,
		EventSourceURL: p.SourceURL,
		UserAgent:      p.UserAgent,
	}
	fr.setAttributes(p.Attributes)
	if e.identity != nil {
		fr.ExternalID = e.identity.GetOrCreateExternalID(ctx)
		if v, ok := e.identity.ClientToken1(ctx); ok {
			fr.FBP = v
		}
		if v, ok := e.identity.ClientToken2(ctx, p.SourceURL); ok {
			fr.FBC = v
		}
	}
	return fr
}

// Wait blocks until every spawned channel B task has finished.
func (e *Emitter) Wait() { e.life.wg.Wait() }

// Close flushes pending channel B sends without waiting out their delay,
// then waits for them.
func (e *Emitter) Close() {
	e.life.stopOnce.Do(func() { close(e.life.stop) })
	e.life.wg.Wait()
}
