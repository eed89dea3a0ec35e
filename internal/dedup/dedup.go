// Package dedup suppresses repeated triggers of the same logical event within
// one session. It is a best-effort layer: two near-simultaneous calls for the
// same key may both pass. Delivery duplicates are handled downstream by the
// shared event id.
package dedup

import (
	"context"
	"regexp"

	"github.com/ignite/phase-funnel/internal/kvstore"
	"github.com/ignite/phase-funnel/internal/pkg/logger"
	"github.com/ignite/phase-funnel/internal/tracking"
)

// markerPrefix namespaces dedup keys inside a shared session store.
const markerPrefix = "fired:"

// recurringKey matches keys that embed a generation timestamp, such as
// "quiz_start_1777636800000". Those events may fire many times per session.
var recurringKey = regexp.MustCompile(`_\d{10,}$`)

// IsRecurring reports whether key is exempt from suppression.
func IsRecurring(key string) bool { return recurringKey.MatchString(key) }

// Markers tracks which event kinds have fired this session.
type Markers interface {
	HasFired(ctx context.Context, key string) bool
	MarkFired(ctx context.Context, key, eventID string)
}

// StoreMarkers keeps markers in a session-scoped kvstore.Store. Storage
// failures are logged and read as "not fired".
type StoreMarkers struct {
	store kvstore.Store
	log   *logger.Logger
}

func NewStoreMarkers(store kvstore.Store, log *logger.Logger) *StoreMarkers {
	if log == nil {
		log = logger.Default()
	}
	return &StoreMarkers{store: store, log: log}
}

func (m *StoreMarkers) HasFired(ctx context.Context, key string) bool {
	_, ok, err := m.store.Get(ctx, markerPrefix+key)
	if err != nil {
		m.log.Warn("dedup: marker read failed", "key", key, "error", err)
		return false
	}
	return ok
}

// MarkFired stores the event id as the marker value, or "true" when no id
// is known.
func (m *StoreMarkers) MarkFired(ctx context.Context, key, eventID string) {
	val := eventID
	if val == "" {
		val = "true"
	}
	if err := m.store.Set(ctx, markerPrefix+key, val); err != nil {
		m.log.Warn("dedup: marker write failed", "key", key, "error", err)
	}
}

// FiredID returns the stored marker value for key.
func (m *StoreMarkers) FiredID(ctx context.Context, key string) (string, bool) {
	v, ok, err := m.store.Get(ctx, markerPrefix+key)
	if err != nil || !ok {
		return "", false
	}
	return v, true
}

// Emitter is the part of tracking.Emitter the deduplicator drives.
type Emitter interface {
	Emit(ctx context.Context, p tracking.Params) string
}

// Deduplicator wraps an Emitter with per-session suppression.
type Deduplicator struct {
	emitter Emitter
	markers Markers
}

func New(emitter Emitter, markers Markers) *Deduplicator {
	return &Deduplicator{emitter: emitter, markers: markers}
}

// EmitOnce emits p unless key already fired this session. It returns true
// when an emission happened. Recurring keys always emit and are not marked.
// An event the emitter drops leaves no marker.
func (d *Deduplicator) EmitOnce(ctx context.Context, key string, p tracking.Params) bool {
	if IsRecurring(key) {
		return d.emitter.Emit(ctx, p) != ""
	}
	if d.markers.HasFired(ctx, key) {
		return false
	}
	id := d.emitter.Emit(ctx, p)
	if id == "" {
		return false
	}
	d.markers.MarkFired(ctx, key, id)
	return true
}
