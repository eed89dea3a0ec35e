// Package identity keeps the durable correlation identifiers of a visitor:
// an opaque external ID and the ad platform's browser (fbp) and click (fbc)
// tokens. Tokens are written to both the cookie backend and a durable
// fallback so that browsers which partition or purge one of them still
// correlate.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	mrand "math/rand"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/phase-funnel/internal/kvstore"
	"github.com/ignite/phase-funnel/internal/pkg/logger"
)

// Storage keys. Cookie names match the ad platform's own cookies.
const (
	KeyExternalID     = "funnel_external_id"
	KeyBrowserCookie  = "_fbp"
	KeyClickCookie    = "_fbc"
	KeyBrowserDurable = "funnel_fbp"
	KeyClickDurable   = "funnel_fbc"

	ClickIDParam = "fbclid"
)

// TokenValidity is how long fbp/fbc stay authoritative once set.
const TokenValidity = 90 * 24 * time.Hour

// Store reads and writes identity values. Either backend may be nil.
type Store struct {
	cookies kvstore.Store
	durable kvstore.Store
	now     func() time.Time
	log     *logger.Logger
	entropy io.Reader
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithEntropy overrides crypto/rand as the external ID source, for tests.
func WithEntropy(r io.Reader) Option { return func(s *Store) { s.entropy = r } }

// WithLogger sets the diagnostic logger.
func WithLogger(l *logger.Logger) Option { return func(s *Store) { s.log = l } }

func New(cookies, durable kvstore.Store, opts ...Option) *Store {
	s := &Store{cookies: cookies, durable: durable, now: time.Now, log: logger.Default(), entropy: rand.Reader}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GetOrCreateExternalID returns the persisted external ID, creating and
// persisting one on first use. A persist failure still returns the fresh
// value; it will simply not survive this session.
func (s *Store) GetOrCreateExternalID(ctx context.Context) string {
	if v, ok := s.read(ctx, s.durable, KeyExternalID); ok {
		return v
	}
	id := s.newExternalID()
	s.write(ctx, s.durable, KeyExternalID, id)
	return id
}

// ExternalID returns the persisted external ID without creating one.
func (s *Store) ExternalID(ctx context.Context) (string, bool) {
	return s.read(ctx, s.durable, KeyExternalID)
}

// ClearExternalID removes the persisted external ID. Debug hook only.
func (s *Store) ClearExternalID(ctx context.Context) {
	if s.durable == nil {
		return
	}
	if err := s.durable.Delete(ctx, KeyExternalID); err != nil {
		s.log.Warn("identity: clear external id failed", "error", err)
	}
}

// ClientToken1 returns the browser token (fbp): cookie first, durable second.
// A value found only in the durable store is copied back into the cookie.
func (s *Store) ClientToken1(ctx context.Context) (string, bool) {
	return s.token(ctx, KeyBrowserCookie, KeyBrowserDurable)
}

// EnsureClientToken1 returns the browser token, synthesising
// fb.1.<millis>.<random> when the ad script has not set one.
func (s *Store) EnsureClientToken1(ctx context.Context) (string, bool) {
	if v, ok := s.ClientToken1(ctx); ok {
		return v, true
	}
	tok := fmt.Sprintf("fb.1.%d.%d", s.now().UnixMilli(), 1_000_000_000+mrand.Int63n(9_000_000_000))
	if !s.persistToken(ctx, KeyBrowserCookie, KeyBrowserDurable, tok) {
		return "", false
	}
	return tok, true
}

// ClientToken2 returns the click token (fbc). When unset and pageURL carries
// an fbclid query parameter, a token is synthesised from it and persisted to
// both backends.
func (s *Store) ClientToken2(ctx context.Context, pageURL string) (string, bool) {
	if v, ok := s.token(ctx, KeyClickCookie, KeyClickDurable); ok {
		return v, true
	}
	clickID := ClickIDFromURL(pageURL)
	if clickID == "" {
		return "", false
	}
	tok := ClickToken(s.now(), clickID)
	if !s.persistToken(ctx, KeyClickCookie, KeyClickDurable, tok) {
		// Still usable for this request even if neither backend kept it.
		return tok, true
	}
	return tok, true
}

// ClickToken formats fb.1.<millis>.<fbclid>.
func ClickToken(at time.Time, clickID string) string {
	return "fb.1." + strconv.FormatInt(at.UnixMilli(), 10) + "." + clickID
}

// ClickIDFromURL extracts the fbclid query parameter, or "".
func ClickIDFromURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(u.Query().Get(ClickIDParam))
}

// TokenTime extracts the creation time embedded in an fb.1.<millis>.x token.
func TokenTime(tok string) (time.Time, bool) {
	parts := strings.SplitN(tok, ".", 4)
	if len(parts) != 4 || parts[0] != "fb" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func (s *Store) token(ctx context.Context, cookieKey, durableKey string) (string, bool) {
	if v, ok := s.read(ctx, s.cookies, cookieKey); ok && s.valid(v) {
		return v, true
	}
	if v, ok := s.read(ctx, s.durable, durableKey); ok && s.valid(v) {
		s.write(ctx, s.cookies, cookieKey, v)
		return v, true
	}
	return "", false
}

// valid treats a token as live until TokenValidity after its embedded time.
// Tokens without a parsable time are trusted as-is.
func (s *Store) valid(tok string) bool {
	at, ok := TokenTime(tok)
	if !ok {
		return tok != ""
	}
	return s.now().Sub(at) < TokenValidity
}

func (s *Store) persistToken(ctx context.Context, cookieKey, durableKey, tok string) bool {
	a := s.write(ctx, s.cookies, cookieKey, tok)
	b := s.write(ctx, s.durable, durableKey, tok)
	return a || b
}

func (s *Store) read(ctx context.Context, st kvstore.Store, key string) (string, bool) {
	if st == nil {
		return "", false
	}
	v, ok, err := st.Get(ctx, key)
	if err != nil {
		s.log.Warn("identity: read failed", "key", key, "error", err)
		return "", false
	}
	return v, ok && v != ""
}

func (s *Store) write(ctx context.Context, st kvstore.Store, key, val string) bool {
	if st == nil {
		return false
	}
	if err := st.Set(ctx, key, val); err != nil {
		s.log.Warn("identity: write failed", "key", key, "error", err)
		return false
	}
	return true
}

// newExternalID is <base36 millis>-<16 hex chars>. If the secure source
// fails the hex part comes from math/rand and a warning is logged.
func (s *Store) newExternalID() string {
	b := make([]byte, 8)
	if _, err := io.ReadFull(s.entropy, b); err != nil {
		s.log.Warn("identity: degraded external id source", "error", err)
		for i := range b {
			b[i] = byte(mrand.Intn(256))
		}
	}
	return strconv.FormatInt(s.now().UnixMilli(), 36) + "-" + hex.EncodeToString(b)
}
