// Package eventid produces the identifiers shared by both delivery channels
// of a tracked event. The ad platform deduplicates pixel and server copies of
// an occurrence by this value, so one ID is minted per occurrence and reused
// verbatim by every channel.
package eventid

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	mrand "math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Provenance records which source produced an ID.
type Provenance string

const (
	ProvenanceCrypto    Provenance = "crypto"
	ProvenanceDegraded  Provenance = "degraded"
	ProvenanceBootstrap Provenance = "bootstrap"
)

// ID is an event identifier plus how it was made.
type ID struct {
	Value      string
	Provenance Provenance
}

func (id ID) String() string { return id.Value }

// Degraded reports whether the ID came from a non-cryptographic source.
func (id ID) Degraded() bool { return id.Provenance == ProvenanceDegraded }

// Request carries the context a strategy may use. RandomStrategy ignores it.
type Request struct {
	Path string
	At   time.Time
}

// Strategy mints event IDs.
type Strategy interface {
	NewID(req Request) (ID, error)
}

// ErrNoSecureRandom is returned by a fail-closed RandomStrategy when the
// secure random source cannot be read.
var ErrNoSecureRandom = errors.New("eventid: secure random source unavailable")

// RandomStrategy mints version-4 UUIDs.
type RandomStrategy struct {
	// FailClosed makes NewID return ErrNoSecureRandom instead of falling
	// back to math/rand.
	FailClosed bool
	// Rand overrides the secure source; nil means crypto/rand.
	Rand io.Reader
}

// NewID returns a v4 UUID. If the secure source fails and FailClosed is
// false, the ID is built from math/rand and tagged ProvenanceDegraded.
func (s RandomStrategy) NewID(Request) (ID, error) {
	src := s.Rand
	if src == nil {
		src = rand.Reader
	}
	u, err := uuid.NewRandomFromReader(src)
	if err == nil {
		return ID{Value: u.String(), Provenance: ProvenanceCrypto}, nil
	}
	if s.FailClosed {
		return ID{}, fmt.Errorf("%w: %v", ErrNoSecureRandom, err)
	}
	u, err = uuid.NewRandomFromReader(mathReader{})
	if err != nil {
		return ID{}, fmt.Errorf("eventid: degraded source: %w", err)
	}
	return ID{Value: u.String(), Provenance: ProvenanceDegraded}, nil
}

type mathReader struct{}

func (mathReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(mrand.Intn(256))
	}
	return len(p), nil
}

const bootstrapPrefix = "pv_"

// BootstrapStrategy derives the ID of the very first page view from its
// timestamp and path, so the inline page bootstrap and the session marker
// agree on the value without a shared generator.
type BootstrapStrategy struct {
	Now func() time.Time
}

func (s BootstrapStrategy) NewID(req Request) (ID, error) {
	at := req.At
	if at.IsZero() {
		if s.Now != nil {
			at = s.Now()
		} else {
			at = time.Now()
		}
	}
	path := req.Path
	if path == "" {
		path = "/"
	}
	return ID{Value: BootstrapID(at, path), Provenance: ProvenanceBootstrap}, nil
}

// BootstrapID formats pv_<unix millis>_<base64url(path)>.
func BootstrapID(at time.Time, path string) string {
	return bootstrapPrefix + strconv.FormatInt(at.UnixMilli(), 10) + "_" +
		base64.RawURLEncoding.EncodeToString([]byte(path))
}

// ParseBootstrapID recovers the timestamp and path from a bootstrap ID.
func ParseBootstrapID(v string) (time.Time, string, error) {
	rest, ok := strings.CutPrefix(v, bootstrapPrefix)
	if !ok {
		return time.Time{}, "", fmt.Errorf("eventid: %q is not a bootstrap id", v)
	}
	msPart, pathPart, ok := strings.Cut(rest, "_")
	if !ok {
		return time.Time{}, "", fmt.Errorf("eventid: %q has no path segment", v)
	}
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("eventid: bad timestamp in %q: %w", v, err)
	}
	path, err := base64.RawURLEncoding.DecodeString(pathPart)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("eventid: bad path in %q: %w", v, err)
	}
	return time.UnixMilli(ms), string(path), nil
}

// IsBootstrapID reports whether v parses as a bootstrap ID.
func IsBootstrapID(v string) bool {
	_, _, err := ParseBootstrapID(v)
	return err == nil
}
