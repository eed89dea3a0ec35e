// Package utm captures first-touch campaign parameters and carries them into
// tracked events and leads.
package utm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/ignite/phase-funnel/internal/kvstore"
)

// StorageKey holds the captured parameters as JSON.
const StorageKey = "funnel_utm"

// Keys are the query parameters captured, in output order.
var Keys = []string{"utm_source", "utm_medium", "utm_campaign", "utm_content", "utm_term", "fbclid", "gclid"}

// Params are campaign parameters keyed by query name.
type Params map[string]string

// FromURL extracts the known parameters from rawURL. Unknown parameters and
// empty values are ignored.
func FromURL(rawURL string) Params {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Params{}
	}
	q := u.Query()
	p := Params{}
	for _, k := range Keys {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			p[k] = v
		}
	}
	return p
}

// Empty reports whether no parameter was captured.
func (p Params) Empty() bool { return len(p) == 0 }

// CustomData returns the parameters as event custom data.
func (p Params) CustomData() map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Capture persists the parameters of rawURL unless a first touch is already
// stored. It returns what is stored after the call.
func Capture(ctx context.Context, store kvstore.Store, rawURL string) (Params, error) {
	existing, err := Load(ctx, store)
	if err != nil {
		return nil, err
	}
	if !existing.Empty() {
		return existing, nil
	}
	p := FromURL(rawURL)
	if p.Empty() {
		return p, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("utm: marshal: %w", err)
	}
	if err := store.Set(ctx, StorageKey, string(raw)); err != nil {
		return p, fmt.Errorf("utm: persist: %w", err)
	}
	return p, nil
}

// Load returns the stored first-touch parameters. Nothing stored, or an
// unreadable value, gives empty Params.
func Load(ctx context.Context, store kvstore.Store) (Params, error) {
	raw, ok, err := store.Get(ctx, StorageKey)
	if err != nil {
		return nil, fmt.Errorf("utm: load: %w", err)
	}
	if !ok {
		return Params{}, nil
	}
	var p Params
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Params{}, nil
	}
	return p, nil
}
