package kvstore

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// CookieOptions control the Set-Cookie attributes written by CookieJar.
type CookieOptions struct {
	Domain   string
	Path     string
	MaxAge   time.Duration
	Secure   bool
	SameSite http.SameSite
}

// CookieJar exposes one request/response pair's cookies as a Store. Writes
// become Set-Cookie headers and are visible to later Gets in the same request.
type CookieJar struct {
	r    *http.Request
	w    http.ResponseWriter
	opts CookieOptions

	mu      sync.Mutex
	pending map[string]*string
}

func NewCookieJar(r *http.Request, w http.ResponseWriter, opts CookieOptions) *CookieJar {
	if opts.Path == "" {
		opts.Path = "/"
	}
	if opts.SameSite == 0 {
		opts.SameSite = http.SameSiteLaxMode
	}
	return &CookieJar{r: r, w: w, opts: opts, pending: make(map[string]*string)}
}

func (j *CookieJar) Get(_ context.Context, key string) (string, bool, error) {
	j.mu.Lock()
	if v, ok := j.pending[key]; ok {
		j.mu.Unlock()
		if v == nil {
			return "", false, nil
		}
		return *v, true, nil
	}
	j.mu.Unlock()

	c, err := j.r.Cookie(key)
	if err != nil {
		return "", false, nil
	}
	v, err := url.QueryUnescape(c.Value)
	if err != nil {
		v = c.Value
	}
	if v == "" {
		return "", false, nil
	}
	return v, true, nil
}

func (j *CookieJar) Set(_ context.Context, key, value string) error {
	if j.w == nil {
		return unavailable("set", key, http.ErrNoCookie)
	}
	http.SetCookie(j.w, &http.Cookie{
		Name:     key,
		Value:    url.QueryEscape(value),
		Domain:   j.opts.Domain,
		Path:     j.opts.Path,
		MaxAge:   int(j.opts.MaxAge.Seconds()),
		Secure:   j.opts.Secure,
		SameSite: j.opts.SameSite,
	})
	j.mu.Lock()
	j.pending[key] = &value
	j.mu.Unlock()
	return nil
}

func (j *CookieJar) Delete(_ context.Context, key string) error {
	if j.w == nil {
		return unavailable("delete", key, http.ErrNoCookie)
	}
	http.SetCookie(j.w, &http.Cookie{Name: key, Value: "", Path: j.opts.Path, Domain: j.opts.Domain, MaxAge: -1})
	j.mu.Lock()
	j.pending[key] = nil
	j.mu.Unlock()
	return nil
}
