// Package ratelimit caps requests per client in fixed windows at the HTTP
// boundary.
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/phase-funnel/internal/pkg/httputil"
	"github.com/ignite/phase-funnel/internal/pkg/logger"
)

// Rule is a fixed-window limit.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts hits per key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

func windowStart(now time.Time, w time.Duration) time.Time {
	return now.Truncate(w)
}

func decide(rule Rule, count int, now time.Time) Decision {
	d := Decision{Allowed: count <= rule.Limit, Limit: rule.Limit, Remaining: rule.Limit - count}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		d.RetryAfter = windowStart(now, rule.Window).Add(rule.Window).Sub(now)
	}
	return d
}

// Lua script for atomic fixed-window counting. Denied hits are not counted.
const fixedWindowLuaScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")
if current + 1 > limit then
    return current + 1
end

local newVal = redis.call("INCR", key)
if newVal == 1 then
    redis.call("PEXPIRE", key, ttl)
end
return newVal
`

// RedisLimiter shares counters across instances.
type RedisLimiter struct {
	client *redis.Client
	script *redis.Script
	name   string
	rule   Rule
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, name string, rule Rule) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		script: redis.NewScript(fixedWindowLuaScript),
		name:   name,
		rule:   rule,
		now:    time.Now,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	bucket := fmt.Sprintf("ratelimit:%s:%s:%d", l.name, key, windowStart(now, l.rule.Window).Unix())
	n, err := l.script.Run(ctx, l.client, []string{bucket}, l.rule.Limit, l.rule.Window.Milliseconds()).Int()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check %s: %w", key, err)
	}
	return decide(l.rule, n, now), nil
}

// MemoryLimiter keeps counters in process. Limits hold per instance only.
type MemoryLimiter struct {
	mu   sync.Mutex
	c    *cache.Cache
	rule Rule
	now  func() time.Time
}

func NewMemoryLimiter(rule Rule) *MemoryLimiter {
	return &MemoryLimiter{c: cache.New(rule.Window, rule.Window*2), rule: rule, now: time.Now}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()
	bucket := key + ":" + strconv.FormatInt(windowStart(now, l.rule.Window).Unix(), 10)

	l.mu.Lock()
	defer l.mu.Unlock()
	n := 1
	if v, ok := l.c.Get(bucket); ok {
		n = v.(int) + 1
	}
	if n > l.rule.Limit {
		return decide(l.rule, n, now), nil
	}
	l.c.Set(bucket, n, l.rule.Window)
	return decide(l.rule, n, now), nil
}

// New returns a Redis limiter when client is non-nil, else a memory one.
func New(client *redis.Client, name string, rule Rule) Limiter {
	if client != nil {
		return NewRedisLimiter(client, name, rule)
	}
	return NewMemoryLimiter(rule)
}

// KeyFunc picks the counter key for a request.
type KeyFunc func(r *http.Request) string

// ByRemoteIP keys on r.RemoteAddr, which chi's RealIP middleware has
// already rewritten from proxy headers.
func ByRemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests over the limit with 429. Limiter errors let
// the request through.
func Middleware(l Limiter, key KeyFunc, log *logger.Logger) func(http.Handler) http.Handler {
	if key == nil {
		key = ByRemoteIP
	}
	if log == nil {
		log = logger.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := l.Allow(r.Context(), key(r))
			if err != nil {
				log.Warn("ratelimit: check failed, allowing", "path", r.URL.Path, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				secs := int(d.RetryAfter.Round(time.Second) / time.Second)
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				httputil.TooManyRequests(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
