package kvstore

import (
	"context"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// DefaultSessionTTL approximates the lifetime of a browser tab session.
const DefaultSessionTTL = 30 * time.Minute

// Memory is an in-process store whose entries expire after ttl. It backs
// session-scoped markers and is the test double for durable stores.
type Memory struct {
	c *cache.Cache
}

// NewMemory creates a Memory store. ttl <= 0 means entries never expire.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		return &Memory{c: cache.New(cache.NoExpiration, 0)}
	}
	return &Memory{c: cache.New(ttl, ttl*2)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return "", false, nil
	}
	s, _ := v.(string)
	return s, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.c.Set(key, value, cache.DefaultExpiration)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

// Len reports the number of live entries.
func (m *Memory) Len() int { return m.c.ItemCount() }
