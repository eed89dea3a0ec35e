package distlock

import (
	"context"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// MemoryClaims keeps claims in process memory.
type MemoryClaims struct {
	c *cache.Cache
}

func NewMemoryClaims() *MemoryClaims {
	return &MemoryClaims{c: cache.New(cache.NoExpiration, time.Minute)}
}

// Claim relies on cache.Add failing when a live entry exists.
func (m *MemoryClaims) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return m.c.Add(key, struct{}{}, ttl) == nil, nil
}

func (m *MemoryClaims) Release(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}
