// Package distlock hands out short-lived exclusive claims on string keys.
// The conversions forwarder claims each event id before posting so a
// replayed request is not delivered twice.
package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// Claims is the interface for keyed claims.
type Claims interface {
	// Claim takes key for ttl. Returns false if someone already holds it.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release drops key if this process still holds it.
	Release(ctx context.Context, key string) error
}

// New returns Redis-backed claims when client is non-nil, otherwise an
// in-process table (single instance only).
func New(client *redis.Client, prefix string) Claims {
	if client != nil {
		return NewRedisClaims(client, prefix)
	}
	return NewMemoryClaims()
}

func ownerToken() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
