package distlock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisClaims stores claims with SET NX PX. The value is a per-process owner
// token so Release never drops a claim taken by another instance.
type RedisClaims struct {
	client *redis.Client
	prefix string
	owner  string
}

func NewRedisClaims(client *redis.Client, prefix string) *RedisClaims {
	return &RedisClaims{client: client, prefix: prefix, owner: ownerToken()}
}

func (c *RedisClaims) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.prefix+key, c.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

func (c *RedisClaims) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, c.client, []string{c.prefix + key}, c.owner).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}
