package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func exerciseClaims(t *testing.T, c Claims) {
	t.Helper()
	ctx := context.Background()

	ok, err := c.Claim(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "first claim wins")

	ok, err = c.Claim(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second claim loses")

	ok, err = c.Claim(ctx, "evt-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")

	require.NoError(t, c.Release(ctx, "evt-1"))
	ok, err = c.Claim(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "released key can be claimed again")
}

func TestMemoryClaims(t *testing.T) {
	exerciseClaims(t, NewMemoryClaims())
}

func TestRedisClaims(t *testing.T) {
	client, _ := setupTestRedis(t)
	exerciseClaims(t, NewRedisClaims(client, "capi:"))
}

func TestRedisClaimsExpire(t *testing.T) {
	client, mr := setupTestRedis(t)
	c := NewRedisClaims(client, "capi:")
	ctx := context.Background()

	ok, err := c.Claim(ctx, "evt", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("capi:evt"))

	mr.FastForward(2 * time.Second)
	ok, err = c.Claim(ctx, "evt", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisReleaseKeepsForeignClaim(t *testing.T) {
	client, mr := setupTestRedis(t)
	a := NewRedisClaims(client, "capi:")
	b := NewRedisClaims(client, "capi:")
	ctx := context.Background()

	ok, err := a.Claim(ctx, "evt", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.Release(ctx, "evt"))
	assert.True(t, mr.Exists("capi:evt"), "b does not own the claim")
}

func TestRedisClaimsUnavailable(t *testing.T) {
	client, mr := setupTestRedis(t)
	mr.Close()
	_, err := NewRedisClaims(client, "capi:").Claim(context.Background(), "evt", time.Minute)
	assert.Error(t, err)
}

func TestNewPicksBackend(t *testing.T) {
	client, _ := setupTestRedis(t)
	assert.IsType(t, &RedisClaims{}, New(client, "x:"))
	assert.IsType(t, &MemoryClaims{}, New(nil, "x:"))
}
