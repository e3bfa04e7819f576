package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(NewRedis(client)), srv
}

func TestRedisRoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	c, srv := newRedisCache(t)

	require.True(t, c.Set(ctx, "session:42", map[string]any{"phase": "exploration"}, Seconds(3600)))
	assert.True(t, srv.Exists("coach:session:42"))

	var got map[string]any
	require.True(t, c.Get(ctx, "session:42", &got))
	assert.Equal(t, "exploration", got["phase"])

	srv.FastForward(3601 * time.Second)
	assert.False(t, c.Get(ctx, "session:42", &got))
}

func TestRedisClearPattern(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedisCache(t)

	for _, k := range []string{"session:1", "session:2", "session:3", "template:goals:x"} {
		require.True(t, c.Set(ctx, k, k, TTL{}))
	}

	assert.Equal(t, 3, c.ClearPattern(ctx, "session:*"))
	assert.False(t, c.Exists(ctx, "session:1"))
	assert.True(t, c.Exists(ctx, "template:goals:x"))
}

func TestRedisDeleteAndExists(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedisCache(t)

	require.True(t, c.Set(ctx, "k", 7, TTL{}))
	assert.True(t, c.Exists(ctx, "k"))
	assert.True(t, c.Delete(ctx, "k"))
	assert.False(t, c.Delete(ctx, "k"))
}

func TestRedisServerDownIsAMiss(t *testing.T) {
	ctx := context.Background()
	c, srv := newRedisCache(t)
	srv.Close()

	var v string
	assert.False(t, c.Get(ctx, "k", &v))
	assert.False(t, c.Set(ctx, "k", "v", TTL{}))
	assert.False(t, c.Delete(ctx, "k"))
	assert.Zero(t, c.ClearPattern(ctx, "*"))
}
