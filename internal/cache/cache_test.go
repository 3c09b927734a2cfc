package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholarrelay/inkgate/internal/cache"
)

// setupRedis starts an in-process Redis and returns a connected RedisCache.
func setupRedis(t *testing.T) (*miniredis.Miniredis, *cache.RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCache("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })
	return mr, rc
}

func TestPing(t *testing.T) {
	_, rc := setupRedis(t)
	assert.NoError(t, rc.Ping(context.Background()))
}

func TestSetGet_Roundtrip(t *testing.T) {
	_, rc := setupRedis(t)
	ctx := context.Background()

	err := rc.Set(ctx, "test:key", []byte("hello"), 10*time.Second)
	require.NoError(t, err)

	val, found, err := rc.Get(ctx, "test:key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hello"), val)
}

func TestGet_NotFound(t *testing.T) {
	_, rc := setupRedis(t)

	val, found, err := rc.Get(context.Background(), "nonexistent:key")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)
}

func TestDelete(t *testing.T) {
	_, rc := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "test:key", []byte("x"), time.Minute))
	require.NoError(t, rc.Delete(ctx, "test:key"))

	_, found, err := rc.Get(ctx, "test:key")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestJobStatus_Roundtrip(t *testing.T) {
	mr, rc := setupRedis(t)
	ctx := context.Background()

	err := rc.SetJobStatus(ctx, "req1", "processing", time.Minute)
	require.NoError(t, err)

	status, found, err := rc.GetJobStatus(ctx, "req1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "processing", status)

	// Entries expire with their TTL.
	mr.FastForward(2 * time.Minute)
	_, found, err = rc.GetJobStatus(ctx, "req1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestJobStatus_Unknown(t *testing.T) {
	_, rc := setupRedis(t)

	_, found, err := rc.GetJobStatus(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIncrWithExpiry(t *testing.T) {
	mr, rc := setupRedis(t)
	ctx := context.Background()

	key := cache.RateLimitKey("ik_abcd12")
	for want := int64(1); want <= 3; want++ {
		n, err := rc.IncrWithExpiry(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	// Counter resets once the window expires.
	mr.FastForward(2 * time.Minute)
	n, err := rc.IncrWithExpiry(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
