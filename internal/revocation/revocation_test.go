package revocation

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, Fingerprint("abc"), Fingerprint("abc"))
	assert.NotEqual(t, Fingerprint("abc"), Fingerprint("abd"))
	assert.Len(t, Fingerprint("abc"), 64)
}

func TestMemorySet_AddContains(t *testing.T) {
	ctx := context.Background()
	set := NewMemorySet(10, time.Hour, nil)

	require.NoError(t, set.Add(ctx, "token-a", time.Now().Add(time.Minute)))

	found, err := set.Contains(ctx, "token-a")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = set.Contains(ctx, "token-b")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemorySet_IgnoresExpiredTokens(t *testing.T) {
	ctx := context.Background()
	set := NewMemorySet(10, time.Hour, nil)

	require.NoError(t, set.Add(ctx, "old", time.Now().Add(-time.Second)))
	assert.Equal(t, 0, set.Len())
}

func TestMemorySet_EntryLapsesWithToken(t *testing.T) {
	ctx := context.Background()
	set := NewMemorySet(10, time.Hour, nil)
	now := time.Now()
	set.now = func() time.Time { return now }

	require.NoError(t, set.Add(ctx, "token", now.Add(time.Minute)))

	set.now = func() time.Time { return now.Add(2 * time.Minute) }
	found, err := set.Contains(ctx, "token")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemorySet_BoundedCapacity(t *testing.T) {
	ctx := context.Background()
	set := NewMemorySet(3, time.Hour, nil)
	exp := time.Now().Add(time.Minute)

	for _, tok := range []string{"t1", "t2", "t3", "t4"} {
		require.NoError(t, set.Add(ctx, tok, exp))
	}

	assert.Equal(t, 3, set.Len())
	found, _ := set.Contains(ctx, "t1")
	assert.False(t, found, "oldest entry should be evicted")
	found, _ = set.Contains(ctx, "t4")
	assert.True(t, found)
}

func TestMemorySet_LogsEvictionOfUnexpiredEntries(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	set := NewMemorySet(2, time.Hour, slog.New(slog.NewJSONHandler(&buf, nil)))
	exp := time.Now().Add(time.Minute)

	require.NoError(t, set.Add(ctx, "t1", exp))
	require.NoError(t, set.Add(ctx, "t2", exp))
	assert.Zero(t, set.EvictedLive())
	assert.Empty(t, buf.String())

	require.NoError(t, set.Add(ctx, "t3", exp))
	require.NoError(t, set.Add(ctx, "t4", exp))

	assert.Equal(t, int64(2), set.EvictedLive())
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("revocation set full")), "warning is throttled")
	assert.Contains(t, buf.String(), `"evicted_live_total":1`)
}

func TestMemorySet_ExpiredEvictionsAreNotCounted(t *testing.T) {
	ctx := context.Background()
	set := NewMemorySet(1, time.Hour, nil)
	now := time.Now()
	set.now = func() time.Time { return now }

	require.NoError(t, set.Add(ctx, "t1", now.Add(time.Minute)))

	set.now = func() time.Time { return now.Add(2 * time.Minute) }
	require.NoError(t, set.Add(ctx, "t2", now.Add(time.Hour)))
	assert.Zero(t, set.EvictedLive())
}

func TestRedisSet_AddContains(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	set := NewRedisSet(client)

	require.NoError(t, set.Add(ctx, "token-a", time.Now().Add(time.Minute)))

	found, err := set.Contains(ctx, "token-a")
	require.NoError(t, err)
	assert.True(t, found)

	ttl := mr.TTL(redisKeyPrefix + Fingerprint("token-a"))
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)

	mr.FastForward(2 * time.Minute)
	found, err = set.Contains(ctx, "token-a")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisSet_SkipsExpiredTokens(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	set := NewRedisSet(client)

	require.NoError(t, set.Add(ctx, "old", time.Now().Add(-time.Minute)))
	assert.Empty(t, mr.Keys())
}

func TestRedisSet_Unavailable(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	set := NewRedisSet(client)
	mr.Close()

	_, err = set.Contains(ctx, "token")
	assert.Error(t, err)
}
