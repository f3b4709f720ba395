package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb), mr
}

func TestTier(t *testing.T) {
	ctx := context.Background()

	t.Run("Should round trip a value with its store time", func(t *testing.T) {
		client, mr := newTestClient(t)
		tier := client.Tier("embedding")
		storedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

		require.NoError(t, tier.Set(ctx, "abc", []float32{0.1, 0.2}, storedAt, time.Hour))
		assert.True(t, mr.Exists("resumemate:embedding:abc"))
		assert.Equal(t, time.Hour, mr.TTL("resumemate:embedding:abc"))

		var got []float32
		at, ok, err := tier.Get(ctx, "abc", &got)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []float32{0.1, 0.2}, got)
		assert.True(t, storedAt.Equal(at))
	})

	t.Run("Should report a miss for unknown keys", func(t *testing.T) {
		client, _ := newTestClient(t)
		var got []float32
		_, ok, err := client.Tier("embedding").Get(ctx, "missing", &got)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Should expire with the redis ttl", func(t *testing.T) {
		client, mr := newTestClient(t)
		tier := client.Tier("result")
		require.NoError(t, tier.Set(ctx, "k", "v", time.Now(), time.Minute))
		mr.FastForward(2 * time.Minute)

		var got string
		_, ok, err := tier.Get(ctx, "k", &got)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Should invalidate one namespace only", func(t *testing.T) {
		client, mr := newTestClient(t)
		require.NoError(t, client.Tier("result").Set(ctx, "a", 1, time.Now(), time.Hour))
		require.NoError(t, client.Tier("embedding").Set(ctx, "a", 1, time.Now(), time.Hour))

		require.NoError(t, client.Invalidate(ctx, "result"))
		assert.False(t, mr.Exists("resumemate:result:a"))
		assert.True(t, mr.Exists("resumemate:embedding:a"))
	})
}
