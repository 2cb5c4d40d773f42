package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryDeduper_FirstSeen(t *testing.T) {
	d := NewMemoryDeduper(time.Minute)
	ctx := context.Background()

	first, err := d.FirstSeen(ctx, "a")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := d.FirstSeen(ctx, "a")
	require.NoError(t, err)
	assert.False(t, again)

	other, err := d.FirstSeen(ctx, "b")
	require.NoError(t, err)
	assert.True(t, other)
}

func TestMemoryDeduper_Expiry(t *testing.T) {
	d := NewMemoryDeduper(time.Minute)
	now := time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = d.FirstSeen(ctx, "a")
	_, _ = d.FirstSeen(ctx, "b")

	now = now.Add(2 * time.Minute)
	seen, err := d.FirstSeen(ctx, "a")
	require.NoError(t, err)
	assert.True(t, seen, "expired key counts as new")
	assert.Equal(t, 1, d.Len(), "expired keys are swept")
}

func TestMemoryDeduper_Concurrent(t *testing.T) {
	d := NewMemoryDeduper(time.Minute)
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := d.FirstSeen(context.Background(), "same"); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestNewRedisDeduper_Unreachable(t *testing.T) {
	_, err := NewRedisDeduper(context.Background(), RedisConfig{Addr: "127.0.0.1:1"}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
}

func TestRedisDeduper_Defaults(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()

	d := newRedisDeduper(client, RedisConfig{}, zap.NewNop())
	assert.Equal(t, DefaultTTL, d.ttl)
	assert.Equal(t, "media:delivery:", d.prefix)

	_, err := d.FirstSeen(context.Background(), "k")
	assert.Error(t, err)
}
