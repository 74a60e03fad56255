package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSetRoundTrip(t *testing.T) {
	c := NewMemoryCache(10, 1<<20, nil)
	ctx := context.Background()

	c.Set(ctx, "search:personal:redis:20", []byte(`["e1"]`), time.Minute)

	value, ok := c.Get(ctx, "search:personal:redis:20")
	require.True(t, ok)
	assert.Equal(t, []byte(`["e1"]`), value)

	_, ok = c.Get(ctx, "search:personal:other:20")
	assert.False(t, ok)

	hits, misses, _ := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestGetReturnsCopy(t *testing.T) {
	c := NewMemoryCache(10, 1<<20, nil)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("original"), time.Minute)

	value, ok := c.Get(ctx, "k")
	require.True(t, ok)
	value[0] = 'X'

	again, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("original"), again, "callers never mutate cached bytes")
}

func TestTTLExpiry(t *testing.T) {
	c := NewMemoryCache(10, 1<<20, nil)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestLRUEvictionByCount(t *testing.T) {
	c := NewMemoryCache(2, 1<<20, nil)
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"), time.Minute)
	c.Set(ctx, "b", []byte("2"), time.Minute)

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := c.Get(ctx, "a")
	require.True(t, ok)

	c.Set(ctx, "c", []byte("3"), time.Minute)

	_, ok = c.Get(ctx, "b")
	assert.False(t, ok, "the least recently used key is evicted")
	_, ok = c.Get(ctx, "a")
	assert.True(t, ok)
	_, ok = c.Get(ctx, "c")
	assert.True(t, ok)

	_, _, evictions := c.Stats()
	assert.Equal(t, int64(1), evictions)
}

func TestEvictionByMemory(t *testing.T) {
	// Each entry is ~33 bytes (1-byte key + 32-byte value); a 70-byte cache
	// holds two of them.
	c := NewMemoryCache(100, 70, nil)
	ctx := context.Background()

	payload := make([]byte, 32)
	c.Set(ctx, "a", payload, time.Minute)
	c.Set(ctx, "b", payload, time.Minute)
	c.Set(ctx, "c", payload, time.Minute)

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "c")
	assert.True(t, ok)
}

func TestOversizedItemSkipped(t *testing.T) {
	c := NewMemoryCache(10, 16, nil)
	ctx := context.Background()

	c.Set(ctx, "big", make([]byte, 64), time.Minute)

	_, ok := c.Get(ctx, "big")
	assert.False(t, ok)
}

func TestInvalidatePrefix(t *testing.T) {
	c := NewMemoryCache(10, 1<<20, nil)
	ctx := context.Background()

	c.Set(ctx, "search:personal:redis:20", []byte("1"), time.Minute)
	c.Set(ctx, "search:personal:kafka:20", []byte("2"), time.Minute)
	c.Set(ctx, "search:professional:redis:20", []byte("3"), time.Minute)

	dropped := c.InvalidatePrefix(ctx, "search:personal:")
	assert.Equal(t, 2, dropped)

	_, ok := c.Get(ctx, "search:personal:redis:20")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "search:professional:redis:20")
	assert.True(t, ok, "other domains keep their cached results")
}

func TestSetOverwritesExisting(t *testing.T) {
	c := NewMemoryCache(10, 1<<20, nil)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("old"), time.Minute)
	c.Set(ctx, "k", []byte("new"), time.Minute)

	value, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("new"), value)
}
