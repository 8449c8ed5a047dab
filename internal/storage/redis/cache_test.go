package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Rivalz-Swarm/internal/search"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewCacheWithClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), "test:")
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestCacheRoundTripWithTTL(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "rivalz news")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "rivalz news", "digest", time.Minute))
	value, ok, err := c.Get(ctx, "rivalz news")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "digest", value)

	assert.True(t, mr.Exists(c.Key("rivalz news")))
	assert.Contains(t, c.Key("rivalz news"), "test:search:")
	assert.Equal(t, time.Minute, mr.TTL(c.Key("rivalz news")))

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "rivalz news")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheReportsConnectionFailure(t *testing.T) {
	c, mr := newTestCache(t)
	mr.Close()

	_, _, err := c.Get(context.Background(), "k")
	require.Error(t, err)
	assert.Error(t, c.Ping(context.Background()))
}

type countingBackend struct{ calls int }

func (b *countingBackend) Name() string { return "counting" }

func (b *countingBackend) Search(context.Context, string) (string, error) {
	b.calls++
	return "fresh result", nil
}

func TestCacheBacksSearchCached(t *testing.T) {
	c, _ := newTestCache(t)
	inner := &countingBackend{}
	backend := search.NewCached(inner, c, time.Minute, nil)

	for i := 0; i < 3; i++ {
		out, err := backend.Search(context.Background(), "Rivalz Network latest")
		require.NoError(t, err)
		assert.Equal(t, "fresh result", out)
	}
	assert.Equal(t, 1, inner.calls)
}

func TestNewCacheRequiresAddress(t *testing.T) {
	_, err := NewCache(context.Background(), Config{})
	require.Error(t, err)
}
