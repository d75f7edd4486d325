package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-ticket-reservation/internal/config"
)

func testCache() *Cache {
	return New(config.CacheConfig{Enabled: true, TTL: time.Minute, Prefix: "test"}, nil)
}

func TestGetSetRoundTrip(t *testing.T) {
	c := testCache()
	ctx := context.Background()
	h := c.ForEvent("concert")

	_, ok := h.Get(ctx, "items")
	assert.False(t, ok, "miss before first Set")

	h.Set(ctx, "items", []byte(`{"items":[]}`))
	got, ok := h.Get(ctx, "items")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"items":[]}`), got)
}

func TestClearInvalidatesWholeEvent(t *testing.T) {
	c := testCache()
	ctx := context.Background()
	h := c.ForEvent("concert")

	h.Set(ctx, "items", []byte("a"))
	h.Set(ctx, "quotas", []byte("b"))
	require.NoError(t, h.Clear(ctx))

	_, ok := h.Get(ctx, "items")
	assert.False(t, ok)
	_, ok = h.Get(ctx, "quotas")
	assert.False(t, ok)

	// The handle stays usable after a clear.
	h.Set(ctx, "items", []byte("c"))
	got, ok := h.Get(ctx, "items")
	require.True(t, ok)
	assert.Equal(t, []byte("c"), got)
}

func TestClearIsEventScoped(t *testing.T) {
	c := testCache()
	ctx := context.Background()
	a := c.ForEvent("concert")
	b := c.ForEvent("festival")

	a.Set(ctx, "items", []byte("a"))
	b.Set(ctx, "items", []byte("b"))
	require.NoError(t, a.Clear(ctx))

	_, ok := a.Get(ctx, "items")
	assert.False(t, ok)
	got, ok := b.Get(ctx, "items")
	require.True(t, ok, "clearing one event must not touch another")
	assert.Equal(t, []byte("b"), got)
}

func TestDisabledCacheIsInert(t *testing.T) {
	c := New(config.CacheConfig{Enabled: false, Prefix: "test"}, nil)
	ctx := context.Background()
	h := c.ForEvent("concert")

	h.Set(ctx, "items", []byte("a"))
	_, ok := h.Get(ctx, "items")
	assert.False(t, ok)
	assert.NoError(t, h.Clear(ctx), "the invalidation contract holds even when disabled")
}
