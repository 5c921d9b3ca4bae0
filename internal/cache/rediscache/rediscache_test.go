package rediscache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GetSet(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, "case:EAC2190012345:current", []byte(`{"statusText":"Case Was Received"}`), time.Minute))

	b, ok, err := c.Get(ctx, "case:EAC2190012345:current")
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, string(b), "Case Was Received")

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "case:EAC2190012345:current")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		allowed, n, err := rl.Allow(ctx, "rl:source:202601011200", 3, time.Minute)
		require.NoError(t, err)
		require.True(t, allowed)
		require.Equal(t, i, n)
	}

	allowed, n, err := rl.Allow(ctx, "rl:source:202601011200", 3, time.Minute)
	require.NoError(t, err)
	require.False(t, allowed)
	require.Equal(t, int64(4), n)

	// A fresh window starts clean.
	mr.FastForward(2 * time.Minute)
	allowed, _, err = rl.Allow(ctx, "rl:source:202601011200", 3, time.Minute)
	require.NoError(t, err)
	require.True(t, allowed)
}
