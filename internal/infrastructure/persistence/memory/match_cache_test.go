package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unimatch/match-engine/internal/domain/matching"
)

func TestMatchCache_SetGetExpire(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMatchCache().WithClock(func() time.Time { return now })
	ctx := context.Background()
	key := matching.CacheKey{StudentID: "s1", Mode: matching.ModeBalanced, CatalogVersion: "v1"}

	_, err := c.Get(ctx, key)
	assert.ErrorIs(t, err, matching.ErrCacheMiss)

	entry := matching.CacheEntry{Results: []matching.MatchResult{{ProgramID: "p1", OverallScore: 0.5}}}
	require.NoError(t, c.Set(ctx, key, entry, time.Minute))

	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "p1", got.Results[0].ProgramID)
	assert.Equal(t, 1, c.Len())

	now = now.Add(time.Minute)
	_, err = c.Get(ctx, key)
	assert.ErrorIs(t, err, matching.ErrCacheMiss)
}

func TestMatchCache_InvalidateBumpsGeneration(t *testing.T) {
	c := NewMatchCache()
	ctx := context.Background()

	gen, err := c.Generation(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, gen)

	key := matching.CacheKey{StudentID: "s1", Generation: gen, Mode: matching.ModeAcademic, CatalogVersion: "v"}
	other := matching.CacheKey{StudentID: "s2", Mode: matching.ModeAcademic, CatalogVersion: "v"}
	require.NoError(t, c.Set(ctx, key, matching.CacheEntry{}, time.Minute))
	require.NoError(t, c.Set(ctx, other, matching.CacheEntry{}, time.Minute))

	gen, err = c.Invalidate(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)

	_, err = c.Get(ctx, key)
	assert.ErrorIs(t, err, matching.ErrCacheMiss)
	_, err = c.Get(ctx, other)
	assert.NoError(t, err)
}

func TestMatchCache_ClaimIsExclusive(t *testing.T) {
	c := NewMatchCache()
	ctx := context.Background()
	key := matching.CacheKey{StudentID: "s1", Mode: matching.ModeBalanced, CatalogVersion: "v"}

	release, ok, err := c.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, release(ctx))
	_, ok, err = c.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMatchCache_StaleReleaseKeepsNewClaim(t *testing.T) {
	now := time.Now()
	c := NewMatchCache().WithClock(func() time.Time { return now })
	ctx := context.Background()
	key := matching.CacheKey{StudentID: "s1", Mode: matching.ModeBalanced, CatalogVersion: "v"}

	stale, ok, _ := c.Claim(ctx, key, time.Second)
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok, _ = c.Claim(ctx, key, time.Minute)
	require.True(t, ok)

	require.NoError(t, stale(ctx))
	_, ok, _ = c.Claim(ctx, key, time.Minute)
	assert.False(t, ok, "release of an expired claim must not drop the current one")
}
