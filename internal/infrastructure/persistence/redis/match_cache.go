package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/unimatch/match-engine/internal/domain/matching"
)

// ══════════════════════════════════════════════════════════════════════════════
// MATCH CACHE
// Keys:
//   {prefix}matchgen:{student}                         invalidation counter
//   {prefix}matches:{student}:g{gen}:{mode}:{version}  JSON CacheEntry
//   {prefix}lock:matches:{student}:g{gen}:...          compute claim token
// ══════════════════════════════════════════════════════════════════════════════

// releaseScript deletes the claim only when it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// MatchCache implements matching.MatchCache on Redis.
type MatchCache struct {
	cache *Cache
}

// NewMatchCache creates a MatchCache.
func NewMatchCache(cache *Cache) *MatchCache {
	return &MatchCache{cache: cache}
}

var _ matching.MatchCache = (*MatchCache)(nil)

func (m *MatchCache) generationKey(studentID string) string {
	return m.cache.Key(PrefixGeneration, studentID)
}

func (m *MatchCache) entryKey(key matching.CacheKey) string {
	return m.cache.Key(PrefixMatches, key.String())
}

// entryPattern matches every entry of the student, whatever its generation.
func (m *MatchCache) entryPattern(studentID string) string {
	return EscapePattern(m.cache.Key(PrefixMatches, studentID, ":g")) + "*"
}

func (m *MatchCache) claimKey(key matching.CacheKey) string {
	return m.cache.Key(LockKey(PrefixMatches + key.String()))
}

// Generation returns the student's invalidation generation.
func (m *MatchCache) Generation(ctx context.Context, studentID string) (int64, error) {
	return m.cache.GetInt64(ctx, m.generationKey(studentID))
}

// Get returns the entry or matching.ErrCacheMiss.
func (m *MatchCache) Get(ctx context.Context, key matching.CacheKey) (*matching.CacheEntry, error) {
	var entry matching.CacheEntry
	if err := m.cache.Get(ctx, m.entryKey(key), &entry); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, matching.ErrCacheMiss
		}
		return nil, err
	}
	return &entry, nil
}

// Set stores the entry under the key with a TTL.
func (m *MatchCache) Set(ctx context.Context, key matching.CacheKey, entry matching.CacheEntry, ttl time.Duration) error {
	return m.cache.Set(ctx, m.entryKey(key), entry, ttl)
}

// Invalidate bumps the generation, then drops the student's entries. The bump
// alone makes old entries unreachable; the delete only frees memory, so its
// failure is not reported.
func (m *MatchCache) Invalidate(ctx context.Context, studentID string) (int64, error) {
	gen, err := m.cache.Incr(ctx, m.generationKey(studentID))
	if err != nil {
		return 0, fmt.Errorf("bump generation: %w", err)
	}

	_ = m.cache.DeleteByPattern(ctx, m.entryPattern(studentID))

	return gen, nil
}

// Claim takes the compute claim for key with SET NX PX and a random token.
func (m *MatchCache) Claim(ctx context.Context, key matching.CacheKey, ttl time.Duration) (matching.ReleaseFunc, bool, error) {
	claimKey := m.claimKey(key)
	token := uuid.NewString()

	ok, err := m.cache.SetNX(ctx, claimKey, token, ttl)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		res, err := m.cache.Eval(ctx, releaseScript, []string{claimKey}, token)
		if err != nil {
			return err
		}
		if n, _ := res.(int64); n == 0 {
			return fmt.Errorf("claim %s expired before release", strconv.Quote(claimKey))
		}
		return nil
	}
	return release, true, nil
}
