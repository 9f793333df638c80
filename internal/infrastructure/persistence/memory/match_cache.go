// Package memory provides a process-local MatchCache for single-instance runs
// and tests. Entries are stored serialized so that callers never share memory
// with the cache.
package memory

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unimatch/match-engine/internal/domain/matching"
)

type storedEntry struct {
	data      []byte
	expiresAt time.Time
}

type claim struct {
	token     string
	expiresAt time.Time
}

// MatchCache implements matching.MatchCache in memory.
type MatchCache struct {
	mu          sync.Mutex
	generations map[string]int64
	entries     map[string]storedEntry
	claims      map[string]claim
	now         func() time.Time
}

var _ matching.MatchCache = (*MatchCache)(nil)

// NewMatchCache creates an empty cache.
func NewMatchCache() *MatchCache {
	return &MatchCache{
		generations: make(map[string]int64),
		entries:     make(map[string]storedEntry),
		claims:      make(map[string]claim),
		now:         time.Now,
	}
}

// WithClock replaces time.Now; used by tests.
func (c *MatchCache) WithClock(now func() time.Time) *MatchCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

// Generation returns the student's invalidation generation.
func (c *MatchCache) Generation(_ context.Context, studentID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[studentID], nil
}

// Get returns the entry or matching.ErrCacheMiss.
func (c *MatchCache) Get(_ context.Context, key matching.CacheKey) (*matching.CacheEntry, error) {
	c.mu.Lock()
	stored, ok := c.entries[key.String()]
	if ok && !c.now().Before(stored.expiresAt) {
		delete(c.entries, key.String())
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		return nil, matching.ErrCacheMiss
	}

	var entry matching.CacheEntry
	if err := json.Unmarshal(stored.data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Set stores the entry with a TTL.
func (c *MatchCache) Set(_ context.Context, key matching.CacheKey, entry matching.CacheEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key.String()] = storedEntry{data: data, expiresAt: c.now().Add(ttl)}
	return nil
}

// Invalidate bumps the generation and drops the student's entries.
func (c *MatchCache) Invalidate(_ context.Context, studentID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generations[studentID]++
	prefix := studentID + ":"
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	return c.generations[studentID], nil
}

// Claim takes the compute claim for key unless a live claim exists.
func (c *MatchCache) Claim(_ context.Context, key matching.CacheKey, ttl time.Duration) (matching.ReleaseFunc, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key.String()
	now := c.now()
	if held, ok := c.claims[k]; ok && now.Before(held.expiresAt) {
		return nil, false, nil
	}

	token := uuid.NewString()
	c.claims[k] = claim{token: token, expiresAt: now.Add(ttl)}

	release := func(context.Context) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if held, ok := c.claims[k]; ok && held.token == token {
			delete(c.claims, k)
		}
		return nil
	}
	return release, true, nil
}

// Len returns the number of live entries.
func (c *MatchCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for _, e := range c.entries {
		if now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}
