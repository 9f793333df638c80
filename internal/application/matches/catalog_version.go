package matches

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/unimatch/match-engine/pkg/timeutil"
)

// catalogVersions memoizes the catalog version between reads. Concurrent
// callers that find it expired share one read.
type catalogVersions struct {
	mu      sync.Mutex
	version string
	expires time.Time

	reads singleflight.Group
}

func (c *catalogVersions) get(now time.Time) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version == "" || !now.Before(c.expires) {
		return "", false
	}
	return c.version, true
}

func (c *catalogVersions) set(version string, expires time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version, c.expires = version, expires
}

func (c *catalogVersions) forget() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version, c.expires = "", time.Time{}
}

// ForgetCatalogVersion drops the memoized catalog version, so the next request
// reads it from the catalog store.
func (s *Service) ForgetCatalogVersion() {
	s.versions.forget()
}

// catalogVersion returns the memoized catalog version, reading it again once
// CatalogVersionTTL has passed.
func (s *Service) catalogVersion(ctx context.Context) string {
	if v, ok := s.versions.get(s.now()); ok {
		return v
	}
	v, _, _ := s.versions.reads.Do("version", func() (any, error) {
		if v, ok := s.versions.get(s.now()); ok {
			return v, nil
		}
		v := s.readCatalogVersion(ctx)
		s.versions.set(v, s.now().Add(s.cfg.CatalogVersionTTL))
		return v, nil
	})
	return v.(string)
}

// readCatalogVersion asks the catalog for its version within
// CatalogVersionTimeout. When it cannot answer, the version falls back to the
// current staleness window, so a catalog edit is picked up at most one window
// later.
func (s *Service) readCatalogVersion(ctx context.Context) string {
	s.stats.versionReads.Add(1)

	// shared with other callers, so a departing caller must not cut it short
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CatalogVersionTimeout)
	defer cancel()

	version, err := s.catalog.CatalogVersion(ctx)
	if err == nil && strings.TrimSpace(version) != "" {
		return version
	}
	if err != nil {
		s.log.Warn("catalog version unavailable, using staleness window", zap.Error(err))
	}
	return fmt.Sprintf("window-%d", timeutil.WindowIndex(s.now(), s.cfg.CatalogStalenessWindow))
}
