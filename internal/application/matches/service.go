// Package matches serves ranked match sets for students. It memoizes the
// results of the scoring pipeline in a MatchCache and keeps the cache
// consistent with profile edits through explicit Invalidate and Precompute
// calls.
package matches

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/unimatch/match-engine/internal/domain/matching"
	"github.com/unimatch/match-engine/internal/domain/shared"
	"github.com/unimatch/match-engine/pkg/circuitbreaker"
	"github.com/unimatch/match-engine/pkg/logger"
	"github.com/unimatch/match-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config tunes caching and stampede protection.
type Config struct {
	// TTL is the lifetime of a cached match set.
	TTL time.Duration `mapstructure:"ttl"`

	// StoreTimeout bounds every single cache store call.
	StoreTimeout time.Duration `mapstructure:"store_timeout"`

	// ClaimTTL is the lifetime of a compute claim. It must outlive a compute.
	ClaimTTL time.Duration `mapstructure:"claim_ttl"`

	// ClaimWait is how long a caller that lost the claim waits for the winner
	// before computing on its own.
	ClaimWait time.Duration `mapstructure:"claim_wait"`

	// ClaimPoll is the polling interval while waiting for the winner.
	ClaimPoll time.Duration `mapstructure:"claim_poll"`

	// ComputeTimeout bounds one full compute.
	ComputeTimeout time.Duration `mapstructure:"compute_timeout"`

	// CatalogStalenessWindow is the granularity of the fallback catalog version
	// used when the catalog cannot report one.
	CatalogStalenessWindow time.Duration `mapstructure:"catalog_staleness_window"`

	// CatalogVersionTTL is how long a catalog version read is reused. Catalog
	// updated events drop it earlier. It must not exceed CatalogStalenessWindow.
	CatalogVersionTTL time.Duration `mapstructure:"catalog_version_ttl"`

	// CatalogVersionTimeout bounds one catalog version read.
	CatalogVersionTimeout time.Duration `mapstructure:"catalog_version_timeout"`

	// PrefilterAggregateSlack widens the aggregate floor sent to the prefilter.
	// Programs requiring more than the student's aggregate plus the slack are
	// not candidates.
	PrefilterAggregateSlack float64 `mapstructure:"prefilter_aggregate_slack"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		TTL:                     15 * time.Minute,
		StoreTimeout:            150 * time.Millisecond,
		ClaimTTL:                15 * time.Second,
		ClaimWait:               2 * time.Second,
		ClaimPoll:               50 * time.Millisecond,
		ComputeTimeout:          10 * time.Second,
		CatalogStalenessWindow:  5 * time.Minute,
		CatalogVersionTTL:       2 * time.Second,
		CatalogVersionTimeout:   100 * time.Millisecond,
		PrefilterAggregateSlack: 6,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TTL <= 0 {
		c.TTL = d.TTL
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = d.StoreTimeout
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = d.ClaimTTL
	}
	if c.ClaimWait <= 0 {
		c.ClaimWait = d.ClaimWait
	}
	if c.ClaimPoll <= 0 {
		c.ClaimPoll = d.ClaimPoll
	}
	if c.ComputeTimeout <= 0 {
		c.ComputeTimeout = d.ComputeTimeout
	}
	if c.CatalogStalenessWindow <= 0 {
		c.CatalogStalenessWindow = d.CatalogStalenessWindow
	}
	if c.CatalogVersionTTL <= 0 {
		c.CatalogVersionTTL = d.CatalogVersionTTL
	}
	if c.CatalogVersionTTL > c.CatalogStalenessWindow {
		c.CatalogVersionTTL = c.CatalogStalenessWindow
	}
	if c.CatalogVersionTimeout <= 0 {
		c.CatalogVersionTimeout = d.CatalogVersionTimeout
	}
	return c
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVICE
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies are the collaborators of the Service. Prefilter and Publisher
// are optional.
type Dependencies struct {
	Profiles  matching.ProfileStore
	Catalog   matching.CatalogStore
	Cache     matching.MatchCache
	Prefilter matching.CandidatePrefilter
	Publisher shared.EventPublisher
	Logger    *zap.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithTuning overrides the scoring constants.
func WithTuning(t matching.Tuning) Option {
	return func(s *Service) { s.tuning = t }
}

// WithBuilderConfig overrides the builder configuration.
func WithBuilderConfig(cfg matching.BuilderConfig) Option {
	return func(s *Service) { s.builderConfig = cfg }
}

// WithBreaker replaces the cache store circuit breaker.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(s *Service) { s.breaker = cb }
}

// WithRetrier replaces the retrier used for store reads.
func WithRetrier(r *retry.Retrier) Option {
	return func(s *Service) { s.retrier = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is the read path of the match engine.
type Service struct {
	profiles  matching.ProfileStore
	catalog   matching.CatalogStore
	cache     matching.MatchCache
	prefilter matching.CandidatePrefilter
	publisher shared.EventPublisher

	tuning        matching.Tuning
	builderConfig matching.BuilderConfig
	cfg           Config

	breaker  *circuitbreaker.CircuitBreaker
	retrier  *retry.Retrier
	flights  *flightGroup
	versions catalogVersions
	now      func() time.Time
	log      *zap.Logger

	stats counters
}

// NewService creates a Service.
func NewService(deps Dependencies, cfg Config, opts ...Option) *Service {
	s := &Service{
		profiles:      deps.Profiles,
		catalog:       deps.Catalog,
		cache:         deps.Cache,
		prefilter:     deps.Prefilter,
		publisher:     deps.Publisher,
		tuning:        matching.DefaultTuning(),
		builderConfig: matching.DefaultBuilderConfig(),
		cfg:           cfg.withDefaults(),
		flights:       newFlightGroup(),
		now:           time.Now,
		log:           logger.OrNop(deps.Logger).Named("matches"),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.breaker == nil {
		s.breaker = circuitbreaker.CacheStoreBreaker(func(name string, from, to circuitbreaker.State) {
			s.log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		})
	}
	if s.retrier == nil {
		s.retrier = retry.StoreRetrier()
	}
	s.retrier = s.retrier.With(retry.WithRetryIf(isTransient))

	return s
}

// ══════════════════════════════════════════════════════════════════════════════
// GET MATCHES
// ══════════════════════════════════════════════════════════════════════════════

// GetMatches returns the ranked match set of a student for a mode.
//
// A cached set is returned while it is valid. Otherwise exactly one caller per
// key computes and stores the set; concurrent callers wait for it and never get
// a stale set in the meantime. A caller that waited ClaimWait without a result
// computes on its own and does not write. Cache store failures are logged and
// absorbed. The only errors returned are shared.ErrInvalidStudentID,
// shared.ErrInvalidMode, shared.ErrProfileNotFound, context errors and
// failures of the profile or catalog stores. The returned set is a deep copy
// owned by the caller.
func (s *Service) GetMatches(ctx context.Context, studentID string, mode matching.Mode) ([]matching.MatchResult, error) {
	sid, err := shared.NewStudentID(studentID)
	if err != nil {
		return nil, err
	}
	if !mode.IsValid() {
		return nil, shared.ErrInvalidMode
	}

	log := s.log.With(logger.StudentID(sid.String()), logger.Mode(mode.String()))

	key := matching.CacheKey{
		StudentID:      sid.String(),
		Mode:           mode,
		CatalogVersion: s.catalogVersion(ctx),
	}

	useCache := true
	if err := s.storeCall(ctx, "Generation", func(ctx context.Context) error {
		gen, err := s.cache.Generation(ctx, key.StudentID)
		key.Generation = gen
		return err
	}); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.degraded(log, "generation", err)
		useCache = false
	}

	if useCache {
		entry, err := s.cacheGet(ctx, key)
		switch {
		case err == nil:
			s.stats.hits.Add(1)
			return matching.CloneResults(entry.Results), nil
		case errors.Is(err, matching.ErrCacheMiss):
		default:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			s.degraded(log, "get", err)
			useCache = false
		}
	}
	s.stats.misses.Add(1)

	flightKey := key.String()
	if !useCache {
		flightKey = "direct:" + flightKey
	}

	results, joined, err := s.flights.Do(ctx, flightKey, func(ctx context.Context) ([]matching.MatchResult, error) {
		return s.fill(ctx, key, useCache)
	})
	if joined {
		s.stats.joined.Add(1)
	}
	if err != nil {
		return nil, err
	}
	return matching.CloneResults(results), nil
}

// fill produces the set for key. With useCache it claims the key, computes
// and stores the set; a caller that lost the claim waits for the winner.
func (s *Service) fill(ctx context.Context, key matching.CacheKey, useCache bool) ([]matching.MatchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ComputeTimeout)
	defer cancel()

	log := s.log.With(logger.StudentID(key.StudentID), logger.Mode(key.Mode.String()))

	if !useCache {
		return s.compute(ctx, key.StudentID, key.Mode)
	}

	var (
		release matching.ReleaseFunc
		claimed bool
	)
	if err := s.storeCall(ctx, "Claim", func(ctx context.Context) error {
		var err error
		release, claimed, err = s.cache.Claim(ctx, key, s.cfg.ClaimTTL)
		return err
	}); err != nil {
		s.degraded(log, "claim", err)
		return s.compute(ctx, key.StudentID, key.Mode)
	}

	if !claimed {
		s.stats.claimsLost.Add(1)
		if results, ok := s.awaitWinner(ctx, key); ok {
			return results, nil
		}
		log.Debug("claim holder did not deliver in time, computing without store")
		return s.compute(ctx, key.StudentID, key.Mode)
	}
	defer s.release(release, log)

	// The winner of a previous claim may have stored the set between our
	// lookup and our claim.
	if entry, err := s.cacheGet(ctx, key); err == nil {
		return entry.Results, nil
	}

	results, err := s.compute(ctx, key.StudentID, key.Mode)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, results, log)
	return results, nil
}

// awaitWinner polls the cache until the claim holder stores the set, ClaimWait
// elapses or the store fails.
func (s *Service) awaitWinner(ctx context.Context, key matching.CacheKey) ([]matching.MatchResult, bool) {
	deadline := time.NewTimer(s.cfg.ClaimWait)
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.ClaimPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-deadline.C:
			return nil, false
		case <-ticker.C:
			entry, err := s.cacheGet(ctx, key)
			switch {
			case err == nil:
				return entry.Results, true
			case errors.Is(err, matching.ErrCacheMiss):
			default:
				return nil, false
			}
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// INVALIDATE / PRECOMPUTE
// ══════════════════════════════════════════════════════════════════════════════

// Invalidate supersedes every cached set of the student. Sets computed before
// the call are never served afterwards, including those still being computed.
// It returns an error wrapping shared.ErrServiceUnavailable when the cache
// store cannot be reached, so that the caller can retry.
func (s *Service) Invalidate(ctx context.Context, studentID string) error {
	sid, err := shared.NewStudentID(studentID)
	if err != nil {
		return err
	}
	_, err = s.bumpGeneration(ctx, sid.String())
	return err
}

// Precompute supersedes the student's cached sets and stores fresh ones for
// the given modes, or for every mode when none are given.
func (s *Service) Precompute(ctx context.Context, studentID string, modes ...matching.Mode) error {
	sid, err := shared.NewStudentID(studentID)
	if err != nil {
		return err
	}
	if len(modes) == 0 {
		modes = matching.AllModes()
	}
	for _, m := range modes {
		if !m.IsValid() {
			return shared.ErrInvalidMode
		}
	}

	gen, err := s.bumpGeneration(ctx, sid.String())
	if err != nil {
		return err
	}

	version := s.catalogVersion(ctx)
	names := make([]string, 0, len(modes))
	programs := 0

	for _, m := range modes {
		key := matching.CacheKey{
			StudentID:      sid.String(),
			Generation:     gen,
			Mode:           m,
			CatalogVersion: version,
		}
		results, _, err := s.flights.Do(ctx, key.String(), func(ctx context.Context) ([]matching.MatchResult, error) {
			return s.fill(ctx, key, true)
		})
		if err != nil {
			return err
		}
		names = append(names, m.String())
		programs = len(results)
	}

	s.stats.precomputes.Add(1)
	s.log.Debug("matches precomputed",
		logger.StudentID(sid.String()),
		zap.Strings("modes", names),
		zap.Int64("generation", gen),
	)

	if s.publisher != nil {
		event := shared.MatchesPrecomputedEvent{
			BaseEvent: shared.NewBaseEvent(shared.EventMatchesPrecomputed, sid.String()),
			StudentID: sid.String(),
			Modes:     names,
			Programs:  programs,
		}
		if err := s.publisher.Publish(event); err != nil {
			s.log.Warn("failed to publish precompute event", zap.Error(err))
		}
	}
	return nil
}

func (s *Service) bumpGeneration(ctx context.Context, studentID string) (int64, error) {
	var gen int64
	err := s.storeCall(ctx, "Invalidate", func(ctx context.Context) error {
		var err error
		gen, err = s.cache.Invalidate(ctx, studentID)
		return err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		s.degraded(s.log.With(logger.StudentID(studentID)), "invalidate", err)
		return 0, shared.WrapError("cache", "Invalidate", shared.ErrServiceUnavailable,
			"could not supersede cached matches", err)
	}
	s.stats.invalidations.Add(1)
	return gen, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPUTE
// ══════════════════════════════════════════════════════════════════════════════

// Compute runs the scoring pipeline without touching the cache.
func (s *Service) Compute(ctx context.Context, studentID string, mode matching.Mode) ([]matching.MatchResult, error) {
	sid, err := shared.NewStudentID(studentID)
	if err != nil {
		return nil, err
	}
	if !mode.IsValid() {
		return nil, shared.ErrInvalidMode
	}
	return s.compute(ctx, sid.String(), mode)
}

func (s *Service) compute(ctx context.Context, studentID string, mode matching.Mode) ([]matching.MatchResult, error) {
	s.stats.computes.Add(1)
	start := s.now()
	log := s.log.With(logger.StudentID(studentID), logger.Mode(mode.String()))

	transcript, prefs, err := s.loadProfile(ctx, studentID, log)
	if err != nil {
		return nil, err
	}

	programs, courses, err := s.loadCandidates(ctx, prefs, log)
	if err != nil {
		return nil, err
	}

	builder := matching.NewBuilder(matching.NewAggregator(s.tuning, courses), s.builderConfig)
	results, report, err := builder.Build(ctx, transcript, prefs, programs, mode)
	if err != nil {
		return nil, err
	}

	if len(report.Skipped) > 0 {
		log.Warn("programs skipped while scoring", zap.Ints("indexes", report.Skipped))
	}
	log.Debug("match set computed",
		zap.Int("candidates", report.Candidates),
		zap.Int("scored", report.Scored),
		zap.Bool("parallel", report.Parallel),
		logger.Latency(s.now().Sub(start)),
	)
	return results, nil
}

func (s *Service) loadProfile(ctx context.Context, studentID string, log *zap.Logger) (matching.Transcript, matching.Preferences, error) {
	records, err := retry.DoWithData(ctx, s.retrier, func(ctx context.Context) ([]matching.CourseRecord, error) {
		return s.profiles.LoadTranscript(ctx, studentID)
	})
	if err != nil {
		return nil, matching.Preferences{}, profileError("LoadTranscript", err)
	}

	prefs, err := retry.DoWithData(ctx, s.retrier, func(ctx context.Context) (matching.Preferences, error) {
		return s.profiles.LoadPreferences(ctx, studentID)
	})
	if err != nil {
		return nil, matching.Preferences{}, profileError("LoadPreferences", err)
	}

	transcript, rejected := matching.NormalizeTranscript(records)
	for _, r := range rejected {
		log.Debug("course record ignored",
			zap.Int("index", r.Index),
			zap.String("course_id", r.CourseID),
			zap.String("reason", r.Reason),
		)
	}
	return transcript, prefs, nil
}

func profileError(op string, err error) error {
	if errors.Is(err, shared.ErrProfileNotFound) {
		return shared.ErrProfileNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return shared.WrapError("profile", op, shared.ErrServiceUnavailable, "profile store failed", err)
}

func (s *Service) loadCandidates(ctx context.Context, prefs matching.Preferences, log *zap.Logger) ([]matching.Program, matching.CourseCatalog, error) {
	var hints matching.FilterHints

	if s.prefilter != nil {
		ph := matching.FilterHints{
			PreferredFieldIDs:   prefs.FieldIDs(),
			PreferredCountryIDs: prefs.CountryIDs(),
		}
		if prefs.AggregateScore != nil && s.cfg.PrefilterAggregateSlack > 0 {
			ph.AggregateFloor = *prefs.AggregateScore + s.cfg.PrefilterAggregateSlack
		}

		ids, err := s.prefilter.CandidateIDs(ctx, ph)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, nil, ctxErr
			}
			s.stats.prefilterFallbacks.Add(1)
			log.Warn("candidate prefilter failed, scoring the full catalog", zap.Error(err))
		case len(ids) == 0:
			log.Debug("candidate prefilter returned nothing, scoring the full catalog")
		default:
			hints.ProgramIDs = ids
		}
	}

	programs, err := retry.DoWithData(ctx, s.retrier, func(ctx context.Context) ([]matching.Program, error) {
		return s.catalog.LoadCandidatePrograms(ctx, hints)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		return nil, nil, shared.WrapError("catalog", "LoadCandidatePrograms", shared.ErrServiceUnavailable,
			"catalog store failed", err)
	}

	var courses matching.CourseCatalog
	if src, ok := s.catalog.(matching.CourseCatalogSource); ok {
		courses, err = src.LoadCourseCatalog(ctx)
		if err != nil {
			log.Warn("course catalog unavailable, accepting every course id", zap.Error(err))
			courses = nil
		}
	}

	return programs, courses, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE STORE ACCESS
// ══════════════════════════════════════════════════════════════════════════════

// storeCall runs one cache store call under StoreTimeout and the breaker.
// Failures are reported as shared.ErrCacheTimeout when the store did not
// answer in time and as shared.ErrCacheUnavailable otherwise.
func (s *Service) storeCall(ctx context.Context, op string, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	err := s.breaker.Execute(callCtx, fn)
	switch {
	case err == nil:
		return nil
	case ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded):
		return shared.WrapError("cache", op, shared.ErrCacheTimeout, "match cache request timeout", err)
	default:
		return shared.WrapError("cache", op, shared.ErrCacheUnavailable, "match cache is unavailable", err)
	}
}

func (s *Service) cacheGet(ctx context.Context, key matching.CacheKey) (*matching.CacheEntry, error) {
	var entry *matching.CacheEntry
	err := s.storeCall(ctx, "Get", func(ctx context.Context) error {
		e, err := s.cache.Get(ctx, key)
		if errors.Is(err, matching.ErrCacheMiss) {
			// a miss is a healthy answer for the breaker
			return nil
		}
		entry = e
		return err
	})
	if err != nil {
		return nil, err
	}
	if entry == nil || (!entry.ExpiresAt.IsZero() && !s.now().Before(entry.ExpiresAt)) {
		return nil, matching.ErrCacheMiss
	}
	return entry, nil
}

// store writes the set on a context detached from the caller, so that a caller
// going away never leaves a truncated entry behind.
func (s *Service) store(ctx context.Context, key matching.CacheKey, results []matching.MatchResult, log *zap.Logger) {
	now := s.now()
	entry := matching.CacheEntry{
		Results:    results,
		ComputedAt: now,
		ExpiresAt:  now.Add(s.cfg.TTL),
	}
	err := s.storeCall(context.WithoutCancel(ctx), "Set", func(ctx context.Context) error {
		return s.cache.Set(ctx, key, entry, s.cfg.TTL)
	})
	if err != nil {
		s.degraded(log, "set", err)
		return
	}
	s.stats.stores.Add(1)
}

func (s *Service) release(release matching.ReleaseFunc, log *zap.Logger) {
	if release == nil {
		return
	}
	err := s.storeCall(context.Background(), "Release", func(ctx context.Context) error {
		return release(ctx)
	})
	if err != nil {
		log.Debug("claim release failed, it expires on its own", zap.Error(err))
	}
}

func (s *Service) degraded(log *zap.Logger, op string, err error) {
	s.stats.degraded.Add(1)
	log.Warn("match cache degraded", logger.Operation(op), zap.Error(err))
}

// isTransient reports whether a store error may go away on retry.
func isTransient(err error) bool {
	return err != nil &&
		!shared.IsNotFound(err) &&
		!shared.IsValidation(err) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS
// ══════════════════════════════════════════════════════════════════════════════

type counters struct {
	hits               atomic.Int64
	misses             atomic.Int64
	joined             atomic.Int64
	computes           atomic.Int64
	stores             atomic.Int64
	claimsLost         atomic.Int64
	degraded           atomic.Int64
	invalidations      atomic.Int64
	precomputes        atomic.Int64
	prefilterFallbacks atomic.Int64
	versionReads       atomic.Int64
}

// Stats is a snapshot of the service counters.
type Stats struct {
	Hits               int64  `json:"hits"`
	Misses             int64  `json:"misses"`
	Joined             int64  `json:"joined"`
	Computes           int64  `json:"computes"`
	Stores             int64  `json:"stores"`
	ClaimsLost         int64  `json:"claims_lost"`
	Degraded           int64  `json:"degraded"`
	Invalidations      int64  `json:"invalidations"`
	Precomputes        int64  `json:"precomputes"`
	PrefilterFallbacks int64  `json:"prefilter_fallbacks"`
	VersionReads       int64  `json:"catalog_version_reads"`
	InFlight           int    `json:"in_flight"`
	BreakerState       string `json:"breaker_state"`
}

// Stats returns the current counters.
func (s *Service) Stats() Stats {
	return Stats{
		Hits:               s.stats.hits.Load(),
		Misses:             s.stats.misses.Load(),
		Joined:             s.stats.joined.Load(),
		Computes:           s.stats.computes.Load(),
		Stores:             s.stats.stores.Load(),
		ClaimsLost:         s.stats.claimsLost.Load(),
		Degraded:           s.stats.degraded.Load(),
		Invalidations:      s.stats.invalidations.Load(),
		Precomputes:        s.stats.precomputes.Load(),
		PrefilterFallbacks: s.stats.prefilterFallbacks.Load(),
		VersionReads:       s.stats.versionReads.Load(),
		InFlight:           s.flights.inFlight(),
		BreakerState:       s.breaker.State().String(),
	}
}
