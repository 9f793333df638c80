// Package jobs contains the match engine's scheduled jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unimatch/match-engine/internal/domain/matching"
	"github.com/unimatch/match-engine/internal/domain/shared"
	"github.com/unimatch/match-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// WARM MATCH CACHE JOB
// Precomputes match sets for students whose profile changed since the last
// run. It backs up the event handlers: a lost ProfileUpdated event still gets
// its cache superseded within one schedule period.
// ══════════════════════════════════════════════════════════════════════════════

// Precomputer is the part of the match service the job needs.
type Precomputer interface {
	Precompute(ctx context.Context, studentID string, modes ...matching.Mode) error
}

// WarmMatchCacheConfig configures the job.
type WarmMatchCacheConfig struct {
	// Lookback is the window scanned on the first run.
	Lookback time.Duration `mapstructure:"lookback"`

	// BatchSize caps the students handled per run.
	BatchSize int `mapstructure:"batch_size"`

	// Concurrency is the number of parallel precomputes.
	Concurrency int `mapstructure:"concurrency"`

	// Modes to warm. Empty means all.
	Modes []string `mapstructure:"modes"`
}

// DefaultWarmMatchCacheConfig returns the default configuration.
func DefaultWarmMatchCacheConfig() WarmMatchCacheConfig {
	return WarmMatchCacheConfig{
		Lookback:    15 * time.Minute,
		BatchSize:   500,
		Concurrency: 4,
	}
}

// WarmMatchCacheResult summarises one run.
type WarmMatchCacheResult struct {
	Candidates int
	Warmed     int
	Skipped    int
	Failed     int
	Since      time.Time
}

// WarmMatchCacheJob implements scheduler.Job.
type WarmMatchCacheJob struct {
	profiles matching.ProfileLister
	matches  Precomputer
	config   WarmMatchCacheConfig
	modes    []matching.Mode
	log      *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	watermark time.Time
	last      *WarmMatchCacheResult
}

// NewWarmMatchCacheJob creates the job.
func NewWarmMatchCacheJob(profiles matching.ProfileLister, matches Precomputer, config WarmMatchCacheConfig, log *zap.Logger) (*WarmMatchCacheJob, error) {
	defaults := DefaultWarmMatchCacheConfig()
	if config.Lookback <= 0 {
		config.Lookback = defaults.Lookback
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}

	modes := make([]matching.Mode, 0, len(config.Modes))
	for _, name := range config.Modes {
		m, err := matching.ParseMode(name)
		if err != nil {
			return nil, fmt.Errorf("warm job mode %q: %w", name, err)
		}
		modes = append(modes, m)
	}

	return &WarmMatchCacheJob{
		profiles: profiles,
		matches:  matches,
		config:   config,
		modes:    modes,
		log:      logger.OrNop(log).Named("jobs").With(zap.String("job", "warm_match_cache")),
		now:      time.Now,
	}, nil
}

// Name implements scheduler.Job.
func (j *WarmMatchCacheJob) Name() string { return "warm_match_cache" }

// Description implements scheduler.Job.
func (j *WarmMatchCacheJob) Description() string {
	return "Precompute match sets of recently updated students"
}

// Run implements scheduler.Job. The watermark advances to the newest change
// handled, and only when no precompute failed, so failures are retried next
// run and a full batch continues where it stopped.
func (j *WarmMatchCacheJob) Run(ctx context.Context) error {
	started := j.now()

	j.mu.Lock()
	since := j.watermark
	j.mu.Unlock()
	if since.IsZero() {
		since = started.Add(-j.config.Lookback)
	}

	changes, err := j.profiles.ListUpdatedSince(ctx, since, j.config.BatchSize)
	if err != nil {
		return fmt.Errorf("list updated students: %w", err)
	}

	res := WarmMatchCacheResult{Candidates: len(changes), Since: since}
	var warmed, skipped, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.config.Concurrency)
	for _, c := range changes {
		id := c.StudentID
		g.Go(func() error {
			err := j.matches.Precompute(gctx, id, j.modes...)
			switch {
			case err == nil:
				warmed.Add(1)
			case errors.Is(err, shared.ErrProfileNotFound):
				skipped.Add(1)
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				failed.Add(1)
				j.log.Warn("precompute failed", logger.StudentID(id), zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	res.Warmed = int(warmed.Load())
	res.Skipped = int(skipped.Load())
	res.Failed = int(failed.Load())

	j.mu.Lock()
	if res.Failed == 0 {
		switch {
		case len(changes) < j.config.BatchSize:
			j.watermark = started
		default:
			j.watermark = changes[len(changes)-1].UpdatedAt
		}
	}
	j.last = &res
	j.mu.Unlock()

	j.log.Info("match cache warmed",
		zap.Int("candidates", res.Candidates),
		zap.Int("warmed", res.Warmed),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		logger.Latency(j.now().Sub(started)),
	)

	if res.Failed > 0 {
		return fmt.Errorf("%d of %d precomputes failed", res.Failed, res.Candidates)
	}
	return nil
}

// LastResult returns the summary of the latest completed run.
func (j *WarmMatchCacheJob) LastResult() *WarmMatchCacheResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.last == nil {
		return nil
	}
	r := *j.last
	return &r
}
