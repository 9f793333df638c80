package matching

import (
	"context"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// ══════════════════════════════════════════════════════════════════════════════
// MATCH SET BUILDER
// ══════════════════════════════════════════════════════════════════════════════

// BuilderConfig controls how a match set is computed.
type BuilderConfig struct {
	// Workers is the maximum number of programs scored concurrently.
	Workers int `mapstructure:"workers"`

	// ParallelThreshold is the candidate count from which scoring is parallel.
	ParallelThreshold int `mapstructure:"parallel_threshold"`
}

// DefaultBuilderConfig returns sensible defaults.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		Workers:           runtime.GOMAXPROCS(0),
		ParallelThreshold: 64,
	}
}

// BuildReport describes what the builder did besides scoring.
type BuildReport struct {
	Candidates int
	Scored     int
	// Skipped holds indexes of programs that could not be scored (e.g. empty id).
	Skipped []int
	Parallel bool
}

// Builder scores every candidate program and ranks the results.
type Builder struct {
	aggregator *Aggregator
	config     BuilderConfig
}

// NewBuilder creates a Builder.
func NewBuilder(aggregator *Aggregator, config BuilderConfig) *Builder {
	if config.Workers <= 0 {
		config.Workers = runtime.GOMAXPROCS(0)
	}
	if config.ParallelThreshold <= 0 {
		config.ParallelThreshold = DefaultBuilderConfig().ParallelThreshold
	}
	return &Builder{aggregator: aggregator, config: config}
}

// Build returns results sorted by OverallScore descending, then ProgramID
// ascending. Cancellation is checked before every program; a cancelled build
// returns ctx.Err() and never a partial set. An empty catalog yields an empty,
// non-nil slice.
func (b *Builder) Build(ctx context.Context, transcript Transcript, prefs Preferences, programs []Program, mode Mode) ([]MatchResult, BuildReport, error) {
	report := BuildReport{Candidates: len(programs)}

	if !mode.IsValid() {
		_, err := mode.Weights()
		return nil, report, err
	}

	slots := make([]*MatchResult, len(programs))
	score := func(i int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := programs[i]
		if p.ID == "" {
			return nil
		}
		res, err := b.aggregator.Score(transcript, prefs, p, mode)
		if err != nil {
			return err
		}
		slots[i] = &res
		return nil
	}

	if len(programs) >= b.config.ParallelThreshold && b.config.Workers > 1 {
		report.Parallel = true
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(b.config.Workers)
		for i := range programs {
			if gctx.Err() != nil {
				break
			}
			i := i
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				return score(i)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, report, err
		}
		if err := ctx.Err(); err != nil {
			return nil, report, err
		}
	} else {
		for i := range programs {
			if err := score(i); err != nil {
				return nil, report, err
			}
		}
	}

	results := make([]MatchResult, 0, len(programs))
	for i, r := range slots {
		if r == nil {
			report.Skipped = append(report.Skipped, i)
			continue
		}
		results = append(results, *r)
	}
	report.Scored = len(results)

	SortResults(results)
	return results, report, nil
}

// SortResults orders results by score descending with ProgramID as tie-break.
func SortResults(results []MatchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].OverallScore != results[j].OverallScore {
			return results[i].OverallScore > results[j].OverallScore
		}
		return results[i].ProgramID < results[j].ProgramID
	})
}
