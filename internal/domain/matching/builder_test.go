package matching

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func catalogOf(n int) []Program {
	programs := make([]Program, 0, n)
	for i := 0; i < n; i++ {
		programs = append(programs, Program{
			ID:                fmt.Sprintf("p-%03d", i),
			FieldID:           []string{"law", "medicine", "engineering"}[i%3],
			CountryID:         []string{"DE", "NL"}[i%2],
			MinAggregateScore: ptr(float64(24 + i%20)),
			Requirements: []Requirement{
				{CourseID: "math", Level: LevelHL, MinGrade: 4 + i%4, Critical: i%5 == 0},
			},
		})
	}
	return programs
}

func TestBuild_EmptyCatalog(t *testing.T) {
	b := NewBuilder(NewAggregator(DefaultTuning(), nil), DefaultBuilderConfig())

	results, report, err := b.Build(context.Background(), Transcript{}, Preferences{}, nil, ModeBalanced)

	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.Equal(t, 0, report.Candidates)
}

func TestBuild_SortedWithTieBreak(t *testing.T) {
	b := NewBuilder(NewAggregator(DefaultTuning(), nil), DefaultBuilderConfig())
	programs := []Program{
		{ID: "c", FieldID: "law"},
		{ID: "a", FieldID: "law"},
		{ID: "b", FieldID: "art"},
	}
	prefs := NewPreferences(nil, []string{"law"}, nil)

	results, _, err := b.Build(context.Background(), Transcript{}, prefs, programs, ModeInterest)
	require.NoError(t, err)

	ids := []string{results[0].ProgramID, results[1].ProgramID, results[2].ProgramID}
	assert.Equal(t, []string{"a", "c", "b"}, ids)
	assert.Equal(t, results[0].OverallScore, results[1].OverallScore)
	assert.Greater(t, results[1].OverallScore, results[2].OverallScore)
}

func TestBuild_SkipsProgramsWithoutID(t *testing.T) {
	b := NewBuilder(NewAggregator(DefaultTuning(), nil), DefaultBuilderConfig())
	programs := []Program{{ID: "a"}, {ID: ""}, {ID: "b"}}

	results, report, err := b.Build(context.Background(), Transcript{}, Preferences{}, programs, ModeBalanced)

	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, []int{1}, report.Skipped)
	assert.Equal(t, 2, report.Scored)
}

func TestBuild_ParallelMatchesSequential(t *testing.T) {
	agg := NewAggregator(DefaultTuning(), nil)
	programs := catalogOf(200)
	tr := transcriptOf(t, hl("math", 6))
	prefs := NewPreferences(ptr(33), []string{"medicine"}, []string{"NL"})

	seq := NewBuilder(agg, BuilderConfig{Workers: 1, ParallelThreshold: 1000})
	par := NewBuilder(agg, BuilderConfig{Workers: 8, ParallelThreshold: 10})

	want, seqReport, err := seq.Build(context.Background(), tr, prefs, programs, ModeBalanced)
	require.NoError(t, err)
	got, parReport, err := par.Build(context.Background(), tr, prefs, programs, ModeBalanced)
	require.NoError(t, err)

	assert.False(t, seqReport.Parallel)
	assert.True(t, parReport.Parallel)
	assert.Equal(t, want, got)
	assert.Len(t, got, 200)
}

func TestBuild_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, cfg := range []BuilderConfig{
		{Workers: 1, ParallelThreshold: 1000},
		{Workers: 4, ParallelThreshold: 1},
	} {
		b := NewBuilder(NewAggregator(DefaultTuning(), nil), cfg)
		results, _, err := b.Build(ctx, Transcript{}, Preferences{}, catalogOf(50), ModeBalanced)

		assert.ErrorIs(t, err, context.Canceled)
		assert.Nil(t, results)
	}
}

func TestBuild_InvalidMode(t *testing.T) {
	b := NewBuilder(NewAggregator(DefaultTuning(), nil), DefaultBuilderConfig())
	_, _, err := b.Build(context.Background(), Transcript{}, Preferences{}, catalogOf(3), Mode("x"))
	assert.Error(t, err)
}
