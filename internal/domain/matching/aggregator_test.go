package matching

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unimatch/match-engine/internal/domain/shared"
)

func ptr(v float64) *float64 { return &v }

func scenarioProgram() Program {
	return Program{
		ID:                "uni-eng",
		FieldID:           "engineering",
		CountryID:         "NL",
		MinAggregateScore: ptr(36),
		Requirements: []Requirement{
			{CourseID: "math", Level: LevelHL, MinGrade: 5, Critical: true},
			{CourseID: "chemistry", Level: LevelHL, MinGrade: 6, OrGroupID: "science"},
			{CourseID: "biology", Level: LevelHL, MinGrade: 6, OrGroupID: "science"},
		},
	}
}

func TestModes_WeightsSumToOne(t *testing.T) {
	for _, m := range AllModes() {
		w, err := m.Weights()
		require.NoError(t, err, m)
		assert.InDelta(t, 1.0, w.Sum(), weightEpsilon, m)
	}

	_, err := Mode("RANDOM").Weights()
	assert.Error(t, err)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeBalanced, m)

	m, err = ParseMode("academic")
	require.NoError(t, err)
	assert.Equal(t, ModeAcademic, m)

	_, err = ParseMode("fastest")
	assert.Error(t, err)
}

func TestTuning_Validate(t *testing.T) {
	assert.NoError(t, DefaultTuning().Validate())

	bad := DefaultTuning()
	bad.CriticalCeiling = 1.5
	bad.ShortfallScale = 0
	err := bad.Validate()
	assert.ErrorIs(t, err, shared.ErrInvalidTuning)
	assert.True(t, shared.IsValidation(err))
	assert.Contains(t, err.Error(), "critical_ceiling")
	assert.Contains(t, err.Error(), "shortfall_scale")

	bad = DefaultTuning()
	bad.AggregateWeight = 0.9
	assert.ErrorIs(t, bad.Validate(), shared.ErrInvalidTuning)
}

func TestMatchResult_CloneSharesNoSlices(t *testing.T) {
	orig := []MatchResult{{
		ProgramID:   "p",
		Adjustments: []Adjustment{{Name: AdjustmentCriticalUnmet, Delta: -0.1}},
		Requirements: RequirementSummary{
			Unmet: []UnitOutcome{{Label: "chemistry", Critical: true}},
		},
	}, {ProgramID: "q"}}

	clone := CloneResults(orig)
	require.Equal(t, orig, clone)

	clone[0].Adjustments[0].Delta = 1
	clone[0].Requirements.Unmet[0].Label = "physics"
	assert.Equal(t, -0.1, orig[0].Adjustments[0].Delta)
	assert.Equal(t, "chemistry", orig[0].Requirements.Unmet[0].Label)

	assert.Nil(t, clone[1].Adjustments)
	assert.Nil(t, CloneResults(nil))
}

func TestSubScores_LocationAndField(t *testing.T) {
	tuning := DefaultTuning()
	program := Program{ID: "p", FieldID: "law", CountryID: "DE"}

	none := NewPreferences(nil, nil, nil)
	assert.Equal(t, 1.0, LocationScore(none, program, tuning))
	assert.Equal(t, 1.0, FieldScore(none, program, tuning))

	prefs := NewPreferences(nil, []string{"law"}, []string{"FR"})
	assert.Equal(t, 1.0, FieldScore(prefs, program, tuning))
	assert.Equal(t, tuning.LocationBaseline, LocationScore(prefs, program, tuning))
	assert.Greater(t, LocationScore(prefs, program, tuning), 0.0)
}

func TestSubScores_AggregateRatio(t *testing.T) {
	tuning := DefaultTuning()

	assert.Equal(t, 1.0, AggregateRatio(ptr(20), nil, tuning))
	assert.Equal(t, 1.0, AggregateRatio(ptr(40), ptr(36), tuning))
	assert.InDelta(t, 0.5, AggregateRatio(ptr(18), ptr(36), tuning), 1e-9)
	assert.Equal(t, tuning.UnknownAggregateRatio, AggregateRatio(nil, ptr(36), tuning))
}

func TestPartialCredit_Boundaries(t *testing.T) {
	tuning := DefaultTuning()

	assert.InDelta(t, tuning.PartialCreditMax, PartialCredit(0, tuning), 1e-9)
	assert.InDelta(t, tuning.PartialCreditMax/3*2, PartialCredit(1, tuning), 1e-9)
	assert.InDelta(t, 0, PartialCredit(tuning.ShortfallScale, tuning), 1e-9)
	assert.InDelta(t, 0, PartialCredit(tuning.ShortfallScale+4, tuning), 1e-9)
}

func TestAcademic_CriticalGating(t *testing.T) {
	tuning := DefaultTuning()
	agg := NewAggregator(tuning, nil)

	program := Program{
		ID:                "med",
		MinAggregateScore: ptr(30),
		Requirements: []Requirement{
			{CourseID: "chemistry", Level: LevelHL, MinGrade: 7, Critical: true},
			{CourseID: "biology", Level: LevelHL, MinGrade: 5},
			{CourseID: "math", Level: LevelSL, MinGrade: 5},
			{CourseID: "english", Level: LevelSL, MinGrade: 5},
			{CourseID: "physics", Level: LevelSL, MinGrade: 5},
		},
	}
	tr := transcriptOf(t, hl("chemistry", 6), hl("biology", 7), hl("math", 7), hl("english", 7), hl("physics", 7))
	prefs := NewPreferences(ptr(45), nil, nil)

	for _, mode := range AllModes() {
		res, err := agg.Score(tr, prefs, program, mode)
		require.NoError(t, err)
		assert.LessOrEqual(t, res.AcademicMatch, tuning.CriticalCeiling, mode)
		assert.True(t, res.Requirements.CriticalUnmet)
		require.NotEmpty(t, res.Adjustments)
		assert.Equal(t, AdjustmentCriticalUnmet, res.Adjustments[0].Name)
	}
}

func TestScore_Scenario(t *testing.T) {
	tuning := DefaultTuning()
	agg := NewAggregator(tuning, nil)
	tr := transcriptOf(t, hl("math", 6))
	prefs := NewPreferences(ptr(38), nil, nil)

	res, err := agg.Score(tr, prefs, scenarioProgram(), ModeBalanced)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Requirements.Satisfied)
	assert.Equal(t, 2, res.Requirements.Total)
	assert.False(t, res.Requirements.CriticalUnmet)
	require.Len(t, res.Requirements.Unmet, 1)
	assert.Equal(t, "science", res.Requirements.Unmet[0].Label)

	// aggregate 38/36 clamps to 1; requirements: (1 + 0) / 2
	assert.InDelta(t, 0.7, res.AcademicMatch, 1e-9)
	assert.Greater(t, res.AcademicMatch, tuning.CriticalCeiling)
	assert.InDelta(t, 0.5*0.7+0.25+0.25, res.OverallScore, 1e-9)
	assert.Empty(t, res.Adjustments)
}

func TestScore_NearMissBoost(t *testing.T) {
	tuning := DefaultTuning()
	agg := NewAggregator(tuning, nil)
	prefs := NewPreferences(ptr(38), nil, nil)

	tr := transcriptOf(t, hl("math", 6), hl("biology", 5))
	res, err := agg.Score(tr, prefs, scenarioProgram(), ModeBalanced)
	require.NoError(t, err)
	require.Len(t, res.Adjustments, 1)
	assert.Equal(t, AdjustmentNearMiss, res.Adjustments[0].Name)
	assert.InDelta(t, res.BaseScore+tuning.NearMissBonus, res.OverallScore, 1e-9)

	tr = transcriptOf(t, hl("math", 6), hl("biology", 4))
	res, err = agg.Score(tr, prefs, scenarioProgram(), ModeBalanced)
	require.NoError(t, err)
	assert.Empty(t, res.Adjustments)
	assert.Equal(t, res.BaseScore, res.OverallScore)
}

func TestScore_AdjustmentBandIsEnforced(t *testing.T) {
	tuning := DefaultTuning()
	tuning.NearMissBonus = 0.2
	agg := NewAggregator(tuning, nil)
	tr := transcriptOf(t, hl("math", 6), hl("biology", 5))

	res, err := agg.Score(tr, NewPreferences(ptr(38), nil, nil), scenarioProgram(), ModeBalanced)
	require.NoError(t, err)

	assert.InDelta(t, tuning.AdjustmentBand, res.AdjustmentTotal(), 1e-9)
	assert.Equal(t, AdjustmentBandClamp, res.Adjustments[len(res.Adjustments)-1].Name)
}

func TestScore_OverallBounded(t *testing.T) {
	agg := NewAggregator(DefaultTuning(), nil)
	tr := transcriptOf(t, hl("math", 7), hl("chemistry", 7))

	res, err := agg.Score(tr, NewPreferences(ptr(45), nil, nil), scenarioProgram(), ModeAcademic)
	require.NoError(t, err)
	assert.LessOrEqual(t, res.OverallScore, 1.0)
	assert.GreaterOrEqual(t, res.OverallScore, 0.0)
	assert.Equal(t, 1.0, res.AcademicMatch)
}

func TestScore_Deterministic(t *testing.T) {
	agg := NewAggregator(DefaultTuning(), nil)
	tr := transcriptOf(t, hl("math", 6), sl("biology", 6))
	prefs := NewPreferences(ptr(37), []string{"engineering"}, []string{"DE"})

	first, err := agg.Score(tr, prefs, scenarioProgram(), ModeLocation)
	require.NoError(t, err)
	second, err := agg.Score(tr, prefs, scenarioProgram(), ModeLocation)
	require.NoError(t, err)

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	assert.Equal(t, string(a), string(b))
}

func TestScore_InvalidMode(t *testing.T) {
	agg := NewAggregator(DefaultTuning(), nil)
	_, err := agg.Score(Transcript{}, Preferences{}, scenarioProgram(), Mode("nope"))
	assert.Error(t, err)
}
