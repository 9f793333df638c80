package matching

import "slices"

// ══════════════════════════════════════════════════════════════════════════════
// MATCH RESULT
// ══════════════════════════════════════════════════════════════════════════════

// Adjustment is a bounded delta applied after weighting. Adjustments are
// always reported next to the score they changed.
type Adjustment struct {
	Name   string  `json:"name"`
	Delta  float64 `json:"delta"`
	Reason string  `json:"reason"`
}

// Adjustment names.
const (
	AdjustmentNearMiss      = "near_miss_boost"
	AdjustmentCriticalUnmet = "critical_unmet_penalty"
	AdjustmentBandClamp     = "band_clamp"
)

// RequirementSummary is the explainable part of an Evaluation.
type RequirementSummary struct {
	Satisfied     int           `json:"satisfied"`
	Total         int           `json:"total"`
	Shortfall     float64       `json:"shortfall"`
	CriticalUnmet bool          `json:"critical_unmet"`
	Unmet         []UnitOutcome `json:"unmet,omitempty"`
}

// MatchResult is the compatibility of one program for one student. It is
// built once per scoring call and never modified afterwards; it is also the
// unit stored in the match cache.
type MatchResult struct {
	ProgramID     string             `json:"program_id"`
	OverallScore  float64            `json:"overall_score"`
	BaseScore     float64            `json:"base_score"`
	AcademicMatch float64            `json:"academic_match"`
	LocationMatch float64            `json:"location_match"`
	FieldMatch    float64            `json:"field_match"`
	WeightsUsed   Weights            `json:"weights_used"`
	Adjustments   []Adjustment       `json:"adjustments"`
	Requirements  RequirementSummary `json:"requirements"`
}

// Clone returns a copy of r that shares no slices with it.
func (r MatchResult) Clone() MatchResult {
	r.Adjustments = slices.Clone(r.Adjustments)
	r.Requirements.Unmet = slices.Clone(r.Requirements.Unmet)
	return r
}

// CloneResults deep-copies a match set.
func CloneResults(results []MatchResult) []MatchResult {
	if results == nil {
		return nil
	}
	out := make([]MatchResult, len(results))
	for i, r := range results {
		out[i] = r.Clone()
	}
	return out
}

// AdjustmentTotal sums the applied deltas.
func (r MatchResult) AdjustmentTotal() float64 {
	var total float64
	for _, a := range r.Adjustments {
		total += a.Delta
	}
	return total
}
