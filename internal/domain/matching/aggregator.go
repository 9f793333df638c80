package matching

import (
	"fmt"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCORE AGGREGATOR
// ══════════════════════════════════════════════════════════════════════════════

// Aggregator turns one program into a MatchResult for a given mode.
type Aggregator struct {
	tuning    Tuning
	evaluator *Evaluator
}

// NewAggregator creates an Aggregator. courses may be nil.
func NewAggregator(tuning Tuning, courses CourseCatalog) *Aggregator {
	return &Aggregator{
		tuning:    tuning,
		evaluator: NewEvaluator(tuning, courses),
	}
}

// Tuning returns the constants in use.
func (a *Aggregator) Tuning() Tuning {
	return a.tuning
}

// Score computes the result for one program. The same inputs always produce
// the same result.
func (a *Aggregator) Score(transcript Transcript, prefs Preferences, program Program, mode Mode) (MatchResult, error) {
	weights, err := mode.Weights()
	if err != nil {
		return MatchResult{}, err
	}

	eval := a.evaluator.Evaluate(program.Requirements, transcript)

	academic := AcademicScore(prefs.AggregateScore, program, eval, a.tuning)
	location := LocationScore(prefs, program, a.tuning)
	field := FieldScore(prefs, program, a.tuning)

	base := clamp01(weights.Academic*academic + weights.Location*location + weights.Field*field)
	adjustments := a.adjust(eval)

	var delta float64
	for _, adj := range adjustments {
		delta += adj.Delta
	}

	return MatchResult{
		ProgramID:     program.ID,
		OverallScore:  clamp01(base + delta),
		BaseScore:     base,
		AcademicMatch: academic,
		LocationMatch: location,
		FieldMatch:    field,
		WeightsUsed:   weights,
		Adjustments:   adjustments,
		Requirements: RequirementSummary{
			Satisfied:     eval.SatisfiedCount,
			Total:         eval.TotalCount,
			Shortfall:     eval.TotalShortfall,
			CriticalUnmet: eval.CriticalUnmet,
			Unmet:         eval.Unmet(),
		},
	}, nil
}

// adjust derives the bounded deltas. The near-miss boost softens cliff edges
// at requirement boundaries; it never applies once a critical unit is unmet.
func (a *Aggregator) adjust(eval Evaluation) []Adjustment {
	t := a.tuning
	adjustments := make([]Adjustment, 0, 2)

	if eval.CriticalUnmet {
		if t.CriticalPenalty != 0 {
			adjustments = append(adjustments, Adjustment{
				Name:   AdjustmentCriticalUnmet,
				Delta:  t.CriticalPenalty,
				Reason: "a critical requirement is not met",
			})
		}
	} else if unmet := eval.Unmet(); len(unmet) > 0 && t.NearMissBonus > 0 {
		nearMiss := true
		for _, u := range unmet {
			if u.Unresolvable || u.Shortfall > t.NearMissTolerance {
				nearMiss = false
				break
			}
		}
		if nearMiss {
			adjustments = append(adjustments, Adjustment{
				Name:   AdjustmentNearMiss,
				Delta:  t.NearMissBonus,
				Reason: fmt.Sprintf("%d unmet requirement(s) within %.1f grade point(s)", len(unmet), t.NearMissTolerance),
			})
		}
	}

	var total float64
	for _, adj := range adjustments {
		total += adj.Delta
	}
	switch {
	case total > t.AdjustmentBand:
		adjustments = append(adjustments, Adjustment{
			Name:   AdjustmentBandClamp,
			Delta:  t.AdjustmentBand - total,
			Reason: "adjustments limited to the configured band",
		})
	case total < -t.AdjustmentBand:
		adjustments = append(adjustments, Adjustment{
			Name:   AdjustmentBandClamp,
			Delta:  -t.AdjustmentBand - total,
			Reason: "adjustments limited to the configured band",
		})
	}

	return adjustments
}
