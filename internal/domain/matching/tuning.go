package matching

import (
	"fmt"
	"strings"

	"github.com/unimatch/match-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCORING TUNABLES
// ══════════════════════════════════════════════════════════════════════════════

// Tuning holds the tunable constants of the scoring model. Shortfalls are
// measured in grade points on the 1..7 scale.
type Tuning struct {
	// AbsentCourseShortfall is charged when the course is missing from the
	// transcript or unknown to the course catalog.
	AbsentCourseShortfall float64 `mapstructure:"absent_course_shortfall"`

	// LevelMismatchShortfall is added when the course was taken at SL but HL is required.
	LevelMismatchShortfall float64 `mapstructure:"level_mismatch_shortfall"`

	// ShortfallScale is the shortfall at which an unmet unit earns no partial credit.
	ShortfallScale float64 `mapstructure:"shortfall_scale"`

	// PartialCreditMax is the credit of an unmet unit with a vanishing shortfall.
	PartialCreditMax float64 `mapstructure:"partial_credit_max"`

	// AggregateWeight and RequirementWeight blend the academic sub-score.
	AggregateWeight   float64 `mapstructure:"aggregate_weight"`
	RequirementWeight float64 `mapstructure:"requirement_weight"`

	// UnknownAggregateRatio is used when a program has a minimum aggregate
	// but the student has not stated one.
	UnknownAggregateRatio float64 `mapstructure:"unknown_aggregate_ratio"`

	// CriticalCeiling caps the academic sub-score when a critical unit is unmet.
	CriticalCeiling float64 `mapstructure:"critical_ceiling"`

	// LocationBaseline and FieldBaseline score unlisted countries and fields.
	LocationBaseline float64 `mapstructure:"location_baseline"`
	FieldBaseline    float64 `mapstructure:"field_baseline"`

	// NearMissTolerance is the largest per-unit shortfall that still earns NearMissBonus.
	NearMissTolerance float64 `mapstructure:"near_miss_tolerance"`
	NearMissBonus     float64 `mapstructure:"near_miss_bonus"`

	// CriticalPenalty is a negative delta recorded when a critical unit is unmet.
	CriticalPenalty float64 `mapstructure:"critical_penalty"`

	// AdjustmentBand bounds the absolute sum of all adjustments.
	AdjustmentBand float64 `mapstructure:"adjustment_band"`
}

// DefaultTuning returns the production defaults.
func DefaultTuning() Tuning {
	return Tuning{
		AbsentCourseShortfall:  3.0,
		LevelMismatchShortfall: 1.0,
		ShortfallScale:         3.0,
		PartialCreditMax:       0.5,
		AggregateWeight:        0.4,
		RequirementWeight:      0.6,
		UnknownAggregateRatio:  0.5,
		CriticalCeiling:        0.2,
		LocationBaseline:       0.3,
		FieldBaseline:          0.3,
		NearMissTolerance:      1.0,
		NearMissBonus:          0.03,
		CriticalPenalty:        -0.05,
		AdjustmentBand:         0.05,
	}
}

// Validate checks the tuning for values that would break the [0,1] contract.
func (t Tuning) Validate() error {
	var errs []string

	unit := func(name string, v float64) {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("%s must be within [0,1], got %v", name, v))
		}
	}

	unit("partial_credit_max", t.PartialCreditMax)
	unit("aggregate_weight", t.AggregateWeight)
	unit("requirement_weight", t.RequirementWeight)
	unit("unknown_aggregate_ratio", t.UnknownAggregateRatio)
	unit("critical_ceiling", t.CriticalCeiling)
	unit("location_baseline", t.LocationBaseline)
	unit("field_baseline", t.FieldBaseline)
	unit("adjustment_band", t.AdjustmentBand)

	if diff := t.AggregateWeight + t.RequirementWeight - 1; diff > weightEpsilon || diff < -weightEpsilon {
		errs = append(errs, "aggregate_weight + requirement_weight must equal 1")
	}
	if t.ShortfallScale <= 0 {
		errs = append(errs, "shortfall_scale must be positive")
	}
	if t.AbsentCourseShortfall < 0 || t.LevelMismatchShortfall < 0 || t.NearMissTolerance < 0 {
		errs = append(errs, "shortfalls and tolerances cannot be negative")
	}
	if t.NearMissBonus < 0 {
		errs = append(errs, "near_miss_bonus cannot be negative")
	}
	if t.CriticalPenalty > 0 {
		errs = append(errs, "critical_penalty must be zero or negative")
	}

	if len(errs) > 0 {
		return shared.WrapError("matching", "ValidateTuning", shared.ErrInvalidTuning,
			"invalid scoring tuning", fmt.Errorf("%s", strings.Join(errs, "; ")))
	}
	return nil
}
