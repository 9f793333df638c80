package matching

// ══════════════════════════════════════════════════════════════════════════════
// SUB-SCORE CALCULATORS
// All calculators are pure and return values in [0,1].
// ══════════════════════════════════════════════════════════════════════════════

// AggregateRatio compares the student's aggregate with the program minimum.
// Programs without a minimum score 1.
func AggregateRatio(student, programMin *float64, t Tuning) float64 {
	if programMin == nil || *programMin <= 0 {
		return 1
	}
	if student == nil {
		return clamp01(t.UnknownAggregateRatio)
	}
	return clamp01(*student / *programMin)
}

// RequirementScore credits every satisfied unit fully and every unmet unit
// partially, shrinking linearly with its shortfall.
func RequirementScore(eval Evaluation, t Tuning) float64 {
	if eval.TotalCount == 0 {
		return 1
	}

	var credit float64
	for _, u := range eval.Units {
		if u.Satisfied {
			credit++
			continue
		}
		credit += PartialCredit(u.Shortfall, t)
	}
	return clamp01(credit / float64(eval.TotalCount))
}

// PartialCredit is the credit earned by an unmet unit with the given shortfall.
func PartialCredit(shortfall float64, t Tuning) float64 {
	norm := clamp01(shortfall / t.ShortfallScale)
	return t.PartialCreditMax * (1 - norm)
}

// AcademicScore blends the aggregate ratio with the requirement score. An
// unmet critical unit caps the result at t.CriticalCeiling.
func AcademicScore(student *float64, program Program, eval Evaluation, t Tuning) float64 {
	score := t.AggregateWeight*AggregateRatio(student, program.MinAggregateScore, t) +
		t.RequirementWeight*RequirementScore(eval, t)
	score = clamp01(score)

	if eval.CriticalUnmet && score > t.CriticalCeiling {
		score = t.CriticalCeiling
	}
	return score
}

// LocationScore is 1 when the student stated no country preference or the
// program's country is preferred, otherwise the location baseline.
func LocationScore(prefs Preferences, program Program, t Tuning) float64 {
	return membershipScore(prefs.PreferredCountryIDs, program.CountryID, t.LocationBaseline)
}

// FieldScore is LocationScore applied to the field of study.
func FieldScore(prefs Preferences, program Program, t Tuning) float64 {
	return membershipScore(prefs.PreferredFieldIDs, program.FieldID, t.FieldBaseline)
}

func membershipScore(preferred map[string]struct{}, id string, baseline float64) float64 {
	if len(preferred) == 0 {
		return 1
	}
	if _, ok := preferred[id]; ok {
		return 1
	}
	return clamp01(baseline)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
