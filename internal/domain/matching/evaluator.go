package matching

import (
	"sort"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUIREMENT EVALUATION
// ══════════════════════════════════════════════════════════════════════════════

// UnitOutcome is the outcome of one evaluation unit: a standalone requirement
// or a whole OR-group.
type UnitOutcome struct {
	// Label is the course id for standalone units and the group id for OR-groups.
	Label     string  `json:"label"`
	OrGroup   bool    `json:"or_group,omitempty"`
	Critical  bool    `json:"critical,omitempty"`
	Satisfied bool    `json:"satisfied"`
	Shortfall float64 `json:"shortfall"`
	// Unresolvable is set when no member names a course known to the catalog.
	Unresolvable bool `json:"unresolvable,omitempty"`
}

// Evaluation summarises a program's requirements against a transcript.
type Evaluation struct {
	SatisfiedCount int
	TotalCount     int
	TotalShortfall float64
	CriticalUnmet  bool
	Units          []UnitOutcome
}

// FullySatisfied reports whether every unit is met. A program with no
// requirements is vacuously satisfied.
func (e Evaluation) FullySatisfied() bool {
	return e.SatisfiedCount == e.TotalCount
}

// Unmet returns the outcomes of unmet units, or nil when everything is met.
func (e Evaluation) Unmet() []UnitOutcome {
	var unmet []UnitOutcome
	for _, u := range e.Units {
		if !u.Satisfied {
			unmet = append(unmet, u)
		}
	}
	return unmet
}

// Evaluator decides requirement satisfaction and shortfalls. It never returns
// an error: unknown courses and malformed requirements are simply unmet.
type Evaluator struct {
	tuning  Tuning
	courses CourseCatalog
}

// NewEvaluator creates an Evaluator. courses may be nil to accept every course id.
func NewEvaluator(tuning Tuning, courses CourseCatalog) *Evaluator {
	return &Evaluator{tuning: tuning, courses: courses}
}

// Evaluate partitions the requirements into OR-groups and standalone units and
// evaluates each unit. Units are reported in a deterministic order:
// standalone requirements in input order, then groups sorted by id.
func (e *Evaluator) Evaluate(reqs []Requirement, transcript Transcript) Evaluation {
	var (
		standalone []Requirement
		groups     = make(map[string][]Requirement)
		groupIDs   []string
	)

	for _, r := range reqs {
		if r.IsStandalone() {
			standalone = append(standalone, r)
			continue
		}
		if _, seen := groups[r.OrGroupID]; !seen {
			groupIDs = append(groupIDs, r.OrGroupID)
		}
		groups[r.OrGroupID] = append(groups[r.OrGroupID], r)
	}
	sort.Strings(groupIDs)

	eval := Evaluation{
		Units: make([]UnitOutcome, 0, len(standalone)+len(groupIDs)),
	}

	for _, r := range standalone {
		eval.add(e.evaluateOne(r, transcript))
	}
	for _, id := range groupIDs {
		eval.add(e.evaluateGroup(id, groups[id], transcript))
	}

	return eval
}

func (ev *Evaluation) add(u UnitOutcome) {
	ev.Units = append(ev.Units, u)
	ev.TotalCount++
	if u.Satisfied {
		ev.SatisfiedCount++
		return
	}
	ev.TotalShortfall += u.Shortfall
	if u.Critical {
		ev.CriticalUnmet = true
	}
}

// evaluateOne checks a single requirement: the course must be present at
// level >= required and grade >= minimum.
func (e *Evaluator) evaluateOne(r Requirement, transcript Transcript) UnitOutcome {
	out := UnitOutcome{
		Label:    NormalizeCourseID(r.CourseID),
		Critical: r.Critical,
	}

	if out.Label == "" || !e.courses.Knows(r.CourseID) {
		out.Unresolvable = true
		out.Shortfall = e.tuning.AbsentCourseShortfall
		return out
	}

	got, ok := transcript.Lookup(r.CourseID)
	if !ok {
		out.Shortfall = e.tuning.AbsentCourseShortfall
		return out
	}

	required := r.Level
	if required == LevelUnknown {
		required = LevelSL
	}

	levelOK := got.Level.Satisfies(required)
	gradeOK := got.Grade >= r.MinGrade
	if levelOK && gradeOK {
		out.Satisfied = true
		return out
	}

	var shortfall float64
	if !gradeOK {
		shortfall += float64(r.MinGrade - got.Grade)
	}
	if !levelOK {
		shortfall += e.tuning.LevelMismatchShortfall
	}
	out.Shortfall = clampMin(shortfall, 0)
	return out
}

// evaluateGroup is satisfied when any member is satisfied. The shortfall of an
// unmet group is the smallest member shortfall, rewarding the closest near-miss.
func (e *Evaluator) evaluateGroup(id string, members []Requirement, transcript Transcript) UnitOutcome {
	out := UnitOutcome{
		Label:        id,
		OrGroup:      true,
		Unresolvable: true,
	}

	best := -1.0
	for _, m := range members {
		if m.Critical {
			out.Critical = true
		}
		res := e.evaluateOne(m, transcript)
		if !res.Unresolvable {
			out.Unresolvable = false
		}
		if res.Satisfied {
			out.Satisfied = true
			out.Unresolvable = false
			out.Shortfall = 0
			best = 0
			continue
		}
		if best < 0 || res.Shortfall < best {
			best = res.Shortfall
		}
	}

	if !out.Satisfied {
		out.Shortfall = best
	}
	return out
}

func clampMin(v, lo float64) float64 {
	if v < lo {
		return lo
	}
	return v
}
