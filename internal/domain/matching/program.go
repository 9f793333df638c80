package matching

import (
	"sort"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG ENTITIES
// ══════════════════════════════════════════════════════════════════════════════

// Requirement is one course requirement of a program. Requirements sharing a
// non-empty OrGroupID form a disjunction; requirements without one are
// independent conjuncts.
type Requirement struct {
	CourseID  string `json:"course_id" yaml:"course"`
	Level     Level  `json:"level" yaml:"level"`
	MinGrade  int    `json:"min_grade" yaml:"min_grade"`
	Critical  bool   `json:"critical" yaml:"critical,omitempty"`
	OrGroupID string `json:"or_group_id,omitempty" yaml:"or_group,omitempty"`
}

// IsStandalone reports whether the requirement belongs to no OR-group.
func (r Requirement) IsStandalone() bool {
	return strings.TrimSpace(r.OrGroupID) == ""
}

// Program is an academic program from the catalog. It is immutable for the
// lifetime of a scoring call.
type Program struct {
	ID                string        `json:"id" yaml:"id"`
	Name              string        `json:"name,omitempty" yaml:"name,omitempty"`
	FieldID           string        `json:"field_id" yaml:"field"`
	CountryID         string        `json:"country_id" yaml:"country"`
	MinAggregateScore *float64      `json:"min_aggregate_score,omitempty" yaml:"min_aggregate,omitempty"`
	Requirements      []Requirement `json:"requirements" yaml:"requirements"`
}

// Course is an entry of the global course list.
type Course struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT PREFERENCES
// ══════════════════════════════════════════════════════════════════════════════

// Preferences are the student's stated aggregate score and preferences.
type Preferences struct {
	AggregateScore      *float64
	PreferredFieldIDs   map[string]struct{}
	PreferredCountryIDs map[string]struct{}
}

// StudentProfile is the stored form of a student's transcript and
// preferences, as written by seeders and the profile service.
type StudentProfile struct {
	ID                  string         `json:"id" yaml:"id"`
	AggregateScore      *float64       `json:"aggregate_score,omitempty" yaml:"aggregate,omitempty"`
	Courses             []CourseRecord `json:"courses" yaml:"courses"`
	PreferredFieldIDs   []string       `json:"preferred_fields,omitempty" yaml:"fields,omitempty"`
	PreferredCountryIDs []string       `json:"preferred_countries,omitempty" yaml:"countries,omitempty"`
}

// Preferences returns the scoring view of the stored preferences.
func (p StudentProfile) Preferences() Preferences {
	return NewPreferences(p.AggregateScore, p.PreferredFieldIDs, p.PreferredCountryIDs)
}

// NewPreferences builds Preferences from id slices.
func NewPreferences(aggregate *float64, fields, countries []string) Preferences {
	return Preferences{
		AggregateScore:      aggregate,
		PreferredFieldIDs:   toSet(fields),
		PreferredCountryIDs: toSet(countries),
	}
}

// FieldIDs returns the preferred field ids sorted.
func (p Preferences) FieldIDs() []string {
	return sortedKeys(p.PreferredFieldIDs)
}

// CountryIDs returns the preferred country ids sorted.
func (p Preferences) CountryIDs() []string {
	return sortedKeys(p.PreferredCountryIDs)
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ══════════════════════════════════════════════════════════════════════════════
// COURSE CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// CourseCatalog is the set of course ids known to the platform. A requirement
// naming a course outside the catalog can never be satisfied. A nil catalog
// accepts every course.
type CourseCatalog map[string]struct{}

// NewCourseCatalog builds a catalog from course ids.
func NewCourseCatalog(ids ...string) CourseCatalog {
	catalog := make(CourseCatalog, len(ids))
	for _, id := range ids {
		if id = NormalizeCourseID(id); id != "" {
			catalog[id] = struct{}{}
		}
	}
	return catalog
}

// Knows reports whether the course is resolvable.
func (c CourseCatalog) Knows(courseID string) bool {
	if c == nil {
		return true
	}
	_, ok := c[NormalizeCourseID(courseID)]
	return ok
}
