package matching

import (
	"fmt"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// COURSE LEVELS AND GRADES
// ══════════════════════════════════════════════════════════════════════════════

// Level is the level a course was taken at. HL dominates SL.
type Level int

const (
	// LevelUnknown marks an unparseable level.
	LevelUnknown Level = iota
	// LevelSL is standard level.
	LevelSL
	// LevelHL is higher level.
	LevelHL
)

// String returns the canonical representation of the level.
func (l Level) String() string {
	switch l {
	case LevelSL:
		return "SL"
	case LevelHL:
		return "HL"
	default:
		return "UNKNOWN"
	}
}

// Satisfies reports whether l meets the required level.
func (l Level) Satisfies(required Level) bool {
	return l != LevelUnknown && l >= required
}

// ParseLevel parses "HL"/"SL" (case-insensitive).
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HL", "HIGHER":
		return LevelHL
	case "SL", "STANDARD":
		return LevelSL
	default:
		return LevelUnknown
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	parsed := ParseLevel(string(text))
	if parsed == LevelUnknown {
		return fmt.Errorf("matching: invalid level %q", string(text))
	}
	*l = parsed
	return nil
}

// Grade bounds on the 1..7 scale.
const (
	MinGrade = 1
	MaxGrade = 7
)

// ══════════════════════════════════════════════════════════════════════════════
// TRANSCRIPT
// ══════════════════════════════════════════════════════════════════════════════

// CourseRecord is one raw transcript row as supplied by the profile store.
type CourseRecord struct {
	CourseID       string `json:"course_id" yaml:"course"`
	Level          string `json:"level" yaml:"level"`
	PredictedGrade *int   `json:"predicted_grade,omitempty" yaml:"predicted,omitempty"`
	FinalGrade     *int   `json:"final_grade,omitempty" yaml:"final,omitempty"`
}

// EffectiveGrade returns the final grade when recorded, otherwise the predicted one.
func (r CourseRecord) EffectiveGrade() (int, bool) {
	if r.FinalGrade != nil {
		return *r.FinalGrade, true
	}
	if r.PredictedGrade != nil {
		return *r.PredictedGrade, true
	}
	return 0, false
}

// CourseGrade is the best recorded level and grade for a course.
type CourseGrade struct {
	Level Level `json:"level"`
	Grade int   `json:"grade"`
}

// better reports whether g outranks other: higher level first, then higher grade.
func (g CourseGrade) better(other CourseGrade) bool {
	if g.Level != other.Level {
		return g.Level > other.Level
	}
	return g.Grade > other.Grade
}

// Transcript maps a normalized course id to the student's best record.
// It is read-only for the scoring core.
type Transcript map[string]CourseGrade

// Lookup returns the best record for a course id.
func (t Transcript) Lookup(courseID string) (CourseGrade, bool) {
	g, ok := t[NormalizeCourseID(courseID)]
	return g, ok
}

// Rejection describes a transcript record dropped during normalization.
type Rejection struct {
	Index    int
	CourseID string
	Reason   string
}

// NormalizeCourseID trims and lower-cases a course identifier.
func NormalizeCourseID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// NormalizeTranscript builds the lookup used by scoring. Duplicate records for
// the same course keep the higher level, then the higher grade. Malformed
// records are excluded and reported instead of failing the whole transcript.
func NormalizeTranscript(records []CourseRecord) (Transcript, []Rejection) {
	transcript := make(Transcript, len(records))
	var rejected []Rejection

	for i, rec := range records {
		id := NormalizeCourseID(rec.CourseID)
		if id == "" {
			rejected = append(rejected, Rejection{Index: i, CourseID: rec.CourseID, Reason: "missing course id"})
			continue
		}

		level := ParseLevel(rec.Level)
		if level == LevelUnknown {
			rejected = append(rejected, Rejection{Index: i, CourseID: id, Reason: "invalid level"})
			continue
		}

		grade, ok := rec.EffectiveGrade()
		if !ok {
			rejected = append(rejected, Rejection{Index: i, CourseID: id, Reason: "missing grade"})
			continue
		}
		if grade < MinGrade || grade > MaxGrade {
			rejected = append(rejected, Rejection{Index: i, CourseID: id, Reason: "grade out of range"})
			continue
		}

		candidate := CourseGrade{Level: level, Grade: grade}
		if existing, found := transcript[id]; !found || candidate.better(existing) {
			transcript[id] = candidate
		}
	}

	return transcript, rejected
}
