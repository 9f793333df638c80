package matching

import (
	"strings"

	"github.com/unimatch/match-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MODE WEIGHT PROFILES
// ══════════════════════════════════════════════════════════════════════════════

// Mode is a named weighting profile. The set of modes is closed.
type Mode string

const (
	// ModeBalanced weighs academic fit first but keeps preferences relevant.
	ModeBalanced Mode = "BALANCED"

	// ModeAcademic favours eligibility.
	ModeAcademic Mode = "ACADEMIC"

	// ModeLocation favours the preferred countries.
	ModeLocation Mode = "LOCATION"

	// ModeInterest favours the preferred fields of study.
	ModeInterest Mode = "INTEREST"
)

// Weights combine the three sub-scores. They always sum to 1.
type Weights struct {
	Academic float64 `json:"academic"`
	Location float64 `json:"location"`
	Field    float64 `json:"field"`
}

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	return w.Academic + w.Location + w.Field
}

const weightEpsilon = 1e-9

var modeWeights = map[Mode]Weights{
	ModeBalanced: {Academic: 0.50, Location: 0.25, Field: 0.25},
	ModeAcademic: {Academic: 0.70, Location: 0.15, Field: 0.15},
	ModeLocation: {Academic: 0.30, Location: 0.50, Field: 0.20},
	ModeInterest: {Academic: 0.30, Location: 0.20, Field: 0.50},
}

// AllModes returns every mode in a stable order.
func AllModes() []Mode {
	return []Mode{ModeBalanced, ModeAcademic, ModeLocation, ModeInterest}
}

// IsValid reports whether the mode is one of the known profiles.
func (m Mode) IsValid() bool {
	_, ok := modeWeights[m]
	return ok
}

// Weights returns the weight vector of the mode.
func (m Mode) Weights() (Weights, error) {
	w, ok := modeWeights[m]
	if !ok {
		return Weights{}, shared.ErrInvalidMode
	}
	return w, nil
}

// String implements fmt.Stringer.
func (m Mode) String() string {
	return string(m)
}

// ParseMode parses a mode name (case-insensitive). An empty name selects BALANCED.
func ParseMode(s string) (Mode, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return ModeBalanced, nil
	}
	m := Mode(s)
	if !m.IsValid() {
		return "", shared.ErrInvalidMode
	}
	return m, nil
}
