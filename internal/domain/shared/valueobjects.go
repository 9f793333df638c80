// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"strings"
	"unicode"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// MaxStudentIDLength bounds student identifiers.
const MaxStudentIDLength = 128

// StudentID is an opaque student identifier issued by the profile service.
// It ends up inside cache keys and key patterns, so separators, glob
// metacharacters and whitespace are rejected.
type StudentID string

// IsValid checks the identifier shape.
func (s StudentID) IsValid() bool {
	if s == "" || len(s) > MaxStudentIDLength {
		return false
	}
	for _, r := range string(s) {
		if strings.ContainsRune(`:*?[]\`, r) || unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// String returns the string representation.
func (s StudentID) String() string {
	return string(s)
}

// NewStudentID creates a StudentID with validation.
func NewStudentID(id string) (StudentID, error) {
	sid := StudentID(strings.TrimSpace(id))
	if !sid.IsValid() {
		return "", ErrInvalidStudentID
	}
	return sid, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Result limit
// ═══════════════════════════════════════════════════════════════════════════

// MaxTopN caps the number of results returned to a caller.
const MaxTopN = 500

// TopN is the number of best results a caller asked for. Zero means all.
type TopN int

// NewTopN validates a requested limit, clamping large values to MaxTopN.
func NewTopN(n int) (TopN, error) {
	if n < 0 {
		return 0, NewDomainError("shared", "NewTopN", ErrInvalidInput, "limit cannot be negative")
	}
	if n > MaxTopN {
		n = MaxTopN
	}
	return TopN(n), nil
}

// Apply returns the first n elements of a result length, or length itself.
func (t TopN) Apply(length int) int {
	if t <= 0 || int(t) > length {
		return length
	}
	return int(t)
}
