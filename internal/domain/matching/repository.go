package matching

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// COLLABORATOR CONTRACTS
// ══════════════════════════════════════════════════════════════════════════════

// ProfileStore supplies a student's transcript and preferences. It is
// read-only to the scoring core. Both methods return shared.ErrProfileNotFound
// when the student has no profile.
type ProfileStore interface {
	LoadTranscript(ctx context.Context, studentID string) ([]CourseRecord, error)
	LoadPreferences(ctx context.Context, studentID string) (Preferences, error)
}

// ProfileLister lists students whose profile changed after a point in time.
// It backs the cache warming job.
type ProfileLister interface {
	// ListUpdatedSince returns changes after since, oldest first.
	ListUpdatedSince(ctx context.Context, since time.Time, limit int) ([]ProfileChange, error)
}

// ProfileChange is one entry of ProfileLister.ListUpdatedSince.
type ProfileChange struct {
	StudentID string
	UpdatedAt time.Time
}

// FilterHints are the coarse filters passed to the catalog and the prefilter.
type FilterHints struct {
	PreferredFieldIDs   []string
	PreferredCountryIDs []string
	// AggregateFloor excludes programs whose minimum aggregate exceeds it. Zero disables.
	AggregateFloor float64
	// ProgramIDs restricts the catalog to an explicit candidate set. Nil means no restriction.
	ProgramIDs []string
	// Limit caps the candidate count. Zero means unlimited.
	Limit int
}

// IsZero reports whether the hints narrow nothing.
func (h FilterHints) IsZero() bool {
	return len(h.PreferredFieldIDs) == 0 && len(h.PreferredCountryIDs) == 0 &&
		h.AggregateFloor == 0 && h.ProgramIDs == nil && h.Limit == 0
}

// CatalogStore supplies candidate programs and the catalog version.
type CatalogStore interface {
	LoadCandidatePrograms(ctx context.Context, hints FilterHints) ([]Program, error)
	// CatalogVersion identifies the content state of the catalog.
	CatalogVersion(ctx context.Context) (string, error)
}

// CourseCatalogSource is implemented by catalog stores that know the global
// course list. Stores without it accept every course id.
type CourseCatalogSource interface {
	LoadCourseCatalog(ctx context.Context) (CourseCatalog, error)
}

// CandidatePrefilter narrows the catalog to candidate program ids using a
// search index.
type CandidatePrefilter interface {
	CandidateIDs(ctx context.Context, hints FilterHints) ([]string, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// MATCH CACHE CONTRACT
// ══════════════════════════════════════════════════════════════════════════════

// ErrCacheMiss is returned by MatchCache.Get when no entry exists.
var ErrCacheMiss = errors.New("match cache: miss")

// CacheKey identifies one cached match set. Generation is bumped by every
// invalidation of the student, so entries written before an invalidation are
// unreachable afterwards.
type CacheKey struct {
	StudentID      string
	Generation     int64
	Mode           Mode
	CatalogVersion string
}

// String renders the key in the layout used by the stores.
func (k CacheKey) String() string {
	return fmt.Sprintf("%s:g%d:%s:%s", k.StudentID, k.Generation, k.Mode, k.CatalogVersion)
}

// CacheEntry is a stored ranked set.
type CacheEntry struct {
	Results    []MatchResult `json:"results"`
	ComputedAt time.Time     `json:"computed_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
}

// ReleaseFunc gives up a claim. It only releases the claim it was issued for.
type ReleaseFunc func(ctx context.Context) error

// MatchCache is the shared key-value store used to memoize match sets.
type MatchCache interface {
	// Generation returns the current invalidation generation of a student.
	Generation(ctx context.Context, studentID string) (int64, error)

	// Get returns the entry for key or ErrCacheMiss.
	Get(ctx context.Context, key CacheKey) (*CacheEntry, error)

	// Set stores the entry with a TTL, overwriting any previous value.
	Set(ctx context.Context, key CacheKey, entry CacheEntry, ttl time.Duration) error

	// Invalidate bumps the student's generation and drops the student's entries.
	Invalidate(ctx context.Context, studentID string) (int64, error)

	// Claim atomically claims the right to compute key. ok is false when
	// another caller holds the claim.
	Claim(ctx context.Context, key CacheKey, ttl time.Duration) (release ReleaseFunc, ok bool, err error)
}

// ══════════════════════════════════════════════════════════════════════════════
// WRITERS
// ══════════════════════════════════════════════════════════════════════════════

// CatalogWriter replaces catalog content. Used by seeding; the scoring core
// never writes the catalog.
type CatalogWriter interface {
	SaveCourses(ctx context.Context, courses []Course) error
	SavePrograms(ctx context.Context, programs []Program) error
}

// ProfileWriter upserts and removes student profiles. Callers publish the
// matching profile event after a successful write.
type ProfileWriter interface {
	SaveProfile(ctx context.Context, profile StudentProfile) error
	DeleteProfile(ctx context.Context, studentID string) error
}
