// Package catalogfile loads catalog and profile fixtures from YAML and writes
// them into a store.
package catalogfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/unimatch/match-engine/internal/domain/matching"
	"github.com/unimatch/match-engine/internal/domain/shared"
	"github.com/unimatch/match-engine/pkg/logger"
)

// Bundle is the content of one or more seed files.
type Bundle struct {
	Courses  []matching.Course         `yaml:"courses"`
	Programs []matching.Program        `yaml:"programs"`
	Students []matching.StudentProfile `yaml:"students"`
}

// Merge appends other to b.
func (b *Bundle) Merge(other Bundle) {
	b.Courses = append(b.Courses, other.Courses...)
	b.Programs = append(b.Programs, other.Programs...)
	b.Students = append(b.Students, other.Students...)
}

// Decode parses a YAML document. Unknown keys are rejected.
func Decode(r io.Reader) (Bundle, error) {
	var b Bundle
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil && !errors.Is(err, io.EOF) {
		return Bundle{}, err
	}
	return b, nil
}

// LoadFile reads one seed file.
func LoadFile(path string) (Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Bundle{}, err
	}
	b, err := Decode(bytes.NewReader(data))
	if err != nil {
		return Bundle{}, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

// Load reads a file, or every *.yaml / *.yml file of a directory in name
// order, and validates the merged result.
func Load(path string) (Bundle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Bundle{}, err
	}

	files := []string{path}
	if info.IsDir() {
		files = nil
		for _, pattern := range []string{"*.yaml", "*.yml"} {
			matches, err := filepath.Glob(filepath.Join(path, pattern))
			if err != nil {
				return Bundle{}, err
			}
			files = append(files, matches...)
		}
		sort.Strings(files)
	}

	var merged Bundle
	for _, f := range files {
		b, err := LoadFile(f)
		if err != nil {
			return Bundle{}, err
		}
		merged.Merge(b)
	}
	if err := merged.Validate(); err != nil {
		return Bundle{}, err
	}
	return merged, nil
}

// Validate checks ids, levels and grade bounds, and collects every problem.
func (b Bundle) Validate() error {
	var errs []string
	seen := make(map[string]bool)

	for i, c := range b.Courses {
		if strings.TrimSpace(c.ID) == "" {
			errs = append(errs, fmt.Sprintf("courses[%d]: empty id", i))
		}
	}

	for i, p := range b.Programs {
		where := fmt.Sprintf("programs[%d] %q", i, p.ID)
		switch {
		case strings.TrimSpace(p.ID) == "":
			errs = append(errs, where+": empty id")
		case seen["p:"+p.ID]:
			errs = append(errs, where+": duplicate id")
		}
		seen["p:"+p.ID] = true
		if p.FieldID == "" || p.CountryID == "" {
			errs = append(errs, where+": field and country are required")
		}
		for j, r := range p.Requirements {
			if r.CourseID == "" {
				errs = append(errs, fmt.Sprintf("%s requirement %d: empty course", where, j))
			}
			if r.Level == matching.LevelUnknown {
				errs = append(errs, fmt.Sprintf("%s requirement %d: level must be HL or SL", where, j))
			}
			if r.MinGrade < matching.MinGrade || r.MinGrade > matching.MaxGrade {
				errs = append(errs, fmt.Sprintf("%s requirement %d: min_grade %d out of range", where, j, r.MinGrade))
			}
		}
	}

	for i, s := range b.Students {
		where := fmt.Sprintf("students[%d] %q", i, s.ID)
		if !shared.StudentID(s.ID).IsValid() {
			errs = append(errs, where+": invalid id")
		}
		if seen["s:"+s.ID] {
			errs = append(errs, where+": duplicate id")
		}
		seen["s:"+s.ID] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid seed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// APPLY
// ══════════════════════════════════════════════════════════════════════════════

// Result counts what Apply wrote.
type Result struct {
	Courses  int `json:"courses"`
	Programs int `json:"programs"`
	Students int `json:"students"`
}

// Applier writes bundles into stores and announces the changes.
type Applier struct {
	catalog   matching.CatalogWriter
	profiles  matching.ProfileWriter
	publisher shared.EventPublisher
	log       *zap.Logger
}

// NewApplier creates an Applier. publisher may be nil.
func NewApplier(catalog matching.CatalogWriter, profiles matching.ProfileWriter, publisher shared.EventPublisher, log *zap.Logger) *Applier {
	return &Applier{
		catalog:   catalog,
		profiles:  profiles,
		publisher: publisher,
		log:       logger.OrNop(log).Named("seed"),
	}
}

// Apply writes the bundle. Every written profile is announced with a
// ProfileUpdated event so cached match sets are superseded.
func (a *Applier) Apply(ctx context.Context, b Bundle) (Result, error) {
	var res Result

	if err := a.catalog.SaveCourses(ctx, b.Courses); err != nil {
		return res, fmt.Errorf("save courses: %w", err)
	}
	res.Courses = len(b.Courses)

	if err := a.catalog.SavePrograms(ctx, b.Programs); err != nil {
		return res, fmt.Errorf("save programs: %w", err)
	}
	res.Programs = len(b.Programs)

	if (res.Courses > 0 || res.Programs > 0) && a.publisher != nil {
		ids := make([]string, len(b.Programs))
		for i, p := range b.Programs {
			ids[i] = p.ID
		}
		a.publish(shared.NewCatalogUpdatedEvent(ids...))
	}

	for _, s := range b.Students {
		if err := a.profiles.SaveProfile(ctx, s); err != nil {
			return res, fmt.Errorf("save student %s: %w", s.ID, err)
		}
		res.Students++
		if a.publisher != nil {
			a.publish(shared.NewProfileUpdatedEvent(s.ID, "transcript", "preferences"))
		}
	}

	a.log.Info("seed applied",
		zap.Int("courses", res.Courses),
		zap.Int("programs", res.Programs),
		zap.Int("students", res.Students),
	)
	return res, nil
}

func (a *Applier) publish(event shared.Event) {
	if err := a.publisher.Publish(event); err != nil {
		a.log.Warn("failed to publish seed event", zap.String("event_type", string(event.EventType())), zap.Error(err))
	}
}
