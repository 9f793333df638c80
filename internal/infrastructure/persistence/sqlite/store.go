// Package sqlite is an embedded profile and catalog store on modernc.org/sqlite.
// It backs local runs, the seed command and tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
	_ "modernc.org/sqlite"

	"github.com/unimatch/match-engine/internal/domain/matching"
	"github.com/unimatch/match-engine/internal/domain/shared"
)

const schema = `
CREATE TABLE IF NOT EXISTS courses (
  id   TEXT PRIMARY KEY,
  name TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS programs (
  id                  TEXT PRIMARY KEY,
  name                TEXT NOT NULL DEFAULT '',
  field_id            TEXT NOT NULL,
  country_id          TEXT NOT NULL,
  min_aggregate_score REAL
);
CREATE INDEX IF NOT EXISTS idx_programs_field ON programs(field_id);
CREATE INDEX IF NOT EXISTS idx_programs_country ON programs(country_id);
CREATE TABLE IF NOT EXISTS program_requirements (
  program_id  TEXT NOT NULL REFERENCES programs(id) ON DELETE CASCADE,
  position    INTEGER NOT NULL,
  course_id   TEXT NOT NULL,
  level       TEXT NOT NULL CHECK (level IN ('HL','SL')),
  min_grade   INTEGER NOT NULL CHECK (min_grade BETWEEN 1 AND 7),
  critical    INTEGER NOT NULL CHECK (critical IN (0,1)),
  or_group_id TEXT,
  PRIMARY KEY (program_id, position)
);
CREATE TABLE IF NOT EXISTS catalog_revision (
  id       INTEGER PRIMARY KEY CHECK (id = 1),
  revision INTEGER NOT NULL,
  digest   TEXT NOT NULL
);
INSERT OR IGNORE INTO catalog_revision(id, revision, digest) VALUES (1, 0, '');
CREATE TABLE IF NOT EXISTS students (
  id              TEXT PRIMARY KEY,
  aggregate_score REAL,
  updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_students_updated ON students(updated_at);
CREATE TABLE IF NOT EXISTS student_courses (
  student_id      TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
  course_id       TEXT NOT NULL,
  level           TEXT NOT NULL,
  predicted_grade INTEGER,
  final_grade     INTEGER,
  PRIMARY KEY (student_id, course_id, level)
);
CREATE TABLE IF NOT EXISTS student_preferences (
  student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
  kind       TEXT NOT NULL CHECK (kind IN ('field','country')),
  ref_id     TEXT NOT NULL,
  PRIMARY KEY (student_id, kind, ref_id)
);
`

// Store implements the profile and catalog contracts on SQLite.
type Store struct {
	sql *sql.DB
	now func() time.Time
}

var (
	_ matching.ProfileStore        = (*Store)(nil)
	_ matching.ProfileLister       = (*Store)(nil)
	_ matching.ProfileWriter       = (*Store)(nil)
	_ matching.CatalogStore        = (*Store)(nil)
	_ matching.CourseCatalogSource = (*Store)(nil)
	_ matching.CatalogWriter       = (*Store)(nil)
)

// Open opens (creating if needed) the database at path. ":memory:" opens a
// private in-memory database.
func Open(path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	return &Store{sql: db, now: time.Now}, nil
}

// WithClock replaces time.Now for update stamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.sql == nil {
		return nil
	}
	return s.sql.Close()
}

// Ping checks the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.sql.PingContext(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// PROFILES
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) aggregate(ctx context.Context, studentID string) (*float64, error) {
	var agg sql.NullFloat64
	err := s.sql.QueryRowContext(ctx, `SELECT aggregate_score FROM students WHERE id = ?`, studentID).Scan(&agg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	if !agg.Valid {
		return nil, nil
	}
	v := agg.Float64
	return &v, nil
}

// LoadTranscript returns the student's raw course rows.
func (s *Store) LoadTranscript(ctx context.Context, studentID string) ([]matching.CourseRecord, error) {
	if _, err := s.aggregate(ctx, studentID); err != nil {
		return nil, err
	}

	rows, err := s.sql.QueryContext(ctx, `
SELECT course_id, level, predicted_grade, final_grade
FROM student_courses WHERE student_id = ? ORDER BY course_id, level`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []matching.CourseRecord{}
	for rows.Next() {
		var (
			rec              matching.CourseRecord
			predicted, final sql.NullInt64
		)
		if err := rows.Scan(&rec.CourseID, &rec.Level, &predicted, &final); err != nil {
			return nil, err
		}
		rec.PredictedGrade = intPtr(predicted)
		rec.FinalGrade = intPtr(final)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LoadPreferences returns the student's aggregate score and preferences.
func (s *Store) LoadPreferences(ctx context.Context, studentID string) (matching.Preferences, error) {
	agg, err := s.aggregate(ctx, studentID)
	if err != nil {
		return matching.Preferences{}, err
	}

	rows, err := s.sql.QueryContext(ctx, `SELECT kind, ref_id FROM student_preferences WHERE student_id = ?`, studentID)
	if err != nil {
		return matching.Preferences{}, err
	}
	defer rows.Close()

	var fields, countries []string
	for rows.Next() {
		var kind, ref string
		if err := rows.Scan(&kind, &ref); err != nil {
			return matching.Preferences{}, err
		}
		if kind == "field" {
			fields = append(fields, ref)
		} else {
			countries = append(countries, ref)
		}
	}
	if err := rows.Err(); err != nil {
		return matching.Preferences{}, err
	}
	return matching.NewPreferences(agg, fields, countries), nil
}

// ListUpdatedSince returns students changed after since, oldest change first.
func (s *Store) ListUpdatedSince(ctx context.Context, since time.Time, limit int) ([]matching.ProfileChange, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.sql.QueryContext(ctx, `
SELECT id, updated_at FROM students WHERE updated_at > ? ORDER BY updated_at, id LIMIT ?`, since.UnixNano(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []matching.ProfileChange
	for rows.Next() {
		var (
			id    string
			nanos int64
		)
		if err := rows.Scan(&id, &nanos); err != nil {
			return nil, err
		}
		changes = append(changes, matching.ProfileChange{StudentID: id, UpdatedAt: time.Unix(0, nanos).UTC()})
	}
	return changes, rows.Err()
}

// SaveProfile replaces the student's transcript and preferences.
func (s *Store) SaveProfile(ctx context.Context, p matching.StudentProfile) (err error) {
	tx, err := s.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
INSERT INTO students(id, aggregate_score, updated_at) VALUES(?,?,?)
ON CONFLICT(id) DO UPDATE SET aggregate_score = excluded.aggregate_score, updated_at = excluded.updated_at`,
		p.ID, nullFloat(p.AggregateScore), s.now().UnixNano()); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM student_courses WHERE student_id = ?`, p.ID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM student_preferences WHERE student_id = ?`, p.ID); err != nil {
		return err
	}
	for _, c := range p.Courses {
		if _, err = tx.ExecContext(ctx, `
INSERT INTO student_courses(student_id, course_id, level, predicted_grade, final_grade) VALUES(?,?,?,?,?)
ON CONFLICT(student_id, course_id, level) DO UPDATE SET predicted_grade = excluded.predicted_grade, final_grade = excluded.final_grade`,
			p.ID, c.CourseID, c.Level, nullInt(c.PredictedGrade), nullInt(c.FinalGrade)); err != nil {
			return err
		}
	}
	for kind, refs := range map[string][]string{"field": p.PreferredFieldIDs, "country": p.PreferredCountryIDs} {
		for _, ref := range refs {
			if _, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO student_preferences(student_id, kind, ref_id) VALUES(?,?,?)`, p.ID, kind, ref); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// DeleteProfile removes the student or returns shared.ErrProfileNotFound.
func (s *Store) DeleteProfile(ctx context.Context, studentID string) error {
	res, err := s.sql.ExecContext(ctx, `DELETE FROM students WHERE id = ?`, studentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.ErrProfileNotFound
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// LoadCourseCatalog returns the known course ids.
func (s *Store) LoadCourseCatalog(ctx context.Context) (matching.CourseCatalog, error) {
	rows, err := s.sql.QueryContext(ctx, `SELECT id FROM courses`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return matching.NewCourseCatalog(ids...), nil
}

// LoadCandidatePrograms returns programs matching hints, ordered by id.
func (s *Store) LoadCandidatePrograms(ctx context.Context, hints matching.FilterHints) ([]matching.Program, error) {
	var (
		where []string
		args  []any
	)
	in := func(column string, values []string) {
		where = append(where, column+" IN ("+strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")+")")
		for _, v := range values {
			args = append(args, v)
		}
	}
	if hints.ProgramIDs != nil {
		if len(hints.ProgramIDs) == 0 {
			return []matching.Program{}, nil
		}
		in("id", hints.ProgramIDs)
	}
	if len(hints.PreferredFieldIDs) > 0 {
		in("field_id", hints.PreferredFieldIDs)
	}
	if len(hints.PreferredCountryIDs) > 0 {
		in("country_id", hints.PreferredCountryIDs)
	}
	if hints.AggregateFloor > 0 {
		where = append(where, "(min_aggregate_score IS NULL OR min_aggregate_score <= ?)")
		args = append(args, hints.AggregateFloor)
	}

	query := `SELECT id, name, field_id, country_id, min_aggregate_score FROM programs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if hints.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, hints.Limit)
	}

	programs, err := s.queryPrograms(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if err := s.attachRequirements(ctx, programs); err != nil {
		return nil, err
	}
	return programs, nil
}

func (s *Store) queryPrograms(ctx context.Context, query string, args ...any) ([]matching.Program, error) {
	rows, err := s.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	programs := []matching.Program{}
	for rows.Next() {
		var (
			p   matching.Program
			agg sql.NullFloat64
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.FieldID, &p.CountryID, &agg); err != nil {
			return nil, err
		}
		if agg.Valid {
			v := agg.Float64
			p.MinAggregateScore = &v
		}
		programs = append(programs, p)
	}
	return programs, rows.Err()
}

func (s *Store) attachRequirements(ctx context.Context, programs []matching.Program) error {
	if len(programs) == 0 {
		return nil
	}
	index := make(map[string]int, len(programs))
	args := make([]any, len(programs))
	for i, p := range programs {
		index[p.ID] = i
		args[i] = p.ID
	}

	rows, err := s.sql.QueryContext(ctx, `
SELECT program_id, course_id, level, min_grade, critical, COALESCE(or_group_id, '')
FROM program_requirements
WHERE program_id IN (`+strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")+`)
ORDER BY program_id, position`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			programID, level string
			critical         int
			req              matching.Requirement
		)
		if err := rows.Scan(&programID, &req.CourseID, &level, &req.MinGrade, &critical, &req.OrGroupID); err != nil {
			return err
		}
		req.Level = matching.ParseLevel(level)
		req.Critical = critical == 1
		i := index[programID]
		programs[i].Requirements = append(programs[i].Requirements, req)
	}
	return rows.Err()
}

// CatalogVersion returns the digest recorded by the last catalog write. It
// reads a single row.
func (s *Store) CatalogVersion(ctx context.Context) (string, error) {
	var (
		revision int64
		digest   string
	)
	err := s.sql.QueryRowContext(ctx, `SELECT revision, digest FROM catalog_revision WHERE id = 1`).Scan(&revision, &digest)
	if err != nil {
		return "", fmt.Errorf("sqlite: read catalog revision: %w", err)
	}
	if revision == 0 {
		return "b2-empty", nil
	}
	return "b2-" + digest[:32], nil
}

// bumpRevision chains the digest of one write batch onto the catalog digest,
// inside the transaction that writes the batch. Replaying the same writes
// yields the same version.
func bumpRevision(ctx context.Context, tx *sql.Tx, batch func(io.Writer)) error {
	var prev string
	if err := tx.QueryRowContext(ctx, `SELECT digest FROM catalog_revision WHERE id = 1`).Scan(&prev); err != nil {
		return fmt.Errorf("sqlite: read catalog revision: %w", err)
	}

	h, _ := blake2b.New256(nil)
	io.WriteString(h, prev)
	batch(h)

	_, err := tx.ExecContext(ctx, `UPDATE catalog_revision SET revision = revision + 1, digest = ? WHERE id = 1`,
		hex.EncodeToString(h.Sum(nil)))
	return err
}

func digestCourses(courses []matching.Course) func(io.Writer) {
	return func(w io.Writer) {
		for _, c := range courses {
			fmt.Fprintf(w, "c|%s\n", matching.NormalizeCourseID(c.ID))
		}
	}
}

func digestPrograms(programs []matching.Program) func(io.Writer) {
	return func(w io.Writer) {
		for _, p := range programs {
			agg := ""
			if p.MinAggregateScore != nil {
				agg = fmt.Sprintf("%g", *p.MinAggregateScore)
			}
			fmt.Fprintf(w, "p|%s|%s|%s|%s\n", p.ID, p.FieldID, p.CountryID, agg)
			for _, r := range p.Requirements {
				fmt.Fprintf(w, "r|%s|%s|%d|%t|%s\n", r.CourseID, r.Level, r.MinGrade, r.Critical, r.OrGroupID)
			}
		}
	}
}

// SaveCourses upserts the course list.
func (s *Store) SaveCourses(ctx context.Context, courses []matching.Course) (err error) {
	tx, err := s.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, c := range courses {
		if _, err = tx.ExecContext(ctx, `
INSERT INTO courses(id, name) VALUES(?,?) ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
			matching.NormalizeCourseID(c.ID), c.Name); err != nil {
			return err
		}
	}
	if err = bumpRevision(ctx, tx, digestCourses(courses)); err != nil {
		return err
	}
	return tx.Commit()
}

// SavePrograms upserts programs and replaces their requirements.
func (s *Store) SavePrograms(ctx context.Context, programs []matching.Program) (err error) {
	tx, err := s.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, p := range programs {
		if _, err = tx.ExecContext(ctx, `
INSERT INTO programs(id, name, field_id, country_id, min_aggregate_score) VALUES(?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name, field_id = excluded.field_id,
  country_id = excluded.country_id, min_aggregate_score = excluded.min_aggregate_score`,
			p.ID, p.Name, p.FieldID, p.CountryID, nullFloat(p.MinAggregateScore)); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM program_requirements WHERE program_id = ?`, p.ID); err != nil {
			return err
		}
		for pos, r := range p.Requirements {
			var group any
			if !r.IsStandalone() {
				group = r.OrGroupID
			}
			if _, err = tx.ExecContext(ctx, `
INSERT INTO program_requirements(program_id, position, course_id, level, min_grade, critical, or_group_id)
VALUES(?,?,?,?,?,?,?)`, p.ID, pos, r.CourseID, r.Level.String(), r.MinGrade, boolToInt(r.Critical), group); err != nil {
				return err
			}
		}
	}
	if err = bumpRevision(ctx, tx, digestPrograms(programs)); err != nil {
		return err
	}
	return tx.Commit()
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
