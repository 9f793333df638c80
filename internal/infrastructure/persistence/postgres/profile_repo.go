package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/unimatch/match-engine/internal/domain/matching"
	"github.com/unimatch/match-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// ProfileRepository reads and writes student profiles.
type ProfileRepository struct {
	conn *Connection
}

var (
	_ matching.ProfileStore  = (*ProfileRepository)(nil)
	_ matching.ProfileLister = (*ProfileRepository)(nil)
	_ matching.ProfileWriter = (*ProfileRepository)(nil)
)

// NewProfileRepository creates a ProfileRepository.
func NewProfileRepository(conn *Connection) *ProfileRepository {
	return &ProfileRepository{conn: conn}
}

func (r *ProfileRepository) exists(ctx context.Context, q Querier, studentID string) (*float64, error) {
	var aggregate *float64
	err := q.QueryRow(ctx, `SELECT aggregate_score::float8 FROM students WHERE id = $1`, studentID).Scan(&aggregate)
	if IsNoRows(err) {
		return nil, shared.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load student %s: %w", studentID, err)
	}
	return aggregate, nil
}

// LoadTranscript returns the student's raw course rows.
func (r *ProfileRepository) LoadTranscript(ctx context.Context, studentID string) ([]matching.CourseRecord, error) {
	if _, err := r.exists(ctx, r.conn, studentID); err != nil {
		return nil, err
	}

	rows, err := r.conn.Query(ctx, `
		SELECT course_id, level, predicted_grade, final_grade
		FROM student_courses
		WHERE student_id = $1
		ORDER BY course_id, level
	`, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (matching.CourseRecord, error) {
		var rec matching.CourseRecord
		var predicted, final *int16
		if err := row.Scan(&rec.CourseID, &rec.Level, &predicted, &final); err != nil {
			return rec, err
		}
		rec.PredictedGrade = widen(predicted)
		rec.FinalGrade = widen(final)
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan transcript: %w", err)
	}
	return records, nil
}

// LoadPreferences returns the student's aggregate score and preferences.
func (r *ProfileRepository) LoadPreferences(ctx context.Context, studentID string) (matching.Preferences, error) {
	aggregate, err := r.exists(ctx, r.conn, studentID)
	if err != nil {
		return matching.Preferences{}, err
	}

	rows, err := r.conn.Query(ctx, `
		SELECT kind, ref_id FROM student_preferences WHERE student_id = $1
	`, studentID)
	if err != nil {
		return matching.Preferences{}, fmt.Errorf("failed to query preferences: %w", err)
	}
	defer rows.Close()

	var fields, countries []string
	for rows.Next() {
		var kind, ref string
		if err := rows.Scan(&kind, &ref); err != nil {
			return matching.Preferences{}, fmt.Errorf("failed to scan preference: %w", err)
		}
		switch kind {
		case "field":
			fields = append(fields, ref)
		case "country":
			countries = append(countries, ref)
		}
	}
	if err := rows.Err(); err != nil {
		return matching.Preferences{}, err
	}

	return matching.NewPreferences(aggregate, fields, countries), nil
}

// ListUpdatedSince returns students changed after since, oldest change first.
func (r *ProfileRepository) ListUpdatedSince(ctx context.Context, since time.Time, limit int) ([]matching.ProfileChange, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.conn.Query(ctx, `
		SELECT id, updated_at FROM students
		WHERE updated_at > $1
		ORDER BY updated_at, id
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list updated students: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (matching.ProfileChange, error) {
		var c matching.ProfileChange
		err := row.Scan(&c.StudentID, &c.UpdatedAt)
		return c, err
	})
}

// SaveProfile replaces the student's transcript and preferences.
func (r *ProfileRepository) SaveProfile(ctx context.Context, p matching.StudentProfile) error {
	return r.conn.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO students (id, aggregate_score, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (id) DO UPDATE SET
				aggregate_score = EXCLUDED.aggregate_score,
				updated_at = NOW()
		`, p.ID, p.AggregateScore)
		if err != nil {
			return fmt.Errorf("failed to upsert student: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM student_courses WHERE student_id = $1`, p.ID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM student_preferences WHERE student_id = $1`, p.ID); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, c := range p.Courses {
			batch.Queue(`
				INSERT INTO student_courses (student_id, course_id, level, predicted_grade, final_grade)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (student_id, course_id, level) DO UPDATE SET
					predicted_grade = EXCLUDED.predicted_grade,
					final_grade = EXCLUDED.final_grade
			`, p.ID, c.CourseID, c.Level, c.PredictedGrade, c.FinalGrade)
		}
		for _, f := range p.PreferredFieldIDs {
			batch.Queue(`INSERT INTO student_preferences (student_id, kind, ref_id) VALUES ($1, 'field', $2)
				ON CONFLICT DO NOTHING`, p.ID, f)
		}
		for _, c := range p.PreferredCountryIDs {
			batch.Queue(`INSERT INTO student_preferences (student_id, kind, ref_id) VALUES ($1, 'country', $2)
				ON CONFLICT DO NOTHING`, p.ID, c)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to write profile rows: %w", err)
		}
		return nil
	})
}

// DeleteProfile removes the student. Deleting an unknown student returns
// shared.ErrProfileNotFound.
func (r *ProfileRepository) DeleteProfile(ctx context.Context, studentID string) error {
	tag, err := r.conn.Exec(ctx, `DELETE FROM students WHERE id = $1`, studentID)
	if err != nil {
		return fmt.Errorf("failed to delete student: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrProfileNotFound
	}
	return nil
}

func widen(v *int16) *int {
	if v == nil {
		return nil
	}
	n := int(*v)
	return &n
}
