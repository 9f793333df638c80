package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration is one schema step.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies the embedded migrations and records them in
// schema_migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a migrator with the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName))
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}

		err := m.conn.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName),
				mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
	}
	return nil
}

// Status returns every migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Migration, len(m.migrations))
	copy(result, m.migrations)
	for i := range result {
		if at, ok := applied[result[i].Version]; ok {
			result[i].IsApplied = true
			result[i].AppliedAt = at
		}
	}
	return result, nil
}

// GetMigrations returns all embedded migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_catalog", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_profiles", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_catalog_revision", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CATALOG
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS courses (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS programs (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    field_id TEXT NOT NULL,
    country_id TEXT NOT NULL,
    min_aggregate_score NUMERIC(5,2),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_programs_field ON programs(field_id);
CREATE INDEX IF NOT EXISTS idx_programs_country ON programs(country_id);
CREATE INDEX IF NOT EXISTS idx_programs_min_aggregate ON programs(min_aggregate_score);

CREATE TABLE IF NOT EXISTS program_requirements (
    program_id TEXT NOT NULL REFERENCES programs(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    course_id TEXT NOT NULL,
    level TEXT NOT NULL,
    min_grade SMALLINT NOT NULL,
    critical BOOLEAN NOT NULL DEFAULT FALSE,
    or_group_id TEXT,

    PRIMARY KEY (program_id, position),
    CONSTRAINT valid_level CHECK (level IN ('HL', 'SL')),
    CONSTRAINT valid_min_grade CHECK (min_grade BETWEEN 1 AND 7)
);
`

const migration001Down = `
DROP TABLE IF EXISTS program_requirements;
DROP TABLE IF EXISTS programs;
DROP TABLE IF EXISTS courses;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: STUDENT PROFILES
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS students (
    id TEXT PRIMARY KEY,
    aggregate_score NUMERIC(5,2),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_students_updated_at ON students(updated_at);

CREATE TABLE IF NOT EXISTS student_courses (
    student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    course_id TEXT NOT NULL,
    level TEXT NOT NULL,
    predicted_grade SMALLINT,
    final_grade SMALLINT,

    PRIMARY KEY (student_id, course_id, level)
);

CREATE TABLE IF NOT EXISTS student_preferences (
    student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    kind TEXT NOT NULL,
    ref_id TEXT NOT NULL,

    PRIMARY KEY (student_id, kind, ref_id),
    CONSTRAINT valid_kind CHECK (kind IN ('field', 'country'))
);

CREATE OR REPLACE FUNCTION touch_student()
RETURNS TRIGGER AS $$
BEGIN
    UPDATE students SET updated_at = NOW()
    WHERE id = COALESCE(NEW.student_id, OLD.student_id);
    RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS touch_student_courses ON student_courses;
CREATE TRIGGER touch_student_courses
    AFTER INSERT OR UPDATE OR DELETE ON student_courses
    FOR EACH ROW EXECUTE FUNCTION touch_student();

DROP TRIGGER IF EXISTS touch_student_preferences ON student_preferences;
CREATE TRIGGER touch_student_preferences
    AFTER INSERT OR UPDATE OR DELETE ON student_preferences
    FOR EACH ROW EXECUTE FUNCTION touch_student();
`

const migration002Down = `
DROP TRIGGER IF EXISTS touch_student_preferences ON student_preferences;
DROP TRIGGER IF EXISTS touch_student_courses ON student_courses;
DROP FUNCTION IF EXISTS touch_student();
DROP TABLE IF EXISTS student_preferences;
DROP TABLE IF EXISTS student_courses;
DROP TABLE IF EXISTS students;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CATALOG REVISION
// ══════════════════════════════════════════════════════════════════════════════

// The epoch tells databases apart, so that a recreated catalog never reuses
// the versions of the old one.
const migration003Up = `
CREATE TABLE IF NOT EXISTS catalog_revision (
    id SMALLINT PRIMARY KEY,
    epoch TEXT NOT NULL DEFAULT md5(random()::text || clock_timestamp()::text),
    revision BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT single_row CHECK (id = 1)
);

INSERT INTO catalog_revision (id) VALUES (1) ON CONFLICT (id) DO NOTHING;
`

const migration003Down = `
DROP TABLE IF EXISTS catalog_revision;
`
