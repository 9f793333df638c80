package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/unimatch/match-engine/internal/domain/matching"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// CatalogRepository serves programs, requirements and the course list.
type CatalogRepository struct {
	conn *Connection
}

var (
	_ matching.CatalogStore        = (*CatalogRepository)(nil)
	_ matching.CourseCatalogSource = (*CatalogRepository)(nil)
	_ matching.CatalogWriter       = (*CatalogRepository)(nil)
)

// NewCatalogRepository creates a CatalogRepository.
func NewCatalogRepository(conn *Connection) *CatalogRepository {
	return &CatalogRepository{conn: conn}
}

const (
	catalogVersionQuery = `SELECT epoch, revision FROM catalog_revision WHERE id = 1`
	bumpRevisionQuery   = `UPDATE catalog_revision SET revision = revision + 1, updated_at = NOW() WHERE id = 1`
)

// CatalogVersion returns the catalog revision. Every catalog write bumps it in
// its own transaction.
func (r *CatalogRepository) CatalogVersion(ctx context.Context) (string, error) {
	var (
		epoch    string
		revision int64
	)
	if err := r.conn.QueryRow(ctx, catalogVersionQuery).Scan(&epoch, &revision); err != nil {
		return "", fmt.Errorf("failed to read catalog revision: %w", err)
	}
	return formatVersion(epoch, revision), nil
}

func formatVersion(epoch string, revision int64) string {
	if len(epoch) > 12 {
		epoch = epoch[:12]
	}
	return fmt.Sprintf("pg-%s-%d", epoch, revision)
}

// LoadCourseCatalog returns the known course ids.
func (r *CatalogRepository) LoadCourseCatalog(ctx context.Context) (matching.CourseCatalog, error) {
	rows, err := r.conn.Query(ctx, `SELECT id FROM courses`)
	if err != nil {
		return nil, fmt.Errorf("failed to query courses: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return matching.NewCourseCatalog(ids...), nil
}

// buildProgramQuery renders the candidate query for hints.
func buildProgramQuery(hints matching.FilterHints) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if hints.ProgramIDs != nil {
		add("p.id = ANY($%d)", hints.ProgramIDs)
	}
	if len(hints.PreferredFieldIDs) > 0 {
		add("p.field_id = ANY($%d)", hints.PreferredFieldIDs)
	}
	if len(hints.PreferredCountryIDs) > 0 {
		add("p.country_id = ANY($%d)", hints.PreferredCountryIDs)
	}
	if hints.AggregateFloor > 0 {
		add("(p.min_aggregate_score IS NULL OR p.min_aggregate_score <= $%d)", hints.AggregateFloor)
	}

	query := `SELECT p.id, p.name, p.field_id, p.country_id, p.min_aggregate_score::float8 FROM programs p`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY p.id"
	if hints.Limit > 0 {
		args = append(args, hints.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

// LoadCandidatePrograms returns programs matching hints with their
// requirements, ordered by id.
func (r *CatalogRepository) LoadCandidatePrograms(ctx context.Context, hints matching.FilterHints) ([]matching.Program, error) {
	query, args := buildProgramQuery(hints)

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query programs: %w", err)
	}
	programs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (matching.Program, error) {
		var p matching.Program
		err := row.Scan(&p.ID, &p.Name, &p.FieldID, &p.CountryID, &p.MinAggregateScore)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan programs: %w", err)
	}
	if len(programs) == 0 {
		return []matching.Program{}, nil
	}

	ids := make([]string, len(programs))
	index := make(map[string]int, len(programs))
	for i, p := range programs {
		ids[i] = p.ID
		index[p.ID] = i
	}

	reqRows, err := r.conn.Query(ctx, `
		SELECT program_id, course_id, level, min_grade, critical, COALESCE(or_group_id, '')
		FROM program_requirements
		WHERE program_id = ANY($1)
		ORDER BY program_id, position
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query requirements: %w", err)
	}
	defer reqRows.Close()

	for reqRows.Next() {
		var (
			programID, level string
			req              matching.Requirement
		)
		if err := reqRows.Scan(&programID, &req.CourseID, &level, &req.MinGrade, &req.Critical, &req.OrGroupID); err != nil {
			return nil, fmt.Errorf("failed to scan requirement: %w", err)
		}
		req.Level = matching.ParseLevel(level)
		i := index[programID]
		programs[i].Requirements = append(programs[i].Requirements, req)
	}
	return programs, reqRows.Err()
}

// SaveCourses upserts the course list.
func (r *CatalogRepository) SaveCourses(ctx context.Context, courses []matching.Course) error {
	if len(courses) == 0 {
		return nil
	}
	return r.conn.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, c := range courses {
			batch.Queue(`
				INSERT INTO courses (id, name) VALUES ($1, $2)
				ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
			`, matching.NormalizeCourseID(c.ID), c.Name)
		}
		batch.Queue(bumpRevisionQuery)
		return tx.SendBatch(ctx, batch).Close()
	})
}

// SavePrograms upserts programs and replaces their requirements.
func (r *CatalogRepository) SavePrograms(ctx context.Context, programs []matching.Program) error {
	if len(programs) == 0 {
		return nil
	}
	return r.conn.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, p := range programs {
			batch.Queue(`
				INSERT INTO programs (id, name, field_id, country_id, min_aggregate_score, updated_at)
				VALUES ($1, $2, $3, $4, $5, NOW())
				ON CONFLICT (id) DO UPDATE SET
					name = EXCLUDED.name,
					field_id = EXCLUDED.field_id,
					country_id = EXCLUDED.country_id,
					min_aggregate_score = EXCLUDED.min_aggregate_score,
					updated_at = NOW()
			`, p.ID, p.Name, p.FieldID, p.CountryID, p.MinAggregateScore)
			batch.Queue(`DELETE FROM program_requirements WHERE program_id = $1`, p.ID)
			for pos, req := range p.Requirements {
				var group *string
				if !req.IsStandalone() {
					g := req.OrGroupID
					group = &g
				}
				batch.Queue(`
					INSERT INTO program_requirements (program_id, position, course_id, level, min_grade, critical, or_group_id)
					VALUES ($1, $2, $3, $4, $5, $6, $7)
				`, p.ID, pos, req.CourseID, req.Level.String(), req.MinGrade, req.Critical, group)
			}
		}
		batch.Queue(bumpRevisionQuery)
		return tx.SendBatch(ctx, batch).Close()
	})
}
