package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unimatch/match-engine/internal/domain/matching"
)

func TestBuildProgramQuery(t *testing.T) {
	tests := []struct {
		name      string
		hints     matching.FilterHints
		wantWhere string
		wantArgs  int
	}{
		{
			name:      "no hints",
			hints:     matching.FilterHints{},
			wantWhere: "",
		},
		{
			name:      "fields and countries",
			hints:     matching.FilterHints{PreferredFieldIDs: []string{"cs"}, PreferredCountryIDs: []string{"ch"}},
			wantWhere: " WHERE p.field_id = ANY($1) AND p.country_id = ANY($2)",
			wantArgs:  2,
		},
		{
			name:      "explicit ids and floor",
			hints:     matching.FilterHints{ProgramIDs: []string{"a"}, AggregateFloor: 40},
			wantWhere: " WHERE p.id = ANY($1) AND (p.min_aggregate_score IS NULL OR p.min_aggregate_score <= $2)",
			wantArgs:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildProgramQuery(tt.hints)
			assert.Contains(t, query, "FROM programs p"+tt.wantWhere+" ORDER BY p.id")
			assert.Len(t, args, tt.wantArgs)
		})
	}
}

func TestBuildProgramQuery_Limit(t *testing.T) {
	query, args := buildProgramQuery(matching.FilterHints{PreferredFieldIDs: []string{"cs"}, Limit: 25})
	assert.Contains(t, query, "ORDER BY p.id LIMIT $2")
	require.Len(t, args, 2)
	assert.Equal(t, 25, args[1])
}

func TestConfig_DSN(t *testing.T) {
	cfg := DefaultConfig()
	assert.Contains(t, cfg.DSN(), "host=localhost port=5432 dbname=matchengine")

	cfg.URL = "postgres://u:p@db:5432/x"
	assert.Equal(t, "postgres://u:p@db:5432/x", cfg.DSN())

	pool, err := cfg.PoolConfig()
	require.NoError(t, err)
	assert.Equal(t, int32(10), pool.MaxConns)
}

func TestMigrationsAreOrdered(t *testing.T) {
	migrations := GetMigrations()
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL)
		assert.NotEmpty(t, m.DownSQL)
	}
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "pg-0123456789ab-7", formatVersion("0123456789abcdef0123456789abcdef", 7))
	assert.Equal(t, "pg-short-0", formatVersion("short", 0))
	assert.NotEqual(t, formatVersion("aaaaaaaaaaaa", 1), formatVersion("bbbbbbbbbbbb", 1))
}

func TestCatalogRevisionMigration(t *testing.T) {
	migrations := GetMigrations()
	last := migrations[len(migrations)-1]

	assert.Equal(t, "create_catalog_revision", last.Name)
	assert.Contains(t, last.UpSQL, "CREATE TABLE IF NOT EXISTS catalog_revision")
	assert.Contains(t, last.UpSQL, "ON CONFLICT (id) DO NOTHING")
	assert.Contains(t, bumpRevisionQuery, "revision = revision + 1")
}
