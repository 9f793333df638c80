package catalogfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unimatch/match-engine/internal/domain/matching"
	"github.com/unimatch/match-engine/internal/domain/shared"
	"github.com/unimatch/match-engine/internal/infrastructure/persistence/sqlite"
)

const catalogYAML = `
courses:
  - id: math
    name: Mathematics
  - id: physics
programs:
  - id: eth-cs
    name: Computer Science
    field: cs
    country: ch
    min_aggregate: 38
    requirements:
      - course: math
        level: HL
        min_grade: 6
        critical: true
      - course: physics
        level: SL
        min_grade: 5
`

const studentsYAML = `
students:
  - id: s1
    aggregate: 40
    fields: [cs]
    countries: [ch]
    courses:
      - course: math
        level: HL
        predicted: 6
      - course: physics
        level: SL
        final: 5
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDecode(t *testing.T) {
	b, err := Decode(strings.NewReader(catalogYAML))
	require.NoError(t, err)

	require.Len(t, b.Programs, 1)
	p := b.Programs[0]
	assert.Equal(t, "cs", p.FieldID)
	require.NotNil(t, p.MinAggregateScore)
	assert.Equal(t, 38.0, *p.MinAggregateScore)
	require.Len(t, p.Requirements, 2)
	assert.Equal(t, matching.LevelHL, p.Requirements[0].Level)
	assert.True(t, p.Requirements[0].Critical)
	assert.Len(t, b.Courses, 2)
}

func TestDecode_RejectsUnknownKeysAndLevels(t *testing.T) {
	_, err := Decode(strings.NewReader("programz: []\n"))
	assert.Error(t, err)

	_, err = Decode(strings.NewReader(`
programs:
  - id: p
    field: f
    country: c
    requirements:
      - course: math
        level: XL
        min_grade: 4
`))
	assert.Error(t, err)
}

func TestDecode_EmptyDocument(t *testing.T) {
	b, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, b.Programs)
}

func TestLoad_DirectoryMergesFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "01-catalog.yaml", catalogYAML)
	writeFile(t, dir, "02-students.yml", studentsYAML)
	writeFile(t, dir, "notes.txt", "ignored")

	b, err := Load(dir)
	require.NoError(t, err)
	assert.Len(t, b.Courses, 2)
	assert.Len(t, b.Programs, 1)
	require.Len(t, b.Students, 1)
	assert.Equal(t, []string{"cs"}, b.Students[0].PreferredFieldIDs)
}

func TestLoad_SingleFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "seed.yaml", studentsYAML)

	b, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, b.Students, 1)
}

func TestBundle_Validate(t *testing.T) {
	tests := []struct {
		name    string
		bundle  Bundle
		wantErr string
	}{
		{
			name:    "duplicate program",
			bundle:  Bundle{Programs: []matching.Program{{ID: "p", FieldID: "f", CountryID: "c"}, {ID: "p", FieldID: "f", CountryID: "c"}}},
			wantErr: "duplicate id",
		},
		{
			name:    "missing country",
			bundle:  Bundle{Programs: []matching.Program{{ID: "p", FieldID: "f"}}},
			wantErr: "field and country are required",
		},
		{
			name: "grade out of range",
			bundle: Bundle{Programs: []matching.Program{{ID: "p", FieldID: "f", CountryID: "c", Requirements: []matching.Requirement{
				{CourseID: "math", Level: matching.LevelHL, MinGrade: 8},
			}}}},
			wantErr: "min_grade 8 out of range",
		},
		{
			name:    "student id with separator",
			bundle:  Bundle{Students: []matching.StudentProfile{{ID: "a:b"}}},
			wantErr: "invalid id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.bundle.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

type recordingPublisher struct {
	events []shared.Event
	err    error
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.events = append(p.events, e)
	return p.err
}

func TestApplier_WritesStoreAndAnnounces(t *testing.T) {
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	dir := t.TempDir()
	writeFile(t, dir, "catalog.yaml", catalogYAML)
	writeFile(t, dir, "students.yaml", studentsYAML)
	b, err := Load(dir)
	require.NoError(t, err)

	pub := &recordingPublisher{err: errors.New("bus closed")}
	res, err := NewApplier(store, store, pub, nil).Apply(context.Background(), b)
	require.NoError(t, err, "publish failures are logged only")
	assert.Equal(t, Result{Courses: 2, Programs: 1, Students: 1}, res)

	ctx := context.Background()
	programs, err := store.LoadCandidatePrograms(ctx, matching.FilterHints{})
	require.NoError(t, err)
	require.Len(t, programs, 1)
	assert.Equal(t, "eth-cs", programs[0].ID)

	records, err := store.LoadTranscript(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	require.Len(t, pub.events, 2)
	assert.Equal(t, shared.EventCatalogUpdated, pub.events[0].EventType())
	assert.Equal(t, shared.EventProfileUpdated, pub.events[1].EventType())
	assert.Equal(t, "s1", pub.events[1].AggregateID())
}
