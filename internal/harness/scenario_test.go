package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// =============================================================================
// LoadScenario
// =============================================================================

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: test_scenario
description: "Test scenario for validation"
steps:
  - find: Book
    where: { id: 10 }
    order_by: [-title]
    as: book
  - add: book.tags
    items: ["$fantasy", 3]
assertions:
  - type: trace_contains
    op: find
    target: Book
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "Test scenario for validation", scenario.Description)
	require.Len(t, scenario.Steps, 2)
	assert.Len(t, scenario.Assertions, 1)

	op, target := scenario.Steps[0].Op()
	assert.Equal(t, OpFind, op)
	assert.Equal(t, "Book", target)
	assert.Equal(t, 10, scenario.Steps[0].Where["id"])
	assert.Equal(t, []string{"-title"}, scenario.Steps[0].OrderBy)
	assert.Equal(t, []any{"$fantasy", 3}, scenario.Steps[1].Items)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, `
name: typo
step:
  - find: Book
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_ResolvesSchemaRelativeToFile(t *testing.T) {
	path := writeScenario(t, `
name: custom
schema: ../schema
ddl: "CREATE TABLE x (id INTEGER PRIMARY KEY);"
steps:
  - find: X
`)
	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "../schema"), scenario.Schema)
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "missing name",
			content: "steps:\n  - find: Book\n",
			want:    "name is required",
		},
		{
			name:    "no steps",
			content: "name: empty\n",
			want:    "at least one step",
		},
		{
			name:    "custom schema without ddl",
			content: "name: s\nschema: ./schema\nsteps:\n  - find: Book\n",
			want:    "ddl is required",
		},
		{
			name:    "no operation",
			content: "name: s\nsteps:\n  - as: book\n",
			want:    "exactly one of",
		},
		{
			name:    "two operations",
			content: "name: s\nsteps:\n  - find: Book\n    init: book.tags\n",
			want:    "exactly one of",
		},
		{
			name:    "add without items",
			content: "name: s\nsteps:\n  - add: book.tags\n",
			want:    "items are required for add",
		},
		{
			name:    "as on init",
			content: "name: s\nsteps:\n  - init: book.tags\n    as: tags\n",
			want:    "as is only valid for find",
		},
		{
			name:    "negative limit",
			content: "name: s\nsteps:\n  - find: Book\n    limit: -1\n",
			want:    "limit must be non-negative",
		},
		{
			name:    "unknown assertion",
			content: "name: s\nsteps:\n  - find: Book\nassertions:\n  - type: eventually\n",
			want:    `unknown assertion type "eventually"`,
		},
		{
			name:    "trace_contains without target",
			content: "name: s\nsteps:\n  - find: Book\nassertions:\n  - type: trace_contains\n    op: find\n",
			want:    "op and target are required",
		},
		{
			name:    "trace_order without events",
			content: "name: s\nsteps:\n  - find: Book\nassertions:\n  - type: trace_order\n",
			want:    "events list is required",
		},
		{
			name:    "entity_state without expect",
			content: "name: s\nsteps:\n  - find: Book\nassertions:\n  - type: entity_state\n    path: book\n",
			want:    "expect is required for entity_state",
		},
		{
			name:    "final_state without table",
			content: "name: s\nsteps:\n  - find: Book\nassertions:\n  - type: final_state\n    expect: { id: 1 }\n",
			want:    "table is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_Fixtures(t *testing.T) {
	files, err := FindScenarios("testdata/scenarios", "")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		_, err := LoadScenario(f)
		assert.NoError(t, err, f)
	}
}

// =============================================================================
// FindScenarios
// =============================================================================

func TestFindScenarios(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0755))
	for _, name := range []string{"b.yaml", "a.yml", "nested/c.yaml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("name: x"), 0644))
	}

	files, err := FindScenarios(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.yml"),
		filepath.Join(dir, "b.yaml"),
		filepath.Join(dir, "nested", "c.yaml"),
	}, files)

	files, err = FindScenarios(dir, "[ab]")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	_, err = FindScenarios(dir, "[")
	assert.ErrorContains(t, err, "invalid filter pattern")
}
