package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func run(t *testing.T, s *Scenario) *Result {
	t.Helper()
	result, err := Run(context.Background(), s, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return result
}

// =============================================================================
// Steps
// =============================================================================

func TestRun_FindBindsResults(t *testing.T) {
	result := run(t, &Scenario{
		Name: "find",
		Steps: []Step{
			{Find: "Book", OrderBy: []string{"-title"}, As: "books"},
			{Find: "Book", Where: map[string]any{"publisher": nil}, As: "orphans"},
			{Find: "Book", Where: map[string]any{"id": []any{10, 12}}, Limit: 1},
			{Export: "orphans", Exclude: []string{"meta", "price", "titleLength"}},
		},
	})

	require.True(t, result.Pass, result.Errors)
	require.Len(t, result.Trace, 4)
	assert.Equal(t, []any{int64(10), int64(12), int64(11)}, result.Trace[0].Result)
	assert.Equal(t, []any{int64(11)}, result.Trace[1].Result)
	assert.Equal(t, []any{int64(10)}, result.Trace[2].Result)
	assert.Equal(t, []any{map[string]any{
		"id":        int64(11),
		"title":     "A Wizard of Earthsea",
		"author":    int64(1),
		"publisher": nil,
	}}, result.Trace[3].Result)
}

func TestRun_LoadCountsCollections(t *testing.T) {
	result := run(t, &Scenario{
		Name: "count",
		Steps: []Step{
			{Find: "Author", Where: map[string]any{"id": 1}, As: "ursula"},
			{Load: "ursula.books"},
			{Init: "ursula.books", Where: map[string]any{"title": "Dune"}},
		},
	})

	require.True(t, result.Pass, result.Errors)
	assert.Equal(t, 2, result.Trace[1].Result)
	assert.Equal(t, []any{}, result.Trace[2].Result)
}

func TestRun_SetScalar(t *testing.T) {
	result := run(t, &Scenario{
		Name: "set",
		Steps: []Step{
			{Find: "Tag", Where: map[string]any{"id": 1}, As: "sf"},
			{Set: "sf.name", Value: "science fiction"},
		},
		Assertions: []Assertion{
			{Type: AssertEntityState, Path: "sf", Expect: map[string]any{"name": "science fiction"}},
			{Type: AssertFinalState, Table: "tags", Where: map[string]any{"id": 1}, Expect: map[string]any{"name": "sf"}},
		},
	})

	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, "science fiction", result.Trace[1].Result)
}

func TestRun_ExpectedErrorMismatch(t *testing.T) {
	result := run(t, &Scenario{
		Name: "mismatch",
		Steps: []Step{
			{Find: "Book", Where: map[string]any{"id": 10}, As: "book"},
			{Remove: "book.tags", Items: []any{1}},
			{Find: "Tag", ExpectError: "INVALID_INPUT"},
		},
	})

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "unexpected error")
	assert.Contains(t, result.Errors[0], "UNINITIALIZED_COLLECTION")
	assert.Contains(t, result.Errors[1], "expected error INVALID_INPUT, got none")
	assert.Equal(t, "UNINITIALIZED_COLLECTION", result.Trace[1].Error)
	assert.Nil(t, result.Trace[1].Result)
}

func TestRun_PathErrorsAbort(t *testing.T) {
	tests := []struct {
		name string
		step Step
		want string
	}{
		{"unknown binding", Step{Init: "nobody.books"}, `unknown binding "nobody"`},
		{"index out of range", Step{Init: "ursula[3].books"}, "out of range"},
		{"malformed index", Step{Init: "ursula[x].books"}, "malformed index"},
		{"unknown property", Step{Init: "ursula.novels"}, `no property "novels"`},
		{"scalar in the middle", Step{Init: "ursula.name.books"}, "is not a to-one relation"},
		{"init on a to-one", Step{Init: "ursula.bestFriend"}, "is not a to-many relation"},
		{"bare binding", Step{Load: "ursula"}, "does not name a property"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(context.Background(), &Scenario{
				Name: "paths",
				Steps: []Step{
					{Find: "Author", Where: map[string]any{"id": 1}, As: "ursula"},
					tt.step,
				},
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "steps[1]")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRun_CustomDatabase(t *testing.T) {
	result := run(t, &Scenario{
		Name: "custom",
		DDL:  "CREATE TABLE tags (id INTEGER PRIMARY KEY, name TEXT NOT NULL);",
		Seed: "INSERT INTO tags (id, name) VALUES (7, 'poetry');",
		Steps: []Step{
			{Find: "Tag", As: "tags"},
		},
	})

	require.True(t, result.Pass, result.Errors)
	assert.Equal(t, []any{int64(7)}, result.Trace[0].Result)
}

func TestRun_SchemaErrors(t *testing.T) {
	_, err := Run(context.Background(), &Scenario{
		Name:   "schema",
		Schema: t.TempDir(),
		DDL:    "SELECT 1;",
		Steps:  []Step{{Find: "Book"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")
}

// =============================================================================
// Path segments
// =============================================================================

func TestParseSegment(t *testing.T) {
	name, index, err := parseSegment("book")
	require.NoError(t, err)
	assert.Equal(t, "book", name)
	assert.Equal(t, -1, index)

	name, index, err = parseSegment("book[2]")
	require.NoError(t, err)
	assert.Equal(t, "book", name)
	assert.Equal(t, 2, index)

	for _, bad := range []string{"book[2", "book[-1]", "book[]"} {
		_, _, err = parseSegment(bad)
		assert.Error(t, err, bad)
	}
}

// =============================================================================
// Fixtures
// =============================================================================

func TestRun_Scenarios(t *testing.T) {
	files, err := FindScenarios("testdata/scenarios", "")
	require.NoError(t, err)

	for _, f := range files {
		scenario, err := LoadScenario(f)
		require.NoError(t, err, f)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario, WithLogger(zaptest.NewLogger(t)))
			require.NoError(t, err)
			assert.True(t, result.Pass, "%v", result.Errors)
		})
	}
}
