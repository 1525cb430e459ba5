package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Op: OpFind, Target: "Book", Result: []any{int64(10)}},
		{Seq: 2, Op: OpRemove, Target: "book.tags", Error: "UNINITIALIZED_COLLECTION"},
		{Seq: 3, Op: OpInit, Target: "book.tags", Result: []any{int64(1), int64(3)}},
		{Seq: 4, Op: OpRemove, Target: "book.tags", Result: []any{int64(3)}},
	}
}

// =============================================================================
// Trace assertions
// =============================================================================

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceContains(trace, Assertion{Op: OpInit, Target: "book.tags"}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Op: OpRemove, Target: "book.tags", Error: "UNINITIALIZED_COLLECTION"}))

	err := assertTraceContains(trace, Assertion{Op: OpInit, Target: "book.tags", Error: "LAZY_LOAD_FAILED"})
	var aerr *AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, AssertTraceContains, aerr.Type)
	assert.Equal(t, "init book.tags failing with LAZY_LOAD_FAILED", aerr.Expected)
	assert.Contains(t, err.Error(), "[2] remove book.tags !UNINITIALIZED_COLLECTION")
	assert.Contains(t, err.Error(), "[3] init book.tags [1 3]")
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceOrder(trace, Assertion{Events: []string{"find Book", "init book.tags"}}))
	// first occurrence counts
	assert.NoError(t, assertTraceOrder(trace, Assertion{Events: []string{"remove book.tags", "init book.tags"}}))

	err := assertTraceOrder(trace, Assertion{Events: []string{"init book.tags", "find Book"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init book.tags (pos 3) should be before find Book (pos 1)")

	err = assertTraceOrder(trace, Assertion{Events: []string{"find Book", "export book"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing step: export book")
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Op: OpRemove, Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Op: OpFind, Target: "Book", Count: 1}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Op: OpExport, Count: 0}))

	err := assertTraceCount(trace, Assertion{Op: OpInit, Target: "book.tags", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 occurrences of init book.tags")
	assert.Contains(t, err.Error(), "Actual: 1 occurrences")
}

// =============================================================================
// State assertions
// =============================================================================

func TestEntityStateAssertions(t *testing.T) {
	steps := []Step{
		{Find: "Book", Where: map[string]any{"id": 10}, As: "book"},
		{Init: "book.tags"},
	}
	tests := []struct {
		name   string
		expect Assertion
		want   string
	}{
		{"scalars", Assertion{Path: "book", Expect: map[string]any{"title": "The Dispossessed", "price": 9.5}}, ""},
		{"to-one by key", Assertion{Path: "book", Expect: map[string]any{"author": 1, "publisher": 1}}, ""},
		{"to-many by identifiers", Assertion{Path: "book", Expect: map[string]any{"tags": []any{1, 3}}}, ""},
		{"uninitialized collection", Assertion{Path: "book", Expect: map[string]any{"chapters": "UNINITIALIZED_COLLECTION"}}, ""},
		{"wrong value", Assertion{Path: "book", Expect: map[string]any{"title": "Dune"}}, "book.title = Dune"},
		{"unknown property", Assertion{Path: "book", Expect: map[string]any{"isbn": "x"}}, `property "isbn" to exist`},
		{"unknown path", Assertion{Path: "novel", Expect: map[string]any{"title": "x"}}, `unknown binding "novel"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.expect
			a.Type = AssertEntityState
			result := run(t, &Scenario{Name: "entity_state", Steps: steps, Assertions: []Assertion{a}})
			if tt.want == "" {
				assert.True(t, result.Pass, result.Errors)
				return
			}
			require.Len(t, result.Errors, 1)
			assert.Contains(t, result.Errors[0], "assertion 0 (entity_state) failed")
			assert.Contains(t, result.Errors[0], tt.want)
		})
	}
}

func TestFinalStateAssertions(t *testing.T) {
	tests := []struct {
		name   string
		expect Assertion
		want   string
	}{
		{"matching row", Assertion{Table: "books", Where: map[string]any{"id": 11}, Expect: map[string]any{"title": "A Wizard of Earthsea", "price": 7.25, "publisher_id": nil}}, ""},
		{"null filter", Assertion{Table: "books", Where: map[string]any{"publisher_id": nil}, Expect: map[string]any{"id": 11}}, ""},
		{"json text", Assertion{Table: "books", Where: map[string]any{"id": 10}, Expect: map[string]any{"meta": `{"pages":387}`}}, ""},
		{"bool as integer", Assertion{Table: "authors", Where: map[string]any{"id": 1}, Expect: map[string]any{"terms_accepted": true}}, ""},
		{"wrong value", Assertion{Table: "books", Where: map[string]any{"id": 10}, Expect: map[string]any{"title": "Dune"}}, `field "title" = Dune`},
		{"missing row", Assertion{Table: "books", Where: map[string]any{"id": 99}, Expect: map[string]any{"title": "x"}}, "row not found"},
		{"ambiguous", Assertion{Table: "books", Where: map[string]any{"author_id": 1}, Expect: map[string]any{"title": "x"}}, "multiple rows matched"},
		{"unknown column", Assertion{Table: "books", Where: map[string]any{"id": 10}, Expect: map[string]any{"isbn": "x"}}, `field "isbn" to exist`},
		{"injected table", Assertion{Table: "books; DROP TABLE books", Expect: map[string]any{"id": 1}}, "invalid table name"},
		{"injected column", Assertion{Table: "books", Where: map[string]any{"id = 1 OR 1": 1}, Expect: map[string]any{"id": 1}}, "invalid column name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.expect
			a.Type = AssertFinalState
			result := run(t, &Scenario{
				Name:       "final_state",
				Steps:      []Step{{Find: "Book"}},
				Assertions: []Assertion{a},
			})
			if tt.want == "" {
				assert.True(t, result.Pass, result.Errors)
				return
			}
			require.Len(t, result.Errors, 1)
			assert.Contains(t, result.Errors[0], tt.want)
		})
	}
}

func TestBuildWhereClause(t *testing.T) {
	sql, args, err := buildWhereClause(map[string]any{"title": "Dune", "id": 12, "publisher_id": nil})
	require.NoError(t, err)
	assert.Equal(t, "id = ? AND publisher_id IS NULL AND title = ?", sql)
	assert.Equal(t, []any{12, "Dune"}, args)

	sql, args, err = buildWhereClause(nil)
	require.NoError(t, err)
	assert.Empty(t, sql)
	assert.Nil(t, args)
}

func TestStateValuesEqual(t *testing.T) {
	assert.True(t, stateValuesEqual(1, int64(1)))
	assert.True(t, stateValuesEqual("Ace", []byte("Ace")))
	assert.True(t, stateValuesEqual(false, int64(0)))
	assert.True(t, stateValuesEqual(nil, nil))
	assert.False(t, stateValuesEqual(nil, int64(0)))
	assert.False(t, stateValuesEqual("1", int64(1)))
}

func TestEvaluateAssertionUnknownType(t *testing.T) {
	h := &Harness{}
	err := h.evaluateAssertion(context.Background(), Assertion{Type: "eventually"}, nil)
	assert.ErrorContains(t, err, `unknown assertion type "eventually"`)
}
