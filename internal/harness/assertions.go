package harness

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/roach88/ormcore/internal/entity"
	"github.com/roach88/ormcore/internal/ir"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			if event.Error != "" {
				fmt.Fprintf(&buf, "  [%d] %s !%s\n", event.Seq, event.Label(), event.Error)
			} else {
				fmt.Fprintf(&buf, "  [%d] %s %v\n", event.Seq, event.Label(), event.Result)
			}
		}
	}

	return buf.String()
}

func (h *Harness) evaluateAssertion(ctx context.Context, a Assertion, trace []TraceEvent) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(trace, a)
	case AssertTraceCount:
		return assertTraceCount(trace, a)
	case AssertEntityState:
		return h.assertEntityState(a)
	case AssertFinalState:
		return h.assertFinalState(ctx, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// assertTraceContains checks that a step with the given op and target ran,
// failing with the given error code when Error is set.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if event.Op == a.Op && event.Target == a.Target && (a.Error == "" || event.Error == a.Error) {
			return nil
		}
	}

	expected := a.Op + " " + a.Target
	if a.Error != "" {
		expected += " failing with " + a.Error
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the labels appear in the specified order.
// Labels don't need to be consecutive (intervening steps are allowed).
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	// First position of each label, 1-indexed for readability
	positions := make(map[string]int)
	for i, event := range trace {
		label := event.Label()
		if slices.Contains(a.Events, label) && positions[label] == 0 {
			positions[label] = i + 1
		}
	}

	for _, label := range a.Events {
		if positions[label] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all steps present: %v", a.Events),
				Actual:   fmt.Sprintf("missing step: %s", label),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Events); i++ {
		prev, curr := a.Events[i-1], a.Events[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("steps in order: %v", a.Events),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that the op (on Target, when set) ran exactly
// Count times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Op == a.Op && (a.Target == "" || event.Target == a.Target) {
			count++
		}
	}

	if count != a.Count {
		what := a.Op
		if a.Target != "" {
			what += " " + a.Target
		}
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, what),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertEntityState checks in-memory values of a bound entity (subset
// match). Relations compare by key: a to-one by its target key, a to-many
// by its identifiers.
func (h *Harness) assertEntityState(a Assertion) error {
	e, err := h.resolveEntity(a.Path)
	if err != nil {
		return err
	}

	for _, key := range sortedKeys(a.Expect) {
		p := e.Meta().Property(key)
		if p == nil {
			return &AssertionError{
				Type:     AssertEntityState,
				Expected: fmt.Sprintf("property %q to exist", key),
				Actual:   fmt.Sprintf("%s has no property %q", e.TypeName(), key),
			}
		}
		actual, err := renderValue(e, p)
		if err != nil {
			if code := entity.CodeOf(err); code != "" {
				actual = string(code)
			} else {
				return err
			}
		}
		if !ir.Equal(a.Expect[key], actual) {
			return &AssertionError{
				Type:     AssertEntityState,
				Expected: fmt.Sprintf("%s.%s = %v", a.Path, key, a.Expect[key]),
				Actual:   fmt.Sprintf("%s.%s = %v", a.Path, key, actual),
			}
		}
	}
	return nil
}

// assertFinalState checks that a table row contains expected values.
// Queries with parameterized SQL and validates expected values using subset
// semantics.
//
// Security: Table and column names are validated against a whitelist pattern
// to prevent SQL injection via identifier interpolation.
func (h *Harness) assertFinalState(ctx context.Context, a Assertion) error {
	// Identifiers can't be parameterized
	if !validIdentifier.MatchString(a.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", a.Table, validIdentifier.String())
	}

	whereSQL, whereArgs, err := buildWhereClause(a.Where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", a.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := h.store.DB().QueryContext(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", a.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", a.Table, formatWhereClause(a.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	// Multiple matching rows would make the assertion ambiguous
	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", a.Table, formatWhereClause(a.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]any, len(columns))
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	for _, key := range sortedKeys(a.Expect) {
		expected := a.Expect[key]
		actual, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}
		if !stateValuesEqual(expected, actual) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expected, expected),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actual, actual),
			}
		}
	}
	return nil
}

// buildWhereClause constructs a parameterized WHERE clause. Keys are sorted
// for determinism; nil values become IS NULL.
//
// Security: Column names are validated against a whitelist pattern to prevent
// SQL injection via identifier interpolation.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	clauses := make([]string, 0, len(where))
	args := make([]any, 0, len(where))
	for _, key := range sortedKeys(where) {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		if where[key] == nil {
			clauses = append(clauses, key+" IS NULL")
			continue
		}
		clauses = append(clauses, key+" = ?")
		args = append(args, toSQLValue(where[key]))
	}
	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML scalar to a driver value.
func toSQLValue(v any) any {
	switch val := v.(type) {
	case string, int, int64, float64, bool:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	parts := make([]string, 0, len(where))
	for _, k := range sortedKeys(where) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares an expected YAML value with a column value.
// SQLite returns integers as int64, text as string or []byte, and booleans
// as 0/1.
func stateValuesEqual(expected, actual any) bool {
	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}
	if exp, ok := expected.(bool); ok {
		if n, ok := actual.(int64); ok {
			return exp == (n != 0)
		}
	}
	return ir.Equal(expected, actual)
}

func sortedKeys(m map[string]any) []string {
	return ir.Data(m).SortedKeys()
}
