package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario defines a runtime scenario: a database, a sequence of session
// operations and assertions on what they observed.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden files are named after
	// it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is a directory of CUE entity descriptors, relative to the
	// scenario file. Empty uses the built-in bookstore model.
	Schema string `yaml:"schema,omitempty"`

	// DDL creates the tables. Empty uses the bookstore tables.
	DDL string `yaml:"ddl,omitempty"`

	// Seed inserts the rows. When both DDL and Seed are empty the bookstore
	// rows are inserted.
	Seed string `yaml:"seed,omitempty"`

	// Steps run in order against one session.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace, the entities and the tables.
	// Supported types: trace_contains, trace_order, trace_count,
	// entity_state, final_state
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one session operation. Exactly one of the operation fields is
// set; it names the entity type (find) or the path the operation applies
// to.
//
// Paths start at a binding made by find: "book" (every result, for export),
// "book[1]" (one result) or "book.author.books" (relations of the first
// result, or of the indexed one).
type Step struct {
	Find   string `yaml:"find,omitempty"`
	Init   string `yaml:"init,omitempty"`
	Load   string `yaml:"load,omitempty"`
	Add    string `yaml:"add,omitempty"`
	Remove string `yaml:"remove,omitempty"`
	Set    string `yaml:"set,omitempty"`
	Export string `yaml:"export,omitempty"`

	// As binds the results of find.
	As string `yaml:"as,omitempty"`

	// Where, OrderBy and Limit shape find and init. OrderBy entries are
	// property names, "-name" for descending.
	Where   map[string]any `yaml:"where,omitempty"`
	OrderBy []string       `yaml:"order_by,omitempty"`
	Limit   int            `yaml:"limit,omitempty"`

	// Populate lists relation paths loaded by find and expanded by export.
	Populate []string `yaml:"populate,omitempty"`
	// All expands every initialized relation on export.
	All bool `yaml:"all,omitempty"`
	// Exclude drops properties from an export.
	Exclude []string `yaml:"exclude,omitempty"`

	// Items are the add/remove arguments and Value the set argument.
	// Strings starting with "$" are paths to bound entities; anything else
	// is passed as is (bare keys, scalars, data maps).
	Items []any `yaml:"items,omitempty"`
	Value any   `yaml:"value,omitempty"`

	// ExpectError is the entity error code the step must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Op returns the operation and its target. Both are empty when no
// operation field is set.
func (s Step) Op() (op, target string) {
	for _, f := range s.fields() {
		if f.target != "" {
			return f.op, f.target
		}
	}
	return "", ""
}

type stepField struct {
	op, target string
}

func (s Step) fields() []stepField {
	return []stepField{
		{OpFind, s.Find},
		{OpInit, s.Init},
		{OpLoad, s.Load},
		{OpAdd, s.Add},
		{OpRemove, s.Remove},
		{OpSet, s.Set},
		{OpExport, s.Export},
	}
}

// Assertion validates trace, entity or table state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an event with Op and Target (and Error) exists
	// - "trace_order": the "op target" labels in Events appear in order
	// - "trace_count": Op (optionally with Target) appears exactly Count times
	// - "entity_state": the entity at Path has the Expect values
	// - "final_state": the row of Table matching Where has the Expect values
	Type string `yaml:"type"`

	Op     string `yaml:"op,omitempty"`
	Target string `yaml:"target,omitempty"`
	Error  string `yaml:"error,omitempty"`

	// Events is the expected label order (used by trace_order).
	Events []string `yaml:"events,omitempty"`

	// Count is the expected number of occurrences (used by trace_count).
	Count int `yaml:"count,omitempty"`

	// Path is a binding path (used by entity_state).
	Path string `yaml:"path,omitempty"`

	// Table and Where select a row (used by final_state).
	Table string         `yaml:"table,omitempty"`
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected values, subset match (entity_state,
	// final_state). Relations compare by key.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertEntityState   = "entity_state"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file. A relative Schema is
// resolved against the file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the schema path relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "step:" vs "steps:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) && basePath != "" {
		scenario.Schema = filepath.Join(basePath, scenario.Schema)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios returns the .yaml and .yml files under dir, sorted. A
// non-empty filter is a glob matched against the base name without
// extension.
func FindScenarios(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	slices.Sort(files)
	return files, err
}

// validateScenario checks required fields and step/assertion shapes.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps must have at least one step")
	}
	if s.Schema != "" && s.DDL == "" {
		return fmt.Errorf("ddl is required with a custom schema")
	}
	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step Step) error {
	set := 0
	for _, f := range step.fields() {
		if f.target != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of find, init, load, add, remove, set or export is required", index)
	}

	op, _ := step.Op()
	switch op {
	case OpAdd, OpRemove:
		if len(step.Items) == 0 {
			return fmt.Errorf("steps[%d]: items are required for %s", index, op)
		}
	case OpFind:
	default:
		if step.As != "" {
			return fmt.Errorf("steps[%d]: as is only valid for find", index)
		}
	}
	if step.Limit < 0 {
		return fmt.Errorf("steps[%d]: limit must be non-negative", index)
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		if a.Op == "" || a.Target == "" {
			return fmt.Errorf("assertions[%d]: op and target are required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertEntityState:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for entity_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for entity_state", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
