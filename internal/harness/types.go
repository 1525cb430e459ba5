package harness

import "fmt"

// Step operations.
const (
	OpFind   = "find"
	OpInit   = "init"
	OpLoad   = "load"
	OpAdd    = "add"
	OpRemove = "remove"
	OpSet    = "set"
	OpExport = "export"
)

// TraceEvent records one executed step. Result holds what the step
// observed (keys, identifiers or an exported document); Error holds the
// entity error code when the step failed.
type TraceEvent struct {
	Seq    int64  `json:"seq"`
	Op     string `json:"op"`
	Target string `json:"target"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Label is the "op target" form used by trace_order assertions and failure
// output.
func (e TraceEvent) Label() string {
	return e.Op + " " + e.Target
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect_error and assertion matched.
	Pass bool `json:"pass"`

	// Trace contains the executed steps in order. It is what golden files
	// compare.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

// AddTrace appends an executed step.
func (r *Result) AddTrace(event TraceEvent) {
	r.Trace = append(r.Trace, event)
}
