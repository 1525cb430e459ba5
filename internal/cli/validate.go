package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/ormcore/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Entities int                        `json:"entities"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <schema-dir>",
		Short: "Validate entity descriptors",
		Long: `Validate the CUE entity descriptors in a directory.

Compiles every entity declaration, then checks the model as a whole:
primary keys, relation targets, inverse sides, inheritance, discriminators
and embeddables. All errors are reported, not just the first. Cycles of
required relations are reported as warnings.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, schemaDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	schema, loadErrors := compiler.LoadSchema(schemaDir, compiler.LoadModeCollectAll)

	// Directory not found, no files, CUE that does not build
	if schema == nil {
		var loadErr *compiler.LoadError
		if len(loadErrors) > 0 && errors.As(loadErrors[0], &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputValidateError(formatter, compiler.ErrCodeGeneric, fmt.Sprintf("cannot load %s", schemaDir), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", schema.FileCount, schemaDir)
	for _, m := range schema.Entities {
		formatter.VerboseLog("Validating entity: %s", m.Name)
	}

	// Declarations that did not compile come first, then model errors
	var validationErrors []compiler.ValidationError
	for _, err := range loadErrors {
		validationErrors = append(validationErrors, loadValidationError(err))
	}
	validationErrors = append(validationErrors, schema.Validate()...)

	if len(validationErrors) == 0 && len(schema.Entities) == 0 {
		validationErrors = append(validationErrors, compiler.ValidationError{
			Field:   "schema",
			Message: "no entities found in schema",
			Code:    compiler.ErrCodeGeneric,
		})
	}

	if len(validationErrors) > 0 {
		return outputValidationErrors(formatter, validationErrors)
	}

	warnings := compiler.AnalyzeCycles(schema.Entities)
	for _, w := range warnings {
		formatter.VerboseLog("%s: %s", w.Level, w.Message)
	}

	return outputValidateSuccess(formatter, ValidationResult{
		Valid:    true,
		Entities: len(schema.Entities),
		Warnings: warnings,
	})
}

// loadValidationError converts a compile error into a validation error with
// its source line.
func loadValidationError(err error) compiler.ValidationError {
	var loadErr *compiler.LoadError
	if !errors.As(err, &loadErr) {
		return compiler.ValidationError{Field: "load", Message: err.Error(), Code: compiler.ErrCodeGeneric}
	}
	return compiler.ValidationError{
		Field:   "load",
		Message: loadErr.Message,
		Code:    loadErr.Code,
		Line:    getLineFromCuePos(loadErr.Pos),
	}
}

// getLineFromCuePos extracts line number from a token.Pos.
func getLineFromCuePos(pos interface {
	IsValid() bool
	Line() int
}) int {
	if pos.IsValid() {
		return pos.Line()
	}
	return 0
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Schema valid (%d entities)\n", result.Entities)
	for _, w := range result.Warnings {
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", w.Level, w.Message)
	}
	return nil
}

// outputValidateError outputs a single validation error.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	// Load errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data: ValidationResult{
				Valid:  false,
				Errors: errs,
			},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}
		if err := writeJSON(formatter.Writer, response); err != nil {
			return err
		}

		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
