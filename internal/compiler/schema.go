package compiler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/ormcore/internal/meta"
)

// LoadMode controls how errors are handled during schema loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Load error codes (E001-E099)
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeCompile     = "E007" // Entity declaration does not compile
)

// Schema is a compiled set of entity descriptors.
type Schema struct {
	Entities  []*meta.EntityMeta
	Value     cue.Value // The raw CUE value for additional processing
	FileCount int       // Number of CUE files found

	positions map[string]token.Pos
}

// LoadError represents an error that occurred during schema loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadSchema loads and compiles the CUE package in dir.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
//
// Entities are declared under the top-level "entity" struct:
//
//	entity: Tag: {
//		table: "tags"
//		properties: {
//			id:    {type: "int", primary: true}
//			books: {kind: "m:n", target: "Book", mapped_by: "tags"}
//		}
//	}
func LoadSchema(dir string, mode LoadMode) (*Schema, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schema directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing schema directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	s, errs := CompileSchema(value, mode)
	if s != nil {
		s.FileCount = len(cueFiles)
	}
	return s, errs
}

// descriptorSchema closes the descriptor shape: unknown options and kinds
// fail in CUE with their source position.
const descriptorSchema = `
#Property: {
	kind?:           "scalar" | "embedded" | "m:1" | "1:1" | "1:m" | "m:n"
	type?:           string
	target?:         string
	inversed_by?:    string
	mapped_by?:      string
	custom_type?:    string
	nullable?:       bool
	primary?:        bool
	unique?:         bool
	cascade?:        [...("persist" | "merge" | "remove" | "all")]
	orphan_removal?: bool
	formula?:        string
	field_names?:    [...string]
	embeddable?:     string
	object?:         bool
	prefix?:         string
	where?: {...}
	hidden?:    bool
	generated?: "uuid"
	pivot?: {
		table?:                string
		join_columns?:         [...string]
		inverse_join_columns?: [...string]
	}
	order_by?: [...{property: string, desc?: bool}]
}

#Entity: {
	name?:              string
	table?:             string
	primary_keys?:      [...string]
	unique_keys?:       [...[...string]]
	extends?:           string
	abstract?:          bool
	embeddable?:        bool
	force_constructor?: bool
	discriminator?: {
		column: string
		map: [string]: string
	}
	constructor?: {
		params: [...string]
		defaults?: {...}
	}
	properties?: [string]: #Property
}

entity: [string]: #Entity
`

// CompileSchema compiles every entity under the "entity" field of v.
func CompileSchema(v cue.Value, mode LoadMode) (*Schema, []error) {
	var errs []error
	v = v.Unify(v.Context().CompileString(descriptorSchema))
	s := &Schema{Value: v, positions: make(map[string]token.Pos)}

	entitiesVal := v.LookupPath(cue.ParsePath("entity"))
	if !entitiesVal.Exists() {
		return s, []error{&LoadError{Code: ErrCodeGeneric, Message: "no entities found in schema"}}
	}
	iter, err := entitiesVal.Fields()
	if err != nil {
		return s, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating entities: %v", err)}}
	}
	for iter.Next() {
		m, err := CompileEntity(iter.Value())
		if err != nil {
			errs = append(errs, convertCompileError(err, "entity."+iter.Label()))
			if mode == LoadModeFailFast {
				return s, errs
			}
			continue
		}
		s.Entities = append(s.Entities, m)
		s.positions[m.Name] = iter.Value().Pos()
	}

	if len(s.Entities) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no entities found in schema"})
	}
	return s, errs
}

// Validate runs Validate over the schema's entities and fills in source
// lines.
func (s *Schema) Validate() []ValidationError {
	errs := Validate(s.Entities)
	for i := range errs {
		if pos, ok := s.positions[entityOf(errs[i].Field)]; ok && pos.IsValid() {
			errs[i].Line = pos.Line()
		}
	}
	return errs
}

// Registry validates the schema and returns the finalized registry.
// Validation failures are returned as ValidationErrors.
func (s *Schema) Registry(opts ...meta.RegistryOption) (*meta.Registry, error) {
	if errs := s.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	r := meta.NewRegistry(opts...)
	if err := r.Add(s.Entities...); err != nil {
		return nil, err
	}
	if err := r.Finalize(); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadRegistry loads dir fail-fast and returns the finalized registry.
func LoadRegistry(dir string, opts ...meta.RegistryOption) (*meta.Registry, error) {
	s, errs := LoadSchema(dir, LoadModeFailFast)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return s.Registry(opts...)
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeCompile,
			Message: fmt.Sprintf("%s: %s: %s", context, compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

func entityOf(field string) string {
	name, _, _ := strings.Cut(field, ".")
	return name
}
