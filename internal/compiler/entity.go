package compiler

import (
	"fmt"
	"maps"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/ormcore/internal/meta"
	"github.com/roach88/ormcore/internal/types"
)

// CompileEntity parses a CUE value into an unfinalized EntityMeta.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the entity struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`entity: Tag: { properties: { id: { type: "int", primary: true } } }`)
//	m, err := CompileEntity(v.LookupPath(cue.ParsePath("entity.Tag")))
//
// Properties keep their declaration order. Structural checks that need the
// whole model (targets, inverse pairs) are left to Validate.
func CompileEntity(v cue.Value) (*meta.EntityMeta, error) {
	if err := v.Validate(); err != nil {
		return nil, formatCUEError(err, v)
	}

	var decl entityDecl
	if err := v.Decode(&decl); err != nil {
		return nil, formatCUEError(err, v)
	}

	m := &meta.EntityMeta{
		Table:               decl.Table,
		PrimaryKeys:         decl.PrimaryKeys,
		UniqueKeys:          decl.UniqueKeys,
		Extends:             decl.Extends,
		Abstract:            decl.Abstract,
		Embeddable:          decl.Embeddable,
		ForceConstructor:    decl.ForceConstructor,
		DiscriminatorColumn: decl.Discriminator.Column,
		DiscriminatorMap:    decl.Discriminator.Map,
	}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		m.Name = labels[len(labels)-1].String()
	}
	if decl.Name != "" {
		m.Name = decl.Name
	}
	if m.Name == "" {
		return nil, &CompileError{Field: "name", Message: "entity name is required", Pos: v.Pos()}
	}

	if decl.Constructor != nil {
		m.ConstructorParams = decl.Constructor.Params
		m.Constructor = constructor(decl.Constructor.Defaults)
	}

	propsVal := v.LookupPath(cue.ParsePath("properties"))
	if !propsVal.Exists() {
		if m.Extends != "" {
			return m, nil
		}
		return nil, &CompileError{
			Field:   "properties",
			Message: "at least one property is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := propsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err, v)
	}
	for iter.Next() {
		p, err := compileProperty(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		m.Properties = append(m.Properties, p)
	}

	return m, nil
}

// constructor returns a Constructor that starts from defaults and applies
// the resolved params on top.
func constructor(defaults map[string]any) func(map[string]any) map[string]any {
	return func(params map[string]any) map[string]any {
		out := maps.Clone(defaults)
		if out == nil {
			out = make(map[string]any, len(params))
		}
		maps.Copy(out, params)
		return out
	}
}

func compileProperty(name string, v cue.Value) (*meta.Property, error) {
	var decl propertyDecl
	if err := v.Decode(&decl); err != nil {
		return nil, formatCUEError(err, v)
	}

	kind, err := meta.ParseKind(decl.Kind)
	if err != nil {
		return nil, &CompileError{Field: "properties." + name + ".kind", Message: err.Error(), Pos: v.Pos()}
	}
	cascade, err := meta.ParseCascade(decl.Cascade)
	if err != nil {
		return nil, &CompileError{Field: "properties." + name + ".cascade", Message: err.Error(), Pos: v.Pos()}
	}

	p := &meta.Property{
		Name:          name,
		Kind:          kind,
		Type:          decl.Type,
		Target:        decl.Target,
		InversedBy:    decl.InversedBy,
		MappedBy:      decl.MappedBy,
		Nullable:      decl.Nullable,
		Primary:       decl.Primary,
		Unique:        decl.Unique,
		Cascade:       cascade,
		OrphanRemoval: decl.OrphanRemoval,
		Formula:       decl.Formula,
		FieldNames:    decl.FieldNames,
		Embeddable:    decl.Embeddable,
		Object:        decl.Object,
		Prefix:        decl.Prefix,
		Where:         decl.Where,
		Hidden:        decl.Hidden,
		Generated:     decl.Generated,
	}

	if decl.CustomType != "" {
		ct, ok := types.Lookup(decl.CustomType)
		if !ok {
			return nil, &CompileError{
				Field:   "properties." + name + ".custom_type",
				Message: fmt.Sprintf("unknown custom type %q (known: %v)", decl.CustomType, types.Names()),
				Pos:     v.Pos(),
			}
		}
		p.CustomType = ct
	}
	if kind == meta.KindScalar && p.Type == "" {
		if p.CustomType == nil {
			return nil, &CompileError{Field: "properties." + name + ".type", Message: "scalar type is required", Pos: v.Pos()}
		}
		p.Type = p.CustomType.Name()
	}

	if decl.Pivot != nil {
		p.Pivot = &meta.Pivot{
			Table:              decl.Pivot.Table,
			JoinColumns:        decl.Pivot.JoinColumns,
			InverseJoinColumns: decl.Pivot.InverseJoinColumns,
		}
	}
	for _, o := range decl.OrderBy {
		p.OrderBy = append(p.OrderBy, meta.Order{Property: o.Property, Desc: o.Desc})
	}

	return p, nil
}

// entityDecl mirrors the CUE entity shape.
type entityDecl struct {
	Name             string     `json:"name"`
	Table            string     `json:"table"`
	PrimaryKeys      []string   `json:"primary_keys"`
	UniqueKeys       [][]string `json:"unique_keys"`
	Extends          string     `json:"extends"`
	Abstract         bool       `json:"abstract"`
	Embeddable       bool       `json:"embeddable"`
	ForceConstructor bool       `json:"force_constructor"`
	Discriminator    struct {
		Column string            `json:"column"`
		Map    map[string]string `json:"map"`
	} `json:"discriminator"`
	Constructor *struct {
		Params   []string       `json:"params"`
		Defaults map[string]any `json:"defaults"`
	} `json:"constructor"`
	// properties are compiled one by one to keep their order
	Properties map[string]any `json:"properties"`
}

// propertyDecl mirrors the CUE property shape.
type propertyDecl struct {
	Kind          string         `json:"kind"`
	Type          string         `json:"type"`
	Target        string         `json:"target"`
	InversedBy    string         `json:"inversed_by"`
	MappedBy      string         `json:"mapped_by"`
	CustomType    string         `json:"custom_type"`
	Nullable      bool           `json:"nullable"`
	Primary       bool           `json:"primary"`
	Unique        bool           `json:"unique"`
	Cascade       []string       `json:"cascade"`
	OrphanRemoval bool           `json:"orphan_removal"`
	Formula       string         `json:"formula"`
	FieldNames    []string       `json:"field_names"`
	Embeddable    string         `json:"embeddable"`
	Object        bool           `json:"object"`
	Prefix        string         `json:"prefix"`
	Where         map[string]any `json:"where"`
	Hidden        bool           `json:"hidden"`
	Generated     string         `json:"generated"`
	Pivot         *struct {
		Table              string   `json:"table"`
		JoinColumns        []string `json:"join_columns"`
		InverseJoinColumns []string `json:"inverse_join_columns"`
	} `json:"pivot"`
	OrderBy []struct {
		Property string `json:"property"`
		Desc     bool   `json:"desc"`
	} `json:"order_by"`
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError turns a CUE failure inside entity value v into a
// CompileError. Field is the path below the entity when CUE reports one;
// Pos prefers positions in schema files over the built-in descriptor.
func formatCUEError(err error, v cue.Value) error {
	if err == nil {
		return nil
	}
	ce := &CompileError{Field: "cue", Message: err.Error()}

	errs := errors.Errors(err)
	var candidates []token.Pos
	if len(errs) > 0 {
		first := errs[0]
		ce.Message = first.Error()
		if field := fieldBelow(v, first.Path()); field != "" {
			ce.Field = field
			candidates = append(candidates, v.LookupPath(cue.ParsePath(field)).Pos())
		}
		for _, e := range errs {
			candidates = append(candidates, errors.Positions(e)...)
		}
	}
	candidates = append(candidates, v.Pos())
	ce.Pos = sourcePos(candidates)
	return ce
}

// fieldBelow strips v's own path from an error path.
func fieldBelow(v cue.Value, path []string) string {
	own := v.Path().Selectors()
	if len(path) <= len(own) {
		return ""
	}
	for i, sel := range own {
		if sel.String() != path[i] {
			return ""
		}
	}
	return strings.Join(path[len(own):], ".")
}

// sourcePos returns the first valid position that names a file, or the
// first valid one.
func sourcePos(candidates []token.Pos) token.Pos {
	fallback := token.NoPos
	for _, pos := range candidates {
		if !pos.IsValid() {
			continue
		}
		if pos.Filename() != "" {
			return pos
		}
		if !fallback.IsValid() {
			fallback = pos
		}
	}
	return fallback
}
