package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/ormcore/internal/meta"
)

// Validation error codes (E200-E299)
const (
	ErrDuplicateEntity   = "E201" // entity declared twice
	ErrDuplicateProperty = "E202" // property declared twice or redeclares an inherited one
	ErrMissingPrimaryKey = "E203" // entity without a usable primary key
	ErrUnknownTarget     = "E204" // relation target is not a declared entity
	ErrInverseMismatch   = "E205" // mappedBy/inversedBy do not point at each other
	ErrKindMismatch      = "E206" // the two sides of a relation have incompatible kinds
	ErrBadDiscriminator  = "E207" // discriminator map or column is wrong
	ErrMissingEmbeddable = "E208" // embedded property without an embeddable type
	ErrPivotMisuse       = "E209" // join table declared where none is allowed
	ErrUnknownParent     = "E210" // extends names an unknown entity or forms a cycle
	ErrInvalidRelation   = "E211" // relation options that contradict the kind
	ErrUnknownUniqueKey  = "E212" // unique key names an unknown property
	ErrEmbeddingCycle    = "E213" // embeddables embed each other
)

// ValidationError represents a descriptor validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors is a non-empty validation result used as an error.
type ValidationErrors []ValidationError

func (es ValidationErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "\n")
}

// Validate checks unfinalized descriptors as a whole model.
// Returns all errors found (does not fail-fast), in declaration order.
func Validate(entities []*meta.EntityMeta) []ValidationError {
	v := &validator{byName: make(map[string]*meta.EntityMeta, len(entities))}
	for _, m := range entities {
		if _, dup := v.byName[m.Name]; dup {
			v.add(m.Name, ErrDuplicateEntity, "entity %q is declared more than once", m.Name)
			continue
		}
		v.byName[m.Name] = m
	}

	for _, m := range entities {
		if v.byName[m.Name] != m {
			continue
		}
		v.entity(m)
	}
	for _, w := range embeddingCycles(entities) {
		v.add(w.Path[0], ErrEmbeddingCycle, "%s", w.Message)
	}
	return v.errs
}

type validator struct {
	byName map[string]*meta.EntityMeta
	errs   []ValidationError
}

func (v *validator) add(field, code, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
	})
}

// chain returns m and its ancestors, nearest first. ok is false when the
// chain is broken or cyclic.
func (v *validator) chain(m *meta.EntityMeta) ([]*meta.EntityMeta, bool) {
	out := []*meta.EntityMeta{m}
	seen := map[string]bool{m.Name: true}
	for cur := m; cur.Extends != ""; {
		parent, ok := v.byName[cur.Extends]
		if !ok || seen[parent.Name] {
			return out, false
		}
		seen[parent.Name] = true
		out = append(out, parent)
		cur = parent
	}
	return out, true
}

// property resolves name on m or its ancestors.
func (v *validator) property(m *meta.EntityMeta, name string) *meta.Property {
	chain, _ := v.chain(m)
	for _, c := range chain {
		if p := c.Property(name); p != nil {
			return p
		}
	}
	return nil
}

func (v *validator) entity(m *meta.EntityMeta) {
	chain, ok := v.chain(m)
	if m.Extends != "" && !ok {
		if _, known := v.byName[m.Extends]; known {
			v.add(m.Name, ErrUnknownParent, "inheritance cycle through %q", m.Name)
		} else {
			v.add(m.Name, ErrUnknownParent, "extends unknown entity %q", m.Extends)
		}
	}

	// E202: duplicates, inherited ones included
	seen := make(map[string]bool)
	for _, c := range slices.Backward(chain) {
		for _, p := range c.Properties {
			if seen[p.Name] && c == m {
				v.add(m.Name+"."+p.Name, ErrDuplicateProperty, "property %q is declared more than once", p.Name)
			}
			seen[p.Name] = true
		}
	}

	v.primaryKey(m, chain)
	v.uniqueKeys(m)
	v.discriminator(m, chain)

	for _, p := range m.Properties {
		v.prop(m, p)
	}
}

func (v *validator) primaryKey(m *meta.EntityMeta, chain []*meta.EntityMeta) {
	if m.Embeddable {
		return
	}
	for _, c := range chain {
		if len(c.PrimaryKeys) > 0 {
			for _, name := range c.PrimaryKeys {
				if v.property(m, name) == nil {
					v.add(m.Name, ErrMissingPrimaryKey, "primary key %q is not a property", name)
				}
			}
			return
		}
		if slices.ContainsFunc(c.Properties, func(p *meta.Property) bool { return p.Primary }) {
			return
		}
	}
	v.add(m.Name, ErrMissingPrimaryKey, "entity has no primary key")
}

func (v *validator) uniqueKeys(m *meta.EntityMeta) {
	for _, key := range m.UniqueKeys {
		for _, name := range key {
			if v.property(m, name) == nil {
				v.add(m.Name, ErrUnknownUniqueKey, "unique key property %q is not a property", name)
			}
		}
	}
}

func (v *validator) discriminator(m *meta.EntityMeta, chain []*meta.EntityMeta) {
	if m.DiscriminatorColumn == "" {
		if len(m.DiscriminatorMap) > 0 {
			v.add(m.Name, ErrBadDiscriminator, "discriminator map without a discriminator column")
		}
		return
	}
	if m.Extends != "" {
		v.add(m.Name, ErrBadDiscriminator, "discriminator column must be declared on the inheritance root")
		return
	}
	values := make([]string, 0, len(m.DiscriminatorMap))
	for value := range m.DiscriminatorMap {
		values = append(values, value)
	}
	slices.Sort(values)
	for _, value := range values {
		name := m.DiscriminatorMap[value]
		child, ok := v.byName[name]
		if !ok {
			v.add(m.Name, ErrBadDiscriminator, "discriminator %q maps to unknown entity %q", value, name)
			continue
		}
		childChain, _ := v.chain(child)
		if !slices.Contains(childChain, m) {
			v.add(m.Name, ErrBadDiscriminator, "discriminator %q maps to %s, which does not extend %s", value, name, m.Name)
		}
	}
}

func (v *validator) prop(m *meta.EntityMeta, p *meta.Property) {
	field := m.Name + "." + p.Name

	if p.Pivot != nil && p.Kind != meta.KindManyToMany {
		v.add(field, ErrPivotMisuse, "only m:n relations have a join table")
	}

	switch p.Kind {
	case meta.KindScalar:
		if p.Target != "" || p.MappedBy != "" || p.InversedBy != "" {
			v.add(field, ErrInvalidRelation, "scalar property cannot declare a relation target")
		}
		return

	case meta.KindEmbedded:
		name := p.Embeddable
		if name == "" {
			name = p.Target
		}
		emb, ok := v.byName[name]
		switch {
		case name == "":
			v.add(field, ErrMissingEmbeddable, "embedded property names no embeddable")
		case !ok:
			v.add(field, ErrMissingEmbeddable, "embeddable %q is not declared", name)
		case !emb.Embeddable:
			v.add(field, ErrMissingEmbeddable, "%s is not embeddable", name)
		}
		return
	}

	target, ok := v.byName[p.Target]
	if !ok {
		v.add(field, ErrUnknownTarget, "relation target %q is not declared", p.Target)
		return
	}
	if target.Embeddable {
		v.add(field, ErrUnknownTarget, "relation target %s is an embeddable", target.Name)
		return
	}

	if p.MappedBy != "" && p.InversedBy != "" {
		v.add(field, ErrInvalidRelation, "a relation is either mappedBy or inversedBy, not both")
	}
	switch p.Kind {
	case meta.KindManyToOne:
		if p.MappedBy != "" {
			v.add(field, ErrInvalidRelation, "m:1 relation cannot be mappedBy")
		}
	case meta.KindOneToMany:
		if p.MappedBy == "" {
			v.add(field, ErrInvalidRelation, "1:m relation requires mappedBy")
		}
	case meta.KindManyToMany:
		if p.MappedBy != "" && p.Pivot != nil {
			v.add(field, ErrPivotMisuse, "the inverse side of an m:n relation cannot declare the join table")
		}
	}

	inverse := p.Inverse()
	if inverse == "" {
		return
	}
	other := v.property(target, inverse)
	if other == nil {
		v.add(field, ErrInverseMismatch, "%s.%s does not exist", target.Name, inverse)
		return
	}
	if other.Target != "" && !v.extends(m, other.Target) {
		v.add(field, ErrInverseMismatch, "%s.%s targets %s, not %s", target.Name, inverse, other.Target, m.Name)
	}
	if p.MappedBy != "" && other.MappedBy != "" {
		v.add(field, ErrInverseMismatch, "%s.%s and %s are both mappedBy", target.Name, inverse, field)
	}
	if back := other.Inverse(); back != "" && back != p.Name {
		v.add(field, ErrInverseMismatch, "%s.%s points back at %q", target.Name, inverse, back)
	}
	if !pairs(p.Kind, other.Kind) {
		v.add(field, ErrKindMismatch, "%s relation paired with %s relation %s.%s", p.Kind, other.Kind, target.Name, inverse)
	}
}

// extends reports whether m is name or inherits from it.
func (v *validator) extends(m *meta.EntityMeta, name string) bool {
	chain, _ := v.chain(m)
	return slices.ContainsFunc(chain, func(c *meta.EntityMeta) bool { return c.Name == name })
}

// pairs reports whether two relation kinds form the two sides of one
// relation.
func pairs(a, b meta.Kind) bool {
	switch a {
	case meta.KindManyToOne:
		return b == meta.KindOneToMany
	case meta.KindOneToMany:
		return b == meta.KindManyToOne
	case meta.KindOneToOne:
		return b == meta.KindOneToOne
	case meta.KindManyToMany:
		return b == meta.KindManyToMany
	}
	return false
}
