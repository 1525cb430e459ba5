package queryir

import (
	"fmt"

	"github.com/roach88/ormcore/internal/meta"
)

// ValidationResult reports problems found in a query.
//
// Errors make the query unusable on every driver (unknown fields,
// non-queryable relations). Warnings name features not every driver
// supports; IsPortable is true when there are none.
type ValidationResult struct {
	Errors     []string
	IsPortable bool
	Warnings   []string
}

// Err returns the first error as an error value, or nil.
func (r ValidationResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	if len(r.Errors) == 1 {
		return fmt.Errorf("invalid query: %s", r.Errors[0])
	}
	return fmt.Errorf("invalid query: %s (and %d more)", r.Errors[0], len(r.Errors)-1)
}

// Validate checks a query against the descriptor of the type it reads.
// For a PivotSelect, m is the relation's target type.
//
// Validate is a pure function with no side effects.
func Validate(m *meta.EntityMeta, q Query) ValidationResult {
	v := &validator{meta: m, errors: []string{}, warnings: []string{}}
	v.validateQuery(q)
	return ValidationResult{
		Errors:     v.errors,
		IsPortable: len(v.warnings) == 0,
		Warnings:   v.warnings,
	}
}

type validator struct {
	meta     *meta.EntityMeta
	errors   []string
	warnings []string
}

func (v *validator) addError(format string, args ...any) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}

func (v *validator) addWarning(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

func (v *validator) validateQuery(q Query) {
	switch query := q.(type) {
	case Select:
		v.validateSelect(query)
	case *Select:
		v.validateSelect(*query)
	case PivotSelect:
		v.validatePivot(query)
	case *PivotSelect:
		v.validatePivot(*query)
	case nil:
		v.addError("nil query")
	default:
		v.addError("unknown query type %T", q)
	}
}

func (v *validator) validateSelect(sel Select) {
	if v.meta != nil && sel.From != v.meta.Name {
		v.addError("query reads %q but was validated against %q", sel.From, v.meta.Name)
	}
	if sel.Limit < 0 || sel.Offset < 0 {
		v.addError("negative limit or offset")
	}
	v.validatePredicate(sel.Filter)
	v.validateOrder(sel.OrderBy)
}

func (v *validator) validatePivot(ps PivotSelect) {
	v.addWarning("pivot query needs a driver with join tables")
	if ps.Property == nil || ps.Property.Kind != meta.KindManyToMany {
		v.addError("pivot query needs a many-to-many relation")
	} else if ps.Property.Pivot == nil {
		v.addError("relation %q has no join table", ps.Property.Name)
	}
	if len(ps.Owners) == 0 {
		v.addError("pivot query without owners")
	}
	v.validatePredicate(ps.Filter)
	v.validateOrder(ps.OrderBy)
}

func (v *validator) validateOrder(order []Order) {
	for _, o := range order {
		v.validateField(o.Field)
	}
}

func (v *validator) validatePredicate(p Predicate) {
	if p == nil {
		return
	}
	switch pred := deref(p).(type) {
	case Equals:
		v.validateField(pred.Field)
	case In:
		v.validateField(pred.Field)
	case IsNull:
		v.validateField(pred.Field)
	case And:
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub)
		}
	case Or:
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub)
		}
	default:
		v.addError("unknown predicate type %T", p)
	}
}

func (v *validator) validateField(name string) {
	if v.meta == nil {
		return
	}
	p := v.meta.Property(name)
	if p == nil {
		v.addError("%s has no property %q", v.meta.Name, name)
		return
	}
	if p.Formula != "" {
		v.addWarning("formula property %q is only queryable on SQL drivers", name)
		return
	}
	if !p.HasColumns() {
		v.addError("%s.%s is not stored on %s and cannot be queried", v.meta.Name, name, v.meta.Name)
	}
}
