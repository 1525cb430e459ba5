package queryir

import (
	"errors"
	"slices"

	"github.com/roach88/ormcore/internal/ir"
	"github.com/roach88/ormcore/internal/meta"
)

// ErrNotFound is wrapped by drivers when the backend reports a missing row
// or document.
var ErrNotFound = errors.New("not found")

// Query is a sealed interface implemented by Select and PivotSelect.
type Query interface {
	queryNode()
}

// Predicate is a sealed interface implemented by Equals, In, IsNull, And
// and Or.
type Predicate interface {
	predicateNode()
}

// Order is one ORDER BY term on a property.
type Order struct {
	Field string
	Desc  bool
}

// Select reads rows of one entity type.
//
// Semantics:
//
//	SELECT <columns of From> FROM <table> WHERE <filter> ORDER BY <order> LIMIT/OFFSET
//
// From is an entity name. Drivers add the discriminator filter for
// single-table subtypes and order by primary key when OrderBy is empty.
// Limit 0 means no limit.
type Select struct {
	From    string
	Filter  Predicate
	OrderBy []Order
	Limit   int
	Offset  int
}

func (Select) queryNode() {}

// PivotSelect reads the targets of a many-to-many relation for a batch of
// owners through the relation's join table.
//
// Semantics:
//
//	SELECT <target columns>, <join columns> FROM <target>
//	JOIN <pivot> ON <pivot.inverse> = <target pk>
//	WHERE <pivot.join> IN (owners) AND <filter>
//
// Rows carry the owner key so results can be grouped per owner.
type PivotSelect struct {
	Property *meta.Property
	Owners   [][]any
	Filter   Predicate
	OrderBy  []Order
}

func (PivotSelect) queryNode() {}

// Equals matches rows whose property equals Value. A nil Value compiles to
// IS NULL. Composite keys are given as []any in key order.
type Equals struct {
	Field string
	Value any
}

func (Equals) predicateNode() {}

// In matches rows whose property is one of Values. An empty In matches
// nothing.
type In struct {
	Field  string
	Values []any
}

func (In) predicateNode() {}

// IsNull matches rows whose property is null (or not null with Not).
type IsNull struct {
	Field string
	Not   bool
}

func (IsNull) predicateNode() {}

// And is a conjunction. Empty And is always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or is a disjunction. Empty Or is always false.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// Conjoin combines predicates with AND, skipping nils. It returns nil when
// nothing is left and the single predicate when only one is.
func Conjoin(preds ...Predicate) Predicate {
	var out []Predicate
	for _, p := range preds {
		if p == nil {
			continue
		}
		if and, ok := p.(And); ok {
			out = append(out, and.Predicates...)
			continue
		}
		out = append(out, p)
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return And{Predicates: out}
}

// FromMap converts an equality map (a relation's Where, a CLI filter) into a
// predicate with keys in canonical order: nil values become IsNull, slices
// become In, everything else Equals.
func FromMap(where map[string]any) Predicate {
	if len(where) == 0 {
		return nil
	}
	keys := ir.Data(where).SortedKeys()
	preds := make([]Predicate, 0, len(keys))
	for _, k := range keys {
		switch v := where[k].(type) {
		case nil:
			preds = append(preds, IsNull{Field: k})
		case []any:
			preds = append(preds, In{Field: k, Values: slices.Clone(v)})
		default:
			preds = append(preds, Equals{Field: k, Value: v})
		}
	}
	return Conjoin(preds...)
}

// Fields returns the property names a predicate references, in traversal
// order with duplicates removed.
func Fields(p Predicate) []string {
	var out []string
	var walk func(Predicate)
	walk = func(p Predicate) {
		var f string
		switch pred := deref(p).(type) {
		case Equals:
			f = pred.Field
		case In:
			f = pred.Field
		case IsNull:
			f = pred.Field
		case And:
			for _, sub := range pred.Predicates {
				walk(sub)
			}
		case Or:
			for _, sub := range pred.Predicates {
				walk(sub)
			}
		}
		if f != "" && !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	if p != nil {
		walk(p)
	}
	return out
}

// Deref returns the value form of pointer predicates so backends only need
// value cases in their switches.
func Deref(p Predicate) Predicate {
	return deref(p)
}

func deref(p Predicate) Predicate {
	switch pred := p.(type) {
	case *Equals:
		return *pred
	case *In:
		return *pred
	case *IsNull:
		return *pred
	case *And:
		return *pred
	case *Or:
		return *pred
	}
	return p
}
