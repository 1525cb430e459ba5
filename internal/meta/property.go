package meta

import (
	"fmt"
	"strings"
)

// Kind identifies how a property is stored and hydrated.
type Kind int

const (
	KindScalar Kind = iota
	KindEmbedded
	KindManyToOne
	KindOneToOne
	KindOneToMany
	KindManyToMany
)

var kindNames = map[Kind]string{
	KindScalar:     "scalar",
	KindEmbedded:   "embedded",
	KindManyToOne:  "m:1",
	KindOneToOne:   "1:1",
	KindOneToMany:  "1:m",
	KindManyToMany: "m:n",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind parses the descriptor spelling of a kind ("scalar", "embedded",
// "m:1", "1:1", "1:m", "m:n"). The empty string is a scalar.
func ParseKind(s string) (Kind, error) {
	if s == "" {
		return KindScalar, nil
	}
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown property kind %q", s)
}

// Class is the hydration class of a property: its kind combined with the
// side of the relation it sits on.
type Class int

const (
	ClassScalar Class = iota
	ClassEmbedded
	ClassToOneOwning
	ClassToOneInverse
	ClassToManyOwning
	ClassToManyInverse
)

func (c Class) String() string {
	switch c {
	case ClassScalar:
		return "scalar"
	case ClassEmbedded:
		return "embedded"
	case ClassToOneOwning:
		return "to-one-owning"
	case ClassToOneInverse:
		return "to-one-inverse"
	case ClassToManyOwning:
		return "to-many-owning"
	case ClassToManyInverse:
		return "to-many-inverse"
	}
	return fmt.Sprintf("Class(%d)", int(c))
}

// Cascade is a bit set of operations cascaded across a relation.
type Cascade uint8

const (
	CascadePersist Cascade = 1 << iota
	CascadeMerge
	CascadeRemove

	CascadeAll = CascadePersist | CascadeMerge | CascadeRemove
)

// Has reports whether every flag in f is set.
func (c Cascade) Has(f Cascade) bool {
	return c&f == f
}

// ParseCascade parses cascade names ("persist", "merge", "remove", "all").
func ParseCascade(names []string) (Cascade, error) {
	var c Cascade
	for _, n := range names {
		switch strings.ToLower(n) {
		case "persist":
			c |= CascadePersist
		case "merge":
			c |= CascadeMerge
		case "remove":
			c |= CascadeRemove
		case "all":
			c |= CascadeAll
		default:
			return 0, fmt.Errorf("unknown cascade %q", n)
		}
	}
	return c, nil
}

// Pivot describes the join table behind a many-to-many relation, seen from
// the property that owns it: JoinColumns reference the property's entity,
// InverseJoinColumns reference the target.
type Pivot struct {
	Table              string
	JoinColumns        []string
	InverseJoinColumns []string
}

// Swapped returns the same join table seen from the other side.
func (p *Pivot) Swapped() *Pivot {
	return &Pivot{
		Table:              p.Table,
		JoinColumns:        p.InverseJoinColumns,
		InverseJoinColumns: p.JoinColumns,
	}
}

// Order is one ORDER BY term on a property.
type Order struct {
	Property string
	Desc     bool
}

// Property describes one declared property of an entity type.
type Property struct {
	Name string
	Kind Kind

	// Owner is true on the side that holds the foreign key (m:1, owning
	// 1:1) or defines the join table (owning m:n).
	Owner bool

	// Type is the scalar type name (string, int, float, bool, date,
	// datetime, json, ...). Informational for relations.
	Type string

	// Target is the related entity type for relations.
	Target     string
	InversedBy string
	MappedBy   string

	CustomType CustomType
	Nullable   bool
	Primary    bool
	Unique     bool

	Cascade       Cascade
	OrphanRemoval bool

	// Formula is a read-only SQL expression; the property is computed by
	// the database and never written.
	Formula string

	// FieldNames are the storage columns. Scalars and owning to-one
	// relations have one column per component of the (target) key.
	FieldNames []string

	// Embeddable names the embeddable type for embedded properties. Object
	// selects the nested-object layout; otherwise columns are flattened
	// with Prefix.
	Embeddable string
	Object     bool
	Prefix     string

	Pivot   *Pivot
	OrderBy []Order

	// Where is an equality filter applied when loading the relation.
	Where map[string]any

	// Hidden properties are never serialized.
	Hidden bool

	// Generated names a key generator ("uuid") used for new entities.
	Generated string
}

// Class returns the hydration class of p.
func (p *Property) Class() Class {
	switch p.Kind {
	case KindEmbedded:
		return ClassEmbedded
	case KindManyToOne:
		return ClassToOneOwning
	case KindOneToOne:
		if p.Owner {
			return ClassToOneOwning
		}
		return ClassToOneInverse
	case KindOneToMany:
		return ClassToManyInverse
	case KindManyToMany:
		if p.Owner {
			return ClassToManyOwning
		}
		return ClassToManyInverse
	}
	return ClassScalar
}

// IsRelation reports whether p points at another entity type.
func (p *Property) IsRelation() bool {
	return p.IsToOne() || p.IsToMany()
}

// IsToOne reports whether p holds a single related entity.
func (p *Property) IsToOne() bool {
	return p.Kind == KindManyToOne || p.Kind == KindOneToOne
}

// IsToMany reports whether p holds a collection.
func (p *Property) IsToMany() bool {
	return p.Kind == KindOneToMany || p.Kind == KindManyToMany
}

// Inverse returns the name of the property on the target that forms the
// other end of a bidirectional relation, or "".
func (p *Property) Inverse() string {
	if p.InversedBy != "" {
		return p.InversedBy
	}
	return p.MappedBy
}

// IsDate reports whether scalar values are coerced to time.Time.
func (p *Property) IsDate() bool {
	return p.Type == "date" || p.Type == "datetime"
}

// HasColumns reports whether p maps to columns of its entity's own table.
// Formulas are selected but have no column.
func (p *Property) HasColumns() bool {
	if p.Formula != "" {
		return false
	}
	c := p.Class()
	return c == ClassScalar || c == ClassToOneOwning
}
