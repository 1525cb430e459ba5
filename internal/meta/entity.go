package meta

import "slices"

// EntityMeta is the immutable type descriptor of one entity or embeddable
// type. Build it, add it to a Registry and call Registry.Finalize; after that
// it must not be mutated.
type EntityMeta struct {
	Name  string
	Table string

	// Properties in declaration order. After Finalize, subtypes list the
	// inherited properties first.
	Properties []*Property

	PrimaryKeys []string
	UniqueKeys  [][]string

	// Inheritance. Extends names the parent type; Root is resolved by
	// Finalize (a root points at itself).
	Extends  string
	Root     *EntityMeta
	Abstract bool

	// Single-table inheritance, declared on the root: discriminator value →
	// entity name. DiscriminatorValue is resolved for every member.
	DiscriminatorColumn string
	DiscriminatorMap    map[string]string
	DiscriminatorValue  string

	Embeddable bool

	// Constructor runs user initialization for new entities. It receives
	// the resolved ConstructorParams and returns initial property values.
	Constructor       func(params map[string]any) map[string]any
	ConstructorParams []string

	// ForceConstructor makes the factory use Constructor for entities
	// reconstructed from storage too.
	ForceConstructor bool

	props      map[string]*Property
	parentMeta *EntityMeta
	children   []*EntityMeta
}

// Property returns the named property or nil.
func (m *EntityMeta) Property(name string) *Property {
	if m.props != nil {
		return m.props[name]
	}
	for _, p := range m.Properties {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// PrimaryProperties returns the primary key properties in key order.
func (m *EntityMeta) PrimaryProperties() []*Property {
	out := make([]*Property, 0, len(m.PrimaryKeys))
	for _, name := range m.PrimaryKeys {
		if p := m.Property(name); p != nil {
			out = append(out, p)
		}
	}
	return out
}

// CompositePK reports whether the key has more than one component.
func (m *EntityMeta) CompositePK() bool {
	return len(m.PrimaryKeys) > 1
}

// Relations returns the relation properties in declaration order.
func (m *EntityMeta) Relations() []*Property {
	var out []*Property
	for _, p := range m.Properties {
		if p.IsRelation() {
			out = append(out, p)
		}
	}
	return out
}

// RootMeta returns the inheritance root (m itself before Finalize).
func (m *EntityMeta) RootMeta() *EntityMeta {
	if m.Root == nil {
		return m
	}
	return m.Root
}

// IsSubtypeOf reports whether m equals other or inherits from it.
func (m *EntityMeta) IsSubtypeOf(other *EntityMeta) bool {
	for cur := m; cur != nil; cur = cur.parentMeta {
		if cur == other {
			return true
		}
	}
	return false
}

// Parent returns the type m extends, or nil for roots.
func (m *EntityMeta) Parent() *EntityMeta {
	return m.parentMeta
}

// Children returns the direct subtypes.
func (m *EntityMeta) Children() []*EntityMeta {
	return m.children
}

// Descendants returns every subtype below m, depth first.
func (m *EntityMeta) Descendants() []*EntityMeta {
	var out []*EntityMeta
	for _, c := range m.children {
		out = append(out, c)
		out = append(out, c.Descendants()...)
	}
	return out
}

// HierarchyProperties returns the union of the properties of m's root and
// every subtype, root properties first. Single-table rows may carry any of
// them.
func (m *EntityMeta) HierarchyProperties() []*Property {
	root := m.RootMeta()
	out := slices.Clone(root.Properties)
	seen := make(map[string]bool, len(out))
	for _, p := range out {
		seen[p.Name] = true
	}
	for _, d := range root.Descendants() {
		for _, p := range d.Properties {
			if !seen[p.Name] {
				seen[p.Name] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// DiscriminatorValues returns the discriminator values of m and all its
// descendants, sorted. Empty when m does not take part in single-table
// inheritance.
func (m *EntityMeta) DiscriminatorValues() []string {
	if m.RootMeta().DiscriminatorColumn == "" {
		return nil
	}
	var out []string
	if m.DiscriminatorValue != "" {
		out = append(out, m.DiscriminatorValue)
	}
	for _, c := range m.Descendants() {
		if c.DiscriminatorValue != "" {
			out = append(out, c.DiscriminatorValue)
		}
	}
	slices.Sort(out)
	return out
}
