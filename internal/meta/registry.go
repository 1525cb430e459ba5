package meta

import (
	"errors"
	"fmt"
	"slices"

	"gorm.io/gorm/schema"
)

// ErrUnknownEntity is returned (wrapped) when a type name is not registered.
var ErrUnknownEntity = errors.New("unknown entity")

// Provider resolves type descriptors by name. *Registry implements it.
type Provider interface {
	Get(name string) (*EntityMeta, error)
}

var _ Provider = (*Registry)(nil)

// Registry holds every type descriptor of one model. It is the metadata
// provider of the core: descriptors are added once, Finalize resolves
// inheritance and fills defaults, and the registry is read-only afterwards
// (safe for concurrent use).
type Registry struct {
	metas     map[string]*EntityMeta
	order     []string
	naming    schema.Namer
	finalized bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithNamingStrategy overrides the default table/column naming
// (snake_case columns, pluralized snake_case tables).
func WithNamingStrategy(n schema.Namer) RegistryOption {
	return func(r *Registry) {
		r.naming = n
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		metas:  make(map[string]*EntityMeta),
		naming: schema.NamingStrategy{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add registers descriptors. Names must be unique.
func (r *Registry) Add(metas ...*EntityMeta) error {
	if r.finalized {
		return fmt.Errorf("registry is finalized")
	}
	for _, m := range metas {
		if m.Name == "" {
			return fmt.Errorf("entity without name")
		}
		if _, dup := r.metas[m.Name]; dup {
			return fmt.Errorf("entity %q registered twice", m.Name)
		}
		r.metas[m.Name] = m
		r.order = append(r.order, m.Name)
	}
	return nil
}

// Get returns the descriptor for name.
func (r *Registry) Get(name string) (*EntityMeta, error) {
	m, ok := r.metas[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, name)
	}
	return m, nil
}

// Find returns the descriptor for name or nil.
func (r *Registry) Find(name string) *EntityMeta {
	return r.metas[name]
}

// All returns every descriptor in registration order.
func (r *Registry) All() []*EntityMeta {
	out := make([]*EntityMeta, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.metas[name])
	}
	return out
}

// Finalized reports whether Finalize has completed.
func (r *Registry) Finalized() bool {
	return r.finalized
}

// Finalize resolves inheritance and discriminators, fills storage defaults
// (tables, columns, join tables) and checks that every relation resolves.
// It is idempotent.
func (r *Registry) Finalize() error {
	if r.finalized {
		return nil
	}

	all := r.All()

	for _, m := range all {
		if m.Extends == "" && m.DiscriminatorColumn != "" && m.Property(m.DiscriminatorColumn) == nil {
			m.Properties = append(m.Properties, &Property{
				Name: m.DiscriminatorColumn,
				Kind: KindScalar,
				Type: "string",
			})
		}
	}

	for _, m := range all {
		if err := r.resolveInheritance(m, map[string]bool{}); err != nil {
			return err
		}
	}

	for _, m := range all {
		if err := r.resolveDiscriminator(m); err != nil {
			return err
		}
	}

	for _, m := range all {
		if err := r.indexProperties(m); err != nil {
			return err
		}
	}

	for _, m := range all {
		for _, p := range m.Properties {
			if err := r.resolveProperty(m, p); err != nil {
				return fmt.Errorf("%s.%s: %w", m.Name, p.Name, err)
			}
		}
	}

	// join tables: owning sides first, inverse sides copy them
	for _, m := range all {
		for _, p := range m.Properties {
			if p.Kind == KindManyToMany && p.Owner {
				r.defaultPivot(m, p)
			}
		}
	}
	for _, m := range all {
		for _, p := range m.Properties {
			if p.Kind == KindManyToMany && !p.Owner && p.Pivot == nil {
				owning := r.metas[p.Target].Property(p.MappedBy)
				if owning.Kind != KindManyToMany || owning.Pivot == nil {
					return fmt.Errorf("%s.%s: mappedBy %s.%s is not an owning m:n relation",
						m.Name, p.Name, p.Target, p.MappedBy)
				}
				p.Pivot = owning.Pivot.Swapped()
			}
		}
	}

	r.finalized = true
	return nil
}

func (r *Registry) resolveInheritance(m *EntityMeta, visiting map[string]bool) error {
	if m.Root != nil {
		return nil
	}
	if m.Extends == "" {
		m.Root = m
		if m.Table == "" && !m.Embeddable {
			m.Table = r.naming.TableName(m.Name)
		}
		return nil
	}
	if visiting[m.Name] {
		return fmt.Errorf("inheritance cycle through %q", m.Name)
	}
	visiting[m.Name] = true

	parent, ok := r.metas[m.Extends]
	if !ok {
		return fmt.Errorf("%s extends %w: %q", m.Name, ErrUnknownEntity, m.Extends)
	}
	if err := r.resolveInheritance(parent, visiting); err != nil {
		return err
	}

	props := slices.Clone(parent.Properties)
	for _, p := range m.Properties {
		if parent.Property(p.Name) != nil {
			return fmt.Errorf("%s redeclares inherited property %q", m.Name, p.Name)
		}
		props = append(props, p)
	}
	m.Properties = props
	if len(m.PrimaryKeys) == 0 {
		m.PrimaryKeys = parent.PrimaryKeys
	}
	m.parentMeta = parent
	m.Root = parent.Root
	m.Table = m.Root.Table
	parent.children = append(parent.children, m)
	return nil
}

func (r *Registry) resolveDiscriminator(m *EntityMeta) error {
	if m.Root != m || m.DiscriminatorColumn == "" {
		return nil
	}
	for value, name := range m.DiscriminatorMap {
		child, ok := r.metas[name]
		if !ok {
			return fmt.Errorf("%s discriminator %q: %w: %q", m.Name, value, ErrUnknownEntity, name)
		}
		if !child.IsSubtypeOf(m) {
			return fmt.Errorf("%s discriminator %q: %s does not extend %s", m.Name, value, name, m.Name)
		}
		child.DiscriminatorValue = value
	}
	return nil
}

func (r *Registry) indexProperties(m *EntityMeta) error {
	m.props = make(map[string]*Property, len(m.Properties))
	for _, p := range m.Properties {
		if _, dup := m.props[p.Name]; dup {
			return fmt.Errorf("%s declares property %q twice", m.Name, p.Name)
		}
		m.props[p.Name] = p
	}

	if len(m.PrimaryKeys) == 0 {
		for _, p := range m.Properties {
			if p.Primary {
				m.PrimaryKeys = append(m.PrimaryKeys, p.Name)
			}
		}
	}
	for _, name := range m.PrimaryKeys {
		p, ok := m.props[name]
		if !ok {
			return fmt.Errorf("%s primary key %q is not a property", m.Name, name)
		}
		p.Primary = true
	}
	if !m.Embeddable && len(m.PrimaryKeys) == 0 {
		return fmt.Errorf("%s has no primary key", m.Name)
	}

	for _, p := range m.Properties {
		if p.Unique && !slices.ContainsFunc(m.UniqueKeys, func(k []string) bool {
			return len(k) == 1 && k[0] == p.Name
		}) {
			m.UniqueKeys = append(m.UniqueKeys, []string{p.Name})
		}
	}
	for _, key := range m.UniqueKeys {
		for _, name := range key {
			if _, ok := m.props[name]; !ok {
				return fmt.Errorf("%s unique key property %q is not a property", m.Name, name)
			}
		}
	}
	return nil
}

func (r *Registry) resolveProperty(m *EntityMeta, p *Property) error {
	switch p.Kind {
	case KindScalar:
		if len(p.FieldNames) == 0 && p.Formula == "" {
			p.FieldNames = []string{r.naming.ColumnName("", p.Name)}
		}
		return nil

	case KindEmbedded:
		name := p.Embeddable
		if name == "" {
			name = p.Target
		}
		emb, ok := r.metas[name]
		if !ok {
			return fmt.Errorf("embeddable %w: %q", ErrUnknownEntity, name)
		}
		if !emb.Embeddable {
			return fmt.Errorf("%s is not embeddable", name)
		}
		p.Embeddable = emb.Name
		if p.Object && len(p.FieldNames) == 0 {
			p.FieldNames = []string{r.naming.ColumnName("", p.Name)}
		}
		if !p.Object && p.Prefix == "" {
			p.Prefix = r.naming.ColumnName("", p.Name) + "_"
		}
		return nil
	}

	target, ok := r.metas[p.Target]
	if !ok {
		return fmt.Errorf("target %w: %q", ErrUnknownEntity, p.Target)
	}

	switch p.Kind {
	case KindManyToOne:
		if p.MappedBy != "" {
			return fmt.Errorf("m:1 relation cannot be mappedBy")
		}
		p.Owner = true
	case KindOneToMany:
		if p.MappedBy == "" {
			return fmt.Errorf("1:m relation requires mappedBy")
		}
		p.Owner = false
	case KindOneToOne, KindManyToMany:
		p.Owner = p.MappedBy == ""
	}

	if p.MappedBy != "" && target.Property(p.MappedBy) == nil {
		return fmt.Errorf("mappedBy %s.%s does not exist", target.Name, p.MappedBy)
	}
	if p.InversedBy != "" && target.Property(p.InversedBy) == nil {
		return fmt.Errorf("inversedBy %s.%s does not exist", target.Name, p.InversedBy)
	}

	if p.Owner && p.IsToOne() && len(p.FieldNames) == 0 {
		base := r.naming.ColumnName("", p.Name)
		for _, pk := range target.PrimaryKeys {
			p.FieldNames = append(p.FieldNames, base+"_"+r.naming.ColumnName("", pk))
		}
	}
	return nil
}

func (r *Registry) defaultPivot(m *EntityMeta, p *Property) {
	if p.Pivot == nil {
		p.Pivot = &Pivot{}
	}
	owner := r.naming.ColumnName("", m.RootMeta().Name)
	target := r.metas[p.Target]
	inverse := r.naming.ColumnName("", target.RootMeta().Name)

	if p.Pivot.Table == "" {
		p.Pivot.Table = owner + "_" + r.naming.ColumnName("", p.Name)
	}

	ownerPrefix, inversePrefix := owner+"_", inverse+"_"
	if owner == inverse {
		ownerPrefix, inversePrefix = owner+"_1_", inverse+"_2_"
	}
	if len(p.Pivot.JoinColumns) == 0 {
		for _, pk := range m.PrimaryKeys {
			p.Pivot.JoinColumns = append(p.Pivot.JoinColumns, ownerPrefix+r.naming.ColumnName("", pk))
		}
	}
	if len(p.Pivot.InverseJoinColumns) == 0 {
		for _, pk := range target.PrimaryKeys {
			p.Pivot.InverseJoinColumns = append(p.Pivot.InverseJoinColumns, inversePrefix+r.naming.ColumnName("", pk))
		}
	}
}
