package entity

import (
	"slices"

	"github.com/roach88/ormcore/internal/ir"
	"github.com/roach88/ormcore/internal/meta"
)

// Entity is one live instance of an entity (or embeddable) type.
//
// State flags:
//   - initialized: every property has been hydrated (false for references)
//   - managed: reconstructed from storage and tracked by an identity map
//   - processing: hydration in progress (re-entrancy guard)
type Entity struct {
	meta   *meta.EntityMeta
	values map[string]any

	initialized bool
	managed     bool
	processing  bool

	// originalData is the last known persisted state in raw form.
	originalData ir.Data
	loaded       map[string]struct{}

	factory *Factory

	// active serialization walk, see AttachWalk
	walk any
}

func newEntity(m *meta.EntityMeta, f *Factory) *Entity {
	return &Entity{
		meta:    m,
		values:  make(map[string]any, len(m.Properties)),
		loaded:  make(map[string]struct{}),
		factory: f,
	}
}

// Meta returns the type descriptor. It changes only when a reference to a
// base type is upgraded to the concrete subtype on load.
func (e *Entity) Meta() *meta.EntityMeta {
	return e.meta
}

// TypeName is the entity type name.
func (e *Entity) TypeName() string {
	return e.meta.Name
}

// Get returns the raw property value: a scalar, *Reference, *Collection,
// nested *Entity or nil. The second result is false when the property has
// not been loaded.
func (e *Entity) Get(name string) (any, bool) {
	v, ok := e.values[name]
	return v, ok
}

// Value returns a property value with relations unwrapped: to-one relations
// give the target *Entity, everything else is returned as stored.
func (e *Entity) Value(name string) any {
	switch v := e.values[name].(type) {
	case *Reference:
		return v.Unwrap()
	default:
		return v
	}
}

// Has reports whether the property has been loaded (possibly as null).
func (e *Entity) Has(name string) bool {
	_, ok := e.values[name]
	return ok
}

// Reference returns the to-one holder of name, or nil when unset or null.
func (e *Entity) Reference(name string) *Reference {
	r, _ := e.values[name].(*Reference)
	return r
}

// Related returns the target of a to-one relation, or nil.
func (e *Entity) Related(name string) *Entity {
	return e.Reference(name).Unwrap()
}

// Collection returns the to-many holder of name, or nil when the property
// has no holder yet (references are not hydrated past their key).
func (e *Entity) Collection(name string) *Collection {
	c, _ := e.values[name].(*Collection)
	return c
}

// Embedded returns the nested embeddable of name, or nil.
func (e *Entity) Embedded(name string) *Entity {
	n, _ := e.values[name].(*Entity)
	return n
}

// IsInitialized reports whether the entity is fully hydrated.
func (e *Entity) IsInitialized() bool {
	return e.initialized
}

// IsManaged reports whether the entity was reconstructed from storage.
func (e *Entity) IsManaged() bool {
	return e.managed
}

// IsLoaded reports whether a property was materialized by hydration or
// assignment.
func (e *Entity) IsLoaded(name string) bool {
	_, ok := e.loaded[name]
	return ok
}

// LoadedProperties returns the materialized property names, sorted.
func (e *Entity) LoadedProperties() []string {
	out := make([]string, 0, len(e.loaded))
	for name := range e.loaded {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// OriginalData returns a copy of the last known persisted state, or nil.
func (e *Entity) OriginalData() ir.Data {
	if e.originalData == nil {
		return nil
	}
	return e.originalData.Clone()
}

// Session returns the session the entity belongs to, or nil.
func (e *Entity) Session() *Session {
	if e.factory == nil {
		return nil
	}
	return e.factory.session
}

// PrimaryKey returns the key components in storage form (custom types
// converted, to-one keys resolved), or nil when any component is missing.
func (e *Entity) PrimaryKey() []any {
	return e.keyOf(e.meta.PrimaryKeys)
}

// IdentityKey returns "Root:key", the identity map key.
func (e *Entity) IdentityKey() (string, error) {
	return ir.IdentityKey(e.meta.RootMeta().Name, e.PrimaryKey())
}

// KeyValue returns the primary key as a single value: the scalar for simple
// keys, []any for composite keys, nil when incomplete.
func (e *Entity) KeyValue() any {
	return collapseKey(e.PrimaryKey())
}

func (e *Entity) keyOf(names []string) []any {
	if len(names) == 0 {
		return nil
	}
	out := make([]any, 0, len(names))
	for _, name := range names {
		p := e.meta.Property(name)
		v, ok := e.values[name]
		if p == nil || !ok || v == nil {
			return nil
		}
		dbv, ok := storageValue(p, v, e.platform())
		if !ok || dbv == nil {
			return nil
		}
		out = append(out, dbv)
	}
	return out
}

// AttachWalk binds a serialization walk to the entity for the duration of an
// export. It returns false when another walk is attached.
func (e *Entity) AttachWalk(w any) bool {
	if e.walk != nil && e.walk != w {
		return false
	}
	e.walk = w
	return true
}

// DetachWalk releases w. Detaching a walk that is not attached is a no-op.
func (e *Entity) DetachWalk(w any) {
	if e.walk == w {
		e.walk = nil
	}
}

// Walk returns the attached serialization walk, or nil.
func (e *Entity) Walk() any {
	return e.walk
}

func (e *Entity) platform() meta.Platform {
	if e.factory != nil {
		return e.factory.platform()
	}
	return meta.PlatformSQLite
}

func (e *Entity) markLoaded(name string) {
	e.loaded[name] = struct{}{}
}

// setValue stores v unless an equal value is already present. It reports
// whether anything changed.
func (e *Entity) setValue(name string, v any) bool {
	if cur, ok := e.values[name]; ok && sameValue(cur, v) {
		return false
	}
	e.values[name] = v
	return true
}

func sameValue(a, b any) bool {
	switch av := a.(type) {
	case *Reference, *Collection, *Entity:
		return a == b
	case nil:
		return b == nil
	default:
		switch b.(type) {
		case *Reference, *Collection, *Entity:
			return false
		}
		return ir.Equal(av, b)
	}
}

// snapshot returns the live state in the raw form used by originalData:
// custom types in database form, to-one relations as target keys, flattened
// embeddables under their prefixed names. Collections are tracked by their
// own snapshots and are left out.
func (e *Entity) snapshot() ir.Data {
	out := make(ir.Data, len(e.values))
	for _, p := range e.meta.Properties {
		v, ok := e.values[p.Name]
		if !ok {
			continue
		}
		switch p.Class() {
		case meta.ClassToManyOwning, meta.ClassToManyInverse:
			continue
		case meta.ClassEmbedded:
			nested, _ := v.(*Entity)
			if p.Object {
				if nested == nil {
					out[p.Name] = nil
				} else {
					out[p.Name] = map[string]any(nested.snapshot())
				}
				continue
			}
			for _, ep := range nested.embeddableProps(e.factory, p) {
				key := p.Prefix + ep.Name
				if nested == nil {
					out[key] = nil
					continue
				}
				if nv, ok := nested.values[ep.Name]; ok {
					out[key], _ = storageValue(ep, nv, e.platform())
				}
			}
		default:
			out[p.Name], _ = storageValue(p, v, e.platform())
		}
	}
	return out
}

func (e *Entity) embeddableProps(f *Factory, p *meta.Property) []*meta.Property {
	if e != nil {
		return e.meta.Properties
	}
	if f == nil {
		return nil
	}
	emb, err := f.rt.md.Get(p.Embeddable)
	if err != nil {
		return nil
	}
	return emb.Properties
}

// storageValue converts a live property value to its raw form. The second
// result is false for values that have no raw form (unloaded composites).
func storageValue(p *meta.Property, v any, platform meta.Platform) (any, bool) {
	switch val := v.(type) {
	case nil:
		return nil, true
	case *Reference:
		if val.Unwrap() == nil {
			return nil, true
		}
		key := val.Unwrap().PrimaryKey()
		if key == nil {
			return nil, false
		}
		return collapseKey(key), true
	case *Entity:
		key := val.PrimaryKey()
		if key == nil {
			return nil, false
		}
		return collapseKey(key), true
	case *Collection:
		return nil, false
	}
	if p.CustomType != nil {
		dbv, err := p.CustomType.ConvertToDatabaseValue(v, platform)
		if err != nil {
			return nil, false
		}
		return ir.Normalize(dbv), true
	}
	return ir.Normalize(v), true
}

func collapseKey(key []any) any {
	switch len(key) {
	case 0:
		return nil
	case 1:
		return key[0]
	}
	return key
}

// unwrap returns the entity behind an entity or reference value.
func unwrap(v any) (*Entity, bool) {
	switch val := v.(type) {
	case *Entity:
		return val, val != nil
	case *Reference:
		if val == nil {
			return nil, false
		}
		return val.Unwrap(), val.Unwrap() != nil
	}
	return nil, false
}
