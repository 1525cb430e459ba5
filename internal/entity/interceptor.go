package entity

import (
	"slices"

	"github.com/roach88/ormcore/internal/ir"
	"github.com/roach88/ormcore/internal/meta"
)

// interceptor applies an assignment to one class of property.
type interceptor interface {
	set(e *Entity, p *meta.Property, v any) error
}

var interceptors = map[meta.Class]interceptor{
	meta.ClassScalar:        scalarInterceptor{},
	meta.ClassEmbedded:      embeddedInterceptor{},
	meta.ClassToOneOwning:   toOneInterceptor{},
	meta.ClassToOneInverse:  toOneInterceptor{},
	meta.ClassToManyOwning:  toManyInterceptor{},
	meta.ClassToManyInverse: toManyInterceptor{},
}

// Set assigns one property through the interceptor of its class: relations
// propagate to their other side, collections are replaced with Set.
func (e *Entity) Set(name string, v any) error {
	p := e.meta.Property(name)
	if p == nil {
		return invalidInput(e.meta.Name, name, "unknown property")
	}
	if p.Formula != "" {
		return invalidInput(e.meta.Name, name, "formula properties are read-only")
	}
	return interceptors[p.Class()].set(e, p, v)
}

type scalarInterceptor struct{}

func (scalarInterceptor) set(e *Entity, p *meta.Property, v any) error {
	if isInstance(v) {
		return invalidInput(e.meta.Name, p.Name, "scalar property cannot hold %T", v)
	}
	if _, ok := v.(*Collection); ok {
		return invalidInput(e.meta.Name, p.Name, "scalar property cannot hold a collection")
	}
	if v != nil && p.IsDate() && p.CustomType == nil {
		t, err := coerceTime(v)
		if err != nil {
			return invalidInput(e.meta.Name, p.Name, "%v", err)
		}
		v = t
	}
	if v != nil && p.CustomType != nil {
		if _, err := p.CustomType.ConvertToDatabaseValue(v, e.platform()); err != nil {
			return invalidInput(e.meta.Name, p.Name, "%v", err)
		}
	}
	e.markLoaded(p.Name)
	e.setValue(p.Name, v)
	return nil
}

type toOneInterceptor struct{}

func (toOneInterceptor) set(e *Entity, p *meta.Property, v any) error {
	if v == nil {
		e.setToOne(p, nil, nil)
		return nil
	}
	if e.factory == nil {
		return invalidInput(e.meta.Name, p.Name, "entity has no factory")
	}
	target, err := e.factory.rt.md.Get(p.Target)
	if err != nil {
		return err
	}

	var related *Entity
	switch val := v.(type) {
	case *Entity, *Reference:
		related, _ = unwrap(val)
		if related == nil {
			e.setToOne(p, nil, nil)
			return nil
		}
	case *Collection:
		return invalidInput(e.meta.Name, p.Name, "to-one relation cannot hold a collection")
	default:
		if obj, ok := ir.AsData(v); ok && !keyOnly(target, obj) {
			related, err = e.factory.create(target, obj.Clone(), defaultCreateOptions())
		} else {
			related, err = e.factory.reference(target, v, false)
		}
		if err != nil {
			return withLocation(err, e.meta.Name, p.Name)
		}
	}
	if !related.meta.IsSubtypeOf(target) {
		return invalidInput(e.meta.Name, p.Name, "expected %s, got %s", target.Name, related.meta.Name)
	}
	e.setToOne(p, related, nil)
	return nil
}

type toManyInterceptor struct{}

func (toManyInterceptor) set(e *Entity, p *meta.Property, v any) error {
	if e.factory == nil {
		return invalidInput(e.meta.Name, p.Name, "entity has no factory")
	}
	target, err := e.factory.rt.md.Get(p.Target)
	if err != nil {
		return err
	}
	h := &hydration{f: e.factory, merge: true}
	items, err := h.resolveItems(e, p, target, v)
	if err != nil {
		return withLocation(err, e.meta.Name, p.Name)
	}
	c := e.Collection(p.Name)
	if c == nil {
		c = newCollection(e, p, false)
		e.values[p.Name] = c
	}
	if err := c.Set(items); err != nil {
		return err
	}
	e.markLoaded(p.Name)
	return nil
}

type embeddedInterceptor struct{}

func (embeddedInterceptor) set(e *Entity, p *meta.Property, v any) error {
	if v == nil {
		e.markLoaded(p.Name)
		e.setValue(p.Name, nil)
		return nil
	}
	if e.factory == nil {
		return invalidInput(e.meta.Name, p.Name, "entity has no factory")
	}
	emb, err := e.factory.rt.md.Get(p.Embeddable)
	if err != nil {
		return err
	}
	if nested, ok := v.(*Entity); ok {
		if nested.meta != emb {
			return invalidInput(e.meta.Name, p.Name, "expected %s, got %s", emb.Name, nested.meta.Name)
		}
		e.markLoaded(p.Name)
		e.setValue(p.Name, nested)
		return nil
	}
	obj, ok := ir.AsData(v)
	if !ok {
		return invalidInput(e.meta.Name, p.Name, "embedded %s needs an object, got %T", emb.Name, v)
	}

	nested := e.Embedded(p.Name)
	if nested == nil {
		nested = newEntity(emb, e.factory)
		nested.initialized = true
	}
	for _, k := range obj.SortedKeys() {
		if err := nested.Set(k, obj[k]); err != nil {
			return withLocation(err, e.meta.Name, p.Name)
		}
	}
	e.markLoaded(p.Name)
	e.setValue(p.Name, nested)
	return nil
}

// keyOnly reports whether obj carries nothing but identifying properties.
func keyOnly(m *meta.EntityMeta, obj ir.Data) bool {
	for k := range obj {
		if !slices.Contains(m.PrimaryKeys, k) {
			return false
		}
	}
	return true
}

type assignOptions struct {
	session *Session
}

// AssignOption configures Assign.
type AssignOption func(*assignOptions)

// WithSession attaches an unmanaged entity to s before assigning.
func WithSession(s *Session) AssignOption {
	return func(o *assignOptions) {
		o.session = s
	}
}

// Assign sets several properties through their interceptors in canonical
// key order. Every key is checked before anything changes. An entity that
// is neither managed nor bound to a session needs WithSession.
func Assign(e *Entity, data map[string]any, opts ...AssignOption) error {
	var o assignOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.session != nil {
		if e.Session() == nil {
			e.factory = o.session.factory
		}
	} else if !e.managed && e.Session() == nil {
		return noSession(e.meta.Name, "", "assigning to an unmanaged entity")
	}

	keys := ir.Data(data).SortedKeys()
	for _, k := range keys {
		p := e.meta.Property(k)
		if p == nil {
			return invalidInput(e.meta.Name, k, "unknown property")
		}
		if p.Formula != "" {
			return invalidInput(e.meta.Name, k, "formula properties are read-only")
		}
	}
	for _, k := range keys {
		if err := e.Set(k, data[k]); err != nil {
			return err
		}
	}
	return nil
}
