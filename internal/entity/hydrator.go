package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/ormcore/internal/ir"
	"github.com/roach88/ormcore/internal/meta"
)

// hydration carries the per-call context every step receives.
type hydration struct {
	f                  *Factory
	newEntity          bool
	convertCustomTypes bool
	merge              bool
}

// nested returns the options for entities created while hydrating a
// relation payload.
func (h *hydration) nested() createOptions {
	return createOptions{
		initialized:        true,
		merge:              h.merge,
		newEntity:          h.newEntity,
		convertCustomTypes: h.convertCustomTypes,
	}
}

type stepFunc func(e *Entity, data ir.Data, h *hydration) error

type step struct {
	prop  *meta.Property
	apply stepFunc
}

// plan is the compiled hydration procedure of one (type, mode) pair.
type plan struct {
	meta  *meta.EntityMeta
	steps []step
}

func (rt *Runtime) compile(m *meta.EntityMeta, mode Mode) (*plan, error) {
	props := m.Properties
	if mode == ModeReference {
		props = m.PrimaryProperties()
	}

	p := &plan{meta: m, steps: make([]step, 0, len(props))}
	for _, prop := range props {
		var fn stepFunc
		switch prop.Class() {
		case meta.ClassScalar:
			fn = scalarStep(m, prop)
		case meta.ClassEmbedded:
			emb, err := rt.md.Get(prop.Embeddable)
			if err != nil {
				return nil, err
			}
			fn = embeddedStep(prop, emb)
		case meta.ClassToOneOwning, meta.ClassToOneInverse:
			target, err := rt.md.Get(prop.Target)
			if err != nil {
				return nil, err
			}
			fn = toOneStep(prop, target)
		case meta.ClassToManyOwning, meta.ClassToManyInverse:
			target, err := rt.md.Get(prop.Target)
			if err != nil {
				return nil, err
			}
			fn = toManyStep(prop, target)
		default:
			return nil, fmt.Errorf("property %s.%s: unsupported class %s", m.Name, prop.Name, prop.Class())
		}
		p.steps = append(p.steps, step{prop: prop, apply: fn})
	}
	return p, nil
}

// hydrate runs the plan of e's type over data. Only keys present in data
// are applied; data is never rewritten, so running a plan twice over the
// same payload yields the same state.
func (f *Factory) hydrate(e *Entity, data ir.Data, h *hydration, mode Mode) error {
	p, err := f.rt.plan(e.meta, mode)
	if err != nil {
		return err
	}
	for _, s := range p.steps {
		if err := s.apply(e, data, h); err != nil {
			return err
		}
	}
	return nil
}

func scalarStep(m *meta.EntityMeta, p *meta.Property) stepFunc {
	return func(e *Entity, data ir.Data, h *hydration) error {
		raw, ok := data[p.Name]
		if !ok {
			return nil
		}

		v := raw
		switch {
		case raw == nil:
		case p.CustomType != nil:
			platform := h.f.platform()
			if h.convertCustomTypes {
				conv, err := p.CustomType.ConvertToEntityValue(raw, platform)
				if err != nil {
					return invalidInput(m.Name, p.Name, "convert %s value: %v", p.CustomType.Name(), err)
				}
				v = conv
				break
			}
			if _, err := p.CustomType.ConvertToDatabaseValue(v, platform); err != nil {
				return invalidInput(m.Name, p.Name, "convert %s value: %v", p.CustomType.Name(), err)
			}
		case p.IsDate():
			t, err := coerceTime(raw)
			if err != nil {
				return invalidInput(m.Name, p.Name, "%v", err)
			}
			v = t
		}

		e.markLoaded(p.Name)
		e.setValue(p.Name, v)
		return nil
	}
}

func toOneStep(p *meta.Property, target *meta.EntityMeta) stepFunc {
	return func(e *Entity, data ir.Data, h *hydration) error {
		raw, ok := data[p.Name]
		if !ok {
			return nil
		}
		related, err := h.resolveRelated(target, raw)
		if err != nil {
			return withLocation(err, e.meta.Name, p.Name)
		}
		e.markLoaded(p.Name)
		e.setReference(p, related)
		if p.Kind == meta.KindOneToOne && related != nil {
			wireOneToOne(e, p, related)
		}
		return nil
	}
}

// wireOneToOne points an empty inverse back at the owner. It is a single
// hop: nothing else is propagated.
func wireOneToOne(owner *Entity, p *meta.Property, target *Entity) {
	inv := p.Inverse()
	if inv == "" {
		return
	}
	ip := target.meta.Property(inv)
	if ip == nil || target.Related(inv) != nil {
		return
	}
	target.setReference(ip, owner)
}

func toManyStep(p *meta.Property, target *meta.EntityMeta) stepFunc {
	return func(e *Entity, data ir.Data, h *hydration) error {
		raw, ok := data[p.Name]
		coll := e.Collection(p.Name)
		if !ok {
			if coll == nil {
				e.values[p.Name] = newCollection(e, p, h.newEntity)
			}
			return nil
		}

		items, err := h.resolveItems(e, p, target, raw)
		if err != nil {
			return withLocation(err, e.meta.Name, p.Name)
		}
		if coll == nil {
			coll = newCollection(e, p, false)
			e.values[p.Name] = coll
		}
		coll.hydrate(items, h.newEntity)
		e.markLoaded(p.Name)
		return nil
	}
}

func embeddedStep(p *meta.Property, emb *meta.EntityMeta) stepFunc {
	return func(e *Entity, data ir.Data, h *hydration) error {
		var sub ir.Data
		if p.Object {
			raw, ok := data[p.Name]
			if !ok {
				return nil
			}
			if raw == nil {
				e.markLoaded(p.Name)
				e.setValue(p.Name, nil)
				return nil
			}
			if nested, ok := raw.(*Entity); ok && nested.meta == emb {
				e.markLoaded(p.Name)
				e.setValue(p.Name, nested)
				return nil
			}
			obj, ok := ir.AsData(raw)
			if !ok {
				return invalidInput(e.meta.Name, p.Name, "embedded %s needs an object, got %T", emb.Name, raw)
			}
			sub = obj.Clone()
		} else {
			sub = ir.Data{}
			present, allNull := false, true
			for _, ep := range emb.Properties {
				if v, ok := data[p.Prefix+ep.Name]; ok {
					sub[ep.Name] = v
					present = true
					allNull = allNull && v == nil
				}
			}
			if !present {
				return nil
			}
			if allNull {
				e.markLoaded(p.Name)
				e.setValue(p.Name, nil)
				return nil
			}
		}

		nested := e.Embedded(p.Name)
		if nested == nil {
			nested = newEntity(emb, h.f)
			nested.initialized = true
		}
		if err := h.f.hydrate(nested, sub, h, ModeFull); err != nil {
			return err
		}
		e.markLoaded(p.Name)
		e.setValue(p.Name, nested)
		return nil
	}
}

// resolveRelated turns a to-one payload into the target instance: entities
// and references are used as-is, objects are created (merged), anything
// else is a bare key.
func (h *hydration) resolveRelated(target *meta.EntityMeta, raw any) (*Entity, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case *Entity:
		return v, nil
	case *Reference:
		return v.Unwrap(), nil
	}
	if obj, ok := ir.AsData(raw); ok {
		return h.f.create(target, obj.Clone(), h.nested())
	}
	return h.f.reference(target, raw, h.convertCustomTypes)
}

func (h *hydration) resolveItems(owner *Entity, p *meta.Property, target *meta.EntityMeta, raw any) ([]*Entity, error) {
	list, err := toList(raw)
	if err != nil {
		return nil, err
	}
	out := make([]*Entity, 0, len(list))
	for _, item := range list {
		if item == nil {
			continue
		}
		if obj, ok := ir.AsData(item); ok && p.Kind == meta.KindOneToMany && p.MappedBy != "" && !obj.Has(p.MappedBy) {
			obj = obj.Clone()
			obj[p.MappedBy] = owner
			item = obj
		}
		e, err := h.resolveRelated(target, item)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// toList accepts the list shapes a to-many payload may take.
func toList(raw any) ([]any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	case []*Entity:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out, nil
	case []*Reference:
		out := make([]any, len(v))
		for i, r := range v {
			out[i] = r
		}
		return out, nil
	case []ir.Data:
		out := make([]any, len(v))
		for i, d := range v {
			out[i] = d
		}
		return out, nil
	case []map[string]any:
		out := make([]any, len(v))
		for i, d := range v {
			out[i] = d
		}
		return out, nil
	}
	return nil, invalidInput("", "", "to-many value must be a list, got %T", raw)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// coerceTime converts date payloads: time.Time, RFC 3339 and SQL date
// strings, and unix seconds.
func coerceTime(v any) (time.Time, error) {
	switch val := v.(type) {
	case time.Time:
		return val, nil
	case []byte:
		return coerceTime(string(val))
	case string:
		s := strings.TrimSpace(val)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse date %q", val)
	}
	switch n := ir.Normalize(v).(type) {
	case int64:
		return time.Unix(n, 0).UTC(), nil
	case float64:
		sec := int64(n)
		return time.Unix(sec, int64((n-float64(sec))*1e9)).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("cannot convert %T to a date", v)
}

// withLocation fills in the entity and property of an *Error that has
// none.
func withLocation(err error, entity, property string) error {
	if e, ok := err.(*Error); ok && e.Entity == "" {
		e.Entity, e.Property = entity, property
	}
	return err
}
