package entity

import (
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/roach88/ormcore/internal/ir"
	"github.com/roach88/ormcore/internal/meta"
)

type createOptions struct {
	initialized        bool
	merge              bool
	newEntity          bool
	refresh            bool
	convertCustomTypes bool
	recomputeSnapshot  bool
}

func defaultCreateOptions() createOptions {
	return createOptions{initialized: true, merge: true}
}

// CreateOption configures Factory.Create and Factory.CreateReference.
type CreateOption func(*createOptions)

// Initialized selects a full (true, default) or reference-only (false)
// hydration.
func Initialized(v bool) CreateOption {
	return func(o *createOptions) {
		o.initialized = v
	}
}

// Merge controls registration in the unit of work (default true).
func Merge(v bool) CreateOption {
	return func(o *createOptions) {
		o.merge = v
	}
}

// NewEntity marks the payload as a not-yet-persisted entity: the
// constructor runs, generated keys are filled and collections start dirty.
func NewEntity() CreateOption {
	return func(o *createOptions) {
		o.newEntity = true
	}
}

// Refresh re-hydrates an existing instance instead of merging into it.
func Refresh() CreateOption {
	return func(o *createOptions) {
		o.refresh = true
	}
}

// ConvertCustomTypes treats the payload as database values and runs the
// custom type conversions.
func ConvertCustomTypes() CreateOption {
	return func(o *createOptions) {
		o.convertCustomTypes = true
	}
}

// RecomputeSnapshot replaces the original data with the full live state
// after hydration.
func RecomputeSnapshot() CreateOption {
	return func(o *createOptions) {
		o.recomputeSnapshot = true
	}
}

// Factory turns raw data into managed entities. It is the only writer of
// its unit of work.
//
// Thread-safety: a Factory belongs to one session and is not safe for
// concurrent use.
type Factory struct {
	rt      *Runtime
	uow     UnitOfWork
	session *Session
	logger  *zap.Logger
}

// UnitOfWork returns the identity map the factory registers into.
func (f *Factory) UnitOfWork() UnitOfWork {
	return f.uow
}

// Runtime returns the runtime the factory compiles plans with.
func (f *Factory) Runtime() *Runtime {
	return f.rt
}

func (f *Factory) platform() meta.Platform {
	if f.session != nil && f.session.driver != nil {
		return f.session.driver.Platform()
	}
	return f.rt.platform
}

// Create returns the managed instance for data: the existing one from the
// identity map (merged with data) or a newly constructed and hydrated one.
// data may be an object payload, an *Entity (returned unchanged) or a
// *Reference (unwrapped).
func (f *Factory) Create(typeName string, data any, opts ...CreateOption) (*Entity, error) {
	m, err := f.rt.md.Get(typeName)
	if err != nil {
		return nil, &Error{Code: CodeInvalidInput, Message: "unknown entity type", Entity: typeName, Err: err}
	}
	o := defaultCreateOptions()
	for _, opt := range opts {
		opt(&o)
	}

	switch v := data.(type) {
	case *Entity:
		if v != nil {
			return v, nil
		}
	case *Reference:
		if e := v.Unwrap(); e != nil {
			return e, nil
		}
	}
	obj, ok := ir.AsData(data)
	if !ok {
		return nil, invalidInput(m.Name, "", "entity data must be an object, got %T", data)
	}
	return f.create(m, obj.Clone(), o)
}

// create runs the factory algorithm on a working copy of the payload.
func (f *Factory) create(m *meta.EntityMeta, data ir.Data, o createOptions) (*Entity, error) {
	m, err := f.resolveSubtype(m, data)
	if err != nil {
		return nil, err
	}
	if m.Embeddable {
		return nil, invalidInput(m.Name, "", "embeddable types are created through their owner")
	}

	e := f.lookup(m, data)
	existing := e != nil
	if existing {
		if e.processing {
			return e, nil
		}
		switch {
		case e.meta == m || e.meta.IsSubtypeOf(m):
		case m.IsSubtypeOf(e.meta):
			e.meta = m
		default:
			return nil, invalidInput(m.Name, "", "identity %s is already a %s", keyLabel(e), e.meta.Name)
		}
		if e.initialized && !o.refresh {
			if err := f.mergeData(e, data, o); err != nil {
				return nil, err
			}
			if o.recomputeSnapshot {
				e.originalData = e.snapshot()
			}
			return e, nil
		}
		if !o.initialized && !o.refresh {
			return e, nil
		}
	} else {
		if o.initialized && m.Abstract {
			return nil, newError(CodePolymorphicBase, m.Name, "",
				"cannot build abstract type without a discriminator value")
		}
		if o.newEntity || m.ForceConstructor || f.rt.forceConstructor {
			e, err = f.constructNew(m, data, o)
			if err != nil {
				return nil, err
			}
		} else {
			e = f.constructBare(m)
		}
		e.managed = !o.newEntity
	}

	h := &hydration{f: f, newEntity: o.newEntity, convertCustomTypes: o.convertCustomTypes, merge: o.merge}
	e.processing = true
	err = f.hydrate(e, data, h, ModeReference)
	if err == nil && !existing && o.merge && e.PrimaryKey() != nil {
		f.uow.Register(e, nil, RegisterOptions{})
	}
	if err == nil && o.initialized {
		err = f.hydrate(e, data, h, ModeFull)
	}
	e.processing = false
	if err != nil {
		return nil, err
	}

	if o.initialized {
		e.initialized = true
	}
	if !o.newEntity {
		payload := f.payloadRaw(e.meta, data, o.convertCustomTypes)
		if o.refresh || e.originalData == nil {
			e.originalData = payload
		} else {
			for k, v := range payload {
				e.originalData[k] = v
			}
		}
	}
	if o.merge && e.PrimaryKey() != nil {
		f.uow.Register(e, data, RegisterOptions{Refresh: o.refresh, Loaded: o.initialized})
	}
	if o.recomputeSnapshot {
		e.originalData = e.snapshot()
	}
	return e, nil
}

// constructNew runs the descriptor constructor with parameters resolved from
// data, fills generated keys and the discriminator value. Constructor
// results only seed properties the payload does not carry.
func (f *Factory) constructNew(m *meta.EntityMeta, data ir.Data, o createOptions) (*Entity, error) {
	e := newEntity(m, f)

	if m.Constructor != nil {
		h := &hydration{f: f, newEntity: o.newEntity, convertCustomTypes: o.convertCustomTypes, merge: o.merge}
		params := make(map[string]any, len(m.ConstructorParams))
		for _, name := range m.ConstructorParams {
			v, ok := data[name]
			if !ok {
				continue
			}
			if p := m.Property(name); p != nil && p.IsToOne() && v != nil {
				target, err := f.rt.md.Get(p.Target)
				if err != nil {
					return nil, err
				}
				related, err := h.resolveRelated(target, v)
				if err != nil {
					return nil, withLocation(err, m.Name, name)
				}
				v = related
			}
			params[name] = v
		}
		for k, v := range m.Constructor(params) {
			p := m.Property(k)
			if p == nil || p.Class() != meta.ClassScalar || data.Has(k) {
				continue
			}
			e.values[k] = v
			e.markLoaded(k)
		}
	}

	for _, p := range m.PrimaryProperties() {
		if p.Generated != "uuid" || data[p.Name] != nil || e.values[p.Name] != nil {
			continue
		}
		var id any = f.rt.keys.Generate()
		if p.CustomType != nil {
			conv, err := p.CustomType.ConvertToEntityValue(id, f.platform())
			if err != nil {
				return nil, invalidInput(m.Name, p.Name, "generated key: %v", err)
			}
			id = conv
		}
		data[p.Name] = id
	}

	if col := m.RootMeta().DiscriminatorColumn; col != "" && m.DiscriminatorValue != "" && !data.Has(col) {
		data[col] = m.DiscriminatorValue
	}
	return e, nil
}

// constructBare allocates an empty instance without running user
// initialization; used for rows that are already persisted.
func (f *Factory) constructBare(m *meta.EntityMeta) *Entity {
	return newEntity(m, f)
}

// resolveSubtype switches m to the concrete type named by the payload's
// discriminator value.
func (f *Factory) resolveSubtype(m *meta.EntityMeta, data ir.Data) (*meta.EntityMeta, error) {
	root := m.RootMeta()
	col := root.DiscriminatorColumn
	if col == "" {
		return m, nil
	}
	v, ok := data[col]
	if !ok || v == nil {
		return m, nil
	}
	value := fmt.Sprint(v)
	name, ok := root.DiscriminatorMap[value]
	if !ok {
		return nil, invalidInput(m.Name, col, "unknown discriminator value %q", value)
	}
	sub, err := f.rt.md.Get(name)
	if err != nil {
		return nil, err
	}
	if !sub.IsSubtypeOf(m) {
		return nil, invalidInput(m.Name, col, "discriminator %q selects %s, which is not a %s", value, sub.Name, m.Name)
	}
	return sub, nil
}

// lookup finds the instance for data by primary key, then by unique keys.
// Incomplete keys never match.
func (f *Factory) lookup(m *meta.EntityMeta, data ir.Data) *Entity {
	if key := f.keyFromData(m, m.PrimaryKeys, data); key != nil {
		if e := f.uow.Lookup(m, key); e != nil {
			return e
		}
	}
	for _, uk := range m.UniqueKeys {
		if values := f.keyFromData(m, uk, data); values != nil {
			if e := f.uow.LookupUnique(m, uk, values); e != nil {
				return e
			}
		}
	}
	return nil
}

// CreateReference returns the instance identified by key, creating an
// uninitialized reference when the identity map has none. key may be a
// scalar, a composite []any, a primary-key or unique-key map, an *Entity or
// a *Reference.
func (f *Factory) CreateReference(typeName string, key any, opts ...CreateOption) (*Entity, error) {
	m, err := f.rt.md.Get(typeName)
	if err != nil {
		return nil, &Error{Code: CodeInvalidInput, Message: "unknown entity type", Entity: typeName, Err: err}
	}
	o := defaultCreateOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return f.reference(m, key, o.convertCustomTypes)
}

func (f *Factory) reference(m *meta.EntityMeta, key any, convert bool) (*Entity, error) {
	switch v := key.(type) {
	case *Entity:
		if v != nil {
			return v, nil
		}
	case *Reference:
		if e := v.Unwrap(); e != nil {
			return e, nil
		}
	}
	data, props, err := f.keyData(m, key)
	if err != nil {
		return nil, err
	}
	return f.referenceFromData(m, data, props, convert)
}

// keyData normalizes a reference key into a payload of key properties and
// returns the properties that identify the entity: the primary key or the
// first complete unique key of a map.
func (f *Factory) keyData(m *meta.EntityMeta, key any) (ir.Data, []string, error) {
	if obj, ok := ir.AsData(key); ok {
		if f.keyFromData(m, m.PrimaryKeys, obj) != nil {
			return obj, m.PrimaryKeys, nil
		}
		for _, uk := range m.UniqueKeys {
			if f.keyFromData(m, uk, obj) != nil {
				return obj, uk, nil
			}
		}
		return nil, nil, invalidInput(m.Name, "", "reference needs a primary or unique key")
	}

	parts, ok := key.([]any)
	if !ok {
		parts = []any{key}
	}
	if len(parts) != len(m.PrimaryKeys) {
		return nil, nil, invalidInput(m.Name, "", "key has %d components, %s needs %d", len(parts), m.Name, len(m.PrimaryKeys))
	}
	data := make(ir.Data, len(parts))
	for i, name := range m.PrimaryKeys {
		if parts[i] == nil {
			return nil, nil, invalidInput(m.Name, name, "key component is null")
		}
		data[name] = parts[i]
	}
	return data, m.PrimaryKeys, nil
}

// referenceFromData resolves or builds the reference identified by the
// props of data.
func (f *Factory) referenceFromData(m *meta.EntityMeta, data ir.Data, props []string, convert bool) (*Entity, error) {
	values := f.keyFromData(m, props, data)
	if values == nil {
		return nil, invalidInput(m.Name, "", "incomplete key %v", props)
	}
	primary := slices.Equal(props, m.PrimaryKeys)
	if primary {
		if e := f.uow.Lookup(m, values); e != nil {
			return e, nil
		}
	} else if e := f.uow.LookupUnique(m, props, values); e != nil {
		return e, nil
	}

	e := f.constructBare(m)
	e.managed = true
	h := &hydration{f: f, convertCustomTypes: convert, merge: true}
	subset := make(ir.Data, len(props))
	for _, name := range props {
		subset[name] = data[name]
	}
	if err := f.hydrateProps(e, subset, h, props); err != nil {
		return nil, err
	}
	f.uow.Register(e, nil, RegisterOptions{})
	f.logger.Debug("reference created",
		zap.String("entity", m.Name),
		zap.Strings("key", props),
		zap.Any("value", collapseKey(values)))
	return e, nil
}

// hydrateProps runs only the full-plan steps of the named properties.
func (f *Factory) hydrateProps(e *Entity, data ir.Data, h *hydration, names []string) error {
	p, err := f.rt.plan(e.meta, ModeFull)
	if err != nil {
		return err
	}
	for _, s := range p.steps {
		if !slices.Contains(names, s.prop.Name) {
			continue
		}
		if err := s.apply(e, data, h); err != nil {
			return err
		}
	}
	return nil
}

// keyFromData extracts the storage form of the named properties from a
// payload, or nil when any of them is missing or null.
func (f *Factory) keyFromData(m *meta.EntityMeta, names []string, data ir.Data) []any {
	if len(names) == 0 {
		return nil
	}
	out := make([]any, 0, len(names))
	for _, name := range names {
		p := m.Property(name)
		v, ok := data[name]
		if p == nil || !ok || v == nil {
			return nil
		}
		raw := f.rawValue(p, v, false)
		if raw == nil {
			return nil
		}
		out = append(out, raw)
	}
	return out
}

// rawValue converts one payload value to the raw form kept in original
// data: to-one payloads become the target key, dates become time.Time and
// custom types their database form. fromDB marks custom-type values that
// are already in database form; they are canonicalized through the entity
// form instead of being converted again.
func (f *Factory) rawValue(p *meta.Property, v any, fromDB bool) any {
	if v == nil {
		return nil
	}
	if obj, ok := ir.AsData(v); ok {
		switch {
		case p.IsToOne():
			target, err := f.rt.md.Get(p.Target)
			if err != nil {
				return nil
			}
			return collapseKey(f.keyFromData(target, target.PrimaryKeys, obj))
		case p.Kind == meta.KindEmbedded:
			emb, err := f.rt.md.Get(p.Embeddable)
			if err != nil {
				return nil
			}
			nested := make(map[string]any, len(obj))
			for k, nv := range obj {
				if ep := emb.Property(k); ep != nil {
					nested[k] = f.rawValue(ep, nv, fromDB)
				}
			}
			return nested
		}
	}
	if nested, ok := v.(*Entity); ok && p.Kind == meta.KindEmbedded {
		return map[string]any(nested.snapshot())
	}
	if p.IsDate() && p.CustomType == nil {
		if t, err := coerceTime(v); err == nil {
			return t
		}
	}
	if fromDB && p.CustomType != nil {
		ev, err := p.CustomType.ConvertToEntityValue(v, f.platform())
		if err != nil {
			return nil
		}
		v = ev
	}
	raw, ok := storageValue(p, v, f.platform())
	if !ok {
		return nil
	}
	return raw
}

// payloadRaw converts a payload to original-data form. To-many keys are
// dropped; flattened embeddable columns are kept under their prefixed
// names.
func (f *Factory) payloadRaw(m *meta.EntityMeta, data ir.Data, fromDB bool) ir.Data {
	out := make(ir.Data, len(data))
	for k, v := range data {
		p := m.Property(k)
		if p == nil {
			if ep := f.flattenedProperty(m, k); ep != nil {
				out[k] = f.rawValue(ep, v, fromDB)
			}
			continue
		}
		if p.IsToMany() {
			continue
		}
		out[k] = f.rawValue(p, v, fromDB)
	}
	return out
}

// flattenedProperty resolves a prefixed column name of a flattened
// embeddable to the embeddable's property.
func (f *Factory) flattenedProperty(m *meta.EntityMeta, key string) *meta.Property {
	for _, p := range m.Properties {
		if p.Kind != meta.KindEmbedded || p.Object || !strings.HasPrefix(key, p.Prefix) {
			continue
		}
		emb, err := f.rt.md.Get(p.Embeddable)
		if err != nil {
			continue
		}
		if ep := emb.Property(strings.TrimPrefix(key, p.Prefix)); ep != nil {
			return ep
		}
	}
	return nil
}

func keyLabel(e *Entity) string {
	if k, err := e.IdentityKey(); err == nil {
		return k
	}
	return e.meta.Name
}
