package entity

import (
	"go.uber.org/zap"

	"github.com/roach88/ormcore/internal/ir"
)

// MergeData merges a fresh payload into an existing instance without
// overwriting values the caller changed in memory since the last load.
func (f *Factory) MergeData(e *Entity, data any, opts ...CreateOption) error {
	obj, ok := ir.AsData(data)
	if !ok {
		return invalidInput(e.meta.Name, "", "merge data must be an object, got %T", data)
	}
	o := defaultCreateOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return f.mergeData(e, obj.Clone(), o)
}

// mergeData applies the keys of data that differ from the live state,
// skipping user-changed keys and nulls over present values. Collections and
// formulas present in the payload are always re-applied.
func (f *Factory) mergeData(e *Entity, data ir.Data, o createOptions) error {
	m := e.meta
	live := e.snapshot()
	payload := f.payloadRaw(m, data, o.convertCustomTypes)

	userChanged := make(map[string]bool)
	if e.originalData != nil {
		for _, k := range ir.DiffKeys(e.originalData, live) {
			userChanged[k] = true
		}
	}

	apply := make(map[string]bool)
	var incoming []string
	for _, k := range payload.SortedKeys() {
		v := payload[k]
		if userChanged[k] {
			continue
		}
		lv, has := live[k]
		if has && ir.Equal(lv, v) {
			continue
		}
		if v == nil && has && lv != nil {
			continue
		}
		incoming = append(incoming, k)
		apply[k] = true
	}
	for k := range data {
		if p := m.Property(k); p != nil && (p.IsToMany() || p.Formula != "") {
			apply[k] = true
		}
	}

	subset := make(ir.Data, len(apply))
	for k := range apply {
		subset[k] = data[k]
	}

	h := &hydration{f: f, newEntity: o.newEntity, convertCustomTypes: o.convertCustomTypes, merge: true}
	e.processing = true
	err := f.hydrate(e, subset, h, ModeFull)
	e.processing = false
	if err != nil {
		return err
	}

	if e.originalData == nil {
		e.originalData = ir.Data{}
	}
	for k := range apply {
		if v, ok := payload[k]; ok {
			e.originalData[k] = v
		}
	}

	if len(incoming) > 0 {
		f.logger.Debug("entity merged",
			zap.String("entity", m.Name),
			zap.String("key", keyLabel(e)),
			zap.Strings("properties", incoming))
	}

	return f.cascadeMerge(e, data, apply, o)
}

// cascadeMerge merges object payloads of to-one relations that were not
// re-applied into their already initialized targets.
func (f *Factory) cascadeMerge(e *Entity, data ir.Data, applied map[string]bool, o createOptions) error {
	for _, p := range e.meta.Properties {
		if !p.IsToOne() || applied[p.Name] {
			continue
		}
		obj, ok := ir.AsData(data[p.Name])
		if !ok {
			continue
		}
		target := e.Related(p.Name)
		if target == nil || !target.initialized || target.processing {
			continue
		}
		if err := f.mergeData(target, obj.Clone(), o); err != nil {
			return withLocation(err, e.meta.Name, p.Name)
		}
	}
	return nil
}
