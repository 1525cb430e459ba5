package entity

import (
	"slices"

	"github.com/roach88/ormcore/internal/ir"
	"github.com/roach88/ormcore/internal/meta"
)

// UnitOfWork is the identity map the factory reads and writes. Keys are in
// storage form; lookups are by inheritance root.
type UnitOfWork interface {
	Lookup(m *meta.EntityMeta, key []any) *Entity
	LookupUnique(m *meta.EntityMeta, props []string, values []any) *Entity
	Register(e *Entity, data ir.Data, opts RegisterOptions)
	ScheduleOrphanRemoval(e *Entity)
	CancelOrphanRemoval(e *Entity)
}

// RegisterOptions describe why an instance is registered.
type RegisterOptions struct {
	// Refresh is set when the instance was re-hydrated from storage.
	Refresh bool
	// Loaded is set when the instance is fully initialized.
	Loaded bool
}

// IdentityMap is the default in-memory UnitOfWork: one instance per
// identity key, secondary indexes per unique key, and the ordered list of
// instances scheduled for orphan removal.
//
// Thread-safety: not safe for concurrent use; it belongs to one session.
type IdentityMap struct {
	byKey    map[string]*Entity
	byUnique map[string]*Entity
	orphans  []*Entity
}

var _ UnitOfWork = (*IdentityMap)(nil)

// NewIdentityMap creates an empty identity map.
func NewIdentityMap() *IdentityMap {
	return &IdentityMap{
		byKey:    make(map[string]*Entity),
		byUnique: make(map[string]*Entity),
	}
}

// Lookup returns the instance registered under key, or nil. Partial keys
// never match.
func (im *IdentityMap) Lookup(m *meta.EntityMeta, key []any) *Entity {
	k, err := ir.IdentityKey(m.RootMeta().Name, key)
	if err != nil {
		return nil
	}
	return im.byKey[k]
}

// LookupUnique returns the instance registered under a unique key, or nil.
func (im *IdentityMap) LookupUnique(m *meta.EntityMeta, props []string, values []any) *Entity {
	k, err := ir.UniqueKey(m.RootMeta().Name, props, values)
	if err != nil {
		return nil
	}
	return im.byUnique[k]
}

// Register indexes e under its primary key and every complete unique key.
// The first instance registered under a key keeps it.
func (im *IdentityMap) Register(e *Entity, _ ir.Data, _ RegisterOptions) {
	root := e.meta.RootMeta().Name
	if k, err := ir.IdentityKey(root, e.PrimaryKey()); err == nil {
		if _, ok := im.byKey[k]; !ok {
			im.byKey[k] = e
		}
	}
	for _, uk := range e.meta.UniqueKeys {
		values := e.keyOf(uk)
		if values == nil {
			continue
		}
		k, err := ir.UniqueKey(root, uk, values)
		if err != nil {
			continue
		}
		if _, ok := im.byUnique[k]; !ok {
			im.byUnique[k] = e
		}
	}
}

// ScheduleOrphanRemoval records e for removal. Scheduling twice is a no-op.
func (im *IdentityMap) ScheduleOrphanRemoval(e *Entity) {
	if !slices.Contains(im.orphans, e) {
		im.orphans = append(im.orphans, e)
	}
}

// CancelOrphanRemoval forgets a scheduled removal.
func (im *IdentityMap) CancelOrphanRemoval(e *Entity) {
	im.orphans = slices.DeleteFunc(im.orphans, func(o *Entity) bool { return o == e })
}

// OrphanRemovals returns the instances scheduled for removal in scheduling
// order.
func (im *IdentityMap) OrphanRemovals() []*Entity {
	return slices.Clone(im.orphans)
}

// Len returns the number of instances indexed by primary key.
func (im *IdentityMap) Len() int {
	return len(im.byKey)
}

// Entities returns the registered instances sorted by identity key.
func (im *IdentityMap) Entities() []*Entity {
	keys := make([]string, 0, len(im.byKey))
	for k := range im.byKey {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]*Entity, len(keys))
	for i, k := range keys {
		out[i] = im.byKey[k]
	}
	return out
}

// Clear drops every instance and scheduled removal.
func (im *IdentityMap) Clear() {
	clear(im.byKey)
	clear(im.byUnique)
	im.orphans = nil
}
