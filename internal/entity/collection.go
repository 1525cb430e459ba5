package entity

import (
	"iter"
	"slices"

	"github.com/roach88/ormcore/internal/meta"
)

// Collection holds the items of one to-many relation of one owner.
//
// Items are ordered and unique by instance. An uninitialized collection
// accepts Add (the items are kept as pending and survive Init) but refuses
// reads and Remove.
//
// Thread-safety: not safe for concurrent use. Concurrent Init calls on the
// same collection share one query.
type Collection struct {
	owner *Entity
	prop  *meta.Property

	items       []*Entity
	initialized bool
	dirty       bool

	snapshot    []*Entity
	hasSnapshot bool

	// count is a hint loaded by LoadCount or derived from the items.
	count      int
	countKnown bool

	// pending are items added before initialization.
	pending []*Entity
}

func newCollection(owner *Entity, prop *meta.Property, initialized bool) *Collection {
	c := &Collection{owner: owner, prop: prop, initialized: initialized}
	if initialized {
		c.countKnown = true
	}
	return c
}

// Owner returns the entity holding the collection.
func (c *Collection) Owner() *Entity {
	return c.owner
}

// Property returns the relation descriptor.
func (c *Collection) Property() *meta.Property {
	return c.prop
}

// Add appends items that are not present yet. Items may be entities,
// references or bare keys of the target type.
func (c *Collection) Add(items ...any) error {
	resolved, err := c.resolve(items)
	if err != nil {
		return err
	}
	if err := c.validateModification(resolved); err != nil {
		return err
	}

	changed := false
	for _, it := range resolved {
		if c.contains(it) {
			continue
		}
		c.items = append(c.items, it)
		if !c.initialized {
			c.pending = append(c.pending, it)
		}
		if c.countKnown {
			c.count++
		}
		changed = true
		c.cancelOrphanRemoval(it)
		c.propagate(it, true)
	}
	if changed {
		c.updateDirty()
	}
	return nil
}

// Remove removes items. Every item is validated before anything changes.
func (c *Collection) Remove(items ...any) error {
	if !c.initialized {
		return c.errUninitialized()
	}
	resolved, err := c.resolve(items)
	if err != nil {
		return err
	}
	if err := c.validateModification(resolved); err != nil {
		return err
	}
	for _, it := range resolved {
		if c.contains(it) {
			if err := c.validateRemoval(it); err != nil {
				return err
			}
		}
	}

	changed := false
	for _, it := range resolved {
		idx := slices.Index(c.items, it)
		if idx < 0 {
			continue
		}
		c.items = slices.Delete(c.items, idx, idx+1)
		if c.countKnown && c.count > 0 {
			c.count--
		}
		changed = true
		if c.prop.OrphanRemoval {
			c.scheduleOrphanRemoval(it)
		}
		c.propagate(it, false)
	}
	if changed {
		c.updateDirty()
	}
	return nil
}

// RemoveAll removes every item.
func (c *Collection) RemoveAll() error {
	if !c.initialized {
		return c.errUninitialized()
	}
	all := make([]any, len(c.items))
	for i, it := range c.items {
		all[i] = it
	}
	return c.Remove(all...)
}

// Set replaces the items. An identical sequence is a no-op; otherwise the
// missing items are removed, the new ones added and the given order kept.
// Set initializes an uninitialized collection without a baseline.
func (c *Collection) Set(items ...any) error {
	resolved, err := c.resolve(items)
	if err != nil {
		return err
	}
	resolved = dedupe(resolved)
	if c.initialized && slices.Equal(c.items, resolved) {
		return nil
	}

	var removed, added []*Entity
	for _, it := range c.items {
		if !slices.Contains(resolved, it) {
			removed = append(removed, it)
		}
	}
	for _, it := range resolved {
		if !slices.Contains(c.items, it) {
			added = append(added, it)
		}
	}
	if err := c.validateModification(append(slices.Clone(removed), added...)); err != nil {
		return err
	}
	for _, it := range removed {
		if err := c.validateRemoval(it); err != nil {
			return err
		}
	}

	if !c.initialized {
		c.initialized = true
		c.snapshot, c.hasSnapshot = nil, false
	}
	c.items = resolved
	c.pending = nil
	c.count, c.countKnown = len(resolved), true

	for _, it := range removed {
		if c.prop.OrphanRemoval {
			c.scheduleOrphanRemoval(it)
		}
		c.propagate(it, false)
	}
	for _, it := range added {
		c.cancelOrphanRemoval(it)
		c.propagate(it, true)
	}
	c.updateDirty()
	return nil
}

// Hydrate replaces the items with loaded data and marks the collection
// initialized. Pending items are kept.
func (c *Collection) Hydrate(items []*Entity) {
	c.hydrate(items, false)
}

func (c *Collection) hydrate(items []*Entity, markDirty bool) {
	items = dedupe(items)
	if c.initialized && len(c.pending) == 0 && slices.Equal(c.items, items) {
		return
	}
	c.items = items
	c.initialized = true
	c.count, c.countKnown = len(items), true
	if markDirty {
		c.dirty = true
	} else {
		c.TakeSnapshot()
	}

	if len(c.pending) == 0 {
		return
	}
	changed := false
	for _, it := range c.pending {
		if !c.contains(it) {
			c.items = append(c.items, it)
			c.count++
			changed = true
		}
	}
	c.pending = nil
	if changed {
		c.updateDirty()
	}
}

// GetItems returns a copy of the items. With checkInit, reading an
// uninitialized collection is an error.
func (c *Collection) GetItems(checkInit bool) ([]*Entity, error) {
	if checkInit && !c.initialized {
		return nil, c.errUninitialized()
	}
	return slices.Clone(c.items), nil
}

// Contains reports whether the entity behind item is present.
func (c *Collection) Contains(item any) bool {
	e, ok := unwrap(item)
	return ok && c.contains(e)
}

// Count returns the number of items, or the cached count of an
// uninitialized collection.
func (c *Collection) Count() (int, error) {
	if c.initialized {
		return len(c.items), nil
	}
	if c.countKnown {
		return c.count, nil
	}
	return 0, c.errUninitialized()
}

// IsEmpty reports whether the collection has no items.
func (c *Collection) IsEmpty() (bool, error) {
	n, err := c.Count()
	return n == 0, err
}

// Slice returns the half-open window [start, end) in insertion order,
// clamped to the items.
func (c *Collection) Slice(start, end int) ([]*Entity, error) {
	if !c.initialized {
		return nil, c.errUninitialized()
	}
	start = max(0, min(start, len(c.items)))
	end = max(start, min(end, len(c.items)))
	return slices.Clone(c.items[start:end]), nil
}

// All iterates the items currently in memory.
func (c *Collection) All() iter.Seq2[int, *Entity] {
	items := slices.Clone(c.items)
	return func(yield func(int, *Entity) bool) {
		for i, it := range items {
			if !yield(i, it) {
				return
			}
		}
	}
}

// Len returns the number of items in memory without an initialization
// check.
func (c *Collection) Len() int {
	return len(c.items)
}

// GetIdentifiers returns the primary keys of the items, or the values of
// field when given.
func (c *Collection) GetIdentifiers(field ...string) ([]any, error) {
	if !c.initialized {
		return nil, c.errUninitialized()
	}
	out := make([]any, len(c.items))
	for i, it := range c.items {
		if len(field) > 0 {
			out[i] = it.Value(field[0])
			continue
		}
		out[i] = it.KeyValue()
	}
	return out, nil
}

// TakeSnapshot stores the current items as the clean baseline.
func (c *Collection) TakeSnapshot() {
	c.snapshot = slices.Clone(c.items)
	c.hasSnapshot = true
	c.dirty = false
}

// GetSnapshot returns the baseline items, or nil when none was taken.
func (c *Collection) GetSnapshot() []*Entity {
	if !c.hasSnapshot {
		return nil
	}
	return slices.Clone(c.snapshot)
}

// IsDirty reports whether the items differ from the baseline.
func (c *Collection) IsDirty() bool {
	return c.dirty
}

// SetDirty overrides the dirty flag.
func (c *Collection) SetDirty(dirty bool) {
	c.dirty = dirty
}

// IsInitialized reports whether the items are loaded; fully also requires
// every item to be initialized.
func (c *Collection) IsInitialized(fully bool) bool {
	if !c.initialized {
		return false
	}
	if !fully {
		return true
	}
	for _, it := range c.items {
		if !it.initialized {
			return false
		}
	}
	return true
}

func (c *Collection) contains(e *Entity) bool {
	return slices.Contains(c.items, e)
}

// updateDirty recomputes the flag against the baseline as a set. Without a
// baseline every change is dirty.
func (c *Collection) updateDirty() {
	if !c.hasSnapshot {
		c.dirty = true
		return
	}
	c.dirty = !sameMembers(c.items, c.snapshot)
}

// addRaw and removeRaw change the items without propagation; used when the
// other side of the relation drives the change.
func (c *Collection) addRaw(e *Entity) {
	if c.contains(e) {
		return
	}
	c.items = append(c.items, e)
	if c.countKnown {
		c.count++
	}
	c.updateDirty()
}

func (c *Collection) removeRaw(e *Entity) {
	idx := slices.Index(c.items, e)
	if idx < 0 {
		return
	}
	c.items = slices.Delete(c.items, idx, idx+1)
	if c.countKnown && c.count > 0 {
		c.count--
	}
	c.updateDirty()
}

// resolve maps Add/Remove/Set arguments to target instances.
func (c *Collection) resolve(items []any) ([]*Entity, error) {
	target, err := c.targetMeta()
	if err != nil {
		return nil, err
	}
	out := make([]*Entity, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case []*Entity:
			for _, e := range v {
				if err := c.checkTarget(target, e); err != nil {
					return nil, err
				}
				out = append(out, e)
			}
			continue
		case []any:
			nested, err := c.resolve(v)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
			continue
		}

		e, ok := unwrap(item)
		if !ok {
			if item == nil || isInstance(item) {
				return nil, invalidInput(c.owner.meta.Name, c.prop.Name, "cannot add a nil %s", target.Name)
			}
			if c.owner.factory == nil {
				return nil, invalidInput(c.owner.meta.Name, c.prop.Name, "bare key %v needs a factory", item)
			}
			e, err = c.owner.factory.reference(target, item, false)
			if err != nil {
				return nil, withLocation(err, c.owner.meta.Name, c.prop.Name)
			}
		}
		if err := c.checkTarget(target, e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (c *Collection) checkTarget(target *meta.EntityMeta, e *Entity) error {
	if e == nil {
		return invalidInput(c.owner.meta.Name, c.prop.Name, "cannot add a nil %s", target.Name)
	}
	if !e.meta.IsSubtypeOf(target) {
		return invalidInput(c.owner.meta.Name, c.prop.Name, "expected %s, got %s", target.Name, e.meta.Name)
	}
	return nil
}

func (c *Collection) targetMeta() (*meta.EntityMeta, error) {
	if c.owner.factory == nil {
		return nil, invalidInput(c.owner.meta.Name, c.prop.Name, "collection owner has no factory")
	}
	return c.owner.factory.rt.md.Get(c.prop.Target)
}

// validateModification refuses changes to an inverse many-to-many side
// whose owning side cannot record them: the item is a reference and its
// owning collection is not loaded. Pivot-table drivers persist either side.
func (c *Collection) validateModification(items []*Entity) error {
	if c.prop.Kind != meta.KindManyToMany || c.prop.Owner {
		return nil
	}
	if s := c.owner.Session(); s != nil && s.driver.UsesPivotTable() {
		return nil
	}
	for _, it := range items {
		if it.initialized {
			continue
		}
		if owning := it.Collection(c.prop.MappedBy); owning == nil || !owning.initialized {
			return invariantViolation(c.owner.meta.Name, c.prop.Name,
				"cannot modify inverse side while %s.%s of %s is not loaded",
				it.meta.Name, c.prop.MappedBy, keyLabel(it))
		}
	}
	return nil
}

// validateRemoval refuses to detach a one-to-many child whose foreign key
// cannot be cleared.
func (c *Collection) validateRemoval(it *Entity) error {
	if c.prop.Kind != meta.KindOneToMany {
		return nil
	}
	fk := it.meta.Property(c.prop.MappedBy)
	if fk == nil || fk.Nullable || c.prop.OrphanRemoval || c.prop.Cascade.Has(meta.CascadeRemove) {
		return nil
	}
	return invariantViolation(c.owner.meta.Name, c.prop.Name,
		"cannot remove %s: %s.%s is not nullable and orphan removal is disabled",
		keyLabel(it), it.meta.Name, fk.Name)
}

func (c *Collection) scheduleOrphanRemoval(e *Entity) {
	if f := c.owner.factory; f != nil && f.uow != nil {
		f.uow.ScheduleOrphanRemoval(e)
	}
}

func (c *Collection) cancelOrphanRemoval(e *Entity) {
	if f := c.owner.factory; f != nil && f.uow != nil && c.prop.OrphanRemoval {
		f.uow.CancelOrphanRemoval(e)
	}
}

func (c *Collection) errUninitialized() error {
	return newError(CodeUninitializedCollection, c.owner.meta.Name, c.prop.Name,
		"collection of %s is not initialized", keyLabel(c.owner))
}

func dedupe(items []*Entity) []*Entity {
	out := make([]*Entity, 0, len(items))
	for _, it := range items {
		if it != nil && !slices.Contains(out, it) {
			out = append(out, it)
		}
	}
	return out
}

func sameMembers(a, b []*Entity) bool {
	if len(a) != len(b) {
		return false
	}
	for _, it := range a {
		if !slices.Contains(b, it) {
			return false
		}
	}
	return true
}

func isInstance(v any) bool {
	switch v.(type) {
	case *Entity, *Reference:
		return true
	}
	return false
}

// keysOf returns the storage keys of items, skipping incomplete ones.
func keysOf(items []*Entity) [][]any {
	out := make([][]any, 0, len(items))
	for _, it := range items {
		if k := it.PrimaryKey(); k != nil {
			out = append(out, k)
		}
	}
	return out
}
