package entity

import "github.com/roach88/ormcore/internal/meta"

// setReference stores target as the to-one value of p without propagation.
// An existing holder is retargeted in place. It reports whether anything
// changed.
func (e *Entity) setReference(p *meta.Property, target *Entity) bool {
	if target == nil {
		return e.setValue(p.Name, nil)
	}
	if r, ok := e.values[p.Name].(*Reference); ok && r != nil {
		if r.entity == target {
			return false
		}
		r.entity = target
		return true
	}
	e.values[p.Name] = &Reference{entity: target, owner: e, prop: p}
	return true
}

// setToOne sets a to-one relation and keeps the other side consistent:
//
//   - m:1 removes e from the old target's loaded inverse collection and adds
//     it to the new target's
//   - 1:1 clears the old partner and points the new target (and only it)
//     back at e
//
// skip is the collection driving the change, already updated by the caller.
func (e *Entity) setToOne(p *meta.Property, target *Entity, skip *Collection) {
	e.markLoaded(p.Name)
	old := e.Related(p.Name)
	if old == target {
		return
	}
	e.setReference(p, target)

	inv := p.Inverse()
	if inv == "" {
		return
	}
	switch p.Kind {
	case meta.KindManyToOne:
		if old != nil {
			if ic := old.Collection(inv); ic != nil && ic != skip && ic.initialized {
				ic.removeRaw(e)
			}
		}
		if target != nil {
			if ic := target.Collection(inv); ic != nil && ic != skip && ic.initialized {
				ic.addRaw(e)
			}
		}
	case meta.KindOneToOne:
		if old != nil && old.Related(inv) == e {
			old.setReference(old.meta.Property(inv), nil)
		}
		if target == nil {
			return
		}
		ip := target.meta.Property(inv)
		if ip == nil {
			return
		}
		if prev := target.Related(inv); prev != nil && prev != e && prev.Related(p.Name) == target {
			prev.setReference(p, nil)
		}
		target.setReference(ip, e)
		target.markLoaded(inv)
	}
}

// propagate mirrors an add or remove into the other side of the relation.
// Every step checks the current state first.
func (c *Collection) propagate(item *Entity, added bool) {
	inv := c.prop.Inverse()
	if inv == "" {
		return
	}
	switch c.prop.Kind {
	case meta.KindManyToMany:
		ic := item.Collection(inv)
		if ic == nil || !ic.initialized {
			return
		}
		if added {
			ic.addRaw(c.owner)
		} else {
			ic.removeRaw(c.owner)
		}
	case meta.KindOneToMany:
		fk := item.meta.Property(inv)
		if fk == nil {
			return
		}
		if added {
			item.setToOne(fk, c.owner, c)
		} else if item.Related(inv) == c.owner {
			item.setToOne(fk, nil, c)
		}
	}
}
