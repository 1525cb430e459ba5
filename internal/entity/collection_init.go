package entity

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/ormcore/internal/ir"
	"github.com/roach88/ormcore/internal/meta"
	"github.com/roach88/ormcore/internal/queryir"
)

// Init loads the items. It is a no-op when the collection and every item are
// already initialized. On failure the collection is left as it was.
//
// Where is conjoined with the relation's own filter. OrderBy replaces the
// relation's default order; without any order, loaded items follow the
// order of the references the collection already knew.
func (c *Collection) Init(ctx context.Context, opts ...QueryOption) error {
	if c.IsInitialized(true) {
		return nil
	}
	s := c.owner.Session()
	if s == nil {
		return noSession(c.owner.meta.Name, c.prop.Name, "initializing a collection")
	}
	key, err := c.owner.IdentityKey()
	if err != nil {
		return invalidInput(c.owner.meta.Name, c.prop.Name, "owner has no complete key")
	}
	o := applyQueryOptions(opts)
	if o.where == nil && len(o.orderBy) == 0 {
		_, err, _ = s.loads.Do("init:"+key+"."+c.prop.Name, func() (any, error) {
			return nil, c.load(ctx, s, o)
		})
		return err
	}
	return c.load(ctx, s, o)
}

// LoadItems initializes the collection and returns its items.
func (c *Collection) LoadItems(ctx context.Context, opts ...QueryOption) ([]*Entity, error) {
	if err := c.Init(ctx, opts...); err != nil {
		return nil, err
	}
	return c.GetItems(true)
}

func (c *Collection) load(ctx context.Context, s *Session, o queryOptions) error {
	if c.IsInitialized(true) {
		return nil
	}
	target, err := s.rt.md.Get(c.prop.Target)
	if err != nil {
		return err
	}

	where := queryir.Conjoin(queryir.FromMap(c.prop.Where), o.where)
	order := o.orderBy
	if len(order) == 0 {
		order = relationOrder(c.prop)
	}

	start := time.Now()
	var (
		rows  []ir.Data
		known []*Entity
	)
	switch {
	case c.prop.Kind == meta.KindManyToMany && s.driver.UsesPivotTable():
		owner := c.owner.PrimaryKey()
		groups, err := s.driver.LoadFromPivotTable(ctx, c.prop, [][]any{owner}, where, order)
		if err != nil {
			return c.loadFailed(s, err)
		}
		ks, err := ir.KeyString(owner)
		if err != nil {
			return invalidInput(c.owner.meta.Name, c.prop.Name, "owner key: %v", err)
		}
		rows = groups[ks]

	case c.prop.Kind == meta.KindManyToMany && c.prop.Owner:
		if !c.initialized && !c.owner.initialized {
			if err := s.load(ctx, c.owner); err != nil {
				return c.loadFailed(s, err)
			}
			if c.IsInitialized(true) {
				return nil
			}
		}
		if c.initialized {
			known = slices.Clone(c.items)
		}
		if len(known) == 0 {
			// the owner holds no references: nothing to query
			c.hydrate(nil, false)
			c.owner.markLoaded(c.prop.Name)
			return nil
		}
		rows, err = s.driver.Find(ctx, target, queryir.Select{
			From:    target.Name,
			Filter:  queryir.Conjoin(c.keyFilter(target, known), where),
			OrderBy: order,
		})
		if err != nil {
			return c.loadFailed(s, err)
		}

	default:
		if c.initialized {
			known = slices.Clone(c.items)
		}
		rows, err = s.driver.Find(ctx, target, queryir.Select{
			From:    target.Name,
			Filter:  queryir.Conjoin(queryir.Equals{Field: c.prop.MappedBy, Value: c.owner.KeyValue()}, where),
			OrderBy: order,
		})
		if err != nil {
			return c.loadFailed(s, err)
		}
	}

	items, err := s.createAll(target, rows, false)
	if err != nil {
		return err
	}
	if c.initialized && c.dirty {
		// unsaved membership changes win; the load only initialized the items
		c.owner.markLoaded(c.prop.Name)
		return nil
	}
	if len(order) == 0 && len(known) > 0 {
		items = reorder(items, known)
	}
	c.hydrate(items, false)
	c.owner.markLoaded(c.prop.Name)

	s.logger.Debug("collection initialized",
		zap.String("entity", c.owner.meta.Name),
		zap.String("property", c.prop.Name),
		zap.Int("items", len(items)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// LoadCount returns the number of items, querying the driver unless the
// count is known. The result is cached as a hint; refresh forces a query.
func (c *Collection) LoadCount(ctx context.Context, refresh bool) (int, error) {
	if !refresh {
		if c.initialized {
			return len(c.items), nil
		}
		if c.countKnown {
			return c.count, nil
		}
	}
	s := c.owner.Session()
	if s == nil {
		return 0, noSession(c.owner.meta.Name, c.prop.Name, "counting a collection")
	}
	target, err := s.rt.md.Get(c.prop.Target)
	if err != nil {
		return 0, err
	}

	var n int
	switch {
	case c.prop.Kind == meta.KindManyToMany && s.driver.UsesPivotTable():
		owner := c.owner.PrimaryKey()
		groups, err := s.driver.LoadFromPivotTable(ctx, c.prop, [][]any{owner}, queryir.FromMap(c.prop.Where), nil)
		if err != nil {
			return 0, c.loadFailed(s, err)
		}
		ks, _ := ir.KeyString(owner)
		n = len(groups[ks])
	case c.prop.Kind == meta.KindManyToMany && c.prop.Owner:
		if err := c.Init(ctx); err != nil {
			return 0, err
		}
		n = len(c.items)
	default:
		n, err = s.driver.Count(ctx, target, queryir.Conjoin(
			queryir.Equals{Field: c.prop.MappedBy, Value: c.owner.KeyValue()},
			queryir.FromMap(c.prop.Where),
		))
		if err != nil {
			return 0, c.loadFailed(s, err)
		}
	}
	c.count, c.countKnown = n, true
	return n, nil
}

// keyFilter matches the primary keys of items.
func (c *Collection) keyFilter(target *meta.EntityMeta, items []*Entity) queryir.Predicate {
	values := make([]any, 0, len(items))
	for _, k := range keysOf(items) {
		values = append(values, collapseKey(k))
	}
	if target.CompositePK() {
		preds := make([]queryir.Predicate, 0, len(values))
		for _, v := range values {
			parts := v.([]any)
			and := make([]queryir.Predicate, len(parts))
			for i, name := range target.PrimaryKeys {
				and[i] = queryir.Equals{Field: name, Value: parts[i]}
			}
			preds = append(preds, queryir.And{Predicates: and})
		}
		return queryir.Or{Predicates: preds}
	}
	return queryir.In{Field: target.PrimaryKeys[0], Values: values}
}

func (c *Collection) loadFailed(s *Session, err error) error {
	if CodeOf(err) != "" {
		return err
	}
	s.logger.Warn("lazy load failed",
		zap.String("entity", c.owner.meta.Name),
		zap.String("property", c.prop.Name),
		zap.Error(err))
	return lazyLoadFailed(c.owner.meta.Name, c.prop.Name, err)
}

// reorder puts items in the order of known; items not in known follow in
// their loaded order.
func reorder(items, known []*Entity) []*Entity {
	out := make([]*Entity, 0, len(items))
	for _, k := range known {
		if slices.Contains(items, k) {
			out = append(out, k)
		}
	}
	for _, it := range items {
		if !slices.Contains(out, it) {
			out = append(out, it)
		}
	}
	return out
}
