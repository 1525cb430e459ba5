package entity

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/ormcore/internal/ir"
	"github.com/roach88/ormcore/internal/meta"
	"github.com/roach88/ormcore/internal/queryir"
)

// Driver is the query facade lazy loads and finders go through.
// Implemented by store.Store (SQLite), gormstore.Store (MySQL) and
// mongostore.Store (MongoDB).
type Driver interface {
	Platform() meta.Platform
	UsesPivotTable() bool
	Find(ctx context.Context, m *meta.EntityMeta, q queryir.Select) ([]ir.Data, error)
	Count(ctx context.Context, m *meta.EntityMeta, where queryir.Predicate) (int, error)
	LoadFromPivotTable(
		ctx context.Context,
		prop *meta.Property,
		owners [][]any,
		where queryir.Predicate,
		orderBy []queryir.Order,
	) (map[string][]ir.Data, error)
}

// Session binds a driver and an identity map to a runtime. Entities created
// through it can lazy-load.
//
// Thread-safety: not safe for concurrent use, except that concurrent
// identical lazy loads are joined.
type Session struct {
	rt      *Runtime
	driver  Driver
	uow     UnitOfWork
	factory *Factory
	logger  *zap.Logger

	loads singleflight.Group
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithUnitOfWork replaces the default in-memory identity map.
func WithUnitOfWork(u UnitOfWork) SessionOption {
	return func(s *Session) {
		s.uow = u
	}
}

// NewSession creates a session over d with a fresh identity map.
func (rt *Runtime) NewSession(d Driver, opts ...SessionOption) *Session {
	s := &Session{rt: rt, driver: d, logger: rt.logger}
	for _, opt := range opts {
		opt(s)
	}
	if s.uow == nil {
		s.uow = NewIdentityMap()
	}
	s.factory = &Factory{rt: rt, uow: s.uow, session: s, logger: rt.logger}
	return s
}

// Factory returns the session's factory.
func (s *Session) Factory() *Factory {
	return s.factory
}

// UnitOfWork returns the session's identity map.
func (s *Session) UnitOfWork() UnitOfWork {
	return s.uow
}

// Driver returns the session's driver.
func (s *Session) Driver() Driver {
	return s.driver
}

type queryOptions struct {
	where    queryir.Predicate
	orderBy  []queryir.Order
	limit    int
	offset   int
	populate []string
	refresh  bool
}

// QueryOption configures finders and lazy loads.
type QueryOption func(*queryOptions)

// Where adds a filter; repeated filters are conjoined.
func Where(p queryir.Predicate) QueryOption {
	return func(o *queryOptions) {
		o.where = queryir.Conjoin(o.where, p)
	}
}

// OrderBy sets the ordering.
func OrderBy(orders ...queryir.Order) QueryOption {
	return func(o *queryOptions) {
		o.orderBy = orders
	}
}

// Limit caps the number of rows (finders only).
func Limit(n int) QueryOption {
	return func(o *queryOptions) {
		o.limit = n
	}
}

// Offset skips rows (finders only).
func Offset(n int) QueryOption {
	return func(o *queryOptions) {
		o.offset = n
	}
}

// Populate loads relation paths ("books", "books.tags", "*") of the
// results.
func Populate(paths ...string) QueryOption {
	return func(o *queryOptions) {
		o.populate = append(o.populate, paths...)
	}
}

// RefreshResults re-hydrates instances already in the identity map.
func RefreshResults() QueryOption {
	return func(o *queryOptions) {
		o.refresh = true
	}
}

func applyQueryOptions(opts []QueryOption) queryOptions {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (s *Session) meta(typeName string) (*meta.EntityMeta, error) {
	m, err := s.rt.md.Get(typeName)
	if err != nil {
		return nil, &Error{Code: CodeInvalidInput, Message: "unknown entity type", Entity: typeName, Err: err}
	}
	return m, nil
}

// Find loads the entities of typeName matching the options.
func (s *Session) Find(ctx context.Context, typeName string, opts ...QueryOption) ([]*Entity, error) {
	m, err := s.meta(typeName)
	if err != nil {
		return nil, err
	}
	o := applyQueryOptions(opts)

	start := time.Now()
	rows, err := s.driver.Find(ctx, m, queryir.Select{
		From:    m.Name,
		Filter:  o.where,
		OrderBy: o.orderBy,
		Limit:   o.limit,
		Offset:  o.offset,
	})
	if err != nil {
		return nil, s.driverError(m.Name, "", "find", err)
	}

	out, err := s.createAll(m, rows, o.refresh)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("find",
		zap.String("entity", m.Name),
		zap.Int("rows", len(rows)),
		zap.Duration("elapsed", time.Since(start)))

	if len(o.populate) > 0 {
		if err := s.Populate(ctx, out, o.populate...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FindOne returns the first match or a NOT_FOUND error.
func (s *Session) FindOne(ctx context.Context, typeName string, opts ...QueryOption) (*Entity, error) {
	res, err := s.Find(ctx, typeName, append(opts, Limit(1))...)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, newError(CodeNotFound, typeName, "", "no match")
	}
	return res[0], nil
}

// FindByID returns the entity with key, from the identity map when it is
// already loaded.
func (s *Session) FindByID(ctx context.Context, typeName string, key any, opts ...QueryOption) (*Entity, error) {
	m, err := s.meta(typeName)
	if err != nil {
		return nil, err
	}
	data, props, err := s.factory.keyData(m, key)
	if err != nil {
		return nil, err
	}
	o := applyQueryOptions(opts)
	if e := s.factory.lookup(m, data); e != nil && e.initialized && !o.refresh {
		if len(o.populate) > 0 {
			if err := s.Populate(ctx, []*Entity{e}, o.populate...); err != nil {
				return nil, err
			}
		}
		return e, nil
	}
	where := s.keyPredicate(m, props, s.factory.keyFromData(m, props, data))
	return s.FindOne(ctx, typeName, append([]QueryOption{Where(where)}, opts...)...)
}

// Count counts the rows of typeName matching the options.
func (s *Session) Count(ctx context.Context, typeName string, opts ...QueryOption) (int, error) {
	m, err := s.meta(typeName)
	if err != nil {
		return 0, err
	}
	o := applyQueryOptions(opts)
	n, err := s.driver.Count(ctx, m, o.where)
	if err != nil {
		return 0, s.driverError(m.Name, "", "count", err)
	}
	return n, nil
}

// New creates a not-yet-persisted entity.
func (s *Session) New(typeName string, data any) (*Entity, error) {
	return s.factory.Create(typeName, data, NewEntity())
}

// Merge creates or merges a managed entity from data.
func (s *Session) Merge(typeName string, data any, opts ...CreateOption) (*Entity, error) {
	return s.factory.Create(typeName, data, opts...)
}

// Reference returns the instance for key, an uninitialized reference when
// it is not loaded yet.
func (s *Session) Reference(typeName string, key any) (*Entity, error) {
	return s.factory.CreateReference(typeName, key)
}

// Populate loads relation paths of entities. A path is a dotted list of
// relation names; "*" loads every relation one level deep. Entities whose
// type lacks a path segment are skipped.
func (s *Session) Populate(ctx context.Context, entities []*Entity, paths ...string) error {
	for _, path := range paths {
		if path == "*" {
			if err := s.populateAll(ctx, entities); err != nil {
				return err
			}
			continue
		}
		if err := s.populatePath(ctx, entities, strings.Split(path, ".")); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) populateAll(ctx context.Context, entities []*Entity) error {
	names := make(map[string]bool)
	var order []string
	for _, e := range entities {
		for _, p := range e.meta.Relations() {
			if !names[p.Name] {
				names[p.Name] = true
				order = append(order, p.Name)
			}
		}
	}
	for _, name := range order {
		if err := s.populatePath(ctx, entities, []string{name}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) populatePath(ctx context.Context, entities []*Entity, segments []string) error {
	if len(segments) == 0 || len(entities) == 0 {
		return nil
	}
	name := segments[0]

	var props []*meta.Property
	byProp := make(map[*meta.Property][]*Entity)
	for _, e := range entities {
		p := e.meta.Property(name)
		if p == nil {
			continue
		}
		if !p.IsRelation() {
			return invalidInput(e.meta.Name, name, "populate path %q is not a relation", strings.Join(segments, "."))
		}
		if _, ok := byProp[p]; !ok {
			props = append(props, p)
		}
		byProp[p] = append(byProp[p], e)
	}
	if len(props) == 0 {
		return invalidInput(entities[0].meta.Name, name, "unknown populate path %q", strings.Join(segments, "."))
	}

	var next []*Entity
	for _, p := range props {
		owners := byProp[p]
		if p.IsToOne() {
			targets, err := s.loadToOne(ctx, owners, p)
			if err != nil {
				return err
			}
			next = append(next, targets...)
			continue
		}
		if err := s.loadToMany(ctx, owners, p); err != nil {
			return err
		}
		for _, owner := range owners {
			if c := owner.Collection(p.Name); c != nil {
				next = append(next, c.items...)
			}
		}
	}
	return s.populatePath(ctx, dedupe(next), segments[1:])
}

// loadToOne loads the targets of p for a batch of owners: one IN query per
// batch for single-column keys, individual loads otherwise.
func (s *Session) loadToOne(ctx context.Context, owners []*Entity, p *meta.Property) ([]*Entity, error) {
	if p.Kind == meta.KindOneToOne && p.MappedBy != "" {
		return s.loadInverseOneToOne(ctx, owners, p)
	}
	var targets, pending []*Entity
	for _, owner := range owners {
		t := owner.Related(p.Name)
		if t == nil {
			continue
		}
		targets = append(targets, t)
		if !t.initialized && !slices.Contains(pending, t) {
			pending = append(pending, t)
		}
	}
	if len(pending) == 0 {
		return targets, nil
	}

	target, err := s.rt.md.Get(p.Target)
	if err != nil {
		return nil, err
	}
	if target.CompositePK() {
		for _, t := range pending {
			if err := s.load(ctx, t); err != nil {
				return nil, withLocation(err, p.Target, "")
			}
		}
		return targets, nil
	}

	keys := make([]any, 0, len(pending))
	for _, k := range keysOf(pending) {
		keys = append(keys, k[0])
	}
	rows, err := s.driver.Find(ctx, target, queryir.Select{
		From:   target.Name,
		Filter: queryir.In{Field: target.PrimaryKeys[0], Values: keys},
	})
	if err != nil {
		return nil, s.driverError(p.Target, "", "populate "+p.Name, err)
	}
	if _, err := s.createAll(target, rows, false); err != nil {
		return nil, err
	}
	return targets, nil
}

// loadInverseOneToOne queries the owning side of a one-to-one relation for
// a batch of owners. Hydrating the rows wires each owner's side; owners
// without a row end up with an explicit null.
func (s *Session) loadInverseOneToOne(ctx context.Context, owners []*Entity, p *meta.Property) ([]*Entity, error) {
	target, err := s.rt.md.Get(p.Target)
	if err != nil {
		return nil, err
	}
	keys := make([]any, 0, len(owners))
	for _, owner := range owners {
		if owner.Related(p.Name) != nil {
			continue
		}
		if k := owner.KeyValue(); k != nil {
			keys = append(keys, k)
		}
	}
	if len(keys) > 0 {
		rows, err := s.driver.Find(ctx, target, queryir.Select{
			From:   target.Name,
			Filter: queryir.In{Field: p.MappedBy, Values: keys},
		})
		if err != nil {
			return nil, s.driverError(p.Target, "", "populate "+p.Name, err)
		}
		if _, err := s.createAll(target, rows, false); err != nil {
			return nil, err
		}
	}

	var targets []*Entity
	for _, owner := range owners {
		if t := owner.Related(p.Name); t != nil {
			targets = append(targets, t)
			continue
		}
		owner.setReference(p, nil)
		owner.markLoaded(p.Name)
	}
	return targets, nil
}

// loadToMany initializes the p collections of a batch of owners. Pivot
// relations and one-to-many relations are loaded with one query per batch.
func (s *Session) loadToMany(ctx context.Context, owners []*Entity, p *meta.Property) error {
	var pending []*Collection
	for _, owner := range owners {
		c := owner.Collection(p.Name)
		if c != nil && !c.IsInitialized(true) {
			pending = append(pending, c)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	switch {
	case p.Kind == meta.KindManyToMany && s.driver.UsesPivotTable() && allUninitialized(pending):
		return s.loadPivotBatch(ctx, pending, p)
	case p.Kind == meta.KindOneToMany && allUninitialized(pending):
		return s.loadOneToManyBatch(ctx, pending, p)
	}
	for _, c := range pending {
		if err := c.Init(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) loadPivotBatch(ctx context.Context, colls []*Collection, p *meta.Property) error {
	target, err := s.rt.md.Get(p.Target)
	if err != nil {
		return err
	}
	owners := make([][]any, 0, len(colls))
	for _, c := range colls {
		if k := c.owner.PrimaryKey(); k != nil {
			owners = append(owners, k)
		}
	}
	groups, err := s.driver.LoadFromPivotTable(ctx, p, owners, queryir.FromMap(p.Where), relationOrder(p))
	if err != nil {
		return lazyLoadFailed(colls[0].owner.meta.Name, p.Name, err)
	}

	loaded := make([][]*Entity, len(colls))
	for i, c := range colls {
		ks, err := ir.KeyString(c.owner.PrimaryKey())
		if err != nil {
			continue
		}
		loaded[i], err = s.createAll(target, groups[ks], false)
		if err != nil {
			return err
		}
	}
	for i, c := range colls {
		c.hydrate(loaded[i], false)
		c.owner.markLoaded(p.Name)
	}
	return nil
}

func (s *Session) loadOneToManyBatch(ctx context.Context, colls []*Collection, p *meta.Property) error {
	target, err := s.rt.md.Get(p.Target)
	if err != nil {
		return err
	}
	keys := make([]any, 0, len(colls))
	for _, c := range colls {
		if k := c.owner.KeyValue(); k != nil {
			keys = append(keys, k)
		}
	}
	rows, err := s.driver.Find(ctx, target, queryir.Select{
		From:    target.Name,
		Filter:  queryir.Conjoin(queryir.In{Field: p.MappedBy, Values: keys}, queryir.FromMap(p.Where)),
		OrderBy: relationOrder(p),
	})
	if err != nil {
		return lazyLoadFailed(colls[0].owner.meta.Name, p.Name, err)
	}
	items, err := s.createAll(target, rows, false)
	if err != nil {
		return err
	}

	grouped := make(map[*Entity][]*Entity, len(colls))
	for _, it := range items {
		if owner := it.Related(p.MappedBy); owner != nil {
			grouped[owner] = append(grouped[owner], it)
		}
	}
	for _, c := range colls {
		c.hydrate(grouped[c.owner], false)
		c.owner.markLoaded(p.Name)
	}
	return nil
}

// load fetches the row of a reference and hydrates the same instance.
func (s *Session) load(ctx context.Context, e *Entity) error {
	key := e.PrimaryKey()
	if key == nil {
		return invalidInput(e.meta.Name, "", "reference has no complete key")
	}
	m := e.meta
	start := time.Now()
	rows, err := s.driver.Find(ctx, m, queryir.Select{
		From:   m.Name,
		Filter: s.keyPredicate(m, m.PrimaryKeys, key),
		Limit:  1,
	})
	if err != nil {
		return s.driverError(m.Name, "", "load", err)
	}
	if len(rows) == 0 {
		return newError(CodeNotFound, m.Name, "", "no row for %s", keyLabel(e))
	}
	if _, err := s.factory.create(m, rows[0], s.loadOptions(false)); err != nil {
		return err
	}
	s.logger.Debug("reference loaded",
		zap.String("entity", m.Name),
		zap.String("key", keyLabel(e)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (s *Session) createAll(m *meta.EntityMeta, rows []ir.Data, refresh bool) ([]*Entity, error) {
	out := make([]*Entity, 0, len(rows))
	for _, row := range rows {
		e, err := s.factory.create(m, row.Clone(), s.loadOptions(refresh))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Session) loadOptions(refresh bool) createOptions {
	o := defaultCreateOptions()
	o.convertCustomTypes = true
	o.refresh = refresh
	return o
}

// keyPredicate matches the given key values of props.
func (s *Session) keyPredicate(m *meta.EntityMeta, props []string, values []any) queryir.Predicate {
	preds := make([]queryir.Predicate, 0, len(props))
	for i, name := range props {
		var v any
		if i < len(values) {
			v = values[i]
		}
		preds = append(preds, queryir.Equals{Field: name, Value: v})
	}
	return queryir.Conjoin(preds...)
}

// driverError maps a driver failure to a core error and logs it.
func (s *Session) driverError(entity, property, action string, err error) error {
	if errors.Is(err, queryir.ErrNotFound) {
		return &Error{Code: CodeNotFound, Message: action, Entity: entity, Property: property, Err: err}
	}
	s.logger.Warn("driver error",
		zap.String("action", action),
		zap.String("entity", entity),
		zap.Error(err))
	return fmt.Errorf("%s %s: %w", action, entity, err)
}

func relationOrder(p *meta.Property) []queryir.Order {
	if len(p.OrderBy) == 0 {
		return nil
	}
	out := make([]queryir.Order, len(p.OrderBy))
	for i, o := range p.OrderBy {
		out[i] = queryir.Order{Field: o.Property, Desc: o.Desc}
	}
	return out
}

func allUninitialized(colls []*Collection) bool {
	for _, c := range colls {
		if c.initialized {
			return false
		}
	}
	return true
}
