package serialize

import (
	"fmt"

	"github.com/roach88/ormcore/internal/entity"
	"github.com/roach88/ormcore/internal/meta"
)

// Options controls Serialize.
type Options struct {
	// Populate lists dotted relation paths to expand ("books.tags").
	Populate []string
	// PopulateAll expands every initialized relation.
	PopulateAll bool
	// Exclude drops properties by dotted path from the root ("password",
	// "books.title").
	Exclude []string
	// ForceObject renders unexpanded relations as {pk: value} objects
	// instead of bare keys.
	ForceObject bool
	// SkipNull omits properties whose value is null.
	SkipNull bool
}

// walker projects entities to plain maps and slices.
type walker struct {
	ctx     *Context
	opts    Options
	exclude map[string]bool
	// dedupe degrades repeated instances to their key.
	dedupe bool
	// initializedOnly expands initialized relations without checking the
	// populate hints.
	initializedOnly bool
}

func newWalker(ctx *Context, opts Options) *walker {
	w := &walker{ctx: ctx, opts: opts, exclude: make(map[string]bool, len(opts.Exclude)), dedupe: true}
	for _, p := range opts.Exclude {
		w.exclude[p] = true
	}
	return w
}

// Serialize projects an entity, a reference, a collection or a slice of
// entities to plain data: map[string]any per entity, []any for lists.
//
// Relations are expanded only when populated by opts and initialized;
// everything else renders as the primary key. A relation already being
// expanded higher up the path, or an instance already expanded elsewhere in
// the output, renders as its key too, so the result is always finite.
// Uninitialized collections are omitted. Hidden properties never appear.
func Serialize(v any, opts Options) (any, error) {
	roots, single, err := rootsOf(v)
	if err != nil {
		return nil, err
	}
	return run(roots, single, func(ctx *Context) *walker {
		return newWalker(ctx, opts)
	}, NewContext(opts.Populate, opts.PopulateAll))
}

// ToObject projects v expanding every initialized relation. Cycles stop on
// the path only: an instance reached through different properties is
// expanded each time.
func ToObject(v any, exclude ...string) (any, error) {
	roots, single, err := rootsOf(v)
	if err != nil {
		return nil, err
	}
	return run(roots, single, func(ctx *Context) *walker {
		w := newWalker(ctx, Options{Exclude: exclude})
		w.dedupe = false
		w.initializedOnly = true
		return w
	}, NewContext(nil, false))
}

func run(roots []*entity.Entity, single bool, mk func(*Context) *walker, fresh *Context) (any, error) {
	// A walk already attached to the first root keeps its bookkeeping.
	ctx := fresh
	var first *entity.Entity
	if len(roots) > 0 {
		first = roots[0]
	}
	if active := ContextOf(first); active != nil {
		ctx = active
	} else {
		defer ctx.Close()
	}
	w := mk(ctx)

	if single {
		if first == nil {
			return nil, nil
		}
		return w.object(first, true), nil
	}
	out := make([]any, len(roots))
	for i, e := range roots {
		out[i] = w.object(e, true)
	}
	return out, nil
}

func rootsOf(v any) ([]*entity.Entity, bool, error) {
	switch val := v.(type) {
	case nil:
		return nil, true, nil
	case *entity.Entity:
		if val == nil {
			return nil, true, nil
		}
		return []*entity.Entity{val}, true, nil
	case *entity.Reference:
		if e := val.Unwrap(); e != nil {
			return []*entity.Entity{e}, true, nil
		}
		return nil, true, nil
	case []*entity.Entity:
		return val, false, nil
	case *entity.Collection:
		items, err := val.GetItems(true)
		if err != nil {
			return nil, false, err
		}
		return items, false, nil
	}
	return nil, false, &entity.Error{
		Code:    entity.CodeInvalidInput,
		Message: fmt.Sprintf("cannot serialize %T", v),
	}
}

// object renders e. explicit marks roots and paths named by the populate
// hints: those expand even when e was already visited.
func (w *walker) object(e *entity.Entity, explicit bool) any {
	w.ctx.attach(e)
	if !e.IsInitialized() {
		return w.key(e)
	}
	first := w.ctx.markVisited(e)
	if w.dedupe && !first && !explicit {
		return w.key(e)
	}

	out := make(map[string]any, len(e.Meta().Properties))
	for _, p := range e.Meta().Properties {
		if p.Hidden || w.exclude[w.ctx.PropertyPath(p.Name)] {
			continue
		}
		raw, ok := e.Get(p.Name)
		if !ok {
			continue
		}
		var (
			val  any
			emit = true
		)
		switch {
		case p.IsToOne():
			val = w.toOne(e, p)
		case p.IsToMany():
			val, emit = w.toMany(e, p)
		case p.Kind == meta.KindEmbedded:
			val = w.embedded(e.Embedded(p.Name))
		default:
			val = raw
		}
		if !emit || (val == nil && w.opts.SkipNull) {
			continue
		}
		out[p.Name] = val
	}
	return out
}

func (w *walker) expand(p *meta.Property) bool {
	if w.initializedOnly {
		return true
	}
	return w.ctx.Populated(p.Name)
}

func (w *walker) toOne(owner *entity.Entity, p *meta.Property) any {
	target := owner.Related(p.Name)
	if target == nil {
		return nil
	}
	if !w.expand(p) || !target.IsInitialized() {
		w.ctx.attach(target)
		return w.key(target)
	}
	explicit := w.ctx.Hinted(p.Name)
	if !w.ctx.Visit(owner.TypeName(), p.Name) {
		return w.key(target)
	}
	defer w.ctx.Leave()
	return w.object(target, explicit)
}

func (w *walker) toMany(owner *entity.Entity, p *meta.Property) (any, bool) {
	c := owner.Collection(p.Name)
	if c == nil || !c.IsInitialized(false) {
		return nil, false
	}
	items, err := c.GetItems(false)
	if err != nil {
		return nil, false
	}
	if !w.expand(p) {
		return w.keys(items), true
	}
	explicit := w.ctx.Hinted(p.Name)
	if !w.ctx.Visit(owner.TypeName(), p.Name) {
		return w.keys(items), true
	}
	defer w.ctx.Leave()

	out := make([]any, len(items))
	for i, it := range items {
		out[i] = w.object(it, explicit)
	}
	return out, true
}

func (w *walker) keys(items []*entity.Entity) []any {
	out := make([]any, len(items))
	for i, it := range items {
		w.ctx.attach(it)
		out[i] = w.key(it)
	}
	return out
}

// key renders the identity form of e: the primary key, or {pk: value} with
// ForceObject.
func (w *walker) key(e *entity.Entity) any {
	if !w.opts.ForceObject {
		return e.KeyValue()
	}
	pk := e.PrimaryKey()
	out := make(map[string]any, len(e.Meta().PrimaryKeys))
	for i, name := range e.Meta().PrimaryKeys {
		if i < len(pk) {
			out[name] = pk[i]
		} else {
			out[name] = nil
		}
	}
	return out
}

func (w *walker) embedded(n *entity.Entity) any {
	if n == nil {
		return nil
	}
	out := make(map[string]any, len(n.Meta().Properties))
	for _, p := range n.Meta().Properties {
		if p.Hidden {
			continue
		}
		v, ok := n.Get(p.Name)
		if !ok {
			continue
		}
		if p.Kind == meta.KindEmbedded {
			v = w.embedded(n.Embedded(p.Name))
		}
		if v == nil && w.opts.SkipNull {
			continue
		}
		out[p.Name] = v
	}
	return out
}
