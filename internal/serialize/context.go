package serialize

import (
	"slices"
	"strings"

	"github.com/roach88/ormcore/internal/entity"
)

// step is one (type, property) pair on the walk path.
type step struct {
	typeName string
	property string
}

func (s step) String() string {
	return s.typeName + "." + s.property
}

// hint is one node of the populate tree: "books.tags" yields books -> tags.
type hint struct {
	children map[string]*hint
}

func newHint() *hint {
	return &hint{children: make(map[string]*hint)}
}

func parseHints(paths []string) *hint {
	root := newHint()
	for _, p := range paths {
		if p == "" {
			continue
		}
		n := root
		for _, seg := range strings.Split(p, ".") {
			child, ok := n.children[seg]
			if !ok {
				child = newHint()
				n.children[seg] = child
			}
			n = child
		}
	}
	return root
}

func (h *hint) child(name string) *hint {
	if h == nil {
		return nil
	}
	return h.children[name]
}

// Context is the bookkeeping of one export call.
//
// It tracks two things:
//   - the path: (type, property) pairs currently being expanded. Revisiting a
//     pair already on the path is a cycle and stops the descent unless the
//     populate hints name that exact property path.
//   - the visited set: every instance expanded so far. A second encounter of
//     the same instance degrades to its key.
//
// The context attaches itself to every instance it reaches, so a nested
// export started on one of them joins this walk instead of starting over.
// Close detaches it again.
//
// A Context belongs to one goroutine and one top-level call.
type Context struct {
	path     []step
	visited  map[*entity.Entity]struct{}
	attached []*entity.Entity
	hints    *hint
	all      bool
	closed   bool
}

// NewContext returns a context for a walk populating the given dotted
// relation paths. A "*" path, or all, expands every initialized relation.
func NewContext(populate []string, all bool) *Context {
	if slices.Contains(populate, "*") {
		all = true
	}
	return &Context{
		visited: make(map[*entity.Entity]struct{}),
		hints:   parseHints(populate),
		all:     all,
	}
}

// ContextOf returns the open context attached to e, or nil.
func ContextOf(e *entity.Entity) *Context {
	if e == nil {
		return nil
	}
	c, ok := e.Walk().(*Context)
	if !ok || c.closed {
		return nil
	}
	return c
}

// Visit pushes (typeName, property) onto the path and reports whether the
// walk may descend. When the pair is already on the path it is pushed only
// if the populate hints name the current property path extended by
// property; otherwise nothing is pushed and Visit returns false.
func (c *Context) Visit(typeName, property string) bool {
	s := step{typeName: typeName, property: property}
	if slices.Contains(c.path, s) && !c.Hinted(property) {
		return false
	}
	c.path = append(c.path, s)
	return true
}

// Leave pops the last pushed pair.
func (c *Context) Leave() {
	if len(c.path) > 0 {
		c.path = c.path[:len(c.path)-1]
	}
}

// Depth is the current path length.
func (c *Context) Depth() int {
	return len(c.path)
}

// Path returns the current path as "Type.property" strings.
func (c *Context) Path() []string {
	out := make([]string, len(c.path))
	for i, s := range c.path {
		out[i] = s.String()
	}
	return out
}

// PropertyPath returns the dotted property path from the root extended by
// name, e.g. "books.tags".
func (c *Context) PropertyPath(name string) string {
	parts := make([]string, 0, len(c.path)+1)
	for _, s := range c.path {
		parts = append(parts, s.property)
	}
	return strings.Join(append(parts, name), ".")
}

// Hinted reports whether the populate tree names the current property path
// extended by property.
func (c *Context) Hinted(property string) bool {
	n := c.hints
	for _, s := range c.path {
		if n = n.child(s.property); n == nil {
			return false
		}
	}
	return n.child(property) != nil
}

// Populated reports whether a relation at the current position is expanded.
func (c *Context) Populated(property string) bool {
	return c.all || c.Hinted(property)
}

// Visited reports whether e has been expanded during this walk.
func (c *Context) Visited(e *entity.Entity) bool {
	_, ok := c.visited[e]
	return ok
}

// markVisited records e and reports whether this was its first visit.
func (c *Context) markVisited(e *entity.Entity) bool {
	if _, ok := c.visited[e]; ok {
		return false
	}
	c.visited[e] = struct{}{}
	return true
}

// attach binds the context to e. Instances bound to another open walk are
// left alone.
func (c *Context) attach(e *entity.Entity) {
	if e.Walk() == c {
		return
	}
	if e.AttachWalk(c) {
		c.attached = append(c.attached, e)
	}
}

// Close detaches the context from every instance it reached and clears its
// state. Closing twice is a no-op.
func (c *Context) Close() {
	if c.closed {
		return
	}
	for _, e := range c.attached {
		e.DetachWalk(c)
	}
	c.attached = nil
	c.path = nil
	clear(c.visited)
	c.closed = true
}
