package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/roach88/ormcore/internal/compiler"
	"github.com/roach88/ormcore/internal/entity"
	"github.com/roach88/ormcore/internal/meta"
	"github.com/roach88/ormcore/internal/queryir"
	"github.com/roach88/ormcore/internal/serialize"
	"github.com/roach88/ormcore/internal/store"
	"github.com/roach88/ormcore/internal/testutil"
)

// Harness executes the steps of one scenario against one session.
type Harness struct {
	store    *store.Store
	session  *entity.Session
	logger   *zap.Logger
	bindings map[string][]*entity.Entity
	seq      int64
}

// Option configures Run.
type Option func(*runConfig)

type runConfig struct {
	logger *zap.Logger
}

// WithLogger routes runtime and store logs to l.
func WithLogger(l *zap.Logger) Option {
	return func(c *runConfig) {
		c.logger = l
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh SQLite database under a temporary
// directory. Generated keys come from a sequential generator so traces are
// reproducible.
//
// An expected error that does not occur, or a different one, fails the
// result; an unexpected entity error is recorded in the trace and fails it
// too. Path errors and driver errors abort the run.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	md, err := scenarioRegistry(scenario)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "ormcore-scenario-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "scenario.db"), md, store.WithLogger(cfg.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open scenario store: %w", err)
	}
	defer st.Close()

	ddl, seed := scenario.DDL, scenario.Seed
	if ddl == "" && seed == "" {
		seed = testutil.BookstoreSeed
	}
	if ddl == "" {
		ddl = testutil.BookstoreDDL
	}
	if err := st.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("ddl: %w", err)
	}
	if seed != "" {
		if err := st.Exec(ctx, seed); err != nil {
			return nil, fmt.Errorf("seed: %w", err)
		}
	}

	rt := entity.NewRuntime(md,
		entity.WithLogger(cfg.logger),
		entity.WithKeyGenerator(testutil.NewSequentialKeyGenerator()),
		entity.WithPlatform(st.Platform()),
	)
	h := &Harness{
		store:    st,
		session:  rt.NewSession(st),
		logger:   cfg.logger.Named("harness"),
		bindings: make(map[string][]*entity.Entity),
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, a := range scenario.Assertions {
		if err := h.evaluateAssertion(ctx, a, result.Trace); err != nil {
			result.AddError("assertion %d (%s) failed: %v", i, a.Type, err)
		}
	}
	return result, nil
}

func scenarioRegistry(s *Scenario) (*meta.Registry, error) {
	if s.Schema == "" {
		return testutil.NewBookstore()
	}
	r, err := compiler.LoadRegistry(s.Schema)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", s.Schema, err)
	}
	return r, nil
}

// executeStep runs one step and appends its trace event.
func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) error {
	op, target := step.Op()
	h.seq++
	event := TraceEvent{Seq: h.seq, Op: op, Target: target}

	out, err := h.apply(ctx, op, target, step)
	code := entity.CodeOf(err)
	switch {
	case err != nil && code == "":
		return err
	case err != nil:
		event.Error = string(code)
		if step.ExpectError != string(code) {
			result.AddError("steps[%d] %s: unexpected error: %v", index, event.Label(), err)
		}
	default:
		event.Result = out
		if step.ExpectError != "" {
			result.AddError("steps[%d] %s: expected error %s, got none", index, event.Label(), step.ExpectError)
		}
	}

	h.logger.Debug("step",
		zap.Int64("seq", event.Seq),
		zap.String("op", op),
		zap.String("target", target),
		zap.String("error", event.Error))
	result.AddTrace(event)
	return nil
}

func (h *Harness) apply(ctx context.Context, op, target string, step Step) (any, error) {
	switch op {
	case OpFind:
		return h.find(ctx, target, step)
	case OpExport:
		return h.export(target, step)
	}

	owner, prop, err := h.resolveRelation(target)
	if err != nil {
		return nil, err
	}
	p := owner.Meta().Property(prop)

	switch op {
	case OpInit:
		c, err := h.collection(owner, p)
		if err != nil {
			return nil, err
		}
		if err := c.Init(ctx, h.queryOptions(step)...); err != nil {
			return nil, err
		}
		keys := []any{}
		for _, it := range c.All() {
			keys = append(keys, it.KeyValue())
		}
		return keys, nil

	case OpLoad:
		if p.IsToMany() {
			c, err := h.collection(owner, p)
			if err != nil {
				return nil, err
			}
			return c.LoadCount(ctx, false)
		}
		loaded, err := owner.Reference(prop).Load(ctx)
		if err != nil {
			return nil, err
		}
		if loaded == nil {
			return nil, nil
		}
		return loaded.KeyValue(), nil

	case OpAdd, OpRemove:
		c, err := h.collection(owner, p)
		if err != nil {
			return nil, err
		}
		items, err := h.resolveItems(step.Items)
		if err != nil {
			return nil, err
		}
		if op == OpAdd {
			err = c.Add(items...)
		} else {
			err = c.Remove(items...)
		}
		if err != nil {
			return nil, err
		}
		return c.GetIdentifiers()

	case OpSet:
		v, err := h.resolveValue(step.Value)
		if err != nil {
			return nil, err
		}
		if err := owner.Set(prop, v); err != nil {
			return nil, err
		}
		return renderValue(owner, p)
	}
	return nil, fmt.Errorf("unknown operation %q", op)
}

func (h *Harness) find(ctx context.Context, typeName string, step Step) (any, error) {
	opts := h.queryOptions(step)
	if len(step.Populate) > 0 {
		opts = append(opts, entity.Populate(step.Populate...))
	}
	found, err := h.session.Find(ctx, typeName, opts...)
	if err != nil {
		return nil, err
	}
	if step.As != "" {
		h.bindings[step.As] = found
	}
	keys := make([]any, len(found))
	for i, e := range found {
		keys[i] = e.KeyValue()
	}
	return keys, nil
}

func (h *Harness) export(target string, step Step) (any, error) {
	v, err := h.resolveExport(target)
	if err != nil {
		return nil, err
	}
	return serialize.Serialize(v, serialize.Options{
		Populate:    step.Populate,
		PopulateAll: step.All,
		Exclude:     step.Exclude,
	})
}

func (h *Harness) queryOptions(step Step) []entity.QueryOption {
	var opts []entity.QueryOption
	if pred := queryir.FromMap(step.Where); pred != nil {
		opts = append(opts, entity.Where(pred))
	}
	if len(step.OrderBy) > 0 {
		orders := make([]queryir.Order, len(step.OrderBy))
		for i, f := range step.OrderBy {
			name, desc := strings.CutPrefix(f, "-")
			orders[i] = queryir.Order{Field: name, Desc: desc}
		}
		opts = append(opts, entity.OrderBy(orders...))
	}
	if step.Limit > 0 {
		opts = append(opts, entity.Limit(step.Limit))
	}
	return opts
}

func (h *Harness) collection(owner *entity.Entity, p *meta.Property) (*entity.Collection, error) {
	if !p.IsToMany() {
		return nil, fmt.Errorf("%s.%s is not a to-many relation", owner.TypeName(), p.Name)
	}
	c := owner.Collection(p.Name)
	if c == nil {
		return nil, fmt.Errorf("%s.%s has no collection", owner.TypeName(), p.Name)
	}
	return c, nil
}

// parseSegment splits "name[2]" into its name and index. Without an index,
// index is -1.
func parseSegment(seg string) (name string, index int, err error) {
	name, rest, ok := strings.Cut(seg, "[")
	if !ok {
		return seg, -1, nil
	}
	digits, ok := strings.CutSuffix(rest, "]")
	if !ok {
		return "", 0, fmt.Errorf("malformed path segment %q", seg)
	}
	index, err = strconv.Atoi(digits)
	if err != nil || index < 0 {
		return "", 0, fmt.Errorf("malformed index in %q", seg)
	}
	return name, index, nil
}

// binding returns the entity the first path segment names, defaulting to
// the first result.
func (h *Harness) binding(seg string) (*entity.Entity, error) {
	name, index, err := parseSegment(seg)
	if err != nil {
		return nil, err
	}
	found, ok := h.bindings[name]
	if !ok {
		return nil, fmt.Errorf("unknown binding %q", name)
	}
	index = max(index, 0)
	if index >= len(found) {
		return nil, fmt.Errorf("binding %q has %d results, index %d out of range", name, len(found), index)
	}
	return found[index], nil
}

// walk follows to-one relations from a binding through segs.
func (h *Harness) walk(first string, segs []string) (*entity.Entity, error) {
	e, err := h.binding(first)
	if err != nil {
		return nil, err
	}
	for _, seg := range segs {
		p := e.Meta().Property(seg)
		if p == nil || !p.IsToOne() {
			return nil, fmt.Errorf("%s.%s is not a to-one relation", e.TypeName(), seg)
		}
		next := e.Related(seg)
		if next == nil {
			return nil, fmt.Errorf("%s.%s is null", e.TypeName(), seg)
		}
		e = next
	}
	return e, nil
}

// resolveRelation splits "book.author.books" into the entity reached by
// every segment but the last and the last segment.
func (h *Harness) resolveRelation(path string) (*entity.Entity, string, error) {
	segs := strings.Split(path, ".")
	if len(segs) < 2 {
		return nil, "", fmt.Errorf("path %q does not name a property", path)
	}
	owner, err := h.walk(segs[0], segs[1:len(segs)-1])
	if err != nil {
		return nil, "", err
	}
	prop := segs[len(segs)-1]
	if owner.Meta().Property(prop) == nil {
		return nil, "", fmt.Errorf("%s has no property %q", owner.TypeName(), prop)
	}
	return owner, prop, nil
}

// resolveEntity resolves a path that ends at an entity.
func (h *Harness) resolveEntity(path string) (*entity.Entity, error) {
	segs := strings.Split(path, ".")
	return h.walk(segs[0], segs[1:])
}

// resolveExport resolves what an export step serializes: a whole binding,
// one entity, or the collection or target a final relation segment names.
func (h *Harness) resolveExport(path string) (any, error) {
	segs := strings.Split(path, ".")
	if len(segs) == 1 {
		name, index, err := parseSegment(segs[0])
		if err != nil {
			return nil, err
		}
		if index < 0 {
			found, ok := h.bindings[name]
			if !ok {
				return nil, fmt.Errorf("unknown binding %q", name)
			}
			return found, nil
		}
		return h.binding(segs[0])
	}

	owner, prop, err := h.resolveRelation(path)
	if err != nil {
		return nil, err
	}
	p := owner.Meta().Property(prop)
	switch {
	case p.IsToMany():
		return h.collection(owner, p)
	case p.IsToOne():
		related := owner.Related(prop)
		if related == nil {
			return nil, fmt.Errorf("%s.%s is null", owner.TypeName(), prop)
		}
		return related, nil
	}
	return nil, fmt.Errorf("%s.%s is not a relation", owner.TypeName(), prop)
}

func (h *Harness) resolveItems(items []any) ([]any, error) {
	out := make([]any, len(items))
	for i, it := range items {
		v, err := h.resolveValue(it)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// resolveValue turns "$path" strings into bound entities and passes
// everything else through.
func (h *Harness) resolveValue(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	path, ok := strings.CutPrefix(s, "$")
	if !ok {
		return v, nil
	}
	return h.resolveEntity(path)
}

// renderValue is what a set step records: the key of a to-one, the
// identifiers of a to-many, the stored value otherwise.
func renderValue(owner *entity.Entity, p *meta.Property) (any, error) {
	switch {
	case p.IsToOne():
		related := owner.Related(p.Name)
		if related == nil {
			return nil, nil
		}
		return related.KeyValue(), nil
	case p.IsToMany():
		c := owner.Collection(p.Name)
		if c == nil {
			return nil, nil
		}
		return c.GetIdentifiers()
	}
	return owner.Value(p.Name), nil
}
