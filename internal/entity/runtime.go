package entity

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roach88/ormcore/internal/meta"
)

// KeyGenerator generates primary keys for new entities whose key property
// is declared Generated: "uuid".
// Implemented by UUIDv7Generator (production) and
// testutil.SequentialKeyGenerator (tests).
type KeyGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 keys.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Runtime is the long-lived, shared part of the core: the metadata provider
// and the hydration plan cache. One Runtime serves any number of sessions.
//
// Thread-safety: all methods are safe for concurrent use.
type Runtime struct {
	md               meta.Provider
	logger           *zap.Logger
	keys             KeyGenerator
	forceConstructor bool
	platform         meta.Platform

	mu    sync.RWMutex
	plans map[planKey]*plan
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger for the runtime and its sessions.
func WithLogger(l *zap.Logger) Option {
	return func(rt *Runtime) {
		rt.logger = l
	}
}

// WithKeyGenerator replaces the UUIDv7 generator.
func WithKeyGenerator(g KeyGenerator) Option {
	return func(rt *Runtime) {
		rt.keys = g
	}
}

// WithForceConstructor runs descriptor constructors for every entity, not
// only new ones.
func WithForceConstructor(force bool) Option {
	return func(rt *Runtime) {
		rt.forceConstructor = force
	}
}

// WithPlatform sets the custom type platform of factories without a
// session (default sqlite).
func WithPlatform(p meta.Platform) Option {
	return func(rt *Runtime) {
		rt.platform = p
	}
}

// NewRuntime creates a runtime over a finalized metadata provider.
func NewRuntime(md meta.Provider, opts ...Option) *Runtime {
	rt := &Runtime{
		md:       md,
		logger:   zap.NewNop(),
		keys:     UUIDv7Generator{},
		platform: meta.PlatformSQLite,
		plans:    make(map[planKey]*plan),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Metadata returns the metadata provider.
func (rt *Runtime) Metadata() meta.Provider {
	return rt.md
}

// Logger returns the runtime logger.
func (rt *Runtime) Logger() *zap.Logger {
	return rt.logger
}

// NewFactory creates a factory over uow without a session: entities it
// creates cannot lazy-load.
func (rt *Runtime) NewFactory(uow UnitOfWork) *Factory {
	return &Factory{rt: rt, uow: uow, logger: rt.logger}
}

// Mode selects which properties a hydration plan covers.
type Mode int

const (
	// ModeFull hydrates every property.
	ModeFull Mode = iota
	// ModeReference hydrates the primary key only.
	ModeReference
)

func (m Mode) String() string {
	if m == ModeReference {
		return "reference"
	}
	return "full"
}

type planKey struct {
	entity string
	mode   Mode
}

// StepInfo describes one compiled hydration step.
type StepInfo struct {
	Property string
	Class    meta.Class
}

// PlanSteps returns the compiled plan of a type, compiling it on first use.
func (rt *Runtime) PlanSteps(typeName string, mode Mode) ([]StepInfo, error) {
	m, err := rt.md.Get(typeName)
	if err != nil {
		return nil, err
	}
	p, err := rt.plan(m, mode)
	if err != nil {
		return nil, err
	}
	out := make([]StepInfo, len(p.steps))
	for i, s := range p.steps {
		out[i] = StepInfo{Property: s.prop.Name, Class: s.prop.Class()}
	}
	return out, nil
}

// plan returns the cached plan for (m, mode), building it on first use.
// Concurrent first uses may build twice; the first stored plan wins.
func (rt *Runtime) plan(m *meta.EntityMeta, mode Mode) (*plan, error) {
	key := planKey{entity: m.Name, mode: mode}

	rt.mu.RLock()
	p, ok := rt.plans[key]
	rt.mu.RUnlock()
	if ok {
		return p, nil
	}

	built, err := rt.compile(m, mode)
	if err != nil {
		return nil, fmt.Errorf("compile hydration plan for %s: %w", m.Name, err)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if p, ok := rt.plans[key]; ok {
		return p, nil
	}
	rt.plans[key] = built
	rt.logger.Debug("hydration plan compiled",
		zap.String("entity", m.Name),
		zap.Stringer("mode", mode),
		zap.Int("steps", len(built.steps)))
	return built, nil
}
