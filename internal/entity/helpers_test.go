package entity

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/ormcore/internal/ir"
	"github.com/roach88/ormcore/internal/meta"
	"github.com/roach88/ormcore/internal/queryir"
	"github.com/roach88/ormcore/internal/store"
	"github.com/roach88/ormcore/internal/testutil"
)

// countingDriver wraps a store and counts round trips. noPivot makes it
// report a document-style driver; fail makes every call return the error.
type countingDriver struct {
	*store.Store

	mu      sync.Mutex
	finds   int
	counts  int
	pivots  int
	noPivot bool
	fail    error
}

func (d *countingDriver) UsesPivotTable() bool {
	return !d.noPivot
}

func (d *countingDriver) Find(ctx context.Context, m *meta.EntityMeta, q queryir.Select) ([]ir.Data, error) {
	d.mu.Lock()
	d.finds++
	fail := d.fail
	d.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	return d.Store.Find(ctx, m, q)
}

func (d *countingDriver) Count(ctx context.Context, m *meta.EntityMeta, where queryir.Predicate) (int, error) {
	d.mu.Lock()
	d.counts++
	fail := d.fail
	d.mu.Unlock()
	if fail != nil {
		return 0, fail
	}
	return d.Store.Count(ctx, m, where)
}

func (d *countingDriver) LoadFromPivotTable(
	ctx context.Context,
	prop *meta.Property,
	owners [][]any,
	where queryir.Predicate,
	orderBy []queryir.Order,
) (map[string][]ir.Data, error) {
	d.mu.Lock()
	d.pivots++
	fail := d.fail
	d.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	return d.Store.LoadFromPivotTable(ctx, prop, owners, where, orderBy)
}

func (d *countingDriver) queries() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.finds + d.counts + d.pivots
}

// newTestRuntime builds a runtime over the bookstore model with sequential
// generated keys.
func newTestRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	opts = append([]Option{WithKeyGenerator(testutil.NewSequentialKeyGenerator())}, opts...)
	return NewRuntime(testutil.Bookstore(t), opts...)
}

// newTestFactory returns a factory with its own identity map and no session.
func newTestFactory(t *testing.T, opts ...Option) (*Factory, *IdentityMap) {
	t.Helper()
	im := NewIdentityMap()
	return newTestRuntime(t, opts...).NewFactory(im), im
}

// newTestSession opens a seeded SQLite store and returns a session over a
// counting wrapper of it.
func newTestSession(t *testing.T, opts ...Option) (*Session, *countingDriver) {
	t.Helper()
	rt := newTestRuntime(t, opts...)
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), rt.Metadata())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Exec(ctx, testutil.BookstoreDDL))
	require.NoError(t, s.Exec(ctx, testutil.BookstoreSeed))

	d := &countingDriver{Store: s}
	return rt.NewSession(d), d
}

// mustFind loads one entity by key through the session.
func mustFind(t *testing.T, s *Session, typeName string, key any) *Entity {
	t.Helper()
	e, err := s.FindByID(context.Background(), typeName, key)
	require.NoError(t, err)
	return e
}

func titles(items []*Entity) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i], _ = it.Value("title").(string)
	}
	return out
}

func ids(items []*Entity) []any {
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = it.KeyValue()
	}
	return out
}
