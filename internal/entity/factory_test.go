package entity

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ormcore/internal/ir"
	"github.com/roach88/ormcore/internal/meta"
)

// ============================================================================
// Identity
// ============================================================================

func TestCreate_SameKeySameInstance(t *testing.T) {
	f, im := newTestFactory(t)

	a1, err := f.Create("Author", map[string]any{"id": 1, "name": "Ursula"})
	require.NoError(t, err)
	a2, err := f.Create("Author", map[string]any{"id": int64(1)})
	require.NoError(t, err)
	a3, err := f.Create("Author", map[string]any{"id": 1.0})
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.Same(t, a1, a3)
	assert.Equal(t, 1, im.Len())
	assert.True(t, a1.IsManaged())
	assert.True(t, a1.IsInitialized())
}

func TestCreate_EntityPassesThrough(t *testing.T) {
	f, _ := newTestFactory(t)

	a, err := f.Create("Author", map[string]any{"id": 1, "name": "Ursula"})
	require.NoError(t, err)

	got, err := f.Create("Author", a)
	require.NoError(t, err)
	assert.Same(t, a, got)

	got, err = f.Create("Author", NewReference(a))
	require.NoError(t, err)
	assert.Same(t, a, got)
}

func TestCreate_InvalidInput(t *testing.T) {
	f, _ := newTestFactory(t)

	_, err := f.Create("Nope", map[string]any{"id": 1})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.Create("Author", "not an object")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.Create("Address", map[string]any{"street": "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.Create("Book", map[string]any{"id": 1, "tags": "sf"})
	require.Error(t, err)
	assert.Equal(t, CodeInvalidInput, CodeOf(err))
}

func TestCreate_UniqueKeyResolvesReference(t *testing.T) {
	f, _ := newTestFactory(t)

	ref, err := f.CreateReference("Author", map[string]any{"email": "u@example.com"})
	require.NoError(t, err)
	assert.False(t, ref.IsInitialized())

	a, err := f.Create("Author", map[string]any{"id": 1, "name": "Ursula", "email": "u@example.com"})
	require.NoError(t, err)
	assert.Same(t, ref, a)
	assert.True(t, a.IsInitialized())

	byID, err := f.CreateReference("Author", 1)
	require.NoError(t, err)
	assert.Same(t, a, byID)
}

func TestCreate_PartialCompositeKeyIsNew(t *testing.T) {
	f, _ := newTestFactory(t)

	s1, err := f.Create("Stock", map[string]any{"storeId": 1, "quantity": 2})
	require.NoError(t, err)
	s2, err := f.Create("Stock", map[string]any{"storeId": 1, "quantity": 2})
	require.NoError(t, err)

	assert.NotSame(t, s1, s2)
	assert.Nil(t, s1.PrimaryKey())
}

// ============================================================================
// References
// ============================================================================

func TestCreate_BareKeyIsReference(t *testing.T) {
	f, _ := newTestFactory(t)

	book, err := f.Create("Book", map[string]any{"id": 10, "title": "The Dispossessed", "author": 1})
	require.NoError(t, err)

	ref := book.Reference("author")
	require.NotNil(t, ref)
	assert.False(t, ref.IsInitialized())
	assert.Equal(t, []any{int64(1)}, ref.PrimaryKey())

	_, err = ref.Entity()
	assert.ErrorIs(t, err, ErrNotLoaded)

	author, err := f.Create("Author", map[string]any{"id": 1, "name": "Ursula"})
	require.NoError(t, err)
	assert.Same(t, author, book.Related("author"))
	assert.True(t, ref.IsInitialized())
}

func TestCreate_ObjectPayloadCreatesRelated(t *testing.T) {
	f, _ := newTestFactory(t)

	book, err := f.Create("Book", map[string]any{
		"id":     10,
		"title":  "The Dispossessed",
		"author": map[string]any{"id": 1, "name": "Ursula"},
	})
	require.NoError(t, err)

	author := book.Related("author")
	require.NotNil(t, author)
	assert.True(t, author.IsInitialized())
	assert.Equal(t, "Ursula", author.Value("name"))
	assert.Equal(t, int64(1), book.OriginalData()["author"])
}

func TestCreateReference_Composite(t *testing.T) {
	f, _ := newTestFactory(t)

	ref, err := f.CreateReference("Stock", []any{1, "sku-1"})
	require.NoError(t, err)
	assert.False(t, ref.IsInitialized())
	assert.Equal(t, []any{int64(1), "sku-1"}, ref.KeyValue())

	row, err := f.Create("Stock", map[string]any{"storeId": 1, "sku": "sku-1", "quantity": 5})
	require.NoError(t, err)
	assert.Same(t, ref, row)
	assert.Equal(t, int64(5), ir.Normalize(row.Value("quantity")))
}

func TestCreateReference_BadKeys(t *testing.T) {
	f, _ := newTestFactory(t)

	tests := []struct {
		name     string
		typeName string
		key      any
	}{
		{"wrong arity", "Stock", []any{1}},
		{"too many parts", "Author", []any{1, 2}},
		{"null component", "Stock", []any{1, nil}},
		{"null key", "Author", nil},
		{"map without key", "Author", map[string]any{"name": "Ursula"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.CreateReference(tt.typeName, tt.key)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

// ============================================================================
// Inheritance
// ============================================================================

func TestCreate_DiscriminatorSelectsSubtype(t *testing.T) {
	f, _ := newTestFactory(t)

	rex, err := f.Create("Animal", map[string]any{"id": 1, "name": "Rex", "type": "dog", "barks": true})
	require.NoError(t, err)
	assert.Equal(t, "Dog", rex.TypeName())
	assert.Equal(t, true, rex.Value("barks"))
}

func TestCreate_AbstractWithoutDiscriminator(t *testing.T) {
	f, _ := newTestFactory(t)

	_, err := f.Create("Animal", map[string]any{"id": 1, "name": "Rex"})
	assert.ErrorIs(t, err, ErrPolymorphicBase)

	_, err = f.Create("Animal", map[string]any{"id": 1, "type": "fish"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreate_ReferenceUpgradedToSubtype(t *testing.T) {
	f, _ := newTestFactory(t)

	ref, err := f.CreateReference("Animal", 2)
	require.NoError(t, err)
	assert.Equal(t, "Animal", ref.TypeName())

	tom, err := f.Create("Animal", map[string]any{"id": 2, "name": "Tom", "type": "cat", "lives": 9})
	require.NoError(t, err)
	assert.Same(t, ref, tom)
	assert.Equal(t, "Cat", tom.TypeName())

	same, err := f.CreateReference("Cat", 2)
	require.NoError(t, err)
	assert.Same(t, tom, same)
}

// ============================================================================
// Construction
// ============================================================================

func TestCreate_NewEntityRunsConstructor(t *testing.T) {
	f, im := newTestFactory(t)

	a, err := f.Create("Author", map[string]any{"id": 5, "name": "New"}, NewEntity())
	require.NoError(t, err)

	assert.False(t, a.IsManaged())
	assert.Equal(t, false, a.Value("termsAccepted"))
	assert.Equal(t, "New", a.Value("name"))
	assert.Nil(t, a.OriginalData())
	assert.Same(t, a, im.Lookup(a.Meta(), []any{int64(5)}))
}

func TestCreate_ForceConstructor(t *testing.T) {
	f, _ := newTestFactory(t)
	a, err := f.Create("Author", map[string]any{"id": 1, "name": "Ursula"})
	require.NoError(t, err)
	assert.False(t, a.Has("termsAccepted"))

	forced, _ := newTestFactory(t, WithForceConstructor(true))
	b, err := forced.Create("Author", map[string]any{"id": 1, "name": "Ursula"})
	require.NoError(t, err)
	assert.Equal(t, false, b.Value("termsAccepted"))
	assert.True(t, b.IsManaged())
}

func TestCreate_GeneratedUUIDKey(t *testing.T) {
	f, _ := newTestFactory(t)

	p, err := f.Create("Profile", map[string]any{"bio": "hello"}, NewEntity())
	require.NoError(t, err)

	assert.Equal(t, uuid.MustParse("00000000-0000-7000-8000-000000000001"), p.Value("id"))
	assert.Equal(t, []any{"00000000-0000-7000-8000-000000000001"}, p.PrimaryKey())

	q, err := f.Create("Profile", map[string]any{"bio": "again"}, NewEntity())
	require.NoError(t, err)
	assert.NotEqual(t, p.KeyValue(), q.KeyValue())
}

// ============================================================================
// Values
// ============================================================================

func TestCreate_ConvertsCustomTypes(t *testing.T) {
	f, _ := newTestFactory(t)

	a, err := f.Create("Author", map[string]any{
		"id":            1,
		"name":          "Ursula",
		"termsAccepted": int64(1),
		"born":          "1929-10-21",
	}, ConvertCustomTypes())
	require.NoError(t, err)

	assert.Equal(t, true, a.Value("termsAccepted"))
	assert.Equal(t, int64(1), a.OriginalData()["termsAccepted"])
	born, ok := a.Value("born").(time.Time)
	require.True(t, ok)
	assert.Equal(t, 1929, born.Year())
}

func TestCreate_JSONColumnStaysComparable(t *testing.T) {
	f, _ := newTestFactory(t)

	b, err := f.Create("Book", map[string]any{
		"id":    12,
		"title": "Dune",
		"meta":  `{"series":"Dune","pages":412}`,
	}, ConvertCustomTypes())
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"series": "Dune", "pages": int64(412)}, ir.Normalize(b.Value("meta")))
	assert.Equal(t, `{"pages":412,"series":"Dune"}`, b.OriginalData()["meta"])
}

func TestCreate_FlattenedEmbeddable(t *testing.T) {
	f, _ := newTestFactory(t)

	a, err := f.Create("Author", map[string]any{
		"id":             1,
		"name":           "Ursula",
		"address_street": "1 Earthsea Way",
		"address_city":   "Portland",
	})
	require.NoError(t, err)

	addr := a.Embedded("address")
	require.NotNil(t, addr)
	assert.Equal(t, "1 Earthsea Way", addr.Value("street"))
	assert.Equal(t, "Portland", addr.Value("city"))
	assert.Equal(t, "Portland", a.OriginalData()["address_city"])

	b, err := f.Create("Author", map[string]any{"id": 2, "name": "Frank", "address_street": nil, "address_city": nil})
	require.NoError(t, err)
	assert.True(t, b.Has("address"))
	assert.Nil(t, b.Embedded("address"))
}

func TestCreate_OneToOneWiresBothSides(t *testing.T) {
	f, _ := newTestFactory(t)

	a, err := f.Create("Author", map[string]any{"id": 1, "name": "Ursula"})
	require.NoError(t, err)
	p, err := f.Create("Profile", map[string]any{"id": "0190a3c4-8a4f-7c1e-9d2b-3f4e5a6b7c8d", "author": 1})
	require.NoError(t, err)

	assert.Same(t, a, p.Related("author"))
	assert.Same(t, p, a.Related("profile"))
}

func TestCreate_OneToManyPayloadSetsOwner(t *testing.T) {
	f, _ := newTestFactory(t)

	b, err := f.Create("Book", map[string]any{
		"id":    10,
		"title": "The Dispossessed",
		"chapters": []any{
			map[string]any{"id": 100, "title": "Anarres"},
			101,
		},
	})
	require.NoError(t, err)

	c := b.Collection("chapters")
	require.NotNil(t, c)
	assert.True(t, c.IsInitialized(false))
	assert.False(t, c.IsDirty())

	items, err := c.GetItems(true)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Same(t, b, items[0].Related("book"))
	assert.True(t, items[0].IsInitialized())
	assert.False(t, items[1].IsInitialized())
	assert.False(t, c.IsInitialized(true))
}

func TestCreate_CycleThroughRelations(t *testing.T) {
	f, _ := newTestFactory(t)

	a, err := f.Create("Author", map[string]any{
		"id":   1,
		"name": "Ursula",
		"bestFriend": map[string]any{
			"id":         2,
			"name":       "Frank",
			"bestFriend": map[string]any{"id": 1, "name": "Ursula"},
		},
	})
	require.NoError(t, err)

	frank := a.Related("bestFriend")
	require.NotNil(t, frank)
	assert.Same(t, a, frank.Related("bestFriend"))
}

// ============================================================================
// Hydration plans
// ============================================================================

func TestHydrate_Idempotent(t *testing.T) {
	f, _ := newTestFactory(t)
	data := ir.Data{
		"id":             int64(1),
		"name":           "Ursula",
		"email":          "u@example.com",
		"address_street": "1 Earthsea Way",
		"bestFriend":     int64(2),
		"books":          []any{int64(10), int64(11)},
	}

	a, err := f.Create("Author", data.Clone())
	require.NoError(t, err)
	loaded := a.LoadedProperties()
	snap := a.snapshot()
	books := a.Collection("books")
	friend := a.Reference("bestFriend")

	h := &hydration{f: f, merge: true}
	require.NoError(t, f.hydrate(a, data.Clone(), h, ModeFull))

	assert.Equal(t, loaded, a.LoadedProperties())
	assert.Equal(t, snap, a.snapshot())
	assert.Same(t, books, a.Collection("books"))
	assert.Same(t, friend, a.Reference("bestFriend"))
	assert.False(t, books.IsDirty())
}

func TestHydrate_IdempotentCustomTypeKey(t *testing.T) {
	id := uuid.MustParse("00000000-0000-7000-8000-0000000000aa")

	tests := []struct {
		name string
		data ir.Data
		opts []CreateOption
	}{
		{"entity form", ir.Data{"id": id, "bio": "x"}, nil},
		{"database form", ir.Data{"id": id.String(), "bio": "x"}, []CreateOption{ConvertCustomTypes()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _ := newTestFactory(t)
			data := tt.data.Clone()

			p, err := f.Create("Profile", data, tt.opts...)
			require.NoError(t, err)
			assert.Equal(t, id, p.Value("id"))
			assert.Equal(t, id.String(), p.OriginalData()["id"])
			snap := p.snapshot()

			h := &hydration{f: f, merge: true, convertCustomTypes: len(tt.opts) > 0}
			require.NoError(t, f.hydrate(p, data, h, ModeFull))
			assert.Equal(t, tt.data, data, "hydration leaves the payload as given")
			assert.Equal(t, id, p.Value("id"))
			assert.Equal(t, snap, p.snapshot())
		})
	}
}

func TestPlanSteps(t *testing.T) {
	rt := newTestRuntime(t)

	ref, err := rt.PlanSteps("Stock", ModeReference)
	require.NoError(t, err)
	require.Len(t, ref, 2)
	assert.Equal(t, "storeId", ref[0].Property)
	assert.Equal(t, "sku", ref[1].Property)

	full, err := rt.PlanSteps("Author", ModeFull)
	require.NoError(t, err)
	author, err := rt.md.Get("Author")
	require.NoError(t, err)
	require.Len(t, full, len(author.Properties))
	assert.Equal(t, "id", full[0].Property)
	assert.Equal(t, meta.ClassScalar, full[0].Class)

	_, err = rt.PlanSteps("Nope", ModeFull)
	assert.Error(t, err)
}

func TestPlan_ConcurrentCompileSharesResult(t *testing.T) {
	rt := newTestRuntime(t)
	m, err := rt.md.Get("Book")
	require.NoError(t, err)

	const n = 16
	plans := make([]*plan, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := rt.plan(m, ModeFull)
			assert.NoError(t, err)
			plans[i] = p
		}()
	}
	wg.Wait()

	for _, p := range plans[1:] {
		assert.Same(t, plans[0], p)
	}
}
