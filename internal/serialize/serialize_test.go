package serialize

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ormcore/internal/entity"
	"github.com/roach88/ormcore/internal/queryir"
	"github.com/roach88/ormcore/internal/store"
	"github.com/roach88/ormcore/internal/testutil"
)

// newSession opens a seeded bookstore database.
func newSession(t *testing.T) *entity.Session {
	t.Helper()
	rt := entity.NewRuntime(testutil.Bookstore(t), entity.WithKeyGenerator(testutil.NewSequentialKeyGenerator()))
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), rt.Metadata())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	require.NoError(t, st.Exec(ctx, testutil.BookstoreDDL))
	require.NoError(t, st.Exec(ctx, testutil.BookstoreSeed))
	return rt.NewSession(st)
}

// authors returns Ursula and Frank, fully loaded.
func authors(t *testing.T, s *entity.Session) []*entity.Entity {
	t.Helper()
	out, err := s.Find(context.Background(), "Author", entity.OrderBy(queryir.Order{Field: "id"}))
	require.NoError(t, err)
	require.Len(t, out, 2)
	return out
}

func object(t *testing.T, v any) map[string]any {
	t.Helper()
	m, ok := v.(map[string]any)
	require.True(t, ok, "expected an object, got %T", v)
	return m
}

func list(t *testing.T, v any) []any {
	t.Helper()
	l, ok := v.([]any)
	require.True(t, ok, "expected a list, got %T", v)
	return l
}

// byID picks the object with the given id from a serialized list.
func byID(t *testing.T, items []any, id int64) map[string]any {
	t.Helper()
	for _, it := range items {
		if m, ok := it.(map[string]any); ok && m["id"] == id {
			return m
		}
	}
	require.Failf(t, "missing item", "no item with id %d", id)
	return nil
}

// ============================================================================
// Cycles
// ============================================================================

func TestSerialize_MutualReferenceTerminates(t *testing.T) {
	s := newSession(t)
	ursula := authors(t, s)[0]

	out, err := Serialize(ursula, Options{PopulateAll: true})
	require.NoError(t, err)

	root := object(t, out)
	assert.Equal(t, "Ursula", root["name"])
	frank := object(t, root["bestFriend"])
	assert.Equal(t, "Frank", frank["name"])
	assert.Equal(t, int64(1), frank["bestFriend"])
}

func TestSerialize_HintedCycleExpandsOnce(t *testing.T) {
	s := newSession(t)
	ursula := authors(t, s)[0]

	out, err := Serialize(ursula, Options{Populate: []string{"bestFriend.bestFriend"}})
	require.NoError(t, err)

	frank := object(t, object(t, out)["bestFriend"])
	again := object(t, frank["bestFriend"])
	assert.Equal(t, "Ursula", again["name"])
	assert.Equal(t, int64(2), again["bestFriend"])
}

func TestSerialize_RepeatedInstanceDegradesToKey(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	all := authors(t, s)
	require.NoError(t, s.Populate(ctx, all, "books.tags"))

	out, err := Serialize(all[0], Options{PopulateAll: true})
	require.NoError(t, err)

	books := list(t, object(t, out)["books"])
	require.Len(t, books, 2)
	dispossessed := byID(t, books, 10)
	assert.Equal(t, int64(1), dispossessed["author"])

	tags := list(t, dispossessed["tags"])
	assert.Equal(t, "sf", byID(t, tags, 1)["name"])
	assert.Equal(t, "classic", byID(t, tags, 3)["name"])
}

func TestSerialize_SliceRootsExpandFully(t *testing.T) {
	s := newSession(t)
	all := authors(t, s)

	out, err := Serialize(all, Options{PopulateAll: true})
	require.NoError(t, err)

	items := list(t, out)
	require.Len(t, items, 2)
	assert.Equal(t, "Ursula", object(t, items[0])["name"])
	frank := object(t, items[1])
	assert.Equal(t, "Frank", frank["name"])
	assert.Equal(t, "frank@example.com", frank["email"])
}

// ============================================================================
// Options
// ============================================================================

func TestSerialize_UnpopulatedRelationsAreKeys(t *testing.T) {
	s := newSession(t)
	ursula := authors(t, s)[0]

	out, err := Serialize(ursula, Options{})
	require.NoError(t, err)

	root := object(t, out)
	assert.Equal(t, int64(2), root["bestFriend"])
	assert.Nil(t, root["favoriteBook"])
	assert.Contains(t, root, "favoriteBook")
	assert.NotContains(t, root, "password")
	assert.NotContains(t, root, "books")
	assert.Equal(t, map[string]any{"street": "1 Earthsea Way", "city": "Portland"}, root["address"])
}

func TestSerialize_PopulatePaths(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	all := authors(t, s)
	require.NoError(t, s.Populate(ctx, all, "books.tags"))

	out, err := Serialize(all[0], Options{Populate: []string{"books"}})
	require.NoError(t, err)

	book := byID(t, list(t, object(t, out)["books"]), 10)
	assert.Equal(t, "The Dispossessed", book["title"])
	assert.Equal(t, map[string]any{"pages": int64(387)}, book["meta"])
	assert.ElementsMatch(t, []any{int64(1), int64(3)}, list(t, book["tags"]))
	assert.Equal(t, int64(1), book["publisher"])
	assert.NotContains(t, book, "chapters")
}

func TestSerialize_Exclude(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	all := authors(t, s)
	require.NoError(t, s.Populate(ctx, all, "books"))

	out, err := Serialize(all[0], Options{Populate: []string{"books"}, Exclude: []string{"email", "books.title"}})
	require.NoError(t, err)

	root := object(t, out)
	assert.NotContains(t, root, "email")
	book := byID(t, list(t, root["books"]), 11)
	assert.NotContains(t, book, "title")
	assert.Equal(t, int64(20), book["titleLength"])
}

func TestSerialize_ForceObjectAndSkipNull(t *testing.T) {
	s := newSession(t)
	frank := authors(t, s)[1]

	out, err := Serialize(frank, Options{ForceObject: true, SkipNull: true})
	require.NoError(t, err)

	root := object(t, out)
	assert.Equal(t, map[string]any{"id": int64(1)}, root["bestFriend"])
	assert.NotContains(t, root, "address")
	assert.NotContains(t, root, "favoriteBook")
}

func TestSerialize_Inputs(t *testing.T) {
	s := newSession(t)

	ref, err := s.Reference("Author", 1)
	require.NoError(t, err)
	out, err := Serialize(ref, Options{PopulateAll: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), out)

	out, err = Serialize(nil, Options{})
	require.NoError(t, err)
	assert.Nil(t, out)

	_, err = Serialize(42, Options{})
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
}

func TestSerialize_CompositeKey(t *testing.T) {
	s := newSession(t)

	stock, err := s.Reference("Stock", []any{1, "sku-2"})
	require.NoError(t, err)

	out, err := Serialize(stock, Options{})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), "sku-2"}, out)

	out, err = Serialize(stock, Options{ForceObject: true})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"storeId": int64(1), "sku": "sku-2"}, out)
}

// ============================================================================
// ToObject and JSON
// ============================================================================

func TestToObject_ExpandsInitializedRelations(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()
	all := authors(t, s)
	require.NoError(t, s.Populate(ctx, all, "books"))

	out, err := ToObject(all[0], "password")
	require.NoError(t, err)

	root := object(t, out)
	frank := object(t, root["bestFriend"])
	assert.Equal(t, int64(1), frank["bestFriend"])

	book := byID(t, list(t, root["books"]), 10)
	author := object(t, book["author"])
	assert.Equal(t, "Ursula", author["name"])
	assert.ElementsMatch(t, []any{int64(10), int64(11)}, list(t, author["books"]))
}

func TestToJSON_SortedKeys(t *testing.T) {
	s := newSession(t)
	tag, err := s.FindByID(context.Background(), "Tag", 1)
	require.NoError(t, err)

	b, err := ToJSON(tag, Options{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"name":"sf"}`, string(b))
	assert.Equal(t, `{"id":1,"name":"sf"}`, string(b))

	b, err = ToJSONIndent(tag, Options{}, "  ")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"name":"sf"}`, string(b))
	assert.Contains(t, string(b), "\n  \"id\"")
}
