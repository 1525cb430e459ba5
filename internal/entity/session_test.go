package entity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ormcore/internal/queryir"
)

// ============================================================================
// Finders
// ============================================================================

func TestSession_FindHydratesManagedEntities(t *testing.T) {
	s, _ := newTestSession(t)

	authors, err := s.Find(context.Background(), "Author", OrderBy(queryir.Order{Field: "id"}))
	require.NoError(t, err)
	require.Len(t, authors, 2)

	ursula := authors[0]
	assert.True(t, ursula.IsInitialized())
	assert.True(t, ursula.IsManaged())
	assert.Equal(t, "Ursula", ursula.Value("name"))
	assert.Equal(t, true, ursula.Value("termsAccepted"))
	born, ok := ursula.Value("born").(time.Time)
	require.True(t, ok)
	assert.Equal(t, time.October, born.Month())
	assert.Equal(t, "Portland", ursula.Embedded("address").Value("city"))
	assert.Nil(t, authors[1].Embedded("address"))
	assert.Equal(t, int64(1), ursula.OriginalData()["termsAccepted"])
}

func TestSession_FindResolvesCycles(t *testing.T) {
	s, _ := newTestSession(t)

	authors, err := s.Find(context.Background(), "Author", OrderBy(queryir.Order{Field: "id"}))
	require.NoError(t, err)
	require.Len(t, authors, 2)

	assert.Same(t, authors[1], authors[0].Related("bestFriend"))
	assert.Same(t, authors[0], authors[1].Related("bestFriend"))
}

func TestSession_FindWhereLimitOffset(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	books, err := s.Find(ctx, "Book",
		Where(queryir.Equals{Field: "author", Value: 1}),
		OrderBy(queryir.Order{Field: "title"}),
		Limit(1),
		Offset(1))
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "The Dispossessed", books[0].Value("title"))
	assert.Equal(t, int64(16), books[0].Value("titleLength"))
	assert.Equal(t, map[string]any{"pages": int64(387)}, books[0].Value("meta"))
}

func TestSession_FindSubtypes(t *testing.T) {
	s, _ := newTestSession(t)

	animals, err := s.Find(context.Background(), "Animal", OrderBy(queryir.Order{Field: "id"}))
	require.NoError(t, err)
	require.Len(t, animals, 2)
	assert.Equal(t, "Dog", animals[0].TypeName())
	assert.Equal(t, "Cat", animals[1].TypeName())

	cats, err := s.Find(context.Background(), "Cat")
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Same(t, animals[1], cats[0])
}

func TestSession_FindOneNotFound(t *testing.T) {
	s, _ := newTestSession(t)

	_, err := s.FindOne(context.Background(), "Book", Where(queryir.Equals{Field: "title", Value: "Missing"}))
	assert.True(t, IsNotFound(err))

	_, err = s.Find(context.Background(), "Nope")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSession_FindByIDUsesIdentityMap(t *testing.T) {
	s, d := newTestSession(t)
	ctx := context.Background()

	a := mustFind(t, s, "Author", 1)
	n := d.queries()
	b := mustFind(t, s, "Author", 1)
	assert.Same(t, a, b)
	assert.Equal(t, n, d.queries())

	byEmail, err := s.FindByID(ctx, "Author", map[string]any{"email": "ursula@example.com"})
	require.NoError(t, err)
	assert.Same(t, a, byEmail)

	stock, err := s.FindByID(ctx, "Stock", []any{2, "sku-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), stock.Value("quantity"))

	_, err = s.FindByID(ctx, "Author", 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSession_FindRefreshOverwrites(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	a := mustFind(t, s, "Author", 1)
	require.NoError(t, a.Set("name", "Hand-set"))

	_, err := s.Find(ctx, "Author", Where(queryir.Equals{Field: "id", Value: 1}))
	require.NoError(t, err)
	assert.Equal(t, "Hand-set", a.Value("name"))

	_, err = s.Find(ctx, "Author", Where(queryir.Equals{Field: "id", Value: 1}), RefreshResults())
	require.NoError(t, err)
	assert.Equal(t, "Ursula", a.Value("name"))
}

func TestSession_Count(t *testing.T) {
	s, _ := newTestSession(t)

	n, err := s.Count(context.Background(), "Book", Where(queryir.Equals{Field: "author", Value: 1}))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSession_DriverErrorIsWrapped(t *testing.T) {
	s, _ := newTestSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Find(ctx, "Book")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, CodeOf(err))
}

// ============================================================================
// Populate
// ============================================================================

func TestSession_PopulateNestedPathBatches(t *testing.T) {
	s, d := newTestSession(t)
	ctx := context.Background()

	authors, err := s.Find(ctx, "Author", OrderBy(queryir.Order{Field: "id"}))
	require.NoError(t, err)
	finds, pivots := d.finds, d.pivots

	require.NoError(t, s.Populate(ctx, authors, "books.tags"))
	assert.Equal(t, finds+1, d.finds)
	assert.Equal(t, pivots+1, d.pivots)

	books, err := authors[0].Collection("books").GetItems(true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"The Dispossessed", "A Wizard of Earthsea"}, titles(books))
	for _, b := range books {
		assert.True(t, b.Collection("tags").IsInitialized(true))
	}

	dune, err := authors[1].Collection("books").GetItems(true)
	require.NoError(t, err)
	require.Len(t, dune, 1)
	assert.Equal(t, 2, dune[0].Collection("tags").Len())
}

func TestSession_PopulateToOne(t *testing.T) {
	s, d := newTestSession(t)
	ctx := context.Background()

	books, err := s.Find(ctx, "Book")
	require.NoError(t, err)
	for _, b := range books {
		require.False(t, b.Reference("author").IsInitialized())
	}
	finds := d.finds

	require.NoError(t, s.Populate(ctx, books, "author.profile"))
	assert.Equal(t, finds+2, d.finds)
	for _, b := range books {
		assert.True(t, b.Reference("author").IsInitialized())
	}

	ursula := mustFind(t, s, "Author", 1)
	profile := ursula.Related("profile")
	require.NotNil(t, profile)
	assert.Equal(t, "Wrote Earthsea", profile.Value("bio"))
	assert.Same(t, ursula, profile.Related("author"))

	frank := mustFind(t, s, "Author", 2)
	assert.True(t, frank.Has("profile"))
	assert.Nil(t, frank.Related("profile"))
}

func TestSession_PopulateAllAndFindOption(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	book, err := s.FindByID(ctx, "Book", 10, Populate("*"))
	require.NoError(t, err)
	assert.True(t, book.Reference("author").IsInitialized())
	assert.True(t, book.Collection("tags").IsInitialized(true))
	assert.True(t, book.Collection("chapters").IsInitialized(true))

	tags, err := s.Find(ctx, "Tag", Populate("books"))
	require.NoError(t, err)
	for _, tag := range tags {
		assert.True(t, tag.Collection("books").IsInitialized(false))
	}
}

func TestSession_PopulateRejectsBadPaths(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()
	books, err := s.Find(ctx, "Book")
	require.NoError(t, err)

	assert.ErrorIs(t, s.Populate(ctx, books, "nope"), ErrInvalidInput)
	assert.ErrorIs(t, s.Populate(ctx, books, "title"), ErrInvalidInput)
}

// ============================================================================
// Construction through the session
// ============================================================================

func TestSession_NewAndMerge(t *testing.T) {
	s, _ := newTestSession(t)

	p, err := s.New("Profile", map[string]any{"bio": "new", "author": 2})
	require.NoError(t, err)
	assert.False(t, p.IsManaged())
	assert.Same(t, s, p.Session())
	assert.Equal(t, "00000000-0000-7000-8000-000000000001", p.KeyValue())

	frank, err := s.Reference("Author", 2)
	require.NoError(t, err)
	assert.Same(t, frank, p.Related("author"))
	assert.Same(t, p, frank.Related("profile"))

	merged, err := s.Merge("Author", map[string]any{"id": 2, "name": "Frank"})
	require.NoError(t, err)
	assert.Same(t, frank, merged)
	assert.True(t, frank.IsInitialized())
}
