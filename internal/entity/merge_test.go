package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUrsula(t *testing.T, f *Factory) *Entity {
	t.Helper()
	a, err := f.Create("Author", map[string]any{
		"id":    1,
		"name":  "Ursula",
		"email": "ursula@example.com",
	})
	require.NoError(t, err)
	return a
}

func TestMergeData_KeepsUserChanges(t *testing.T) {
	f, _ := newTestFactory(t)
	a := newUrsula(t, f)

	require.NoError(t, a.Set("name", "Hand-set"))
	require.NoError(t, f.MergeData(a, map[string]any{
		"id":    1,
		"name":  "Reloaded",
		"email": "new@example.com",
	}))

	assert.Equal(t, "Hand-set", a.Value("name"))
	assert.Equal(t, "new@example.com", a.Value("email"))
	assert.Equal(t, "new@example.com", a.OriginalData()["email"])
	assert.Equal(t, "Ursula", a.OriginalData()["name"])
}

func TestMergeData_NullDoesNotOverride(t *testing.T) {
	f, _ := newTestFactory(t)
	a := newUrsula(t, f)

	require.NoError(t, f.MergeData(a, map[string]any{"email": nil}))
	assert.Equal(t, "ursula@example.com", a.Value("email"))
}

func TestMergeData_RejectsNonObject(t *testing.T) {
	f, _ := newTestFactory(t)
	a := newUrsula(t, f)

	err := f.MergeData(a, []any{1})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreate_MergesIntoExisting(t *testing.T) {
	f, _ := newTestFactory(t)
	a := newUrsula(t, f)

	b, err := f.Create("Author", map[string]any{"id": 1, "email": "second@example.com"})
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, "second@example.com", a.Value("email"))
	assert.Equal(t, "Ursula", a.Value("name"))
}

func TestCreate_RefreshOverwritesUserChanges(t *testing.T) {
	f, _ := newTestFactory(t)
	a := newUrsula(t, f)
	require.NoError(t, a.Set("name", "Hand-set"))

	_, err := f.Create("Author", map[string]any{"id": 1, "name": "Reloaded"}, Refresh())
	require.NoError(t, err)
	assert.Equal(t, "Reloaded", a.Value("name"))
	assert.Equal(t, "Reloaded", a.OriginalData()["name"])
}

func TestCreate_RecomputeSnapshot(t *testing.T) {
	f, _ := newTestFactory(t)
	a := newUrsula(t, f)
	require.NoError(t, a.Set("name", "Hand-set"))

	_, err := f.Create("Author", map[string]any{"id": 1}, RecomputeSnapshot())
	require.NoError(t, err)
	assert.Equal(t, "Hand-set", a.OriginalData()["name"])
}

func TestMergeData_CollectionsAlwaysApplied(t *testing.T) {
	f, _ := newTestFactory(t)
	b, err := f.Create("Book", map[string]any{
		"id":       10,
		"title":    "The Dispossessed",
		"chapters": []any{map[string]any{"id": 100, "title": "Anarres"}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, b.Collection("chapters").Len())

	require.NoError(t, f.MergeData(b, map[string]any{
		"id":       10,
		"chapters": []any{100, map[string]any{"id": 101, "title": "Urras"}},
	}))

	c := b.Collection("chapters")
	assert.Equal(t, 2, c.Len())
	assert.False(t, c.IsDirty())
}

func TestMergeData_CascadesIntoRelated(t *testing.T) {
	f, _ := newTestFactory(t)
	b, err := f.Create("Book", map[string]any{
		"id":     10,
		"title":  "The Dispossessed",
		"author": map[string]any{"id": 1, "name": "Ursula"},
	})
	require.NoError(t, err)

	_, err = f.Create("Book", map[string]any{
		"id":     10,
		"author": map[string]any{"id": 1, "name": "Ursula K. Le Guin"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Ursula K. Le Guin", b.Related("author").Value("name"))
}
