package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func library() []*EntityMeta {
	return []*EntityMeta{
		{
			Name: "Author",
			Properties: []*Property{
				{Name: "id", Type: "int", Primary: true},
				{Name: "fullName", Type: "string"},
				{Name: "email", Type: "string", Unique: true},
				{Name: "books", Kind: KindOneToMany, Target: "Book", MappedBy: "author"},
				{Name: "address", Kind: KindEmbedded, Embeddable: "Address"},
				{Name: "bestFriend", Kind: KindManyToOne, Target: "Author", Nullable: true},
				{Name: "followers", Kind: KindManyToMany, Target: "Author"},
			},
		},
		{
			Name: "Book",
			Properties: []*Property{
				{Name: "id", Type: "int", Primary: true},
				{Name: "author", Kind: KindManyToOne, Target: "Author", InversedBy: "books"},
				{Name: "tags", Kind: KindManyToMany, Target: "Tag", InversedBy: "books"},
			},
		},
		{
			Name: "Tag",
			Properties: []*Property{
				{Name: "id", Type: "int", Primary: true},
				{Name: "books", Kind: KindManyToMany, Target: "Book", MappedBy: "tags"},
			},
		},
		{
			Name:       "Address",
			Embeddable: true,
			Properties: []*Property{
				{Name: "street", Type: "string"},
				{Name: "city", Type: "string"},
			},
		},
		{
			Name:                "Animal",
			Abstract:            true,
			DiscriminatorColumn: "type",
			DiscriminatorMap:    map[string]string{"dog": "Dog", "cat": "Cat"},
			Properties: []*Property{
				{Name: "id", Type: "int", Primary: true},
				{Name: "name", Type: "string"},
			},
		},
		{Name: "Dog", Extends: "Animal", Properties: []*Property{{Name: "barks", Type: "bool"}}},
		{Name: "Cat", Extends: "Animal"},
	}
}

func finalized(t *testing.T, metas ...*EntityMeta) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.Add(metas...))
	require.NoError(t, r.Finalize())
	return r
}

// ============================================================================
// Registration
// ============================================================================

func TestRegistry_AddGet(t *testing.T) {
	r := finalized(t, library()...)

	m, err := r.Get("Book")
	require.NoError(t, err)
	assert.Equal(t, "Book", m.Name)

	_, err = r.Get("Nope")
	assert.ErrorIs(t, err, ErrUnknownEntity)
	assert.Nil(t, r.Find("Nope"))

	names := []string{}
	for _, m := range r.All() {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"Author", "Book", "Tag", "Address", "Animal", "Dog", "Cat"}, names)
}

func TestRegistry_DuplicateName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(&EntityMeta{Name: "A"}))
	assert.Error(t, r.Add(&EntityMeta{Name: "A"}))
}

func TestRegistry_AddAfterFinalize(t *testing.T) {
	r := finalized(t, library()...)
	assert.Error(t, r.Add(&EntityMeta{Name: "Late"}))
	assert.NoError(t, r.Finalize(), "finalize is idempotent")
}

// ============================================================================
// Defaults
// ============================================================================

func TestFinalize_StorageNames(t *testing.T) {
	r := finalized(t, library()...)
	author := r.Find("Author")

	assert.Equal(t, "authors", author.Table)
	assert.Equal(t, []string{"full_name"}, author.Property("fullName").FieldNames)
	assert.Equal(t, []string{"best_friend_id"}, author.Property("bestFriend").FieldNames)
	assert.Equal(t, "address_", author.Property("address").Prefix)
	assert.Empty(t, author.Property("books").FieldNames)
}

func TestFinalize_Owners(t *testing.T) {
	r := finalized(t, library()...)

	assert.True(t, r.Find("Book").Property("author").Owner)
	assert.False(t, r.Find("Author").Property("books").Owner)
	assert.True(t, r.Find("Book").Property("tags").Owner)
	assert.False(t, r.Find("Tag").Property("books").Owner)

	assert.Equal(t, ClassToOneOwning, r.Find("Book").Property("author").Class())
	assert.Equal(t, ClassToManyInverse, r.Find("Author").Property("books").Class())
	assert.Equal(t, ClassToManyOwning, r.Find("Book").Property("tags").Class())
}

func TestFinalize_Pivot(t *testing.T) {
	r := finalized(t, library()...)

	owning := r.Find("Book").Property("tags").Pivot
	require.NotNil(t, owning)
	assert.Equal(t, "book_tags", owning.Table)
	assert.Equal(t, []string{"book_id"}, owning.JoinColumns)
	assert.Equal(t, []string{"tag_id"}, owning.InverseJoinColumns)

	inverse := r.Find("Tag").Property("books").Pivot
	require.NotNil(t, inverse)
	assert.Equal(t, "book_tags", inverse.Table)
	assert.Equal(t, []string{"tag_id"}, inverse.JoinColumns)
	assert.Equal(t, []string{"book_id"}, inverse.InverseJoinColumns)
}

func TestFinalize_SelfReferencingPivot(t *testing.T) {
	r := finalized(t, library()...)

	p := r.Find("Author").Property("followers").Pivot
	assert.Equal(t, "author_followers", p.Table)
	assert.Equal(t, []string{"author_1_id"}, p.JoinColumns)
	assert.Equal(t, []string{"author_2_id"}, p.InverseJoinColumns)
}

func TestFinalize_UniqueKeys(t *testing.T) {
	r := finalized(t, library()...)
	assert.Equal(t, [][]string{{"email"}}, r.Find("Author").UniqueKeys)
	assert.Equal(t, []string{"id"}, r.Find("Author").PrimaryKeys)
}

// ============================================================================
// Inheritance
// ============================================================================

func TestFinalize_Inheritance(t *testing.T) {
	r := finalized(t, library()...)
	animal, dog, cat := r.Find("Animal"), r.Find("Dog"), r.Find("Cat")

	assert.Same(t, animal, dog.Root)
	assert.Same(t, animal, dog.Parent())
	assert.Equal(t, "animals", dog.Table)
	assert.Equal(t, []string{"id"}, dog.PrimaryKeys)
	assert.True(t, dog.IsSubtypeOf(animal))
	assert.False(t, animal.IsSubtypeOf(dog))
	assert.ElementsMatch(t, []*EntityMeta{dog, cat}, animal.Children())

	require.NotNil(t, dog.Property("name"), "inherited")
	require.NotNil(t, dog.Property("barks"))
	assert.Nil(t, cat.Property("barks"))
	require.NotNil(t, animal.Property("type"), "discriminator column is declared on the root")
}

func TestFinalize_Discriminator(t *testing.T) {
	r := finalized(t, library()...)

	assert.Equal(t, "dog", r.Find("Dog").DiscriminatorValue)
	assert.Equal(t, []string{"cat", "dog"}, r.Find("Animal").DiscriminatorValues())
	assert.Equal(t, []string{"dog"}, r.Find("Dog").DiscriminatorValues())
	assert.Nil(t, r.Find("Author").DiscriminatorValues())
}

// ============================================================================
// Errors
// ============================================================================

func TestFinalize_Errors(t *testing.T) {
	pk := func() *Property { return &Property{Name: "id", Primary: true} }

	tests := []struct {
		name  string
		metas []*EntityMeta
		want  string
	}{
		{
			name:  "missing primary key",
			metas: []*EntityMeta{{Name: "A", Properties: []*Property{{Name: "x"}}}},
			want:  "has no primary key",
		},
		{
			name: "unknown target",
			metas: []*EntityMeta{{Name: "A", Properties: []*Property{
				pk(), {Name: "b", Kind: KindManyToOne, Target: "B"},
			}}},
			want: "unknown entity",
		},
		{
			name: "one-to-many without mappedBy",
			metas: []*EntityMeta{{Name: "A", Properties: []*Property{
				pk(), {Name: "as", Kind: KindOneToMany, Target: "A"},
			}}},
			want: "requires mappedBy",
		},
		{
			name: "missing mappedBy property",
			metas: []*EntityMeta{{Name: "A", Properties: []*Property{
				pk(), {Name: "as", Kind: KindOneToMany, Target: "A", MappedBy: "parent"},
			}}},
			want: "does not exist",
		},
		{
			name: "inheritance cycle",
			metas: []*EntityMeta{
				{Name: "A", Extends: "B", Properties: []*Property{pk()}},
				{Name: "B", Extends: "A"},
			},
			want: "inheritance cycle",
		},
		{
			name: "redeclared property",
			metas: []*EntityMeta{
				{Name: "A", Properties: []*Property{pk()}},
				{Name: "B", Extends: "A", Properties: []*Property{{Name: "id"}}},
			},
			want: "redeclares",
		},
		{
			name: "embedded non-embeddable",
			metas: []*EntityMeta{
				{Name: "A", Properties: []*Property{pk(), {Name: "b", Kind: KindEmbedded, Embeddable: "A"}}},
			},
			want: "not embeddable",
		},
		{
			name: "discriminator outside hierarchy",
			metas: []*EntityMeta{
				{Name: "A", DiscriminatorColumn: "t", DiscriminatorMap: map[string]string{"b": "B"}, Properties: []*Property{pk()}},
				{Name: "B", Properties: []*Property{pk()}},
			},
			want: "does not extend",
		},
		{
			name: "mappedBy to non m:n",
			metas: []*EntityMeta{{Name: "A", Properties: []*Property{
				pk(),
				{Name: "parent", Kind: KindManyToOne, Target: "A"},
				{Name: "peers", Kind: KindManyToMany, Target: "A", MappedBy: "parent"},
			}}},
			want: "not an owning m:n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			require.NoError(t, r.Add(tt.metas...))
			err := r.Finalize()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.False(t, r.Finalized())
		})
	}
}
