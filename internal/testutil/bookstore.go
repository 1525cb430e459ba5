package testutil

import (
	"testing"

	"github.com/roach88/ormcore/internal/meta"
	"github.com/roach88/ormcore/internal/types"
)

// BookstoreMetas returns fresh, unfinalized descriptors of the bookstore
// model shared by the tests:
//
//	Author   1:m Book (author), 1:1 Profile (inverse), m:1 Author (bestFriend),
//	         m:1 Book (favoriteBook), flattened Address, hidden password
//	Book     m:1 Author, m:1 Publisher, m:n Tag (owning, book_tags),
//	         1:m Chapter (orphan removal), json meta, titleLength formula
//	Tag      m:n Book (inverse)
//	Chapter  m:1 Book (non-null)
//	Profile  1:1 Author (owning), generated uuid key
//	Animal   abstract, single-table: Dog ("dog"), Cat ("cat")
//	Stock    composite key (storeId, sku)
func BookstoreMetas() []*meta.EntityMeta {
	return []*meta.EntityMeta{
		{
			Name: "Author",
			Properties: []*meta.Property{
				{Name: "id", Type: "int", Primary: true},
				{Name: "name", Type: "string"},
				{Name: "email", Type: "string", Unique: true, Nullable: true},
				{Name: "born", Type: "date", Nullable: true},
				{Name: "termsAccepted", Type: "bool", CustomType: types.MustLookup("boolint")},
				{Name: "address", Kind: meta.KindEmbedded, Embeddable: "Address", Nullable: true},
				{Name: "password", Type: "string", Hidden: true, Nullable: true},
				{Name: "books", Kind: meta.KindOneToMany, Target: "Book", MappedBy: "author"},
				{Name: "profile", Kind: meta.KindOneToOne, Target: "Profile", MappedBy: "author"},
				{Name: "favoriteBook", Kind: meta.KindManyToOne, Target: "Book", Nullable: true},
				{Name: "bestFriend", Kind: meta.KindManyToOne, Target: "Author", Nullable: true},
			},
			ConstructorParams: []string{"name", "email"},
			Constructor: func(params map[string]any) map[string]any {
				return map[string]any{
					"name":          params["name"],
					"email":         params["email"],
					"termsAccepted": false,
				}
			},
		},
		{
			Name: "Book",
			Properties: []*meta.Property{
				{Name: "id", Type: "int", Primary: true},
				{Name: "title", Type: "string"},
				{Name: "price", Type: "float", Nullable: true},
				{Name: "meta", Type: "json", CustomType: types.MustLookup("json"), Nullable: true},
				{Name: "titleLength", Type: "int", Formula: "length(alias.title)"},
				{Name: "author", Kind: meta.KindManyToOne, Target: "Author", InversedBy: "books"},
				{Name: "publisher", Kind: meta.KindManyToOne, Target: "Publisher", InversedBy: "books", Nullable: true},
				{Name: "tags", Kind: meta.KindManyToMany, Target: "Tag", InversedBy: "books"},
				{Name: "chapters", Kind: meta.KindOneToMany, Target: "Chapter", MappedBy: "book", OrphanRemoval: true},
			},
		},
		{
			Name: "Tag",
			Properties: []*meta.Property{
				{Name: "id", Type: "int", Primary: true},
				{Name: "name", Type: "string"},
				{Name: "books", Kind: meta.KindManyToMany, Target: "Book", MappedBy: "tags"},
			},
		},
		{
			Name: "Publisher",
			Properties: []*meta.Property{
				{Name: "id", Type: "int", Primary: true},
				{Name: "name", Type: "string"},
				{Name: "books", Kind: meta.KindOneToMany, Target: "Book", MappedBy: "publisher"},
			},
		},
		{
			Name: "Chapter",
			Properties: []*meta.Property{
				{Name: "id", Type: "int", Primary: true},
				{Name: "title", Type: "string"},
				{Name: "book", Kind: meta.KindManyToOne, Target: "Book", InversedBy: "chapters"},
			},
		},
		{
			Name: "Profile",
			Properties: []*meta.Property{
				{Name: "id", Type: "uuid", Primary: true, Generated: "uuid", CustomType: types.MustLookup("uuid")},
				{Name: "bio", Type: "string", Nullable: true},
				{Name: "author", Kind: meta.KindOneToOne, Target: "Author", InversedBy: "profile"},
			},
		},
		{
			Name:       "Address",
			Embeddable: true,
			Properties: []*meta.Property{
				{Name: "street", Type: "string", Nullable: true},
				{Name: "city", Type: "string", Nullable: true},
			},
		},
		{
			Name:                "Animal",
			Abstract:            true,
			DiscriminatorColumn: "type",
			DiscriminatorMap:    map[string]string{"dog": "Dog", "cat": "Cat"},
			Properties: []*meta.Property{
				{Name: "id", Type: "int", Primary: true},
				{Name: "name", Type: "string"},
				{Name: "type", Type: "string"},
				{Name: "owner", Kind: meta.KindManyToOne, Target: "Author", Nullable: true},
			},
		},
		{
			Name:       "Dog",
			Extends:    "Animal",
			Properties: []*meta.Property{{Name: "barks", Type: "bool", Nullable: true}},
		},
		{
			Name:       "Cat",
			Extends:    "Animal",
			Properties: []*meta.Property{{Name: "lives", Type: "int", Nullable: true}},
		},
		{
			Name:        "Stock",
			PrimaryKeys: []string{"storeId", "sku"},
			Properties: []*meta.Property{
				{Name: "storeId", Type: "int"},
				{Name: "sku", Type: "string"},
				{Name: "quantity", Type: "int"},
			},
		},
	}
}

// NewBookstore returns the finalized bookstore registry.
func NewBookstore() (*meta.Registry, error) {
	r := meta.NewRegistry()
	if err := r.Add(BookstoreMetas()...); err != nil {
		return nil, err
	}
	if err := r.Finalize(); err != nil {
		return nil, err
	}
	return r, nil
}

// Bookstore is NewBookstore for tests.
func Bookstore(t testing.TB) *meta.Registry {
	t.Helper()
	r, err := NewBookstore()
	if err != nil {
		t.Fatalf("bookstore registry: %v", err)
	}
	return r
}

// BookstoreDDL creates the bookstore tables. It is valid SQLite; the MySQL
// facade tests run it on an SQLite connection too.
const BookstoreDDL = `
CREATE TABLE authors (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT UNIQUE,
	born DATE,
	terms_accepted INTEGER NOT NULL DEFAULT 0,
	address_street TEXT,
	address_city TEXT,
	password TEXT,
	favorite_book_id INTEGER,
	best_friend_id INTEGER
);
CREATE TABLE publishers (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE TABLE books (
	id INTEGER PRIMARY KEY,
	title TEXT NOT NULL,
	price REAL,
	meta TEXT,
	author_id INTEGER NOT NULL REFERENCES authors(id),
	publisher_id INTEGER REFERENCES publishers(id)
);
CREATE TABLE tags (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE TABLE book_tags (
	book_id INTEGER NOT NULL REFERENCES books(id),
	tag_id INTEGER NOT NULL REFERENCES tags(id),
	PRIMARY KEY (book_id, tag_id)
);
CREATE TABLE chapters (
	id INTEGER PRIMARY KEY,
	title TEXT NOT NULL,
	book_id INTEGER NOT NULL REFERENCES books(id)
);
CREATE TABLE profiles (
	id TEXT PRIMARY KEY,
	bio TEXT,
	author_id INTEGER NOT NULL UNIQUE REFERENCES authors(id)
);
CREATE TABLE animals (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	barks INTEGER,
	lives INTEGER,
	owner_id INTEGER REFERENCES authors(id)
);
CREATE TABLE stocks (
	store_id INTEGER NOT NULL,
	sku TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	PRIMARY KEY (store_id, sku)
);
`

// BookstoreSeed inserts a small, fixed data set:
//
//	authors 1 Ursula, 2 Frank (best friends of each other)
//	books   10, 11 by Ursula; 12 by Frank
//	tags    10: sf, classic; 11: fantasy; 12: sf, classic
//	chapter 100, 101 of book 10; 110 of book 11
//	profile of Ursula; animals Rex (dog), Tom (cat); three stock rows
const BookstoreSeed = `
INSERT INTO authors (id, name, email, born, terms_accepted, address_street, address_city, best_friend_id) VALUES
	(1, 'Ursula', 'ursula@example.com', '1929-10-21', 1, '1 Earthsea Way', 'Portland', 2),
	(2, 'Frank', 'frank@example.com', '1920-10-08', 0, NULL, NULL, 1);
INSERT INTO publishers (id, name) VALUES (1, 'Ace');
INSERT INTO books (id, title, price, meta, author_id, publisher_id) VALUES
	(10, 'The Dispossessed', 9.5, '{"pages":387}', 1, 1),
	(11, 'A Wizard of Earthsea', 7.25, NULL, 1, NULL),
	(12, 'Dune', 11, '{"series":"Dune","pages":412}', 2, 1);
INSERT INTO tags (id, name) VALUES (1, 'sf'), (2, 'fantasy'), (3, 'classic');
INSERT INTO book_tags (book_id, tag_id) VALUES (10, 1), (10, 3), (11, 2), (12, 1), (12, 3);
INSERT INTO chapters (id, title, book_id) VALUES (100, 'Anarres', 10), (101, 'Urras', 10), (110, 'Warriors in the Mist', 11);
INSERT INTO profiles (id, bio, author_id) VALUES ('0190a3c4-8a4f-7c1e-9d2b-3f4e5a6b7c8d', 'Wrote Earthsea', 1);
INSERT INTO animals (id, name, type, barks, lives, owner_id) VALUES (1, 'Rex', 'dog', 1, NULL, 1), (2, 'Tom', 'cat', NULL, 9, 2);
INSERT INTO stocks (store_id, sku, quantity) VALUES (1, 'sku-1', 5), (1, 'sku-2', 0), (2, 'sku-1', 3);
`
