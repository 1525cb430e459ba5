// Package harness runs YAML scenarios against the runtime core and records
// what each step observed.
//
// A scenario seeds a fresh SQLite database, opens one session over it and
// executes steps in order: finders bind their results to names, and later
// steps address entities, references and collections through paths rooted
// at those names. The resulting trace is compared against golden files and
// checked by assertions.
//
// # Scenario Format
//
//	name: collections
//	description: "Adding to and removing from an initialized m:n collection"
//	steps:
//	  - find: Book
//	    where: { id: 10 }
//	    as: book
//	  - find: Tag
//	    where: { name: fantasy }
//	    as: fantasy
//	  - init: book.tags
//	  - add: book.tags
//	    items: ["$fantasy"]
//	  - remove: book.tags
//	    items: [1]
//	  - export: book[0]
//	    populate: [tags]
//	  - remove: book.chapters
//	    items: [100]
//	    expect_error: UNINITIALIZED_COLLECTION
//	assertions:
//	  - type: trace_contains
//	    op: remove
//	    target: book.chapters
//	    error: UNINITIALIZED_COLLECTION
//	  - type: entity_state
//	    path: book
//	    expect: { tags: [3, 2] }
//
// Without schema, ddl and seed the built-in bookstore model and rows are
// used.
//
// # Paths
//
// "book" is the first result of the find bound as book ("book[1]" the
// second). Every further segment follows a to-one relation, except the last
// which names the property a step operates on. Export of a bare binding
// serializes every result. Items and values written "$path" resolve to
// bound entities; anything else is passed to the runtime as is.
//
// # Assertion Types
//
//   - trace_contains: a step with op and target ran (and failed with error)
//   - trace_order: "op target" labels appear in the given order
//   - trace_count: op (on target) ran exactly count times
//   - entity_state: properties of a bound entity, relations by key
//   - final_state: a table row has the expected column values
//
// # Deterministic Testing
//
// Steps are numbered, generated keys come from a sequential generator and
// every query orders by primary key, so a scenario always produces the same
// trace. Traces are written with ir.MarshalCanonical for golden comparison.
package harness
