// Package serialize exports entity graphs to plain data.
//
// A walk starts at one entity or a list of them and emits map[string]any per
// entity. Relations are expanded when the caller asks for them (populate
// paths such as "books.tags", or everything) and the related data is
// already in memory; the walk never loads anything. Everything not expanded
// renders as its primary key.
//
// # Cycles
//
// Bidirectional relations make most graphs cyclic. Two rules keep the
// output finite:
//
//   - Path: each expansion pushes (type, property). A pair already on the
//     path stops the descent, unless the populate paths spell out the exact
//     property path, which lets a caller ask for bestFriend.bestFriend.
//   - Visited: an instance already expanded once renders as its key when
//     reached again. ToObject skips this rule.
//
// The walk's Context is attached to every instance it reaches and detached
// when the top-level call returns, so exports started from inside a walk
// share its bookkeeping.
package serialize
