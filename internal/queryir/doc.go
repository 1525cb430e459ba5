// Package queryir is the portable query representation used by lazy loads.
//
// The runtime core never writes SQL or BSON. Collection.Init, Reference.Load
// and the Session finders describe what they need as a queryir.Query over
// entity properties (not columns); each driver compiles it for its backend:
//
//	[entity runtime] → [queryir] → [querysql: SQLite, MySQL]
//	                             → [mongostore: BSON filters]
//
// FRAGMENT:
//
// The fragment is deliberately small:
//   - Select(from, filter, order, limit, offset) over one entity type
//   - PivotSelect(relation, owners, filter, order) for many-to-many loads
//     through a join table
//   - Predicates: Equals, In, IsNull, And, Or
//
// Fields name properties of the selected type. Scalars and owning to-one
// relations are queryable; a to-one value is the target's primary key
// ([]any for composite keys). Formula properties are queryable on SQL
// backends only, and PivotSelect needs a driver with join tables; Validate
// reports both as portability warnings.
//
// SEALED INTERFACES:
//
// Query and Predicate are sealed with marker methods so drivers can switch
// over them exhaustively:
//
//	switch p := pred.(type) {
//	case Equals:
//	case In:
//	case IsNull:
//	case And:
//	case Or:
//	}
package queryir
