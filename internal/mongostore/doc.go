// Package mongostore is the MongoDB query facade
// (go.mongodb.org/mongo-driver/v2).
//
// Each entity type maps to the collection named by its Table. A single
// primary key is stored as _id; composite keys, scalars and owning to-one
// relations use their column names as document fields. Owning many-to-many
// relations store the target keys inline as an array under the property
// name, so there is no join table: UsesPivotTable is false and the runtime
// loads many-to-many collections with ordinary finds.
//
// Filters are compiled from queryir predicates to bson.D documents. Formula
// properties have no document equivalent and are rejected.
package mongostore
